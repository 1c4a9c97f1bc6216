package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// SMTPConfig holds SMTP server configuration for outbound notification email.
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
	TLS      bool   `yaml:"tls"`
}

// Validate checks if the SMTP configuration is valid.
func (c *SMTPConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("smtp host is required")
	}
	if c.Port == 0 {
		return fmt.Errorf("smtp port is required")
	}
	if c.From == "" {
		return fmt.Errorf("smtp from address is required")
	}
	return nil
}

// Configured reports whether enough SMTP settings are present to send mail.
func (c *SMTPConfig) Configured() bool {
	return c != nil && c.Host != ""
}

// LoadSMTPConfig reads SMTP settings from SMTP_CONFIG_FILE (YAML) when set,
// falling back to individual environment variables.
func LoadSMTPConfig() (*SMTPConfig, error) {
	if path := os.Getenv("SMTP_CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read smtp config file: %w", err)
		}
		var cfg SMTPConfig
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse smtp config file: %w", err)
		}
		return &cfg, nil
	}

	return &SMTPConfig{
		Host:     os.Getenv("SMTP_HOST"),
		Port:     getEnvInt("SMTP_PORT", 587),
		Username: os.Getenv("SMTP_USERNAME"),
		Password: os.Getenv("SMTP_PASSWORD"),
		From:     os.Getenv("SMTP_FROM"),
		TLS:      getEnvBool("SMTP_TLS", true),
	}, nil
}
