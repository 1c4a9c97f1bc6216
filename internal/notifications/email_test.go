package notifications

import (
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/sarvex/infisical/internal/config"
)

func TestNewEmailService_ValidConfig(t *testing.T) {
	cfg := config.SMTPConfig{
		Host: "smtp.example.com",
		Port: 587,
		From: "noreply@example.com",
	}

	svc, err := NewEmailService(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if svc == nil {
		t.Fatal("expected non-nil service")
	}
}

func TestNewEmailService_InvalidConfig_MissingHost(t *testing.T) {
	cfg := config.SMTPConfig{
		Port: 587,
		From: "noreply@example.com",
	}

	_, err := NewEmailService(cfg, zerolog.Nop())
	if err == nil {
		t.Fatal("expected error for missing host")
	}
	if !strings.Contains(err.Error(), "smtp host is required") {
		t.Errorf("expected host required error, got: %v", err)
	}
}

func TestNewLicenseKeyTemplate(t *testing.T) {
	cfg := config.SMTPConfig{
		Host: "smtp.example.com",
		Port: 587,
		From: "noreply@example.com",
	}
	svc, err := NewEmailService(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var body strings.Builder
	err = svc.templates.ExecuteTemplate(&body, "new_license_key.html", NewLicenseKeyData{
		LicenseKey:       "lk_template_test",
		OrganizationName: "Acme Corp",
	})
	if err != nil {
		t.Fatalf("execute template: %v", err)
	}

	if !strings.Contains(body.String(), "lk_template_test") {
		t.Error("expected rendered body to contain the license key")
	}
	if !strings.Contains(body.String(), "Acme Corp") {
		t.Error("expected rendered body to contain the organization name")
	}
}

func TestOrganizationInviteTemplate(t *testing.T) {
	cfg := config.SMTPConfig{
		Host: "smtp.example.com",
		Port: 587,
		From: "noreply@example.com",
	}
	svc, err := NewEmailService(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var body strings.Builder
	err = svc.templates.ExecuteTemplate(&body, "organization_invite.html", InviteData{
		OrganizationName: "Acme Corp",
		InviterName:      "Jordan",
	})
	if err != nil {
		t.Fatalf("execute template: %v", err)
	}
	if !strings.Contains(body.String(), "Jordan") {
		t.Error("expected rendered body to contain the inviter name")
	}
}

func TestBuildMessage(t *testing.T) {
	cfg := config.SMTPConfig{
		Host: "smtp.example.com",
		Port: 587,
		From: "noreply@example.com",
	}
	svc, err := NewEmailService(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	msg := string(svc.buildMessage([]string{"user@example.com"}, "Hello", "<p>hi</p>"))
	for _, want := range []string{
		"From: noreply@example.com",
		"To: user@example.com",
		"Subject: Hello",
		"Content-Type: text/html",
		"<p>hi</p>",
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("message missing %q", want)
		}
	}
}
