// Package licensing talks to the remote license server and keeps seat
// counts in sync with organization membership.
package licensing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/sarvex/infisical/internal/httpclient"
	"github.com/sarvex/infisical/internal/metrics"
)

// apiKeyHeader authenticates every request to the license server. It
// carries the service key when issuing keys and the license key itself
// for all per-license operations.
const apiKeyHeader = "X-API-KEY"

// GatewayError describes a failed license server exchange.
type GatewayError struct {
	Operation  string
	StatusCode int
	Body       string
}

func (e *GatewayError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("license server %s: %s", e.Operation, e.Body)
	}
	return fmt.Sprintf("license server %s: status %d: %s", e.Operation, e.StatusCode, e.Body)
}

// KeyGrant is the license server's response to issuing a new key.
type KeyGrant struct {
	LicenseKey string
	Metadata   map[string]any
}

// Gateway is a stateless client for the license server API.
type Gateway struct {
	baseURL    string
	serviceKey string
	client     *http.Client
	logger     zerolog.Logger
	metrics    *metrics.Metrics
}

// GatewayOptions configures a Gateway.
type GatewayOptions struct {
	BaseURL    string
	ServiceKey string
	// ProxyURL optionally routes license server traffic through a
	// SOCKS5 or HTTP proxy.
	ProxyURL string
	Timeout  time.Duration
	Logger   zerolog.Logger
	Metrics  *metrics.Metrics
}

// NewGateway creates a license server client.
func NewGateway(opts GatewayOptions) (*Gateway, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("license server URL is required")
	}
	if opts.ServiceKey == "" {
		return nil, fmt.Errorf("license server key is required")
	}

	client, err := httpclient.New(httpclient.Options{
		Timeout:  opts.Timeout,
		ProxyURL: opts.ProxyURL,
	})
	if err != nil {
		return nil, fmt.Errorf("create HTTP client: %w", err)
	}

	logger := opts.Logger.With().Str("component", "license_gateway").Logger()
	if opts.ProxyURL != "" {
		logger.Info().
			Str("proxy", httpclient.MaskProxyURL(opts.ProxyURL)).
			Msg("license server traffic routed through proxy")
	}

	return &Gateway{
		baseURL:    opts.BaseURL,
		serviceKey: opts.ServiceKey,
		client:     client,
		logger:     logger,
		metrics:    opts.Metrics,
	}, nil
}

// IssueLicenseKey asks the license server to mint a new license key.
// The service key authenticates the request.
func (g *Gateway) IssueLicenseKey(ctx context.Context, email, description string) (*KeyGrant, error) {
	body := map[string]string{
		"email":       email,
		"description": description,
	}

	payload, err := g.request(ctx, "issue_key", http.MethodPost, "/api/v1/license-key", g.serviceKey, body)
	if err != nil {
		return nil, err
	}

	key, ok := payload["licenseKey"].(string)
	if !ok || key == "" {
		return nil, &GatewayError{Operation: "issue_key", Body: "response missing licenseKey"}
	}
	delete(payload, "licenseKey")

	return &KeyGrant{LicenseKey: key, Metadata: payload}, nil
}

// FetchLicenseInfo retrieves the metadata the license server holds for
// a key. The license key itself authenticates the request.
func (g *Gateway) FetchLicenseInfo(ctx context.Context, licenseKey string) (map[string]any, error) {
	return g.request(ctx, "fetch_info", http.MethodGet, "/api/v1/license-key", licenseKey, nil)
}

// UpdateSeatCount reports the organization's current seat usage to the
// license server.
func (g *Gateway) UpdateSeatCount(ctx context.Context, licenseKey string, seats int) error {
	body := map[string]int{"seats": seats}
	_, err := g.request(ctx, "update_seats", http.MethodPatch, "/api/v1/license-key/seats", licenseKey, body)
	return err
}

// request performs one exchange with the license server and decodes the
// JSON response body into a map.
func (g *Gateway) request(ctx context.Context, operation, method, path, apiKey string, body any) (map[string]any, error) {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set(apiKeyHeader, apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.client.Do(req)
	if err != nil {
		g.observe(operation, "error")
		return nil, &GatewayError{Operation: operation, Body: err.Error()}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		g.observe(operation, "error")
		return nil, &GatewayError{Operation: operation, StatusCode: resp.StatusCode, Body: err.Error()}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		g.observe(operation, "error")
		g.logger.Warn().
			Str("operation", operation).
			Int("status", resp.StatusCode).
			Msg("license server request failed")
		return nil, &GatewayError{Operation: operation, StatusCode: resp.StatusCode, Body: string(data)}
	}

	payload := map[string]any{}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &payload); err != nil {
			g.observe(operation, "error")
			return nil, &GatewayError{Operation: operation, StatusCode: resp.StatusCode, Body: "invalid JSON response"}
		}
	}

	g.observe(operation, "success")
	return payload, nil
}

func (g *Gateway) observe(operation, outcome string) {
	if g.metrics != nil {
		g.metrics.GatewayRequests.WithLabelValues(operation, outcome).Inc()
	}
}
