// Package httpclient provides HTTP client utilities with proxy support.
package httpclient

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/proxy"
)

// DefaultTimeout is the default HTTP client timeout.
const DefaultTimeout = 30 * time.Second

// Options configures the HTTP client.
type Options struct {
	// Timeout for HTTP requests (default: 30s)
	Timeout time.Duration
	// ProxyURL routes outbound requests through a proxy. Supports
	// socks5://, http:// and https:// schemes. Empty means direct.
	ProxyURL string
}

// New creates a new HTTP client with optional proxy support.
func New(opts Options) (*http.Client, error) {
	if opts.Timeout == 0 {
		opts.Timeout = DefaultTimeout
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	if opts.ProxyURL != "" {
		if err := configureProxy(transport, opts.ProxyURL); err != nil {
			return nil, fmt.Errorf("configure proxy: %w", err)
		}
	}

	return &http.Client{
		Timeout:   opts.Timeout,
		Transport: transport,
	}, nil
}

// NewSimple creates a simple HTTP client with timeout and no proxy.
func NewSimple(timeout time.Duration) *http.Client {
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	return &http.Client{Timeout: timeout}
}

// configureProxy sets up proxy configuration on the transport.
func configureProxy(transport *http.Transport, rawURL string) error {
	proxyURL, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parse proxy URL: %w", err)
	}

	switch proxyURL.Scheme {
	case "socks5":
		return configureSocks5Proxy(transport, proxyURL)
	case "http", "https":
		transport.Proxy = http.ProxyURL(proxyURL)
		return nil
	default:
		return fmt.Errorf("unsupported proxy scheme %q", proxyURL.Scheme)
	}
}

// configureSocks5Proxy sets up a SOCKS5 proxy dialer.
func configureSocks5Proxy(transport *http.Transport, proxyURL *url.URL) error {
	// Extract auth if present
	var auth *proxy.Auth
	if proxyURL.User != nil {
		password, _ := proxyURL.User.Password()
		auth = &proxy.Auth{
			User:     proxyURL.User.Username(),
			Password: password,
		}
	}

	dialer, err := proxy.SOCKS5("tcp", proxyURL.Host, auth, proxy.Direct)
	if err != nil {
		return fmt.Errorf("create SOCKS5 dialer: %w", err)
	}

	// Wrap the dialer to implement DialContext
	transport.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
		return dialer.Dial(network, addr)
	}

	return nil
}

// MaskProxyURL masks credentials in a proxy URL for display. The
// masked string is assembled by hand; setting a literal mask through
// url.UserPassword would percent-encode it on re-serialization.
func MaskProxyURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.User == nil || u.Scheme == "" {
		return rawURL
	}

	userinfo := u.User.Username()
	if _, hasPass := u.User.Password(); hasPass {
		userinfo += ":****"
	}

	stripped := *u
	stripped.User = nil
	rest := strings.TrimPrefix(stripped.String(), u.Scheme+"://")
	return u.Scheme + "://" + userinfo + "@" + rest
}
