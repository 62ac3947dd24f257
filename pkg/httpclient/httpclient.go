// Package httpclient builds the outbound HTTP clients used to reach
// downstream dependencies, with optional SOCKS5 or HTTP/HTTPS proxying.
package httpclient

import (
	"fmt"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/net/proxy"
)

// New creates an HTTP client for one dependency. proxyURL may be empty
// (direct connection), a socks5:// address, or an http(s):// address.
// The client carries no timeout of its own: attempt deadlines come from
// the per-call context so the invoker stays the single source of truth
// for timing.
func New(proxyURL string) (*http.Client, error) {
	if proxyURL == "" {
		return &http.Client{
			Transport: defaultTransport(),
		}, nil
	}

	parsed, err := url.Parse(proxyURL)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy URL: %w", err)
	}

	switch parsed.Scheme {
	case "socks5":
		return newSOCKS5Client(parsed)
	case "http", "https":
		return newHTTPProxyClient(parsed)
	default:
		return nil, fmt.Errorf("unsupported proxy scheme: %s", parsed.Scheme)
	}
}

func defaultTransport() *http.Transport {
	return &http.Transport{
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
}

func newSOCKS5Client(proxyURL *url.URL) (*http.Client, error) {
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
		return nil, fmt.Errorf("failed to create SOCKS5 dialer: %w", err)
	}

	transport := defaultTransport()
	transport.Dial = dialer.Dial

	return &http.Client{Transport: transport}, nil
}

func newHTTPProxyClient(proxyURL *url.URL) (*http.Client, error) {
	transport := defaultTransport()
	transport.Proxy = http.ProxyURL(proxyURL)

	return &http.Client{Transport: transport}, nil
}
