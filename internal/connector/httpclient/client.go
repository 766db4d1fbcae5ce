// Package httpclient implements the REST-client connector described in
// SPEC_FULL.md §4.5.3: a pooled, TLS-verifying HTTP client with JSON-first
// response parsing and a configurable raise-on-error policy.
package httpclient

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/dispatchkit/dispatch/internal/apperr"
)

// Config mirrors spec.md §3's REST-client connection data: (base_url,
// timeout, default_headers, tls_verify, ca_bundle_path).
type Config struct {
	BaseURL        string
	Timeout        time.Duration
	DefaultHeaders map[string]string

	// TLSVerify defaults to true: nil means "unset"; point it at a false
	// value to turn certificate verification off.
	TLSVerify    *bool
	CABundlePath string

	// RaiseOnError defaults to true, per spec.md §4.5.3.
	RaiseOnError *bool
}

func (c Config) tlsVerify() bool {
	if c.TLSVerify == nil {
		return true
	}
	return *c.TLSVerify
}

func (c Config) raiseOnError() bool {
	if c.RaiseOnError == nil {
		return true
	}
	return *c.RaiseOnError
}

// Client is a pooled REST-client connector: one *http.Client, one
// *http.Transport, shared across every call.
type Client struct {
	cfg     Config
	http    *http.Client
	baseURL *url.URL
}

// New builds a Client, loading the configured CA bundle (if any) into the
// transport's TLS config. An unreadable CA bundle is a startup-time error,
// not a lazy one: the connector has nothing useful to defer here.
func New(cfg Config) (*Client, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, apperr.New(apperr.KindInternal, fmt.Sprintf("httpclient: invalid base_url %q", cfg.BaseURL))
	}

	tlsConfig := &tls.Config{InsecureSkipVerify: !cfg.tlsVerify()} //nolint:gosec // explicit opt-out, mirrors spec.md's tls_verify flag

	if cfg.CABundlePath != "" {
		pem, err := os.ReadFile(cfg.CABundlePath)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindInternal, "httpclient: read CA bundle", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, apperr.New(apperr.KindInternal, fmt.Sprintf("httpclient: no certificates found in %q", cfg.CABundlePath))
		}
		tlsConfig.RootCAs = pool
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	transport := &http.Transport{
		TLSClientConfig:     tlsConfig,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}

	return &Client{
		cfg:     cfg,
		baseURL: base,
		http:    &http.Client{Transport: transport, Timeout: timeout},
	}, nil
}

// Response is the parsed result of a REST call. Per spec.md §4.5.3,
// parsing always attempts JSON first, regardless of the response's
// Content-Type, falling back to the raw text on failure.
type Response struct {
	StatusCode int
	Headers    http.Header
	Raw        []byte

	IsJSON bool
	JSON   any
	Text   string
}

// RequestOption configures one call's headers, query, and JSON body.
type RequestOption func(*requestSpec)

type requestSpec struct {
	headers map[string]string
	query   url.Values
	body    any
}

// WithHeader adds a per-call header, on top of the connector's default
// headers.
func WithHeader(key, value string) RequestOption {
	return func(s *requestSpec) {
		if s.headers == nil {
			s.headers = map[string]string{}
		}
		s.headers[key] = value
	}
}

// WithQuery sets the query string for this call.
func WithQuery(q url.Values) RequestOption {
	return func(s *requestSpec) { s.query = q }
}

// WithJSONBody sets a value to be JSON-marshaled as the request body.
func WithJSONBody(v any) RequestOption {
	return func(s *requestSpec) { s.body = v }
}

func (c *Client) Get(ctx context.Context, path string, opts ...RequestOption) (*Response, error) {
	return c.do(ctx, http.MethodGet, path, opts...)
}

func (c *Client) Post(ctx context.Context, path string, opts ...RequestOption) (*Response, error) {
	return c.do(ctx, http.MethodPost, path, opts...)
}

func (c *Client) Put(ctx context.Context, path string, opts ...RequestOption) (*Response, error) {
	return c.do(ctx, http.MethodPut, path, opts...)
}

func (c *Client) Patch(ctx context.Context, path string, opts ...RequestOption) (*Response, error) {
	return c.do(ctx, http.MethodPatch, path, opts...)
}

func (c *Client) Delete(ctx context.Context, path string, opts ...RequestOption) (*Response, error) {
	return c.do(ctx, http.MethodDelete, path, opts...)
}

func (c *Client) do(ctx context.Context, method, path string, opts ...RequestOption) (*Response, error) {
	spec := &requestSpec{}
	for _, opt := range opts {
		opt(spec)
	}

	target := *c.baseURL
	target.Path = joinPath(c.baseURL.Path, path)
	if spec.query != nil {
		target.RawQuery = spec.query.Encode()
	}

	var bodyReader io.Reader
	if spec.body != nil {
		encoded, err := json.Marshal(spec.body)
		if err != nil {
			return nil, apperr.Internal(err)
		}
		bodyReader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, target.String(), bodyReader)
	if err != nil {
		return nil, apperr.ConnectorIO("httpclient", err)
	}
	for k, v := range c.cfg.DefaultHeaders {
		req.Header.Set(k, v)
	}
	for k, v := range spec.headers {
		req.Header.Set(k, v)
	}
	if spec.body != nil {
		req.Header.Set("Content-Type", "application/json; charset=utf-8")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, apperr.ConnectorIO("httpclient", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperr.ConnectorIO("httpclient", err)
	}

	result := parseResponse(resp.StatusCode, resp.Header, raw)

	if c.cfg.raiseOnError() && resp.StatusCode >= 400 {
		return result, apperr.New(apperr.KindConnectorIO, fmt.Sprintf("httpclient: %s %s returned %d", method, path, resp.StatusCode))
	}
	return result, nil
}

// parseResponse tries JSON first, per spec.md §4.5.3, regardless of the
// declared Content-Type, and falls back to plain text.
func parseResponse(status int, headers http.Header, raw []byte) *Response {
	result := &Response{StatusCode: status, Headers: headers, Raw: raw}

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 {
		var v any
		if err := json.Unmarshal(trimmed, &v); err == nil {
			result.IsJSON = true
			result.JSON = v
			return result
		}
	}
	result.Text = string(raw)
	return result
}

func joinPath(base, path string) string {
	if path == "" {
		return base
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}
