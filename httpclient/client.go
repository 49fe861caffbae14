// Package httpclient is a retrying HTTP client for the Anthropic API.
package httpclient

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/bazelment/yoloswe/agentcore/retry"
)

const userAgent = "agentcore-go/0.1"

// Client sends requests through one shared connection pool.
type Client struct {
	http   *http.Client
	logger zerolog.Logger
	policy retry.Policy
	cfg    Config
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// WithRetryPolicy sets the backoff schedule. Its MaxRetries is replaced by
// Config.MaxRetries unless a request overrides it.
func WithRetryPolicy(p retry.Policy) Option {
	return func(c *Client) {
		c.policy = p
	}
}

// New validates cfg and builds a Client.
func New(cfg Config, opts ...Option) (*Client, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = DefaultAPIVersion
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Client{
		cfg:    cfg,
		logger: zerolog.Nop(),
		policy: retry.DefaultPolicy(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.policy.MaxRetries = cfg.MaxRetries

	if c.http == nil {
		tr, err := newTransport(cfg)
		if err != nil {
			return nil, err
		}
		// Per-request timeouts are applied through the context.
		c.http = &http.Client{Transport: tr}
	}
	return c, nil
}

func newTransport(cfg Config) (*http.Transport, error) {
	pool := cfg.Pool
	def := DefaultConfig().Pool
	if pool.MaxIdlePerHost <= 0 {
		pool.MaxIdlePerHost = def.MaxIdlePerHost
	}
	if pool.IdleTimeout <= 0 {
		pool.IdleTimeout = def.IdleTimeout
	}
	if pool.KeepAlive <= 0 {
		pool.KeepAlive = def.KeepAlive
	}

	proxy := http.ProxyFromEnvironment
	if cfg.Proxy != "" {
		u, err := url.Parse(cfg.Proxy)
		if err != nil {
			return nil, fmt.Errorf("httpclient: invalid proxy URL %q: %w", cfg.Proxy, err)
		}
		proxy = http.ProxyURL(u)
	}

	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: pool.KeepAlive,
	}
	return &http.Transport{
		Proxy:                 proxy,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   pool.MaxIdlePerHost,
		IdleConnTimeout:       pool.IdleTimeout,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}, nil
}

// Config returns the effective configuration.
func (c *Client) Config() Config {
	return c.cfg
}

// NewRequest starts a request to path (relative to the base URL) carrying
// auth, version and default headers.
func (c *Client) NewRequest(method, path string) *RequestBuilder {
	b := &RequestBuilder{
		client:     c,
		method:     strings.ToUpper(method),
		url:        c.cfg.BaseURL + "/" + strings.TrimLeft(path, "/"),
		header:     make(http.Header),
		timeout:    c.cfg.Timeout,
		maxRetries: -1,
		policy:     c.policy,
	}
	if !validMethod(b.method) {
		b.err = fmt.Errorf("%w: %q", ErrInvalidMethod, method)
	}

	b.header.Set("anthropic-version", c.cfg.APIVersion)
	b.header.Set("user-agent", userAgent)
	if c.cfg.APIKey != "" {
		b.header.Set("x-api-key", c.cfg.APIKey)
	} else if c.cfg.AuthToken != "" {
		b.header.Set("authorization", "Bearer "+c.cfg.AuthToken)
	}
	for k, v := range c.cfg.DefaultHeaders {
		b.header.Set(k, v)
	}
	return b
}

func validMethod(m string) bool {
	switch m {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete,
		http.MethodPatch, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}
