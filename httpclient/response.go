package httpclient

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Response is a fully read HTTP response.
type Response struct {
	Header    http.Header
	RateLimit *RateLimit
	Body      []byte
	Status    int
	// RetriesTaken counts attempts after the first.
	RetriesTaken int
	Elapsed      time.Duration
}

// Err returns an *APIError for non-2xx statuses.
func (r *Response) Err() error {
	if r.Status >= 200 && r.Status < 300 {
		return nil
	}
	return newAPIError(r.Status, r.Header, r.Body, time.Now())
}

// JSON decodes the body into v.
func (r *Response) JSON(v interface{}) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("httpclient: decode response: %w", err)
	}
	return nil
}

// RequestID returns the server-assigned request id, if any.
func (r *Response) RequestID() string {
	return requestID(r.Header)
}

// DecodeJSON decodes the body of r as T.
func DecodeJSON[T any](r *Response) (T, error) {
	var v T
	err := r.JSON(&v)
	return v, err
}

// RateLimit is the rate-limit state reported by the server.
type RateLimit struct {
	Limit     *int
	Remaining *int
	ResetAt   *time.Time
}

func requestID(h http.Header) string {
	if id := h.Get("request-id"); id != "" {
		return id
	}
	return h.Get("x-request-id")
}

// parseRateLimit reads anthropic-ratelimit-requests-* headers, falling back
// to the shorter anthropic-ratelimit-* names. Returns nil if none are set.
func parseRateLimit(h http.Header) *RateLimit {
	get := func(name string) string {
		if v := h.Get("anthropic-ratelimit-requests-" + name); v != "" {
			return v
		}
		return h.Get("anthropic-ratelimit-" + name)
	}

	var rl RateLimit
	found := false
	if n, err := strconv.Atoi(get("limit")); err == nil {
		rl.Limit = &n
		found = true
	}
	if n, err := strconv.Atoi(get("remaining")); err == nil {
		rl.Remaining = &n
		found = true
	}
	if t, err := time.Parse(time.RFC3339, get("reset")); err == nil {
		rl.ResetAt = &t
		found = true
	}
	if !found {
		return nil
	}
	return &rl
}

// parseRetryAfter understands retry-after-ms, and retry-after as either
// delta-seconds or an HTTP date.
func parseRetryAfter(h http.Header, now time.Time) time.Duration {
	if ms := h.Get("retry-after-ms"); ms != "" {
		if f, err := strconv.ParseFloat(ms, 64); err == nil && f > 0 {
			return time.Duration(f * float64(time.Millisecond))
		}
	}

	v := strings.TrimSpace(h.Get("retry-after"))
	if v == "" {
		return 0
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs * float64(time.Second))
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
