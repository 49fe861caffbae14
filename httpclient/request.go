package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/bazelment/yoloswe/agentcore/retry"
)

// maxErrorBody bounds how much of an error response is read.
const maxErrorBody = 1 << 20

// RequestBuilder accumulates one request. Builders are not safe for
// concurrent use.
type RequestBuilder struct {
	client     *Client
	header     http.Header
	err        error
	method     string
	url        string
	body       []byte
	policy     retry.Policy
	timeout    time.Duration
	maxRetries int
}

// Header sets a header.
func (b *RequestBuilder) Header(key, value string) *RequestBuilder {
	b.header.Set(key, value)
	return b
}

// Body sets a raw body and its content type.
func (b *RequestBuilder) Body(contentType string, body []byte) *RequestBuilder {
	b.body = body
	if contentType != "" {
		b.header.Set("content-type", contentType)
	}
	return b
}

// JSON marshals v as the body.
func (b *RequestBuilder) JSON(v interface{}) *RequestBuilder {
	data, err := json.Marshal(v)
	if err != nil {
		b.err = fmt.Errorf("httpclient: marshal request body: %w", err)
		return b
	}
	return b.Body("application/json", data)
}

// Timeout bounds each attempt.
func (b *RequestBuilder) Timeout(d time.Duration) *RequestBuilder {
	b.timeout = d
	return b
}

// MaxRetries overrides the client's retry count for this request.
func (b *RequestBuilder) MaxRetries(n int) *RequestBuilder {
	b.maxRetries = n
	return b
}

// Retry replaces the backoff schedule for this request.
func (b *RequestBuilder) Retry(p retry.Policy) *RequestBuilder {
	b.policy = p
	if b.maxRetries < 0 {
		b.maxRetries = p.MaxRetries
	}
	return b
}

func (b *RequestBuilder) retries() int {
	if b.maxRetries >= 0 {
		return b.maxRetries
	}
	return b.policy.MaxRetries
}

// newTimer supplies the timer used between attempts; nil means a real one.
// Replaced in tests.
var newTimer = func() backoff.Timer { return nil }

// Send performs the request and reads the whole body. Retryable failures
// are retried, honouring Retry-After when the server sends one. Error
// statuses that are not retried come back as *APIError.
func (b *RequestBuilder) Send(ctx context.Context) (*Response, error) {
	start := time.Now()
	var out *Response
	err := b.run(ctx, func(resp *http.Response, attempt int, release context.CancelFunc) error {
		defer release()
		defer resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
			return newAPIError(resp.StatusCode, resp.Header, body, time.Now())
		}
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return &ConnectionError{Cause: fmt.Errorf("read body: %w", err)}
		}
		out = &Response{
			Status:       resp.StatusCode,
			Header:       resp.Header,
			Body:         body,
			RateLimit:    parseRateLimit(resp.Header),
			RetriesTaken: attempt,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	out.Elapsed = time.Since(start)
	return out, nil
}

// SendStreaming performs the request and returns the body unread. Only
// failures before the response headers are retried. The attempt's timeout
// keeps running until the stream is closed.
func (b *RequestBuilder) SendStreaming(ctx context.Context) (*ByteStream, error) {
	var out *ByteStream
	err := b.run(ctx, func(resp *http.Response, attempt int, release context.CancelFunc) error {
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			defer release()
			defer resp.Body.Close()
			body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
			return newAPIError(resp.StatusCode, resp.Header, body, time.Now())
		}
		out = &ByteStream{
			body:         resp.Body,
			cancel:       release,
			Status:       resp.StatusCode,
			Header:       resp.Header,
			RateLimit:    parseRateLimit(resp.Header),
			RetriesTaken: attempt,
		}
		resp.Body = out
		out.Response = resp
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// run drives the attempt loop on the request's retry.Policy. handle
// consumes a response and owns release, the cancel func of the attempt's
// context; it returns nil to finish or an error to classify.
func (b *RequestBuilder) run(ctx context.Context, handle func(*http.Response, int, context.CancelFunc) error) error {
	if b.err != nil {
		return b.err
	}
	logger := b.client.logger.With().Str("method", b.method).Str("url", b.url).Logger()

	policy := b.policy
	policy.MaxRetries = b.retries()
	schedule := &retryAfter{BackOff: policy.BackOff(ctx)}

	attempt := 0
	op := func() error {
		err := b.attempt(ctx, handle, attempt)
		attempt++
		schedule.last = err
		switch {
		case err == nil:
			return nil
		case ctx.Err() != nil:
			return backoff.Permanent(ctx.Err())
		case !retry.IsRetryable(err):
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, delay time.Duration) {
		logger.Warn().Err(err).Int("attempt", attempt).Dur("delay", delay).Msg("retrying request")
	}
	return backoff.RetryNotifyWithTimer(op, backoff.WithContext(schedule, ctx), notify, newTimer())
}

// retryAfter lets a Retry-After sent with the last failure replace the
// computed delay. It still stops when the wrapped schedule does.
type retryAfter struct {
	backoff.BackOff
	last error
}

func (r *retryAfter) NextBackOff() time.Duration {
	d := r.BackOff.NextBackOff()
	if d == backoff.Stop {
		return d
	}
	var apiErr *APIError
	if errors.As(r.last, &apiErr) && apiErr.RetryAfter > 0 {
		return apiErr.RetryAfter
	}
	return d
}

func (b *RequestBuilder) attempt(ctx context.Context, handle func(*http.Response, int, context.CancelFunc) error, attempt int) error {
	attemptCtx, cancel := context.WithTimeout(ctx, b.timeout)

	var body io.Reader
	if b.body != nil {
		body = bytes.NewReader(b.body)
	}
	req, err := http.NewRequestWithContext(attemptCtx, b.method, b.url, body)
	if err != nil {
		cancel()
		return retry.Permanent(fmt.Errorf("httpclient: build request: %w", err))
	}
	req.Header = b.header.Clone()

	resp, err := b.client.http.Do(req)
	if err != nil {
		cerr := b.classify(attemptCtx, err)
		cancel()
		return cerr
	}
	return handle(resp, attempt, cancel)
}

func (b *RequestBuilder) classify(ctx context.Context, err error) error {
	var netErr net.Error
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &TimeoutError{Cause: err, Timeout: b.timeout}
	}
	return &ConnectionError{Cause: err}
}
