package httpclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Sentinel errors.
var (
	ErrMissingCredentials = errors.New("httpclient: API key or auth token required")
	ErrInvalidMethod      = errors.New("httpclient: unsupported HTTP method")
)

// ErrorKind classifies an APIError by status.
type ErrorKind string

const (
	KindBadRequest          ErrorKind = "bad_request"
	KindAuthentication      ErrorKind = "authentication"
	KindPermissionDenied    ErrorKind = "permission_denied"
	KindNotFound            ErrorKind = "not_found"
	KindConflict            ErrorKind = "conflict"
	KindUnprocessableEntity ErrorKind = "unprocessable_entity"
	KindRateLimit           ErrorKind = "rate_limit"
	KindInternalServer      ErrorKind = "internal_server"
	KindOverloaded          ErrorKind = "overloaded"
	KindAPI                 ErrorKind = "api"
)

// FieldError is one entry of a 422 validation failure.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// APIError is a non-2xx response.
type APIError struct {
	RateLimit   *RateLimit
	Kind        ErrorKind
	Message     string
	Type        string
	RequestID   string
	FieldErrors []FieldError
	Status      int
	// RetryAfter is the server-requested delay, zero when absent.
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "api error: status %d (%s)", e.Status, e.Kind)
	if e.Type != "" {
		fmt.Fprintf(&b, " %s", e.Type)
	}
	if e.Message != "" {
		fmt.Fprintf(&b, ": %s", e.Message)
	}
	if e.RequestID != "" {
		fmt.Fprintf(&b, " (request-id %s)", e.RequestID)
	}
	return b.String()
}

// Retryable reports whether the status is worth another attempt.
func (e *APIError) Retryable() bool {
	return isRetryableStatus(e.Status)
}

func isRetryableStatus(status int) bool {
	switch {
	case status == http.StatusRequestTimeout,
		status == http.StatusConflict,
		status == http.StatusTooManyRequests,
		status >= 500:
		return true
	}
	return false
}

func kindForStatus(status int) ErrorKind {
	switch {
	case status == http.StatusBadRequest:
		return KindBadRequest
	case status == http.StatusUnauthorized:
		return KindAuthentication
	case status == http.StatusForbidden:
		return KindPermissionDenied
	case status == http.StatusNotFound:
		return KindNotFound
	case status == http.StatusConflict:
		return KindConflict
	case status == http.StatusUnprocessableEntity:
		return KindUnprocessableEntity
	case status == http.StatusTooManyRequests:
		return KindRateLimit
	case status == 529:
		return KindOverloaded
	case status >= 500:
		return KindInternalServer
	default:
		return KindAPI
	}
}

type errorBody struct {
	Error struct {
		Details *struct {
			ValidationErrors []FieldError `json:"validation_errors"`
		} `json:"details"`
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// newAPIError builds an APIError from a response. Bodies that are not the
// {"error":{...}} shape become the message verbatim.
func newAPIError(status int, header http.Header, body []byte, now time.Time) *APIError {
	e := &APIError{
		Kind:       kindForStatus(status),
		Status:     status,
		RequestID:  requestID(header),
		RetryAfter: parseRetryAfter(header, now),
		RateLimit:  parseRateLimit(header),
	}

	var parsed errorBody
	if err := json.Unmarshal(body, &parsed); err == nil && (parsed.Error.Message != "" || parsed.Error.Type != "") {
		e.Message = parsed.Error.Message
		e.Type = parsed.Error.Type
		if parsed.Error.Details != nil {
			e.FieldErrors = parsed.Error.Details.ValidationErrors
		}
	} else {
		e.Message = strings.TrimSpace(string(body))
	}
	if e.Message == "" {
		e.Message = http.StatusText(status)
	}
	return e
}

// ConnectionError is a network failure before a response arrived.
type ConnectionError struct {
	Cause error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection error: %v", e.Cause)
}

func (e *ConnectionError) Unwrap() error   { return e.Cause }
func (e *ConnectionError) Retryable() bool { return true }

// TimeoutError is a request that exceeded its deadline.
type TimeoutError struct {
	Cause   error
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("request timed out after %v: %v", e.Timeout, e.Cause)
}

func (e *TimeoutError) Unwrap() error   { return e.Cause }
func (e *TimeoutError) Retryable() bool { return true }
