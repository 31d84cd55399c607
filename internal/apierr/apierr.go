// Package apierr defines the error kinds the HTTP API renders and the JSON
// body they are rendered as.
package apierr

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"
)

// Kind classifies an API error and fixes its status code.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindAuth
	KindForbidden
	KindNotFound
	KindRateLimit
)

// Status returns the HTTP status for k.
func (k Kind) Status() int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuth:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindRateLimit:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// Error is an error safe to show to API clients.
type Error struct {
	Kind       Kind
	Code       string // short, stable label rendered as "error"
	Message    string // human readable detail
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return e.Code + ": " + e.Message
}

// Body is the JSON shape of every error response.
type Body struct {
	Error      string `json:"error"`
	Message    string `json:"message,omitempty"`
	RetryAfter *int64 `json:"retryAfter,omitempty"` // milliseconds
}

func Validation(msg string) *Error {
	return Invalid("Invalid request", msg)
}

// Invalid is a validation error with a field specific code such as "Invalid ai_id".
func Invalid(code, msg string) *Error {
	return &Error{Kind: KindValidation, Code: code, Message: msg}
}

func Auth(code, msg string) *Error {
	return &Error{Kind: KindAuth, Code: code, Message: msg}
}

func Forbidden(code, msg string) *Error {
	return &Error{Kind: KindForbidden, Code: code, Message: msg}
}

func NotFound(msg string) *Error {
	return &Error{Kind: KindNotFound, Code: "Not found", Message: msg}
}

func RateLimit(retryAfter time.Duration) *Error {
	return &Error{
		Kind:       KindRateLimit,
		Code:       "Rate limit exceeded",
		Message:    "Too many requests, please slow down",
		RetryAfter: retryAfter,
	}
}

func Internal(msg string) *Error {
	return &Error{Kind: KindInternal, Code: "Internal server error", Message: msg}
}

// From converts err to an *Error. Anything that is not already an *Error
// becomes a generic internal error; its text is never shown to the client.
func From(err error) *Error {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return Internal("")
}

// Write renders err as a JSON error response.
func Write(w http.ResponseWriter, err error) {
	e := From(err)

	body := Body{Error: e.Code, Message: e.Message}
	if e.Kind == KindRateLimit {
		ms := e.RetryAfter.Milliseconds()
		body.RetryAfter = &ms
		secs := int64((e.RetryAfter + time.Second - 1) / time.Second)
		w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.Kind.Status())
	json.NewEncoder(w).Encode(body)
}
