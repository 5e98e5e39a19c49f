package core

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ErrorKind classifies a failure for retry and escalation decisions
type ErrorKind string

const (
	KindTransient  ErrorKind = "transient"
	KindRateLimit  ErrorKind = "rate_limit"
	KindAuth       ErrorKind = "auth"
	KindPermission ErrorKind = "permission"
	KindNotFound   ErrorKind = "not_found"
	KindFatal      ErrorKind = "fatal"
)

// Retryable reports whether a failure of this kind may succeed on another attempt
func (k ErrorKind) Retryable() bool {
	return k == KindTransient || k == KindRateLimit
}

var (
	// ErrNotFound is returned by repositories when a record does not exist
	ErrNotFound = errors.New("record not found")
	// ErrReplyAlreadyRecorded is returned when a found=true result already exists
	ErrReplyAlreadyRecorded = errors.New("reply already recorded")
	// ErrStatusConflict is returned when a dead-letter entry left pending_review concurrently
	ErrStatusConflict = errors.New("dead letter entry is no longer pending review")
	// ErrPendingExists is returned when a sent message already has a pending dead-letter entry
	ErrPendingExists = errors.New("sent message already has a pending dead letter entry")
)

// ProviderError is the error type returned by provider adapters
type ProviderError struct {
	Provider   ProviderType
	Op         string
	Kind       ErrorKind
	StatusCode int
	RetryAfter time.Duration
	Err        error
}

func (e *ProviderError) Error() string {
	msg := fmt.Sprintf("%s %s: %s", e.Provider, e.Op, e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// NewProviderError builds a ProviderError
func NewProviderError(provider ProviderType, op string, kind ErrorKind, err error) *ProviderError {
	return &ProviderError{Provider: provider, Op: op, Kind: kind, Err: err}
}

// RetryExhaustedError is returned once every attempt of a retryable call failed
type RetryExhaustedError struct {
	Attempts int
	Last     error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("giving up after %d attempts: %v", e.Attempts, e.Last)
}

func (e *RetryExhaustedError) Unwrap() error {
	return e.Last
}

// KindOf classifies any error. Provider errors carry their own kind,
// context errors and unknown failures are fatal, network errors are transient.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}

	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindFatal
	}
	if errors.Is(err, ErrNotFound) {
		return KindNotFound
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindTransient
	}

	return KindFatal
}

// IsAuthError reports whether err is an authentication failure
func IsAuthError(err error) bool {
	return KindOf(err) == KindAuth
}

// RetryAfterOf returns the provider-suggested wait, if any
func RetryAfterOf(err error) time.Duration {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.RetryAfter
	}
	return 0
}

// ParseRetryAfter reads a Retry-After header given in seconds or as an HTTP date
func ParseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(value); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

// KindForStatus maps an HTTP status code from a provider API to an error kind
func KindForStatus(code int) ErrorKind {
	switch {
	case code == http.StatusUnauthorized:
		return KindAuth
	case code == http.StatusForbidden:
		return KindPermission
	case code == http.StatusNotFound:
		return KindNotFound
	case code == http.StatusTooManyRequests:
		return KindRateLimit
	case code == http.StatusRequestTimeout, code >= 500:
		return KindTransient
	default:
		return KindFatal
	}
}
