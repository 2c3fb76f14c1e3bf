package publisher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Error wraps a platform failure with its retry classification.
type Error struct {
	Platform  string
	Transient bool
	Err       error
}

func (e *Error) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("%s: %s failure: %v", e.Platform, kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Transient marks err as retryable: rate limits, timeouts,
// 5xx-equivalents, network errors.
func Transient(platform string, err error) error {
	return &Error{Platform: platform, Transient: true, Err: err}
}

// Permanent marks err as not retryable: invalid credentials, content
// rejected by platform policy, validation failures.
func Permanent(platform string, err error) error {
	return &Error{Platform: platform, Transient: false, Err: err}
}

// IsTransient reports whether err should be retried. Unclassified
// errors default to transient: timeouts and connection failures reach
// the worker without a wrapper, and treating unknowns as permanent
// would silently drop publishable content.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Transient
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	return true
}

// ClassifyStatus wraps an HTTP-level failure according to its status
// code: 408/429/5xx are transient, other 4xx are permanent.
func ClassifyStatus(platform string, status int, err error) error {
	if status == http.StatusRequestTimeout || status == http.StatusTooManyRequests || status >= 500 {
		return Transient(platform, err)
	}
	if status >= 400 {
		return Permanent(platform, err)
	}
	return err
}
