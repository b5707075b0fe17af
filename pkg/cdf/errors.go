package cdf

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"
)

// Error is the decoded form of an API error response. Missing and
// Duplicated carry the item refs the API rejected, when it reports them.
type Error struct {
	Code       int
	Message    string
	Missing    []ItemRef
	Duplicated []ItemRef
	RequestID  string
}

func (e *Error) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("cdf: %s | code: %d | request id: %s", e.Message, e.Code, e.RequestID)
	}
	return fmt.Sprintf("cdf: %s | code: %d", e.Message, e.Code)
}

// IsNotFound reports whether err says one or more requested items do not
// exist in the project.
func IsNotFound(err error) bool {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Code == http.StatusNotFound || len(ce.Missing) > 0
	}
	return false
}

// IsDuplicated reports whether err says one or more items to be created
// already exist.
func IsDuplicated(err error) bool {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Code == http.StatusConflict || len(ce.Duplicated) > 0
	}
	return false
}

// IsTransient reports whether err is worth retrying: a timeout, a broken
// connection, or a 408/429/5xx response. Context cancellation is not
// transient; the caller asked to stop.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Code == http.StatusRequestTimeout ||
			ce.Code == http.StatusTooManyRequests ||
			ce.Code >= 500
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, io.ErrUnexpectedEOF)
}
