package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"

	"github.com/yangwenmai/copydeck/internal/model"
	"github.com/yangwenmai/copydeck/internal/progress"
)

var (
	// ErrMalformedResponse means the provider answered but the reply could
	// not be parsed. It is never retried.
	ErrMalformedResponse = errors.New("malformed provider response")
	// ErrRunCancelled is returned when the caller cancels a run.
	ErrRunCancelled = errors.New("run cancelled")
	// ErrInvalidRequest wraps request validation failures.
	ErrInvalidRequest = errors.New("invalid request")
)

// ProviderError is a failed provider call with its retry classification.
type ProviderError struct {
	Provider   string
	StatusCode int
	Transient  bool
	Body       string
	Err        error
}

func (e *ProviderError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Body != "":
		return fmt.Sprintf("%s: HTTP %d: %s", e.Provider, e.StatusCode, e.Body)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s: HTTP %d", e.Provider, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Provider, e.Err)
	}
	return e.Provider + ": provider error"
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// newStatusError classifies an HTTP status: 429 and 5xx are transient.
func newStatusError(provider string, status int, body string) *ProviderError {
	return &ProviderError{
		Provider:   provider,
		StatusCode: status,
		Transient:  status == http.StatusTooManyRequests || status >= http.StatusInternalServerError,
		Body:       body,
	}
}

// IsTransient reports whether err is worth retrying: timeouts, dropped or
// refused connections, unreachable networks, truncated bodies and
// provider errors marked transient. Caller cancellation never is.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ErrMalformedResponse) || errors.Is(err, ErrInvalidRequest) {
		return false
	}
	var pe *ProviderError
	if errors.As(err, &pe) && pe.StatusCode != 0 {
		return pe.Transient
	}
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ENETUNREACH) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	if pe != nil {
		return pe.Transient
	}
	return false
}

// StageError wraps an error with the stage that produced it.
type StageError struct {
	Stage model.StageID
	Err   error
}

func (e *StageError) Error() string {
	return string(e.Stage) + ": " + e.Err.Error()
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// RunError is a run-level failure together with the progress state at the
// moment the run stopped.
type RunError struct {
	Err   error
	State progress.State
}

func (e *RunError) Error() string {
	return "run " + e.State.RunID + ": " + e.Err.Error()
}

func (e *RunError) Unwrap() error {
	return e.Err
}
