package chat

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrTurnNotFound   = errors.New("turn not found")
	ErrTurnFrozen     = errors.New("turn is frozen")
	ErrRequestTimeout = errors.New("request timed out")
	ErrNoResponseBody = errors.New("no response body")
)

// ValidationError blocks a send before anything touches the network or the store.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// RequestError is a non-success HTTP status received before streaming started.
type RequestError struct {
	StatusCode int
	Body       string
}

func (e *RequestError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("HTTP error! status: %d: %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("HTTP error! status: %d", e.StatusCode)
}

// StreamError wraps an I/O failure that happened after the body started flowing.
type StreamError struct {
	Err error
}

func (e *StreamError) Error() string {
	return "stream interrupted: " + e.Err.Error()
}

func (e *StreamError) Cause() error  { return e.Err }
func (e *StreamError) Unwrap() error { return e.Err }

func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// ErrorText renders err as the synthetic assistant reply shown in place of a completion.
func ErrorText(err error) string {
	if err == nil {
		return "Error: Unknown error occurred"
	}
	return "Error: " + err.Error()
}
