// SPDX-License-Identifier: MIT

package ollama

import (
	"errors"
	"fmt"
)

var (
	// Sentinel errors for errors.Is checks at the boundary.
	ErrModelNotFound  = errors.New("ollama: model not found")
	ErrUnavailable    = errors.New("ollama: host unreachable or transport failure")
	ErrUpstreamError  = errors.New("ollama: internal error (5xx)")
	ErrBadResponse    = errors.New("ollama: invalid response format or malformed data")
	ErrTimeout        = errors.New("ollama: request timed out")
	ErrEmptyEmbedding = errors.New("ollama: empty embedding returned")
)

// APIError is a rich error type that wraps the sentinel errors with context.
type APIError struct {
	Sentinel  error
	Operation string
	Status    int
	Body      string
	Err       error // Nested lower-level error (e.g. net.Error)
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("ollama: %s: %v", e.Operation, e.Sentinel)
	if e.Status > 0 {
		msg = fmt.Sprintf("%s (HTTP %d)", msg, e.Status)
	}
	if e.Body != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Body)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *APIError) Unwrap() error {
	return e.Sentinel
}
