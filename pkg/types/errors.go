package types

import (
	"errors"
	"fmt"
)

var (
	// ErrNetworkUnavailable covers DNS, connect, timeout and TLS failures.
	ErrNetworkUnavailable = errors.New("network unavailable")
	// ErrNonceSuperseded marks a transaction at an already-consumed nonce.
	ErrNonceSuperseded = errors.New("transaction nonce already consumed")
	ErrSignerUnavailable = errors.New("signer is needed for this operation")
	ErrConfigUnsupported = errors.New("config is not supported on the chainId")
	ErrNoSession         = errors.New("no active session")
)

// ValidationError is a locally detected bad input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// IsValidationError reports whether err wraps a ValidationError.
func IsValidationError(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// MalformedResponseError is an ABI decode or JSON shape mismatch.
type MalformedResponseError struct {
	Reason string
}

func (e *MalformedResponseError) Error() string {
	return "malformed response: " + e.Reason
}

func NewMalformedResponseError(format string, args ...interface{}) *MalformedResponseError {
	return &MalformedResponseError{Reason: fmt.Sprintf(format, args...)}
}

// IsMalformedResponse reports whether err wraps a MalformedResponseError.
func IsMalformedResponse(err error) bool {
	var m *MalformedResponseError
	return errors.As(err, &m)
}

// RemoteError is a non-2xx answer from a collaborator service. Message is
// filled from a caller-supplied status table when one matches.
type RemoteError struct {
	StatusCode int
	Body       string
	Message    string
}

func (e *RemoteError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s (status %d)", e.Message, e.StatusCode)
	}
	return fmt.Sprintf("remote rejected request: status %d body=%s", e.StatusCode, e.Body)
}
