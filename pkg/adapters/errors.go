package adapters

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a ProviderError.
type ErrorKind string

const (
	KindTransport   ErrorKind = "transport"
	KindStatus      ErrorKind = "status"
	KindDecode      ErrorKind = "decode"
	KindMalformed   ErrorKind = "malformed"
	KindCircuitOpen ErrorKind = "circuit_open"
)

// ProviderError is a network, HTTP or payload failure of an upstream provider.
// It is never fatal to the process; a failing location does not affect others.
type ProviderError struct {
	Provider   string
	Kind       ErrorKind
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("%s: %s %d: %v", e.Provider, e.Kind, e.StatusCode, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Provider, e.Kind, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Provider, e.Kind)
	}
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// NewProviderError builds a ProviderError without an HTTP status.
func NewProviderError(provider string, kind ErrorKind, err error) *ProviderError {
	return &ProviderError{Provider: provider, Kind: kind, Err: err}
}

// AsProviderError reports whether err wraps a *ProviderError and returns it.
func AsProviderError(err error) (*ProviderError, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}
