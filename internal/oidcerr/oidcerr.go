// Package oidcerr defines the error kinds the agent reports over IPC.
// Handlers translate any error to exactly one wire response, so every
// fallible operation returns one of these (possibly wrapped).
package oidcerr

import (
	"errors"
	"fmt"
)

// Request and registry errors.
var (
	ErrBadRequest           = errors.New("bad request")
	ErrAccountNotLoaded     = errors.New("account not loaded")
	ErrAccountAlreadyLoaded = errors.New("account already loaded")
	ErrAgentLocked          = errors.New("agent locked")
	ErrBadPassword          = errors.New("bad password")
)

// Flow errors.
var (
	ErrNoRefreshToken    = errors.New("no refresh token")
	ErrInsufficientScope = errors.New("the registered client does not cover the scopes openid and offline_access")
	ErrNoRedirectURIs    = errors.New("no redirect uris configured")
	ErrUserDenied        = errors.New("user denied")
	ErrUserCancel        = errors.New("user canceled")
	ErrTimeout           = errors.New("timeout")
)

// ErrInternal marks invariant violations. The dispatcher logs these at the
// highest severity before answering.
var ErrInternal = errors.New("internal")

// UnknownFlow reports an unrecognized flow name from a gen request.
func UnknownFlow(name string) error {
	return fmt.Errorf("%w: unknown flow '%s'", ErrBadRequest, name)
}

// NetworkError wraps a transport-layer failure reaching the provider or
// the frontend.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// Network wraps err as a NetworkError, or returns nil if err is nil.
func Network(op string, err error) error {
	if err == nil {
		return nil
	}
	return &NetworkError{Op: op, Err: err}
}

// ProviderError carries a structured error body from the OIDC provider.
// Provider bodies are public, so Code and Description may be forwarded to
// clients verbatim.
type ProviderError struct {
	Code        string
	Description string
}

func (e *ProviderError) Error() string {
	if e.Description == "" {
		return e.Code
	}
	return e.Code + ": " + e.Description
}

// IsProviderError unwraps err into a ProviderError with the given code.
func IsProviderError(err error, code string) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Code == code
}
