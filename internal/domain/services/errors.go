package services

import (
	"errors"
	"fmt"

	"github.com/devilmonastery/oauthlink/internal/domain/entities"
)

// Flow failures. Callers log them in full and show the browser one generic
// outcome, never which step failed.
var (
	ErrUnknownProvider     = errors.New("unknown provider")
	ErrStateMismatch       = errors.New("state mismatch")
	ErrTokenExchangeFailed = errors.New("token exchange failed")
	ErrIdentityFetchFailed = errors.New("identity fetch failed")
	ErrAmbiguousIdentity   = errors.New("ambiguous identity")
	ErrPersistence         = errors.New("persistence error")

	// ErrAuthenticationFailed is returned by the bridges when no usable account matches
	ErrAuthenticationFailed = errors.New("authentication failed")
)

// FlowState is a step of the authorization-code flow
type FlowState string

const (
	StateInit             FlowState = "INIT"
	StateAwaitingCallback FlowState = "AWAITING_CALLBACK"
	StateVerified         FlowState = "VERIFIED"
	StateExchanged        FlowState = "EXCHANGED"
	StateResolved         FlowState = "RESOLVED"
	StateLinked           FlowState = "LINKED"
	StateFailed           FlowState = "FAILED"
)

// FlowError is a failed flow. Reached is the last state the flow got to.
type FlowError struct {
	Audience entities.Audience
	Provider string
	Reached  FlowState
	Err      error
}

func (e *FlowError) Error() string {
	return fmt.Sprintf("%s flow via %q failed after %s: %v", e.Audience, e.Provider, e.Reached, e.Err)
}

func (e *FlowError) Unwrap() error {
	return e.Err
}

// Reason returns a stable label for logs and metrics
func (e *FlowError) Reason() string {
	return FailureReason(e.Err)
}

// FailureReason maps a flow or bridge error to a stable label
func FailureReason(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrStateMismatch):
		return "state_mismatch"
	case errors.Is(err, ErrUnknownProvider):
		return "unknown_provider"
	case errors.Is(err, ErrTokenExchangeFailed):
		return "token_exchange_failed"
	case errors.Is(err, ErrIdentityFetchFailed):
		return "identity_fetch_failed"
	case errors.Is(err, ErrAmbiguousIdentity):
		return "ambiguous_identity"
	case errors.Is(err, ErrPersistence):
		return "persistence_error"
	case errors.Is(err, ErrAuthenticationFailed):
		return "authentication_failed"
	default:
		return "other"
	}
}

// failure wraps cause under one of the sentinels above
func failure(kind error, cause error) error {
	if cause == nil {
		return kind
	}
	return fmt.Errorf("%w: %w", kind, cause)
}
