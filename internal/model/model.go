package model

import (
	"context"
	"errors"
	"fmt"
)

// Message is a provider-agnostic chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Roles accepted by completion providers.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ValidRole reports whether role is one of the accepted roles.
func ValidRole(role string) bool {
	switch role {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	}
	return false
}

// CompletionResponse is the common response model for all providers.
type CompletionResponse struct {
	Content      string
	InputTokens  int
	OutputTokens int
}

// Provider is the completion gateway abstraction used by the relay
// pipeline. Implementations own their retry policy; callers see only the
// final outcome.
type Provider interface {
	ChatCompletion(ctx context.Context, messages []Message) (CompletionResponse, error)
}

// ErrorKind classifies a failed completion call.
type ErrorKind string

const (
	ErrRateLimited    ErrorKind = "rate_limited"
	ErrInvalidRequest ErrorKind = "invalid_request"
	ErrAuthFailed     ErrorKind = "auth_failed"
	ErrTimeout        ErrorKind = "timeout"
	ErrUnavailable    ErrorKind = "unavailable"
)

// Retryable reports whether another attempt at the same request can
// succeed. Invalid requests and auth failures will not self-resolve.
func (k ErrorKind) Retryable() bool {
	switch k {
	case ErrInvalidRequest, ErrAuthFailed:
		return false
	}
	return true
}

// Error is a classified completion failure.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("completion failed: %s", e.Kind)
	}
	return fmt.Sprintf("completion failed: %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError wraps err with a kind.
func NewError(kind ErrorKind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// Errorf builds a classified failure from a format string.
func Errorf(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the ErrorKind from err. Unclassified errors count as
// unavailable.
func KindOf(err error) ErrorKind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return ErrUnavailable
}
