package model

import (
	"errors"
	"fmt"
)

// Provider error kinds.
const (
	ProviderErrorAuth           ProviderErrorKind = "auth"
	ProviderErrorInvalidRequest ProviderErrorKind = "invalid_request"
	ProviderErrorRateLimited    ProviderErrorKind = "rate_limited"
	ProviderErrorUnavailable    ProviderErrorKind = "unavailable"
	ProviderErrorUnknown        ProviderErrorKind = "unknown"
)

type (
	// ProviderErrorKind classifies provider failures for retry decisions.
	ProviderErrorKind string

	// ProviderError is a classified failure returned by a provider adapter.
	ProviderError struct {
		// Provider names the adapter (e.g., "bedrock").
		Provider string
		// Operation is the provider operation (e.g., "converse").
		Operation string
		// HTTPStatus is the HTTP status code when known.
		HTTPStatus int
		// Kind classifies the failure.
		Kind ProviderErrorKind
		// Code is the provider error code when known.
		Code string
		// Message is the provider error message.
		Message string
		// Cause is the underlying SDK error.
		Cause error
	}
)

// Error implements error.
func (e *ProviderError) Error() string {
	msg := e.Message
	if msg == "" && e.Cause != nil {
		msg = e.Cause.Error()
	}
	if e.Code != "" {
		return fmt.Sprintf("%s %s: %s (%s): %s", e.Provider, e.Operation, e.Kind, e.Code, msg)
	}
	return fmt.Sprintf("%s %s: %s: %s", e.Provider, e.Operation, e.Kind, msg)
}

// Unwrap returns the cause.
func (e *ProviderError) Unwrap() error { return e.Cause }

// Is makes rate-limited provider errors match ErrRateLimited.
func (e *ProviderError) Is(target error) bool {
	return target == ErrRateLimited && e.Kind == ProviderErrorRateLimited
}

// Retryable reports whether retrying the same request may succeed.
func (e *ProviderError) Retryable() bool {
	return e.Kind == ProviderErrorRateLimited || e.Kind == ProviderErrorUnavailable
}

// KindForStatus classifies an HTTP status code.
func KindForStatus(status int) ProviderErrorKind {
	switch {
	case status == 401 || status == 403:
		return ProviderErrorAuth
	case status == 429:
		return ProviderErrorRateLimited
	case status >= 500:
		return ProviderErrorUnavailable
	case status >= 400:
		return ProviderErrorInvalidRequest
	}
	return ProviderErrorUnknown
}

// IsRetryable reports whether err is a retryable provider failure.
func IsRetryable(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Retryable()
	}
	return errors.Is(err, ErrRateLimited)
}
