// Package common provides shared utilities and types used across the application.
package common

import (
	"context"
	"errors"
	"fmt"
)

// Common application errors.
var (
	// Registry errors.
	ErrUnknownJurisdiction = errors.New("unknown jurisdiction")
	ErrInvalidAccountCode  = errors.New("invalid account code")

	// Classification errors.
	ErrRemoteUnavailable = errors.New("remote classification unavailable")
	ErrSignMismatch      = errors.New("account type does not match transaction sign")
	ErrInvalidRequest    = errors.New("invalid classification request")

	// Rule store errors.
	ErrRuleNotFound        = errors.New("rule not found")
	ErrInvalidRule         = errors.New("invalid rule")
	ErrUnsupportedSnapshot = errors.New("unsupported snapshot version")

	// Provider errors.
	ErrProviderKeyInvalid = errors.New("provider API key rejected")

	// Configuration errors.
	ErrMissingConfig = errors.New("missing configuration")
	ErrInvalidConfig = errors.New("invalid configuration")
)

// UserError represents an error that should be shown to the user.
type UserError struct {
	Err         error
	UserMessage string
}

func (e *UserError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.UserMessage, e.Err)
	}
	return e.UserMessage
}

func (e *UserError) Unwrap() error {
	return e.Err
}

// NewUserError creates a new user-friendly error.
func NewUserError(userMessage string, err error) error {
	return &UserError{
		UserMessage: userMessage,
		Err:         err,
	}
}

// IsRetryable determines if an error should trigger a retry.
func IsRetryable(err error) bool {
	if errors.Is(err, ErrProviderKeyInvalid) {
		return false
	}

	if errors.Is(err, ErrRateLimit) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var retryableErr *RetryableError
	if errors.As(err, &retryableErr) {
		return retryableErr.Retryable
	}

	return false
}
