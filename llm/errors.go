package llm

import (
	"errors"
	"fmt"
	"time"
)

// Error represents a provider-neutral LLM error.
type Error struct {
	Type        ErrorType
	Message     string
	Retryable   bool
	RetryAfter  *time.Duration
	StatusCode  int
	ProviderErr error // Original provider-specific error
}

// ErrorType represents the category of error.
type ErrorType string

const (
	ErrorTypeRateLimit       ErrorType = "rate_limit"
	ErrorTypeRequestTooLarge ErrorType = "request_too_large"
	ErrorTypeInvalidRequest  ErrorType = "invalid_request"
	ErrorTypeClient          ErrorType = "client"
	ErrorTypeParse           ErrorType = "parse"
	ErrorTypeProvider        ErrorType = "provider"
	ErrorTypeNetwork         ErrorType = "network"
	ErrorTypeTimeout         ErrorType = "timeout"
	ErrorTypeUnknown         ErrorType = "unknown"
)

// ErrStreamCancelled is surfaced by a StreamingResponse whose session was
// cancelled while it was being consumed.
var ErrStreamCancelled = errors.New("stream cancelled")

// Error implements the error interface.
func (e *Error) Error() string {
	if e.ProviderErr != nil {
		return e.Message + ": " + e.ProviderErr.Error()
	}
	return e.Message
}

// Unwrap returns the underlying provider error.
func (e *Error) Unwrap() error {
	return e.ProviderErr
}

// TokenLimitExceededError is returned when a payload exceeds the model's input budget.
type TokenLimitExceededError struct {
	Model   string
	Current int
	Max     int
}

func (e *TokenLimitExceededError) Error() string {
	return fmt.Sprintf("input token limit exceeded for model %s: %d > %d", e.Model, e.Current, e.Max)
}

// RetryExhaustedError is returned once every attempt has failed.
type RetryExhaustedError struct {
	Attempts int
	Last     error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("max retries (%d) exceeded: %v", e.Attempts, e.Last)
}

// Unwrap returns the last attempt's error.
func (e *RetryExhaustedError) Unwrap() error {
	return e.Last
}

func errorType(err error) (ErrorType, bool) {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Type, true
	}
	return "", false
}

// IsRateLimitError checks if an error is a rate limit error.
func IsRateLimitError(err error) bool {
	t, ok := errorType(err)
	return ok && t == ErrorTypeRateLimit
}

// IsRequestTooLargeError checks if an error is a request too large error.
func IsRequestTooLargeError(err error) bool {
	t, ok := errorType(err)
	return ok && t == ErrorTypeRequestTooLarge
}

// IsClientError reports whether err is caused by the caller's input and
// should not be retried.
func IsClientError(err error) bool {
	t, ok := errorType(err)
	return ok && (t == ErrorTypeClient || t == ErrorTypeInvalidRequest)
}

// IsParseError reports whether err came from interpreting a model response.
func IsParseError(err error) bool {
	t, ok := errorType(err)
	return ok && t == ErrorTypeParse
}

// IsTokenLimitExceeded reports whether err is a TokenLimitExceededError.
func IsTokenLimitExceeded(err error) bool {
	var tle *TokenLimitExceededError
	return errors.As(err, &tle)
}

// IsRetryableError checks if an error is retryable.
func IsRetryableError(err error) bool {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Retryable
	}
	return false
}

// ExtractRetryAfter extracts the retry-after duration from an error.
func ExtractRetryAfter(err error) *time.Duration {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.RetryAfter
	}
	return nil
}

// NewRateLimitError creates a new rate limit error.
func NewRateLimitError(message string, retryAfter *time.Duration, providerErr error) *Error {
	return &Error{
		Type:        ErrorTypeRateLimit,
		Message:     message,
		Retryable:   true,
		RetryAfter:  retryAfter,
		StatusCode:  429,
		ProviderErr: providerErr,
	}
}

// NewRequestTooLargeError creates a new request too large error.
func NewRequestTooLargeError(message string, providerErr error) *Error {
	return &Error{
		Type:        ErrorTypeRequestTooLarge,
		Message:     message,
		Retryable:   true,
		StatusCode:  413,
		ProviderErr: providerErr,
	}
}

// NewProviderError creates a new provider error.
func NewProviderError(message string, providerErr error) *Error {
	return &Error{
		Type:        ErrorTypeProvider,
		Message:     message,
		Retryable:   true,
		ProviderErr: providerErr,
	}
}

// NewClientError creates an error for invalid caller input.
func NewClientError(message string, cause error) *Error {
	return &Error{
		Type:        ErrorTypeClient,
		Message:     message,
		ProviderErr: cause,
	}
}

// NewParseError creates an error for a response that could not be interpreted.
func NewParseError(message string, cause error) *Error {
	return &Error{
		Type:        ErrorTypeParse,
		Message:     message,
		Retryable:   true,
		ProviderErr: cause,
	}
}

// FromStatusCode classifies an HTTP failure from a vendor.
func FromStatusCode(status int, message string, retryAfter *time.Duration, cause error) *Error {
	switch {
	case status == 429:
		return NewRateLimitError(message, retryAfter, cause)
	case status == 413:
		return NewRequestTooLargeError(message, cause)
	case status == 408:
		return &Error{Type: ErrorTypeTimeout, Message: message, Retryable: true, StatusCode: status, ProviderErr: cause}
	case status >= 400 && status < 500:
		e := NewClientError(message, cause)
		e.StatusCode = status
		return e
	default:
		e := NewProviderError(message, cause)
		e.StatusCode = status
		return e
	}
}
