package domain

import (
	"errors"
	"fmt"
)

var (
	ErrJobNotFound     = errors.New("suggestion job not found")
	ErrJobNotRetryable = errors.New("only failed jobs can be retried")
	ErrDuplicateFile   = errors.New("file has already been processed")
)

// ErrorKind is the closed set of upstream error classes. Retry decisions and
// caller-facing translation branch on the kind, never on message text.
type ErrorKind int

const (
	// KindProvider is a generic upstream error carrying the provider's
	// message and HTTP status.
	KindProvider ErrorKind = iota
	// KindRateLimit means an admission window or the provider quota is
	// exhausted; WaitSeconds says how long until capacity returns.
	KindRateLimit
	// KindAuthentication means the configured credentials were rejected.
	KindAuthentication
	// KindValidation means the request or configuration itself is malformed.
	KindValidation
	// KindParse means a 2xx response violated the expected content contract.
	KindParse
)

func (k ErrorKind) String() string {
	switch k {
	case KindProvider:
		return "provider"
	case KindRateLimit:
		return "rate_limit"
	case KindAuthentication:
		return "authentication"
	case KindValidation:
		return "validation"
	case KindParse:
		return "parse"
	default:
		return "unknown"
	}
}

// Error is the typed error surfaced by the suggestion core.
type Error struct {
	Kind        ErrorKind
	Code        string
	Message     string
	HTTPStatus  int
	WaitSeconds int
	Fields      []string
}

func (e *Error) Error() string {
	if e.HTTPStatus > 0 {
		return fmt.Sprintf("%s (%s, status %d)", e.Message, e.Code, e.HTTPStatus)
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Code)
}

func NewProviderError(message string, httpStatus int) *Error {
	return &Error{
		Kind:       KindProvider,
		Code:       "API_ERROR",
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

func NewRateLimitError(message string, waitSeconds int) *Error {
	return &Error{
		Kind:        KindRateLimit,
		Code:        "RATE_LIMIT_EXCEEDED",
		Message:     message,
		HTTPStatus:  429,
		WaitSeconds: waitSeconds,
	}
}

func NewAuthenticationError(message string) *Error {
	if message == "" {
		message = "invalid API key"
	}
	return &Error{
		Kind:       KindAuthentication,
		Code:       "AUTHENTICATION_ERROR",
		Message:    message,
		HTTPStatus: 401,
	}
}

func NewValidationError(message string, fields ...string) *Error {
	return &Error{
		Kind:       KindValidation,
		Code:       "VALIDATION_ERROR",
		Message:    message,
		HTTPStatus: 400,
		Fields:     fields,
	}
}

func NewParseError(message string) *Error {
	return &Error{
		Kind:       KindParse,
		Code:       "PARSE_ERROR",
		Message:    message,
		HTTPStatus: 502,
	}
}

// AsError unwraps err to a *Error if one is anywhere in the chain.
func AsError(err error) (*Error, bool) {
	var derr *Error
	if errors.As(err, &derr) {
		return derr, true
	}
	return nil, false
}

// IsKind reports whether err carries a *Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	derr, ok := AsError(err)
	return ok && derr.Kind == kind
}
