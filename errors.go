package recon

import (
	"errors"
	"fmt"
)

// ErrorType represents the category of an error
type ErrorType string

const (
	// ErrorTypeConfig represents configuration-related errors
	ErrorTypeConfig ErrorType = "config"
	// ErrorTypeFS represents file system-related errors
	ErrorTypeFS ErrorType = "filesystem"
	// ErrorTypeAnalysis represents failures raised by an analyzer
	ErrorTypeAnalysis ErrorType = "analysis"
	// ErrorTypeFix represents quickfix resolution errors
	ErrorTypeFix ErrorType = "fix"
	// ErrorTypeProtocol represents malformed client requests
	ErrorTypeProtocol ErrorType = "protocol"
	// ErrorTypeCache represents cache-related errors
	ErrorTypeCache ErrorType = "cache"
)

var (
	// ErrProblemsFound is returned by the checker when any non-ignored problem was reported
	ErrProblemsFound = errors.New("problems found")
	// ErrEntryNotFound is returned by the problem cache on a miss
	ErrEntryNotFound = errors.New("entry not found")
	// ErrReadingCachedProblems is returned when a cache entry cannot be decoded
	ErrReadingCachedProblems = errors.New("cached problems are invalid")
)

// AppError is a custom error type that provides context about the error
type AppError struct {
	Type    ErrorType // The category of the error
	Message string    // A human-readable error message
	Err     error     // The underlying error, if any
	File    string    // The file related to the error, if applicable
	Details string    // Additional details about the error
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Err
}

// WithFile adds file information to the error
func (e *AppError) WithFile(file string) *AppError {
	e.File = file
	return e
}

// WithDetails adds additional details to the error
func (e *AppError) WithDetails(details string) *AppError {
	e.Details = details
	return e
}

// NewConfigError creates a new configuration error
func NewConfigError(message string, err error) *AppError {
	return &AppError{Type: ErrorTypeConfig, Message: message, Err: err}
}

// NewFSError creates a new file system error
func NewFSError(message string, err error) *AppError {
	return &AppError{Type: ErrorTypeFS, Message: message, Err: err}
}

// NewAnalysisError creates a new analyzer error
func NewAnalysisError(message string, err error) *AppError {
	return &AppError{Type: ErrorTypeAnalysis, Message: message, Err: err}
}

// NewFixError creates a new quickfix error
func NewFixError(message string, err error) *AppError {
	return &AppError{Type: ErrorTypeFix, Message: message, Err: err}
}

// NewProtocolError creates a new protocol error
func NewProtocolError(message string, err error) *AppError {
	return &AppError{Type: ErrorTypeProtocol, Message: message, Err: err}
}

// NewCacheError creates a new cache error
func NewCacheError(message string, err error) *AppError {
	return &AppError{Type: ErrorTypeCache, Message: message, Err: err}
}

// GetErrorInfo extracts the AppError from an error chain, if any.
func GetErrorInfo(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// ContractViolation is the panic value used when a caller breaks an API
// contract, for example by reporting a problem with an unknown severity.
// It is never recovered by the reconciliation machinery.
type ContractViolation struct {
	Message string
}

func (c *ContractViolation) Error() string {
	return "contract violation: " + c.Message
}

// Violatef panics with a ContractViolation.
func Violatef(format string, args ...any) {
	panic(&ContractViolation{Message: fmt.Sprintf(format, args...)})
}
