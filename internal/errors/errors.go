package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Base error types
var (
	ErrNotFound         = errors.New("not found")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrForbidden        = errors.New("forbidden")
	ErrTimeout          = errors.New("timeout")
	ErrInvalidConfig    = errors.New("invalid configuration")
	ErrConnectionFailed = errors.New("connection failed")
	ErrCache            = errors.New("cache error")
)

// ErrorType represents the category of error
type ErrorType string

const (
	ErrorTypeConnection ErrorType = "connection"
	ErrorTypeAuth       ErrorType = "auth"
	ErrorTypeConfig     ErrorType = "config"
	ErrorTypeNotFound   ErrorType = "not_found"
	ErrorTypeAPI        ErrorType = "api"
	ErrorTypeTimeout    ErrorType = "timeout"
	ErrorTypeCache      ErrorType = "cache"
)

// InventoryError is a structured error for inventory operations
type InventoryError struct {
	Type       ErrorType
	Op         string // Operation that failed (e.g., "list_nodes", "node_facts")
	Node       string // Node certname if applicable
	Err        error  // Underlying error
	StatusCode int    // HTTP status code if applicable
}

func (e *InventoryError) Error() string {
	if e.Node != "" {
		return fmt.Sprintf("%s failed for %s: %v", e.Op, e.Node, e.Err)
	}
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *InventoryError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is interface
func (e *InventoryError) Is(target error) bool {
	if target == nil {
		return false
	}

	switch target {
	case ErrNotFound:
		return e.Type == ErrorTypeNotFound || e.StatusCode == 404
	case ErrUnauthorized, ErrForbidden:
		return e.Type == ErrorTypeAuth
	case ErrTimeout:
		return e.Type == ErrorTypeTimeout
	case ErrConnectionFailed:
		return e.Type == ErrorTypeConnection
	case ErrInvalidConfig:
		return e.Type == ErrorTypeConfig
	case ErrCache:
		return e.Type == ErrorTypeCache
	}

	return errors.Is(e.Err, target)
}

// NewInventoryError creates a new InventoryError
func NewInventoryError(errorType ErrorType, op string, err error) *InventoryError {
	return &InventoryError{
		Type: errorType,
		Op:   op,
		Err:  err,
	}
}

// WithNode adds node information to the error
func (e *InventoryError) WithNode(node string) *InventoryError {
	e.Node = node
	return e
}

// WithStatusCode adds HTTP status code to the error
func (e *InventoryError) WithStatusCode(code int) *InventoryError {
	e.StatusCode = code
	if code == 401 || code == 403 {
		e.Type = ErrorTypeAuth
	}
	return e
}

// WrapConnectionError wraps a connection error with context
func WrapConnectionError(op string, err error) error {
	return NewInventoryError(ErrorTypeConnection, op, err)
}

// WrapAuthError wraps a rejected-credentials response with context
func WrapAuthError(op string, err error, statusCode int) error {
	return NewInventoryError(ErrorTypeAuth, op, err).WithStatusCode(statusCode)
}

// WrapAPIError wraps a PuppetDB API error with context
func WrapAPIError(op string, err error, statusCode int) error {
	return NewInventoryError(ErrorTypeAPI, op, err).WithStatusCode(statusCode)
}

// WrapConfigError wraps a configuration error with context
func WrapConfigError(op string, err error) error {
	return NewInventoryError(ErrorTypeConfig, op, err)
}

// WrapCacheError wraps a cache file error with context
func WrapCacheError(op string, err error) error {
	return NewInventoryError(ErrorTypeCache, op, err)
}

// IsAuthError checks if an error is an authentication error
func IsAuthError(err error) bool {
	if err == nil {
		return false
	}

	var invErr *InventoryError
	if errors.As(err, &invErr) {
		if invErr.Type == ErrorTypeAuth {
			return true
		}
		if invErr.StatusCode == 401 || invErr.StatusCode == 403 {
			return true
		}
	}

	if errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrForbidden) {
		return true
	}

	errMsg := strings.ToLower(err.Error())
	return strings.Contains(errMsg, "authentication failed") ||
		strings.Contains(errMsg, "unauthorized") ||
		strings.Contains(errMsg, "forbidden")
}

// IsTimeout reports whether err came from an expired deadline or client timeout.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTimeout) {
		return true
	}
	var t interface{ Timeout() bool }
	if errors.As(err, &t) {
		return t.Timeout()
	}
	return false
}
