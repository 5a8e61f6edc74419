package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

// ErrorType represents the type of error
type ErrorType string

const (
	// ErrorTypeNotFound represents a lookup miss in the store
	ErrorTypeNotFound ErrorType = "not_found"
	// ErrorTypePersistence represents insert/delete/query failures
	ErrorTypePersistence ErrorType = "persistence"
	// ErrorTypeArithmetic represents an undefined price delta
	ErrorTypeArithmetic ErrorType = "arithmetic"
	// ErrorTypeValidation represents invalid snapshots
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypeCache represents cache-related errors
	ErrorTypeCache ErrorType = "cache"
	// ErrorTypePublisher represents publisher-related errors
	ErrorTypePublisher ErrorType = "publisher"
	// ErrorTypeSource represents snapshot stream errors
	ErrorTypeSource ErrorType = "source"
	// ErrorTypeConfiguration represents configuration errors
	ErrorTypeConfiguration ErrorType = "configuration"
)

// TrackerError represents an error raised while tracking an item
type TrackerError struct {
	Type    ErrorType
	Entity  string
	Message string
	Err     error
	Time    time.Time
}

// Error implements the error interface
func (e *TrackerError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %s - %v", e.Type, e.Entity, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Type, e.Entity, e.Message)
}

// Unwrap returns the underlying error
func (e *TrackerError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether redelivering the input may succeed.
// Bad snapshots fail the same way every time.
func (e *TrackerError) IsRetryable() bool {
	switch e.Type {
	case ErrorTypeValidation, ErrorTypeNotFound, ErrorTypeArithmetic, ErrorTypeConfiguration:
		return false
	default:
		return true
	}
}

// New creates a new TrackerError
func New(errType ErrorType, entity, message string, err error) *TrackerError {
	return &TrackerError{
		Type:    errType,
		Entity:  entity,
		Message: message,
		Err:     err,
		Time:    time.Now(),
	}
}

// NewNotFound creates a new not found error
func NewNotFound(entity, message string) *TrackerError {
	return New(ErrorTypeNotFound, entity, message, nil)
}

// NewPersistence creates a new persistence error
func NewPersistence(entity, message string, err error) *TrackerError {
	return New(ErrorTypePersistence, entity, message, err)
}

// NewArithmetic creates a new arithmetic error
func NewArithmetic(entity, message string) *TrackerError {
	return New(ErrorTypeArithmetic, entity, message, nil)
}

// NewValidation creates a new validation error
func NewValidation(entity, message string) *TrackerError {
	return New(ErrorTypeValidation, entity, message, nil)
}

// NewCache creates a new cache error
func NewCache(entity, message string, err error) *TrackerError {
	return New(ErrorTypeCache, entity, message, err)
}

// NewPublisher creates a new publisher error
func NewPublisher(entity, message string, err error) *TrackerError {
	return New(ErrorTypePublisher, entity, message, err)
}

// NewSource creates a new snapshot source error
func NewSource(entity, message string, err error) *TrackerError {
	return New(ErrorTypeSource, entity, message, err)
}

// NewConfiguration creates a new configuration error
func NewConfiguration(message string, err error) *TrackerError {
	return New(ErrorTypeConfiguration, "", message, err)
}

// IsType reports whether any error in err's chain is a TrackerError of the given type
func IsType(err error, errType ErrorType) bool {
	var te *TrackerError
	if stderrors.As(err, &te) {
		return te.Type == errType
	}
	return false
}

// IsNotFound reports whether err is a lookup miss
func IsNotFound(err error) bool {
	return IsType(err, ErrorTypeNotFound)
}

// IsRetryable reports whether err is worth retrying.
// Errors outside the TrackerError family are treated as transient.
func IsRetryable(err error) bool {
	var te *TrackerError
	if stderrors.As(err, &te) {
		return te.IsRetryable()
	}
	return err != nil
}
