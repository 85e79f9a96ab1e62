package errors

import (
	"errors"
	"fmt"
)

// FormatError reports a platter or program image that cannot be decoded.
type FormatError struct {
	Message string
	Cause   error
}

func (e *FormatError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *FormatError) Unwrap() error {
	return e.Cause
}

// IsFormatError checks if an error is, or wraps, a format error
func IsFormatError(err error) bool {
	var fe *FormatError
	return errors.As(err, &fe)
}

// WrapFormatError wraps an existing error as a format error
func WrapFormatError(err error, message string) *FormatError {
	return &FormatError{
		Message: message,
		Cause:   err,
	}
}

// FormatErrorf creates a new format error with formatted message
func FormatErrorf(format string, args ...interface{}) *FormatError {
	return &FormatError{
		Message: fmt.Sprintf(format, args...),
	}
}

// InvalidArrayIndexError reports a reference to an array handle (or a finger
// or offset inside an array) that does not exist.
type InvalidArrayIndexError struct {
	Message string
	Index   uint32
}

func (e *InvalidArrayIndexError) Error() string {
	return fmt.Sprintf("%s: %d", e.Message, e.Index)
}

// IsInvalidArrayIndex checks if an error is, or wraps, an invalid array index error
func IsInvalidArrayIndex(err error) bool {
	var ie *InvalidArrayIndexError
	return errors.As(err, &ie)
}

// InvalidArrayIndex creates a new invalid array index error
func InvalidArrayIndex(message string, index uint32) *InvalidArrayIndexError {
	return &InvalidArrayIndexError{
		Message: message,
		Index:   index,
	}
}

// ResourceError reports a failure to obtain memory from the platform.
type ResourceError struct {
	Message string
	Cause   error
}

func (e *ResourceError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *ResourceError) Unwrap() error {
	return e.Cause
}

// IsResourceError checks if an error is, or wraps, a resource error
func IsResourceError(err error) bool {
	var re *ResourceError
	return errors.As(err, &re)
}

// WrapResourceError wraps an existing error as a resource error
func WrapResourceError(err error, message string) *ResourceError {
	return &ResourceError{
		Message: message,
		Cause:   err,
	}
}
