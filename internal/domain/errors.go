// Package domain defines core types, interfaces, and errors for the pipeline.
package domain

import (
	"context"
	"errors"
	"fmt"
)

// NotFoundError indicates a resource (object, run, dataset) was not found.
type NotFoundError struct {
	Message string
}

func (e *NotFoundError) Error() string { return e.Message }

// ValidationError indicates invalid input or an invalid task graph.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// ConflictError indicates a conflict (e.g., a run already active for an interval).
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string { return e.Message }

// TransferError indicates a transient network or storage failure. Retryable.
type TransferError struct {
	Message string
}

func (e *TransferError) Error() string { return e.Message }

// ConnectionError indicates a transient database connectivity failure. Retryable.
type ConnectionError struct {
	Message string
}

func (e *ConnectionError) Error() string { return e.Message }

// SchemaMismatchError indicates source data whose columns do not match the
// declared schema. Not retryable; requires an upstream data fix.
type SchemaMismatchError struct {
	Message string
}

func (e *SchemaMismatchError) Error() string { return e.Message }

// SchemaInferenceError indicates a schema could not be inferred from the
// referenced files. Not retryable.
type SchemaInferenceError struct {
	Message string
}

func (e *SchemaInferenceError) Error() string { return e.Message }

// ConstraintViolationError indicates the destination rejected rows on a
// constraint. Not retryable; signals a data-quality defect upstream.
type ConstraintViolationError struct {
	Message string
}

func (e *ConstraintViolationError) Error() string { return e.Message }

// ConfigError indicates missing or inconsistent configuration. Surfaced
// immediately, never retried.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string { return e.Message }

// ErrNotFound creates a NotFoundError with a formatted message.
func ErrNotFound(format string, args ...interface{}) *NotFoundError {
	return &NotFoundError{Message: fmt.Sprintf(format, args...)}
}

// ErrValidation creates a ValidationError with a formatted message.
func ErrValidation(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// ErrConflict creates a ConflictError with a formatted message.
func ErrConflict(format string, args ...interface{}) *ConflictError {
	return &ConflictError{Message: fmt.Sprintf(format, args...)}
}

// ErrTransfer creates a TransferError with a formatted message.
func ErrTransfer(format string, args ...interface{}) *TransferError {
	return &TransferError{Message: fmt.Sprintf(format, args...)}
}

// ErrConnection creates a ConnectionError with a formatted message.
func ErrConnection(format string, args ...interface{}) *ConnectionError {
	return &ConnectionError{Message: fmt.Sprintf(format, args...)}
}

// ErrSchemaMismatch creates a SchemaMismatchError with a formatted message.
func ErrSchemaMismatch(format string, args ...interface{}) *SchemaMismatchError {
	return &SchemaMismatchError{Message: fmt.Sprintf(format, args...)}
}

// ErrSchemaInference creates a SchemaInferenceError with a formatted message.
func ErrSchemaInference(format string, args ...interface{}) *SchemaInferenceError {
	return &SchemaInferenceError{Message: fmt.Sprintf(format, args...)}
}

// ErrConstraintViolation creates a ConstraintViolationError with a formatted message.
func ErrConstraintViolation(format string, args ...interface{}) *ConstraintViolationError {
	return &ConstraintViolationError{Message: fmt.Sprintf(format, args...)}
}

// ErrConfig creates a ConfigError with a formatted message.
func ErrConfig(format string, args ...interface{}) *ConfigError {
	return &ConfigError{Message: fmt.Sprintf(format, args...)}
}

// Error classes recorded on failed task runs.
const (
	ErrorClassTransient   = "TRANSIENT"
	ErrorClassFatalData   = "FATAL_DATA"
	ErrorClassFatalConfig = "FATAL_CONFIG"
	ErrorClassUnknown     = "UNKNOWN"
)

// IsTransient reports whether err is worth retrying: transfer and connection
// failures are, and so is an attempt that ran out of wall-clock time. A
// timeout says nothing about the data, only about this attempt.
func IsTransient(err error) bool {
	var transfer *TransferError
	var conn *ConnectionError
	return errors.As(err, &transfer) || errors.As(err, &conn) ||
		errors.Is(err, context.DeadlineExceeded)
}

// ClassifyError maps an error to the class recorded on its task run.
func ClassifyError(err error) string {
	var transfer *TransferError
	var conn *ConnectionError
	var mismatch *SchemaMismatchError
	var inference *SchemaInferenceError
	var constraint *ConstraintViolationError
	var config *ConfigError

	switch {
	case errors.As(err, &transfer), errors.As(err, &conn), errors.Is(err, context.DeadlineExceeded):
		return ErrorClassTransient
	case errors.As(err, &mismatch), errors.As(err, &inference), errors.As(err, &constraint):
		return ErrorClassFatalData
	case errors.As(err, &config):
		return ErrorClassFatalConfig
	default:
		return ErrorClassUnknown
	}
}
