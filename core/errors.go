package core

import (
	"fmt"

	"github.com/pkg/errors"
)

// FieldError is used to indicate an error with a specific struct field.
type FieldError struct {
	Field string
	Error string
}

// ValidationError is returned for malformed or unbalanced requests: the caller's fault.
type ValidationError struct {
	Err    error
	Fields []FieldError
}

func NewValidationError(err error, flds ...FieldError) error {
	return &ValidationError{err, flds}
}

func (err ValidationError) Error() string {
	if err.Err == nil {
		return ""
	}
	return err.Err.Error()
}

// NotFoundError is returned when a referenced entity does not exist.
type NotFoundError struct {
	Entity string
	ID     string
}

func NewNotFoundError(entity, id string) error {
	return &NotFoundError{Entity: entity, ID: id}
}

func (err NotFoundError) Error() string {
	if err.ID == "" {
		return err.Entity + " not found"
	}
	return fmt.Sprintf("%s %q not found", err.Entity, err.ID)
}

// ConflictError is returned on uniqueness or concurrent-update collisions. Retrying with fresh data may succeed.
type ConflictError struct {
	Err error
}

func NewConflictError(msg string) error {
	return &ConflictError{Err: errors.New(msg)}
}

func (err ConflictError) Error() string {
	if err.Err == nil {
		return "conflict"
	}
	return err.Err.Error()
}

// DuplicateError is returned when a generated unique identifier (e.g. a voucher number) already exists.
type DuplicateError struct {
	Field string
	Value string
}

func NewDuplicateError(field, value string) error {
	return &DuplicateError{Field: field, Value: value}
}

func (err DuplicateError) Error() string {
	if err.Value == "" {
		return "duplicate " + err.Field
	}
	return fmt.Sprintf("duplicate %s %q", err.Field, err.Value)
}

// StorageError is returned when the storage backend is unreachable or rejected a write.
// The operation must be assumed NOT applied.
type StorageError struct {
	Op  string
	Err error
}

func NewStorageError(op string, err error) error {
	return &StorageError{Op: op, Err: err}
}

func (err StorageError) Error() string {
	if err.Err == nil {
		return err.Op
	}
	return err.Op + ": " + err.Err.Error()
}

func (err StorageError) Unwrap() error { return err.Err }

func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

func IsConflict(err error) bool {
	var target *ConflictError
	return errors.As(err, &target)
}

func IsDuplicate(err error) bool {
	var target *DuplicateError
	return errors.As(err, &target)
}

type shutdown struct {
	message string
}

func NewShutdownError(msg string) error {
	return &shutdown{message: msg}
}

func (s shutdown) Error() string {
	return s.message
}

func IsShutdown(err error) bool {
	_, ok := errors.Cause(err).(*shutdown)
	return ok
}
