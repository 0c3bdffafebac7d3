// Package errors defines the typed error values used across the module.
//
// All constructors return values that participate in Go 1.13+ error chains:
// they can be wrapped with fmt.Errorf("...: %w", err) and recovered with
// errors.Is / errors.As. Stack traces are attached via cockroachdb/errors so
// that %+v formatting of a returned error shows where it originated.
package errors

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// Sentinel errors for errors.Is comparisons.
var (
	ErrNotImplemented = errors.New("not implemented")
	ErrInvalidConfig  = errors.New("invalid configuration")
	ErrIncompatible   = errors.New("incompatible update")
	ErrEmptyData      = errors.New("empty data")
)

// Newf and Wrap re-export cockroachdb/errors so call sites that only need a
// stack-traced error, without one of the typed constructors below, can stay
// within this package instead of importing cockroachdb/errors directly.
var (
	Newf = errors.Newf
	Wrap = errors.Wrap
)

// ValueError reports that an argument's value (not its shape) is invalid.
type ValueError struct {
	Op      string
	Message string
}

func (e *ValueError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

// NewValueError creates a ValueError with a stack trace attached.
func NewValueError(op, message string) error {
	return errors.WithStack(&ValueError{Op: op, Message: message})
}

// DimensionError reports a shape mismatch between two arrays/matrices.
type DimensionError struct {
	Op       string
	Expected int
	Got      int
	Dim      int // which axis/dimension mismatched (0-indexed)
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("%s: dimension %d: expected %d, got %d", e.Op, e.Dim, e.Expected, e.Got)
}

// NewDimensionError creates a DimensionError with a stack trace attached.
func NewDimensionError(op string, expected, got, dim int) error {
	return errors.WithStack(&DimensionError{Op: op, Expected: expected, Got: got, Dim: dim})
}

// ValidationError reports that a named field failed validation, carrying the
// offending value for diagnostics.
type ValidationError struct {
	Field   string
	Message string
	Value   interface{}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got %v)", e.Field, e.Message, e.Value)
}

// NewValidationError creates a ValidationError with a stack trace attached.
func NewValidationError(field, message string, value interface{}) error {
	return errors.WithStack(&ValidationError{Field: field, Message: message, Value: value})
}

// NotFittedError reports that a method was called on a model before Fit.
type NotFittedError struct {
	ModelName string
	Method    string
}

func (e *NotFittedError) Error() string {
	return fmt.Sprintf("%s is not fitted, call Fit before %s", e.ModelName, e.Method)
}

// NewNotFittedError creates a NotFittedError with a stack trace attached.
func NewNotFittedError(modelName, method string) error {
	return errors.WithStack(&NotFittedError{ModelName: modelName, Method: method})
}

// ConfigError reports an out-of-range or internally inconsistent hyperparameter.
// Configuration errors are fatal at the API boundary: construction must fail
// rather than proceed with a partially valid fit.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration for %s: %s", e.Field, e.Message)
}

func (e *ConfigError) Unwrap() error { return ErrInvalidConfig }

// NewConfigError creates a ConfigError with a stack trace attached.
func NewConfigError(field, message string) error {
	return errors.WithStack(&ConfigError{Field: field, Message: message})
}

// CompatibilityError reports that a predictor/response update is incompatible
// with the fit's existing tree topology (e.g. too few cut points to cover
// splits already made). Callers get this back as a bool from the relevant
// Set* call; the typed error is retained for logging and tests.
type CompatibilityError struct {
	Op      string
	Message string
}

func (e *CompatibilityError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *CompatibilityError) Unwrap() error { return ErrIncompatible }

// NewCompatibilityError creates a CompatibilityError with a stack trace attached.
func NewCompatibilityError(op, message string) error {
	return errors.WithStack(&CompatibilityError{Op: op, Message: message})
}

// IOError reports a failure persisting or restoring fit state.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// NewIOError creates an IOError wrapping the underlying filesystem error.
func NewIOError(op, path string, cause error) error {
	return errors.WithStack(&IOError{Op: op, Path: path, Err: cause})
}

// ModelError wraps a model-specific failure with its originating model name
// and operation, preserving the wrapped cause for errors.Is/As.
type ModelError struct {
	Model   string
	Message string
	Cause   error
}

func (e *ModelError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Model, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Model, e.Message)
}

func (e *ModelError) Unwrap() error { return e.Cause }

// NewModelError creates a ModelError with a stack trace attached.
func NewModelError(model, message string, cause error) error {
	return errors.WithStack(&ModelError{Model: model, Message: message, Cause: cause})
}
