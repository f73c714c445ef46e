// Package errors provides custom error types for domain-specific errors.
package errors

import (
	"errors"
	"fmt"
)

// Standard sentinel errors
var (
	ErrInvalidSpot       = errors.New("invalid spot price")
	ErrInvalidOptionType = errors.New("invalid option type")
	ErrInvalidPosition   = errors.New("invalid position")
	ErrInvalidLeg        = errors.New("invalid instrument leg")
	ErrInvalidGrid       = errors.New("invalid price grid configuration")
	ErrUnknownStrategy   = errors.New("unknown strategy")
	ErrUnknownToken      = errors.New("unknown token")
	ErrPriceUnavailable  = errors.New("spot price unavailable")
	ErrLegNotFound       = errors.New("instrument not found")
	ErrNotInBuilder      = errors.New("operation requires builder mode")
	ErrMisalignedCurves  = errors.New("curves are not evaluated over the same grid")
	ErrConfigInvalid     = errors.New("invalid configuration")
	ErrDataNotFound      = errors.New("data not found")
	ErrDatabaseError     = errors.New("database error")
	ErrInputValidation   = errors.New("input validation failed")
)

// InvalidSpotError reports a spot price that is missing, non-finite or not positive.
// No recomputation may happen with such a value.
type InvalidSpotError struct {
	Value float64
}

func (e *InvalidSpotError) Error() string {
	return fmt.Sprintf("invalid spot price: %v", e.Value)
}

// Is makes errors.Is(err, ErrInvalidSpot) hold.
func (e *InvalidSpotError) Is(target error) bool {
	return target == ErrInvalidSpot
}

// NewInvalidSpotError creates a new InvalidSpotError.
func NewInvalidSpotError(value float64) *InvalidSpotError {
	return &InvalidSpotError{Value: value}
}

// InvalidOptionTypeError reports an option type other than call or put.
type InvalidOptionTypeError struct {
	Type string
}

func (e *InvalidOptionTypeError) Error() string {
	return fmt.Sprintf("invalid option type %q: use 'call' or 'put'", e.Type)
}

func (e *InvalidOptionTypeError) Is(target error) bool {
	return target == ErrInvalidOptionType
}

// NewInvalidOptionTypeError creates a new InvalidOptionTypeError.
func NewInvalidOptionTypeError(t string) *InvalidOptionTypeError {
	return &InvalidOptionTypeError{Type: t}
}

// LegError ties a failure to the leg of a strategy that produced it.
type LegError struct {
	Index int
	Label string
	Err   error
}

func (e *LegError) Error() string {
	if e.Label != "" {
		return fmt.Sprintf("leg %d (%s): %v", e.Index+1, e.Label, e.Err)
	}
	return fmt.Sprintf("leg %d: %v", e.Index+1, e.Err)
}

func (e *LegError) Unwrap() error {
	return e.Err
}

// NewLegError creates a new LegError.
func NewLegError(index int, label string, err error) *LegError {
	return &LegError{
		Index: index,
		Label: label,
		Err:   err,
	}
}

// PriceError represents a failure of the spot price source.
type PriceError struct {
	Token   string
	Source  string
	Message string
	Err     error
}

func (e *PriceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("price error [%s] %s: %s: %v", e.Source, e.Token, e.Message, e.Err)
	}
	return fmt.Sprintf("price error [%s] %s: %s", e.Source, e.Token, e.Message)
}

func (e *PriceError) Unwrap() error {
	return e.Err
}

// NewPriceError creates a new PriceError.
func NewPriceError(token, source, message string, err error) *PriceError {
	return &PriceError{
		Token:   token,
		Source:  source,
		Message: message,
		Err:     err,
	}
}

// ValidationError represents a validation error.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s (%v): %s", e.Field, e.Value, e.Message)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrInputValidation
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field string, value interface{}, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
	}
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
