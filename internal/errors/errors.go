package errors

import (
	"errors"
	"fmt"
)

// Failure categories. None of these are fatal to a batch run; callers
// degrade to a documented fallback and log the context.
var (
	ErrNotFound     = errors.New("resource not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrConflict     = errors.New("resource conflict")
	ErrTimeout      = errors.New("operation timeout")

	// ErrDataAbsent marks a missing timetable entry, weather sample or outcome.
	ErrDataAbsent = errors.New("data absent")
	// ErrInsufficientData marks an operation that needs more observations.
	ErrInsufficientData = errors.New("insufficient data")
	// ErrInconsistentGranularity marks an outcome feed reporting per-route
	// status where per-sailing status was expected, or the reverse.
	ErrInconsistentGranularity = errors.New("inconsistent outcome granularity")
	// ErrPersistenceConflict marks an upsert that replaced a row written by
	// a concurrent run.
	ErrPersistenceConflict = errors.New("persistence conflict")
	// ErrStaleProposal marks a threshold proposal computed against thresholds
	// that are no longer current.
	ErrStaleProposal = errors.New("stale threshold proposal")
)

// ValidationError represents a validation error
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

// Unwrap lets errors.Is match ValidationError against ErrInvalidInput.
func (e ValidationError) Unwrap() error {
	return ErrInvalidInput
}

// InsufficientDataError reports how many observations an operation had and
// how many it needed.
type InsufficientDataError struct {
	Operation string `json:"operation"`
	Have      int    `json:"have"`
	Need      int    `json:"need"`
}

func (e InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient data for %s: have %d, need %d", e.Operation, e.Have, e.Need)
}

func (e InsufficientDataError) Unwrap() error {
	return ErrInsufficientData
}

// MultiError represents multiple errors
type MultiError struct {
	Errors []error `json:"errors"`
}

func (e MultiError) Error() string {
	if len(e.Errors) == 0 {
		return "no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("%s (and %d more errors)", e.Errors[0].Error(), len(e.Errors)-1)
}

// Add adds an error to the MultiError
func (e *MultiError) Add(err error) {
	if err != nil {
		e.Errors = append(e.Errors, err)
	}
}

// HasErrors returns true if there are any errors
func (e *MultiError) HasErrors() bool {
	return len(e.Errors) > 0
}

// ErrorOrNil returns nil when nothing was collected.
func (e *MultiError) ErrorOrNil() error {
	if !e.HasErrors() {
		return nil
	}
	return *e
}

// Unwrap exposes the collected errors to errors.Is and errors.As.
func (e MultiError) Unwrap() []error {
	return e.Errors
}

// DatabaseError represents a database-related error
type DatabaseError struct {
	Operation string
	Err       error
}

func (e DatabaseError) Error() string {
	return fmt.Sprintf("database error during %s: %v", e.Operation, e.Err)
}

func (e DatabaseError) Unwrap() error {
	return e.Err
}

// JobError represents a failed batch job step.
type JobError struct {
	Job   string
	Stage string
	Err   error
}

func (e JobError) Error() string {
	return fmt.Sprintf("job %s failed at stage %s: %v", e.Job, e.Stage, e.Err)
}

func (e JobError) Unwrap() error {
	return e.Err
}
