package errors

import (
	"errors"
	"testing"
)

func TestValidationError_Error(t *testing.T) {
	err := ValidationError{
		Field:   "medium",
		Message: "must be below high",
	}

	expected := "validation error on field 'medium': must be below high"
	if err.Error() != expected {
		t.Errorf("Expected %s, got %s", expected, err.Error())
	}
	if !errors.Is(err, ErrInvalidInput) {
		t.Error("ValidationError should match ErrInvalidInput")
	}
}

func TestInsufficientDataError(t *testing.T) {
	var err error = InsufficientDataError{Operation: "threshold search", Have: 12, Need: 20}

	if err.Error() != "insufficient data for threshold search: have 12, need 20" {
		t.Errorf("unexpected message: %s", err.Error())
	}
	if !errors.Is(err, ErrInsufficientData) {
		t.Error("expected errors.Is to match ErrInsufficientData")
	}

	var target InsufficientDataError
	if !errors.As(err, &target) || target.Need != 20 {
		t.Errorf("errors.As failed: %+v", target)
	}
}

func TestMultiError_Error(t *testing.T) {
	tests := []struct {
		name     string
		errors   []error
		expected string
	}{
		{
			name:     "No errors",
			errors:   []error{},
			expected: "no errors",
		},
		{
			name:     "Single error",
			errors:   []error{errors.New("first error")},
			expected: "first error",
		},
		{
			name:     "Multiple errors",
			errors:   []error{errors.New("first error"), errors.New("second error")},
			expected: "first error (and 1 more errors)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			me := MultiError{Errors: tt.errors}
			if got := me.Error(); got != tt.expected {
				t.Errorf("Expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestMultiError_AddAndUnwrap(t *testing.T) {
	var me MultiError
	if me.ErrorOrNil() != nil {
		t.Fatal("empty MultiError should be nil")
	}

	me.Add(nil)
	me.Add(ErrDataAbsent)
	me.Add(DatabaseError{Operation: "upsert forecast", Err: ErrPersistenceConflict})

	if len(me.Errors) != 2 {
		t.Fatalf("expected 2 errors, got %d", len(me.Errors))
	}

	err := me.ErrorOrNil()
	if !errors.Is(err, ErrDataAbsent) {
		t.Error("expected ErrDataAbsent in chain")
	}
	if !errors.Is(err, ErrPersistenceConflict) {
		t.Error("expected ErrPersistenceConflict through DatabaseError")
	}
}

func TestJobError(t *testing.T) {
	err := JobError{Job: "match", Stage: "load outcomes", Err: ErrTimeout}
	if err.Error() != "job match failed at stage load outcomes: operation timeout" {
		t.Errorf("unexpected message: %s", err.Error())
	}
	if !errors.Is(err, ErrTimeout) {
		t.Error("expected unwrap to ErrTimeout")
	}
}
