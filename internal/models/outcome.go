package models

import (
	"fmt"
	"strings"
	"time"

	apperrors "github.com/rajasatyajit/ferrycast/internal/errors"
)

// OperationStatus is the observed operational status of a sailing or route.
type OperationStatus string

const (
	StatusOperating OperationStatus = "OPERATING"
	StatusCancelled OperationStatus = "CANCELLED"
	StatusDelayed   OperationStatus = "DELAYED"
)

// Disrupted reports whether the status counts as an actual cancellation.
func (s OperationStatus) Disrupted() bool {
	return s == StatusCancelled || s == StatusDelayed
}

// ParseOperationStatus parses a status name, case-insensitively.
func ParseOperationStatus(s string) (OperationStatus, error) {
	switch st := OperationStatus(strings.ToUpper(strings.TrimSpace(s))); st {
	case StatusOperating, StatusCancelled, StatusDelayed:
		return st, nil
	}
	return "", fmt.Errorf("unknown operation status %q", s)
}

// OutcomeRecord is an externally supplied operational status. An empty
// DepartureTime marks a route-level (whole day) record.
type OutcomeRecord struct {
	Date          time.Time       `json:"date" db:"date"`
	RouteID       string          `json:"route_id" db:"route_id"`
	DepartureTime string          `json:"departure_time,omitempty" db:"departure_time"`
	Status        OperationStatus `json:"status" db:"status"`
	Source        string          `json:"source,omitempty" db:"source"`
	RecordedAt    time.Time       `json:"recorded_at" db:"recorded_at"`
}

// RouteLevel reports whether the record describes the whole route/day.
func (o OutcomeRecord) RouteLevel() bool {
	return o.DepartureTime == ""
}

// Validate checks required fields.
func (o OutcomeRecord) Validate() error {
	if o.Date.IsZero() {
		return apperrors.ValidationError{Field: "date", Message: "is required"}
	}
	if o.RouteID == "" {
		return apperrors.ValidationError{Field: "route_id", Message: "is required"}
	}
	if _, err := ParseOperationStatus(string(o.Status)); err != nil {
		return apperrors.ValidationError{Field: "status", Message: err.Error()}
	}
	return nil
}
