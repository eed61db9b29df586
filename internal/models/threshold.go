package models

import (
	"fmt"
	"math"
	"time"

	apperrors "github.com/rajasatyajit/ferrycast/internal/errors"
)

// ThresholdSet holds the score cut-points mapping risk_score to risk_level.
// Values are never mutated in place; Rescale returns a new set.
type ThresholdSet struct {
	High   float64 `json:"high" db:"high"`
	Medium float64 `json:"medium" db:"medium"`
	Low    float64 `json:"low" db:"low"`
}

// DefaultThresholds returns the rule-based starting cut-points.
func DefaultThresholds() ThresholdSet {
	return ThresholdSet{High: 70, Medium: 40, Low: 20}
}

// Validate enforces high > medium > low >= 0.
func (t ThresholdSet) Validate() error {
	for name, v := range map[string]float64{"high": t.High, "medium": t.Medium, "low": t.Low} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return apperrors.ValidationError{Field: name, Message: "must be finite"}
		}
	}
	if t.Low < 0 {
		return apperrors.ValidationError{Field: "low", Message: fmt.Sprintf("must be >= 0, got %g", t.Low)}
	}
	if t.Medium <= t.Low {
		return apperrors.ValidationError{Field: "medium", Message: fmt.Sprintf("must exceed low (%g <= %g)", t.Medium, t.Low)}
	}
	if t.High <= t.Medium {
		return apperrors.ValidationError{Field: "high", Message: fmt.Sprintf("must exceed medium (%g <= %g)", t.High, t.Medium)}
	}
	return nil
}

// Level maps a score to a risk level. Scores above 100 are treated as 100.
func (t ThresholdSet) Level(score float64) RiskLevel {
	s := math.Min(score, 100)
	switch {
	case s >= t.High:
		return RiskHigh
	case s >= t.Medium:
		return RiskMedium
	case s >= t.Low:
		return RiskLow
	default:
		return RiskMinimal
	}
}

// Rescale applies a new medium cut-point and scales high and low by the
// same ratio, preserving their relative ordering.
func (t ThresholdSet) Rescale(newMedium float64) (ThresholdSet, error) {
	if err := t.Validate(); err != nil {
		return ThresholdSet{}, err
	}
	if newMedium <= 0 || math.IsNaN(newMedium) || math.IsInf(newMedium, 0) {
		return ThresholdSet{}, apperrors.ValidationError{Field: "medium", Message: fmt.Sprintf("new value must be positive, got %g", newMedium)}
	}
	ratio := newMedium / t.Medium
	next := ThresholdSet{
		High:   t.High * ratio,
		Medium: newMedium,
		Low:    t.Low * ratio,
	}
	if err := next.Validate(); err != nil {
		return ThresholdSet{}, fmt.Errorf("rescale by %.4f: %w", ratio, err)
	}
	return next, nil
}

// AdjustmentKind distinguishes proposals from adoptions in the log.
type AdjustmentKind string

const (
	AdjustmentProposal AdjustmentKind = "proposal"
	AdjustmentAdoption AdjustmentKind = "adoption"
)

// ThresholdAdjustment is an append-only log entry for a proposed or
// adopted change of thresholds.
type ThresholdAdjustment struct {
	ID              string         `json:"id" db:"id"`
	Kind            AdjustmentKind `json:"kind" db:"kind"`
	ProposalID      string         `json:"proposal_id,omitempty" db:"proposal_id"`
	Old             ThresholdSet   `json:"old" db:"old"`
	New             ThresholdSet   `json:"new" db:"new"`
	Metric          Metric         `json:"metric" db:"metric"`
	OldMetrics      MetricSummary  `json:"old_metrics" db:"old_metrics"`
	ExpectedMetrics MetricSummary  `json:"expected_metrics" db:"expected_metrics"`
	ExpectedDelta   float64        `json:"expected_delta" db:"expected_delta"`
	DataPoints      int            `json:"data_points" db:"data_points"`
	Stage           int            `json:"stage" db:"stage"`
	Reason          string         `json:"reason" db:"reason"`
	CreatedAt       time.Time      `json:"created_at" db:"created_at"`
}
