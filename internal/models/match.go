package models

import (
	"time"

	"github.com/rajasatyajit/ferrycast/pkg/utils"
)

// Granularity tells whether a match was made per sailing or per route/day.
type Granularity string

const (
	GranularitySailing Granularity = "sailing"
	GranularityRoute   Granularity = "route"
)

// MatchedPrediction joins a forecast with its observed outcome.
// DepartureTime is empty for route-level matches.
type MatchedPrediction struct {
	ForecastDate          time.Time       `json:"forecast_date" db:"forecast_date"`
	RouteID               string          `json:"route_id" db:"route_id"`
	DepartureTime         string          `json:"departure_time" db:"departure_time"`
	Granularity           Granularity     `json:"granularity" db:"granularity"`
	RiskLevel             RiskLevel       `json:"risk_level" db:"risk_level"`
	RiskScore             float64         `json:"risk_score" db:"risk_score"`
	ActualStatus          OperationStatus `json:"actual_status" db:"actual_status"`
	PredictedCancellation bool            `json:"predicted_cancellation" db:"predicted_cancellation"`
	ActualCancellation    bool            `json:"actual_cancellation" db:"actual_cancellation"`
	Correct               bool            `json:"correct" db:"correct"`
	FalsePositive         bool            `json:"false_positive" db:"false_positive"`
	FalseNegative         bool            `json:"false_negative" db:"false_negative"`
	Error                 float64         `json:"error" db:"error"`
	MatchedAt             time.Time       `json:"matched_at" db:"matched_at"`
}

// Key returns the upsert key of the match.
func (m MatchedPrediction) Key() SailingKey {
	return SailingKey{Date: utils.DateOnly(m.ForecastDate), RouteID: m.RouteID, DepartureTime: m.DepartureTime}
}

// SameResult compares everything except MatchedAt.
func (m MatchedPrediction) SameResult(o MatchedPrediction) bool {
	m.MatchedAt, o.MatchedAt = time.Time{}, time.Time{}
	m.ForecastDate, o.ForecastDate = utils.DateOnly(m.ForecastDate), utils.DateOnly(o.ForecastDate)
	return m == o
}
