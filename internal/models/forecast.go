package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/rajasatyajit/ferrycast/pkg/utils"
)

// RiskLevel is the ordinal bucket derived from a risk score.
type RiskLevel string

const (
	RiskMinimal RiskLevel = "MINIMAL"
	RiskLow     RiskLevel = "LOW"
	RiskMedium  RiskLevel = "MEDIUM"
	RiskHigh    RiskLevel = "HIGH"
	RiskUnknown RiskLevel = "UNKNOWN"
)

// PredictsCancellation reports whether the level counts as a predicted
// cancellation when matched against outcomes.
func (l RiskLevel) PredictsCancellation() bool {
	return l == RiskHigh || l == RiskMedium
}

// ParseRiskLevel parses a level name, case-insensitively.
func ParseRiskLevel(s string) (RiskLevel, error) {
	switch l := RiskLevel(strings.ToUpper(strings.TrimSpace(s))); l {
	case RiskMinimal, RiskLow, RiskMedium, RiskHigh, RiskUnknown:
		return l, nil
	}
	return "", fmt.Errorf("unknown risk level %q", s)
}

// SailingKey identifies one sailing on one date.
type SailingKey struct {
	Date          time.Time `json:"date"`
	RouteID       string    `json:"route_id"`
	DepartureTime string    `json:"departure_time"`
}

func (k SailingKey) String() string {
	return utils.FormatDate(k.Date) + "/" + k.RouteID + "/" + k.DepartureTime
}

// SailingForecast is the risk assessment of one sailing.
type SailingForecast struct {
	ForecastDate        time.Time    `json:"forecast_date" db:"forecast_date"`
	RouteID             string       `json:"route_id" db:"route_id"`
	DepartureTime       string       `json:"departure_time" db:"departure_time"`
	ArrivalTime         string       `json:"arrival_time" db:"arrival_time"`
	RiskLevel           RiskLevel    `json:"risk_level" db:"risk_level"`
	RiskScore           float64      `json:"risk_score" db:"risk_score"`
	ContributingFactors []string     `json:"contributing_factors" db:"contributing_factors"`
	WindSpeed           *float64     `json:"wind_speed,omitempty" db:"wind_speed"`
	WaveHeight          *float64     `json:"wave_height,omitempty" db:"wave_height"`
	Visibility          *float64     `json:"visibility,omitempty" db:"visibility"`
	Temperature         *float64     `json:"temperature,omitempty" db:"temperature"`
	DefaultsApplied     []string     `json:"defaults_applied,omitempty" db:"defaults_applied"`
	SampleCount         int          `json:"sample_count" db:"sample_count"`
	Confidence          float64      `json:"confidence" db:"confidence"`
	RecommendedAction   string       `json:"recommended_action" db:"recommended_action"`
	Thresholds          ThresholdSet `json:"thresholds" db:"thresholds"`
	GeneratedAt         time.Time    `json:"generated_at" db:"generated_at"`
}

// Key returns the upsert key of the forecast.
func (f SailingForecast) Key() SailingKey {
	return SailingKey{Date: utils.DateOnly(f.ForecastDate), RouteID: f.RouteID, DepartureTime: f.DepartureTime}
}

// ForecastQuery represents query parameters for filtering forecasts
type ForecastQuery struct {
	From     time.Time   `json:"from"`
	Until    time.Time   `json:"until"`
	RouteIDs []string    `json:"route_ids"`
	Levels   []RiskLevel `json:"levels"`
	Limit    int         `json:"limit"`
	Offset   int         `json:"offset"`
}

// Matches checks if a forecast matches the query criteria. From and Until
// are inclusive calendar dates.
func (q ForecastQuery) Matches(f SailingForecast) bool {
	d := utils.DateOnly(f.ForecastDate)
	if !q.From.IsZero() && d.Before(utils.DateOnly(q.From)) {
		return false
	}
	if !q.Until.IsZero() && d.After(utils.DateOnly(q.Until)) {
		return false
	}
	if len(q.RouteIDs) > 0 && !contains(q.RouteIDs, f.RouteID) {
		return false
	}
	if len(q.Levels) > 0 {
		found := false
		for _, l := range q.Levels {
			if l == f.RiskLevel {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
