package models

import (
	"fmt"
	"time"

	apperrors "github.com/rajasatyajit/ferrycast/internal/errors"
)

// WeatherSample is one hour-aligned observation or forecast for a location.
// Nil factor fields mean the source did not report that factor.
type WeatherSample struct {
	Location    string    `json:"location" db:"location"`
	Date        time.Time `json:"date" db:"date"`
	Hour        int       `json:"hour" db:"hour"`
	WindSpeed   *float64  `json:"wind_speed,omitempty" db:"wind_speed"`
	WaveHeight  *float64  `json:"wave_height,omitempty" db:"wave_height"`
	Visibility  *float64  `json:"visibility,omitempty" db:"visibility"`
	Temperature *float64  `json:"temperature,omitempty" db:"temperature"`
	Source      string    `json:"source" db:"source"`
	CollectedAt time.Time `json:"collected_at" db:"collected_at"`
}

// Empty reports whether the sample carries no factor at all.
func (s WeatherSample) Empty() bool {
	return s.WindSpeed == nil && s.WaveHeight == nil && s.Visibility == nil && s.Temperature == nil
}

// Float returns a pointer to v, for building samples.
func Float(v float64) *float64 {
	return &v
}

// Validate checks the sample key.
func (s WeatherSample) Validate() error {
	if s.Location == "" {
		return apperrors.ValidationError{Field: "location", Message: "is required"}
	}
	if s.Date.IsZero() {
		return apperrors.ValidationError{Field: "date", Message: "is required"}
	}
	if s.Hour < 0 || s.Hour > 23 {
		return apperrors.ValidationError{Field: "hour", Message: fmt.Sprintf("must be within 0..23, got %d", s.Hour)}
	}
	return nil
}
