package models

import (
	"time"

	apperrors "github.com/rajasatyajit/ferrycast/internal/errors"
	"github.com/rajasatyajit/ferrycast/pkg/utils"
)

// OutcomeInput is the wire form of an outcome, with a plain YYYY-MM-DD date.
type OutcomeInput struct {
	Date          string `json:"date"`
	RouteID       string `json:"route_id"`
	DepartureTime string `json:"departure_time,omitempty"`
	Status        string `json:"status"`
	Source        string `json:"source,omitempty"`
}

// Record converts and validates the input.
func (in OutcomeInput) Record(now time.Time) (OutcomeRecord, error) {
	d, err := utils.ParseDate(in.Date)
	if err != nil {
		return OutcomeRecord{}, apperrors.ValidationError{Field: "date", Message: err.Error()}
	}
	if in.DepartureTime != "" {
		if _, _, err := utils.ParseClock(in.DepartureTime); err != nil {
			return OutcomeRecord{}, apperrors.ValidationError{Field: "departure_time", Message: err.Error()}
		}
	}
	st, err := ParseOperationStatus(in.Status)
	if err != nil {
		return OutcomeRecord{}, apperrors.ValidationError{Field: "status", Message: err.Error()}
	}
	o := OutcomeRecord{Date: d, RouteID: in.RouteID, DepartureTime: in.DepartureTime, Status: st, Source: in.Source, RecordedAt: now.UTC()}
	if o.Source == "" {
		o.Source = "manual"
	}
	return o, o.Validate()
}

// WeatherInput is the wire form of a weather sample.
type WeatherInput struct {
	Location    string   `json:"location"`
	Date        string   `json:"date"`
	Hour        int      `json:"hour"`
	WindSpeed   *float64 `json:"wind_speed,omitempty"`
	WaveHeight  *float64 `json:"wave_height,omitempty"`
	Visibility  *float64 `json:"visibility,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	Source      string   `json:"source,omitempty"`
}

// Sample converts and validates the input.
func (in WeatherInput) Sample(now time.Time) (WeatherSample, error) {
	d, err := utils.ParseDate(in.Date)
	if err != nil {
		return WeatherSample{}, apperrors.ValidationError{Field: "date", Message: err.Error()}
	}
	s := WeatherSample{
		Location:    in.Location,
		Date:        d,
		Hour:        in.Hour,
		WindSpeed:   in.WindSpeed,
		WaveHeight:  in.WaveHeight,
		Visibility:  in.Visibility,
		Temperature: in.Temperature,
		Source:      in.Source,
		CollectedAt: now.UTC(),
	}
	if s.Source == "" {
		s.Source = "manual"
	}
	return s, s.Validate()
}
