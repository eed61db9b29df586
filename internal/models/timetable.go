package models

import (
	"fmt"
	"time"

	apperrors "github.com/rajasatyajit/ferrycast/internal/errors"
	"github.com/rajasatyajit/ferrycast/pkg/utils"
)

// TimetableEntry is one departure slot of a route within a season window.
type TimetableEntry struct {
	ID            int64     `json:"id" db:"id"`
	RouteID       string    `json:"route_id" db:"route_id"`
	DepartureTime string    `json:"departure_time" db:"departure_time"`
	ArrivalTime   string    `json:"arrival_time" db:"arrival_time"`
	SeasonLabel   string    `json:"season_label" db:"season_label"`
	SeasonStart   time.Time `json:"season_start_date" db:"season_start_date"`
	SeasonEnd     time.Time `json:"season_end_date" db:"season_end_date"`
	Active        bool      `json:"active" db:"active"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

// Validate checks the entry's own fields.
func (e TimetableEntry) Validate() error {
	if e.RouteID == "" {
		return apperrors.ValidationError{Field: "route_id", Message: "is required"}
	}
	if _, _, err := utils.ParseClock(e.DepartureTime); err != nil {
		return apperrors.ValidationError{Field: "departure_time", Message: err.Error()}
	}
	if _, _, err := utils.ParseClock(e.ArrivalTime); err != nil {
		return apperrors.ValidationError{Field: "arrival_time", Message: err.Error()}
	}
	if e.SeasonLabel == "" {
		return apperrors.ValidationError{Field: "season_label", Message: "is required"}
	}
	if e.SeasonEnd.Before(e.SeasonStart) {
		return apperrors.ValidationError{
			Field:   "season_end_date",
			Message: fmt.Sprintf("%s is before season start %s", utils.FormatDate(e.SeasonEnd), utils.FormatDate(e.SeasonStart)),
		}
	}
	return nil
}

// Covers reports whether date falls inside the season window, inclusive.
func (e TimetableEntry) Covers(date time.Time) bool {
	d := utils.DateOnly(date)
	return !d.Before(utils.DateOnly(e.SeasonStart)) && !d.After(utils.DateOnly(e.SeasonEnd))
}

// Overlaps reports whether two entries claim the same physical slot on a
// common date.
func (e TimetableEntry) Overlaps(o TimetableEntry) bool {
	if e.RouteID != o.RouteID || e.DepartureTime != o.DepartureTime {
		return false
	}
	if e.SeasonLabel == o.SeasonLabel {
		return false
	}
	return !utils.DateOnly(e.SeasonEnd).Before(utils.DateOnly(o.SeasonStart)) &&
		!utils.DateOnly(o.SeasonEnd).Before(utils.DateOnly(e.SeasonStart))
}

// SailingInstance is a timetable slot resolved onto a concrete date.
type SailingInstance struct {
	RouteID       string    `json:"route_id"`
	Date          time.Time `json:"date"`
	DepartureTime string    `json:"departure_time"`
	ArrivalTime   string    `json:"arrival_time"`
}

// Key returns the forecast key of the sailing.
func (s SailingInstance) Key() SailingKey {
	return SailingKey{Date: utils.DateOnly(s.Date), RouteID: s.RouteID, DepartureTime: s.DepartureTime}
}

// TimetableQuery filters timetable entries.
type TimetableQuery struct {
	Date       *time.Time `json:"date,omitempty"`
	RouteID    string     `json:"route_id,omitempty"`
	ActiveOnly bool       `json:"active_only"`
}

// Matches checks if an entry matches the query criteria
func (q TimetableQuery) Matches(e TimetableEntry) bool {
	if q.ActiveOnly && !e.Active {
		return false
	}
	if q.RouteID != "" && e.RouteID != q.RouteID {
		return false
	}
	if q.Date != nil && !e.Covers(*q.Date) {
		return false
	}
	return true
}
