// Package schedule resolves which sailings run on a given date from the
// seasonal timetable and maintains the timetable's coverage.
package schedule

import (
	"context"
	"fmt"
	"time"

	"code.cloudfoundry.org/clock"

	apperrors "github.com/rajasatyajit/ferrycast/internal/errors"
	"github.com/rajasatyajit/ferrycast/internal/logger"
	"github.com/rajasatyajit/ferrycast/internal/models"
	"github.com/rajasatyajit/ferrycast/internal/routes"
	"github.com/rajasatyajit/ferrycast/internal/store"
	"github.com/rajasatyajit/ferrycast/pkg/utils"
)

// Model answers timetable questions against a TimetableStore.
type Model struct {
	store    store.TimetableStore
	routes   *routes.Table
	patterns []Pattern
	clock    clock.Clock
	loc      *time.Location
}

// Option configures a Model.
type Option func(*Model)

// WithClock overrides the wall clock used for "today".
func WithClock(c clock.Clock) Option {
	return func(m *Model) { m.clock = c }
}

// WithLocation sets the zone in which "today" is evaluated.
func WithLocation(loc *time.Location) Option {
	return func(m *Model) { m.loc = loc }
}

// WithPatterns replaces the embedded seasonal patterns.
func WithPatterns(p []Pattern) Option {
	return func(m *Model) { m.patterns = p }
}

// New creates a schedule model.
func New(s store.TimetableStore, table *routes.Table, opts ...Option) (*Model, error) {
	m := &Model{store: s, routes: table, clock: clock.NewClock(), loc: time.UTC}
	for _, opt := range opts {
		opt(m)
	}
	if m.patterns == nil {
		p, err := DefaultPatterns()
		if err != nil {
			return nil, err
		}
		m.patterns = p
	}
	return m, nil
}

// Today returns the current calendar date in the model's zone.
func (m *Model) Today() time.Time {
	return utils.DateIn(m.clock.Now(), m.loc)
}

// ActiveSailings returns the sailings that run on date, ordered by
// departure time. A date without coverage yields an empty list.
func (m *Model) ActiveSailings(ctx context.Context, date time.Time) ([]models.SailingInstance, error) {
	d := utils.DateOnly(date)
	entries, err := m.store.ListTimetable(ctx, models.TimetableQuery{Date: &d, ActiveOnly: true})
	if err != nil {
		return nil, fmt.Errorf("list timetable for %s: %w", utils.FormatDate(d), err)
	}

	sailings := make([]models.SailingInstance, 0, len(entries))
	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		s := models.SailingInstance{RouteID: e.RouteID, Date: d, DepartureTime: e.DepartureTime, ArrivalTime: e.ArrivalTime}
		k := s.Key().String()
		if seen[k] {
			// overlapping seasons are rejected at populate time; keep the first if one slipped in
			logger.WithComponent("schedule").Warn("Duplicate sailing in timetable", "sailing", k, "season", e.SeasonLabel)
			continue
		}
		seen[k] = true
		sailings = append(sailings, s)
	}
	return sailings, nil
}

// Deprecate marks entries whose season ended before cutoff inactive.
// A zero cutoff means yesterday. Rows are never deleted.
func (m *Model) Deprecate(ctx context.Context, cutoff time.Time) (int, error) {
	if cutoff.IsZero() {
		cutoff = m.Today().AddDate(0, 0, -1)
	}
	n, err := m.store.DeactivateTimetableBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("deprecate timetable before %s: %w", utils.FormatDate(cutoff), err)
	}
	logger.WithComponent("schedule").Info("Deprecated timetable entries", "cutoff", utils.FormatDate(cutoff), "count", n)
	return n, nil
}

// Populate expands the seasonal patterns for fromYear..toYear and inserts
// entries not present yet. It refuses to write if any entry would overlap
// an existing or generated entry for the same route and departure.
func (m *Model) Populate(ctx context.Context, fromYear, toYear int) (int, error) {
	generated, err := Expand(m.patterns, m.routes, fromYear, toYear)
	if err != nil {
		return 0, err
	}
	existing, err := m.store.ListTimetable(ctx, models.TimetableQuery{})
	if err != nil {
		return 0, fmt.Errorf("list timetable: %w", err)
	}
	if err := checkOverlaps(existing, generated); err != nil {
		return 0, err
	}

	n, err := m.store.UpsertTimetableEntries(ctx, generated)
	if err != nil {
		return n, fmt.Errorf("insert timetable entries: %w", err)
	}
	logger.WithComponent("schedule").Info("Populated timetable",
		"from_year", fromYear, "to_year", toYear, "generated", len(generated), "inserted", n)
	return n, nil
}

func checkOverlaps(existing, generated []models.TimetableEntry) error {
	var errs apperrors.MultiError
	all := append(append([]models.TimetableEntry{}, existing...), generated...)
	for i, g := range generated {
		for j, o := range all {
			if j == len(existing)+i {
				continue
			}
			if g.Overlaps(o) {
				errs.Add(fmt.Errorf("%w: %s %s season %s overlaps %s", apperrors.ErrConflict,
					g.RouteID, g.DepartureTime, g.SeasonLabel, o.SeasonLabel))
			}
		}
	}
	return errs.ErrorOrNil()
}

// Coverage describes how far ahead the active timetable reaches.
type Coverage struct {
	HasCoverage  bool        `json:"has_coverage"`
	CoveredUntil *time.Time  `json:"covered_until,omitempty"`
	MissingDates []time.Time `json:"missing_dates"`
	NeedsUpdate  bool        `json:"needs_update"`
}

// Coverage checks days consecutive dates starting at from. NeedsUpdate is
// set when the latest active season ends before the checked window does.
func (m *Model) Coverage(ctx context.Context, from time.Time, days int) (Coverage, error) {
	if days <= 0 {
		return Coverage{}, apperrors.ValidationError{Field: "days", Message: "must be positive"}
	}
	if from.IsZero() {
		from = m.Today()
	}
	start := utils.DateOnly(from)
	end := start.AddDate(0, 0, days)

	entries, err := m.store.ListTimetable(ctx, models.TimetableQuery{ActiveOnly: true})
	if err != nil {
		return Coverage{}, fmt.Errorf("list timetable: %w", err)
	}

	var c Coverage
	for _, e := range entries {
		if c.CoveredUntil == nil || e.SeasonEnd.After(*c.CoveredUntil) {
			until := utils.DateOnly(e.SeasonEnd)
			c.CoveredUntil = &until
		}
	}
	c.MissingDates = []time.Time{}
	for d := start; d.Before(end); d = d.AddDate(0, 0, 1) {
		covered := false
		for _, e := range entries {
			if e.Covers(d) {
				covered = true
				break
			}
		}
		if !covered {
			c.MissingDates = append(c.MissingDates, d)
		}
	}
	c.HasCoverage = len(c.MissingDates) == 0
	c.NeedsUpdate = c.CoveredUntil == nil || c.CoveredUntil.Before(end)
	return c, nil
}
