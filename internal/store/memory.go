package store

import (
	"context"
	"sort"
	"sync"
	"time"

	apperrors "github.com/rajasatyajit/ferrycast/internal/errors"
	"github.com/rajasatyajit/ferrycast/internal/logger"
	"github.com/rajasatyajit/ferrycast/internal/models"
	"github.com/rajasatyajit/ferrycast/pkg/utils"
)

type timetableKey struct {
	routeID, departure, season string
}

type weatherKey struct {
	location string
	date     string
	hour     int
	source   string
}

// InMemoryStore implements Store using in-memory storage
type InMemoryStore struct {
	mu          sync.RWMutex
	nextEntryID int64
	timetable   map[timetableKey]models.TimetableEntry
	weather     map[weatherKey]models.WeatherSample
	forecasts   map[string]models.SailingForecast
	outcomes    map[string]models.OutcomeRecord
	matches     map[string]models.MatchedPrediction
	snapshots   map[string]models.AccuracySnapshot
	current     *models.ThresholdSet
	adjustments []models.ThresholdAdjustment
	transitions []models.StageTransition
}

// NewInMemoryStore creates a new in-memory store
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		timetable: make(map[timetableKey]models.TimetableEntry),
		weather:   make(map[weatherKey]models.WeatherSample),
		forecasts: make(map[string]models.SailingForecast),
		outcomes:  make(map[string]models.OutcomeRecord),
		matches:   make(map[string]models.MatchedPrediction),
		snapshots: make(map[string]models.AccuracySnapshot),
	}
}

// UpsertTimetableEntries inserts entries that are not present yet.
func (s *InMemoryStore) UpsertTimetableEntries(ctx context.Context, entries []models.TimetableEntry) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inserted := 0
	for _, e := range entries {
		k := timetableKey{e.RouteID, e.DepartureTime, e.SeasonLabel}
		if _, exists := s.timetable[k]; exists {
			continue
		}
		s.nextEntryID++
		e.ID = s.nextEntryID
		e.SeasonStart = utils.DateOnly(e.SeasonStart)
		e.SeasonEnd = utils.DateOnly(e.SeasonEnd)
		if e.CreatedAt.IsZero() {
			e.CreatedAt = time.Now().UTC()
		}
		s.timetable[k] = e
		inserted++
	}
	return inserted, nil
}

// ListTimetable returns entries matching q ordered by departure time.
func (s *InMemoryStore) ListTimetable(ctx context.Context, q models.TimetableQuery) ([]models.TimetableEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []models.TimetableEntry
	for _, e := range s.timetable {
		if q.Matches(e) {
			result = append(result, e)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].DepartureTime != result[j].DepartureTime {
			return result[i].DepartureTime < result[j].DepartureTime
		}
		if result[i].RouteID != result[j].RouteID {
			return result[i].RouteID < result[j].RouteID
		}
		return result[i].SeasonLabel < result[j].SeasonLabel
	})
	return result, nil
}

// DeactivateTimetableBefore flags entries whose season ended before cutoff.
func (s *InMemoryStore) DeactivateTimetableBefore(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := utils.DateOnly(cutoff)
	changed := 0
	for k, e := range s.timetable {
		if e.Active && e.SeasonEnd.Before(c) {
			e.Active = false
			s.timetable[k] = e
			changed++
		}
	}
	return changed, nil
}

// UpsertWeatherSamples stores samples, replacing any with the same key.
func (s *InMemoryStore) UpsertWeatherSamples(ctx context.Context, samples []models.WeatherSample) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, w := range samples {
		w.Date = utils.DateOnly(w.Date)
		s.weather[weatherKey{w.Location, utils.FormatDate(w.Date), w.Hour, w.Source}] = w
	}
	return nil
}

// WeatherSamples returns every source's sample for one location hour.
func (s *InMemoryStore) WeatherSamples(ctx context.Context, location string, date time.Time, hour int) ([]models.WeatherSample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d := utils.FormatDate(date)
	var result []models.WeatherSample
	for k, w := range s.weather {
		if k.location == location && k.date == d && k.hour == hour {
			result = append(result, w)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Source < result[j].Source })
	return result, nil
}

// UpsertForecasts stores forecasts, replacing any with the same key.
func (s *InMemoryStore) UpsertForecasts(ctx context.Context, forecasts []models.SailingForecast) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	log := logger.WithComponent("store")
	for _, f := range forecasts {
		f.ForecastDate = utils.DateOnly(f.ForecastDate)
		k := f.Key().String()
		if _, ok := s.forecasts[k]; ok {
			log.Debug("Replaced existing forecast", "key", k, "risk_level", f.RiskLevel)
		}
		s.forecasts[k] = f
	}
	return nil
}

// QueryForecasts retrieves forecasts ordered by date, departure and route.
func (s *InMemoryStore) QueryForecasts(ctx context.Context, q models.ForecastQuery) ([]models.SailingForecast, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []models.SailingForecast
	for _, f := range s.forecasts {
		if q.Matches(f) {
			result = append(result, f)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		a, b := result[i], result[j]
		if !a.ForecastDate.Equal(b.ForecastDate) {
			return a.ForecastDate.Before(b.ForecastDate)
		}
		if a.DepartureTime != b.DepartureTime {
			return a.DepartureTime < b.DepartureTime
		}
		return a.RouteID < b.RouteID
	})

	// Apply limit and offset
	if q.Offset > 0 && q.Offset < len(result) {
		result = result[q.Offset:]
	} else if q.Offset >= len(result) {
		result = []models.SailingForecast{}
	}
	if q.Limit > 0 && q.Limit < len(result) {
		result = result[:q.Limit]
	}
	return result, nil
}

// GetForecast returns the forecast for key, or nil when absent.
func (s *InMemoryStore) GetForecast(ctx context.Context, key models.SailingKey) (*models.SailingForecast, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key.Date = utils.DateOnly(key.Date)
	if f, exists := s.forecasts[key.String()]; exists {
		return &f, nil
	}
	return nil, nil
}

// UpsertOutcomes stores outcomes, replacing any with the same key.
func (s *InMemoryStore) UpsertOutcomes(ctx context.Context, outcomes []models.OutcomeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, o := range outcomes {
		o.Date = utils.DateOnly(o.Date)
		k := models.SailingKey{Date: o.Date, RouteID: o.RouteID, DepartureTime: o.DepartureTime}
		s.outcomes[k.String()] = o
	}
	return nil
}

// QueryOutcomes returns outcomes within [from, until].
func (s *InMemoryStore) QueryOutcomes(ctx context.Context, from, until time.Time, routeID string) ([]models.OutcomeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []models.OutcomeRecord
	for _, o := range s.outcomes {
		if !inRange(o.Date, from, until) {
			continue
		}
		if routeID != "" && o.RouteID != routeID {
			continue
		}
		result = append(result, o)
	}
	sort.Slice(result, func(i, j int) bool {
		a, b := result[i], result[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		if a.RouteID != b.RouteID {
			return a.RouteID < b.RouteID
		}
		return a.DepartureTime < b.DepartureTime
	})
	return result, nil
}

// UpsertMatches stores matches, replacing any with the same key.
func (s *InMemoryStore) UpsertMatches(ctx context.Context, matches []models.MatchedPrediction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range matches {
		m.ForecastDate = utils.DateOnly(m.ForecastDate)
		s.matches[m.Key().String()] = m
	}
	return nil
}

// QueryMatches returns matches whose forecast date is within [from, until].
func (s *InMemoryStore) QueryMatches(ctx context.Context, from, until time.Time) ([]models.MatchedPrediction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []models.MatchedPrediction
	for _, m := range s.matches {
		if inRange(m.ForecastDate, from, until) {
			result = append(result, m)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		a, b := result[i], result[j]
		if !a.ForecastDate.Equal(b.ForecastDate) {
			return a.ForecastDate.Before(b.ForecastDate)
		}
		if a.RouteID != b.RouteID {
			return a.RouteID < b.RouteID
		}
		return a.DepartureTime < b.DepartureTime
	})
	return result, nil
}

// DeleteMatches removes the matches of one route day stored under g.
func (s *InMemoryStore) DeleteMatches(ctx context.Context, date time.Time, routeID string, g models.Granularity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d := utils.DateOnly(date)
	for k, m := range s.matches {
		if m.RouteID == routeID && m.Granularity == g && m.ForecastDate.Equal(d) {
			delete(s.matches, k)
		}
	}
	return nil
}

// CountMatches returns the number of stored matches.
func (s *InMemoryStore) CountMatches(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.matches), nil
}

// UpsertSnapshot stores a snapshot keyed by evaluation date.
func (s *InMemoryStore) UpsertSnapshot(ctx context.Context, snap models.AccuracySnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap.EvaluationDate = utils.DateOnly(snap.EvaluationDate)
	s.snapshots[utils.FormatDate(snap.EvaluationDate)] = snap
	return nil
}

// ListSnapshots returns snapshots newest first.
func (s *InMemoryStore) ListSnapshots(ctx context.Context, limit int) ([]models.AccuracySnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]models.AccuracySnapshot, 0, len(s.snapshots))
	for _, snap := range s.snapshots {
		result = append(result, snap)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].EvaluationDate.After(result[j].EvaluationDate)
	})
	if limit > 0 && limit < len(result) {
		result = result[:limit]
	}
	return result, nil
}

// CurrentThresholds returns the adopted set or the defaults.
func (s *InMemoryStore) CurrentThresholds(ctx context.Context) (models.ThresholdSet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.current == nil {
		return models.DefaultThresholds(), nil
	}
	return *s.current, nil
}

// AppendAdjustment appends a log entry.
func (s *InMemoryStore) AppendAdjustment(ctx context.Context, a models.ThresholdAdjustment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendAdjustmentLocked(a)
}

func (s *InMemoryStore) appendAdjustmentLocked(a models.ThresholdAdjustment) error {
	for _, existing := range s.adjustments {
		if existing.ID == a.ID {
			return apperrors.ErrPersistenceConflict
		}
	}
	s.adjustments = append(s.adjustments, a)
	return nil
}

// AdoptThresholds swaps the current set if it still equals entry.Old and
// logs the adoption under the same lock.
func (s *InMemoryStore) AdoptThresholds(ctx context.Context, next models.ThresholdSet, entry models.ThresholdAdjustment) error {
	if err := next.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current := models.DefaultThresholds()
	if s.current != nil {
		current = *s.current
	}
	if current != entry.Old {
		return apperrors.ErrStaleProposal
	}
	if err := s.appendAdjustmentLocked(entry); err != nil {
		return err
	}
	s.current = &next
	return nil
}

// GetAdjustment returns the entry with id, or nil when absent.
func (s *InMemoryStore) GetAdjustment(ctx context.Context, id string) (*models.ThresholdAdjustment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, a := range s.adjustments {
		if a.ID == id {
			return &a, nil
		}
	}
	return nil, nil
}

// ListAdjustments returns entries newest first.
func (s *InMemoryStore) ListAdjustments(ctx context.Context, limit int) ([]models.ThresholdAdjustment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.adjustments)
	if limit > 0 && limit < n {
		n = limit
	}
	result := make([]models.ThresholdAdjustment, 0, n)
	for i := len(s.adjustments) - 1; i >= 0 && len(result) < n; i-- {
		result = append(result, s.adjustments[i])
	}
	return result, nil
}

// LastStageTransition returns the latest transition, or nil when none.
func (s *InMemoryStore) LastStageTransition(ctx context.Context) (*models.StageTransition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.transitions) == 0 {
		return nil, nil
	}
	t := s.transitions[len(s.transitions)-1]
	return &t, nil
}

// AppendStageTransition appends a transition.
func (s *InMemoryStore) AppendStageTransition(ctx context.Context, t models.StageTransition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transitions = append(s.transitions, t)
	return nil
}

// ListStageTransitions returns transitions newest first.
func (s *InMemoryStore) ListStageTransitions(ctx context.Context, limit int) ([]models.StageTransition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.transitions)
	if limit > 0 && limit < n {
		n = limit
	}
	result := make([]models.StageTransition, 0, n)
	for i := len(s.transitions) - 1; i >= 0 && len(result) < n; i-- {
		result = append(result, s.transitions[i])
	}
	return result, nil
}

// Health always returns nil for in-memory store
func (s *InMemoryStore) Health(ctx context.Context) error {
	return nil
}

func inRange(d, from, until time.Time) bool {
	d = utils.DateOnly(d)
	if !from.IsZero() && d.Before(utils.DateOnly(from)) {
		return false
	}
	if !until.IsZero() && d.After(utils.DateOnly(until)) {
		return false
	}
	return true
}
