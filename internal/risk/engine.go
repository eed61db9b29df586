// Package risk turns worst-case weather around a sailing into a
// cancellation risk score and level.
package risk

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"code.cloudfoundry.org/clock"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"

	"github.com/rajasatyajit/ferrycast/config"
	apperrors "github.com/rajasatyajit/ferrycast/internal/errors"
	"github.com/rajasatyajit/ferrycast/internal/logger"
	"github.com/rajasatyajit/ferrycast/internal/models"
	"github.com/rajasatyajit/ferrycast/internal/routes"
	"github.com/rajasatyajit/ferrycast/internal/weather"
	"github.com/rajasatyajit/ferrycast/pkg/utils"
)

// Config tunes the engine.
type Config struct {
	WindowHours  int
	DefaultWind  float64
	DefaultWave  float64
	FetchTimeout time.Duration
	Concurrency  int
	Location     *time.Location
}

// ConfigFrom derives the engine config from application config.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		WindowHours:  cfg.Forecast.WindowHours,
		DefaultWind:  cfg.Forecast.DefaultWind,
		DefaultWave:  cfg.Forecast.DefaultWave,
		FetchTimeout: cfg.Weather.Timeout,
		Concurrency:  4,
		Location:     cfg.Forecast.Location(),
	}
}

// DefaultConfig returns the built-in tuning.
func DefaultConfig() Config {
	return Config{WindowHours: 2, DefaultWind: 10, DefaultWave: 1.5, FetchTimeout: 10 * time.Second, Concurrency: 4, Location: time.UTC}
}

// Engine scores sailings. It holds no threshold state; the ThresholdSet
// is passed to every Score call.
type Engine struct {
	source weather.Source
	routes *routes.Table
	clock  clock.Clock
	cfg    Config
	log    *slog.Logger
}

// NewEngine creates a scoring engine.
func NewEngine(src weather.Source, table *routes.Table, clk clock.Clock, cfg Config) *Engine {
	if clk == nil {
		clk = clock.NewClock()
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	return &Engine{source: src, routes: table, clock: clk, cfg: cfg, log: logger.WithComponent("risk")}
}

// HourKey is one location hour to fetch. DayOffset is 1 for hours that
// fall after midnight of the sailing date.
type HourKey struct {
	Location  string
	DayOffset int
	Hour      int
}

// Plan returns the location hours inspected for a sailing: the departure
// port around departure, the arrival port around arrival, and both ports
// across the transit. An arrival before departure is treated as overnight,
// so the arrival window and the end of the transit land on the next day.
// Hours before midnight of the sailing date are dropped, as are hours past
// the end of the next day.
func Plan(route routes.Route, depHour, arrHour, window int) []HourKey {
	seen := make(map[HourKey]bool)
	var keys []HourKey
	add := func(loc string, from, to int) {
		from, to = max(from, 0), min(to, 2*24-1)
		for h := from; h <= to; h++ {
			k := HourKey{Location: loc, DayOffset: h / 24, Hour: h % 24}
			if !seen[k] {
				seen[k] = true
				keys = append(keys, k)
			}
		}
	}

	if arrHour < depHour {
		arrHour += 24
	}
	add(route.Departure.ID, depHour-window, depHour+window)
	add(route.Arrival.ID, arrHour-window, arrHour+window)
	add(route.Departure.ID, depHour, arrHour)
	add(route.Arrival.ID, depHour, arrHour)

	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Location != keys[j].Location {
			return keys[i].Location < keys[j].Location
		}
		if keys[i].DayOffset != keys[j].DayOffset {
			return keys[i].DayOffset < keys[j].DayOffset
		}
		return keys[i].Hour < keys[j].Hour
	})
	return keys
}

// Score assesses one sailing against thresholds. ceiling caps the
// confidence; zero means uncapped.
func (e *Engine) Score(ctx context.Context, s models.SailingInstance, th models.ThresholdSet, ceiling float64) (models.SailingForecast, error) {
	if err := th.Validate(); err != nil {
		return models.SailingForecast{}, err
	}
	route, ok := e.routes.Lookup(s.RouteID)
	if !ok {
		return models.SailingForecast{}, apperrors.ValidationError{Field: "route_id", Message: fmt.Sprintf("unknown route %q", s.RouteID)}
	}
	depHour, depMin, err := utils.ParseClock(s.DepartureTime)
	if err != nil {
		return models.SailingForecast{}, apperrors.ValidationError{Field: "departure_time", Message: err.Error()}
	}
	arrival := s.ArrivalTime
	if arrival == "" {
		arr := time.Date(2000, 1, 1, depHour, depMin, 0, 0, time.UTC).Add(route.TypicalDuration)
		arrival = arr.Format("15:04")
	}
	arrHour, err := utils.ClockHour(arrival)
	if err != nil {
		return models.SailingForecast{}, apperrors.ValidationError{Field: "arrival_time", Message: err.Error()}
	}

	date := utils.DateOnly(s.Date)
	samples := e.collect(ctx, date, Plan(route, depHour, arrHour, e.cfg.WindowHours))

	f := models.SailingForecast{
		ForecastDate:        date,
		RouteID:             s.RouteID,
		DepartureTime:       s.DepartureTime,
		ArrivalTime:         arrival,
		ContributingFactors: []string{},
		SampleCount:         len(samples),
		Thresholds:          th,
		GeneratedAt:         e.clock.Now().UTC(),
	}

	if len(samples) == 0 {
		f.RiskLevel = models.RiskUnknown
		f.RecommendedAction = RecommendedAction(models.RiskUnknown)
		e.log.Warn("No weather data for sailing", "sailing", f.Key().String())
		return f, nil
	}

	c := WorstCase(samples)
	if c.WindSpeed == nil {
		c.WindSpeed = models.Float(e.cfg.DefaultWind)
		f.DefaultsApplied = append(f.DefaultsApplied, "wind_speed")
	}
	if c.WaveHeight == nil {
		c.WaveHeight = models.Float(e.cfg.DefaultWave)
		f.DefaultsApplied = append(f.DefaultsApplied, "wave_height")
	}
	if len(f.DefaultsApplied) > 0 {
		e.log.Debug("Applied weather defaults", "sailing", f.Key().String(), "defaults", f.DefaultsApplied,
			"wind", e.cfg.DefaultWind, "wave", e.cfg.DefaultWave)
	}

	f.RiskScore, f.ContributingFactors = Assess(c)
	f.WindSpeed, f.WaveHeight, f.Visibility, f.Temperature = c.WindSpeed, c.WaveHeight, c.Visibility, c.Temperature
	f.RiskLevel = th.Level(f.RiskScore)
	f.RecommendedAction = RecommendedAction(f.RiskLevel)

	today := utils.DateIn(e.clock.Now(), e.cfg.Location)
	f.Confidence = Confidence(utils.DaysBetween(today, date), ceiling)
	return f, nil
}

// collect fetches every planned location hour. Failed fetches are logged
// and contribute nothing.
func (e *Engine) collect(ctx context.Context, date time.Time, plan []HourKey) []models.WeatherSample {
	results := make([][]models.WeatherSample, len(plan))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Concurrency)
	for i, k := range plan {
		i, k := i, k
		g.Go(func() error {
			fctx := gctx
			if e.cfg.FetchTimeout > 0 {
				var cancel context.CancelFunc
				fctx, cancel = context.WithTimeout(gctx, e.cfg.FetchTimeout)
				defer cancel()
			}
			day := date.AddDate(0, 0, k.DayOffset)
			samples, err := e.source.GetWeather(fctx, k.Location, day, k.Hour)
			if err != nil {
				e.log.Warn("Weather fetch failed, treating as absent",
					"location", k.Location, "date", utils.FormatDate(day), "hour", k.Hour, "error", err)
				return nil
			}
			results[i] = samples
			return nil
		})
	}
	_ = g.Wait()

	var all []models.WeatherSample
	for _, r := range results {
		all = append(all, r...)
	}
	return all
}

// WorstCase reduces samples to maximum wind and wave, minimum visibility
// and mean temperature. Factors no sample reported stay nil.
func WorstCase(samples []models.WeatherSample) Conditions {
	var c Conditions
	var temps []float64
	for _, s := range samples {
		if s.WindSpeed != nil && (c.WindSpeed == nil || *s.WindSpeed > *c.WindSpeed) {
			c.WindSpeed = models.Float(*s.WindSpeed)
		}
		if s.WaveHeight != nil && (c.WaveHeight == nil || *s.WaveHeight > *c.WaveHeight) {
			c.WaveHeight = models.Float(*s.WaveHeight)
		}
		if s.Visibility != nil && (c.Visibility == nil || *s.Visibility < *c.Visibility) {
			c.Visibility = models.Float(*s.Visibility)
		}
		if s.Temperature != nil {
			temps = append(temps, *s.Temperature)
		}
	}
	if len(temps) > 0 {
		c.Temperature = models.Float(stat.Mean(temps, nil))
	}
	return c
}
