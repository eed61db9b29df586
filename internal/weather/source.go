// Package weather provides hour-aligned weather samples for ferry ports.
package weather

import (
	"context"
	"fmt"
	"strings"
	"time"

	"code.cloudfoundry.org/clock"

	"github.com/rajasatyajit/ferrycast/config"
	"github.com/rajasatyajit/ferrycast/internal/logger"
	"github.com/rajasatyajit/ferrycast/internal/metrics"
	"github.com/rajasatyajit/ferrycast/internal/models"
	"github.com/rajasatyajit/ferrycast/internal/routes"
	"github.com/rajasatyajit/ferrycast/internal/store"
)

// Source returns the samples known for one location hour. An empty result
// means no data; an error means the lookup itself failed.
type Source interface {
	Name() string
	GetWeather(ctx context.Context, location string, date time.Time, hour int) ([]models.WeatherSample, error)
}

// StoreSource serves samples previously written to the weather store.
type StoreSource struct {
	store store.WeatherStore
}

// NewStoreSource creates a store-backed source.
func NewStoreSource(s store.WeatherStore) *StoreSource {
	return &StoreSource{store: s}
}

// Name returns the source name
func (s *StoreSource) Name() string { return "store" }

// GetWeather reads stored samples, skipping ones that carry no factor.
func (s *StoreSource) GetWeather(ctx context.Context, location string, date time.Time, hour int) ([]models.WeatherSample, error) {
	samples, err := s.store.WeatherSamples(ctx, location, date, hour)
	if err != nil {
		metrics.RecordWeatherFetch(s.Name(), "error")
		return nil, fmt.Errorf("read weather %s %02d: %w", location, hour, err)
	}
	out := samples[:0]
	for _, w := range samples {
		if !w.Empty() {
			out = append(out, w)
		}
	}
	status := "hit"
	if len(out) == 0 {
		status = "miss"
	}
	metrics.RecordWeatherFetch(s.Name(), status)
	return out, nil
}

// CachingSource serves from the store and falls back to an upstream
// source, writing what it fetched back to the store. Cached samples older
// than ttl are refetched; a zero ttl keeps them forever.
type CachingSource struct {
	cache    *StoreSource
	store    store.WeatherStore
	upstream Source
	clock    clock.Clock
	ttl      time.Duration
}

// NewCachingSource wraps upstream with a store-backed cache.
func NewCachingSource(s store.WeatherStore, upstream Source, clk clock.Clock, ttl time.Duration) *CachingSource {
	return &CachingSource{cache: NewStoreSource(s), store: s, upstream: upstream, clock: clk, ttl: ttl}
}

// Name returns the source name
func (c *CachingSource) Name() string { return "cached_" + c.upstream.Name() }

// GetWeather returns fresh cached samples when present, else fetches
// upstream. A failed refresh serves the stale samples it was replacing.
func (c *CachingSource) GetWeather(ctx context.Context, location string, date time.Time, hour int) ([]models.WeatherSample, error) {
	cached, err := c.cache.GetWeather(ctx, location, date, hour)
	if err != nil {
		cached = nil
	}
	if len(cached) > 0 && c.fresh(cached) {
		return cached, nil
	}

	fetched, err := c.upstream.GetWeather(ctx, location, date, hour)
	if err != nil {
		if len(cached) > 0 {
			logger.WithComponent("weather").Warn("Serving stale weather after refresh failed",
				"location", location, "hour", hour, "error", err)
			return cached, nil
		}
		return nil, err
	}
	if len(fetched) == 0 {
		return cached, nil
	}

	now := c.clock.Now().UTC()
	fetched = append([]models.WeatherSample(nil), fetched...)
	for i := range fetched {
		fetched[i].CollectedAt = now
	}
	if err := c.store.UpsertWeatherSamples(ctx, fetched); err != nil {
		return fetched, fmt.Errorf("cache weather %s %02d: %w", location, hour, err)
	}
	return fetched, nil
}

// fresh reports whether the newest sample is younger than the TTL.
func (c *CachingSource) fresh(samples []models.WeatherSample) bool {
	if c.ttl <= 0 {
		return true
	}
	var newest time.Time
	for _, w := range samples {
		if w.CollectedAt.After(newest) {
			newest = w.CollectedAt
		}
	}
	return !newest.IsZero() && c.clock.Since(newest) < c.ttl
}

// NewSource builds the source selected by cfg.Provider.
func NewSource(cfg config.WeatherConfig, s store.WeatherStore, table *routes.Table, clk clock.Clock) (Source, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", "store":
		return NewStoreSource(s), nil
	case "http":
		return NewCachingSource(s, NewHTTPSource(cfg, table), clk, cfg.CacheTTL), nil
	default:
		return nil, fmt.Errorf("unknown weather provider %q", cfg.Provider)
	}
}
