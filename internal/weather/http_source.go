package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/time/rate"

	"github.com/rajasatyajit/ferrycast/config"
	"github.com/rajasatyajit/ferrycast/internal/logger"
	"github.com/rajasatyajit/ferrycast/internal/metrics"
	"github.com/rajasatyajit/ferrycast/internal/models"
	"github.com/rajasatyajit/ferrycast/internal/routes"
	"github.com/rajasatyajit/ferrycast/pkg/utils"
)

// HTTPSource fetches samples from a JSON weather API:
//
//	GET {base}/v1/samples?location=&date=&hour=&lat=&lon=
//	{"samples": [{"source": "...", "wind_speed": 12.3, ...}]}
type HTTPSource struct {
	baseURL  string
	apiKey   string
	timeout  time.Duration
	attempts uint
	routes   *routes.Table
	client   *http.Client
	limiter  *rate.Limiter
	// initialInterval is the first retry delay
	initialInterval time.Duration
}

// NewHTTPSource creates an HTTP weather source.
func NewHTTPSource(cfg config.WeatherConfig, table *routes.Table) *HTTPSource {
	attempts := cfg.RetryAttempts
	if attempts < 1 {
		attempts = 1
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	return &HTTPSource{
		baseURL:  cfg.BaseURL,
		apiKey:   cfg.APIKey,
		timeout:  cfg.Timeout,
		attempts: uint(attempts),
		routes:   table,
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter:         rate.NewLimiter(limit, burst),
		initialInterval: backoff.DefaultInitialInterval,
	}
}

// Name returns the source name
func (h *HTTPSource) Name() string { return "http" }

type sampleResponse struct {
	Samples []struct {
		Source      string   `json:"source"`
		WindSpeed   *float64 `json:"wind_speed"`
		WaveHeight  *float64 `json:"wave_height"`
		Visibility  *float64 `json:"visibility"`
		Temperature *float64 `json:"temperature"`
	} `json:"samples"`
}

// GetWeather fetches one location hour, retrying transient failures with
// exponential backoff. Client errors other than 429 are not retried.
func (h *HTTPSource) GetWeather(ctx context.Context, location string, date time.Time, hour int) ([]models.WeatherSample, error) {
	op := func() ([]models.WeatherSample, error) {
		if err := h.limiter.Wait(ctx); err != nil {
			return nil, backoff.Permanent(fmt.Errorf("rate limit: %w", err))
		}
		return h.fetch(ctx, location, date, hour)
	}

	samples, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(h.newBackOff()),
		backoff.WithMaxTries(h.attempts),
		backoff.WithNotify(func(err error, next time.Duration) {
			logger.Debug("Retrying weather fetch", "location", location, "hour", hour, "delay", next, "error", err)
		}),
	)
	if err != nil {
		metrics.RecordWeatherFetch(h.Name(), "error")
		return nil, fmt.Errorf("fetch weather %s %s %02d: %w", location, utils.FormatDate(date), hour, err)
	}
	status := "hit"
	if len(samples) == 0 {
		status = "miss"
	}
	metrics.RecordWeatherFetch(h.Name(), status)
	return samples, nil
}

func (h *HTTPSource) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = h.initialInterval
	return b
}

func (h *HTTPSource) fetch(ctx context.Context, location string, date time.Time, hour int) ([]models.WeatherSample, error) {
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	q := url.Values{}
	q.Set("location", location)
	q.Set("date", utils.FormatDate(date))
	q.Set("hour", strconv.Itoa(hour))
	if h.routes != nil {
		for _, loc := range h.routes.Locations() {
			if loc.ID == location {
				q.Set("lat", strconv.FormatFloat(loc.Latitude, 'f', 4, 64))
				q.Set("lon", strconv.FormatFloat(loc.Longitude, 'f', 4, 64))
				break
			}
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.baseURL+"/v1/samples?"+q.Encode(), nil)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("User-Agent", "ferrycast/1.0")
	req.Header.Set("Accept", "application/json")
	if h.apiKey != "" {
		req.Header.Set("X-API-Key", h.apiKey)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	case resp.StatusCode != http.StatusOK:
		return nil, backoff.Permanent(fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status))
	}

	var body sampleResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, backoff.Permanent(fmt.Errorf("decode response: %w", err))
	}

	now := time.Now().UTC()
	samples := make([]models.WeatherSample, 0, len(body.Samples))
	for _, s := range body.Samples {
		src := s.Source
		if src == "" {
			src = h.Name()
		}
		w := models.WeatherSample{
			Location:    location,
			Date:        utils.DateOnly(date),
			Hour:        hour,
			WindSpeed:   s.WindSpeed,
			WaveHeight:  s.WaveHeight,
			Visibility:  s.Visibility,
			Temperature: s.Temperature,
			Source:      src,
			CollectedAt: now,
		}
		if !w.Empty() {
			samples = append(samples, w)
		}
	}
	return samples, nil
}
