package metrics

import (
	"net/http"
	"sync"
	"time"
)

// Metrics interface for dependency injection
type Metrics interface {
	RecordHTTPRequest(method, endpoint string, statusCode int, duration time.Duration)
	RecordJobRun(job, status string, duration time.Duration)
	RecordForecast(level string)
	RecordWeatherFetch(provider, status string)
	RecordMatches(granularity string, count int)
	SetAccuracy(accuracy, precision, recall, f1, calibration float64)
	SetThresholds(high, medium, low float64)
	SetStage(stage, observations int)
	RecordPublish(status string)
	SetDBConnectionsActive(count float64)
	RecordDBQuery(operation, status string)
	Handler() http.Handler
}

// NoOpMetrics provides a no-op implementation
type NoOpMetrics struct{}

func (m *NoOpMetrics) RecordHTTPRequest(method, endpoint string, statusCode int, duration time.Duration) {
}
func (m *NoOpMetrics) RecordJobRun(job, status string, duration time.Duration)          {}
func (m *NoOpMetrics) RecordForecast(level string)                                      {}
func (m *NoOpMetrics) RecordWeatherFetch(provider, status string)                       {}
func (m *NoOpMetrics) RecordMatches(granularity string, count int)                      {}
func (m *NoOpMetrics) SetAccuracy(accuracy, precision, recall, f1, calibration float64) {}
func (m *NoOpMetrics) SetThresholds(high, medium, low float64)                          {}
func (m *NoOpMetrics) SetStage(stage, observations int)                                 {}
func (m *NoOpMetrics) RecordPublish(status string)                                      {}
func (m *NoOpMetrics) SetDBConnectionsActive(count float64)                             {}
func (m *NoOpMetrics) RecordDBQuery(operation, status string)                           {}
func (m *NoOpMetrics) Handler() http.Handler                                            { return http.NotFoundHandler() }

var (
	mu            sync.RWMutex
	globalMetrics Metrics = &NoOpMetrics{}
)

// Init switches the global recorder to Prometheus.
func Init() {
	SetGlobal(NewPrometheus())
}

// SetGlobal replaces the global recorder.
func SetGlobal(m Metrics) {
	mu.Lock()
	defer mu.Unlock()
	globalMetrics = m
}

func current() Metrics {
	mu.RLock()
	defer mu.RUnlock()
	return globalMetrics
}

// Handler returns the metrics handler
func Handler() http.Handler {
	return current().Handler()
}

// RecordHTTPRequest records HTTP request metrics
func RecordHTTPRequest(method, endpoint string, statusCode int, duration time.Duration) {
	current().RecordHTTPRequest(method, endpoint, statusCode, duration)
}

// RecordJobRun records one batch job execution
func RecordJobRun(job, status string, duration time.Duration) {
	current().RecordJobRun(job, status, duration)
}

// RecordForecast counts a generated forecast by risk level
func RecordForecast(level string) {
	current().RecordForecast(level)
}

// RecordWeatherFetch counts weather lookups by provider and outcome
func RecordWeatherFetch(provider, status string) {
	current().RecordWeatherFetch(provider, status)
}

// RecordMatches counts matched predictions
func RecordMatches(granularity string, count int) {
	current().RecordMatches(granularity, count)
}

// SetAccuracy publishes the latest evaluation
func SetAccuracy(accuracy, precision, recall, f1, calibration float64) {
	current().SetAccuracy(accuracy, precision, recall, f1, calibration)
}

// SetThresholds publishes the current cut-points
func SetThresholds(high, medium, low float64) {
	current().SetThresholds(high, medium, low)
}

// SetStage publishes the adaptive stage
func SetStage(stage, observations int) {
	current().SetStage(stage, observations)
}

// RecordPublish counts forecast publications
func RecordPublish(status string) {
	current().RecordPublish(status)
}

// SetDBConnectionsActive sets the number of active database connections
func SetDBConnectionsActive(count float64) {
	current().SetDBConnectionsActive(count)
}

// RecordDBQuery records database query metrics
func RecordDBQuery(operation, status string) {
	current().RecordDBQuery(operation, status)
}
