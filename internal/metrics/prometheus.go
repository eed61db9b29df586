package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusMetrics records to a private registry served by Handler.
type PrometheusMetrics struct {
	registry *prometheus.Registry

	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
	jobRuns       *prometheus.CounterVec
	jobDuration   *prometheus.HistogramVec
	forecasts     *prometheus.CounterVec
	weatherFetch  *prometheus.CounterVec
	matches       *prometheus.CounterVec
	accuracy      *prometheus.GaugeVec
	thresholds    *prometheus.GaugeVec
	stage         prometheus.Gauge
	observations  prometheus.Gauge
	publishes     *prometheus.CounterVec
	dbConnections prometheus.Gauge
	dbQueries     *prometheus.CounterVec
}

// NewPrometheus registers the ferrycast collectors on a fresh registry.
func NewPrometheus() *PrometheusMetrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &PrometheusMetrics{
		registry: reg,
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ferrycast_http_requests_total",
			Help: "HTTP requests by method, route and status.",
		}, []string{"method", "endpoint", "status"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ferrycast_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		jobRuns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ferrycast_job_runs_total",
			Help: "Batch job runs by job and status.",
		}, []string{"job", "status"}),
		jobDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ferrycast_job_duration_seconds",
			Help:    "Duration of a batch job run.",
			Buckets: []float64{0.1, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0},
		}, []string{"job"}),
		forecasts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ferrycast_forecasts_generated_total",
			Help: "Sailing forecasts generated by risk level.",
		}, []string{"level"}),
		weatherFetch: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ferrycast_weather_fetches_total",
			Help: "Weather lookups by provider and outcome.",
		}, []string{"provider", "status"}),
		matches: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ferrycast_matched_predictions_total",
			Help: "Predictions matched against outcomes.",
		}, []string{"granularity"}),
		accuracy: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ferrycast_accuracy",
			Help: "Latest evaluation metrics.",
		}, []string{"metric"}),
		thresholds: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ferrycast_threshold",
			Help: "Current risk level cut-points.",
		}, []string{"level"}),
		stage: f.NewGauge(prometheus.GaugeOpts{
			Name: "ferrycast_adaptive_stage",
			Help: "Current adaptive maturity stage.",
		}),
		observations: f.NewGauge(prometheus.GaugeOpts{
			Name: "ferrycast_matched_observations",
			Help: "Cumulative matched observations.",
		}),
		publishes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ferrycast_forecasts_published_total",
			Help: "Forecasts published to Redis by outcome.",
		}, []string{"status"}),
		dbConnections: f.NewGauge(prometheus.GaugeOpts{
			Name: "ferrycast_db_connections_active",
			Help: "Acquired database connections.",
		}),
		dbQueries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ferrycast_db_queries_total",
			Help: "Database operations by kind and status.",
		}, []string{"operation", "status"}),
	}
}

func (m *PrometheusMetrics) RecordHTTPRequest(method, endpoint string, statusCode int, duration time.Duration) {
	m.httpRequests.WithLabelValues(method, endpoint, strconv.Itoa(statusCode)).Inc()
	m.httpDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

func (m *PrometheusMetrics) RecordJobRun(job, status string, duration time.Duration) {
	m.jobRuns.WithLabelValues(job, status).Inc()
	m.jobDuration.WithLabelValues(job).Observe(duration.Seconds())
}

func (m *PrometheusMetrics) RecordForecast(level string) {
	m.forecasts.WithLabelValues(level).Inc()
}

func (m *PrometheusMetrics) RecordWeatherFetch(provider, status string) {
	m.weatherFetch.WithLabelValues(provider, status).Inc()
}

func (m *PrometheusMetrics) RecordMatches(granularity string, count int) {
	m.matches.WithLabelValues(granularity).Add(float64(count))
}

func (m *PrometheusMetrics) SetAccuracy(accuracy, precision, recall, f1, calibration float64) {
	m.accuracy.WithLabelValues("accuracy").Set(accuracy)
	m.accuracy.WithLabelValues("precision").Set(precision)
	m.accuracy.WithLabelValues("recall").Set(recall)
	m.accuracy.WithLabelValues("f1").Set(f1)
	m.accuracy.WithLabelValues("calibration").Set(calibration)
}

func (m *PrometheusMetrics) SetThresholds(high, medium, low float64) {
	m.thresholds.WithLabelValues("high").Set(high)
	m.thresholds.WithLabelValues("medium").Set(medium)
	m.thresholds.WithLabelValues("low").Set(low)
}

func (m *PrometheusMetrics) SetStage(stage, observations int) {
	m.stage.Set(float64(stage))
	m.observations.Set(float64(observations))
}

func (m *PrometheusMetrics) RecordPublish(status string) {
	m.publishes.WithLabelValues(status).Inc()
}

func (m *PrometheusMetrics) SetDBConnectionsActive(count float64) {
	m.dbConnections.Set(count)
}

func (m *PrometheusMetrics) RecordDBQuery(operation, status string) {
	m.dbQueries.WithLabelValues(operation, status).Inc()
}

// Handler serves the private registry.
func (m *PrometheusMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
