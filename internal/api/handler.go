package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/rajasatyajit/ferrycast/internal/accuracy"
	"github.com/rajasatyajit/ferrycast/internal/adaptive"
	apperrors "github.com/rajasatyajit/ferrycast/internal/errors"
	"github.com/rajasatyajit/ferrycast/internal/logger"
	middlewares "github.com/rajasatyajit/ferrycast/internal/middleware"
	"github.com/rajasatyajit/ferrycast/internal/models"
	"github.com/rajasatyajit/ferrycast/internal/pipeline"
	"github.com/rajasatyajit/ferrycast/internal/routes"
	"github.com/rajasatyajit/ferrycast/internal/store"
)

// Schedule resolves sailings for a date.
type Schedule interface {
	ActiveSailings(ctx context.Context, date time.Time) ([]models.SailingInstance, error)
	Today() time.Time
}

// Scorer scores one sailing on demand.
type Scorer interface {
	Score(ctx context.Context, s models.SailingInstance, th models.ThresholdSet, ceiling float64) (models.SailingForecast, error)
}

// Reporter builds accuracy reports.
type Reporter interface {
	Report(ctx context.Context, windowDays int) (accuracy.Report, error)
}

// Stages reports the adaptive stage.
type Stages interface {
	Current(ctx context.Context) (adaptive.Stage, error)
	Status(ctx context.Context) (adaptive.Status, error)
}

// Adopter adopts threshold proposals.
type Adopter interface {
	Adopt(ctx context.Context, proposalID string) (models.ThresholdSet, error)
}

// JobRunner triggers batch jobs on demand.
type JobRunner interface {
	Jobs() []string
	RunJob(ctx context.Context, name string) (pipeline.RunResult, error)
	LastRuns() []pipeline.RunResult
}

// Services are the components the handlers read from and drive.
type Services struct {
	Store     store.Store
	Routes    *routes.Table
	Schedule  Schedule
	Scorer    Scorer
	Reporter  Reporter
	Stages    Stages
	Optimizer Adopter
	Jobs      JobRunner
}

// Handler handles HTTP requests for the API
type Handler struct {
	svc         Services
	version     string
	buildTime   string
	gitCommit   string
	startTime   time.Time
	adminSecret string
}

// NewHandler creates a new API handler
func NewHandler(svc Services, adminSecret, version, buildTime, gitCommit string) *Handler {
	if svc.Routes == nil {
		svc.Routes = routes.Default()
	}
	return &Handler{
		svc:         svc,
		version:     version,
		buildTime:   buildTime,
		gitCommit:   gitCommit,
		startTime:   time.Now(),
		adminSecret: adminSecret,
	}
}

// RegisterRoutes registers all API routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/v1", func(r chi.Router) {
		// Health check endpoints
		r.Get("/health", h.healthHandler)
		r.Get("/health/ready", h.readinessHandler)
		r.Get("/health/live", h.livenessHandler)

		// Forecasts and schedule
		r.Get("/forecasts", h.getForecastsHandler)
		r.Get("/sailings", h.getSailingsHandler)
		r.Post("/score", h.scoreHandler)

		// Accuracy and tuning state
		r.Get("/accuracy", h.getAccuracyHandler)
		r.Get("/accuracy/report", h.getAccuracyReportHandler)
		r.Get("/thresholds", h.getThresholdsHandler)
		r.Get("/thresholds/history", h.getThresholdHistoryHandler)
		r.Get("/stage", h.getStageHandler)

		// System info
		r.Get("/version", h.versionHandler)
	})

	// Admin routes (protected by shared secret middleware)
	r.Route("/v1/admin", func(r chi.Router) {
		r.With(middlewares.AdminSecret(h.adminSecret)).Group(func(r chi.Router) {
			r.Post("/outcomes", h.adminOutcomesHandler)
			r.Post("/weather", h.adminWeatherHandler)
			r.Post("/thresholds/{id}/adopt", h.adminAdoptHandler)
			r.Get("/jobs", h.adminListJobsHandler)
			r.Post("/jobs/{name}", h.adminRunJobHandler)
		})
	})

	// Root health check
	r.Get("/health", h.healthHandler)
}

// healthHandler provides basic health check
func (h *Handler) healthHandler(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
		"version":   h.version,
	}

	h.writeJSONResponse(w, http.StatusOK, response)
}

// readinessHandler checks if the application is ready to serve traffic
func (h *Handler) readinessHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	checks := map[string]string{
		"store": "ok",
	}

	statusCode := http.StatusOK

	if err := h.svc.Store.Health(ctx); err != nil {
		checks["store"] = "error: " + err.Error()
		statusCode = http.StatusServiceUnavailable
	}

	response := map[string]interface{}{
		"status":    "ready",
		"timestamp": time.Now().UTC(),
		"checks":    checks,
	}
	if statusCode != http.StatusOK {
		response["status"] = "not_ready"
	}

	h.writeJSONResponse(w, statusCode, response)
}

// livenessHandler checks if the application is alive
func (h *Handler) livenessHandler(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":    "alive",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
	}

	h.writeJSONResponse(w, http.StatusOK, response)
}

// versionHandler returns version information
func (h *Handler) versionHandler(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"version":    h.version,
		"build_time": h.buildTime,
		"git_commit": h.gitCommit,
	}

	h.writeJSONResponse(w, http.StatusOK, response)
}

// writeJSONResponse writes a JSON response
func (h *Handler) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeErrorResponse writes a standardized error response
func (h *Handler) writeErrorResponse(w http.ResponseWriter, r *http.Request, statusCode int, message string) {
	response := ErrorResponse{
		Error:     http.StatusText(statusCode),
		Message:   message,
		Timestamp: time.Now().UTC(),
		RequestID: chimw.GetReqID(r.Context()),
	}

	h.writeJSONResponse(w, statusCode, response)
}

// writeError maps domain errors onto status codes. Unexpected errors are
// logged and hidden behind a generic message.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error, msg string) {
	switch {
	case errors.Is(err, apperrors.ErrInvalidInput):
		h.writeErrorResponse(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, apperrors.ErrNotFound):
		h.writeErrorResponse(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, apperrors.ErrStaleProposal), errors.Is(err, apperrors.ErrConflict),
		errors.Is(err, apperrors.ErrPersistenceConflict):
		h.writeErrorResponse(w, r, http.StatusConflict, err.Error())
	default:
		logger.WithContext(r.Context()).Error(msg, "error", err)
		h.writeErrorResponse(w, r, http.StatusInternalServerError, "Internal server error")
	}
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id,omitempty"`
}
