package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/rajasatyajit/ferrycast/internal/errors"
	"github.com/rajasatyajit/ferrycast/internal/logger"
	"github.com/rajasatyajit/ferrycast/internal/models"
)

const maxBatch = 5000

// OutcomesRequest is the body of POST /admin/outcomes.
type OutcomesRequest struct {
	Outcomes []models.OutcomeInput `json:"outcomes"`
}

// WeatherRequest is the body of POST /admin/weather.
type WeatherRequest struct {
	Samples []models.WeatherInput `json:"samples"`
}

// adminOutcomesHandler records operational outcomes. The batch is
// rejected as a whole if any record is invalid.
func (h *Handler) adminOutcomesHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req OutcomesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeErrorResponse(w, r, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if len(req.Outcomes) == 0 || len(req.Outcomes) > maxBatch {
		h.writeErrorResponse(w, r, http.StatusBadRequest, fmt.Sprintf("outcomes must contain 1..%d records", maxBatch))
		return
	}

	now := time.Now()
	records := make([]models.OutcomeRecord, 0, len(req.Outcomes))
	var errs apperrors.MultiError
	for i, in := range req.Outcomes {
		o, err := in.Record(now)
		if err == nil {
			if _, ok := h.svc.Routes.Lookup(o.RouteID); !ok {
				err = apperrors.ValidationError{Field: "route_id", Message: "unknown route " + o.RouteID}
			}
		}
		if err != nil {
			errs.Add(fmt.Errorf("outcome %d: %w", i, err))
			continue
		}
		records = append(records, o)
	}
	if errs.HasErrors() {
		h.writeErrorResponse(w, r, http.StatusBadRequest, errs.Error())
		return
	}

	if err := h.svc.Store.UpsertOutcomes(ctx, records); err != nil {
		h.writeError(w, r, err, "Failed to store outcomes")
		return
	}
	logger.WithContext(ctx).Info("Outcomes recorded", "count", len(records))
	h.writeJSONResponse(w, http.StatusOK, map[string]interface{}{"stored": len(records)})
}

// adminWeatherHandler stores weather samples for the store provider.
func (h *Handler) adminWeatherHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req WeatherRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeErrorResponse(w, r, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if len(req.Samples) == 0 || len(req.Samples) > maxBatch {
		h.writeErrorResponse(w, r, http.StatusBadRequest, fmt.Sprintf("samples must contain 1..%d records", maxBatch))
		return
	}

	now := time.Now()
	samples := make([]models.WeatherSample, 0, len(req.Samples))
	for i, in := range req.Samples {
		s, err := in.Sample(now)
		if err != nil {
			h.writeErrorResponse(w, r, http.StatusBadRequest, fmt.Sprintf("sample %d: %v", i, err))
			return
		}
		samples = append(samples, s)
	}

	if err := h.svc.Store.UpsertWeatherSamples(ctx, samples); err != nil {
		h.writeError(w, r, err, "Failed to store weather samples")
		return
	}
	logger.WithContext(ctx).Info("Weather samples recorded", "count", len(samples))
	h.writeJSONResponse(w, http.StatusOK, map[string]interface{}{"stored": len(samples)})
}

// adminAdoptHandler adopts a threshold proposal.
func (h *Handler) adminAdoptHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	th, err := h.svc.Optimizer.Adopt(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err, "Failed to adopt proposal")
		return
	}
	h.writeJSONResponse(w, http.StatusOK, map[string]interface{}{"proposal_id": id, "thresholds": th})
}

// adminListJobsHandler lists jobs and their last results.
func (h *Handler) adminListJobsHandler(w http.ResponseWriter, r *http.Request) {
	h.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"jobs":      h.svc.Jobs.Jobs(),
		"last_runs": h.svc.Jobs.LastRuns(),
	})
}

// adminRunJobHandler runs a job synchronously.
func (h *Handler) adminRunJobHandler(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	res, err := h.svc.Jobs.RunJob(r.Context(), name)
	if err != nil {
		var je apperrors.JobError
		if errors.As(err, &je) {
			logger.WithContext(r.Context()).Error("Manual job run failed", "job", name, "error", err)
			h.writeJSONResponse(w, http.StatusInternalServerError, res)
			return
		}
		h.writeError(w, r, err, "Failed to run job")
		return
	}
	h.writeJSONResponse(w, http.StatusOK, res)
}
