package api

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rajasatyajit/ferrycast/internal/models"
)

// intParam parses an optional positive integer query parameter.
func intParam(values url.Values, name string, def, max int) (int, error) {
	s := values.Get(name)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 || n > max {
		return 0, fmt.Errorf("%s must be between 1 and %d", name, max)
	}
	return n, nil
}

// getAccuracyHandler handles GET /accuracy: recent snapshots, newest first.
func (h *Handler) getAccuracyHandler(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r.URL.Query(), "limit", 30, 365)
	if err != nil {
		h.writeErrorResponse(w, r, http.StatusBadRequest, err.Error())
		return
	}
	snaps, err := h.svc.Store.ListSnapshots(r.Context(), limit)
	if err != nil {
		h.writeError(w, r, err, "Failed to list accuracy snapshots")
		return
	}
	if snaps == nil {
		snaps = []models.AccuracySnapshot{}
	}

	response := map[string]interface{}{
		"data":      snaps,
		"count":     len(snaps),
		"timestamp": time.Now().UTC(),
	}
	if len(snaps) > 0 {
		response["latest"] = snaps[0]
	}
	h.writeJSONResponse(w, http.StatusOK, response)
}

// getAccuracyReportHandler handles GET /accuracy/report?days=30&format=text
func (h *Handler) getAccuracyReportHandler(w http.ResponseWriter, r *http.Request) {
	days, err := intParam(r.URL.Query(), "days", 30, 365)
	if err != nil {
		h.writeErrorResponse(w, r, http.StatusBadRequest, err.Error())
		return
	}
	report, err := h.svc.Reporter.Report(r.Context(), days)
	if err != nil {
		h.writeError(w, r, err, "Failed to build accuracy report")
		return
	}

	switch r.URL.Query().Get("format") {
	case "text":
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_ = report.WriteText(w)
	case "", "json":
		h.writeJSONResponse(w, http.StatusOK, report)
	default:
		h.writeErrorResponse(w, r, http.StatusBadRequest, "format must be json or text")
	}
}

// getThresholdsHandler handles GET /thresholds
func (h *Handler) getThresholdsHandler(w http.ResponseWriter, r *http.Request) {
	th, err := h.svc.Store.CurrentThresholds(r.Context())
	if err != nil {
		h.writeError(w, r, err, "Failed to load thresholds")
		return
	}
	response := map[string]interface{}{
		"current":   th,
		"defaults":  models.DefaultThresholds(),
		"timestamp": time.Now().UTC(),
	}
	h.writeJSONResponse(w, http.StatusOK, response)
}

// getThresholdHistoryHandler handles GET /thresholds/history
func (h *Handler) getThresholdHistoryHandler(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r.URL.Query(), "limit", 50, 1000)
	if err != nil {
		h.writeErrorResponse(w, r, http.StatusBadRequest, err.Error())
		return
	}
	log, err := h.svc.Store.ListAdjustments(r.Context(), limit)
	if err != nil {
		h.writeError(w, r, err, "Failed to list threshold adjustments")
		return
	}
	if log == nil {
		log = []models.ThresholdAdjustment{}
	}
	response := map[string]interface{}{
		"data":      log,
		"count":     len(log),
		"timestamp": time.Now().UTC(),
	}
	h.writeJSONResponse(w, http.StatusOK, response)
}

// getStageHandler handles GET /stage
func (h *Handler) getStageHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	status, err := h.svc.Stages.Status(ctx)
	if err != nil {
		h.writeError(w, r, err, "Failed to load stage")
		return
	}
	transitions, err := h.svc.Store.ListStageTransitions(ctx, 10)
	if err != nil {
		h.writeError(w, r, err, "Failed to list stage transitions")
		return
	}
	if transitions == nil {
		transitions = []models.StageTransition{}
	}
	response := map[string]interface{}{
		"status":      status,
		"transitions": transitions,
		"timestamp":   time.Now().UTC(),
	}
	h.writeJSONResponse(w, http.StatusOK, response)
}
