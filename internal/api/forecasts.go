package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rajasatyajit/ferrycast/internal/adaptive"
	apperrors "github.com/rajasatyajit/ferrycast/internal/errors"
	"github.com/rajasatyajit/ferrycast/internal/models"
	"github.com/rajasatyajit/ferrycast/pkg/utils"
)

// getForecastsHandler handles GET /forecasts
func (h *Handler) getForecastsHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	q, err := h.parseForecastQuery(r)
	if err != nil {
		h.writeErrorResponse(w, r, http.StatusBadRequest, err.Error())
		return
	}

	forecasts, err := h.svc.Store.QueryForecasts(ctx, q)
	if err != nil {
		h.writeError(w, r, err, "Failed to query forecasts")
		return
	}
	if forecasts == nil {
		forecasts = []models.SailingForecast{}
	}

	response := map[string]interface{}{
		"data":      forecasts,
		"count":     len(forecasts),
		"timestamp": time.Now().UTC(),
	}

	w.Header().Set("Cache-Control", "public, max-age=60")
	h.writeJSONResponse(w, http.StatusOK, response)
}

// parseForecastQuery parses query parameters into ForecastQuery. A date
// parameter selects a single day and overrides from/until.
func (h *Handler) parseForecastQuery(r *http.Request) (models.ForecastQuery, error) {
	q := models.ForecastQuery{}
	values := r.URL.Query()

	if limitStr := values.Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil {
			return q, fmt.Errorf("invalid limit: %s", limitStr)
		}
		if limit < 0 || limit > 1000 {
			return q, fmt.Errorf("limit must be between 0 and 1000")
		}
		q.Limit = limit
	}

	if offsetStr := values.Get("offset"); offsetStr != "" {
		offset, err := strconv.Atoi(offsetStr)
		if err != nil {
			return q, fmt.Errorf("invalid offset: %s", offsetStr)
		}
		if offset < 0 {
			return q, fmt.Errorf("offset must be non-negative")
		}
		q.Offset = offset
	}

	var err error
	if q.From, err = dateParam(values, "from"); err != nil {
		return q, err
	}
	if q.Until, err = dateParam(values, "until"); err != nil {
		return q, err
	}
	date, err := dateParam(values, "date")
	if err != nil {
		return q, err
	}
	if !date.IsZero() {
		q.From, q.Until = date, date
	}
	if !q.From.IsZero() && !q.Until.IsZero() && q.Until.Before(q.From) {
		return q, fmt.Errorf("until must not be before from")
	}

	for _, id := range values["route"] {
		if _, ok := h.svc.Routes.Lookup(id); !ok {
			return q, fmt.Errorf("unknown route: %s", id)
		}
		q.RouteIDs = append(q.RouteIDs, id)
	}
	for _, l := range values["level"] {
		level, err := models.ParseRiskLevel(l)
		if err != nil {
			return q, err
		}
		q.Levels = append(q.Levels, level)
	}

	return q, nil
}

// dateParam parses an optional YYYY-MM-DD query parameter.
func dateParam(values url.Values, name string) (time.Time, error) {
	s := values.Get(name)
	if s == "" {
		return time.Time{}, nil
	}
	d, err := utils.ParseDate(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s: %s", name, s)
	}
	return d, nil
}

// getSailingsHandler handles GET /sailings?date=YYYY-MM-DD (default today)
func (h *Handler) getSailingsHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	date, err := dateParam(r.URL.Query(), "date")
	if err != nil {
		h.writeErrorResponse(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if date.IsZero() {
		date = h.svc.Schedule.Today()
	}

	sailings, err := h.svc.Schedule.ActiveSailings(ctx, date)
	if err != nil {
		h.writeError(w, r, err, "Failed to list sailings")
		return
	}

	response := map[string]interface{}{
		"date":      utils.FormatDate(date),
		"data":      sailings,
		"count":     len(sailings),
		"timestamp": time.Now().UTC(),
	}
	h.writeJSONResponse(w, http.StatusOK, response)
}

// ScoreRequest is the body of POST /score.
type ScoreRequest struct {
	RouteID       string `json:"route_id"`
	Date          string `json:"date"`
	DepartureTime string `json:"departure_time"`
	ArrivalTime   string `json:"arrival_time,omitempty"`
}

// scoreHandler handles POST /score. Scored results replace the stored
// forecast for the sailing; UNKNOWN results are returned but not stored.
func (h *Handler) scoreHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req ScoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeErrorResponse(w, r, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	date, err := utils.ParseDate(req.Date)
	if err != nil {
		h.writeErrorResponse(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if _, ok := h.svc.Routes.Lookup(req.RouteID); !ok {
		h.writeErrorResponse(w, r, http.StatusBadRequest, "unknown route: "+req.RouteID)
		return
	}

	th, err := h.svc.Store.CurrentThresholds(ctx)
	if err != nil {
		h.writeError(w, r, err, "Failed to load thresholds")
		return
	}
	stage := adaptive.Stages[0]
	if h.svc.Stages != nil {
		if stage, err = h.svc.Stages.Current(ctx); err != nil {
			h.writeError(w, r, err, "Failed to load stage")
			return
		}
	}

	in := models.SailingInstance{RouteID: req.RouteID, Date: date, DepartureTime: req.DepartureTime, ArrivalTime: req.ArrivalTime}
	fc, err := h.svc.Scorer.Score(ctx, in, th, stage.ConfidenceCeiling)
	if err != nil {
		h.writeError(w, r, err, "Failed to score sailing")
		return
	}
	if fc.RiskLevel == models.RiskUnknown {
		w.Header().Set("Warning", `199 - "`+apperrors.ErrDataAbsent.Error()+`"`)
	} else if err := h.svc.Store.UpsertForecasts(ctx, []models.SailingForecast{fc}); err != nil {
		h.writeError(w, r, err, "Failed to store forecast")
		return
	}
	h.writeJSONResponse(w, http.StatusOK, fc)
}
