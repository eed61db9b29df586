package sdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

type Client struct {
	BaseURL     string
	AdminSecret string
	HTTP        *http.Client
}

func New(baseURL, adminSecret string) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	return &Client{BaseURL: baseURL, AdminSecret: adminSecret, HTTP: http.DefaultClient}
}

// Thresholds mirrors the server's score cut-points.
type Thresholds struct {
	High   float64 `json:"high"`
	Medium float64 `json:"medium"`
	Low    float64 `json:"low"`
}

type Forecast struct {
	ForecastDate  string     `json:"forecast_date"`
	RouteID       string     `json:"route_id"`
	DepartureTime string     `json:"departure_time"`
	RiskLevel     string     `json:"risk_level"`
	RiskScore     float64    `json:"risk_score"`
	Confidence    float64    `json:"confidence"`
	Factors       []string   `json:"contributing_factors"`
	Action        string     `json:"recommended_action"`
	Thresholds    Thresholds `json:"thresholds"`
}

type ScoreRequest struct {
	RouteID       string `json:"route_id"`
	Date          string `json:"date"`
	DepartureTime string `json:"departure_time"`
	ArrivalTime   string `json:"arrival_time,omitempty"`
}

type Stage struct {
	Number            int     `json:"stage"`
	Name              string  `json:"name"`
	ConfidenceCeiling float64 `json:"confidence_ceiling"`
}

type StageStatus struct {
	Current      Stage   `json:"current"`
	Observations int     `json:"observations"`
	Progress     float64 `json:"progress"`
	Next         *Stage  `json:"next,omitempty"`
}

// APIError is returned for any non-2xx response.
type APIError struct {
	StatusCode int
	Message    string `json:"error"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("ferrycast: %d %s", e.StatusCode, e.Message)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out interface{}) error {
	u := c.BaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	var rdr *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rdr = bytes.NewReader(b)
	} else {
		rdr = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rdr)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.AdminSecret != "" {
		req.Header.Set("X-Admin-Secret", c.AdminSecret)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		_ = json.NewDecoder(resp.Body).Decode(apiErr)
		return apiErr
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Forecasts lists stored forecasts. params are passed through as query
// parameters (date, from, until, route, level, limit, offset).
func (c *Client) Forecasts(ctx context.Context, params map[string]string) ([]Forecast, error) {
	q := url.Values{}
	for k, v := range params {
		q.Set(k, v)
	}
	var out struct {
		Data []Forecast `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/forecasts", q, nil, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

func (c *Client) Score(ctx context.Context, req ScoreRequest) (Forecast, error) {
	var out Forecast
	err := c.do(ctx, http.MethodPost, "/v1/score", nil, req, &out)
	return out, err
}

func (c *Client) Thresholds(ctx context.Context) (Thresholds, error) {
	var out struct {
		Current Thresholds `json:"current"`
	}
	err := c.do(ctx, http.MethodGet, "/v1/thresholds", nil, nil, &out)
	return out.Current, err
}

func (c *Client) Stage(ctx context.Context) (StageStatus, error) {
	var out struct {
		Status StageStatus `json:"status"`
	}
	err := c.do(ctx, http.MethodGet, "/v1/stage", nil, nil, &out)
	return out.Status, err
}

// AccuracyReport returns the JSON accuracy report for the last days.
func (c *Client) AccuracyReport(ctx context.Context, days int) (map[string]interface{}, error) {
	var out map[string]interface{}
	q := url.Values{"days": {fmt.Sprint(days)}}
	if err := c.do(ctx, http.MethodGet, "/v1/accuracy/report", q, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Adopt applies a recorded threshold proposal. Requires AdminSecret.
func (c *Client) Adopt(ctx context.Context, proposalID string) (Thresholds, error) {
	var out struct {
		Thresholds Thresholds `json:"thresholds"`
	}
	err := c.do(ctx, http.MethodPost, "/v1/admin/thresholds/"+url.PathEscape(proposalID)+"/adopt", nil, nil, &out)
	return out.Thresholds, err
}

// RunJob triggers a pipeline job by name. Requires AdminSecret.
func (c *Client) RunJob(ctx context.Context, name string) (map[string]interface{}, error) {
	var out map[string]interface{}
	if err := c.do(ctx, http.MethodPost, "/v1/admin/jobs/"+url.PathEscape(name), nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}
