package accuracy

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/rajasatyajit/ferrycast/internal/models"
	"github.com/rajasatyajit/ferrycast/pkg/utils"
)

// RouteBreakdown is the per-route slice of a report.
type RouteBreakdown struct {
	RouteID   string                 `json:"route_id"`
	Confusion models.ConfusionMatrix `json:"confusion"`
	Total     int                    `json:"total"`
	Accuracy  float64                `json:"accuracy"`
	F1        float64                `json:"f1"`
}

// Report is a readable summary of a window of matched predictions.
type Report struct {
	Snapshot     models.AccuracySnapshot    `json:"snapshot"`
	Routes       []RouteBreakdown           `json:"routes"`
	RecentMisses []models.MatchedPrediction `json:"recent_misses"`
}

const maxMisses = 10

// Report computes metrics for the window without persisting them.
func (e *Evaluator) Report(ctx context.Context, windowDays int) (Report, error) {
	if windowDays <= 0 {
		windowDays = 30
	}
	until := e.today()
	matches, err := e.store.QueryMatches(ctx, until.AddDate(0, 0, -windowDays), until)
	if err != nil {
		return Report{}, fmt.Errorf("load matches: %w", err)
	}

	r := Report{Snapshot: Compute(matches), Routes: []RouteBreakdown{}, RecentMisses: []models.MatchedPrediction{}}
	r.Snapshot.EvaluationDate = until
	r.Snapshot.WindowDays = windowDays

	perRoute := make(map[string]*models.ConfusionMatrix)
	for _, m := range matches {
		cm := perRoute[m.RouteID]
		if cm == nil {
			cm = &models.ConfusionMatrix{}
			perRoute[m.RouteID] = cm
		}
		cm.Add(m.PredictedCancellation, m.ActualCancellation)
		if !m.Correct {
			r.RecentMisses = append(r.RecentMisses, m)
		}
	}
	for id, cm := range perRoute {
		r.Routes = append(r.Routes, RouteBreakdown{RouteID: id, Confusion: *cm, Total: cm.Total(), Accuracy: cm.Accuracy(), F1: cm.F1()})
	}
	sort.Slice(r.Routes, func(i, j int) bool { return r.Routes[i].RouteID < r.Routes[j].RouteID })

	sort.SliceStable(r.RecentMisses, func(i, j int) bool {
		return r.RecentMisses[i].ForecastDate.After(r.RecentMisses[j].ForecastDate)
	})
	if len(r.RecentMisses) > maxMisses {
		r.RecentMisses = r.RecentMisses[:maxMisses]
	}
	return r, nil
}

// WriteText renders the report as aligned plain text.
func (r Report) WriteText(out io.Writer) error {
	s := r.Snapshot
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)

	fmt.Fprintf(w, "Accuracy report %s (last %d days)\n\n", utils.FormatDate(s.EvaluationDate), s.WindowDays)
	if s.Insufficient {
		fmt.Fprintln(w, "No matched predictions in window.")
		return w.Flush()
	}

	fmt.Fprintf(w, "Matched\t%d\n", s.Total)
	fmt.Fprintf(w, "Accuracy\t%.3f\n", s.Accuracy)
	fmt.Fprintf(w, "Precision\t%.3f\n", s.Precision)
	fmt.Fprintf(w, "Recall\t%.3f\n", s.Recall)
	fmt.Fprintf(w, "F1\t%.3f\n", s.F1)
	fmt.Fprintf(w, "MAE\t%.3f\n", s.MAE)
	fmt.Fprintf(w, "RMSE\t%.3f\n", s.RMSE)
	fmt.Fprintf(w, "Calibration\t%.3f\n\n", s.Calibration)

	c := s.Confusion
	fmt.Fprintln(w, "\tactual cancel\tactual operate")
	fmt.Fprintf(w, "predicted cancel\t%d\t%d\n", c.TP, c.FP)
	fmt.Fprintf(w, "predicted operate\t%d\t%d\n\n", c.FN, c.TN)

	fmt.Fprintln(w, "ROUTE\tMATCHED\tACCURACY\tF1")
	for _, rb := range r.Routes {
		fmt.Fprintf(w, "%s\t%d\t%.3f\t%.3f\n", rb.RouteID, rb.Total, rb.Accuracy, rb.F1)
	}

	if len(r.RecentMisses) > 0 {
		fmt.Fprintln(w, "\nDATE\tROUTE\tDEPARTURE\tLEVEL\tSCORE\tACTUAL")
		for _, m := range r.RecentMisses {
			dep := m.DepartureTime
			if dep == "" {
				dep = "(route)"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%.0f\t%s\n", utils.FormatDate(m.ForecastDate), m.RouteID, dep, m.RiskLevel, m.RiskScore, m.ActualStatus)
		}
	}
	return w.Flush()
}

// Text renders the report to a string.
func (r Report) Text() string {
	var b strings.Builder
	_ = r.WriteText(&b)
	return b.String()
}
