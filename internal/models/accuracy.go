package models

import (
	"fmt"
	"time"
)

// Metric names a classification quality metric.
type Metric string

const (
	MetricF1        Metric = "f1"
	MetricAccuracy  Metric = "accuracy"
	MetricPrecision Metric = "precision"
	MetricRecall    Metric = "recall"
)

// ParseMetric validates a metric name; empty means F1.
func ParseMetric(s string) (Metric, error) {
	switch m := Metric(s); m {
	case "":
		return MetricF1, nil
	case MetricF1, MetricAccuracy, MetricPrecision, MetricRecall:
		return m, nil
	}
	return "", fmt.Errorf("unknown metric %q", s)
}

// ConfusionMatrix counts binary cancellation predictions against outcomes.
type ConfusionMatrix struct {
	TP int `json:"tp" db:"tp"`
	FP int `json:"fp" db:"fp"`
	FN int `json:"fn" db:"fn"`
	TN int `json:"tn" db:"tn"`
}

// Add records one prediction/outcome pair.
func (c *ConfusionMatrix) Add(predicted, actual bool) {
	switch {
	case predicted && actual:
		c.TP++
	case predicted && !actual:
		c.FP++
	case !predicted && actual:
		c.FN++
	default:
		c.TN++
	}
}

// Total returns the number of recorded pairs.
func (c ConfusionMatrix) Total() int {
	return c.TP + c.FP + c.FN + c.TN
}

// Accuracy is correct/total, zero when empty.
func (c ConfusionMatrix) Accuracy() float64 {
	return ratio(c.TP+c.TN, c.Total())
}

// Precision is TP/(TP+FP), zero when nothing was predicted.
func (c ConfusionMatrix) Precision() float64 {
	return ratio(c.TP, c.TP+c.FP)
}

// Recall is TP/(TP+FN), zero when nothing actually happened.
func (c ConfusionMatrix) Recall() float64 {
	return ratio(c.TP, c.TP+c.FN)
}

// F1 is the harmonic mean of precision and recall, zero when both are zero.
func (c ConfusionMatrix) F1() float64 {
	p, r := c.Precision(), c.Recall()
	if p+r == 0 {
		return 0
	}
	return 2 * p * r / (p + r)
}

// Swap returns the matrix with the positive class flipped.
func (c ConfusionMatrix) Swap() ConfusionMatrix {
	return ConfusionMatrix{TP: c.TN, FP: c.FN, FN: c.FP, TN: c.TP}
}

// Metric returns the named metric.
func (c ConfusionMatrix) Metric(m Metric) float64 {
	switch m {
	case MetricAccuracy:
		return c.Accuracy()
	case MetricPrecision:
		return c.Precision()
	case MetricRecall:
		return c.Recall()
	default:
		return c.F1()
	}
}

// Summary returns the four headline metrics.
func (c ConfusionMatrix) Summary() MetricSummary {
	return MetricSummary{
		Accuracy:  c.Accuracy(),
		Precision: c.Precision(),
		Recall:    c.Recall(),
		F1:        c.F1(),
	}
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}

// MetricSummary carries the headline classification metrics.
type MetricSummary struct {
	Accuracy  float64 `json:"accuracy"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
}

// Get returns the named metric.
func (s MetricSummary) Get(m Metric) float64 {
	switch m {
	case MetricAccuracy:
		return s.Accuracy
	case MetricPrecision:
		return s.Precision
	case MetricRecall:
		return s.Recall
	default:
		return s.F1
	}
}

// AccuracySnapshot is the dated result of one evaluation run.
type AccuracySnapshot struct {
	EvaluationDate time.Time       `json:"evaluation_date" db:"evaluation_date"`
	WindowDays     int             `json:"window_days" db:"window_days"`
	Confusion      ConfusionMatrix `json:"confusion" db:"confusion"`
	Total          int             `json:"total" db:"total"`
	Accuracy       float64         `json:"accuracy" db:"accuracy"`
	Precision      float64         `json:"precision" db:"precision"`
	Recall         float64         `json:"recall" db:"recall"`
	F1             float64         `json:"f1" db:"f1"`
	MAE            float64         `json:"mae" db:"mae"`
	RMSE           float64         `json:"rmse" db:"rmse"`
	Calibration    float64         `json:"calibration" db:"calibration"`
	Insufficient   bool            `json:"insufficient" db:"insufficient"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
}
