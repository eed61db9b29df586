package models

import (
	"math"
	"testing"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestConfusionMatrix_Metrics(t *testing.T) {
	tests := []struct {
		name      string
		cm        ConfusionMatrix
		accuracy  float64
		precision float64
		recall    float64
		f1        float64
	}{
		{
			name:      "mixed",
			cm:        ConfusionMatrix{TP: 4, FP: 1, FN: 1, TN: 4},
			accuracy:  0.8,
			precision: 0.8,
			recall:    0.8,
			f1:        0.8,
		},
		{
			name:     "empty",
			cm:       ConfusionMatrix{},
			accuracy: 0, precision: 0, recall: 0, f1: 0,
		},
		{
			name:     "no positive predictions",
			cm:       ConfusionMatrix{FN: 3, TN: 7},
			accuracy: 0.7, precision: 0, recall: 0, f1: 0,
		},
		{
			name:     "precision zero recall zero with false positives",
			cm:       ConfusionMatrix{FP: 2, TN: 8},
			accuracy: 0.8, precision: 0, recall: 0, f1: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cm.Accuracy(); !almostEqual(got, tt.accuracy) {
				t.Errorf("Accuracy = %v, want %v", got, tt.accuracy)
			}
			if got := tt.cm.Precision(); !almostEqual(got, tt.precision) {
				t.Errorf("Precision = %v, want %v", got, tt.precision)
			}
			if got := tt.cm.Recall(); !almostEqual(got, tt.recall) {
				t.Errorf("Recall = %v, want %v", got, tt.recall)
			}
			if got := tt.cm.F1(); !almostEqual(got, tt.f1) || math.IsNaN(got) {
				t.Errorf("F1 = %v, want %v", got, tt.f1)
			}
		})
	}
}

func TestConfusionMatrix_F1Symmetry(t *testing.T) {
	cm := ConfusionMatrix{TP: 6, FP: 2, FN: 3, TN: 9}
	swapped := cm.Swap()

	// swapping twice is the identity
	if swapped.Swap() != cm {
		t.Fatalf("double swap changed matrix: %+v", swapped.Swap())
	}
	// negative-class precision equals TN/(TN+FN) of the original
	if !almostEqual(swapped.Precision(), 9.0/12.0) {
		t.Errorf("swapped precision = %v", swapped.Precision())
	}
	if !almostEqual(swapped.Accuracy(), cm.Accuracy()) {
		t.Errorf("accuracy must not depend on positive class")
	}
}

func TestConfusionMatrix_Add(t *testing.T) {
	var cm ConfusionMatrix
	cm.Add(true, true)
	cm.Add(true, false)
	cm.Add(false, true)
	cm.Add(false, false)
	cm.Add(false, false)

	if cm != (ConfusionMatrix{TP: 1, FP: 1, FN: 1, TN: 2}) {
		t.Errorf("unexpected matrix %+v", cm)
	}
	if cm.Metric(MetricRecall) != cm.Recall() || cm.Summary().Get(MetricF1) != cm.F1() {
		t.Error("metric accessors disagree")
	}
}

func TestParseMetric(t *testing.T) {
	if m, err := ParseMetric(""); err != nil || m != MetricF1 {
		t.Errorf("empty metric = %v, %v", m, err)
	}
	if _, err := ParseMetric("auc"); err == nil {
		t.Error("expected error for unsupported metric")
	}
}
