package optimizer

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	apperrors "github.com/rajasatyajit/ferrycast/internal/errors"
)

// Reference cut-points the averaging heuristic compares against.
const (
	baseWindThreshold = 15.0
	baseWaveThreshold = 3.0
	minWindShift      = 1.0
	minWaveShift      = 0.3
	minCorrelationN   = 5
)

// Suggestion is the output of the error-averaging heuristic. A nil
// threshold means no change is suggested for that factor.
type Suggestion struct {
	FalsePositives int      `json:"false_positives"`
	FalseNegatives int      `json:"false_negatives"`
	WindThreshold  *float64 `json:"wind_threshold,omitempty"`
	WaveThreshold  *float64 `json:"wave_threshold,omitempty"`
	Notes          []string `json:"notes"`
}

// SuggestByErrorAveraging places a wind and wave cut-point halfway between
// the mean conditions of false alarms and of missed cancellations. It is
// reported alongside the grid search and never adopted.
func SuggestByErrorAveraging(points []Point) Suggestion {
	var fpWind, fnWind, fpWave, fnWave []float64
	s := Suggestion{Notes: []string{}}
	for _, p := range points {
		switch {
		case p.Predicted && !p.Actual:
			s.FalsePositives++
			fpWind = appendValue(fpWind, p.WindSpeed)
			fpWave = appendValue(fpWave, p.WaveHeight)
		case !p.Predicted && p.Actual:
			s.FalseNegatives++
			fnWind = appendValue(fnWind, p.WindSpeed)
			fnWave = appendValue(fnWave, p.WaveHeight)
		}
	}

	if v, ok := midpoint(fpWind, fnWind); ok {
		if math.Abs(v-baseWindThreshold) > minWindShift {
			s.WindThreshold = &v
			s.Notes = append(s.Notes, fmt.Sprintf("wind threshold %.1f -> %.1f m/s", baseWindThreshold, v))
		}
	} else {
		s.Notes = append(s.Notes, "not enough wind observations on both error sides")
	}
	if v, ok := midpoint(fpWave, fnWave); ok {
		if math.Abs(v-baseWaveThreshold) > minWaveShift {
			s.WaveThreshold = &v
			s.Notes = append(s.Notes, fmt.Sprintf("wave threshold %.1f -> %.1f m", baseWaveThreshold, v))
		}
	} else {
		s.Notes = append(s.Notes, "not enough wave observations on both error sides")
	}
	return s
}

func appendValue(xs []float64, v *float64) []float64 {
	if v == nil {
		return xs
	}
	return append(xs, *v)
}

func midpoint(a, b []float64) (float64, bool) {
	if len(a) == 0 || len(b) == 0 {
		return 0, false
	}
	return (stat.Mean(a, nil) + stat.Mean(b, nil)) / 2, true
}

// Correlation describes how wave height tracks wind speed on cancelled
// sailings. The fit is WaveHeight = Intercept + Slope*WindSpeed.
type Correlation struct {
	N         int     `json:"n"`
	Pearson   float64 `json:"pearson"`
	Slope     float64 `json:"slope"`
	Intercept float64 `json:"intercept"`
}

// WindWaveCorrelation computes the correlation among actual cancellations
// with both conditions known.
func WindWaveCorrelation(points []Point) (Correlation, error) {
	var wind, wave []float64
	for _, p := range points {
		if p.Actual && p.WindSpeed != nil && p.WaveHeight != nil {
			wind = append(wind, *p.WindSpeed)
			wave = append(wave, *p.WaveHeight)
		}
	}
	if len(wind) < minCorrelationN {
		return Correlation{N: len(wind)}, apperrors.InsufficientDataError{Operation: "wind/wave correlation", Have: len(wind), Need: minCorrelationN}
	}
	intercept, slope := stat.LinearRegression(wind, wave, nil, false)
	return Correlation{
		N:         len(wind),
		Pearson:   stat.Correlation(wind, wave, nil),
		Slope:     slope,
		Intercept: intercept,
	}, nil
}
