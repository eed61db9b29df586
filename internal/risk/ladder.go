package risk

import (
	"fmt"

	"github.com/rajasatyajit/ferrycast/internal/models"
)

// rung is one step of a factor ladder. Ladders are ordered from the most
// to the least severe rung and only the first matching rung fires.
type rung struct {
	limit  float64
	points float64
	label  string
}

var (
	windLadder = []rung{
		{35, 70, "Extreme wind"},
		{30, 60, "Severe wind"},
		{25, 50, "Very strong wind"},
		{20, 35, "Strong wind"},
		{15, 20, "Fresh wind"},
		{10, 10, "Breezy"},
	}
	waveLadder = []rung{
		{4.0, 40, "Very high waves"},
		{3.0, 30, "High waves"},
		{2.0, 15, "Moderate waves"},
	}
	// visibility rungs fire below the limit
	visibilityLadder = []rung{
		{1.0, 20, "Poor visibility"},
		{3.0, 10, "Reduced visibility"},
	}
)

// WindContribution scores a worst-case wind speed in m/s.
func WindContribution(v float64) (float64, string) {
	for _, r := range windLadder {
		if v >= r.limit {
			return r.points, fmt.Sprintf("%s (%.1f m/s)", r.label, v)
		}
	}
	return 0, ""
}

// WaveContribution scores a worst-case wave height in metres.
func WaveContribution(v float64) (float64, string) {
	for _, r := range waveLadder {
		if v >= r.limit {
			return r.points, fmt.Sprintf("%s (%.1f m)", r.label, v)
		}
	}
	return 0, ""
}

// VisibilityContribution scores a worst-case visibility in km.
func VisibilityContribution(v float64) (float64, string) {
	for _, r := range visibilityLadder {
		if v < r.limit {
			return r.points, fmt.Sprintf("%s (%.1f km)", r.label, v)
		}
	}
	return 0, ""
}

// Conditions are the worst-case values of a sailing. A nil field means the
// factor was not observed.
type Conditions struct {
	WindSpeed   *float64
	WaveHeight  *float64
	Visibility  *float64
	Temperature *float64
}

// Assess sums the ladder contributions of c. The score is not capped.
func Assess(c Conditions) (score float64, factors []string) {
	factors = []string{}
	add := func(points float64, label string) {
		if points > 0 {
			score += points
			factors = append(factors, label)
		}
	}
	if c.WindSpeed != nil {
		add(WindContribution(*c.WindSpeed))
	}
	if c.WaveHeight != nil {
		add(WaveContribution(*c.WaveHeight))
	}
	if c.Visibility != nil {
		add(VisibilityContribution(*c.Visibility))
	}
	return score, factors
}

// RecommendedAction returns the operator guidance for a level.
func RecommendedAction(level models.RiskLevel) string {
	switch level {
	case models.RiskHigh:
		return "High cancellation risk - consider alternative date"
	case models.RiskMedium:
		return "Cancellation risk - monitor forecast"
	case models.RiskLow:
		return "Low risk - normal operation expected"
	case models.RiskMinimal:
		return "Good conditions - stable operation expected"
	default:
		return "Insufficient weather data - check official status"
	}
}

// Confidence decays 0.07 per day ahead with a floor of 0.5, then is capped
// at ceiling. A non-positive ceiling means no cap. Past dates count as today.
func Confidence(daysAhead int, ceiling float64) float64 {
	if daysAhead < 0 {
		daysAhead = 0
	}
	c := 1.0 - 0.07*float64(daysAhead)
	if c < 0.5 {
		c = 0.5
	}
	if ceiling > 0 && c > ceiling {
		c = ceiling
	}
	return c
}
