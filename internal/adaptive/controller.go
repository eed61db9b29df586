// Package adaptive tracks how much matched history the system has and
// maps it onto a maturity stage that bounds confidence and tightens the
// optimizer.
package adaptive

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"code.cloudfoundry.org/clock"
	"github.com/google/uuid"

	"github.com/rajasatyajit/ferrycast/internal/logger"
	"github.com/rajasatyajit/ferrycast/internal/metrics"
	"github.com/rajasatyajit/ferrycast/internal/models"
)

// Stage is one row of the maturity table. MaxObservations is -1 for the
// open-ended last stage.
type Stage struct {
	Number            int     `json:"stage"`
	Name              string  `json:"name"`
	MinObservations   int     `json:"min_observations"`
	MaxObservations   int     `json:"max_observations"`
	ConfidenceCeiling float64 `json:"confidence_ceiling"`
	TighteningFactor  float64 `json:"tightening_factor"`
	RuleOnly          bool    `json:"rule_only"`
}

// Stages is the fixed maturity table, ordered by MinObservations.
var Stages = []Stage{
	{Number: 0, Name: "rule-based", MinObservations: 0, MaxObservations: 49, ConfidenceCeiling: 0.60, TighteningFactor: 1.00, RuleOnly: true},
	{Number: 1, Name: "learning", MinObservations: 50, MaxObservations: 199, ConfidenceCeiling: 0.70, TighteningFactor: 0.95},
	{Number: 2, Name: "calibrated", MinObservations: 200, MaxObservations: 499, ConfidenceCeiling: 0.85, TighteningFactor: 0.90},
	{Number: 3, Name: "mature", MinObservations: 500, MaxObservations: -1, ConfidenceCeiling: 0.90, TighteningFactor: 0.85},
}

// StageFor returns the stage whose range contains count. Negative counts
// are treated as zero.
func StageFor(count int) Stage {
	for i := len(Stages) - 1; i >= 0; i-- {
		if count >= Stages[i].MinObservations {
			return Stages[i]
		}
	}
	return Stages[0]
}

// Progress reports how far count is through its stage, in [0, 1]. The last
// stage always reports 1.
func Progress(count int) float64 {
	s := StageFor(count)
	if s.MaxObservations < 0 {
		return 1
	}
	if count < s.MinObservations {
		return 0
	}
	return math.Min(1, float64(count-s.MinObservations)/float64(s.MaxObservations-s.MinObservations))
}

// Store is the persistence the controller needs.
type Store interface {
	CountMatches(ctx context.Context) (int, error)
	LastStageTransition(ctx context.Context) (*models.StageTransition, error)
	AppendStageTransition(ctx context.Context, t models.StageTransition) error
}

// Status describes the current stage and the distance to the next one.
type Status struct {
	Stage        Stage   `json:"current"`
	Observations int     `json:"observations"`
	Progress     float64 `json:"progress"`
	Next         *Stage  `json:"next,omitempty"`
}

// Controller derives the stage from the matched-prediction count.
type Controller struct {
	store Store
	clock clock.Clock
	log   *slog.Logger
}

// New creates a controller.
func New(s Store, clk clock.Clock) *Controller {
	if clk == nil {
		clk = clock.NewClock()
	}
	return &Controller{store: s, clock: clk, log: logger.WithComponent("adaptive")}
}

// Current returns the stage for the stored match count.
func (c *Controller) Current(ctx context.Context) (Stage, error) {
	n, err := c.store.CountMatches(ctx)
	if err != nil {
		return Stages[0], fmt.Errorf("count matches: %w", err)
	}
	return StageFor(n), nil
}

// Status returns the current stage with progress information.
func (c *Controller) Status(ctx context.Context) (Status, error) {
	n, err := c.store.CountMatches(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("count matches: %w", err)
	}
	st := Status{Stage: StageFor(n), Observations: n, Progress: Progress(n)}
	if st.Stage.Number+1 < len(Stages) {
		next := Stages[st.Stage.Number+1]
		st.Next = &next
	}
	return st, nil
}

// Observe recomputes the stage and appends a transition when it differs
// from the last recorded one. With no history the system is assumed to
// start at stage 0. The returned transition is nil when nothing changed.
func (c *Controller) Observe(ctx context.Context) (Stage, *models.StageTransition, error) {
	n, err := c.store.CountMatches(ctx)
	if err != nil {
		return Stages[0], nil, fmt.Errorf("count matches: %w", err)
	}
	stage := StageFor(n)
	metrics.SetStage(stage.Number, n)

	last, err := c.store.LastStageTransition(ctx)
	if err != nil {
		return stage, nil, fmt.Errorf("load last stage transition: %w", err)
	}
	previous := 0
	if last != nil {
		previous = last.NewStage
	}
	if previous == stage.Number {
		return stage, nil, nil
	}

	t := models.StageTransition{
		ID:               uuid.NewString(),
		PreviousStage:    previous,
		NewStage:         stage.Number,
		ObservationCount: n,
		TransitionedAt:   c.clock.Now().UTC(),
	}
	if err := c.store.AppendStageTransition(ctx, t); err != nil {
		return stage, nil, fmt.Errorf("record stage transition: %w", err)
	}
	c.log.Info("Stage transition", "from", previous, "to", stage.Number, "name", stage.Name,
		"observations", n, "confidence_ceiling", stage.ConfidenceCeiling, "tightening_factor", stage.TighteningFactor)
	return stage, &t, nil
}
