package models

import "time"

// StageTransition records the first observation of a new maturity stage.
type StageTransition struct {
	ID               string    `json:"id" db:"id"`
	PreviousStage    int       `json:"previous_stage" db:"previous_stage"`
	NewStage         int       `json:"new_stage" db:"new_stage"`
	ObservationCount int       `json:"observation_count" db:"observation_count"`
	TransitionedAt   time.Time `json:"transitioned_at" db:"transitioned_at"`
}
