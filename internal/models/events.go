package models

import (
	"time"

	"github.com/google/uuid"
)

//
// Monitoring events
//

// DriftEvent records a window-level distribution shift. Events are
// append-only and never mutated after emission.
type DriftEvent struct {
	ID         uuid.UUID `db:"id" json:"id"`
	ModelName  string    `db:"model_name" json:"model_name"`
	Magnitude  float64   `db:"magnitude" json:"magnitude"`
	Features   []int     `db:"-" json:"features"`
	WindowSize int       `db:"window_size" json:"window_size"`
	Timestamp  time.Time `db:"created_at" json:"timestamp"`
}

// NewDriftEvent builds a drift event for the given model and implicated
// feature indices.
func NewDriftEvent(modelName string, magnitude float64, features []int, windowSize int) *DriftEvent {
	return &DriftEvent{
		ID:         uuid.New(),
		ModelName:  modelName,
		Magnitude:  magnitude,
		Features:   features,
		WindowSize: windowSize,
		Timestamp:  time.Now().UTC(),
	}
}

// LowConfidenceEvent records a prediction whose confidence fell below the
// model's configured threshold.
type LowConfidenceEvent struct {
	ModelName  string    `json:"model"`
	Confidence float64   `json:"confidence"`
	Threshold  float64   `json:"threshold"`
	Timestamp  time.Time `json:"timestamp"`
}
