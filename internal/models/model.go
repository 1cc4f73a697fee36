package models

import (
	"time"
)

//
// Model version records (model_versions table / records.json)
//

// ModelVersionRecord describes a registered model artifact. Records are
// immutable once registered; re-registering the same (name, version) with
// identical metadata is a no-op.
type ModelVersionRecord struct {
	ModelName    string    `db:"model_name" json:"model_name"`
	Version      string    `db:"version" json:"version"`
	ArtifactPath string    `db:"artifact_path" json:"artifact_path"`
	Metadata     JSONB     `db:"metadata" json:"metadata,omitempty"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// Key returns the cache/storage key for this record.
func (r *ModelVersionRecord) Key() string {
	return r.ModelName + ":" + r.Version
}

// MetadataEquals compares record metadata for duplicate-registration checks.
// Nil and empty maps compare equal.
func (r *ModelVersionRecord) MetadataEquals(other JSONB) bool {
	return r.Metadata.Equals(other)
}

// ActiveVersionState captures the serving state for one model name: the
// version currently served and the bounded stack of versions it replaced.
// Instances are treated as immutable; the registry swaps whole states.
type ActiveVersionState struct {
	Current string   `json:"current"`
	History []string `json:"history,omitempty"`
}

// ModelInfo is the listing shape consumed by the dashboard collaborator.
type ModelInfo struct {
	Name                string  `json:"name"`
	Version             string  `json:"version"`
	Loaded              bool    `json:"loaded"`
	ConfidenceThreshold float64 `json:"confidence_threshold"`
}

// PredictionResult is the executor's response shape.
type PredictionResult struct {
	Prediction   string  `json:"prediction"`
	Confidence   float64 `json:"confidence"`
	Version      string  `json:"model_version"`
	ModelName    string  `json:"model_name"`
	FallbackUsed bool    `json:"fallback_used"`
	LatencyMs    float64 `json:"latency_ms"`
}
