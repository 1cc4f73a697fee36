package storage

import (
	"context"
	"errors"

	"model_gateway/internal/models"
)

// ErrCorruptState is returned when persisted serving state cannot be
// decoded. Initialization must fail loudly rather than default silently.
var ErrCorruptState = errors.New("corrupt persisted state")

// VersionStore persists version records and the active-version mapping so
// they survive restarts.
type VersionStore interface {
	SaveRecord(ctx context.Context, record *models.ModelVersionRecord) error
	SaveActive(ctx context.Context, name string, state models.ActiveVersionState) error

	// Load returns all persisted records and the active-version mapping.
	Load(ctx context.Context) ([]*models.ModelVersionRecord, map[string]models.ActiveVersionState, error)
}

// ReferenceStore persists per-model reference distributions.
type ReferenceStore interface {
	SaveReference(ctx context.Context, ref *models.ReferenceDistribution) error
	LoadReferences(ctx context.Context) (map[string]*models.ReferenceDistribution, error)
}

// DriftEventStore persists the append-only drift event log.
type DriftEventStore interface {
	AppendDriftEvent(ctx context.Context, event *models.DriftEvent) error

	// ListDriftEvents returns the most recent events, newest first. An empty
	// modelName lists events across all models.
	ListDriftEvents(ctx context.Context, modelName string, limit int) ([]*models.DriftEvent, error)
}

// Store bundles all persistence concerns behind one handle.
type Store interface {
	VersionStore
	ReferenceStore
	DriftEventStore
	Close() error
}
