package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"model_gateway/internal/config"
	"model_gateway/internal/models"
	"model_gateway/internal/serving"
	"model_gateway/internal/storage"
	"model_gateway/internal/utils"
)

// Registry is the authority on which version of each model serves traffic.
// Reads are lock-cheap; each model's active state is an immutable snapshot
// swapped under the write lock, so a reader either sees the full old state
// or the full new state.
type Registry struct {
	store        storage.VersionStore
	manifest     *config.Manifest
	historyDepth int
	logger       *utils.Logger

	mu      sync.RWMutex
	records map[string]*models.ModelVersionRecord // keyed name:version
	active  map[string]*models.ActiveVersionState
}

// Listener is notified after an activation or rollback commits, with the
// version that stopped serving. The model cache uses this to evict stale
// handles.
type Listener func(modelName, retiredVersion string)

// New builds a registry and replays persisted state. Decode failures abort
// startup rather than silently defaulting to an empty registry.
func New(store storage.VersionStore, manifest *config.Manifest, historyDepth int, logger *utils.Logger) (*Registry, error) {
	if historyDepth <= 0 {
		historyDepth = 5
	}

	r := &Registry{
		store:        store,
		manifest:     manifest,
		historyDepth: historyDepth,
		logger:       logger,
		records:      make(map[string]*models.ModelVersionRecord),
		active:       make(map[string]*models.ActiveVersionState),
	}

	records, active, err := store.Load(context.Background())
	if err != nil {
		return nil, fmt.Errorf("failed to restore registry state: %w", err)
	}
	for _, record := range records {
		r.records[record.Key()] = record
	}
	for name, state := range active {
		if _, ok := r.records[name+":"+state.Current]; !ok {
			return nil, fmt.Errorf("%w: active version %s:%s has no record",
				storage.ErrCorruptState, name, state.Current)
		}
		snapshot := state
		r.active[name] = &snapshot
	}

	r.logger.Info("registry restored", "records", len(r.records), "active", len(r.active))
	return r, nil
}

// Register records a model version. Registering is idempotent for identical
// metadata; re-registering a (name, version) pair with different metadata is
// a conflict. Registration never changes which version serves traffic.
func (r *Registry) Register(ctx context.Context, record *models.ModelVersionRecord) error {
	if record.ModelName == "" || record.Version == "" {
		return serving.Conflictf("model name and version are required")
	}
	if !r.manifest.Known(record.ModelName) {
		return serving.NotFoundf("model %q is not declared in the manifest", record.ModelName)
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.records[record.Key()]; ok {
		if existing.ArtifactPath == record.ArtifactPath && existing.MetadataEquals(record.Metadata) {
			return nil
		}
		return serving.Conflictf("version %s already registered with different metadata", record.Key())
	}

	if err := r.store.SaveRecord(ctx, record); err != nil {
		return fmt.Errorf("failed to persist version record: %w", err)
	}
	r.records[record.Key()] = record
	r.logger.Info("version registered", "model", record.ModelName, "version", record.Version)
	return nil
}

// SetActive atomically promotes a registered version to serve traffic. The
// previous active version, if any, is pushed onto a history stack bounded to
// the configured depth. Activating the already-active version is a no-op.
func (r *Registry) SetActive(ctx context.Context, name, version string) error {
	return r.setActive(ctx, name, version, nil)
}

// SetActiveNotify is SetActive with a listener invoked after commit if a
// previously serving version was displaced.
func (r *Registry) SetActiveNotify(ctx context.Context, name, version string, listener Listener) error {
	return r.setActive(ctx, name, version, listener)
}

func (r *Registry) setActive(ctx context.Context, name, version string, listener Listener) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.records[name+":"+version]; !ok {
		return serving.NotFoundf("version %s:%s is not registered", name, version)
	}

	prev := r.active[name]
	if prev != nil && prev.Current == version {
		return nil
	}

	next := &models.ActiveVersionState{Current: version}
	var retired string
	if prev != nil {
		retired = prev.Current
		next.History = pushHistory(prev.History, prev.Current, r.historyDepth)
	}

	if err := r.store.SaveActive(ctx, name, *next); err != nil {
		return fmt.Errorf("failed to persist active version: %w", err)
	}
	r.active[name] = next
	r.logger.Info("active version changed", "model", name, "version", version, "previous", retired)

	if listener != nil && retired != "" {
		listener(name, retired)
	}
	return nil
}

// Rollback atomically reverts a model to the most recent entry in its
// history stack. A model with no history, or no active version at all,
// cannot be rolled back.
func (r *Registry) Rollback(ctx context.Context, name string) (string, error) {
	return r.rollback(ctx, name, nil)
}

// RollbackNotify is Rollback with a listener invoked after commit.
func (r *Registry) RollbackNotify(ctx context.Context, name string, listener Listener) (string, error) {
	return r.rollback(ctx, name, listener)
}

func (r *Registry) rollback(ctx context.Context, name string, listener Listener) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev, ok := r.active[name]
	if !ok {
		return "", serving.NotFoundf("model %q has no active version", name)
	}
	if len(prev.History) == 0 {
		return "", serving.Conflictf("model %q has no rollback history", name)
	}

	last := len(prev.History) - 1
	next := &models.ActiveVersionState{
		Current: prev.History[last],
		History: append([]string(nil), prev.History[:last]...),
	}

	if err := r.store.SaveActive(ctx, name, *next); err != nil {
		return "", fmt.Errorf("failed to persist rollback: %w", err)
	}
	retired := prev.Current
	r.active[name] = next
	r.logger.Warn("version rolled back", "model", name, "from", retired, "to", next.Current)

	if listener != nil {
		listener(name, retired)
	}
	return next.Current, nil
}

// GetActive returns the record for the version currently serving a model.
func (r *Registry) GetActive(name string) (*models.ModelVersionRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	state, ok := r.active[name]
	if !ok {
		if !r.manifest.Known(name) {
			return nil, serving.NotFoundf("unknown model %q", name)
		}
		return nil, serving.NotFoundf("model %q has no active version", name)
	}
	return r.records[name+":"+state.Current], nil
}

// GetRecord returns the record for a specific registered version.
func (r *Registry) GetRecord(name, version string) (*models.ModelVersionRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	record, ok := r.records[name+":"+version]
	if !ok {
		return nil, serving.NotFoundf("version %s:%s is not registered", name, version)
	}
	return record, nil
}

// History returns the rollback stack for a model, oldest first.
func (r *Registry) History(name string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	state, ok := r.active[name]
	if !ok {
		return nil
	}
	return append([]string(nil), state.History...)
}

// ActiveVersions returns the current model-to-version mapping.
func (r *Registry) ActiveVersions() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]string, len(r.active))
	for name, state := range r.active {
		out[name] = state.Current
	}
	return out
}

// Versions returns all registered versions for a model, oldest first.
func (r *Registry) Versions(name string) []*models.ModelVersionRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*models.ModelVersionRecord
	for _, record := range r.records {
		if record.ModelName == name {
			out = append(out, record)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func pushHistory(history []string, version string, depth int) []string {
	next := append(append([]string(nil), history...), version)
	if len(next) > depth {
		next = next[len(next)-depth:]
	}
	return next
}
