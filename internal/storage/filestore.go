package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"model_gateway/internal/models"
)

const (
	recordsFile       = "records.json"
	activeFile        = "active_versions.json"
	driftEventsFile   = "drift_events.jsonl"
	referenceStatsDir = "reference_stats"
)

// FileStore is the default persistence backend: JSON state files under a
// single directory. Suitable for single-node deployments; Postgres covers
// the rest.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

// NewFileStore creates the state directory if needed and returns a store.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Join(dir, referenceStatsDir), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// SaveRecord appends a version record to records.json.
func (s *FileStore) SaveRecord(ctx context.Context, record *models.ModelVersionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.readRecords()
	if err != nil {
		return err
	}

	for i, existing := range records {
		if existing.ModelName == record.ModelName && existing.Version == record.Version {
			records[i] = record
			return s.writeJSON(recordsFile, records)
		}
	}

	records = append(records, record)
	return s.writeJSON(recordsFile, records)
}

// SaveActive writes the active-version state for one model.
func (s *FileStore) SaveActive(ctx context.Context, name string, state models.ActiveVersionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	active, err := s.readActive()
	if err != nil {
		return err
	}

	active[name] = state
	return s.writeJSON(activeFile, active)
}

// Load reads all persisted records and active-version states.
func (s *FileStore) Load(ctx context.Context) ([]*models.ModelVersionRecord, map[string]models.ActiveVersionState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.readRecords()
	if err != nil {
		return nil, nil, err
	}
	active, err := s.readActive()
	if err != nil {
		return nil, nil, err
	}
	return records, active, nil
}

// SaveReference writes <model>_stats.json under reference_stats.
func (s *FileStore) SaveReference(ctx context.Context, ref *models.ReferenceDistribution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := filepath.Join(referenceStatsDir, ref.ModelName+"_stats.json")
	return s.writeJSON(name, ref)
}

// LoadReferences reads every reference distribution in the stats directory.
func (s *FileStore) LoadReferences(ctx context.Context) (map[string]*models.ReferenceDistribution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(filepath.Join(s.dir, referenceStatsDir))
	if err != nil {
		return nil, fmt.Errorf("failed to read reference stats directory: %w", err)
	}

	refs := make(map[string]*models.ReferenceDistribution)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), "_stats.json") {
			continue
		}

		path := filepath.Join(s.dir, referenceStatsDir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", entry.Name(), err)
		}

		var ref models.ReferenceDistribution
		if err := json.Unmarshal(data, &ref); err != nil {
			return nil, fmt.Errorf("%w: reference distribution %s: %v", ErrCorruptState, entry.Name(), err)
		}
		if ref.ModelName == "" {
			ref.ModelName = strings.TrimSuffix(entry.Name(), "_stats.json")
		}
		refs[ref.ModelName] = &ref
	}
	return refs, nil
}

// AppendDriftEvent appends one JSON line to drift_events.jsonl.
func (s *FileStore) AppendDriftEvent(ctx context.Context, event *models.DriftEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(filepath.Join(s.dir, driftEventsFile), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open drift event log: %w", err)
	}
	defer f.Close()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode drift event: %w", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to append drift event: %w", err)
	}
	return nil
}

// ListDriftEvents returns the most recent drift events, newest first.
func (s *FileStore) ListDriftEvents(ctx context.Context, modelName string, limit int) ([]*models.DriftEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(filepath.Join(s.dir, driftEventsFile))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open drift event log: %w", err)
	}
	defer f.Close()

	var events []*models.DriftEvent
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var event models.DriftEvent
		if err := json.Unmarshal(line, &event); err != nil {
			return nil, fmt.Errorf("%w: drift event log: %v", ErrCorruptState, err)
		}
		if modelName != "" && event.ModelName != modelName {
			continue
		}
		events = append(events, &event)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan drift event log: %w", err)
	}

	// Newest first
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
	if limit > 0 && len(events) > limit {
		events = events[:limit]
	}
	return events, nil
}

// Close is a no-op for the file store.
func (s *FileStore) Close() error {
	return nil
}

func (s *FileStore) readRecords() ([]*models.ModelVersionRecord, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, recordsFile))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", recordsFile, err)
	}

	var records []*models.ModelVersionRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptState, recordsFile, err)
	}
	return records, nil
}

func (s *FileStore) readActive() (map[string]models.ActiveVersionState, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, activeFile))
	if os.IsNotExist(err) {
		return make(map[string]models.ActiveVersionState), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", activeFile, err)
	}

	active := make(map[string]models.ActiveVersionState)
	if err := json.Unmarshal(data, &active); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptState, activeFile, err)
	}
	return active, nil
}

// writeJSON writes a file atomically via a temp file rename so a crash never
// leaves a half-written state file behind.
func (s *FileStore) writeJSON(name string, payload interface{}) error {
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", name, err)
	}

	path := filepath.Join(s.dir, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", name, err)
	}
	return nil
}
