package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver

	"model_gateway/internal/models"
)

// PostgresStore persists serving state in Postgres. Used for multi-node
// deployments where the file store does not suffice.
type PostgresStore struct {
	conn *sqlx.DB
}

// PostgresConfig holds connection pool settings for the Postgres store.
type PostgresConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// NewPostgresStore connects to Postgres and ensures the serving tables exist.
func NewPostgresStore(cfg PostgresConfig) (*PostgresStore, error) {
	conn, err := sqlx.Connect("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	conn.SetMaxOpenConns(cfg.MaxOpenConns)
	conn.SetMaxIdleConns(cfg.MaxIdleConns)
	conn.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	conn.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	store := &PostgresStore{conn: conn}
	if err := store.migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	return store, nil
}

func (s *PostgresStore) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS model_versions (
			model_name    TEXT NOT NULL,
			version       TEXT NOT NULL,
			artifact_path TEXT NOT NULL,
			metadata      JSONB,
			created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (model_name, version)
		);
		CREATE TABLE IF NOT EXISTS active_versions (
			model_name TEXT PRIMARY KEY,
			current    TEXT NOT NULL,
			history    JSONB NOT NULL DEFAULT '[]',
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE TABLE IF NOT EXISTS reference_distributions (
			model_name  TEXT PRIMARY KEY,
			stats       JSONB NOT NULL,
			captured_at TIMESTAMPTZ NOT NULL
		);
		CREATE TABLE IF NOT EXISTS drift_events (
			id          UUID PRIMARY KEY,
			model_name  TEXT NOT NULL,
			magnitude   DOUBLE PRECISION NOT NULL,
			features    JSONB NOT NULL,
			window_size INTEGER NOT NULL,
			created_at  TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS drift_events_model_idx
			ON drift_events (model_name, created_at DESC);
	`
	if _, err := s.conn.Exec(schema); err != nil {
		return fmt.Errorf("failed to create serving tables: %w", err)
	}
	return nil
}

// SaveRecord inserts a version record. Conflicting keys keep the original
// row; records are immutable once registered.
func (s *PostgresStore) SaveRecord(ctx context.Context, record *models.ModelVersionRecord) error {
	query := `
		INSERT INTO model_versions (model_name, version, artifact_path, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (model_name, version) DO NOTHING
	`
	_, err := s.conn.ExecContext(ctx, query,
		record.ModelName, record.Version, record.ArtifactPath, record.Metadata, record.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save version record: %w", err)
	}
	return nil
}

// SaveActive upserts the active-version state for one model.
func (s *PostgresStore) SaveActive(ctx context.Context, name string, state models.ActiveVersionState) error {
	history, err := json.Marshal(state.History)
	if err != nil {
		return fmt.Errorf("failed to encode history: %w", err)
	}

	query := `
		INSERT INTO active_versions (model_name, current, history, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (model_name) DO UPDATE
			SET current = EXCLUDED.current, history = EXCLUDED.history, updated_at = now()
	`
	if _, err := s.conn.ExecContext(ctx, query, name, state.Current, history); err != nil {
		return fmt.Errorf("failed to save active version: %w", err)
	}
	return nil
}

// Load reads all version records and active-version states.
func (s *PostgresStore) Load(ctx context.Context) ([]*models.ModelVersionRecord, map[string]models.ActiveVersionState, error) {
	var records []*models.ModelVersionRecord
	query := `
		SELECT model_name, version, artifact_path, metadata, created_at
		FROM model_versions
		ORDER BY model_name, created_at
	`
	if err := s.conn.SelectContext(ctx, &records, query); err != nil {
		return nil, nil, fmt.Errorf("failed to load version records: %w", err)
	}

	rows, err := s.conn.QueryxContext(ctx, `SELECT model_name, current, history FROM active_versions`)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load active versions: %w", err)
	}
	defer rows.Close()

	active := make(map[string]models.ActiveVersionState)
	for rows.Next() {
		var name, current string
		var history []byte
		if err := rows.Scan(&name, &current, &history); err != nil {
			return nil, nil, fmt.Errorf("failed to scan active version: %w", err)
		}
		state := models.ActiveVersionState{Current: current}
		if len(history) > 0 {
			if err := json.Unmarshal(history, &state.History); err != nil {
				return nil, nil, fmt.Errorf("%w: active version history for %q: %v", ErrCorruptState, name, err)
			}
		}
		active[name] = state
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("failed to iterate active versions: %w", err)
	}

	return records, active, nil
}

// SaveReference upserts the reference distribution for one model.
func (s *PostgresStore) SaveReference(ctx context.Context, ref *models.ReferenceDistribution) error {
	stats, err := json.Marshal(ref)
	if err != nil {
		return fmt.Errorf("failed to encode reference distribution: %w", err)
	}

	query := `
		INSERT INTO reference_distributions (model_name, stats, captured_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (model_name) DO UPDATE
			SET stats = EXCLUDED.stats, captured_at = EXCLUDED.captured_at
	`
	if _, err := s.conn.ExecContext(ctx, query, ref.ModelName, stats, ref.CapturedAt); err != nil {
		return fmt.Errorf("failed to save reference distribution: %w", err)
	}
	return nil
}

// LoadReferences reads every stored reference distribution.
func (s *PostgresStore) LoadReferences(ctx context.Context) (map[string]*models.ReferenceDistribution, error) {
	rows, err := s.conn.QueryxContext(ctx, `SELECT model_name, stats FROM reference_distributions`)
	if err != nil {
		return nil, fmt.Errorf("failed to load reference distributions: %w", err)
	}
	defer rows.Close()

	refs := make(map[string]*models.ReferenceDistribution)
	for rows.Next() {
		var name string
		var stats []byte
		if err := rows.Scan(&name, &stats); err != nil {
			return nil, fmt.Errorf("failed to scan reference distribution: %w", err)
		}
		var ref models.ReferenceDistribution
		if err := json.Unmarshal(stats, &ref); err != nil {
			return nil, fmt.Errorf("%w: reference distribution for %q: %v", ErrCorruptState, name, err)
		}
		ref.ModelName = name
		refs[name] = &ref
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate reference distributions: %w", err)
	}
	return refs, nil
}

// AppendDriftEvent inserts one drift event.
func (s *PostgresStore) AppendDriftEvent(ctx context.Context, event *models.DriftEvent) error {
	features, err := json.Marshal(event.Features)
	if err != nil {
		return fmt.Errorf("failed to encode drift features: %w", err)
	}

	query := `
		INSERT INTO drift_events (id, model_name, magnitude, features, window_size, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err = s.conn.ExecContext(ctx, query,
		event.ID, event.ModelName, event.Magnitude, features, event.WindowSize, event.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to insert drift event: %w", err)
	}
	return nil
}

// ListDriftEvents returns the most recent drift events, newest first.
func (s *PostgresStore) ListDriftEvents(ctx context.Context, modelName string, limit int) ([]*models.DriftEvent, error) {
	if limit <= 0 {
		limit = 100
	}

	var rows *sqlx.Rows
	var err error
	if modelName != "" {
		rows, err = s.conn.QueryxContext(ctx, `
			SELECT id, model_name, magnitude, features, window_size, created_at
			FROM drift_events WHERE model_name = $1
			ORDER BY created_at DESC LIMIT $2
		`, modelName, limit)
	} else {
		rows, err = s.conn.QueryxContext(ctx, `
			SELECT id, model_name, magnitude, features, window_size, created_at
			FROM drift_events
			ORDER BY created_at DESC LIMIT $1
		`, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list drift events: %w", err)
	}
	defer rows.Close()

	var events []*models.DriftEvent
	for rows.Next() {
		var event models.DriftEvent
		var features []byte
		if err := rows.Scan(&event.ID, &event.ModelName, &event.Magnitude, &features, &event.WindowSize, &event.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan drift event: %w", err)
		}
		if err := json.Unmarshal(features, &event.Features); err != nil {
			return nil, fmt.Errorf("failed to decode drift features: %w", err)
		}
		events = append(events, &event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate drift events: %w", err)
	}
	return events, nil
}

// Ping checks if the database is reachable.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.conn.PingContext(ctx)
}

// Health runs a trivial query beyond the connection check.
func (s *PostgresStore) Health(ctx context.Context) error {
	if err := s.Ping(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	var result int
	if err := s.conn.GetContext(ctx, &result, "SELECT 1"); err != nil {
		return fmt.Errorf("health check query failed: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *PostgresStore) Close() error {
	return s.conn.Close()
}

var _ Store = (*PostgresStore)(nil)
var _ Store = (*FileStore)(nil)
