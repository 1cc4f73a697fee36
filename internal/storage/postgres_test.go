package storage

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"model_gateway/internal/models"
)

// setupPostgres connects to the database named by TEST_DATABASE_URL and
// skips when none is reachable.
func setupPostgres(t *testing.T) *PostgresStore {
	t.Helper()

	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping Postgres integration test")
	}

	store, err := NewPostgresStore(PostgresConfig{URL: url})
	if err != nil {
		t.Skipf("Postgres not available for testing: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestPostgresVersionRoundTrip(t *testing.T) {
	store := setupPostgres(t)
	ctx := context.Background()

	version := time.Now().UTC().Format("v20060102150405")
	require.NoError(t, store.SaveRecord(ctx, &models.ModelVersionRecord{
		ModelName:    "heart",
		Version:      version,
		ArtifactPath: "heart_" + version + ".json",
		Metadata:     models.JSONB{"accuracy": 0.91},
		CreatedAt:    time.Now().UTC(),
	}))
	require.NoError(t, store.SaveActive(ctx, "heart", models.ActiveVersionState{
		Current: version,
		History: []string{"v1"},
	}))

	records, active, err := store.Load(ctx)
	require.NoError(t, err)

	var found bool
	for _, record := range records {
		if record.ModelName == "heart" && record.Version == version {
			found = true
			assert.Equal(t, "heart_"+version+".json", record.ArtifactPath)
		}
	}
	assert.True(t, found, "saved record should come back from Load")
	assert.Equal(t, version, active["heart"].Current)
	assert.Equal(t, []string{"v1"}, active["heart"].History)
}

func TestPostgresDriftEventLog(t *testing.T) {
	store := setupPostgres(t)
	ctx := context.Background()

	event := models.NewDriftEvent("heart", 0.42, []int{0, 3}, 100)
	require.NoError(t, store.AppendDriftEvent(ctx, event))

	listed, err := store.ListDriftEvents(ctx, "heart", 10)
	require.NoError(t, err)
	require.NotEmpty(t, listed)
	assert.Equal(t, event.ID, listed[0].ID)
	assert.Equal(t, []int{0, 3}, listed[0].Features)
}
