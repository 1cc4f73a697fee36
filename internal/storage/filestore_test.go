package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"model_gateway/internal/models"
)

func newFileStore(t *testing.T) *FileStore {
	t.Helper()
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	return store
}

func TestFileStoreVersionRoundTrip(t *testing.T) {
	store := newFileStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveRecord(ctx, &models.ModelVersionRecord{
		ModelName:    "heart",
		Version:      "v1",
		ArtifactPath: "heart_v1.json",
		CreatedAt:    time.Now().UTC(),
	}))
	require.NoError(t, store.SaveRecord(ctx, &models.ModelVersionRecord{
		ModelName:    "heart",
		Version:      "v2",
		ArtifactPath: "heart_v2.json",
		CreatedAt:    time.Now().UTC(),
	}))
	require.NoError(t, store.SaveActive(ctx, "heart", models.ActiveVersionState{
		Current: "v2",
		History: []string{"v1"},
	}))

	records, active, err := store.Load(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "heart_v1.json", records[0].ArtifactPath)
	assert.Equal(t, "v2", active["heart"].Current)
	assert.Equal(t, []string{"v1"}, active["heart"].History)
}

func TestFileStoreSaveRecordOverwritesSameVersion(t *testing.T) {
	store := newFileStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveRecord(ctx, &models.ModelVersionRecord{
		ModelName: "heart", Version: "v1", ArtifactPath: "old.json",
	}))
	require.NoError(t, store.SaveRecord(ctx, &models.ModelVersionRecord{
		ModelName: "heart", Version: "v1", ArtifactPath: "new.json",
	}))

	records, _, err := store.Load(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "new.json", records[0].ArtifactPath)
}

func TestFileStoreLoadEmptyDirectory(t *testing.T) {
	store := newFileStore(t)

	records, active, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.Empty(t, active)
}

func TestFileStoreCorruptActiveState(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "active_versions.json"), []byte("{broken"), 0o644))

	_, _, err = store.Load(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCorruptState)
}

func TestFileStoreReferenceRoundTrip(t *testing.T) {
	store := newFileStore(t)
	ctx := context.Background()

	samples := make([][]float64, 50)
	for i := range samples {
		samples[i] = []float64{float64(i), float64(i % 5)}
	}
	ref := models.ReferenceFromSamples("heart", samples, models.DefaultHistogramBins)
	require.NotNil(t, ref)
	require.NoError(t, store.SaveReference(ctx, ref))

	refs, err := store.LoadReferences(ctx)
	require.NoError(t, err)
	require.Contains(t, refs, "heart")
	assert.Equal(t, 50, refs["heart"].SampleSize)
	assert.Len(t, refs["heart"].Features, 2)
}

func TestFileStoreDriftEventLog(t *testing.T) {
	store := newFileStore(t)
	ctx := context.Background()

	first := models.NewDriftEvent("heart", 0.31, []int{0, 2}, 100)
	second := models.NewDriftEvent("diabetes", 0.25, []int{1}, 100)
	require.NoError(t, store.AppendDriftEvent(ctx, first))
	require.NoError(t, store.AppendDriftEvent(ctx, second))

	// newest first
	all, err := store.ListDriftEvents(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, second.ID, all[0].ID)
	assert.Equal(t, first.ID, all[1].ID)

	hearts, err := store.ListDriftEvents(ctx, "heart", 10)
	require.NoError(t, err)
	require.Len(t, hearts, 1)
	assert.Equal(t, []int{0, 2}, hearts[0].Features)

	limited, err := store.ListDriftEvents(ctx, "", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}
