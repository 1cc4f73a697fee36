package registry

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"model_gateway/internal/config"
	"model_gateway/internal/models"
	"model_gateway/internal/serving"
	"model_gateway/internal/storage"
	"model_gateway/internal/utils"
)

const testManifest = `
models:
  - name: heart
    features: 13
  - name: diabetes
    features: 8
    confidence_threshold: 0.8
`

func newTestManifest(t *testing.T) *config.Manifest {
	t.Helper()
	path := filepath.Join(t.TempDir(), "models.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testManifest), 0o644))
	manifest, err := config.LoadManifest(path, 0.75)
	require.NoError(t, err)
	return manifest
}

func newTestRegistry(t *testing.T) (*Registry, *storage.FileStore) {
	t.Helper()
	store, err := storage.NewFileStore(t.TempDir())
	require.NoError(t, err)
	reg, err := New(store, newTestManifest(t), 5, utils.NewLogger("test", utils.Error))
	require.NoError(t, err)
	return reg, store
}

func record(name, version string) *models.ModelVersionRecord {
	return &models.ModelVersionRecord{
		ModelName:    name,
		Version:      version,
		ArtifactPath: "artifacts/" + name + "_" + version + ".json",
	}
}

func TestRegisterAndActivate(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, reg.Register(ctx, record("heart", "v1")))
	require.NoError(t, reg.SetActive(ctx, "heart", "v1"))

	active, err := reg.GetActive("heart")
	require.NoError(t, err)
	assert.Equal(t, "v1", active.Version)
	assert.Empty(t, reg.History("heart"))
}

func TestRegisterUnknownModel(t *testing.T) {
	reg, _ := newTestRegistry(t)

	err := reg.Register(context.Background(), record("unlisted", "v1"))
	assert.True(t, serving.IsNotFound(err))
}

func TestRegisterDuplicate(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	first := record("heart", "v1")
	first.Metadata = models.JSONB{"trained_on": "2026-01"}
	require.NoError(t, reg.Register(ctx, first))

	// identical re-registration is a no-op
	same := record("heart", "v1")
	same.Metadata = models.JSONB{"trained_on": "2026-01"}
	assert.NoError(t, reg.Register(ctx, same))

	changed := record("heart", "v1")
	changed.Metadata = models.JSONB{"trained_on": "2026-02"}
	err := reg.Register(ctx, changed)
	assert.True(t, serving.IsConflict(err))
}

func TestActivateUnregisteredVersion(t *testing.T) {
	reg, _ := newTestRegistry(t)

	err := reg.SetActive(context.Background(), "heart", "v9")
	assert.True(t, serving.IsNotFound(err))
}

func TestGetActiveErrors(t *testing.T) {
	reg, _ := newTestRegistry(t)

	_, err := reg.GetActive("unlisted")
	assert.True(t, serving.IsNotFound(err))

	_, err = reg.GetActive("heart")
	assert.True(t, serving.IsNotFound(err))
}

func TestRollbackRoundTrip(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, reg.Register(ctx, record("heart", "v1")))
	require.NoError(t, reg.Register(ctx, record("heart", "v2")))
	require.NoError(t, reg.SetActive(ctx, "heart", "v1"))
	require.NoError(t, reg.SetActive(ctx, "heart", "v2"))

	assert.Equal(t, []string{"v1"}, reg.History("heart"))

	restored, err := reg.Rollback(ctx, "heart")
	require.NoError(t, err)
	assert.Equal(t, "v1", restored)

	active, err := reg.GetActive("heart")
	require.NoError(t, err)
	assert.Equal(t, "v1", active.Version)
	assert.Empty(t, reg.History("heart"))
}

func TestRollbackEmptyHistory(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	_, err := reg.Rollback(ctx, "heart")
	assert.True(t, serving.IsNotFound(err))

	require.NoError(t, reg.Register(ctx, record("heart", "v1")))
	require.NoError(t, reg.SetActive(ctx, "heart", "v1"))

	_, err = reg.Rollback(ctx, "heart")
	assert.True(t, serving.IsConflict(err))
}

func TestHistoryBounded(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	versions := []string{"v1", "v2", "v3", "v4", "v5", "v6", "v7"}
	for _, v := range versions {
		require.NoError(t, reg.Register(ctx, record("heart", v)))
		require.NoError(t, reg.SetActive(ctx, "heart", v))
	}

	// oldest entries fall off; only the five most recent predecessors remain
	assert.Equal(t, []string{"v2", "v3", "v4", "v5", "v6"}, reg.History("heart"))
}

func TestActivateSameVersionNoHistoryGrowth(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, reg.Register(ctx, record("heart", "v1")))
	require.NoError(t, reg.SetActive(ctx, "heart", "v1"))
	require.NoError(t, reg.SetActive(ctx, "heart", "v1"))

	assert.Empty(t, reg.History("heart"))
}

func TestActivateNotifiesListener(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, reg.Register(ctx, record("heart", "v1")))
	require.NoError(t, reg.Register(ctx, record("heart", "v2")))

	var retired []string
	listener := func(name, version string) { retired = append(retired, name+":"+version) }

	require.NoError(t, reg.SetActiveNotify(ctx, "heart", "v1", listener))
	assert.Empty(t, retired, "first activation displaces nothing")

	require.NoError(t, reg.SetActiveNotify(ctx, "heart", "v2", listener))
	assert.Equal(t, []string{"heart:v1"}, retired)

	_, err := reg.RollbackNotify(ctx, "heart", listener)
	require.NoError(t, err)
	assert.Equal(t, []string{"heart:v1", "heart:v2"}, retired)
}

func TestStatePersistsAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	store, err := storage.NewFileStore(dir)
	require.NoError(t, err)

	manifest := newTestManifest(t)
	logger := utils.NewLogger("test", utils.Error)

	reg, err := New(store, manifest, 5, logger)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, reg.Register(ctx, record("heart", "v1")))
	require.NoError(t, reg.Register(ctx, record("heart", "v2")))
	require.NoError(t, reg.SetActive(ctx, "heart", "v1"))
	require.NoError(t, reg.SetActive(ctx, "heart", "v2"))

	reopened, err := storage.NewFileStore(dir)
	require.NoError(t, err)
	restored, err := New(reopened, manifest, 5, logger)
	require.NoError(t, err)

	active, err := restored.GetActive("heart")
	require.NoError(t, err)
	assert.Equal(t, "v2", active.Version)
	assert.Equal(t, []string{"v1"}, restored.History("heart"))
	assert.Len(t, restored.Versions("heart"), 2)
}

func TestCorruptStateAbortsStartup(t *testing.T) {
	dir := t.TempDir()
	store, err := storage.NewFileStore(dir)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "active_versions.json"), []byte("{not json"), 0o644))

	_, err = New(store, newTestManifest(t), 5, utils.NewLogger("test", utils.Error))
	require.Error(t, err)
	assert.ErrorIs(t, err, storage.ErrCorruptState)
}
