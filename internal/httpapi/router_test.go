package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"model_gateway/internal/auth"
	"model_gateway/internal/config"
)

func testGatewayConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()

	manifestPath := filepath.Join(dir, "models.yaml")
	require.NoError(t, os.WriteFile(manifestPath, []byte(`
models:
  - name: heart
    features: 2
  - name: diabetes
    features: 8
`), 0o644))

	artifactsDir := filepath.Join(dir, "artifacts")
	require.NoError(t, os.MkdirAll(artifactsDir, 0o755))

	// a confident logistic model for heart
	require.NoError(t, os.WriteFile(filepath.Join(artifactsDir, "heart_v1.json"), []byte(`{
		"schema": 1,
		"model_type": "logistic",
		"features": 2,
		"labels": ["healthy", "at_risk"],
		"weights": [4, 0],
		"bias": 0
	}`), 0o644))

	return &config.Config{
		HTTPPort:  "8080",
		JWTSecret: []byte("test-secret"),
		Registry:  config.RegistryConfig{StateDir: filepath.Join(dir, "state"), HistoryDepth: 5},
		Cache:     config.CacheConfig{LoadTimeout: time.Second, RetryCooldown: time.Minute},
		Drift:     config.DriftConfig{Enabled: true, WindowSize: 10, Threshold: 0.2},
		Artifacts: config.ArtifactConfig{Dir: artifactsDir},
		Events: config.EventsConfig{
			QueueSize: 100, BatchSize: 10, BatchTimeout: 20 * time.Millisecond,
			MaxRetries: 1, RetryBackoff: 10 * time.Millisecond,
		},
		ManifestPath:               manifestPath,
		UncertainLabel:             "Uncertain - please consult a specialist",
		DefaultConfidenceThreshold: 0.75,
	}
}

func setupRouter(t *testing.T) (*http.ServeMux, *Dependencies, *config.Config) {
	t.Helper()
	cfg := testGatewayConfig(t)
	mux, deps, err := NewRouter(cfg)
	require.NoError(t, err)
	t.Cleanup(deps.Close)
	return mux, deps, cfg
}

func operatorToken(t *testing.T, cfg *config.Config) string {
	t.Helper()
	token, _, err := auth.GenerateToken("ops@example.com", []string{auth.RoleOperator.String()}, cfg)
	require.NoError(t, err)
	return token
}

func viewerToken(t *testing.T, cfg *config.Config) string {
	t.Helper()
	token, _, err := auth.GenerateToken("viewer@example.com", []string{auth.RoleViewer.String()}, cfg)
	require.NoError(t, err)
	return token
}

func doJSON(t *testing.T, mux *http.ServeMux, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func registerAndActivate(t *testing.T, mux *http.ServeMux, token, model, version string) {
	t.Helper()
	rec := doJSON(t, mux, http.MethodPost, "/admin/models/register", token, map[string]string{
		"model": model, "version": version, "artifact_path": fmt.Sprintf("%s_%s.json", model, version),
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = doJSON(t, mux, http.MethodPost, "/admin/models/activate", token, map[string]string{
		"model": model, "version": version,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestPredictEndpoint(t *testing.T) {
	mux, _, cfg := setupRouter(t)
	token := operatorToken(t, cfg)
	registerAndActivate(t, mux, token, "heart", "v1")

	rec := doJSON(t, mux, http.MethodPost, "/predict/heart", "", map[string]interface{}{
		"features": []float64{1, 0},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var result struct {
		Prediction   string  `json:"prediction"`
		Confidence   float64 `json:"confidence"`
		Version      string  `json:"model_version"`
		FallbackUsed bool    `json:"fallback_used"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, "at_risk", result.Prediction)
	assert.Equal(t, "v1", result.Version)
	assert.False(t, result.FallbackUsed)
}

func TestPredictFallbackResponse(t *testing.T) {
	mux, _, cfg := setupRouter(t)
	registerAndActivate(t, mux, operatorToken(t, cfg), "heart", "v1")

	rec := doJSON(t, mux, http.MethodPost, "/predict/heart", "", map[string]interface{}{
		"features": []float64{0.1, 0},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var result struct {
		Prediction   string `json:"prediction"`
		FallbackUsed bool   `json:"fallback_used"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, "Uncertain - please consult a specialist", result.Prediction)
	assert.True(t, result.FallbackUsed)
}

func TestPredictErrors(t *testing.T) {
	mux, _, _ := setupRouter(t)

	rec := doJSON(t, mux, http.MethodPost, "/predict/unlisted", "", map[string]interface{}{
		"features": []float64{1},
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// known model without an active version
	rec = doJSON(t, mux, http.MethodPost, "/predict/heart", "", map[string]interface{}{
		"features": []float64{1, 0},
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, mux, http.MethodPost, "/predict/heart", "", map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, mux, http.MethodGet, "/predict/heart", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestActivateRollbackFlow(t *testing.T) {
	mux, _, cfg := setupRouter(t)
	token := operatorToken(t, cfg)

	// second version flips the decision boundary
	require.NoError(t, os.WriteFile(filepath.Join(cfg.Artifacts.Dir, "heart_v2.json"), []byte(`{
		"schema": 1, "model_type": "logistic", "features": 2,
		"labels": ["healthy", "at_risk"], "weights": [-4, 0], "bias": 0
	}`), 0o644))

	registerAndActivate(t, mux, token, "heart", "v1")
	registerAndActivate(t, mux, token, "heart", "v2")

	rec := doJSON(t, mux, http.MethodPost, "/admin/models/rollback", token, map[string]string{"model": "heart"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		ActiveVersion string   `json:"active_version"`
		History       []string `json:"history"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "v1", resp.ActiveVersion)
	assert.Empty(t, resp.History)

	// empty history now
	rec = doJSON(t, mux, http.MethodPost, "/admin/models/rollback", token, map[string]string{"model": "heart"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestAdminAuth(t *testing.T) {
	mux, _, cfg := setupRouter(t)

	rec := doJSON(t, mux, http.MethodPost, "/admin/models/activate", "", map[string]string{"model": "heart", "version": "v1"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// viewers can read but not mutate
	viewer := viewerToken(t, cfg)
	rec = doJSON(t, mux, http.MethodPost, "/admin/models/activate", viewer, map[string]string{"model": "heart", "version": "v1"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doJSON(t, mux, http.MethodGet, "/admin/drift/events", viewer, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestViewerCannotMutateSharedRoutes(t *testing.T) {
	mux, _, cfg := setupRouter(t)
	viewer := viewerToken(t, cfg)
	operator := operatorToken(t, cfg)

	// clearing a drift flag and retrying a dead-letter item are mutations
	// even though their routes allow viewer reads
	rec := doJSON(t, mux, http.MethodDelete, "/admin/drift/flagged?model=heart", viewer, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doJSON(t, mux, http.MethodPost, "/admin/events/dlq", viewer, map[string]string{"id": "some-id"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// the reads on the same routes stay open to viewers
	rec = doJSON(t, mux, http.MethodGet, "/admin/drift/flagged", viewer, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, mux, http.MethodGet, "/admin/events/dlq", viewer, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	// operators keep the mutations
	rec = doJSON(t, mux, http.MethodDelete, "/admin/drift/flagged?model=heart", operator, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, mux, http.MethodPost, "/admin/events/dlq", operator, map[string]string{"id": "missing"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCacheEndpoints(t *testing.T) {
	mux, _, cfg := setupRouter(t)
	token := operatorToken(t, cfg)
	registerAndActivate(t, mux, token, "heart", "v1")

	// load it
	rec := doJSON(t, mux, http.MethodPost, "/predict/heart", "", map[string]interface{}{"features": []float64{1, 0}})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, mux, http.MethodGet, "/admin/cache", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var info struct {
		Loaded []string `json:"loaded"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, []string{"heart:v1"}, info.Loaded)

	rec = doJSON(t, mux, http.MethodDelete, "/admin/cache/heart:v1", token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, mux, http.MethodDelete, "/admin/cache/heart:v1", token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, mux, http.MethodDelete, "/admin/cache", token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestDriftReferenceAndEvents(t *testing.T) {
	mux, _, cfg := setupRouter(t)
	token := operatorToken(t, cfg)
	registerAndActivate(t, mux, token, "heart", "v1")

	samples := make([][]float64, 100)
	for i := range samples {
		samples[i] = []float64{float64(i % 10), float64(i % 7)}
	}
	rec := doJSON(t, mux, http.MethodPost, "/admin/drift/reference", token, map[string]interface{}{
		"model": "heart", "samples": samples,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	// wrong width is rejected
	rec = doJSON(t, mux, http.MethodPost, "/admin/drift/reference", token, map[string]interface{}{
		"model": "heart", "samples": [][]float64{{1}},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, mux, http.MethodGet, "/admin/drift/events", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var events struct {
		Events []json.RawMessage `json:"events"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &events))
	assert.Empty(t, events.Events)

	rec = doJSON(t, mux, http.MethodGet, "/admin/drift/flagged", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestModelsMetricsHealth(t *testing.T) {
	mux, _, cfg := setupRouter(t)
	registerAndActivate(t, mux, operatorToken(t, cfg), "heart", "v1")

	rec := doJSON(t, mux, http.MethodPost, "/predict/heart", "", map[string]interface{}{"features": []float64{1, 0}})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, mux, http.MethodGet, "/models", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var modelList struct {
		Models []struct {
			Name    string `json:"name"`
			Version string `json:"version"`
			Loaded  bool   `json:"loaded"`
		} `json:"models"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &modelList))
	require.Len(t, modelList.Models, 2)
	assert.Equal(t, "heart", modelList.Models[1].Name)
	assert.True(t, modelList.Models[1].Loaded)

	rec = doJSON(t, mux, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var metricsResp struct {
		Predictions map[string]struct {
			Total   int64 `json:"total"`
			Success int64 `json:"success"`
		} `json:"predictions"`
		Latencies map[string]struct {
			Count int64 `json:"count"`
		} `json:"latencies"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &metricsResp))
	assert.EqualValues(t, 1, metricsResp.Predictions["heart"].Total)
	assert.EqualValues(t, 1, metricsResp.Predictions["heart"].Success)
	assert.EqualValues(t, 1, metricsResp.Latencies["heart"].Count)

	rec = doJSON(t, mux, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var health struct {
		Status          string `json:"status"`
		EventQueueDepth *int   `json:"event_queue_depth"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "healthy", health.Status)
	require.NotNil(t, health.EventQueueDepth, "health reports the event queue backlog")
}
