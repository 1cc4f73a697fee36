package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"model_gateway/internal/auth"
	"model_gateway/internal/middleware"
	"model_gateway/internal/models"
	"model_gateway/internal/utils"
)

type registerRequest struct {
	Model        string       `json:"model"`
	Version      string       `json:"version"`
	ArtifactPath string       `json:"artifact_path"`
	Metadata     models.JSONB `json:"metadata,omitempty"`
}

func (deps *Dependencies) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		utils.RespondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Model == "" || req.Version == "" || req.ArtifactPath == "" {
		utils.RespondWithError(w, http.StatusBadRequest, "model, version and artifact_path are required")
		return
	}

	record := &models.ModelVersionRecord{
		ModelName:    req.Model,
		Version:      req.Version,
		ArtifactPath: req.ArtifactPath,
		Metadata:     req.Metadata,
	}
	if err := deps.Registry.Register(r.Context(), record); err != nil {
		utils.RespondWithServingError(w, err)
		return
	}

	utils.RespondWithJSON(w, http.StatusCreated, record)
}

type activateRequest struct {
	Model   string `json:"model"`
	Version string `json:"version"`
}

func (deps *Dependencies) handleActivate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		utils.RespondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req activateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Model == "" || req.Version == "" {
		utils.RespondWithError(w, http.StatusBadRequest, "model and version are required")
		return
	}

	err := deps.Registry.SetActiveNotify(r.Context(), req.Model, req.Version, deps.evictRetired)
	if err != nil {
		utils.RespondWithServingError(w, err)
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, map[string]interface{}{
		"model":          req.Model,
		"active_version": req.Version,
		"history":        deps.Registry.History(req.Model),
	})
}

type rollbackRequest struct {
	Model string `json:"model"`
}

func (deps *Dependencies) handleRollback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		utils.RespondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req rollbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Model == "" {
		utils.RespondWithError(w, http.StatusBadRequest, "model is required")
		return
	}

	version, err := deps.Registry.RollbackNotify(r.Context(), req.Model, deps.evictRetired)
	if err != nil {
		utils.RespondWithServingError(w, err)
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, map[string]interface{}{
		"model":          req.Model,
		"active_version": version,
		"history":        deps.Registry.History(req.Model),
	})
}

// evictRetired drops a displaced version from the cache once it stops
// serving traffic.
func (deps *Dependencies) evictRetired(model, version string) {
	deps.Cache.Evict(model + ":" + version)
}

// requireOperator guards mutations on routes whose reads allow viewers.
func requireOperator(w http.ResponseWriter, r *http.Request) bool {
	claims, ok := middleware.GetClaims(r.Context())
	if !ok || !hasOperatorRole(claims.Roles) {
		utils.RespondWithError(w, http.StatusForbidden, "Insufficient permissions")
		return false
	}
	return true
}

func hasOperatorRole(roles []string) bool {
	for _, role := range roles {
		if auth.Role(role).HasPermission(auth.RoleOperator) {
			return true
		}
	}
	return false
}

func (deps *Dependencies) handleCache(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		utils.RespondWithJSON(w, http.StatusOK, deps.Cache.Info())
	case http.MethodDelete:
		evicted := deps.Cache.ClearAll()
		utils.RespondWithJSON(w, http.StatusOK, map[string]interface{}{"evicted": evicted})
	default:
		utils.RespondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (deps *Dependencies) handleCacheEvict(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		utils.RespondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	key := strings.TrimPrefix(r.URL.Path, "/admin/cache/")
	if key == "" {
		utils.RespondWithError(w, http.StatusBadRequest, "cache key is required")
		return
	}

	if !deps.Cache.Evict(key) {
		utils.RespondWithError(w, http.StatusNotFound, "Model not loaded")
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, map[string]interface{}{"evicted": key})
}

type referenceRequest struct {
	Model   string      `json:"model"`
	Samples [][]float64 `json:"samples"`
}

func (deps *Dependencies) handleDriftReference(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		utils.RespondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if deps.Drift == nil {
		utils.RespondWithError(w, http.StatusServiceUnavailable, "Drift detection is disabled")
		return
	}

	var req referenceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if !deps.Manifest.Known(req.Model) {
		utils.RespondWithError(w, http.StatusNotFound, "Unknown model")
		return
	}

	ref := models.ReferenceFromSamples(req.Model, req.Samples, models.DefaultHistogramBins)
	if ref == nil {
		utils.RespondWithError(w, http.StatusBadRequest, "samples must be a non-empty matrix")
		return
	}
	if spec, ok := deps.Manifest.Spec(req.Model); ok && len(ref.Features) != spec.Features {
		utils.RespondWithError(w, http.StatusBadRequest, "sample width does not match the model's feature count")
		return
	}

	if err := deps.Drift.SetReference(r.Context(), ref); err != nil {
		utils.RespondWithError(w, http.StatusInternalServerError, err.Error())
		return
	}

	utils.RespondWithJSON(w, http.StatusCreated, map[string]interface{}{
		"model":       req.Model,
		"features":    len(ref.Features),
		"sample_size": ref.SampleSize,
	})
}

func (deps *Dependencies) handleDriftEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		utils.RespondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			utils.RespondWithError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	eventList, err := deps.Store.ListDriftEvents(r.Context(), r.URL.Query().Get("model"), limit)
	if err != nil {
		utils.RespondWithError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if eventList == nil {
		eventList = []*models.DriftEvent{}
	}

	utils.RespondWithJSON(w, http.StatusOK, map[string]interface{}{"events": eventList})
}

func (deps *Dependencies) handleDriftFlagged(w http.ResponseWriter, r *http.Request) {
	if deps.Drift == nil {
		utils.RespondWithError(w, http.StatusServiceUnavailable, "Drift detection is disabled")
		return
	}

	switch r.Method {
	case http.MethodGet:
		utils.RespondWithJSON(w, http.StatusOK, map[string]interface{}{
			"flagged": deps.Drift.FlaggedModels(),
		})
	case http.MethodDelete:
		if !requireOperator(w, r) {
			return
		}
		model := r.URL.Query().Get("model")
		if model == "" {
			utils.RespondWithError(w, http.StatusBadRequest, "model is required")
			return
		}
		deps.Drift.ClearFlag(model)
		utils.RespondWithJSON(w, http.StatusOK, map[string]interface{}{"cleared": model})
	default:
		utils.RespondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (deps *Dependencies) handleEventDLQ(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		items, err := deps.EventWorker.DeadLetterItems(r.Context(), 100)
		if err != nil {
			utils.RespondWithError(w, http.StatusInternalServerError, err.Error())
			return
		}
		utils.RespondWithJSON(w, http.StatusOK, map[string]interface{}{"items": items})
	case http.MethodPost:
		if !requireOperator(w, r) {
			return
		}
		var req struct {
			ID string `json:"id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ID == "" {
			utils.RespondWithError(w, http.StatusBadRequest, "id is required")
			return
		}
		if err := deps.EventWorker.RetryDeadLetterItem(r.Context(), req.ID); err != nil {
			utils.RespondWithError(w, http.StatusNotFound, err.Error())
			return
		}
		utils.RespondWithJSON(w, http.StatusOK, map[string]interface{}{"retried": req.ID})
	default:
		utils.RespondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}
