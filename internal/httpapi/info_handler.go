package httpapi

import (
	"net/http"

	"model_gateway/internal/metrics"
	"model_gateway/internal/utils"
)

func (deps *Dependencies) handleModels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		utils.RespondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, map[string]interface{}{
		"models": deps.Executor.ModelInfo(),
	})
}

func (deps *Dependencies) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		utils.RespondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	// The dashboard consumes per-concern maps keyed by model name.
	snapshots := deps.Metrics.SnapshotAll()
	predictions := make(map[string]metrics.PredictionCounts, len(snapshots))
	latencies := make(map[string]metrics.LatencyStats, len(snapshots))
	confidence := make(map[string]metrics.ConfidenceStats, len(snapshots))
	for name, snap := range snapshots {
		predictions[name] = snap.Predictions
		latencies[name] = snap.Latencies
		confidence[name] = snap.Confidence
	}

	utils.RespondWithJSON(w, http.StatusOK, map[string]interface{}{
		"predictions":           predictions,
		"latencies":             latencies,
		"confidence":            confidence,
		"low_confidence_events": deps.Metrics.LowConfidenceEvents(),
	})
}

func (deps *Dependencies) handleHealth(w http.ResponseWriter, r *http.Request) {
	info := deps.Cache.Info()

	payload := map[string]interface{}{
		"status":         "healthy",
		"models_known":   len(deps.Manifest.Names()),
		"models_loaded":  len(info.Loaded),
		"drift_detector": deps.Drift != nil,
	}
	// a growing backlog means the events worker is falling behind
	if depth, err := deps.EventWorker.QueueLength(r.Context()); err == nil {
		payload["event_queue_depth"] = depth
	}

	utils.RespondWithJSON(w, http.StatusOK, payload)
}
