package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"model_gateway/internal/utils"
)

// predictRequest is the body of POST /predict/{model}.
type predictRequest struct {
	Features []float64 `json:"features"`
}

func (deps *Dependencies) handlePredict(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		utils.RespondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	model := strings.TrimPrefix(r.URL.Path, "/predict/")
	if model == "" || strings.Contains(model, "/") {
		utils.RespondWithError(w, http.StatusNotFound, "Unknown model")
		return
	}

	var req predictRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if len(req.Features) == 0 {
		utils.RespondWithError(w, http.StatusBadRequest, "features is required")
		return
	}

	result, err := deps.Executor.Predict(r.Context(), model, req.Features)
	if err != nil {
		utils.RespondWithServingError(w, err)
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, result)
}
