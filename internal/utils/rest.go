package utils

import (
	"encoding/json"
	"net/http"

	"model_gateway/internal/serving"
)

type ErrorResponse struct {
	Error string `json:"error"`
}

// RespondWithError sends an error response
func RespondWithError(w http.ResponseWriter, code int, message string) {
	RespondWithJSON(w, code, ErrorResponse{Error: message})
}

// RespondWithServingError maps the serving error taxonomy onto HTTP status
// codes: NotFound 404, Conflict 409, Timeout 504, Unavailable 503, anything
// else 500.
func RespondWithServingError(w http.ResponseWriter, err error) {
	switch {
	case serving.IsNotFound(err):
		RespondWithError(w, http.StatusNotFound, err.Error())
	case serving.IsConflict(err):
		RespondWithError(w, http.StatusConflict, err.Error())
	case serving.IsTimeout(err):
		RespondWithError(w, http.StatusGatewayTimeout, err.Error())
	case serving.IsUnavailable(err):
		RespondWithError(w, http.StatusServiceUnavailable, err.Error())
	default:
		RespondWithError(w, http.StatusInternalServerError, err.Error())
	}
}

// RespondWithJSON sends a JSON response
func RespondWithJSON(w http.ResponseWriter, code int, payload interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, "Failed to encode response: "+err.Error(), http.StatusInternalServerError)
		return err
	}
	return nil
}
