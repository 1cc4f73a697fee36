package utils

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"model_gateway/internal/serving"
)

func TestRespondWithServingError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code int
	}{
		{"not found", serving.NotFoundf("unknown model %q", "heart"), http.StatusNotFound},
		{"conflict", serving.Conflictf("no rollback history"), http.StatusConflict},
		{"timeout", serving.Timeoutf("deadline exceeded"), http.StatusGatewayTimeout},
		{"unavailable", serving.Unavailablef("artifact fetch failed"), http.StatusServiceUnavailable},
		{"unclassified", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			RespondWithServingError(rec, tc.err)
			assert.Equal(t, tc.code, rec.Code)
			assert.Contains(t, rec.Body.String(), "error")
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
		})
	}
}
