package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nzwater/compliance-core/pkg/composables"
)

func TestWriteError(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	require.NoError(t, WriteError(rec, http.StatusConflict, "COMPLIANCE_PLAN_LOCKED", "plan is locked", map[string]string{"request_id": "r1"}))

	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, ContentTypeJSON, rec.Header().Get("Content-Type"))
	require.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	var env ErrorEnvelope
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&env))
	require.Equal(t, "COMPLIANCE_PLAN_LOCKED", env.Code)
	require.Equal(t, "r1", env.Meta["request_id"])
	require.Nil(t, env.Details)
}

func TestWriteJSON_NilPayload(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	require.NoError(t, WriteJSON(rec, http.StatusNoContent, nil))
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Empty(t, rec.Body.String())
}

func TestFallbackHandlers(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodGet, "/nope", nil)
	req = req.WithContext(composables.WithParams(req.Context(), &composables.Params{RequestID: "req-9"}))

	rec := httptest.NewRecorder()
	NotFound().ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
	var env ErrorEnvelope
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&env))
	require.Equal(t, "NOT_FOUND", env.Code)
	require.Equal(t, "req-9", env.Meta["request_id"])

	rec = httptest.NewRecorder()
	MethodNotAllowed().ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/health", nil))
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	env = ErrorEnvelope{}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&env))
	require.Nil(t, env.Meta)
}
