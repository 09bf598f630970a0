package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aulamcp/aula-mcp-server/internal/portal"
)

func TestHealthHandler(t *testing.T) {
	auth := &fakeAuth{state: portal.StateAuthenticated}
	h := NewHealthHandler(auth)
	h.now = func() time.Time { return time.UnixMilli(1760000000000) }

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "authenticated", body["auth_state"])
	assert.Equal(t, float64(1760000000000), body["timestamp"])
}
