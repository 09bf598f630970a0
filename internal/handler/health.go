package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/aulamcp/aula-mcp-server/internal/portal"
)

type StateReporter interface {
	State() portal.State
}

type HealthHandler struct {
	auth StateReporter
	now  func() time.Time
}

func NewHealthHandler(auth StateReporter) *HealthHandler {
	return &HealthHandler{auth: auth, now: time.Now}
}

func (h *HealthHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.Health)
	return r
}

// Health never touches the portal.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"auth_state": h.auth.State().String(),
		"timestamp":  h.now().UnixMilli(),
	})
}
