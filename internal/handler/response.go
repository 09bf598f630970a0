package handler

import (
	"net/http"

	"github.com/aulamcp/aula-mcp-server/internal/httputil"
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	httputil.WriteJSON(w, status, data)
}
