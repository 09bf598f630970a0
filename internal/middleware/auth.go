package middleware

import (
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/aulamcp/aula-mcp-server/internal/audit"
	apperrors "github.com/aulamcp/aula-mcp-server/internal/errors"
	"github.com/aulamcp/aula-mcp-server/internal/httputil"
	"github.com/aulamcp/aula-mcp-server/internal/util"
)

// TokenAuthMiddleware guards the MCP endpoint with a shared bearer token
// compared against its bcrypt hash. An empty hash disables the check.
type TokenAuthMiddleware struct {
	tokenHash string
}

func NewTokenAuthMiddleware(tokenHash string) *TokenAuthMiddleware {
	return &TokenAuthMiddleware{tokenHash: tokenHash}
}

func (m *TokenAuthMiddleware) Enabled() bool {
	return m.tokenHash != ""
}

func (m *TokenAuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !m.Enabled() {
			next.ServeHTTP(w, r)
			return
		}

		token := extractToken(r)
		if token == "" {
			audit.LogFromRequest(r, audit.Event{
				Type:    audit.EventAuthFailure,
				Details: map[string]interface{}{"reason": "missing token"},
			})
			httputil.WriteError(w, apperrors.Unauthorized("Missing authentication token"))
			return
		}

		if !util.CheckPasswordHash(token, m.tokenHash) {
			log.Warn().Msg("auth middleware: invalid token attempt")
			audit.LogFromRequest(r, audit.Event{
				Type:    audit.EventAuthFailure,
				Details: map[string]interface{}{"reason": "invalid token"},
			})
			httputil.WriteError(w, apperrors.InvalidToken("Invalid token"))
			return
		}

		next.ServeHTTP(w, r)
	})
}

func extractToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	}
	return ""
}
