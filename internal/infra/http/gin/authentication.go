package ginserver

import (
	"log/slog"

	gin "github.com/gin-gonic/gin"

	"campusmarket/internal/infra/obs"
	"campusmarket/internal/infra/security"
)

// TokenVerifier resolves a bearer token to a user id.
type TokenVerifier interface {
	Verify(raw string) (string, error)
}

// AuthMiddleware rejects every request without a valid bearer token.
type AuthMiddleware struct {
	Tokens TokenVerifier
	Logger *slog.Logger
}

func (m AuthMiddleware) Handle(c *gin.Context) {
	raw, err := security.BearerToken(c.GetHeader("Authorization"))
	if err == nil {
		var userID string
		if userID, err = m.Tokens.Verify(raw); err == nil {
			c.Set(obs.UserIDKey, userID)
			c.Next()
			return
		}
	}
	if m.Logger != nil {
		m.Logger.DebugContext(c.Request.Context(), "request rejected", "path", c.FullPath(), "error", err)
	}
	respondError(c, m.Logger, err)
}

func currentUser(c *gin.Context) string {
	return c.GetString(obs.UserIDKey)
}
