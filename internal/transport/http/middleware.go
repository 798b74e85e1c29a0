package http

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-relay/internal/auth"
)

const (
	// ContextKeyUserID is the context key for storing user ID.
	ContextKeyUserID = "user_id"
	// ContextKeyUsername is the context key for storing username.
	ContextKeyUsername = "username"
)

// credentialFromRequest reads a bearer token from the Authorization header,
// falling back to the token query parameter used by browser websocket clients.
func credentialFromRequest(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		scheme, token, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") {
			return ""
		}
		return token
	}
	return r.URL.Query().Get("token")
}

// AuthMiddleware rejects requests without a valid credential.
func AuthMiddleware(verifier *auth.Verifier, logger *zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, err := verifier.Authenticate(credentialFromRequest(c.Request))
		if err != nil {
			logger.Debug().Err(err).Msg("rejected request credential")
			c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
			c.Abort()
			return
		}

		c.Set(ContextKeyUserID, identity.UserID)
		c.Set(ContextKeyUsername, identity.Username)

		c.Next()
	}
}

// currentUserID returns the authenticated user set by AuthMiddleware.
func currentUserID(c *gin.Context) (string, bool) {
	id := c.GetString(ContextKeyUserID)
	return id, id != ""
}

// LoggerMiddleware creates a middleware that logs HTTP requests.
func LoggerMiddleware(logger *zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		logger.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Msg("http request")
	}
}
