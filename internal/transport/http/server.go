package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-relay/internal/auth"
	"github.com/vovakirdan/wirechat-relay/internal/config"
	"github.com/vovakirdan/wirechat-relay/internal/core"
	"github.com/vovakirdan/wirechat-relay/internal/proto"
	"github.com/vovakirdan/wirechat-relay/internal/store"
)

// NewServer builds the HTTP server: health, the realtime endpoint and the REST API.
func NewServer(hub *core.Hub, authService *auth.Service, verifier *auth.Verifier, st store.Store, cfg *config.Config, logger *zerolog.Logger) *http.Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), LoggerMiddleware(logger))

	router.GET("/health", healthHandler(hub))

	apiHandlers := NewAPIHandlers(authService, logger)
	chatHandlers := NewChatHandlers(hub, st, logger)
	userHandlers := NewUserHandlers(hub, st, logger)

	api := router.Group("/api")
	{
		authGroup := api.Group("/auth")
		authGroup.POST("/register", apiHandlers.Register)
		authGroup.POST("/login", apiHandlers.Login)

		chat := api.Group("/chat", AuthMiddleware(verifier, logger))
		chat.GET("/conversations", chatHandlers.ListConversations)
		chat.GET("/messages/:conversationId", chatHandlers.ListMessages)
		chat.POST("/groups", chatHandlers.CreateGroup)
		chat.POST("/groups/:id/members", chatHandlers.AddMembers)
		chat.GET("/online", chatHandlers.OnlineUsers)
		chat.GET("/users/search", userHandlers.SearchUsers)
	}

	// The websocket upgrade hijacks the connection, which gin refuses once the
	// 101 response has gone through its writer, so /ws bypasses the engine.
	mux := http.NewServeMux()
	mux.Handle("/ws", NewWSHandler(hub, verifier, cfg, logger))
	mux.Handle("/", router)

	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status      string `json:"status"`
	Protocol    int    `json:"protocol"`
	Connections int    `json:"connections"`
}

func healthHandler(hub *core.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, HealthResponse{
			Status:      "ok",
			Protocol:    proto.ProtocolVersion,
			Connections: hub.ConnectionCount(),
		})
	}
}
