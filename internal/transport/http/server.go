package http

import (
	"context"
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirecode-server/internal/chat"
	"github.com/vovakirdan/wirecode-server/internal/config"
	"github.com/vovakirdan/wirecode-server/internal/core"
	"github.com/vovakirdan/wirecode-server/internal/executor"
	"github.com/vovakirdan/wirecode-server/internal/rooms"
)

// Hub is the part of core.Hub the transport layer needs.
type Hub interface {
	RegisterClient(c *core.Client)
	UnregisterClient(c *core.Client)
	Stats(ctx context.Context) (core.Stats, error)
	Room(ctx context.Context, roomID string) (core.RoomState, bool, error)
}

// Deps are the services exposed over HTTP.
type Deps struct {
	Hub      Hub
	Registry *rooms.Registry
	Chat     *chat.Log
	Executor *executor.Client
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// NewServer builds an HTTP server with WebSocket and REST endpoints.
func NewServer(deps Deps, cfg *config.Config, logger *zerolog.Logger) *stdhttp.Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(logger))
	router.Use(CORSMiddleware())

	router.GET("/health", healthHandler(deps.Hub, logger))

	ws := NewWSHandler(deps.Hub, logger, WSOptions{
		MaxMessageBytes:    cfg.MaxMessageBytes,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
	})
	router.GET("/ws", gin.WrapH(ws))

	roomHandlers := NewRoomHandlers(deps.Registry, deps.Chat, deps.Hub, logger)
	runHandlers := NewRunHandlers(deps.Executor, logger)

	api := router.Group("/api")
	{
		api.GET("/rooms/:roomId", roomHandlers.GetRoom)
		api.GET("/rooms/:roomId/messages", roomHandlers.ListMessages)
		api.GET("/rooms/:roomId/download", roomHandlers.Download)
		api.POST("/run", runHandlers.Run)
	}

	// Unprefixed aliases used by older clients.
	router.GET("/rooms/:roomId", roomHandlers.GetRoom)
	router.POST("/run", runHandlers.Run)

	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

type healthResponse struct {
	Status  string `json:"status"`
	Clients int    `json:"clients"`
	Rooms   int    `json:"rooms"`
}

func healthHandler(hub Hub, logger *zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		stats, err := hub.Stats(c.Request.Context())
		if err != nil {
			logger.Warn().Err(err).Msg("health check failed")
			c.JSON(stdhttp.StatusServiceUnavailable, healthResponse{Status: "unavailable"})
			return
		}
		c.JSON(stdhttp.StatusOK, healthResponse{Status: "ok", Clients: stats.Clients, Rooms: stats.Rooms})
	}
}
