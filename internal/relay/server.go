package relay

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/roomsync/internal/config"
)

// NewServer builds the relay HTTP server. The WebSocket endpoint sits on the
// plain mux because the upgrade hijacks the connection; everything else is
// served by the gin router.
func NewServer(hub *Hub, cfg *config.Config, logger *zerolog.Logger) *http.Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(logger))

	handlers := NewRoomHandlers(hub, logger)
	router.GET("/health", healthHandler)
	router.GET("/rooms/:room/presence", handlers.Presence)

	mux := http.NewServeMux()
	mux.Handle("/ws", NewWSHandler(hub, cfg.ClientBuffer, logger))
	mux.Handle("/", router)

	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

func healthHandler(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}
