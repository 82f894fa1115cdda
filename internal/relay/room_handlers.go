package relay

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

// RoomHandlers serves read-only room views.
type RoomHandlers struct {
	hub *Hub
	log *zerolog.Logger
}

// NewRoomHandlers creates a new room handlers instance.
func NewRoomHandlers(hub *Hub, logger *zerolog.Logger) *RoomHandlers {
	return &RoomHandlers{hub: hub, log: logger}
}

// PresenceResponse is the body of the presence endpoint.
type PresenceResponse struct {
	Room    string   `json:"room"`
	Keys    []string `json:"keys"`
	Count   int      `json:"count"`
	Members []Member `json:"members"`
}

// ErrorResponse represents an error response body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Presence returns who is online in a room.
// GET /rooms/:room/presence
func (h *RoomHandlers) Presence(c *gin.Context) {
	room := c.Param("room")
	members, err := h.hub.Presence(c.Request.Context(), room)
	if err != nil {
		h.log.Error().Err(err).Str("room", room).Msg("presence query failed")
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "hub unavailable"})
		return
	}
	if members == nil {
		members = []Member{}
	}
	keys := lo.Map(members, func(m Member, _ int) string { return m.Key })
	c.JSON(http.StatusOK, PresenceResponse{Room: room, Keys: keys, Count: len(keys), Members: members})
}
