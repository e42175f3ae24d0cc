package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/kodix/kodix-server/internal/realtime"
	"github.com/kodix/kodix-server/pkg/errors"
	"github.com/kodix/kodix-server/pkg/response"
)

// RealtimeHandler upgrades authenticated requests to the invalidation socket.
type RealtimeHandler struct {
	hub *realtime.Hub
}

func NewRealtimeHandler(hub *realtime.Hub) *RealtimeHandler {
	return &RealtimeHandler{hub: hub}
}

// GET /api/realtime/ws
func (h *RealtimeHandler) Serve(c *gin.Context) {
	userID := currentUserID(c)
	if userID == "" {
		response.Error(c, errors.ErrUnauthorized)
		return
	}
	h.hub.Serve(userID, c.Writer, c.Request)
}
