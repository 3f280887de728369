package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/parleyhq/parley/internal/middleware"
	"github.com/parleyhq/parley/internal/services"
	"github.com/parleyhq/parley/internal/signaling"
	"github.com/parleyhq/parley/pkg/response"
)

// SignalingHandler attaches admitted participants to the meeting's relay room.
type SignalingHandler struct {
	meetings *services.MeetingService
	hub      *signaling.Hub
}

func NewSignalingHandler(meetings *services.MeetingService, hub *signaling.Hub) *SignalingHandler {
	return &SignalingHandler{meetings: meetings, hub: hub}
}

// GET /api/meetings/:id/signal (WebSocket)
func (h *SignalingHandler) Serve(c *gin.Context) {
	userID := middleware.UserID(c)
	meetingID := c.Param("id")

	// Only the creator and currently admitted participants may open a
	// signaling socket; visibility alone is not enough.
	if err := h.meetings.CanSignal(requestContext(c), userID, meetingID); err != nil {
		response.Error(c, err)
		return
	}

	h.hub.Serve(meetingID, userID, c.Writer, c.Request)
}
