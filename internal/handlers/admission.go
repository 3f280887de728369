package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/parleyhq/parley/internal/middleware"
	"github.com/parleyhq/parley/internal/models"
	"github.com/parleyhq/parley/internal/services"
	"github.com/parleyhq/parley/pkg/response"
)

// AdmissionHandler exposes the join/leave and waiting-room decision endpoints.
type AdmissionHandler struct {
	admission *services.AdmissionService
}

func NewAdmissionHandler(admission *services.AdmissionService) *AdmissionHandler {
	return &AdmissionHandler{admission: admission}
}

type participantDTO struct {
	ID       string  `json:"id"`
	UserID   string  `json:"user_id"`
	UserName string  `json:"user_name,omitempty"`
	Status   string  `json:"status"`
	Role     string  `json:"role"`
	JoinedAt *string `json:"joined_at,omitempty"`
}

func mapParticipant(p *models.MeetingParticipant) participantDTO {
	dto := participantDTO{
		ID:     p.ID,
		UserID: p.UserID,
		Status: p.Status,
		Role:   p.Role,
	}
	if p.User != nil {
		dto.UserName = p.User.Name
	}
	if p.JoinedAt != nil {
		joinedAt := p.JoinedAt.Format(time.RFC3339)
		dto.JoinedAt = &joinedAt
	}
	return dto
}

// POST /api/meetings/:id/join
func (h *AdmissionHandler) Join(c *gin.Context) {
	result, err := h.admission.Join(requestContext(c), c.Param("id"), middleware.UserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	payload := gin.H{
		"outcome":           result.Outcome,
		"role":              result.Role,
		"meeting":           mapMeeting(result.Meeting),
		"time_remaining_ms": result.TimeRemaining.Milliseconds(),
	}
	if result.Participant != nil {
		payload["participant"] = mapParticipant(result.Participant)
	}

	if result.Outcome == services.AdmissionQueued {
		response.Queued(c, payload)
		return
	}
	response.Success(c, http.StatusOK, payload)
}

// POST /api/meetings/:id/leave
func (h *AdmissionHandler) Leave(c *gin.Context) {
	if err := h.admission.Leave(requestContext(c), c.Param("id"), middleware.UserID(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"left": true})
}

// POST /api/meetings/:id/participants/:participantId/approve
func (h *AdmissionHandler) Approve(c *gin.Context) {
	participant, err := h.admission.Approve(
		requestContext(c), c.Param("id"), c.Param("participantId"), middleware.UserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, mapParticipant(participant))
}

// POST /api/meetings/:id/participants/:participantId/reject
func (h *AdmissionHandler) Reject(c *gin.Context) {
	err := h.admission.Reject(
		requestContext(c), c.Param("id"), c.Param("participantId"), middleware.UserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"rejected": true})
}
