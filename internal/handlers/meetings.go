package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/parleyhq/parley/internal/middleware"
	"github.com/parleyhq/parley/internal/models"
	"github.com/parleyhq/parley/internal/services"
	"github.com/parleyhq/parley/internal/signaling"
	"github.com/parleyhq/parley/pkg/response"
)

// MeetingHandler exposes meeting lifecycle and membership endpoints.
type MeetingHandler struct {
	meetings *services.MeetingService
	hub      *signaling.Hub
}

func NewMeetingHandler(meetings *services.MeetingService, hub *signaling.Hub) *MeetingHandler {
	return &MeetingHandler{meetings: meetings, hub: hub}
}

type createMeetingRequest struct {
	Title            string    `json:"title" validate:"required,max=200"`
	Description      string    `json:"description" validate:"max=2000"`
	StartTime        time.Time `json:"start_time" validate:"required"`
	EndTime          time.Time `json:"end_time" validate:"required"`
	MeetingType      string    `json:"meeting_type" validate:"omitempty,meeting_type"`
	MaxParticipants  *int      `json:"max_participants" validate:"omitempty,gt=0"`
	RequiresApproval bool      `json:"requires_approval"`
	IsRecorded       bool      `json:"is_recorded"`
	RecurringPattern *string   `json:"recurring_pattern" validate:"omitempty,recurring_pattern"`
	ParentMeetingID  *string   `json:"parent_meeting_id"`
	CoHostIDs        []string  `json:"co_host_ids"`
}

type coHostRequest struct {
	UserID string `json:"user_id" validate:"required"`
}

type meetingDTO struct {
	ID               string  `json:"id"`
	Title            string  `json:"title"`
	Description      string  `json:"description,omitempty"`
	StartTime        string  `json:"start_time"`
	EndTime          string  `json:"end_time"`
	CreatedBy        string  `json:"created_by"`
	MeetingType      string  `json:"meeting_type"`
	MaxParticipants  *int    `json:"max_participants,omitempty"`
	RequiresApproval bool    `json:"requires_approval"`
	IsRecorded       bool    `json:"is_recorded"`
	RecurringPattern *string `json:"recurring_pattern,omitempty"`
	ParentMeetingID  *string `json:"parent_meeting_id,omitempty"`
	EndedAt          *string `json:"ended_at,omitempty"`
}

func mapMeeting(meeting *models.Meeting) meetingDTO {
	dto := meetingDTO{
		ID:               meeting.ID,
		Title:            meeting.Title,
		Description:      meeting.Description,
		StartTime:        meeting.StartTime.Format(time.RFC3339),
		EndTime:          meeting.EndTime.Format(time.RFC3339),
		CreatedBy:        meeting.CreatedBy,
		MeetingType:      meeting.MeetingType,
		MaxParticipants:  meeting.MaxParticipants,
		RequiresApproval: meeting.RequiresApproval,
		IsRecorded:       meeting.IsRecorded,
		RecurringPattern: meeting.RecurringPattern,
		ParentMeetingID:  meeting.ParentMeetingID,
	}
	if meeting.EndedAt != nil {
		endedAt := meeting.EndedAt.Format(time.RFC3339)
		dto.EndedAt = &endedAt
	}
	return dto
}

// POST /api/meetings
func (h *MeetingHandler) Create(c *gin.Context) {
	var req createMeetingRequest
	if !bindAndValidate(c, &req) {
		return
	}

	meeting, err := h.meetings.Create(requestContext(c), services.CreateMeetingParams{
		OwnerID:          middleware.UserID(c),
		Title:            req.Title,
		Description:      req.Description,
		StartTime:        req.StartTime,
		EndTime:          req.EndTime,
		MeetingType:      req.MeetingType,
		MaxParticipants:  req.MaxParticipants,
		RequiresApproval: req.RequiresApproval,
		IsRecorded:       req.IsRecorded,
		RecurringPattern: req.RecurringPattern,
		ParentMeetingID:  req.ParentMeetingID,
		CoHostIDs:        req.CoHostIDs,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusCreated, mapMeeting(meeting))
}

// GET /api/meetings
func (h *MeetingHandler) List(c *gin.Context) {
	activeOnly := c.Query("active_only") == "true"

	meetings, err := h.meetings.List(requestContext(c), middleware.UserID(c), activeOnly)
	if err != nil {
		response.Error(c, err)
		return
	}

	dtos := make([]meetingDTO, 0, len(meetings))
	for i := range meetings {
		dtos = append(dtos, mapMeeting(&meetings[i]))
	}
	response.Success(c, http.StatusOK, dtos)
}

// GET /api/meetings/:id
func (h *MeetingHandler) Get(c *gin.Context) {
	meeting, err := h.meetings.Get(requestContext(c), middleware.UserID(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, mapMeeting(meeting))
}

// POST /api/meetings/:id/end
func (h *MeetingHandler) End(c *gin.Context) {
	meeting, err := h.meetings.End(requestContext(c), middleware.UserID(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	h.hub.CloseRoom(meeting.ID)
	response.Success(c, http.StatusOK, mapMeeting(meeting))
}

// DELETE /api/meetings/:id
func (h *MeetingHandler) Delete(c *gin.Context) {
	meetingID := c.Param("id")
	if err := h.meetings.Delete(requestContext(c), middleware.UserID(c), meetingID); err != nil {
		response.Error(c, err)
		return
	}

	h.hub.CloseRoom(meetingID)
	response.Success(c, http.StatusOK, gin.H{"deleted": true})
}

// POST /api/meetings/:id/co-hosts
func (h *MeetingHandler) AddCoHost(c *gin.Context) {
	var req coHostRequest
	if !bindAndValidate(c, &req) {
		return
	}

	err := h.meetings.AddCoHost(requestContext(c), middleware.UserID(c), c.Param("id"), req.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, gin.H{"user_id": req.UserID})
}

// DELETE /api/meetings/:id/co-hosts/:userId
func (h *MeetingHandler) RemoveCoHost(c *gin.Context) {
	err := h.meetings.RemoveCoHost(requestContext(c), middleware.UserID(c), c.Param("id"), c.Param("userId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"removed": true})
}

// GET /api/meetings/:id/waiting-room
func (h *MeetingHandler) WaitingRoom(c *gin.Context) {
	waiting, err := h.meetings.WaitingRoom(requestContext(c), middleware.UserID(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	dtos := make([]participantDTO, 0, len(waiting))
	for i := range waiting {
		dtos = append(dtos, mapParticipant(&waiting[i]))
	}
	response.Success(c, http.StatusOK, dtos)
}

// GET /api/meetings/:id/history
func (h *MeetingHandler) History(c *gin.Context) {
	entries, err := h.meetings.History(requestContext(c), middleware.UserID(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	type auditDTO struct {
		ID        string `json:"id"`
		UserID    string `json:"user_id"`
		Action    string `json:"action"`
		Details   any    `json:"details,omitempty"`
		CreatedAt string `json:"created_at"`
	}

	dtos := make([]auditDTO, 0, len(entries))
	for _, entry := range entries {
		dtos = append(dtos, auditDTO{
			ID:        entry.ID,
			UserID:    entry.UserID,
			Action:    entry.Action,
			Details:   entry.Details,
			CreatedAt: entry.CreatedAt.Format(time.RFC3339),
		})
	}
	response.Success(c, http.StatusOK, dtos)
}
