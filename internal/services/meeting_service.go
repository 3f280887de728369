package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/parleyhq/parley/internal/models"
	apperrors "github.com/parleyhq/parley/pkg/errors"
	"github.com/parleyhq/parley/pkg/logger"
	"github.com/parleyhq/parley/pkg/metrics"
	"github.com/parleyhq/parley/pkg/validator"
)

const (
	minMeetingDuration = 5 * time.Minute
	maxMeetingDuration = 24 * time.Hour
	maxScheduleAhead   = 365 * 24 * time.Hour
	// maxActiveMeetings caps how many not-yet-ended meetings one owner may
	// hold at once.
	maxActiveMeetings = 50
)

// CreateMeetingParams carries the attributes for a new meeting.
type CreateMeetingParams struct {
	OwnerID          string  `json:"-" validate:"required"`
	Title            string  `json:"title" validate:"required,max=200"`
	Description      string  `json:"description" validate:"max=2000"`
	StartTime        time.Time
	EndTime          time.Time
	MeetingType      string  `json:"meeting_type" validate:"omitempty,meeting_type"`
	MaxParticipants  *int    `json:"max_participants" validate:"omitempty,gt=0"`
	RequiresApproval bool    `json:"requires_approval"`
	IsRecorded       bool    `json:"is_recorded"`
	RecurringPattern *string `json:"recurring_pattern" validate:"omitempty,recurring_pattern"`
	ParentMeetingID  *string `json:"parent_meeting_id"`
	CoHostIDs        []string
}

// MeetingService owns meeting creation, ending, deletion, and co-host
// membership. Authorization derives from the same role logic the admission
// path uses.
type MeetingService struct {
	db      *gorm.DB
	audit   *AuditService
	timeNow func() time.Time
	log     *zap.Logger
}

// MeetingOption customises service dependencies.
type MeetingOption func(*MeetingService)

// WithMeetingClock overrides the clock used for validation (test helper).
func WithMeetingClock(clock func() time.Time) MeetingOption {
	return func(s *MeetingService) {
		if clock != nil {
			s.timeNow = clock
		}
	}
}

// NewMeetingService constructs the lifecycle service.
func NewMeetingService(db *gorm.DB, audit *AuditService, opts ...MeetingOption) (*MeetingService, error) {
	if db == nil {
		return nil, errors.New("meeting service: db is required")
	}
	if audit == nil {
		return nil, errors.New("meeting service: audit service is required")
	}

	svc := &MeetingService{
		db:      db,
		audit:   audit,
		timeNow: time.Now,
		log:     logger.WithModule("meetings"),
	}
	for _, opt := range opts {
		opt(svc)
	}

	return svc, nil
}

// Create validates and persists a new meeting, its co-host set, and the
// creation audit entry in one transaction. Partial co-host insertion never
// survives a later failure.
func (s *MeetingService) Create(ctx context.Context, params CreateMeetingParams) (*models.Meeting, error) {
	ctx = ensureContext(ctx)
	now := s.timeNow().UTC()

	params.Title = strings.TrimSpace(params.Title)
	params.Description = strings.TrimSpace(params.Description)
	if params.MeetingType == "" {
		params.MeetingType = models.MeetingTypeRegular
	}

	if err := validator.ValidateStruct(params); err != nil {
		return nil, apperrors.NewValidation(err.Error())
	}
	if err := validateSchedule(params, now); err != nil {
		return nil, err
	}

	meeting := models.Meeting{
		Title:            params.Title,
		Description:      params.Description,
		StartTime:        params.StartTime.UTC(),
		EndTime:          params.EndTime.UTC(),
		CreatedBy:        params.OwnerID,
		MeetingType:      params.MeetingType,
		MaxParticipants:  params.MaxParticipants,
		RequiresApproval: params.RequiresApproval,
		IsRecorded:       params.IsRecorded,
		RecurringPattern: params.RecurringPattern,
		ParentMeetingID:  params.ParentMeetingID,
	}

	coHostIDs := normaliseIDs(params.CoHostIDs)

	err := runInTx(ctx, s.db, func(tx *gorm.DB) error {
		var overlapping int64
		if err := tx.Model(&models.Meeting{}).
			Where("created_by = ? AND ended_at IS NULL", params.OwnerID).
			Where("end_time > ? AND start_time < ?", meeting.StartTime, meeting.EndTime).
			Count(&overlapping).Error; err != nil {
			return err
		}
		if overlapping > 0 {
			return apperrors.ErrMeetingOverlap
		}

		var active int64
		if err := tx.Model(&models.Meeting{}).
			Where("created_by = ? AND ended_at IS NULL", params.OwnerID).
			Count(&active).Error; err != nil {
			return err
		}
		if active >= maxActiveMeetings {
			return apperrors.ErrMeetingLimitReached
		}

		if err := tx.Create(&meeting).Error; err != nil {
			return err
		}

		for _, coHostID := range coHostIDs {
			if coHostID == params.OwnerID {
				continue
			}
			coHost := models.MeetingCoHost{MeetingID: meeting.ID, UserID: coHostID}
			if err := tx.Create(&coHost).Error; err != nil {
				return err
			}
		}

		return s.audit.Append(ctx, tx, AuditEntry{
			MeetingID: meeting.ID,
			UserID:    params.OwnerID,
			Action:    models.AuditCreated,
			Details: map[string]any{
				"meeting_type":      meeting.MeetingType,
				"requires_approval": meeting.RequiresApproval,
				"is_recorded":       meeting.IsRecorded,
				"recurring_pattern": meeting.RecurringPattern,
			},
		})
	})
	if err != nil {
		return nil, err
	}

	metrics.ActiveMeetings.Inc()
	return &meeting, nil
}

// End terminates a live meeting. Only the creator may end it, and ending an
// already-ended meeting is an explicit rejection, not a silent success.
// Participant rows keep their left_at values so history is preserved.
func (s *MeetingService) End(ctx context.Context, requesterID, meetingID string) (*models.Meeting, error) {
	ctx = ensureContext(ctx)
	now := s.timeNow().UTC()

	var ended *models.Meeting
	err := runInTx(ctx, s.db, func(tx *gorm.DB) error {
		meeting, err := lockMeeting(tx, meetingID)
		if err != nil {
			return err
		}
		if meeting.CreatedBy != requesterID {
			return apperrors.ErrForbidden
		}
		if meeting.Ended() {
			return apperrors.ErrMeetingAlreadyEnded
		}

		meeting.EndedAt = &now
		if err := tx.Model(meeting).Update("ended_at", &now).Error; err != nil {
			return err
		}

		ended = meeting
		return s.audit.Append(ctx, tx, AuditEntry{
			MeetingID: meeting.ID,
			UserID:    requesterID,
			Action:    models.AuditEnded,
			Details:   map[string]any{"ended_at": now},
		})
	})
	if err != nil {
		return nil, err
	}

	metrics.ActiveMeetings.Dec()
	return ended, nil
}

// Delete removes a meeting and, through the store's cascade contract, its
// participants, co-hosts, and audit entries. Only the creator may delete.
func (s *MeetingService) Delete(ctx context.Context, requesterID, meetingID string) error {
	ctx = ensureContext(ctx)

	var wasLive bool
	err := runInTx(ctx, s.db, func(tx *gorm.DB) error {
		meeting, err := lockMeeting(tx, meetingID)
		if err != nil {
			return err
		}
		if meeting.CreatedBy != requesterID {
			return apperrors.ErrForbidden
		}
		wasLive = !meeting.Ended()

		return tx.Delete(meeting).Error
	})
	if err != nil {
		return err
	}

	// The audit trail goes with the meeting, so the deletion itself is only
	// visible in the structured log.
	s.log.Info("meeting deleted",
		zap.String("meeting_id", meetingID),
		zap.String("requester_id", requesterID),
	)
	if wasLive {
		metrics.ActiveMeetings.Dec()
	}
	return nil
}

// AddCoHost grants approval authority to a user. Creator-only; duplicates are
// rejected. Takes effect for future role derivation only — already-admitted
// attendees keep their participant role.
func (s *MeetingService) AddCoHost(ctx context.Context, requesterID, meetingID, userID string) error {
	ctx = ensureContext(ctx)

	userID = strings.TrimSpace(userID)
	if userID == "" {
		return apperrors.NewValidation("user id is required")
	}

	return runInTx(ctx, s.db, func(tx *gorm.DB) error {
		meeting, err := lockMeeting(tx, meetingID)
		if err != nil {
			return err
		}
		if meeting.CreatedBy != requesterID {
			return apperrors.ErrForbidden
		}

		var userCount int64
		if err := tx.Model(&models.User{}).Where("id = ?", userID).Count(&userCount).Error; err != nil {
			return err
		}
		if userCount == 0 {
			return apperrors.ErrNotFound.WithMessage("User not found")
		}

		var existing int64
		if err := tx.Model(&models.MeetingCoHost{}).
			Where("meeting_id = ? AND user_id = ?", meeting.ID, userID).
			Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			return apperrors.ErrCoHostDuplicate
		}

		coHost := models.MeetingCoHost{MeetingID: meeting.ID, UserID: userID}
		if err := tx.Create(&coHost).Error; err != nil {
			if isUniqueConstraintError(err) {
				return apperrors.ErrCoHostDuplicate
			}
			return err
		}

		return s.audit.Append(ctx, tx, AuditEntry{
			MeetingID: meeting.ID,
			UserID:    requesterID,
			Action:    models.AuditAddedCoHost,
			Details:   map[string]any{"co_host_id": userID},
		})
	})
}

// RemoveCoHost revokes a co-host grant. Creator-only.
func (s *MeetingService) RemoveCoHost(ctx context.Context, requesterID, meetingID, userID string) error {
	ctx = ensureContext(ctx)

	return runInTx(ctx, s.db, func(tx *gorm.DB) error {
		meeting, err := lockMeeting(tx, meetingID)
		if err != nil {
			return err
		}
		if meeting.CreatedBy != requesterID {
			return apperrors.ErrForbidden
		}

		result := tx.Where("meeting_id = ? AND user_id = ?", meeting.ID, userID).
			Delete(&models.MeetingCoHost{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return apperrors.ErrNotFound.WithMessage("User is not a co-host")
		}

		return s.audit.Append(ctx, tx, AuditEntry{
			MeetingID: meeting.ID,
			UserID:    requesterID,
			Action:    models.AuditRemovedCoHost,
			Details:   map[string]any{"co_host_id": userID},
		})
	})
}

// Get returns a meeting to its creator or to any user holding a participant
// row in it.
func (s *MeetingService) Get(ctx context.Context, requesterID, meetingID string) (*models.Meeting, error) {
	ctx = ensureContext(ctx)

	var meeting models.Meeting
	switch err := s.db.WithContext(ctx).First(&meeting, "id = ?", meetingID).Error; {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil, apperrors.ErrNotFound
	case err != nil:
		return nil, err
	}

	if meeting.CreatedBy != requesterID {
		var count int64
		if err := s.db.WithContext(ctx).Model(&models.MeetingParticipant{}).
			Where("meeting_id = ? AND user_id = ?", meeting.ID, requesterID).
			Count(&count).Error; err != nil {
			return nil, err
		}
		if count == 0 {
			return nil, apperrors.ErrForbidden
		}
	}

	return &meeting, nil
}

// CanSignal authorizes attaching to the meeting's realtime room. Unlike Get,
// holding any participant row is not enough: only the creator and currently
// admitted participants may connect, so pending, declined, departed, and
// banned users are refused.
func (s *MeetingService) CanSignal(ctx context.Context, requesterID, meetingID string) error {
	ctx = ensureContext(ctx)

	var meeting models.Meeting
	switch err := s.db.WithContext(ctx).First(&meeting, "id = ?", meetingID).Error; {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return apperrors.ErrNotFound
	case err != nil:
		return err
	}

	if meeting.Ended() {
		return apperrors.ErrMeetingEnded
	}

	return canSignal(s.db.WithContext(ctx), &meeting, requesterID)
}

// List returns the meetings the user created or participates in, newest
// first. With activeOnly set, ended meetings are filtered out.
func (s *MeetingService) List(ctx context.Context, userID string, activeOnly bool) ([]models.Meeting, error) {
	ctx = ensureContext(ctx)

	query := s.db.WithContext(ctx).Model(&models.Meeting{}).
		Distinct("meetings.*").
		Joins("LEFT JOIN meeting_participants ON meeting_participants.meeting_id = meetings.id").
		Where("meetings.created_by = ? OR meeting_participants.user_id = ?", userID, userID)
	if activeOnly {
		query = query.Where("meetings.ended_at IS NULL")
	}

	var meetings []models.Meeting
	if err := query.Order("meetings.created_at DESC").Find(&meetings).Error; err != nil {
		return nil, err
	}
	return meetings, nil
}

// WaitingRoom lists participants awaiting a decision. Host/co-host only.
func (s *MeetingService) WaitingRoom(ctx context.Context, requesterID, meetingID string) ([]models.MeetingParticipant, error) {
	ctx = ensureContext(ctx)

	var waiting []models.MeetingParticipant
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		meeting, err := findMeeting(tx, meetingID)
		if err != nil {
			return err
		}

		allowed, err := canModerate(tx, meeting, requesterID)
		if err != nil {
			return err
		}
		if !allowed {
			return apperrors.ErrForbidden
		}

		return tx.Preload("User").
			Where("meeting_id = ? AND status = ?", meeting.ID, models.ParticipantPending).
			Order("created_at ASC").
			Find(&waiting).Error
	})
	if err != nil {
		return nil, err
	}
	return waiting, nil
}

// History returns the meeting's audit trail in creation order, restricted to
// its creator and participants.
func (s *MeetingService) History(ctx context.Context, requesterID, meetingID string) ([]models.MeetingAuditLog, error) {
	if _, err := s.Get(ctx, requesterID, meetingID); err != nil {
		return nil, err
	}
	return s.audit.History(ctx, meetingID)
}

func findMeeting(tx *gorm.DB, meetingID string) (*models.Meeting, error) {
	var meeting models.Meeting
	switch err := tx.First(&meeting, "id = ?", meetingID).Error; {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil, apperrors.ErrNotFound
	case err != nil:
		return nil, err
	}
	return &meeting, nil
}

func validateSchedule(params CreateMeetingParams, now time.Time) error {
	start := params.StartTime.UTC()
	end := params.EndTime.UTC()

	if start.IsZero() || end.IsZero() {
		return apperrors.NewValidation("start_time and end_time are required")
	}
	if start.Before(now) {
		return apperrors.NewValidation("Meeting cannot start in the past")
	}
	if !start.Before(end) {
		return apperrors.NewValidation("Start time must be before end time")
	}

	duration := end.Sub(start)
	if duration < minMeetingDuration {
		return apperrors.NewValidation("Meeting must be at least 5 minutes long")
	}
	if duration > maxMeetingDuration {
		return apperrors.NewValidation("Meeting cannot be longer than 24 hours")
	}
	if start.Sub(now) > maxScheduleAhead {
		return apperrors.NewValidation("Cannot schedule meetings more than 1 year in advance")
	}

	if params.MeetingType == models.MeetingTypeRecurring {
		if params.RecurringPattern == nil {
			return apperrors.NewValidation("Recurring meetings require a recurring pattern")
		}
	} else if params.RecurringPattern != nil {
		return apperrors.NewValidation("Only recurring meetings may carry a recurring pattern")
	}

	return nil
}
