package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/parleyhq/parley/internal/models"
	apperrors "github.com/parleyhq/parley/pkg/errors"
	"github.com/parleyhq/parley/pkg/metrics"
)

// Join outcomes for accepted attempts.
const (
	AdmissionAdmitted = "admitted"
	AdmissionQueued   = "queued"
)

// preStartWindow is how early a join is allowed before the scheduled start.
// The instant exactly at the window boundary is admitted.
const preStartWindow = 5 * time.Minute

// JoinResult describes an accepted join attempt. Rejections are returned as
// typed errors carrying a stable reason code.
type JoinResult struct {
	Outcome       string                     `json:"outcome"`
	Role          string                     `json:"role"`
	Meeting       *models.Meeting            `json:"meeting"`
	Participant   *models.MeetingParticipant `json:"participant,omitempty"`
	ActiveCount   int64                      `json:"participant_count"`
	TimeRemaining time.Duration              `json:"-"`
}

// AdmissionService evaluates join, approval, rejection, and leave requests
// against meeting state. Every evaluation runs inside one transaction that
// holds the meeting row lock, so concurrent attempts against the same meeting
// serialize and capacity can never be oversubscribed.
type AdmissionService struct {
	db      *gorm.DB
	audit   *AuditService
	timeNow func() time.Time
}

// AdmissionOption customises service dependencies.
type AdmissionOption func(*AdmissionService)

// WithAdmissionClock overrides the clock used for window checks (test helper).
func WithAdmissionClock(clock func() time.Time) AdmissionOption {
	return func(s *AdmissionService) {
		if clock != nil {
			s.timeNow = clock
		}
	}
}

// NewAdmissionService constructs the admission service.
func NewAdmissionService(db *gorm.DB, audit *AuditService, opts ...AdmissionOption) (*AdmissionService, error) {
	if db == nil {
		return nil, errors.New("admission service: db is required")
	}
	if audit == nil {
		return nil, errors.New("admission service: audit service is required")
	}

	svc := &AdmissionService{
		db:      db,
		audit:   audit,
		timeNow: time.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}

	return svc, nil
}

// Join evaluates a join attempt for (meeting, user) at the current instant.
// Validation order, first match wins: existence, ended, pre-start window,
// expiry, ban, capacity, exclusivity. The creator is admitted unconditionally
// once past the ban/time checks; co-hosts skip the waiting room but still
// occupy a capacity slot.
func (s *AdmissionService) Join(ctx context.Context, meetingID, userID string) (*JoinResult, error) {
	ctx = ensureContext(ctx)

	meetingID = strings.TrimSpace(meetingID)
	userID = strings.TrimSpace(userID)
	if meetingID == "" || userID == "" {
		return nil, apperrors.NewValidation("meeting id and user id are required")
	}

	now := s.timeNow().UTC()

	var result *JoinResult
	err := runInTx(ctx, s.db, func(tx *gorm.DB) error {
		meeting, err := lockMeeting(tx, meetingID)
		if err != nil {
			return err
		}

		if meeting.Ended() {
			return apperrors.ErrMeetingEnded
		}

		if now.Before(meeting.StartTime) {
			untilStart := meeting.StartTime.Sub(now)
			if untilStart > preStartWindow {
				minutes := int(math.Round(untilStart.Minutes()))
				return apperrors.ErrMeetingNotStarted.
					WithMessage(fmt.Sprintf("Meeting starts in %d minutes", minutes)).
					WithMeta(map[string]any{"starts_in_minutes": minutes})
			}
		}

		if now.After(meeting.EndTime) {
			return apperrors.ErrMeetingExpired
		}

		var existing *models.MeetingParticipant
		var row models.MeetingParticipant
		switch err := tx.Where("meeting_id = ? AND user_id = ?", meeting.ID, userID).First(&row).Error; {
		case err == nil:
			existing = &row
		case errors.Is(err, gorm.ErrRecordNotFound):
		default:
			return err
		}

		if existing != nil && existing.IsBanned {
			return apperrors.ErrParticipantBanned
		}

		role, err := deriveRole(tx, meeting, userID)
		if err != nil {
			return err
		}

		active, err := activeParticipantCount(tx, meeting.ID)
		if err != nil {
			return err
		}
		if meeting.MaxParticipants != nil && role != models.RoleHost && active >= int64(*meeting.MaxParticipants) {
			return apperrors.ErrMeetingFull
		}

		if err := checkExclusivity(tx, meeting.ID, userID); err != nil {
			return err
		}

		outcome := AdmissionAdmitted
		status := models.ParticipantApproved
		if role == models.RoleAttendee && meeting.RequiresApproval {
			outcome = AdmissionQueued
			status = models.ParticipantPending
		}

		var participant *models.MeetingParticipant
		if role != models.RoleHost {
			var joinedAt *time.Time
			if outcome == AdmissionAdmitted {
				joined := now
				joinedAt = &joined
			}
			participant, err = upsertParticipant(tx, meeting.ID, userID, role, status, joinedAt)
			if err != nil {
				return err
			}

			// Exclusivity re-validated before commit: a concurrent join to a
			// different meeting holds a different meeting lock, so the first
			// check alone cannot see its insert.
			if err := checkExclusivity(tx, meeting.ID, userID); err != nil {
				return err
			}
		}

		auditStatus := status
		if role == models.RoleHost {
			auditStatus = models.RoleHost
		}
		if err := s.audit.Append(ctx, tx, AuditEntry{
			MeetingID: meeting.ID,
			UserID:    userID,
			Action:    models.AuditJoined,
			Details:   map[string]any{"role": role, "status": auditStatus},
		}); err != nil {
			return err
		}

		result = &JoinResult{
			Outcome:       outcome,
			Role:          role,
			Meeting:       meeting,
			Participant:   participant,
			ActiveCount:   active,
			TimeRemaining: meeting.EndTime.Sub(now),
		}
		return nil
	})
	if err != nil {
		recordAdmissionOutcome("rejected", err)
		return nil, err
	}

	metrics.AdmissionOutcomes.WithLabelValues(result.Outcome, "").Inc()
	return result, nil
}

// Approve admits a pending participant. Capacity is re-checked at decision
// time: the meeting can fill between queueing and approval, in which case the
// decision fails with meeting.full rather than silently over-admitting.
func (s *AdmissionService) Approve(ctx context.Context, meetingID, participantID, deciderID string) (*models.MeetingParticipant, error) {
	ctx = ensureContext(ctx)
	now := s.timeNow().UTC()

	var approved *models.MeetingParticipant
	err := runInTx(ctx, s.db, func(tx *gorm.DB) error {
		meeting, participant, err := s.pendingParticipant(tx, meetingID, participantID, deciderID)
		if err != nil {
			return err
		}

		active, err := activeParticipantCount(tx, meeting.ID)
		if err != nil {
			return err
		}
		if meeting.MaxParticipants != nil && active >= int64(*meeting.MaxParticipants) {
			return apperrors.ErrMeetingFull
		}

		participant.Status = models.ParticipantApproved
		participant.JoinedAt = &now
		if err := tx.Model(participant).Updates(map[string]any{
			"status":    participant.Status,
			"joined_at": participant.JoinedAt,
		}).Error; err != nil {
			return err
		}

		approved = participant
		return s.audit.Append(ctx, tx, AuditEntry{
			MeetingID: meeting.ID,
			UserID:    deciderID,
			Action:    models.AuditApprovedParticipant,
			Details:   map[string]any{"participant_id": participant.ID},
		})
	})
	if err != nil {
		metrics.ApprovalDecisions.WithLabelValues("failed").Inc()
		return nil, err
	}

	metrics.ApprovalDecisions.WithLabelValues("approved").Inc()
	return approved, nil
}

// Reject declines a pending participant. Declined is terminal for that
// attempt; the user must submit a fresh join to re-queue.
func (s *AdmissionService) Reject(ctx context.Context, meetingID, participantID, deciderID string) error {
	ctx = ensureContext(ctx)

	err := runInTx(ctx, s.db, func(tx *gorm.DB) error {
		meeting, participant, err := s.pendingParticipant(tx, meetingID, participantID, deciderID)
		if err != nil {
			return err
		}

		if err := tx.Model(participant).Update("status", models.ParticipantDeclined).Error; err != nil {
			return err
		}

		return s.audit.Append(ctx, tx, AuditEntry{
			MeetingID: meeting.ID,
			UserID:    deciderID,
			Action:    models.AuditRejectedParticipant,
			Details:   map[string]any{"participant_id": participant.ID},
		})
	})
	if err != nil {
		metrics.ApprovalDecisions.WithLabelValues("failed").Inc()
		return err
	}

	metrics.ApprovalDecisions.WithLabelValues("rejected").Inc()
	return nil
}

// Leave releases the caller's occupancy of the meeting. Repeating a leave is
// a no-op success, and a user without a participant row (including the
// creator) leaves trivially.
func (s *AdmissionService) Leave(ctx context.Context, meetingID, userID string) error {
	ctx = ensureContext(ctx)

	meetingID = strings.TrimSpace(meetingID)
	userID = strings.TrimSpace(userID)
	if meetingID == "" || userID == "" {
		return apperrors.NewValidation("meeting id and user id are required")
	}

	now := s.timeNow().UTC()

	return runInTx(ctx, s.db, func(tx *gorm.DB) error {
		if _, err := lockMeeting(tx, meetingID); err != nil {
			return err
		}

		var participant models.MeetingParticipant
		switch err := tx.Where("meeting_id = ? AND user_id = ?", meetingID, userID).First(&participant).Error; {
		case errors.Is(err, gorm.ErrRecordNotFound):
			return nil
		case err != nil:
			return err
		}

		if participant.LeftAt != nil {
			return nil
		}

		if err := tx.Model(&participant).Update("left_at", &now).Error; err != nil {
			return err
		}

		return s.audit.Append(ctx, tx, AuditEntry{
			MeetingID: meetingID,
			UserID:    userID,
			Action:    models.AuditLeft,
			Details:   map[string]any{"role": participant.Role},
		})
	})
}

// pendingParticipant loads the meeting under lock, authorizes the decider,
// and returns the participant iff it is waiting for a decision.
func (s *AdmissionService) pendingParticipant(tx *gorm.DB, meetingID, participantID, deciderID string) (*models.Meeting, *models.MeetingParticipant, error) {
	meetingID = strings.TrimSpace(meetingID)
	participantID = strings.TrimSpace(participantID)
	deciderID = strings.TrimSpace(deciderID)
	if meetingID == "" || participantID == "" || deciderID == "" {
		return nil, nil, apperrors.NewValidation("meeting, participant, and decider ids are required")
	}

	meeting, err := lockMeeting(tx, meetingID)
	if err != nil {
		return nil, nil, err
	}

	allowed, err := canModerate(tx, meeting, deciderID)
	if err != nil {
		return nil, nil, err
	}
	if !allowed {
		return nil, nil, apperrors.ErrForbidden
	}

	var participant models.MeetingParticipant
	switch err := tx.Where("id = ? AND meeting_id = ?", participantID, meeting.ID).First(&participant).Error; {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil, nil, apperrors.ErrNotFound
	case err != nil:
		return nil, nil, err
	}

	if participant.Status != models.ParticipantPending {
		return nil, nil, apperrors.ErrParticipantNotPending
	}

	return meeting, &participant, nil
}

// lockMeeting loads the meeting row under a row-level write lock, the
// linearization point for all per-meeting operations.
func lockMeeting(tx *gorm.DB, meetingID string) (*models.Meeting, error) {
	var meeting models.Meeting
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&meeting, "id = ?", meetingID).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil, apperrors.ErrNotFound
	case err != nil:
		return nil, err
	}
	return &meeting, nil
}

// activeParticipantCount counts participants currently occupying a capacity
// slot: approved and not yet left. Pending waiters do not consume capacity.
func activeParticipantCount(tx *gorm.DB, meetingID string) (int64, error) {
	var count int64
	err := tx.Model(&models.MeetingParticipant{}).
		Where("meeting_id = ? AND left_at IS NULL AND status = ?", meetingID, models.ParticipantApproved).
		Count(&count).Error
	return count, err
}

// checkExclusivity enforces the one-live-meeting-per-user invariant: any
// participant row with left_at null in another non-ended meeting blocks the
// join.
func checkExclusivity(tx *gorm.DB, meetingID, userID string) error {
	var count int64
	err := tx.Model(&models.MeetingParticipant{}).
		Joins("JOIN meetings ON meetings.id = meeting_participants.meeting_id").
		Where("meeting_participants.user_id = ?", userID).
		Where("meeting_participants.meeting_id <> ?", meetingID).
		Where("meeting_participants.left_at IS NULL").
		Where("meetings.ended_at IS NULL").
		Count(&count).Error
	if err != nil {
		return err
	}
	if count > 0 {
		return apperrors.ErrAlreadyInMeeting
	}
	return nil
}

// upsertParticipant creates the participant row on first contact or refreshes
// it on rejoin: role is re-derived, left_at cleared, and status/joined_at set
// per the admission branch. The ban flag is never touched here.
func upsertParticipant(tx *gorm.DB, meetingID, userID, role, status string, joinedAt *time.Time) (*models.MeetingParticipant, error) {
	var participant models.MeetingParticipant
	err := tx.Where("meeting_id = ? AND user_id = ?", meetingID, userID).First(&participant).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		participant = models.MeetingParticipant{
			MeetingID: meetingID,
			UserID:    userID,
			Status:    status,
			Role:      role,
			JoinedAt:  joinedAt,
		}
		if err := tx.Create(&participant).Error; err != nil {
			if isUniqueConstraintError(err) {
				return nil, apperrors.ErrInternalServer.WithInternal(err)
			}
			return nil, err
		}
		return &participant, nil
	case err != nil:
		return nil, err
	}

	participant.Status = status
	participant.Role = role
	participant.JoinedAt = joinedAt
	participant.LeftAt = nil
	if err := tx.Model(&participant).Updates(map[string]any{
		"status":    status,
		"role":      role,
		"joined_at": joinedAt,
		"left_at":   gorm.Expr("NULL"),
	}).Error; err != nil {
		return nil, err
	}
	return &participant, nil
}

func recordAdmissionOutcome(outcome string, err error) {
	reason := ""
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		reason = appErr.Code
	}
	metrics.AdmissionOutcomes.WithLabelValues(outcome, reason).Inc()
}
