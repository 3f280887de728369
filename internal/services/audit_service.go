package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/parleyhq/parley/internal/models"
)

// AuditEntry captures a single meeting state transition to persist.
type AuditEntry struct {
	MeetingID string
	UserID    string
	Action    string
	Details   map[string]any
}

// AuditService appends to and reads the per-meeting audit trail. Entries are
// immutable; creation order is the history order.
type AuditService struct {
	db *gorm.DB
}

// NewAuditService constructs an AuditService using the provided database handle.
func NewAuditService(db *gorm.DB) (*AuditService, error) {
	if db == nil {
		return nil, errors.New("audit service: db is required")
	}
	return &AuditService{db: db}, nil
}

// Append stores an audit entry. When tx is non-nil the write joins the
// caller's transaction, so a failed operation never leaves an audit record
// behind.
func (s *AuditService) Append(ctx context.Context, tx *gorm.DB, entry AuditEntry) error {
	ctx = ensureContext(ctx)

	if strings.TrimSpace(entry.MeetingID) == "" {
		return errors.New("audit service: meeting id is required")
	}
	if strings.TrimSpace(entry.UserID) == "" {
		return errors.New("audit service: user id is required")
	}
	if strings.TrimSpace(entry.Action) == "" {
		return errors.New("audit service: action is required")
	}

	details, err := encodeDetails(entry.Details)
	if err != nil {
		return fmt.Errorf("audit service: %w", err)
	}

	record := models.MeetingAuditLog{
		MeetingID: strings.TrimSpace(entry.MeetingID),
		UserID:    strings.TrimSpace(entry.UserID),
		Action:    strings.TrimSpace(entry.Action),
		Details:   details,
	}

	handle := tx
	if handle == nil {
		handle = s.db.WithContext(ctx)
	}
	return handle.Create(&record).Error
}

// History returns the meeting's audit trail in creation order.
func (s *AuditService) History(ctx context.Context, meetingID string) ([]models.MeetingAuditLog, error) {
	ctx = ensureContext(ctx)

	meetingID = strings.TrimSpace(meetingID)
	if meetingID == "" {
		return nil, errors.New("audit service: meeting id is required")
	}

	var entries []models.MeetingAuditLog
	if err := s.db.WithContext(ctx).
		Where("meeting_id = ?", meetingID).
		Order("created_at ASC, id ASC").
		Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("audit service: list history: %w", err)
	}

	return entries, nil
}

// CleanupOlderThan removes audit entries for meetings that ended before the
// retention window. Entries of live meetings are never touched.
func (s *AuditService) CleanupOlderThan(ctx context.Context, retentionDays int) (int64, error) {
	ctx = ensureContext(ctx)

	if retentionDays <= 0 {
		return 0, errors.New("audit service: retentionDays must be positive")
	}

	cutoff := time.Now().AddDate(0, 0, -retentionDays)

	result := s.db.WithContext(ctx).
		Where("meeting_id IN (?)",
			s.db.Model(&models.Meeting{}).Select("id").Where("ended_at IS NOT NULL AND ended_at < ?", cutoff),
		).
		Delete(&models.MeetingAuditLog{})
	if result.Error != nil {
		return 0, fmt.Errorf("audit service: cleanup: %w", result.Error)
	}

	return result.RowsAffected, nil
}
