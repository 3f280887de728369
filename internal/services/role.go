package services

import (
	"errors"

	"gorm.io/gorm"

	"github.com/parleyhq/parley/internal/models"
	apperrors "github.com/parleyhq/parley/pkg/errors"
)

// deriveRole computes the requester's role for a meeting at this instant. It
// is recomputed on every join from the creator id and the current co-host set
// rather than read from a stored field, so co-host changes take effect for
// future joins without touching existing participant rows.
func deriveRole(tx *gorm.DB, meeting *models.Meeting, userID string) (string, error) {
	if meeting.CreatedBy == userID {
		return models.RoleHost, nil
	}

	var count int64
	if err := tx.Model(&models.MeetingCoHost{}).
		Where("meeting_id = ? AND user_id = ?", meeting.ID, userID).
		Count(&count).Error; err != nil {
		return "", err
	}
	if count > 0 {
		return models.RoleCoHost, nil
	}

	return models.RoleAttendee, nil
}

// canModerate reports whether the user holds approval/rejection authority for
// the meeting (creator or co-host).
func canModerate(tx *gorm.DB, meeting *models.Meeting, userID string) (bool, error) {
	role, err := deriveRole(tx, meeting, userID)
	if err != nil {
		return false, err
	}
	return role == models.RoleHost || role == models.RoleCoHost, nil
}

// canSignal reports whether the user may attach to the meeting's realtime
// room: the creator always, anyone else only while they are an approved
// participant who has neither left nor been banned. Pending and declined
// waiters stay outside.
func canSignal(tx *gorm.DB, meeting *models.Meeting, userID string) error {
	if meeting.CreatedBy == userID {
		return nil
	}

	var participant models.MeetingParticipant
	switch err := tx.Where("meeting_id = ? AND user_id = ?", meeting.ID, userID).First(&participant).Error; {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return apperrors.ErrForbidden
	case err != nil:
		return err
	}

	if participant.IsBanned {
		return apperrors.ErrParticipantBanned
	}
	if !participant.Active() {
		return apperrors.ErrForbidden
	}
	return nil
}
