package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Audit actions recorded against a meeting.
const (
	AuditCreated             = "created"
	AuditJoined              = "joined"
	AuditLeft                = "left"
	AuditEnded               = "ended"
	AuditApprovedParticipant = "approved_participant"
	AuditRejectedParticipant = "rejected_participant"
	AuditAddedCoHost         = "added_co_host"
	AuditRemovedCoHost       = "removed_co_host"
)

// MeetingAuditLog is an immutable, append-only record of one accepted state
// transition. Creation order is the sole source of truth for a meeting's
// history; rows are never updated and only disappear with their meeting.
type MeetingAuditLog struct {
	ID        string         `gorm:"primaryKey;type:uuid" json:"id"`
	MeetingID string         `gorm:"type:uuid;not null;index" json:"meeting_id"`
	UserID    string         `gorm:"type:uuid;not null;index" json:"user_id"`
	Action    string         `gorm:"type:varchar(50);not null;index" json:"action"`
	Details   datatypes.JSON `gorm:"type:json" json:"details,omitempty"`
	CreatedAt time.Time      `gorm:"index" json:"created_at"`

	Meeting *Meeting `gorm:"foreignKey:MeetingID" json:"-"`
	User    *User    `gorm:"foreignKey:UserID" json:"user,omitempty"`
}

// BeforeCreate ensures a UUID is present before persisting.
func (a *MeetingAuditLog) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return nil
}
