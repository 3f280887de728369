package models

import (
	"time"
)

// Meeting type values accepted by the lifecycle API.
const (
	MeetingTypeRegular   = "regular"
	MeetingTypeRecurring = "recurring"
	MeetingTypePrivate   = "private"
)

// Recurrence patterns for recurring meetings.
const (
	RecurringDaily   = "daily"
	RecurringWeekly  = "weekly"
	RecurringMonthly = "monthly"
	RecurringCustom  = "custom"
)

// Meeting represents a scheduled group session. Lifecycle mutations (end,
// delete, co-host changes) are reserved to the creator.
type Meeting struct {
	BaseModel

	Title       string    `gorm:"type:varchar(200);not null" json:"title"`
	Description string    `gorm:"type:text" json:"description"`
	StartTime   time.Time `gorm:"not null;index" json:"start_time"`
	EndTime     time.Time `gorm:"not null" json:"end_time"`
	CreatedBy   string    `gorm:"type:uuid;not null;index" json:"created_by"`

	MeetingType      string  `gorm:"type:varchar(20);not null;default:regular" json:"meeting_type"`
	MaxParticipants  *int    `json:"max_participants"`
	RequiresApproval bool    `gorm:"not null;default:false" json:"requires_approval"`
	IsRecorded       bool    `gorm:"not null;default:false" json:"is_recorded"`
	RecordingURL     *string `gorm:"type:varchar(500)" json:"recording_url"`
	RecurringPattern *string `gorm:"type:varchar(50)" json:"recurring_pattern"`
	ParentMeetingID  *string `gorm:"type:uuid;index" json:"parent_meeting_id"`

	// EndedAt marks the meeting as terminated; nil means live or not yet held.
	EndedAt *time.Time `gorm:"index" json:"ended_at"`

	Creator       *User                `gorm:"foreignKey:CreatedBy" json:"creator,omitempty"`
	ParentMeeting *Meeting             `gorm:"foreignKey:ParentMeetingID" json:"-"`
	Participants  []MeetingParticipant `gorm:"foreignKey:MeetingID;constraint:OnDelete:CASCADE" json:"participants,omitempty"`
	CoHosts       []MeetingCoHost      `gorm:"foreignKey:MeetingID;constraint:OnDelete:CASCADE" json:"co_hosts,omitempty"`
	AuditLogs     []MeetingAuditLog    `gorm:"foreignKey:MeetingID;constraint:OnDelete:CASCADE" json:"-"`
}

// Ended reports whether the meeting has been terminated.
func (m *Meeting) Ended() bool {
	return m.EndedAt != nil
}
