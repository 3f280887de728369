package models

import (
	"time"
)

// Participant statuses.
const (
	ParticipantPending  = "pending"
	ParticipantApproved = "approved"
	ParticipantDeclined = "declined"
)

// Roles derived at join time. Role is never set independently: it is a pure
// function of the meeting creator and the co-host set at the moment of the
// join.
const (
	RoleHost     = "host"
	RoleCoHost   = "co-host"
	RoleAttendee = "attendee"
)

// MeetingParticipant records one user's standing within one meeting. A row is
// created on the first join attempt by a non-creator and persists across
// leave/rejoin cycles; it is only removed when its meeting is deleted.
type MeetingParticipant struct {
	BaseModel

	MeetingID string `gorm:"type:uuid;not null;index;uniqueIndex:idx_meeting_user" json:"meeting_id"`
	UserID    string `gorm:"type:uuid;not null;index;uniqueIndex:idx_meeting_user" json:"user_id"`

	Status string `gorm:"type:varchar(20);not null;default:pending;index" json:"status"`
	Role   string `gorm:"type:varchar(20);not null;default:attendee" json:"role"`

	JoinedAt *time.Time `json:"joined_at"`
	LeftAt   *time.Time `gorm:"index" json:"left_at"`

	// IsBanned is sticky: it survives status resets and leave/rejoin, and a
	// banned user is rejected regardless of any other state.
	IsBanned bool `gorm:"not null;default:false" json:"is_banned"`

	Meeting *Meeting `gorm:"foreignKey:MeetingID" json:"-"`
	User    *User    `gorm:"foreignKey:UserID" json:"user,omitempty"`
}

// Active reports whether the participant currently occupies the meeting.
func (p *MeetingParticipant) Active() bool {
	return p.LeftAt == nil && p.Status == ParticipantApproved
}
