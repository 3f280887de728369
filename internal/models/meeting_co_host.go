package models

// MeetingCoHost grants a user approval/rejection authority over one meeting.
// Rows are created and removed only by the meeting creator. Membership affects
// role derivation for future joins only.
type MeetingCoHost struct {
	BaseModel

	MeetingID string `gorm:"type:uuid;not null;index;uniqueIndex:idx_cohost_meeting_user" json:"meeting_id"`
	UserID    string `gorm:"type:uuid;not null;index;uniqueIndex:idx_cohost_meeting_user" json:"user_id"`

	Meeting *Meeting `gorm:"foreignKey:MeetingID" json:"-"`
	User    *User    `gorm:"foreignKey:UserID" json:"user,omitempty"`
}
