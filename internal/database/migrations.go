package database

import (
	"gorm.io/gorm"

	"github.com/parleyhq/parley/internal/models"
)

// AutoMigrate creates or updates the database schema for all models. Parent
// tables come first so foreign keys resolve.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.Meeting{},
		&models.MeetingParticipant{},
		&models.MeetingCoHost{},
		&models.MeetingAuditLog{},
	)
}
