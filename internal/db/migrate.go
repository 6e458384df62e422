package db

import (
	"fmt"

	"github.com/zulandar/interviewer/internal/models"
	"gorm.io/gorm"
)

// AllModels returns every table the local store owns.
func AllModels() []interface{} {
	return []interface{}{
		&models.DraftRecord{},
		&models.QueuedSubmission{},
		&models.TabAnnouncement{},
		&models.SessionLease{},
	}
}

// AutoMigrate creates or updates all tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}
