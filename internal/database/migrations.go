package database

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/kodix/kodix-server/internal/apps"
	"github.com/kodix/kodix-server/internal/models"
)

// AutoMigrate creates or updates the database schema for all models.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.Team{},
		&models.Session{},
		&models.AppInstallation{},
		&models.Invitation{},
		&models.AuditLog{},
		&models.CacheEntry{},
	)
}

// SeedData verifies referential basics that migrations cannot express. App
// installation rows must reference an app that is still part of the build;
// rows for retired app ids are dropped so gates never pass on stale modules.
func SeedData(db *gorm.DB) error {
	if db == nil {
		return errors.New("nil database handle")
	}

	known := apps.Default().GetAll()
	ids := make([]string, 0, len(known))
	for _, app := range known {
		ids = append(ids, app.ID)
	}

	if len(ids) == 0 {
		return nil
	}

	if err := db.
		Where("app_id NOT IN ?", ids).
		Delete(&models.AppInstallation{}).Error; err != nil {
		return fmt.Errorf("prune unknown app installations: %w", err)
	}

	return nil
}
