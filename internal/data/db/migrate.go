package db

import (
	"fmt"

	"gorm.io/gorm"

	domain "github.com/yungbote/neurobridge-transcribe/internal/domain/transcription"
)

func AutoMigrateAll(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&domain.Job{},
	); err != nil {
		return fmt.Errorf("automigrate: %w", err)
	}
	return nil
}
