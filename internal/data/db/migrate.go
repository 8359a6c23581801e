package db

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/yungbote/certsig-backend/internal/data/register"
	"github.com/yungbote/certsig-backend/internal/domain/certificate"
)

func AutoMigrateAll(db *gorm.DB) error {
	if err := db.AutoMigrate(
		// Serial register (sql backend)
		&register.SerialRow{},

		// Audit trail
		&certificate.IssuanceEvent{},
	); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
