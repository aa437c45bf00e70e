package db

import (
	"fmt"

	"gorm.io/gorm"

	types "github.com/darkroomhq/darkroom-backend/internal/domain"
)

func AutoMigrateAll(db *gorm.DB) error {
	return db.AutoMigrate(
		&types.Job{},
		&types.ShopifyMap{},
		&types.Metadata{},
	)
}

// EnsureJobIndexes adds the partial indexes the poll loop and the per-sku
// admission cap lean on. Partial indexes are postgres-only; sqlite runs
// fine without them at dev scale.
func EnsureJobIndexes(db *gorm.DB) error {
	if db.Dialector.Name() != "postgres" {
		return nil
	}
	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_job_new_created
		ON job (created_at)
		WHERE status = 'NEW';
	`).Error; err != nil {
		return fmt.Errorf("create idx_job_new_created: %w", err)
	}
	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_job_sku_active
		ON job (sku)
		WHERE status NOT IN ('DONE', 'FAILED');
	`).Error; err != nil {
		return fmt.Errorf("create idx_job_sku_active: %w", err)
	}
	return nil
}
