package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/campaign-engine/internal/repository"
	"gorm.io/gorm"
)

func createSendAttemptsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000006_create_send_attempts",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.SendAttemptModel{}); err != nil {
				return err
			}
			return execAll(tx,
				`CREATE INDEX IF NOT EXISTS idx_attempts_recipient_id ON send_attempts (recipient_id)`,
				`CREATE INDEX IF NOT EXISTS idx_attempts_campaign_id ON send_attempts (campaign_id)`,
				`CREATE INDEX IF NOT EXISTS idx_attempts_tenant_created ON send_attempts (tenant_id, created_at DESC)`,
			)
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.SendAttemptModel{})
		},
	}
}
