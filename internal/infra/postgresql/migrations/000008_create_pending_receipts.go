package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/campaign-engine/internal/repository"
	"gorm.io/gorm"
)

func createPendingReceiptsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000008_create_pending_receipts",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.PendingReceiptModel{}); err != nil {
				return err
			}
			return execAll(tx,
				`CREATE UNIQUE INDEX IF NOT EXISTS idx_pending_receipts_event ON pending_receipts (tenant_id, provider_message_id, status)`,
				`CREATE INDEX IF NOT EXISTS idx_pending_receipts_received ON pending_receipts (received_at)`,
				`CREATE INDEX IF NOT EXISTS idx_recipients_tenant_failed ON campaign_recipients (tenant_id, failed_at DESC) WHERE status = 'failed'`,
			)
		},
		Rollback: func(tx *gorm.DB) error {
			if err := tx.Exec(`DROP INDEX IF EXISTS idx_recipients_tenant_failed`).Error; err != nil {
				return err
			}
			return tx.Migrator().DropTable(&repository.PendingReceiptModel{})
		},
	}
}
