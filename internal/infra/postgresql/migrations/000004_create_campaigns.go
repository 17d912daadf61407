package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/campaign-engine/internal/repository"
	"gorm.io/gorm"
)

func createCampaignsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000004_create_campaigns",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.CampaignModel{}); err != nil {
				return err
			}
			return execAll(tx,
				`CREATE INDEX IF NOT EXISTS idx_campaigns_tenant_status_created ON campaigns (tenant_id, status, created_at)`,
				`CREATE INDEX IF NOT EXISTS idx_campaigns_scheduled_due ON campaigns (scheduled_at) WHERE status = 'scheduled'`,
				`ALTER TABLE campaigns ADD CONSTRAINT chk_campaigns_counters_nonnegative CHECK (
					sent_count >= 0 AND delivered_count >= 0 AND read_count >= 0 AND failed_count >= 0 AND skipped_count >= 0
					AND sent_count + delivered_count + read_count + failed_count + skipped_count <= total_count)`,
			)
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.CampaignModel{})
		},
	}
}
