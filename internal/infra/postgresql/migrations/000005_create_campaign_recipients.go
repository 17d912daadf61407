package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/campaign-engine/internal/repository"
	"gorm.io/gorm"
)

func createCampaignRecipientsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000005_create_campaign_recipients",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.RecipientModel{}); err != nil {
				return err
			}
			return execAll(tx,
				`CREATE INDEX IF NOT EXISTS idx_recipients_campaign_status ON campaign_recipients (campaign_id, status, id)`,
				`CREATE UNIQUE INDEX IF NOT EXISTS idx_recipients_campaign_contact ON campaign_recipients (campaign_id, contact_id)`,
				`CREATE UNIQUE INDEX IF NOT EXISTS idx_recipients_provider_message ON campaign_recipients (tenant_id, provider_message_id) WHERE provider_message_id IS NOT NULL`,
				`CREATE INDEX IF NOT EXISTS idx_recipients_stale_claims ON campaign_recipients (claimed_at) WHERE status = 'queued' AND claimed_at IS NOT NULL`,
			)
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.RecipientModel{})
		},
	}
}
