package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/campaign-engine/internal/repository"
	"gorm.io/gorm"
)

func createInboundMessagesTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000007_create_inbound_messages",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.InboundMessageModel{}); err != nil {
				return err
			}
			return execAll(tx,
				`CREATE UNIQUE INDEX IF NOT EXISTS idx_inbound_channel_message ON inbound_messages (channel_id, provider_message_id)`,
				`CREATE INDEX IF NOT EXISTS idx_inbound_tenant_received ON inbound_messages (tenant_id, received_at DESC)`,
			)
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.InboundMessageModel{})
		},
	}
}
