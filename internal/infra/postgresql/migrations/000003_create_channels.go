package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/campaign-engine/internal/repository"
	"gorm.io/gorm"
)

func createChannelsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000003_create_channels",
		Migrate: func(tx *gorm.DB) error {
			return tx.AutoMigrate(&repository.ChannelModel{})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.ChannelModel{})
		},
	}
}
