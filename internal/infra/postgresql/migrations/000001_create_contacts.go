package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/campaign-engine/internal/repository"
	"gorm.io/gorm"
)

func createContactsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000001_create_contacts",
		Migrate: func(tx *gorm.DB) error {
			return tx.AutoMigrate(&repository.ContactModel{})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.ContactModel{})
		},
	}
}
