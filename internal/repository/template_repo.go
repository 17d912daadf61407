package repository

import (
	"context"

	"github.com/kursadbilgin/campaign-engine/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type TemplateRepository interface {
	Upsert(ctx context.Context, t *domain.Template) error
	GetByID(ctx context.Context, tenantID, id string) (*domain.Template, error)
	List(ctx context.Context, tenantID string) ([]domain.Template, error)
	SetStatus(ctx context.Context, tenantID, id string, status domain.TemplateStatus) error
}

type GormTemplateRepo struct {
	db *gorm.DB
}

func NewGormTemplateRepo(db *gorm.DB) *GormTemplateRepo {
	return &GormTemplateRepo{db: db}
}

// Upsert stores t keyed by (tenant, name, language) and reloads the stored row
// into t, so an existing template keeps its id.
func (r *GormTemplateRepo) Upsert(ctx context.Context, t *domain.Template) error {
	model := templateModelFromDomain(t)
	if model == nil {
		return nil
	}

	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "tenant_id"}, {Name: "name"}, {Name: "language"}},
			DoUpdates: clause.AssignmentColumns([]string{"category", "body", "variables", "status", "updated_at"}),
		}).
		Create(model).Error
	if err != nil {
		return err
	}

	var stored TemplateModel
	err = r.db.WithContext(ctx).
		Where("tenant_id = ? AND name = ? AND language = ?", model.TenantID, model.Name, model.Language).
		First(&stored).Error
	if err != nil {
		return notFound(err)
	}

	*t = *templateModelToDomain(&stored)
	return nil
}

func (r *GormTemplateRepo) GetByID(ctx context.Context, tenantID, id string) (*domain.Template, error) {
	var model TemplateModel
	err := r.db.WithContext(ctx).
		Where("id = ? AND tenant_id = ?", id, tenantID).
		First(&model).Error
	if err != nil {
		return nil, notFound(err)
	}
	return templateModelToDomain(&model), nil
}

func (r *GormTemplateRepo) List(ctx context.Context, tenantID string) ([]domain.Template, error) {
	var models []TemplateModel
	err := r.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("name ASC, language ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	templates := make([]domain.Template, 0, len(models))
	for i := range models {
		templates = append(templates, *templateModelToDomain(&models[i]))
	}
	return templates, nil
}

func (r *GormTemplateRepo) SetStatus(ctx context.Context, tenantID, id string, status domain.TemplateStatus) error {
	result := r.db.WithContext(ctx).
		Model(&TemplateModel{}).
		Where("id = ? AND tenant_id = ?", id, tenantID).
		Update("status", status)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}
