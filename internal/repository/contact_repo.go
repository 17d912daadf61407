package repository

import (
	"context"
	"strings"

	"github.com/kursadbilgin/campaign-engine/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ContactListParams struct {
	Search   string
	Page     int
	PageSize int
}

type ContactRepository interface {
	Create(ctx context.Context, c *domain.Contact) error
	InsertMany(ctx context.Context, contacts []*domain.Contact) (int64, error)
	GetByID(ctx context.Context, tenantID, id string) (*domain.Contact, error)
	GetByPhone(ctx context.Context, tenantID, phone string) (*domain.Contact, error)
	ListByIDs(ctx context.Context, tenantID string, ids []string) ([]domain.Contact, error)
	List(ctx context.Context, tenantID string, params ContactListParams) ([]domain.Contact, int64, error)
	Delete(ctx context.Context, tenantID, id string) error
	Count(ctx context.Context, tenantID string) (int64, error)
}

type GormContactRepo struct {
	db *gorm.DB
}

func NewGormContactRepo(db *gorm.DB) *GormContactRepo {
	return &GormContactRepo{db: db}
}

// Create inserts c. A duplicate (tenant, phone) yields domain.ErrConflict.
func (r *GormContactRepo) Create(ctx context.Context, c *domain.Contact) error {
	model := contactModelFromDomain(c)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		if isUniqueViolation(err) {
			return domain.ErrConflict
		}
		return err
	}
	if c != nil {
		*c = *contactModelToDomain(model)
	}
	return nil
}

// InsertMany inserts contacts, silently skipping phones the tenant already
// has. It returns the number of rows actually inserted.
func (r *GormContactRepo) InsertMany(ctx context.Context, contacts []*domain.Contact) (int64, error) {
	models := make([]ContactModel, 0, len(contacts))
	for _, c := range contacts {
		if model := contactModelFromDomain(c); model != nil {
			models = append(models, *model)
		}
	}
	if len(models) == 0 {
		return 0, nil
	}

	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "tenant_id"}, {Name: "phone"}},
			DoNothing: true,
		}).
		CreateInBatches(&models, 500)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func (r *GormContactRepo) GetByID(ctx context.Context, tenantID, id string) (*domain.Contact, error) {
	var model ContactModel
	err := r.db.WithContext(ctx).
		Where("id = ? AND tenant_id = ?", id, tenantID).
		First(&model).Error
	if err != nil {
		return nil, notFound(err)
	}
	return contactModelToDomain(&model), nil
}

func (r *GormContactRepo) GetByPhone(ctx context.Context, tenantID, phone string) (*domain.Contact, error) {
	var model ContactModel
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND phone = ?", tenantID, phone).
		First(&model).Error
	if err != nil {
		return nil, notFound(err)
	}
	return contactModelToDomain(&model), nil
}

func (r *GormContactRepo) ListByIDs(ctx context.Context, tenantID string, ids []string) ([]domain.Contact, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	var models []ContactModel
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND id IN ?", tenantID, ids).
		Order("created_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	contacts := make([]domain.Contact, 0, len(models))
	for i := range models {
		contacts = append(contacts, *contactModelToDomain(&models[i]))
	}
	return contacts, nil
}

func (r *GormContactRepo) List(ctx context.Context, tenantID string, params ContactListParams) ([]domain.Contact, int64, error) {
	query := r.db.WithContext(ctx).Model(&ContactModel{}).Where("tenant_id = ?", tenantID)

	if search := strings.TrimSpace(params.Search); search != "" {
		like := "%" + search + "%"
		query = query.Where("(name ILIKE ? OR phone LIKE ?)", like, like)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page, pageSize := normalizePage(params.Page, params.PageSize)

	var models []ContactModel
	err := query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&models).Error
	if err != nil {
		return nil, 0, err
	}

	contacts := make([]domain.Contact, 0, len(models))
	for i := range models {
		contacts = append(contacts, *contactModelToDomain(&models[i]))
	}
	return contacts, total, nil
}

func (r *GormContactRepo) Delete(ctx context.Context, tenantID, id string) error {
	result := r.db.WithContext(ctx).
		Where("id = ? AND tenant_id = ?", id, tenantID).
		Delete(&ContactModel{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormContactRepo) Count(ctx context.Context, tenantID string) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).
		Model(&ContactModel{}).
		Where("tenant_id = ?", tenantID).
		Count(&total).Error
	return total, err
}
