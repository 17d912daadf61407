package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/campaign-engine/internal/domain"
	"github.com/kursadbilgin/campaign-engine/internal/repository"
	"go.uber.org/zap"
)

// TemplateService mirrors provider-approved templates locally.
type TemplateService struct {
	templates repository.TemplateRepository
	logger    *zap.Logger
	now       func() time.Time
}

type UpsertTemplateInput struct {
	TenantID  string
	Name      string
	Language  string
	Category  string
	Body      string
	Variables []string
	Status    domain.TemplateStatus
}

func NewTemplateService(templates repository.TemplateRepository, logger *zap.Logger) (*TemplateService, error) {
	if templates == nil {
		return nil, fmt.Errorf("template repository is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TemplateService{templates: templates, logger: logger, now: time.Now}, nil
}

func (s *TemplateService) Upsert(ctx context.Context, in UpsertTemplateInput) (*domain.Template, error) {
	now := s.now().UTC()
	status := in.Status
	if status == "" {
		status = domain.TemplateStatusPending
	}

	variables := make([]string, 0, len(in.Variables))
	for _, v := range in.Variables {
		variables = append(variables, strings.ToLower(strings.TrimSpace(v)))
	}

	tpl := &domain.Template{
		ID:        uuid.NewString(),
		TenantID:  in.TenantID,
		Name:      strings.TrimSpace(in.Name),
		Language:  strings.TrimSpace(in.Language),
		Category:  strings.TrimSpace(in.Category),
		Body:      in.Body,
		Variables: variables,
		Status:    status,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := tpl.Validate(); err != nil {
		return nil, err
	}

	if err := s.templates.Upsert(ctx, tpl); err != nil {
		return nil, fmt.Errorf("failed to store template: %w", err)
	}
	return tpl, nil
}

func (s *TemplateService) SetStatus(ctx context.Context, tenantID, id string, status domain.TemplateStatus) (*domain.Template, error) {
	if !status.IsValid() {
		return nil, fmt.Errorf("%w: invalid template status %q", domain.ErrValidation, status)
	}
	if err := s.templates.SetStatus(ctx, tenantID, id, status); err != nil {
		return nil, err
	}
	return s.templates.GetByID(ctx, tenantID, id)
}

func (s *TemplateService) Get(ctx context.Context, tenantID, id string) (*domain.Template, error) {
	return s.templates.GetByID(ctx, tenantID, id)
}

func (s *TemplateService) List(ctx context.Context, tenantID string) ([]domain.Template, error) {
	return s.templates.List(ctx, tenantID)
}

// Preview renders the template for the given values without sending it.
func (s *TemplateService) Preview(ctx context.Context, tenantID, id string, values map[string]string) (string, error) {
	tpl, err := s.templates.GetByID(ctx, tenantID, id)
	if err != nil {
		return "", err
	}
	resolved, err := tpl.ResolveValues(normalizeVariables(values))
	if err != nil {
		return "", err
	}
	return tpl.Render(resolved)
}
