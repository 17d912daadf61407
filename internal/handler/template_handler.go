package handler

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/campaign-engine/internal/domain"
	"github.com/kursadbilgin/campaign-engine/internal/service"
)

type TemplateService interface {
	Upsert(ctx context.Context, in service.UpsertTemplateInput) (*domain.Template, error)
	SetStatus(ctx context.Context, tenantID, id string, status domain.TemplateStatus) (*domain.Template, error)
	Get(ctx context.Context, tenantID, id string) (*domain.Template, error)
	List(ctx context.Context, tenantID string) ([]domain.Template, error)
	Preview(ctx context.Context, tenantID, id string, values map[string]string) (string, error)
}

type TemplateHandler struct {
	service TemplateService
}

func NewTemplateHandler(service TemplateService) (*TemplateHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("template service is required")
	}
	return &TemplateHandler{service: service}, nil
}

func RegisterTemplateRoutes(router fiber.Router, service TemplateService) error {
	h, err := NewTemplateHandler(service)
	if err != nil {
		return err
	}

	router.Put("/templates", h.UpsertTemplate)
	router.Get("/templates", h.ListTemplates)
	router.Get("/templates/:id", h.GetTemplate)
	router.Post("/templates/:id/status", h.SetTemplateStatus)
	router.Post("/templates/:id/preview", h.PreviewTemplate)

	return nil
}

type upsertTemplateRequest struct {
	Name      string   `json:"name"`
	Language  string   `json:"language"`
	Category  string   `json:"category"`
	Body      string   `json:"body"`
	Variables []string `json:"variables"`
	Status    string   `json:"status"`
}

type statusRequest struct {
	Status string `json:"status"`
}

type previewTemplateRequest struct {
	Values map[string]string `json:"values"`
}

type templateResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Language  string    `json:"language"`
	Category  string    `json:"category,omitempty"`
	Body      string    `json:"body"`
	Variables []string  `json:"variables"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (h *TemplateHandler) UpsertTemplate(c *fiber.Ctx) error {
	var req upsertTemplateRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	var status domain.TemplateStatus
	if req.Status != "" {
		parsed, err := domain.ParseTemplateStatusFromString(req.Status)
		if err != nil {
			return toHTTPError(err)
		}
		status = parsed
	}

	tpl, err := h.service.Upsert(requestContext(c), service.UpsertTemplateInput{
		TenantID:  tenantID(c),
		Name:      req.Name,
		Language:  req.Language,
		Category:  req.Category,
		Body:      req.Body,
		Variables: req.Variables,
		Status:    status,
	})
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(toTemplateResponse(tpl))
}

func (h *TemplateHandler) GetTemplate(c *fiber.Ctx) error {
	id, err := pathID(c, "id")
	if err != nil {
		return toHTTPError(err)
	}

	tpl, err := h.service.Get(requestContext(c), tenantID(c), id)
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(toTemplateResponse(tpl))
}

func (h *TemplateHandler) ListTemplates(c *fiber.Ctx) error {
	templates, err := h.service.List(requestContext(c), tenantID(c))
	if err != nil {
		return toHTTPError(err)
	}

	data := make([]templateResponse, 0, len(templates))
	for i := range templates {
		data = append(data, toTemplateResponse(&templates[i]))
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"data": data})
}

func (h *TemplateHandler) SetTemplateStatus(c *fiber.Ctx) error {
	id, err := pathID(c, "id")
	if err != nil {
		return toHTTPError(err)
	}
	var req statusRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	status, err := domain.ParseTemplateStatusFromString(req.Status)
	if err != nil {
		return toHTTPError(err)
	}

	tpl, err := h.service.SetStatus(requestContext(c), tenantID(c), id, status)
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(toTemplateResponse(tpl))
}

func (h *TemplateHandler) PreviewTemplate(c *fiber.Ctx) error {
	id, err := pathID(c, "id")
	if err != nil {
		return toHTTPError(err)
	}
	var req previewTemplateRequest
	if len(c.Body()) > 0 {
		if err := parseBody(c, &req); err != nil {
			return err
		}
	}

	text, err := h.service.Preview(requestContext(c), tenantID(c), id, req.Values)
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"text": text})
}

func toTemplateResponse(t *domain.Template) templateResponse {
	variables := t.Variables
	if variables == nil {
		variables = []string{}
	}
	return templateResponse{
		ID:        t.ID,
		Name:      t.Name,
		Language:  t.Language,
		Category:  t.Category,
		Body:      t.Body,
		Variables: variables,
		Status:    t.Status.String(),
		CreatedAt: t.CreatedAt,
		UpdatedAt: t.UpdatedAt,
	}
}
