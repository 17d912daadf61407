package handler

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/campaign-engine/internal/domain"
	"github.com/kursadbilgin/campaign-engine/internal/repository"
	"github.com/kursadbilgin/campaign-engine/internal/service"
)

const importFormField = "file"

type ContactService interface {
	Create(ctx context.Context, tenantID, phone, name string, attributes map[string]string) (*domain.Contact, error)
	Import(ctx context.Context, tenantID string, r io.Reader) (*service.ImportResult, error)
	Get(ctx context.Context, tenantID, id string) (*domain.Contact, error)
	List(ctx context.Context, tenantID string, params repository.ContactListParams) ([]domain.Contact, int64, error)
	Delete(ctx context.Context, tenantID, id string) error
}

type ContactHandler struct {
	service ContactService
}

func NewContactHandler(service ContactService) (*ContactHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("contact service is required")
	}
	return &ContactHandler{service: service}, nil
}

func RegisterContactRoutes(router fiber.Router, service ContactService) error {
	h, err := NewContactHandler(service)
	if err != nil {
		return err
	}

	router.Post("/contacts", h.CreateContact)
	router.Post("/contacts/import", h.ImportContacts)
	router.Get("/contacts", h.ListContacts)
	router.Get("/contacts/:id", h.GetContact)
	router.Delete("/contacts/:id", h.DeleteContact)

	return nil
}

type createContactRequest struct {
	Phone      string            `json:"phone"`
	Name       string            `json:"name"`
	Attributes map[string]string `json:"attributes"`
}

type contactResponse struct {
	ID         string            `json:"id"`
	Phone      string            `json:"phone"`
	Name       string            `json:"name"`
	Attributes map[string]string `json:"attributes,omitempty"`
	CreatedAt  time.Time         `json:"createdAt"`
	UpdatedAt  time.Time         `json:"updatedAt"`
}

type listContactsResponse struct {
	Data []contactResponse `json:"data"`
	Meta listMeta          `json:"meta"`
}

type importRowErrorResponse struct {
	Line  int    `json:"line"`
	Error string `json:"error"`
}

type importContactsResponse struct {
	Created    int                      `json:"created"`
	Duplicates int                      `json:"duplicates"`
	Invalid    []importRowErrorResponse `json:"invalid"`
}

func (h *ContactHandler) CreateContact(c *fiber.Ctx) error {
	var req createContactRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	contact, err := h.service.Create(requestContext(c), tenantID(c), req.Phone, req.Name, req.Attributes)
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusCreated).JSON(toContactResponse(contact))
}

// ImportContacts accepts either a multipart upload in the "file" field or a
// raw text/csv body.
func (h *ContactHandler) ImportContacts(c *fiber.Ctx) error {
	body, err := importBody(c)
	if err != nil {
		return toHTTPError(err)
	}
	defer body.Close()

	result, err := h.service.Import(requestContext(c), tenantID(c), body)
	if err != nil {
		return toHTTPError(err)
	}

	invalid := make([]importRowErrorResponse, 0, len(result.Invalid))
	for _, row := range result.Invalid {
		invalid = append(invalid, importRowErrorResponse{Line: row.Line, Error: row.Error})
	}
	return c.Status(fiber.StatusOK).JSON(importContactsResponse{
		Created:    result.Created,
		Duplicates: result.Duplicates,
		Invalid:    invalid,
	})
}

func importBody(c *fiber.Ctx) (io.ReadCloser, error) {
	if strings.HasPrefix(strings.ToLower(c.Get(fiber.HeaderContentType)), fiber.MIMEMultipartForm) {
		header, err := c.FormFile(importFormField)
		if err != nil {
			return nil, fmt.Errorf("%w: multipart field %q is required", domain.ErrValidation, importFormField)
		}
		f, err := header.Open()
		if err != nil {
			return nil, fmt.Errorf("open uploaded file: %w", err)
		}
		return f, nil
	}

	raw := c.Body()
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, fmt.Errorf("%w: csv body is required", domain.ErrValidation)
	}
	// fasthttp reuses the body buffer after the handler returns.
	return io.NopCloser(bytes.NewReader(bytes.Clone(raw))), nil
}

func (h *ContactHandler) GetContact(c *fiber.Ctx) error {
	id, err := pathID(c, "id")
	if err != nil {
		return toHTTPError(err)
	}

	contact, err := h.service.Get(requestContext(c), tenantID(c), id)
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(toContactResponse(contact))
}

func (h *ContactHandler) ListContacts(c *fiber.Ctx) error {
	page, err := parsePagination(c)
	if err != nil {
		return toHTTPError(err)
	}

	contacts, total, err := h.service.List(requestContext(c), tenantID(c), repository.ContactListParams{
		Search:   strings.TrimSpace(c.Query("search")),
		Page:     page.Page,
		PageSize: page.PageSize,
	})
	if err != nil {
		return toHTTPError(err)
	}

	data := make([]contactResponse, 0, len(contacts))
	for i := range contacts {
		data = append(data, toContactResponse(&contacts[i]))
	}
	return c.Status(fiber.StatusOK).JSON(listContactsResponse{Data: data, Meta: page.meta(total)})
}

func (h *ContactHandler) DeleteContact(c *fiber.Ctx) error {
	id, err := pathID(c, "id")
	if err != nil {
		return toHTTPError(err)
	}
	if err := h.service.Delete(requestContext(c), tenantID(c), id); err != nil {
		return toHTTPError(err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func toContactResponse(c *domain.Contact) contactResponse {
	return contactResponse{
		ID:         c.ID,
		Phone:      c.Phone,
		Name:       c.Name,
		Attributes: c.Attributes,
		CreatedAt:  c.CreatedAt,
		UpdatedAt:  c.UpdatedAt,
	}
}
