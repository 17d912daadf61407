package handler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/campaign-engine/internal/domain"
	"github.com/kursadbilgin/campaign-engine/internal/service"
)

type ChannelService interface {
	Create(ctx context.Context, in service.CreateChannelInput) (*domain.Channel, error)
	Get(ctx context.Context, tenantID, id string) (*domain.Channel, error)
	List(ctx context.Context, tenantID string) ([]domain.Channel, error)
	SetStatus(ctx context.Context, tenantID, id string, status domain.ChannelStatus) (*domain.Channel, error)
}

type ChannelHandler struct {
	service ChannelService
}

func NewChannelHandler(service ChannelService) (*ChannelHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("channel service is required")
	}
	return &ChannelHandler{service: service}, nil
}

func RegisterChannelRoutes(router fiber.Router, service ChannelService) error {
	h, err := NewChannelHandler(service)
	if err != nil {
		return err
	}

	router.Post("/channels", h.CreateChannel)
	router.Get("/channels", h.ListChannels)
	router.Get("/channels/:id", h.GetChannel)
	router.Post("/channels/:id/status", h.SetChannelStatus)

	return nil
}

type createChannelRequest struct {
	Name        string `json:"name"`
	Provider    string `json:"provider"`
	PhoneNumber string `json:"phoneNumber"`
	ExternalID  string `json:"externalId"`
	AccessToken string `json:"accessToken"`
	BaseURL     string `json:"baseUrl"`
	AppSecret   string `json:"appSecret"`
	VerifyToken string `json:"verifyToken"`
}

// channelResponse deliberately has no credential fields.
type channelResponse struct {
	ID                string    `json:"id"`
	Name              string    `json:"name"`
	Provider          string    `json:"provider"`
	PhoneNumber       string    `json:"phoneNumber,omitempty"`
	ExternalID        string    `json:"externalId,omitempty"`
	BaseURL           string    `json:"baseUrl,omitempty"`
	Status            string    `json:"status"`
	SignatureRequired bool      `json:"signatureRequired"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

func (h *ChannelHandler) CreateChannel(c *fiber.Ctx) error {
	var req createChannelRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	kind, err := domain.ParseProviderKindFromString(req.Provider)
	if err != nil {
		return toHTTPError(err)
	}

	ch, err := h.service.Create(requestContext(c), service.CreateChannelInput{
		TenantID:    tenantID(c),
		Name:        req.Name,
		Provider:    kind,
		PhoneNumber: req.PhoneNumber,
		ExternalID:  req.ExternalID,
		AccessToken: req.AccessToken,
		BaseURL:     req.BaseURL,
		AppSecret:   req.AppSecret,
		VerifyToken: req.VerifyToken,
	})
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusCreated).JSON(toChannelResponse(ch))
}

func (h *ChannelHandler) GetChannel(c *fiber.Ctx) error {
	id, err := pathID(c, "id")
	if err != nil {
		return toHTTPError(err)
	}

	ch, err := h.service.Get(requestContext(c), tenantID(c), id)
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(toChannelResponse(ch))
}

func (h *ChannelHandler) ListChannels(c *fiber.Ctx) error {
	channels, err := h.service.List(requestContext(c), tenantID(c))
	if err != nil {
		return toHTTPError(err)
	}

	data := make([]channelResponse, 0, len(channels))
	for i := range channels {
		data = append(data, toChannelResponse(&channels[i]))
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"data": data})
}

func (h *ChannelHandler) SetChannelStatus(c *fiber.Ctx) error {
	id, err := pathID(c, "id")
	if err != nil {
		return toHTTPError(err)
	}
	var req statusRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	status := domain.ChannelStatus(strings.ToLower(strings.TrimSpace(req.Status)))
	if !status.IsValid() {
		return toHTTPError(fmt.Errorf("%w: invalid channel status %q", domain.ErrValidation, req.Status))
	}

	ch, err := h.service.SetStatus(requestContext(c), tenantID(c), id, status)
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(toChannelResponse(ch))
}

func toChannelResponse(ch *domain.Channel) channelResponse {
	return channelResponse{
		ID:                ch.ID,
		Name:              ch.Name,
		Provider:          ch.Provider.String(),
		PhoneNumber:       ch.PhoneNumber,
		ExternalID:        ch.ExternalID,
		BaseURL:           ch.BaseURL,
		Status:            ch.Status.String(),
		SignatureRequired: strings.TrimSpace(ch.AppSecret) != "",
		CreatedAt:         ch.CreatedAt,
		UpdatedAt:         ch.UpdatedAt,
	}
}
