package handler

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/campaign-engine/internal/domain"
	"github.com/kursadbilgin/campaign-engine/internal/service"
)

const metaSignatureHeader = "X-Hub-Signature-256"

type WebhookService interface {
	VerifyMeta(ctx context.Context, channelID, mode, token, challenge string) (string, error)
	Ingest(ctx context.Context, kind domain.ProviderKind, channelID string, body []byte, signature string) (*service.WebhookSummary, error)
}

type WebhookHandler struct {
	service WebhookService
}

func NewWebhookHandler(service WebhookService) (*WebhookHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("webhook service is required")
	}
	return &WebhookHandler{service: service}, nil
}

// RegisterWebhookRoutes mounts the provider callbacks. They sit outside the
// API key group; Meta deliveries are authenticated by signature instead.
func RegisterWebhookRoutes(router fiber.Router, service WebhookService) error {
	h, err := NewWebhookHandler(service)
	if err != nil {
		return err
	}

	webhooks := router.Group("/webhooks")
	webhooks.Get("/meta/:channelId", h.VerifyMeta)
	webhooks.Post("/:provider/:channelId", h.Receive)

	return nil
}

func (h *WebhookHandler) VerifyMeta(c *fiber.Ctx) error {
	channelID, err := pathID(c, "channelId")
	if err != nil {
		return toHTTPError(err)
	}

	challenge, err := h.service.VerifyMeta(
		requestContext(c),
		channelID,
		c.Query("hub.mode"),
		c.Query("hub.verify_token"),
		c.Query("hub.challenge"),
	)
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).SendString(challenge)
}

// Receive answers 200 with the summary whenever the delivery itself was
// accepted, so providers do not redeliver for per-event failures.
func (h *WebhookHandler) Receive(c *fiber.Ctx) error {
	channelID, err := pathID(c, "channelId")
	if err != nil {
		return toHTTPError(err)
	}
	kind := domain.ProviderKind(strings.ToLower(strings.TrimSpace(c.Params("provider"))))

	body := bytes.Clone(c.Body())
	summary, err := h.service.Ingest(requestContext(c), kind, channelID, body, c.Get(metaSignatureHeader))
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(summary)
}
