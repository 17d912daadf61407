package handler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/campaign-engine/internal/domain"
	"github.com/kursadbilgin/campaign-engine/internal/repository"
	"github.com/kursadbilgin/campaign-engine/internal/service"
)

type CampaignService interface {
	Create(ctx context.Context, in service.CreateCampaignInput) (*domain.Campaign, error)
	Get(ctx context.Context, tenantID, id string) (*domain.Campaign, error)
	List(ctx context.Context, tenantID string, params repository.CampaignListParams) ([]domain.Campaign, int64, error)
	Start(ctx context.Context, tenantID, id string) (*domain.Campaign, error)
	Pause(ctx context.Context, tenantID, id string) (*domain.Campaign, error)
	Resume(ctx context.Context, tenantID, id string) (*domain.Campaign, error)
	Cancel(ctx context.Context, tenantID, id string) (*domain.Campaign, int64, error)
	Retry(ctx context.Context, tenantID, id string) (int, error)
	Delete(ctx context.Context, tenantID, id string) error
	Stats(ctx context.Context, tenantID, id string) (*service.CampaignStats, error)
	Reconcile(ctx context.Context, tenantID, id string) (*service.CampaignStats, error)
	Recipients(ctx context.Context, tenantID, campaignID string, params repository.RecipientListParams) ([]domain.Recipient, int64, error)
	Attempts(ctx context.Context, tenantID, recipientID string) ([]domain.SendAttempt, error)
}

type CampaignHandler struct {
	service CampaignService
}

func NewCampaignHandler(service CampaignService) (*CampaignHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("campaign service is required")
	}
	return &CampaignHandler{service: service}, nil
}

func RegisterCampaignRoutes(router fiber.Router, service CampaignService) error {
	h, err := NewCampaignHandler(service)
	if err != nil {
		return err
	}

	router.Post("/campaigns", h.CreateCampaign)
	router.Get("/campaigns", h.ListCampaigns)
	router.Get("/campaigns/:id", h.GetCampaign)
	router.Delete("/campaigns/:id", h.DeleteCampaign)
	router.Post("/campaigns/:id/start", h.StartCampaign)
	router.Post("/campaigns/:id/pause", h.PauseCampaign)
	router.Post("/campaigns/:id/resume", h.ResumeCampaign)
	router.Post("/campaigns/:id/cancel", h.CancelCampaign)
	router.Post("/campaigns/:id/retry", h.RetryCampaign)
	router.Get("/campaigns/:id/stats", h.CampaignStats)
	router.Post("/campaigns/:id/reconcile", h.ReconcileCampaign)
	router.Get("/campaigns/:id/recipients", h.ListRecipients)
	router.Get("/recipients/:id/attempts", h.ListAttempts)

	return nil
}

type createCampaignRequest struct {
	Name        string            `json:"name"`
	TemplateID  string            `json:"templateId"`
	ChannelID   string            `json:"channelId"`
	ContactIDs  []string          `json:"contactIds"`
	Variables   map[string]string `json:"variables"`
	ScheduledAt *time.Time        `json:"scheduledAt"`
}

type countersResponse struct {
	Total     int `json:"total"`
	Queued    int `json:"queued"`
	Sent      int `json:"sent"`
	Delivered int `json:"delivered"`
	Read      int `json:"read"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

type campaignResponse struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	TemplateID  string            `json:"templateId"`
	ChannelID   string            `json:"channelId"`
	Variables   map[string]string `json:"variables,omitempty"`
	Status      string            `json:"status"`
	Counters    countersResponse  `json:"counters"`
	ScheduledAt *time.Time        `json:"scheduledAt,omitempty"`
	StartedAt   *time.Time        `json:"startedAt,omitempty"`
	PausedAt    *time.Time        `json:"pausedAt,omitempty"`
	CompletedAt *time.Time        `json:"completedAt,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
	UpdatedAt   time.Time         `json:"updatedAt"`
}

type listCampaignsResponse struct {
	Data []campaignResponse `json:"data"`
	Meta listMeta           `json:"meta"`
}

type cancelCampaignResponse struct {
	Campaign campaignResponse `json:"campaign"`
	Skipped  int64            `json:"skipped"`
}

type retryCampaignResponse struct {
	CampaignID string `json:"campaignId"`
	Requeued   int    `json:"requeued"`
}

type campaignStatsResponse struct {
	CampaignID string           `json:"campaignId"`
	Status     string           `json:"status"`
	Counters   countersResponse `json:"counters"`
	Complete   bool             `json:"complete"`
}

type recipientResponse struct {
	ID                string     `json:"id"`
	ContactID         string     `json:"contactId"`
	Phone             string     `json:"phone"`
	Status            string     `json:"status"`
	ProviderMessageID *string    `json:"providerMessageId,omitempty"`
	ErrorCode         *string    `json:"errorCode,omitempty"`
	LastError         *string    `json:"lastError,omitempty"`
	AttemptCount      int        `json:"attemptCount"`
	SentAt            *time.Time `json:"sentAt,omitempty"`
	DeliveredAt       *time.Time `json:"deliveredAt,omitempty"`
	ReadAt            *time.Time `json:"readAt,omitempty"`
	FailedAt          *time.Time `json:"failedAt,omitempty"`
	UpdatedAt         time.Time  `json:"updatedAt"`
}

type listRecipientsResponse struct {
	Data []recipientResponse `json:"data"`
	Meta listMeta            `json:"meta"`
}

type attemptResponse struct {
	AttemptNumber     int       `json:"attemptNumber"`
	Provider          string    `json:"provider"`
	Endpoint          string    `json:"endpoint"`
	StatusCode        *int      `json:"statusCode,omitempty"`
	ResponseBody      *string   `json:"responseBody,omitempty"`
	ProviderMessageID *string   `json:"providerMessageId,omitempty"`
	ErrorCode         *string   `json:"errorCode,omitempty"`
	Error             *string   `json:"error,omitempty"`
	DurationMs        int64     `json:"durationMs"`
	CreatedAt         time.Time `json:"createdAt"`
}

func (h *CampaignHandler) CreateCampaign(c *fiber.Ctx) error {
	var req createCampaignRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	created, err := h.service.Create(requestContext(c), service.CreateCampaignInput{
		TenantID:    tenantID(c),
		Name:        req.Name,
		TemplateID:  req.TemplateID,
		ChannelID:   req.ChannelID,
		ContactIDs:  req.ContactIDs,
		Variables:   req.Variables,
		ScheduledAt: req.ScheduledAt,
	})
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusCreated).JSON(toCampaignResponse(created))
}

func (h *CampaignHandler) GetCampaign(c *fiber.Ctx) error {
	id, err := pathID(c, "id")
	if err != nil {
		return toHTTPError(err)
	}

	campaign, err := h.service.Get(requestContext(c), tenantID(c), id)
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(toCampaignResponse(campaign))
}

func (h *CampaignHandler) ListCampaigns(c *fiber.Ctx) error {
	page, err := parsePagination(c)
	if err != nil {
		return toHTTPError(err)
	}

	params := repository.CampaignListParams{Page: page.Page, PageSize: page.PageSize}
	if raw := strings.TrimSpace(c.Query("status")); raw != "" {
		status, err := domain.ParseCampaignStatusFromString(raw)
		if err != nil {
			return toHTTPError(err)
		}
		params.Status = &status
	}

	campaigns, total, err := h.service.List(requestContext(c), tenantID(c), params)
	if err != nil {
		return toHTTPError(err)
	}

	data := make([]campaignResponse, 0, len(campaigns))
	for i := range campaigns {
		data = append(data, toCampaignResponse(&campaigns[i]))
	}
	return c.Status(fiber.StatusOK).JSON(listCampaignsResponse{Data: data, Meta: page.meta(total)})
}

func (h *CampaignHandler) DeleteCampaign(c *fiber.Ctx) error {
	id, err := pathID(c, "id")
	if err != nil {
		return toHTTPError(err)
	}
	if err := h.service.Delete(requestContext(c), tenantID(c), id); err != nil {
		return toHTTPError(err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *CampaignHandler) StartCampaign(c *fiber.Ctx) error {
	return h.transition(c, h.service.Start)
}

func (h *CampaignHandler) PauseCampaign(c *fiber.Ctx) error {
	return h.transition(c, h.service.Pause)
}

func (h *CampaignHandler) ResumeCampaign(c *fiber.Ctx) error {
	return h.transition(c, h.service.Resume)
}

func (h *CampaignHandler) transition(
	c *fiber.Ctx,
	action func(ctx context.Context, tenantID, id string) (*domain.Campaign, error),
) error {
	id, err := pathID(c, "id")
	if err != nil {
		return toHTTPError(err)
	}

	campaign, err := action(requestContext(c), tenantID(c), id)
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusAccepted).JSON(toCampaignResponse(campaign))
}

func (h *CampaignHandler) CancelCampaign(c *fiber.Ctx) error {
	id, err := pathID(c, "id")
	if err != nil {
		return toHTTPError(err)
	}

	campaign, skipped, err := h.service.Cancel(requestContext(c), tenantID(c), id)
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(cancelCampaignResponse{
		Campaign: toCampaignResponse(campaign),
		Skipped:  skipped,
	})
}

func (h *CampaignHandler) RetryCampaign(c *fiber.Ctx) error {
	id, err := pathID(c, "id")
	if err != nil {
		return toHTTPError(err)
	}

	n, err := h.service.Retry(requestContext(c), tenantID(c), id)
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusAccepted).JSON(retryCampaignResponse{CampaignID: id, Requeued: n})
}

func (h *CampaignHandler) CampaignStats(c *fiber.Ctx) error {
	return h.stats(c, h.service.Stats)
}

func (h *CampaignHandler) ReconcileCampaign(c *fiber.Ctx) error {
	return h.stats(c, h.service.Reconcile)
}

func (h *CampaignHandler) stats(
	c *fiber.Ctx,
	load func(ctx context.Context, tenantID, id string) (*service.CampaignStats, error),
) error {
	id, err := pathID(c, "id")
	if err != nil {
		return toHTTPError(err)
	}

	stats, err := load(requestContext(c), tenantID(c), id)
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(campaignStatsResponse{
		CampaignID: stats.Campaign.ID,
		Status:     stats.Campaign.Status.String(),
		Counters:   toCountersResponse(stats.Campaign.Counters),
		Complete:   stats.Complete,
	})
}

func (h *CampaignHandler) ListRecipients(c *fiber.Ctx) error {
	id, err := pathID(c, "id")
	if err != nil {
		return toHTTPError(err)
	}
	page, err := parsePagination(c)
	if err != nil {
		return toHTTPError(err)
	}

	params := repository.RecipientListParams{Page: page.Page, PageSize: page.PageSize}
	if raw := strings.TrimSpace(c.Query("status")); raw != "" {
		status, err := domain.ParseRecipientStatusFromString(raw)
		if err != nil {
			return toHTTPError(err)
		}
		params.Status = &status
	}

	recipients, total, err := h.service.Recipients(requestContext(c), tenantID(c), id, params)
	if err != nil {
		return toHTTPError(err)
	}

	data := make([]recipientResponse, 0, len(recipients))
	for _, r := range recipients {
		data = append(data, recipientResponse{
			ID:                r.ID,
			ContactID:         r.ContactID,
			Phone:             r.Phone,
			Status:            r.Status.String(),
			ProviderMessageID: r.ProviderMessageID,
			ErrorCode:         r.ErrorCode,
			LastError:         r.LastError,
			AttemptCount:      r.AttemptCount,
			SentAt:            r.SentAt,
			DeliveredAt:       r.DeliveredAt,
			ReadAt:            r.ReadAt,
			FailedAt:          r.FailedAt,
			UpdatedAt:         r.UpdatedAt,
		})
	}
	return c.Status(fiber.StatusOK).JSON(listRecipientsResponse{Data: data, Meta: page.meta(total)})
}

func (h *CampaignHandler) ListAttempts(c *fiber.Ctx) error {
	id, err := pathID(c, "id")
	if err != nil {
		return toHTTPError(err)
	}

	attempts, err := h.service.Attempts(requestContext(c), tenantID(c), id)
	if err != nil {
		return toHTTPError(err)
	}

	data := make([]attemptResponse, 0, len(attempts))
	for _, a := range attempts {
		data = append(data, attemptResponse{
			AttemptNumber:     a.AttemptNumber,
			Provider:          a.Provider.String(),
			Endpoint:          a.Endpoint,
			StatusCode:        a.StatusCode,
			ResponseBody:      a.ResponseBody,
			ProviderMessageID: a.ProviderMessageID,
			ErrorCode:         a.ErrorCode,
			Error:             a.Error,
			DurationMs:        a.Duration.Milliseconds(),
			CreatedAt:         a.CreatedAt,
		})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"data": data})
}

func toCampaignResponse(c *domain.Campaign) campaignResponse {
	return campaignResponse{
		ID:          c.ID,
		Name:        c.Name,
		TemplateID:  c.TemplateID,
		ChannelID:   c.ChannelID,
		Variables:   c.Variables,
		Status:      c.Status.String(),
		Counters:    toCountersResponse(c.Counters),
		ScheduledAt: c.ScheduledAt,
		StartedAt:   c.StartedAt,
		PausedAt:    c.PausedAt,
		CompletedAt: c.CompletedAt,
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   c.UpdatedAt,
	}
}

func toCountersResponse(c domain.CampaignCounters) countersResponse {
	return countersResponse{
		Total:     c.Total,
		Queued:    c.Queued(),
		Sent:      c.Sent,
		Delivered: c.Delivered,
		Read:      c.Read,
		Failed:    c.Failed,
		Skipped:   c.Skipped,
	}
}
