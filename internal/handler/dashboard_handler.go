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

type DashboardService interface {
	Summary(ctx context.Context, tenantID string) (*service.DashboardSummary, error)
}

type InboxService interface {
	List(ctx context.Context, tenantID string, params repository.InboxListParams) ([]domain.InboundMessage, int64, error)
}

type DashboardHandler struct {
	dashboard DashboardService
	inbox     InboxService
}

func NewDashboardHandler(dashboard DashboardService, inbox InboxService) (*DashboardHandler, error) {
	if dashboard == nil {
		return nil, fmt.Errorf("dashboard service is required")
	}
	if inbox == nil {
		return nil, fmt.Errorf("inbox service is required")
	}
	return &DashboardHandler{dashboard: dashboard, inbox: inbox}, nil
}

func RegisterDashboardRoutes(router fiber.Router, dashboard DashboardService, inbox InboxService) error {
	h, err := NewDashboardHandler(dashboard, inbox)
	if err != nil {
		return err
	}

	router.Get("/dashboard", h.GetDashboard)
	router.Get("/inbox", h.ListInbox)

	return nil
}

type billingAlertResponse struct {
	Active    bool       `json:"active"`
	Code      string     `json:"code,omitempty"`
	Message   string     `json:"message,omitempty"`
	Since     *time.Time `json:"since,omitempty"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

type dashboardResponse struct {
	CampaignsByStatus map[string]int64     `json:"campaignsByStatus"`
	Counters          countersResponse     `json:"counters"`
	Contacts          int64                `json:"contacts"`
	Billing           billingAlertResponse `json:"billing"`
}

type inboundMessageResponse struct {
	ID                string    `json:"id"`
	ChannelID         string    `json:"channelId"`
	ProviderMessageID string    `json:"providerMessageId"`
	FromPhone         string    `json:"fromPhone"`
	ContactName       string    `json:"contactName,omitempty"`
	Type              string    `json:"type,omitempty"`
	Body              string    `json:"body"`
	ReceivedAt        time.Time `json:"receivedAt"`
}

type listInboxResponse struct {
	Data []inboundMessageResponse `json:"data"`
	Meta listMeta                 `json:"meta"`
}

func (h *DashboardHandler) GetDashboard(c *fiber.Ctx) error {
	summary, err := h.dashboard.Summary(requestContext(c), tenantID(c))
	if err != nil {
		return toHTTPError(err)
	}

	byStatus := make(map[string]int64, len(summary.CampaignsByStatus))
	for status, n := range summary.CampaignsByStatus {
		byStatus[status.String()] = n
	}

	return c.Status(fiber.StatusOK).JSON(dashboardResponse{
		CampaignsByStatus: byStatus,
		Counters:          toCountersResponse(summary.Counters),
		Contacts:          summary.Contacts,
		Billing:           toBillingAlertResponse(summary.Billing),
	})
}

func (h *DashboardHandler) ListInbox(c *fiber.Ctx) error {
	page, err := parsePagination(c)
	if err != nil {
		return toHTTPError(err)
	}

	messages, total, err := h.inbox.List(requestContext(c), tenantID(c), repository.InboxListParams{
		ChannelID: strings.TrimSpace(c.Query("channelId")),
		Page:      page.Page,
		PageSize:  page.PageSize,
	})
	if err != nil {
		return toHTTPError(err)
	}

	data := make([]inboundMessageResponse, 0, len(messages))
	for _, m := range messages {
		data = append(data, inboundMessageResponse{
			ID:                m.ID,
			ChannelID:         m.ChannelID,
			ProviderMessageID: m.ProviderMessageID,
			FromPhone:         m.FromPhone,
			ContactName:       m.ContactName,
			Type:              m.Type,
			Body:              m.Body,
			ReceivedAt:        m.ReceivedAt,
		})
	}
	return c.Status(fiber.StatusOK).JSON(listInboxResponse{Data: data, Meta: page.meta(total)})
}

func toBillingAlertResponse(alert domain.BillingAlert) billingAlertResponse {
	if !alert.Active {
		return billingAlertResponse{}
	}
	since, expires := alert.Since, alert.ExpiresAt
	return billingAlertResponse{
		Active:    true,
		Code:      alert.Code,
		Message:   alert.Message,
		Since:     &since,
		ExpiresAt: &expires,
	}
}
