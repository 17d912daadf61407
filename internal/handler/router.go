package handler

import (
	"fmt"

	"github.com/gofiber/fiber/v2"
)

// Services bundles everything the HTTP API exposes.
type Services struct {
	Campaigns CampaignService
	Contacts  ContactService
	Templates TemplateService
	Channels  ChannelService
	Webhooks  WebhookService
	Dashboard DashboardService
	Inbox     InboxService
}

// RegisterRoutes mounts the webhook callbacks and the tenant API under /v1.
// apiKeys maps bearer keys to tenant ids.
func RegisterRoutes(router fiber.Router, apiKeys map[string]string, services Services) error {
	if len(apiKeys) == 0 {
		return fmt.Errorf("at least one tenant api key is required")
	}

	if err := RegisterWebhookRoutes(router, services.Webhooks); err != nil {
		return err
	}

	v1 := router.Group("/v1", APIKeyAuth(apiKeys))
	if err := RegisterCampaignRoutes(v1, services.Campaigns); err != nil {
		return err
	}
	if err := RegisterContactRoutes(v1, services.Contacts); err != nil {
		return err
	}
	if err := RegisterTemplateRoutes(v1, services.Templates); err != nil {
		return err
	}
	if err := RegisterChannelRoutes(v1, services.Channels); err != nil {
		return err
	}
	return RegisterDashboardRoutes(v1, services.Dashboard, services.Inbox)
}
