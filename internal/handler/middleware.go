package handler

import (
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/kursadbilgin/campaign-engine/internal/domain"
	"github.com/kursadbilgin/campaign-engine/internal/observability"
)

const (
	tenantLocalKey    = "tenantId"
	requestIDLocalKey = "requestid"
)

// RequestID assigns or propagates X-Request-ID.
func RequestID() fiber.Handler {
	return requestid.New(requestid.Config{
		Header:     fiber.HeaderXRequestID,
		ContextKey: requestIDLocalKey,
	})
}

// Correlation copies the request id into the user context. It must run after
// RequestID.
func Correlation() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if id := requestCorrelationID(c); id != "" {
			c.SetUserContext(observability.WithCorrelationID(c.UserContext(), id))
		}
		return c.Next()
	}
}

// APIKeyAuth resolves the bearer key to a tenant. Unknown or missing keys
// are rejected with 401.
func APIKeyAuth(keys map[string]string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		key, ok := bearerToken(c.Get(fiber.HeaderAuthorization))
		if !ok {
			return toHTTPError(fmt.Errorf("%w: missing bearer api key", domain.ErrUnauthorized))
		}
		tenant, found := keys[key]
		if !found || strings.TrimSpace(tenant) == "" {
			return toHTTPError(fmt.Errorf("%w: unknown api key", domain.ErrUnauthorized))
		}

		c.Locals(tenantLocalKey, tenant)
		c.SetUserContext(observability.WithTenantID(c.UserContext(), tenant))
		return c.Next()
	}
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func requestCorrelationID(c *fiber.Ctx) string {
	if value, ok := c.Locals(requestIDLocalKey).(string); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return strings.TrimSpace(c.Get(fiber.HeaderXRequestID))
}
