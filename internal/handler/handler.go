package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/campaign-engine/internal/domain"
)

const (
	defaultPage     = 1
	defaultPageSize = 50
	maxPageSize     = 100
)

type listMeta struct {
	Page     int   `json:"page"`
	PageSize int   `json:"pageSize"`
	Total    int64 `json:"total"`
}

type pagination struct {
	Page     int
	PageSize int
}

func parsePagination(c *fiber.Ctx) (pagination, error) {
	p := pagination{
		Page:     c.QueryInt("page", defaultPage),
		PageSize: c.QueryInt("pageSize", defaultPageSize),
	}
	if p.Page < 1 {
		return pagination{}, fmt.Errorf("%w: page must be >= 1", domain.ErrValidation)
	}
	if p.PageSize < 1 || p.PageSize > maxPageSize {
		return pagination{}, fmt.Errorf("%w: pageSize must be between 1 and %d", domain.ErrValidation, maxPageSize)
	}
	return p, nil
}

func (p pagination) meta(total int64) listMeta {
	return listMeta{Page: p.Page, PageSize: p.PageSize, Total: total}
}

// requestContext returns the request-scoped context carrying the correlation
// id and tenant set by the middleware chain.
func requestContext(c *fiber.Ctx) context.Context {
	return c.UserContext()
}

func tenantID(c *fiber.Ctx) string {
	if v, ok := c.Locals(tenantLocalKey).(string); ok {
		return v
	}
	return ""
}

func pathID(c *fiber.Ctx, name string) (string, error) {
	id := strings.TrimSpace(c.Params(name))
	if id == "" {
		return "", fmt.Errorf("%w: %s is required", domain.ErrValidation, name)
	}
	return id, nil
}

func parseBody(c *fiber.Ctx, out any) error {
	if err := c.BodyParser(out); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	return nil
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrUnauthorized):
		return fiber.NewError(fiber.StatusUnauthorized, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrConflict):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrLocked):
		return fiber.NewError(fiber.StatusLocked, err.Error())
	default:
		return err
	}
}
