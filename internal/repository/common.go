package repository

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/kursadbilgin/campaign-engine/internal/domain"
	"gorm.io/gorm"
)

const (
	defaultPageSize = 50
	maxPageSize     = 100

	pgUniqueViolation = "23505"
)

func normalizePage(page, pageSize int) (int, int) {
	page = max(page, 1)
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	return page, min(pageSize, maxPageSize)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.ErrNotFound
	}
	return err
}

// counterColumn is the campaigns column holding the bucket for status.
// Queued has no column; it is derived from the total.
func counterColumn(status domain.RecipientStatus) string {
	switch status {
	case domain.RecipientStatusSent:
		return "sent_count"
	case domain.RecipientStatusDelivered:
		return "delivered_count"
	case domain.RecipientStatusRead:
		return "read_count"
	case domain.RecipientStatusFailed:
		return "failed_count"
	case domain.RecipientStatusSkipped:
		return "skipped_count"
	}
	return ""
}
