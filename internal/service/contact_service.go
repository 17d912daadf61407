package service

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/campaign-engine/internal/domain"
	"github.com/kursadbilgin/campaign-engine/internal/observability"
	"github.com/kursadbilgin/campaign-engine/internal/repository"
	"go.uber.org/zap"
)

const maxImportRows = 50000

type ContactService struct {
	contacts repository.ContactRepository
	logger   *zap.Logger
	now      func() time.Time
}

// ImportRowError describes a rejected CSV row.
type ImportRowError struct {
	Line  int
	Error string
}

// ImportResult summarizes a contact import.
type ImportResult struct {
	Created    int
	Duplicates int
	Invalid    []ImportRowError
}

func NewContactService(contacts repository.ContactRepository, logger *zap.Logger) (*ContactService, error) {
	if contacts == nil {
		return nil, fmt.Errorf("contact repository is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ContactService{contacts: contacts, logger: logger, now: time.Now}, nil
}

// Create stores a contact. Creating a phone the tenant already has returns
// the existing contact.
func (s *ContactService) Create(ctx context.Context, tenantID, phone, name string, attributes map[string]string) (*domain.Contact, error) {
	now := s.now().UTC()
	contact := &domain.Contact{
		ID:         uuid.NewString(),
		TenantID:   tenantID,
		Phone:      phone,
		Name:       name,
		Attributes: normalizeVariables(attributes),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := contact.Validate(); err != nil {
		return nil, err
	}

	if err := s.contacts.Create(ctx, contact); err != nil {
		if !errors.Is(err, domain.ErrConflict) {
			return nil, err
		}
		existing, getErr := s.contacts.GetByPhone(ctx, tenantID, contact.Phone)
		if getErr != nil {
			return nil, fmt.Errorf("failed to load existing contact: %w", getErr)
		}
		return existing, nil
	}
	return contact, nil
}

// Import reads a CSV with a header row containing phone, optionally name, and
// any further columns as attributes. Invalid rows are reported by line and
// do not stop the import.
func (s *ContactService) Import(ctx context.Context, tenantID string, r io.Reader) (*ImportResult, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: csv is empty", domain.ErrValidation)
		}
		return nil, fmt.Errorf("%w: invalid csv header: %v", domain.ErrValidation, err)
	}

	phoneCol, nameCol := -1, -1
	columns := make([]string, len(header))
	for i, col := range header {
		key := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(col, "\ufeff")))
		columns[i] = key
		switch key {
		case "phone":
			phoneCol = i
		case "name":
			nameCol = i
		}
	}
	if phoneCol < 0 {
		return nil, fmt.Errorf("%w: csv header must contain a phone column", domain.ErrValidation)
	}

	result := &ImportResult{}
	now := s.now().UTC()
	seen := make(map[string]struct{})
	var batch []*domain.Contact

	for rows := 0; ; rows++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var parseErr *csv.ParseError
			if !errors.As(err, &parseErr) {
				return nil, fmt.Errorf("failed to read csv: %w", err)
			}
			result.Invalid = append(result.Invalid, ImportRowError{Line: parseErr.Line, Error: parseErr.Err.Error()})
			continue
		}
		line, _ := reader.FieldPos(0)
		if rows >= maxImportRows {
			return nil, fmt.Errorf("%w: csv exceeds %d rows", domain.ErrValidation, maxImportRows)
		}
		if isBlankRecord(record) {
			continue
		}

		contact := &domain.Contact{
			ID:        uuid.NewString(),
			TenantID:  tenantID,
			CreatedAt: now,
			UpdatedAt: now,
		}
		attributes := make(map[string]string)
		for i, value := range record {
			if i >= len(columns) {
				break
			}
			value = strings.TrimSpace(value)
			switch i {
			case phoneCol:
				contact.Phone = value
			case nameCol:
				contact.Name = value
			default:
				if columns[i] != "" && value != "" {
					attributes[columns[i]] = value
				}
			}
		}
		if len(attributes) > 0 {
			contact.Attributes = attributes
		}

		if err := contact.Validate(); err != nil {
			result.Invalid = append(result.Invalid, ImportRowError{
				Line:  line,
				Error: strings.TrimPrefix(err.Error(), domain.ErrValidation.Error()+": "),
			})
			continue
		}
		if _, dup := seen[contact.Phone]; dup {
			result.Duplicates++
			continue
		}
		seen[contact.Phone] = struct{}{}
		batch = append(batch, contact)
	}

	created, err := s.contacts.InsertMany(ctx, batch)
	if err != nil {
		return nil, fmt.Errorf("failed to store contacts: %w", err)
	}
	result.Created = int(created)
	result.Duplicates += len(batch) - int(created)

	observability.WithContextLogger(s.logger, ctx).Info("contacts imported",
		zap.Int("created", result.Created),
		zap.Int("duplicates", result.Duplicates),
		zap.Int("invalid", len(result.Invalid)),
	)
	return result, nil
}

func (s *ContactService) Get(ctx context.Context, tenantID, id string) (*domain.Contact, error) {
	return s.contacts.GetByID(ctx, tenantID, id)
}

func (s *ContactService) List(ctx context.Context, tenantID string, params repository.ContactListParams) ([]domain.Contact, int64, error) {
	return s.contacts.List(ctx, tenantID, params)
}

func (s *ContactService) Delete(ctx context.Context, tenantID, id string) error {
	return s.contacts.Delete(ctx, tenantID, id)
}

func isBlankRecord(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
