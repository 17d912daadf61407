package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/kursadbilgin/campaign-engine/internal/domain"
)

// Provider is the outbound WhatsApp send port. Implementations never retry.
type Provider interface {
	Kind() domain.ProviderKind
	Send(ctx context.Context, req SendRequest) (*SendResponse, error)
}

// ReceiptParser decodes a provider webhook body into status receipts and
// inbound messages. Unknown event shapes are skipped, not rejected.
type ReceiptParser interface {
	ParseReceipts(body []byte) (*Receipts, error)
}

// SendRequest is one message to one destination. Template sends carry the
// ordered Variables; Body holds the rendered text for providers that cannot
// address templates, or the free text of a session message.
type SendRequest struct {
	To           string
	TemplateName string
	Language     string
	Variables    []string
	Body         string
}

func (r SendRequest) Validate() error {
	if strings.TrimSpace(r.To) == "" {
		return fmt.Errorf("%w: destination is required", domain.ErrValidation)
	}
	if strings.TrimSpace(r.TemplateName) == "" && strings.TrimSpace(r.Body) == "" {
		return fmt.Errorf("%w: template or body is required", domain.ErrValidation)
	}
	return nil
}

// SendResponse stores provider call metadata for audit and persistence.
type SendResponse struct {
	StatusCode int
	Body       string
	MessageID  string
	Endpoint   string
}

type Receipts struct {
	Statuses []domain.StatusEvent
	Messages []domain.InboundMessage
}
