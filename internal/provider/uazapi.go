package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/campaign-engine/internal/domain"
)

type UAZAPIConfig struct {
	BaseURL       string
	InstanceToken string
}

// UAZAPIProvider sends plain text through a UAZAPI instance. Templates are
// rendered before the call since the API has no template addressing.
type UAZAPIProvider struct {
	client   *resty.Client
	endpoint string
	token    string
}

func NewUAZAPIProvider(cfg UAZAPIConfig, client *resty.Client) (*UAZAPIProvider, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("uazapi base url is required")
	}
	if strings.TrimSpace(cfg.InstanceToken) == "" {
		return nil, fmt.Errorf("uazapi instance token is required")
	}

	return &UAZAPIProvider{
		client:   prepareClient(client),
		endpoint: baseURL + "/send/text",
		token:    strings.TrimSpace(cfg.InstanceToken),
	}, nil
}

func (p *UAZAPIProvider) Kind() domain.ProviderKind { return domain.ProviderUAZAPI }

type uazapiSendRequest struct {
	Number string `json:"number"`
	Text   string `json:"text"`
}

type uazapiSendResponse struct {
	ID        string `json:"id"`
	MessageID string `json:"messageid"`
	Error     string `json:"error"`
	Message   string `json:"message"`
}

func (p *UAZAPIProvider) Send(ctx context.Context, req SendRequest) (*SendResponse, error) {
	if p == nil || p.client == nil {
		return nil, fmt.Errorf("provider is not initialized")
	}
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid send request: %w", err)
	}
	if strings.TrimSpace(req.Body) == "" {
		return nil, fmt.Errorf("invalid send request: %w: uazapi requires a rendered body", domain.ErrValidation)
	}

	statusCode, body, err := postJSON(ctx, p.client.R().SetHeader("token", p.token), p.endpoint, uazapiSendRequest{
		Number: req.To,
		Text:   req.Body,
	})
	if err != nil {
		return nil, err
	}

	var decoded uazapiSendResponse
	decodeErr := json.Unmarshal([]byte(body), &decoded)

	if isSuccessStatus(statusCode) {
		id := firstNonEmpty(decoded.MessageID, decoded.ID)
		if decodeErr != nil || id == "" {
			return nil, malformedResponse(p.endpoint, statusCode, body, decodeErr)
		}
		return &SendResponse{StatusCode: statusCode, Body: body, MessageID: id, Endpoint: p.endpoint}, nil
	}

	message := providerErrorMessage(statusCode, body)
	if decodeErr == nil {
		if m := firstNonEmpty(decoded.Error, decoded.Message); m != "" {
			message = m
		}
	}
	kind, transient := classifyHTTP(statusCode, message)

	return nil, &ProviderError{
		StatusCode: statusCode,
		Kind:       kind,
		Message:    message,
		Transient:  transient,
		Endpoint:   p.endpoint,
		RawBody:    body,
	}
}

// UAZAPIReceiptParser decodes instance webhooks of type messages and
// messages_update.
type UAZAPIReceiptParser struct{}

type uazapiWebhook struct {
	EventType string `json:"EventType"`
	Message   struct {
		MessageID        string          `json:"messageid"`
		ChatID           string          `json:"chatid"`
		Sender           string          `json:"sender"`
		SenderName       string          `json:"senderName"`
		Text             string          `json:"text"`
		FromMe           bool            `json:"fromMe"`
		MessageType      string          `json:"messageType"`
		MessageTimestamp json.RawMessage `json:"messageTimestamp"`
	} `json:"message"`
	Event struct {
		Type       string          `json:"Type"`
		MessageIDs []string        `json:"MessageIDs"`
		Chat       string          `json:"Chat"`
		Timestamp  json.RawMessage `json:"Timestamp"`
	} `json:"event"`
}

func (UAZAPIReceiptParser) ParseReceipts(body []byte) (*Receipts, error) {
	var payload uazapiWebhook
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("%w: invalid uazapi webhook payload: %v", domain.ErrValidation, err)
	}

	out := &Receipts{}
	switch strings.ToLower(strings.TrimSpace(payload.EventType)) {
	case "messages_update":
		status, ok := uazapiStatus(payload.Event.Type)
		if !ok {
			return out, nil
		}
		at := parseFlexibleTime(payload.Event.Timestamp)
		for _, id := range payload.Event.MessageIDs {
			if strings.TrimSpace(id) == "" {
				continue
			}
			out.Statuses = append(out.Statuses, domain.StatusEvent{
				ProviderMessageID: id,
				Status:            status,
				At:                at,
				RecipientPhone:    jidToPhone(payload.Event.Chat),
			})
		}
	case "messages":
		msg := payload.Message
		if msg.FromMe || strings.TrimSpace(msg.MessageID) == "" {
			return out, nil
		}
		out.Messages = append(out.Messages, domain.InboundMessage{
			ProviderMessageID: msg.MessageID,
			FromPhone:         jidToPhone(firstNonEmpty(msg.Sender, msg.ChatID)),
			ContactName:       msg.SenderName,
			Type:              msg.MessageType,
			Body:              msg.Text,
			ReceivedAt:        parseFlexibleTime(msg.MessageTimestamp),
		})
	}

	return out, nil
}

func uazapiStatus(s string) (domain.RecipientStatus, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sent", "serverack":
		return domain.RecipientStatusSent, true
	case "delivered", "deliveryack":
		return domain.RecipientStatusDelivered, true
	case "read", "played":
		return domain.RecipientStatusRead, true
	case "failed", "error":
		return domain.RecipientStatusFailed, true
	}
	return "", false
}

func jidToPhone(jid string) string {
	phone, _, _ := strings.Cut(strings.TrimSpace(jid), "@")
	return phone
}

// parseFlexibleTime accepts unix seconds, unix milliseconds or RFC3339.
func parseFlexibleTime(raw json.RawMessage) time.Time {
	s := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	if s == "" {
		return time.Now().UTC()
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil && n > 0 {
		if n > 1e12 {
			return time.UnixMilli(n).UTC()
		}
		return time.Unix(n, 0).UTC()
	}
	return parseRFC3339(s)
}
