package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/campaign-engine/internal/domain"
)

const DefaultNotificaMeBaseURL = "https://api.notificame.com.br"

type NotificaMeConfig struct {
	BaseURL   string
	ChannelID string
	APIToken  string
}

// NotificaMeProvider sends through the NotificaMe hub.
type NotificaMeProvider struct {
	client    *resty.Client
	endpoint  string
	channelID string
	token     string
}

func NewNotificaMeProvider(cfg NotificaMeConfig, client *resty.Client) (*NotificaMeProvider, error) {
	if strings.TrimSpace(cfg.ChannelID) == "" {
		return nil, fmt.Errorf("notificame channel id is required")
	}
	if strings.TrimSpace(cfg.APIToken) == "" {
		return nil, fmt.Errorf("notificame api token is required")
	}

	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultNotificaMeBaseURL
	}

	return &NotificaMeProvider{
		client:    prepareClient(client),
		endpoint:  baseURL + "/v1/channels/whatsapp/messages",
		channelID: strings.TrimSpace(cfg.ChannelID),
		token:     strings.TrimSpace(cfg.APIToken),
	}, nil
}

func (p *NotificaMeProvider) Kind() domain.ProviderKind { return domain.ProviderNotificaMe }

type notificaMeContent struct {
	Type       string            `json:"type"`
	Text       string            `json:"text,omitempty"`
	TemplateID string            `json:"templateId,omitempty"`
	Language   string            `json:"language,omitempty"`
	Fields     map[string]string `json:"fields,omitempty"`
}

type notificaMeMessageRequest struct {
	From     string              `json:"from"`
	To       string              `json:"to"`
	Contents []notificaMeContent `json:"contents"`
}

type notificaMeResponse struct {
	ID        string `json:"id"`
	MessageID string `json:"messageId"`
	Code      any    `json:"code"`
	Message   string `json:"message"`
	Error     string `json:"error"`
}

func buildNotificaMeRequest(channelID string, req SendRequest) notificaMeMessageRequest {
	content := notificaMeContent{Type: "text", Text: req.Body}
	if strings.TrimSpace(req.TemplateName) != "" {
		fields := make(map[string]string, len(req.Variables))
		for i, v := range req.Variables {
			fields[strconv.Itoa(i+1)] = v
		}
		content = notificaMeContent{
			Type:       "template",
			TemplateID: req.TemplateName,
			Language:   req.Language,
			Fields:     fields,
		}
	}

	return notificaMeMessageRequest{
		From:     channelID,
		To:       req.To,
		Contents: []notificaMeContent{content},
	}
}

func (p *NotificaMeProvider) Send(ctx context.Context, req SendRequest) (*SendResponse, error) {
	if p == nil || p.client == nil {
		return nil, fmt.Errorf("provider is not initialized")
	}
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid send request: %w", err)
	}

	statusCode, body, err := postJSON(ctx, p.client.R().SetHeader("X-API-Token", p.token), p.endpoint, buildNotificaMeRequest(p.channelID, req))
	if err != nil {
		return nil, err
	}

	var decoded notificaMeResponse
	decodeErr := json.Unmarshal([]byte(body), &decoded)

	if isSuccessStatus(statusCode) {
		id := firstNonEmpty(decoded.ID, decoded.MessageID)
		if decodeErr != nil || id == "" {
			return nil, malformedResponse(p.endpoint, statusCode, body, decodeErr)
		}
		return &SendResponse{StatusCode: statusCode, Body: body, MessageID: id, Endpoint: p.endpoint}, nil
	}

	message := providerErrorMessage(statusCode, body)
	code := ""
	if decodeErr == nil {
		if m := firstNonEmpty(decoded.Message, decoded.Error); m != "" {
			message = m
		}
		if decoded.Code != nil {
			code = strings.TrimSpace(fmt.Sprint(decoded.Code))
		}
	}
	kind, transient := classifyHTTP(statusCode, message)

	return nil, &ProviderError{
		StatusCode: statusCode,
		Code:       code,
		Kind:       kind,
		Message:    message,
		Transient:  transient,
		Endpoint:   p.endpoint,
		RawBody:    body,
	}
}

// NotificaMeReceiptParser accepts a single hub event or an array of them.
type NotificaMeReceiptParser struct{}

type notificaMeEvent struct {
	Type          string `json:"type"`
	Timestamp     string `json:"timestamp"`
	MessageID     string `json:"messageId"`
	MessageStatus struct {
		Code        string `json:"code"`
		Description string `json:"description"`
		Timestamp   string `json:"timestamp"`
		Error       struct {
			Code    any    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	} `json:"messageStatus"`
	Message struct {
		ID        string `json:"id"`
		From      string `json:"from"`
		Direction string `json:"direction"`
		Visitor   struct {
			Name string `json:"name"`
		} `json:"visitor"`
		Contents []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"contents"`
		Timestamp string `json:"timestamp"`
	} `json:"message"`
}

func (NotificaMeReceiptParser) ParseReceipts(body []byte) (*Receipts, error) {
	var events []notificaMeEvent
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &events); err != nil {
			return nil, fmt.Errorf("%w: invalid notificame webhook payload: %v", domain.ErrValidation, err)
		}
	} else {
		var single notificaMeEvent
		if err := json.Unmarshal(trimmed, &single); err != nil {
			return nil, fmt.Errorf("%w: invalid notificame webhook payload: %v", domain.ErrValidation, err)
		}
		events = append(events, single)
	}

	out := &Receipts{}
	for _, ev := range events {
		switch strings.ToUpper(strings.TrimSpace(ev.Type)) {
		case "MESSAGE_STATUS":
			status, ok := notificaMeStatus(ev.MessageStatus.Code)
			if !ok || strings.TrimSpace(ev.MessageID) == "" {
				continue
			}
			event := domain.StatusEvent{
				ProviderMessageID: ev.MessageID,
				Status:            status,
				At:                parseRFC3339(firstNonEmpty(ev.MessageStatus.Timestamp, ev.Timestamp)),
			}
			if status == domain.RecipientStatusFailed {
				if ev.MessageStatus.Error.Code != nil {
					event.ErrorCode = fmt.Sprint(ev.MessageStatus.Error.Code)
				}
				event.ErrorText = firstNonEmpty(ev.MessageStatus.Error.Message, ev.MessageStatus.Description)
			}
			out.Statuses = append(out.Statuses, event)
		case "MESSAGE":
			msg := ev.Message
			if strings.TrimSpace(msg.ID) == "" || strings.EqualFold(msg.Direction, "OUT") {
				continue
			}
			inbound := domain.InboundMessage{
				ProviderMessageID: msg.ID,
				FromPhone:         msg.From,
				ContactName:       msg.Visitor.Name,
				ReceivedAt:        parseRFC3339(firstNonEmpty(msg.Timestamp, ev.Timestamp)),
			}
			if len(msg.Contents) > 0 {
				inbound.Type = msg.Contents[0].Type
				inbound.Body = msg.Contents[0].Text
			}
			out.Messages = append(out.Messages, inbound)
		}
	}

	return out, nil
}

func notificaMeStatus(code string) (domain.RecipientStatus, bool) {
	switch strings.ToUpper(strings.TrimSpace(code)) {
	case "SENT":
		return domain.RecipientStatusSent, true
	case "DELIVERED":
		return domain.RecipientStatusDelivered, true
	case "READ":
		return domain.RecipientStatusRead, true
	case "REJECTED", "NOT_DELIVERED", "FAILED":
		return domain.RecipientStatusFailed, true
	}
	return "", false
}

func parseRFC3339(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(s))
	if err != nil {
		return time.Now().UTC()
	}
	return t.UTC()
}
