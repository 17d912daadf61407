package provider

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/campaign-engine/internal/domain"
)

const (
	DefaultMetaBaseURL    = "https://graph.facebook.com"
	DefaultMetaAPIVersion = "v21.0"

	MetaSignatureHeader = "X-Hub-Signature-256"
)

type MetaConfig struct {
	BaseURL       string
	APIVersion    string
	PhoneNumberID string
	AccessToken   string
}

// MetaProvider sends through the WhatsApp Cloud API.
type MetaProvider struct {
	client   *resty.Client
	endpoint string
	token    string
}

func NewMetaProvider(cfg MetaConfig, client *resty.Client) (*MetaProvider, error) {
	if strings.TrimSpace(cfg.PhoneNumberID) == "" {
		return nil, fmt.Errorf("meta phone number id is required")
	}
	if strings.TrimSpace(cfg.AccessToken) == "" {
		return nil, fmt.Errorf("meta access token is required")
	}

	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultMetaBaseURL
	}
	version := strings.Trim(strings.TrimSpace(cfg.APIVersion), "/")
	if version == "" {
		version = DefaultMetaAPIVersion
	}

	return &MetaProvider{
		client:   prepareClient(client),
		endpoint: fmt.Sprintf("%s/%s/%s/messages", baseURL, version, strings.TrimSpace(cfg.PhoneNumberID)),
		token:    strings.TrimSpace(cfg.AccessToken),
	}, nil
}

func (p *MetaProvider) Kind() domain.ProviderKind { return domain.ProviderMeta }

type metaTextBody struct {
	Body       string `json:"body"`
	PreviewURL bool   `json:"preview_url"`
}

type metaParameter struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type metaComponent struct {
	Type       string          `json:"type"`
	Parameters []metaParameter `json:"parameters"`
}

type metaLanguage struct {
	Code string `json:"code"`
}

type metaTemplate struct {
	Name       string          `json:"name"`
	Language   metaLanguage    `json:"language"`
	Components []metaComponent `json:"components,omitempty"`
}

type metaMessageRequest struct {
	MessagingProduct string        `json:"messaging_product"`
	RecipientType    string        `json:"recipient_type"`
	To               string        `json:"to"`
	Type             string        `json:"type"`
	Template         *metaTemplate `json:"template,omitempty"`
	Text             *metaTextBody `json:"text,omitempty"`
}

type metaAPIError struct {
	Message   string `json:"message"`
	Type      string `json:"type"`
	Code      int    `json:"code"`
	ErrorData struct {
		Details string `json:"details"`
	} `json:"error_data"`
}

type metaSendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
	Error *metaAPIError `json:"error"`
}

func buildMetaRequest(req SendRequest) metaMessageRequest {
	out := metaMessageRequest{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               req.To,
	}

	if strings.TrimSpace(req.TemplateName) == "" {
		out.Type = "text"
		out.Text = &metaTextBody{Body: req.Body}
		return out
	}

	tpl := &metaTemplate{
		Name:     req.TemplateName,
		Language: metaLanguage{Code: req.Language},
	}
	if len(req.Variables) > 0 {
		params := make([]metaParameter, 0, len(req.Variables))
		for _, v := range req.Variables {
			params = append(params, metaParameter{Type: "text", Text: v})
		}
		tpl.Components = []metaComponent{{Type: "body", Parameters: params}}
	}
	out.Type = "template"
	out.Template = tpl
	return out
}

func (p *MetaProvider) Send(ctx context.Context, req SendRequest) (*SendResponse, error) {
	if p == nil || p.client == nil {
		return nil, fmt.Errorf("provider is not initialized")
	}
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid send request: %w", err)
	}

	statusCode, body, err := postJSON(ctx, p.client.R().SetAuthToken(p.token), p.endpoint, buildMetaRequest(req))
	if err != nil {
		return nil, err
	}

	var decoded metaSendResponse
	decodeErr := json.Unmarshal([]byte(body), &decoded)

	if isSuccessStatus(statusCode) {
		if decodeErr != nil || len(decoded.Messages) == 0 || strings.TrimSpace(decoded.Messages[0].ID) == "" {
			return nil, malformedResponse(p.endpoint, statusCode, body, decodeErr)
		}
		return &SendResponse{
			StatusCode: statusCode,
			Body:       body,
			MessageID:  decoded.Messages[0].ID,
			Endpoint:   p.endpoint,
		}, nil
	}

	providerErr := &ProviderError{
		StatusCode: statusCode,
		Endpoint:   p.endpoint,
		RawBody:    body,
	}
	if decodeErr == nil && decoded.Error != nil {
		providerErr.Code = strconv.Itoa(decoded.Error.Code)
		providerErr.Message = decoded.Error.Message
		if details := strings.TrimSpace(decoded.Error.ErrorData.Details); details != "" {
			providerErr.Message = fmt.Sprintf("%s: %s", decoded.Error.Message, details)
		}
		providerErr.Kind, providerErr.Transient = metaErrorKind(decoded.Error.Code, providerErr.Message)
		if providerErr.Kind == KindRejected {
			// Unknown Meta code: fall back to HTTP status semantics.
			providerErr.Kind, providerErr.Transient = classifyHTTP(statusCode, providerErr.Message)
		}
		return nil, providerErr
	}

	providerErr.Message = providerErrorMessage(statusCode, body)
	providerErr.Kind, providerErr.Transient = classifyHTTP(statusCode, body)
	return nil, providerErr
}

func metaErrorKind(code int, message string) (ErrorKind, bool) {
	switch code {
	case 100:
		if strings.Contains(strings.ToLower(message), "phone") {
			return KindInvalidRecipient, false
		}
		return KindRejected, false
	case 4, 80007, 130429, 131048, 131056:
		return KindRateLimited, true
	case 131026, 131030, 131021:
		return KindInvalidRecipient, false
	case 132000, 132001, 132005, 132007, 132012, 132015, 132016:
		return KindTemplateMismatch, false
	case 131042:
		return KindBillingSuspended, false
	case 190, 10, 200:
		return KindAuth, false
	}
	return KindRejected, false
}

// VerifyMetaSignature checks the X-Hub-Signature-256 header against the app secret.
func VerifyMetaSignature(appSecret string, body []byte, header string) bool {
	if appSecret == "" || header == "" {
		return false
	}
	sig, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return false
	}
	expected, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(appSecret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), expected)
}

// MetaReceiptParser decodes whatsapp_business_account webhook callbacks.
type MetaReceiptParser struct{}

type metaWebhook struct {
	Object string `json:"object"`
	Entry  []struct {
		ID      string `json:"id"`
		Changes []struct {
			Field string           `json:"field"`
			Value metaWebhookValue `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type metaWebhookValue struct {
	Contacts []struct {
		Profile struct {
			Name string `json:"name"`
		} `json:"profile"`
		WaID string `json:"wa_id"`
	} `json:"contacts"`
	Messages []struct {
		From      string `json:"from"`
		ID        string `json:"id"`
		Timestamp string `json:"timestamp"`
		Type      string `json:"type"`
		Text      struct {
			Body string `json:"body"`
		} `json:"text"`
		Button struct {
			Text string `json:"text"`
		} `json:"button"`
		Interactive struct {
			ButtonReply struct {
				Title string `json:"title"`
			} `json:"button_reply"`
			ListReply struct {
				Title string `json:"title"`
			} `json:"list_reply"`
		} `json:"interactive"`
	} `json:"messages"`
	Statuses []struct {
		ID          string `json:"id"`
		Status      string `json:"status"`
		Timestamp   string `json:"timestamp"`
		RecipientID string `json:"recipient_id"`
		Errors      []struct {
			Code      int    `json:"code"`
			Title     string `json:"title"`
			Message   string `json:"message"`
			ErrorData struct {
				Details string `json:"details"`
			} `json:"error_data"`
		} `json:"errors"`
	} `json:"statuses"`
}

func (MetaReceiptParser) ParseReceipts(body []byte) (*Receipts, error) {
	var payload metaWebhook
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("%w: invalid meta webhook payload: %v", domain.ErrValidation, err)
	}

	out := &Receipts{}
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			if change.Field != "" && change.Field != "messages" {
				continue
			}
			value := change.Value

			for _, st := range value.Statuses {
				status, ok := metaStatus(st.Status)
				if !ok || strings.TrimSpace(st.ID) == "" {
					continue
				}
				event := domain.StatusEvent{
					ProviderMessageID: st.ID,
					Status:            status,
					At:                parseUnixSeconds(st.Timestamp),
					RecipientPhone:    st.RecipientID,
				}
				if len(st.Errors) > 0 {
					e := st.Errors[0]
					event.ErrorCode = strconv.Itoa(e.Code)
					event.ErrorText = firstNonEmpty(e.ErrorData.Details, e.Message, e.Title)
				}
				out.Statuses = append(out.Statuses, event)
			}

			names := make(map[string]string, len(value.Contacts))
			for _, c := range value.Contacts {
				names[c.WaID] = c.Profile.Name
			}
			for _, msg := range value.Messages {
				if strings.TrimSpace(msg.ID) == "" {
					continue
				}
				out.Messages = append(out.Messages, domain.InboundMessage{
					ProviderMessageID: msg.ID,
					FromPhone:         msg.From,
					ContactName:       names[msg.From],
					Type:              msg.Type,
					Body: firstNonEmpty(
						msg.Text.Body,
						msg.Button.Text,
						msg.Interactive.ButtonReply.Title,
						msg.Interactive.ListReply.Title,
					),
					ReceivedAt: parseUnixSeconds(msg.Timestamp),
				})
			}
		}
	}

	return out, nil
}

func metaStatus(s string) (domain.RecipientStatus, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sent":
		return domain.RecipientStatusSent, true
	case "delivered":
		return domain.RecipientStatusDelivered, true
	case "read":
		return domain.RecipientStatusRead, true
	case "failed":
		return domain.RecipientStatusFailed, true
	}
	return "", false
}

func parseUnixSeconds(s string) time.Time {
	sec, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || sec <= 0 {
		return time.Now().UTC()
	}
	return time.Unix(sec, 0).UTC()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
