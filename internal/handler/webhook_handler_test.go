package handler

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/campaign-engine/internal/domain"
	"github.com/kursadbilgin/campaign-engine/internal/service"
)

func TestWebhookRoutes_VerifyMeta(t *testing.T) {
	t.Parallel()

	svcs := newTestServices()
	svcs.Webhooks = &stubWebhookService{
		verifyFn: func(_ context.Context, channelID, mode, token, challenge string) (string, error) {
			if channelID != "ch-1" {
				return "", domain.ErrNotFound
			}
			if mode != "subscribe" || token != "verify-me" {
				return "", fmt.Errorf("%w: verify token mismatch", domain.ErrUnauthorized)
			}
			return challenge, nil
		},
	}
	app := newTestApp(t, svcs)

	tests := []struct {
		name       string
		path       string
		wantStatus int
		wantBody   string
	}{
		{name: "echoes challenge", path: "/webhooks/meta/ch-1?hub.mode=subscribe&hub.verify_token=verify-me&hub.challenge=1158201444", wantStatus: fiber.StatusOK, wantBody: "1158201444"},
		{name: "wrong token", path: "/webhooks/meta/ch-1?hub.mode=subscribe&hub.verify_token=nope&hub.challenge=1", wantStatus: fiber.StatusUnauthorized},
		{name: "unknown channel", path: "/webhooks/meta/ch-9?hub.mode=subscribe&hub.verify_token=verify-me&hub.challenge=1", wantStatus: fiber.StatusNotFound},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			// Providers never send the tenant API key.
			resp, body := sendRequest(t, app, httptest.NewRequest(http.MethodGet, tt.path, nil))
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d, body=%s", resp.StatusCode, tt.wantStatus, string(body))
			}
			if tt.wantBody != "" && string(body) != tt.wantBody {
				t.Fatalf("body = %q, want %q", string(body), tt.wantBody)
			}
		})
	}
}

func TestWebhookRoutes_Receive(t *testing.T) {
	t.Parallel()

	const payload = `{"object":"whatsapp_business_account","entry":[]}`

	svcs := newTestServices()
	svcs.Webhooks = &stubWebhookService{
		ingestFn: func(_ context.Context, kind domain.ProviderKind, channelID string, body []byte, signature string) (*service.WebhookSummary, error) {
			switch {
			case channelID == "ch-404":
				return nil, domain.ErrNotFound
			case kind == domain.ProviderMeta && signature != "sha256=good":
				return nil, fmt.Errorf("%w: invalid webhook signature", domain.ErrUnauthorized)
			case string(body) != payload:
				return nil, fmt.Errorf("%w: unexpected body", domain.ErrValidation)
			}
			return &service.WebhookSummary{Applied: 2, Ignored: 1, Failed: 1, Deferred: 1}, nil
		},
	}
	app := newTestApp(t, svcs)

	tests := []struct {
		name       string
		path       string
		signature  string
		body       string
		wantStatus int
		wantInBody string
	}{
		{name: "meta signed", path: "/webhooks/meta/ch-1", signature: "sha256=good", body: payload, wantStatus: fiber.StatusOK, wantInBody: `"failed":1`},
		{name: "meta bad signature", path: "/webhooks/meta/ch-1", signature: "sha256=bad", body: payload, wantStatus: fiber.StatusUnauthorized},
		{name: "provider case folded", path: "/webhooks/UAZAPI/ch-1", body: payload, wantStatus: fiber.StatusOK, wantInBody: `"applied":2`},
		{name: "deferred receipts reported", path: "/webhooks/notificame/ch-1", body: payload, wantStatus: fiber.StatusOK, wantInBody: `"deferred":1`},
		{name: "unknown channel", path: "/webhooks/notificame/ch-404", body: payload, wantStatus: fiber.StatusNotFound},
		{name: "malformed payload", path: "/webhooks/notificame/ch-1", body: `{`, wantStatus: fiber.StatusBadRequest},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			req := httptest.NewRequest(http.MethodPost, tt.path, strings.NewReader(tt.body))
			req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
			if tt.signature != "" {
				req.Header.Set(metaSignatureHeader, tt.signature)
			}

			resp, body := sendRequest(t, app, req)
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d, body=%s", resp.StatusCode, tt.wantStatus, string(body))
			}
			if tt.wantInBody != "" && !containsJSON(body, tt.wantInBody) {
				t.Fatalf("body = %s, want it to contain %s", string(body), tt.wantInBody)
			}
		})
	}
}
