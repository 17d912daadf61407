package handler

import (
	"bytes"
	"context"
	"database/sql/driver"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/campaign-engine/internal/domain"
	"github.com/kursadbilgin/campaign-engine/internal/repository"
	"github.com/kursadbilgin/campaign-engine/internal/service"
	"github.com/kursadbilgin/campaign-engine/internal/transport"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	testAPIKey   = "key-t1"
	testTenantID = "t1"
)

var fixedTime = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func newTestApp(t *testing.T, services Services) *fiber.App {
	t.Helper()

	app := fiber.New(fiber.Config{
		ErrorHandler: transport.ErrorHandler(zap.NewNop()),
	})
	app.Use(RequestID(), Correlation())

	if err := RegisterRoutes(app, map[string]string{testAPIKey: testTenantID}, services); err != nil {
		t.Fatalf("RegisterRoutes() error = %v", err)
	}

	return app
}

func newTestServices() Services {
	return Services{
		Campaigns: &stubCampaignService{},
		Contacts:  &stubContactService{},
		Templates: &stubTemplateService{},
		Channels:  &stubChannelService{},
		Webhooks:  &stubWebhookService{},
		Dashboard: &stubDashboardService{},
		Inbox:     &stubInboxService{},
	}
}

func performRequest(t *testing.T, app *fiber.App, method string, path string, body string) (*http.Response, []byte) {
	t.Helper()

	return sendRequest(t, app, newJSONRequest(method, path, body))
}

func newJSONRequest(method string, path string, body string) *http.Request {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	req.Header.Set(fiber.HeaderAuthorization, "Bearer "+testAPIKey)
	return req
}

func containsJSON(body []byte, fragment string) bool {
	return bytes.Contains(body, []byte(fragment))
}

func sendRequest(t *testing.T, app *fiber.App, req *http.Request) (*http.Response, []byte) {
	t.Helper()

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	_ = resp.Body.Close()

	return resp, respBody
}

func requireTenant(t *testing.T, got string) {
	t.Helper()
	if got != testTenantID {
		t.Errorf("tenantID = %q, want %q", got, testTenantID)
	}
}

type stubCampaignService struct {
	createFn     func(ctx context.Context, in service.CreateCampaignInput) (*domain.Campaign, error)
	getFn        func(ctx context.Context, tenantID, id string) (*domain.Campaign, error)
	listFn       func(ctx context.Context, tenantID string, params repository.CampaignListParams) ([]domain.Campaign, int64, error)
	startFn      func(ctx context.Context, tenantID, id string) (*domain.Campaign, error)
	pauseFn      func(ctx context.Context, tenantID, id string) (*domain.Campaign, error)
	resumeFn     func(ctx context.Context, tenantID, id string) (*domain.Campaign, error)
	cancelFn     func(ctx context.Context, tenantID, id string) (*domain.Campaign, int64, error)
	retryFn      func(ctx context.Context, tenantID, id string) (int, error)
	deleteFn     func(ctx context.Context, tenantID, id string) error
	statsFn      func(ctx context.Context, tenantID, id string) (*service.CampaignStats, error)
	reconcileFn  func(ctx context.Context, tenantID, id string) (*service.CampaignStats, error)
	recipientsFn func(ctx context.Context, tenantID, campaignID string, params repository.RecipientListParams) ([]domain.Recipient, int64, error)
	attemptsFn   func(ctx context.Context, tenantID, recipientID string) ([]domain.SendAttempt, error)
}

func (s *stubCampaignService) Create(ctx context.Context, in service.CreateCampaignInput) (*domain.Campaign, error) {
	if s.createFn != nil {
		return s.createFn(ctx, in)
	}
	return nil, domain.ErrNotFound
}

func (s *stubCampaignService) Get(ctx context.Context, tenantID, id string) (*domain.Campaign, error) {
	if s.getFn != nil {
		return s.getFn(ctx, tenantID, id)
	}
	return nil, domain.ErrNotFound
}

func (s *stubCampaignService) List(ctx context.Context, tenantID string, params repository.CampaignListParams) ([]domain.Campaign, int64, error) {
	if s.listFn != nil {
		return s.listFn(ctx, tenantID, params)
	}
	return nil, 0, nil
}

func (s *stubCampaignService) Start(ctx context.Context, tenantID, id string) (*domain.Campaign, error) {
	if s.startFn != nil {
		return s.startFn(ctx, tenantID, id)
	}
	return nil, domain.ErrNotFound
}

func (s *stubCampaignService) Pause(ctx context.Context, tenantID, id string) (*domain.Campaign, error) {
	if s.pauseFn != nil {
		return s.pauseFn(ctx, tenantID, id)
	}
	return nil, domain.ErrNotFound
}

func (s *stubCampaignService) Resume(ctx context.Context, tenantID, id string) (*domain.Campaign, error) {
	if s.resumeFn != nil {
		return s.resumeFn(ctx, tenantID, id)
	}
	return nil, domain.ErrNotFound
}

func (s *stubCampaignService) Cancel(ctx context.Context, tenantID, id string) (*domain.Campaign, int64, error) {
	if s.cancelFn != nil {
		return s.cancelFn(ctx, tenantID, id)
	}
	return nil, 0, domain.ErrNotFound
}

func (s *stubCampaignService) Retry(ctx context.Context, tenantID, id string) (int, error) {
	if s.retryFn != nil {
		return s.retryFn(ctx, tenantID, id)
	}
	return 0, domain.ErrNotFound
}

func (s *stubCampaignService) Delete(ctx context.Context, tenantID, id string) error {
	if s.deleteFn != nil {
		return s.deleteFn(ctx, tenantID, id)
	}
	return domain.ErrNotFound
}

func (s *stubCampaignService) Stats(ctx context.Context, tenantID, id string) (*service.CampaignStats, error) {
	if s.statsFn != nil {
		return s.statsFn(ctx, tenantID, id)
	}
	return nil, domain.ErrNotFound
}

func (s *stubCampaignService) Reconcile(ctx context.Context, tenantID, id string) (*service.CampaignStats, error) {
	if s.reconcileFn != nil {
		return s.reconcileFn(ctx, tenantID, id)
	}
	return nil, domain.ErrNotFound
}

func (s *stubCampaignService) Recipients(
	ctx context.Context,
	tenantID, campaignID string,
	params repository.RecipientListParams,
) ([]domain.Recipient, int64, error) {
	if s.recipientsFn != nil {
		return s.recipientsFn(ctx, tenantID, campaignID, params)
	}
	return nil, 0, domain.ErrNotFound
}

func (s *stubCampaignService) Attempts(ctx context.Context, tenantID, recipientID string) ([]domain.SendAttempt, error) {
	if s.attemptsFn != nil {
		return s.attemptsFn(ctx, tenantID, recipientID)
	}
	return nil, domain.ErrNotFound
}

type stubContactService struct {
	createFn func(ctx context.Context, tenantID, phone, name string, attributes map[string]string) (*domain.Contact, error)
	importFn func(ctx context.Context, tenantID string, r io.Reader) (*service.ImportResult, error)
	getFn    func(ctx context.Context, tenantID, id string) (*domain.Contact, error)
	listFn   func(ctx context.Context, tenantID string, params repository.ContactListParams) ([]domain.Contact, int64, error)
	deleteFn func(ctx context.Context, tenantID, id string) error
}

func (s *stubContactService) Create(ctx context.Context, tenantID, phone, name string, attributes map[string]string) (*domain.Contact, error) {
	if s.createFn != nil {
		return s.createFn(ctx, tenantID, phone, name, attributes)
	}
	return nil, domain.ErrNotFound
}

func (s *stubContactService) Import(ctx context.Context, tenantID string, r io.Reader) (*service.ImportResult, error) {
	if s.importFn != nil {
		return s.importFn(ctx, tenantID, r)
	}
	return &service.ImportResult{}, nil
}

func (s *stubContactService) Get(ctx context.Context, tenantID, id string) (*domain.Contact, error) {
	if s.getFn != nil {
		return s.getFn(ctx, tenantID, id)
	}
	return nil, domain.ErrNotFound
}

func (s *stubContactService) List(ctx context.Context, tenantID string, params repository.ContactListParams) ([]domain.Contact, int64, error) {
	if s.listFn != nil {
		return s.listFn(ctx, tenantID, params)
	}
	return nil, 0, nil
}

func (s *stubContactService) Delete(ctx context.Context, tenantID, id string) error {
	if s.deleteFn != nil {
		return s.deleteFn(ctx, tenantID, id)
	}
	return domain.ErrNotFound
}

type stubTemplateService struct {
	upsertFn    func(ctx context.Context, in service.UpsertTemplateInput) (*domain.Template, error)
	setStatusFn func(ctx context.Context, tenantID, id string, status domain.TemplateStatus) (*domain.Template, error)
	getFn       func(ctx context.Context, tenantID, id string) (*domain.Template, error)
	listFn      func(ctx context.Context, tenantID string) ([]domain.Template, error)
	previewFn   func(ctx context.Context, tenantID, id string, values map[string]string) (string, error)
}

func (s *stubTemplateService) Upsert(ctx context.Context, in service.UpsertTemplateInput) (*domain.Template, error) {
	if s.upsertFn != nil {
		return s.upsertFn(ctx, in)
	}
	return nil, domain.ErrNotFound
}

func (s *stubTemplateService) SetStatus(ctx context.Context, tenantID, id string, status domain.TemplateStatus) (*domain.Template, error) {
	if s.setStatusFn != nil {
		return s.setStatusFn(ctx, tenantID, id, status)
	}
	return nil, domain.ErrNotFound
}

func (s *stubTemplateService) Get(ctx context.Context, tenantID, id string) (*domain.Template, error) {
	if s.getFn != nil {
		return s.getFn(ctx, tenantID, id)
	}
	return nil, domain.ErrNotFound
}

func (s *stubTemplateService) List(ctx context.Context, tenantID string) ([]domain.Template, error) {
	if s.listFn != nil {
		return s.listFn(ctx, tenantID)
	}
	return nil, nil
}

func (s *stubTemplateService) Preview(ctx context.Context, tenantID, id string, values map[string]string) (string, error) {
	if s.previewFn != nil {
		return s.previewFn(ctx, tenantID, id, values)
	}
	return "", domain.ErrNotFound
}

type stubChannelService struct {
	createFn    func(ctx context.Context, in service.CreateChannelInput) (*domain.Channel, error)
	getFn       func(ctx context.Context, tenantID, id string) (*domain.Channel, error)
	listFn      func(ctx context.Context, tenantID string) ([]domain.Channel, error)
	setStatusFn func(ctx context.Context, tenantID, id string, status domain.ChannelStatus) (*domain.Channel, error)
}

func (s *stubChannelService) Create(ctx context.Context, in service.CreateChannelInput) (*domain.Channel, error) {
	if s.createFn != nil {
		return s.createFn(ctx, in)
	}
	return nil, domain.ErrNotFound
}

func (s *stubChannelService) Get(ctx context.Context, tenantID, id string) (*domain.Channel, error) {
	if s.getFn != nil {
		return s.getFn(ctx, tenantID, id)
	}
	return nil, domain.ErrNotFound
}

func (s *stubChannelService) List(ctx context.Context, tenantID string) ([]domain.Channel, error) {
	if s.listFn != nil {
		return s.listFn(ctx, tenantID)
	}
	return nil, nil
}

func (s *stubChannelService) SetStatus(ctx context.Context, tenantID, id string, status domain.ChannelStatus) (*domain.Channel, error) {
	if s.setStatusFn != nil {
		return s.setStatusFn(ctx, tenantID, id, status)
	}
	return nil, domain.ErrNotFound
}

type stubWebhookService struct {
	verifyFn func(ctx context.Context, channelID, mode, token, challenge string) (string, error)
	ingestFn func(ctx context.Context, kind domain.ProviderKind, channelID string, body []byte, signature string) (*service.WebhookSummary, error)
}

func (s *stubWebhookService) VerifyMeta(ctx context.Context, channelID, mode, token, challenge string) (string, error) {
	if s.verifyFn != nil {
		return s.verifyFn(ctx, channelID, mode, token, challenge)
	}
	return "", domain.ErrNotFound
}

func (s *stubWebhookService) Ingest(
	ctx context.Context,
	kind domain.ProviderKind,
	channelID string,
	body []byte,
	signature string,
) (*service.WebhookSummary, error) {
	if s.ingestFn != nil {
		return s.ingestFn(ctx, kind, channelID, body, signature)
	}
	return &service.WebhookSummary{}, nil
}

type stubDashboardService struct {
	summaryFn func(ctx context.Context, tenantID string) (*service.DashboardSummary, error)
}

func (s *stubDashboardService) Summary(ctx context.Context, tenantID string) (*service.DashboardSummary, error) {
	if s.summaryFn != nil {
		return s.summaryFn(ctx, tenantID)
	}
	return &service.DashboardSummary{}, nil
}

type stubInboxService struct {
	listFn func(ctx context.Context, tenantID string, params repository.InboxListParams) ([]domain.InboundMessage, int64, error)
}

func (s *stubInboxService) List(ctx context.Context, tenantID string, params repository.InboxListParams) ([]domain.InboundMessage, int64, error) {
	if s.listFn != nil {
		return s.listFn(ctx, tenantID, params)
	}
	return nil, 0, nil
}

type stubConnector struct {
	pingErr error
}

func (c stubConnector) Connect(context.Context) (driver.Conn, error) {
	return stubConn(c), nil
}

func (c stubConnector) Driver() driver.Driver {
	return stubDriver(c)
}

type stubDriver struct {
	pingErr error
}

func (d stubDriver) Open(string) (driver.Conn, error) {
	return stubConn(d), nil
}

type stubConn struct {
	pingErr error
}

func (c stubConn) Prepare(string) (driver.Stmt, error) { return nil, errors.New("not implemented") }
func (c stubConn) Close() error                        { return nil }
func (c stubConn) Begin() (driver.Tx, error)           { return nil, errors.New("not implemented") }
func (c stubConn) Ping(context.Context) error          { return c.pingErr }

type stubRedisHook struct {
	pingErr error
}

func (h stubRedisHook) DialHook(next redis.DialHook) redis.DialHook {
	return next
}

func (h stubRedisHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		if strings.EqualFold(cmd.Name(), "ping") && h.pingErr != nil {
			cmd.SetErr(h.pingErr)
			return h.pingErr
		}
		cmd.SetErr(nil)
		return nil
	}
}

func (h stubRedisHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		for _, cmd := range cmds {
			cmd.SetErr(nil)
		}
		return nil
	}
}

func newStubRedisClient(pingErr error) *redis.Client {
	rdb := redis.NewClient(&redis.Options{
		Addr:         "127.0.0.1:6379",
		DialTimeout:  time.Millisecond,
		ReadTimeout:  time.Millisecond,
		WriteTimeout: time.Millisecond,
	})
	rdb.AddHook(stubRedisHook{pingErr: pingErr})
	return rdb
}
