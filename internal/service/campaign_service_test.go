package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kursadbilgin/campaign-engine/internal/domain"
	"github.com/kursadbilgin/campaign-engine/internal/observability"
	"github.com/kursadbilgin/campaign-engine/internal/queue"
	"github.com/kursadbilgin/campaign-engine/internal/repository"
)

type campaignFixture struct {
	store     *memStore
	locker    *fakeLocker
	publisher *fakePublisher
	svc       *CampaignService
}

func newCampaignFixture(t *testing.T) *campaignFixture {
	t.Helper()

	f := &campaignFixture{
		store:     newMemStore(),
		locker:    newFakeLocker(),
		publisher: &fakePublisher{},
	}
	svc, err := NewCampaignService(
		f.store.Campaigns(),
		f.store.Recipients(),
		f.store.Contacts(),
		f.store.Templates(),
		f.store.Channels(),
		f.store.Attempts(),
		f.locker,
		f.publisher,
		nil,
	)
	if err != nil {
		t.Fatalf("NewCampaignService() error = %v", err)
	}
	svc.now = func() time.Time { return dispatchNow }
	f.svc = svc
	return f
}

func TestNewCampaignServiceRequiresDependencies(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	_, err := NewCampaignService(store.Campaigns(), store.Recipients(), store.Contacts(), store.Templates(), store.Channels(), store.Attempts(), nil, &fakePublisher{}, nil)
	if err == nil {
		t.Fatal("expected error for missing locker")
	}
	_, err = NewCampaignService(store.Campaigns(), store.Recipients(), store.Contacts(), store.Templates(), store.Channels(), store.Attempts(), newFakeLocker(), nil, nil)
	if err == nil {
		t.Fatal("expected error for missing publisher")
	}
}

func TestCampaignServiceCreate(t *testing.T) {
	t.Parallel()

	f := newCampaignFixture(t)
	f.store.seedCampaign("seed", domain.CampaignStatusDone, "5511999990001", "5511999990002")
	// A legacy contact whose phone no longer normalizes.
	f.store.contacts["bad"] = &domain.Contact{ID: "bad", TenantID: "t1", Phone: "12"}

	campaign, err := f.svc.Create(context.Background(), CreateCampaignInput{
		TenantID:   "t1",
		Name:       "  Black Friday ",
		TemplateID: "tpl",
		ChannelID:  "ch",
		ContactIDs: []string{"seed-c1", "seed-c2", "seed-c1", " ", "bad"},
		Variables:  map[string]string{"Coupon": "BF10"},
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if campaign.Status != domain.CampaignStatusDraft {
		t.Fatalf("status = %s, want draft", campaign.Status)
	}
	if campaign.Name != "Black Friday" {
		t.Fatalf("name = %q", campaign.Name)
	}
	if campaign.Counters.Total != 3 || campaign.Counters.Skipped != 1 || campaign.Counters.Queued() != 2 {
		t.Fatalf("counters = %+v, want 3 total 1 skipped", campaign.Counters)
	}
	if campaign.Variables["coupon"] != "BF10" {
		t.Fatalf("variables = %v, want lowercased keys", campaign.Variables)
	}

	recipients, total, err := f.svc.Recipients(context.Background(), "t1", campaign.ID, repository.RecipientListParams{})
	if err != nil {
		t.Fatalf("Recipients() error = %v", err)
	}
	if total != 3 {
		t.Fatalf("recipients = %d, want 3", total)
	}
	for _, r := range recipients {
		if r.ContactID == "bad" && (r.Status != domain.RecipientStatusSkipped || r.LastError == nil) {
			t.Fatalf("invalid phone recipient = %+v, want skipped with reason", r)
		}
	}
}

func TestCampaignServiceCreateScheduled(t *testing.T) {
	t.Parallel()

	f := newCampaignFixture(t)
	f.store.seedCampaign("seed", domain.CampaignStatusDone, "5511999990001")

	future := dispatchNow.Add(time.Hour)
	campaign, err := f.svc.Create(context.Background(), CreateCampaignInput{
		TenantID: "t1", Name: "later", TemplateID: "tpl", ChannelID: "ch",
		ContactIDs: []string{"seed-c1"}, ScheduledAt: &future,
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if campaign.Status != domain.CampaignStatusScheduled {
		t.Fatalf("status = %s, want scheduled", campaign.Status)
	}

	past := dispatchNow.Add(-time.Hour)
	campaign, err = f.svc.Create(context.Background(), CreateCampaignInput{
		TenantID: "t1", Name: "now", TemplateID: "tpl", ChannelID: "ch",
		ContactIDs: []string{"seed-c1"}, ScheduledAt: &past,
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if campaign.Status != domain.CampaignStatusDraft {
		t.Fatalf("status = %s, want draft for past schedule", campaign.Status)
	}
}

func TestCampaignServiceCreateValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   CreateCampaignInput
	}{
		{name: "missing name", in: CreateCampaignInput{TenantID: "t1", TemplateID: "tpl", ChannelID: "ch", ContactIDs: []string{"seed-c1"}}},
		{name: "no contacts", in: CreateCampaignInput{TenantID: "t1", Name: "x", TemplateID: "tpl", ChannelID: "ch"}},
		{name: "unknown template", in: CreateCampaignInput{TenantID: "t1", Name: "x", TemplateID: "nope", ChannelID: "ch", ContactIDs: []string{"seed-c1"}}},
		{name: "unknown channel", in: CreateCampaignInput{TenantID: "t1", Name: "x", TemplateID: "tpl", ChannelID: "nope", ContactIDs: []string{"seed-c1"}}},
		{name: "unknown contact", in: CreateCampaignInput{TenantID: "t1", Name: "x", TemplateID: "tpl", ChannelID: "ch", ContactIDs: []string{"seed-c1", "ghost"}}},
		{name: "other tenant template", in: CreateCampaignInput{TenantID: "t2", Name: "x", TemplateID: "tpl", ChannelID: "ch", ContactIDs: []string{"seed-c1"}}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newCampaignFixture(t)
			f.store.seedCampaign("seed", domain.CampaignStatusDone, "5511999990001")

			_, err := f.svc.Create(context.Background(), tt.in)
			if !errors.Is(err, domain.ErrValidation) {
				t.Fatalf("Create() error = %v, want validation error", err)
			}
		})
	}
}

func TestCampaignServiceStart(t *testing.T) {
	t.Parallel()

	f := newCampaignFixture(t)
	f.store.seedCampaign("c1", domain.CampaignStatusDraft, "5511999990001")
	ctx := observability.WithCorrelationID(context.Background(), "corr-42")

	campaign, err := f.svc.Start(ctx, "t1", "c1")
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if campaign.Status != domain.CampaignStatusRunning || campaign.StartedAt == nil {
		t.Fatalf("campaign = %+v, want running with start time", campaign)
	}

	jobs := f.publisher.published()
	if len(jobs) != 1 {
		t.Fatalf("published = %d, want 1", len(jobs))
	}
	want := queue.DispatchJob{CampaignID: "c1", TenantID: "t1", Reason: queue.JobReasonStart, CorrelationID: "corr-42"}
	if jobs[0].CampaignID != want.CampaignID || jobs[0].Reason != want.Reason || jobs[0].CorrelationID != want.CorrelationID || jobs[0].Restricted() {
		t.Fatalf("job = %+v, want %+v", jobs[0], want)
	}

	if _, err := f.svc.Start(ctx, "t1", "c1"); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("second Start() error = %v, want conflict", err)
	}
}

func TestCampaignServiceStartPreconditions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(s *memStore)
		wantErr error
	}{
		{
			name:    "template not approved",
			mutate:  func(s *memStore) { s.templates["tpl"].Status = domain.TemplateStatusPending },
			wantErr: domain.ErrConflict,
		},
		{
			name:    "channel disconnected",
			mutate:  func(s *memStore) { s.channels["ch"].Status = domain.ChannelStatusDisconnected },
			wantErr: domain.ErrConflict,
		},
		{
			name:    "campaign already done",
			mutate:  func(s *memStore) { s.campaigns["c1"].Status = domain.CampaignStatusDone },
			wantErr: domain.ErrConflict,
		},
		{
			name:    "channel deleted",
			mutate:  func(s *memStore) { delete(s.channels, "ch") },
			wantErr: domain.ErrValidation,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newCampaignFixture(t)
			f.store.seedCampaign("c1", domain.CampaignStatusDraft, "5511999990001")
			tt.mutate(f.store)

			_, err := f.svc.Start(context.Background(), "t1", "c1")
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Start() error = %v, want %v", err, tt.wantErr)
			}
			if len(f.publisher.published()) != 0 {
				t.Fatal("job published despite failed precondition")
			}
		})
	}
}

func TestCampaignServiceStartPublishFailurePauses(t *testing.T) {
	t.Parallel()

	f := newCampaignFixture(t)
	f.store.seedCampaign("c1", domain.CampaignStatusDraft, "5511999990001")
	f.publisher.publishFn = func(context.Context, string, queue.DispatchJob) error {
		return errors.New("broker down")
	}

	if _, err := f.svc.Start(context.Background(), "t1", "c1"); err == nil {
		t.Fatal("expected publish error")
	}
	if status := f.store.campaign("c1").Status; status != domain.CampaignStatusPaused {
		t.Fatalf("status = %s, want paused after publish failure", status)
	}
}

func TestCampaignServicePauseResume(t *testing.T) {
	t.Parallel()

	f := newCampaignFixture(t)
	f.store.seedCampaign("c1", domain.CampaignStatusRunning, "5511999990001")
	ctx := context.Background()

	if _, err := f.svc.Resume(ctx, "t1", "c1"); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("Resume() of running campaign error = %v, want conflict", err)
	}

	paused, err := f.svc.Pause(ctx, "t1", "c1")
	if err != nil {
		t.Fatalf("Pause() error = %v", err)
	}
	if paused.Status != domain.CampaignStatusPaused || paused.PausedAt == nil {
		t.Fatalf("paused = %+v", paused)
	}
	if _, err := f.svc.Pause(ctx, "t1", "c1"); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("second Pause() error = %v, want conflict", err)
	}

	resumed, err := f.svc.Resume(ctx, "t1", "c1")
	if err != nil {
		t.Fatalf("Resume() error = %v", err)
	}
	if resumed.Status != domain.CampaignStatusRunning {
		t.Fatalf("status = %s, want running", resumed.Status)
	}
	jobs := f.publisher.published()
	if len(jobs) != 1 || jobs[0].Reason != queue.JobReasonResume {
		t.Fatalf("jobs = %+v, want one resume job", jobs)
	}
}

func TestCampaignServiceCancel(t *testing.T) {
	t.Parallel()

	f := newCampaignFixture(t)
	f.store.seedCampaign("c1", domain.CampaignStatusRunning, "5511999990001", "5511999990002", "5511999990003")
	sentAt := dispatchNow
	f.store.recipients["c1-r01"].Status = domain.RecipientStatusSent
	f.store.recipients["c1-r01"].SentAt = &sentAt
	f.store.campaigns["c1"].Counters.Sent = 1
	// An in-flight send keeps its claim and is not skipped.
	f.store.recipients["c1-r02"].ClaimedAt = &sentAt

	campaign, skipped, err := f.svc.Cancel(context.Background(), "t1", "c1")
	if err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	if skipped != 1 {
		t.Fatalf("skipped = %d, want 1", skipped)
	}
	if campaign.Status != domain.CampaignStatusCancelled || campaign.CompletedAt == nil {
		t.Fatalf("campaign = %+v, want cancelled", campaign)
	}
	if campaign.Counters.Sent != 1 || campaign.Counters.Skipped != 1 {
		t.Fatalf("counters = %+v", campaign.Counters)
	}

	if _, _, err := f.svc.Cancel(context.Background(), "t1", "c1"); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("second Cancel() error = %v, want conflict", err)
	}
}

func failRecipient(s *memStore, id string) {
	at := dispatchNow
	code := "131026"
	r := s.recipients[id]
	r.Status = domain.RecipientStatusFailed
	r.FailedAt = &at
	r.ErrorCode = &code
	s.campaigns[r.CampaignID].Counters.Failed++
}

func TestCampaignServiceRetry(t *testing.T) {
	t.Parallel()

	f := newCampaignFixture(t)
	f.store.seedCampaign("c1", domain.CampaignStatusDone, "5511999990001", "5511999990002", "5511999990003")
	failRecipient(f.store, "c1-r01")
	failRecipient(f.store, "c1-r03")
	f.store.recipients["c1-r02"].Status = domain.RecipientStatusDelivered
	f.store.campaigns["c1"].Counters.Delivered = 1

	n, err := f.svc.Retry(context.Background(), "t1", "c1")
	if err != nil {
		t.Fatalf("Retry() error = %v", err)
	}
	if n != 2 {
		t.Fatalf("reset = %d, want 2", n)
	}

	campaign := f.store.campaign("c1")
	if campaign.Status != domain.CampaignStatusRunning {
		t.Fatalf("status = %s, want running", campaign.Status)
	}
	if campaign.Counters.Failed != 0 || campaign.Counters.Queued() != 2 {
		t.Fatalf("counters = %+v, want failed moved back to queued", campaign.Counters)
	}

	jobs := f.publisher.published()
	if len(jobs) != 1 {
		t.Fatalf("published = %d, want 1", len(jobs))
	}
	if jobs[0].Reason != queue.JobReasonRetry || len(jobs[0].RecipientIDs) != 2 ||
		jobs[0].RecipientIDs[0] != "c1-r01" || jobs[0].RecipientIDs[1] != "c1-r03" {
		t.Fatalf("job = %+v, want retry restricted to the failed recipients", jobs[0])
	}
}

func TestCampaignServiceRetryPreconditions(t *testing.T) {
	t.Parallel()

	t.Run("lock held", func(t *testing.T) {
		t.Parallel()

		f := newCampaignFixture(t)
		f.store.seedCampaign("c1", domain.CampaignStatusPaused, "5511999990001")
		failRecipient(f.store, "c1-r01")
		f.locker.held["c1"] = true

		if _, err := f.svc.Retry(context.Background(), "t1", "c1"); !errors.Is(err, domain.ErrLocked) {
			t.Fatalf("Retry() error = %v, want ErrLocked", err)
		}
		if got := f.store.recipient("c1-r01").Status; got != domain.RecipientStatusFailed {
			t.Fatalf("recipient status = %s, want failed", got)
		}
	})

	t.Run("running campaign", func(t *testing.T) {
		t.Parallel()

		f := newCampaignFixture(t)
		f.store.seedCampaign("c1", domain.CampaignStatusRunning, "5511999990001")

		if _, err := f.svc.Retry(context.Background(), "t1", "c1"); !errors.Is(err, domain.ErrConflict) {
			t.Fatalf("Retry() error = %v, want conflict", err)
		}
	})

	t.Run("nothing failed", func(t *testing.T) {
		t.Parallel()

		f := newCampaignFixture(t)
		f.store.seedCampaign("c1", domain.CampaignStatusDone, "5511999990001")
		f.store.recipients["c1-r01"].Status = domain.RecipientStatusSent

		n, err := f.svc.Retry(context.Background(), "t1", "c1")
		if err != nil {
			t.Fatalf("Retry() error = %v", err)
		}
		if n != 0 {
			t.Fatalf("reset = %d, want 0", n)
		}
		if status := f.store.campaign("c1").Status; status != domain.CampaignStatusDone {
			t.Fatalf("status = %s, want done", status)
		}
		if len(f.publisher.published()) != 0 {
			t.Fatal("job published for empty retry")
		}
	})

	t.Run("template rejected", func(t *testing.T) {
		t.Parallel()

		f := newCampaignFixture(t)
		f.store.seedCampaign("c1", domain.CampaignStatusDone, "5511999990001")
		failRecipient(f.store, "c1-r01")
		f.store.templates["tpl"].Status = domain.TemplateStatusRejected

		if _, err := f.svc.Retry(context.Background(), "t1", "c1"); !errors.Is(err, domain.ErrConflict) {
			t.Fatalf("Retry() error = %v, want conflict", err)
		}
	})
}

func TestCampaignServiceStatsAndReconcile(t *testing.T) {
	t.Parallel()

	f := newCampaignFixture(t)
	f.store.seedCampaign("c1", domain.CampaignStatusDone, "5511999990001", "5511999990002")
	f.store.recipients["c1-r01"].Status = domain.RecipientStatusRead
	failRecipient(f.store, "c1-r02")
	// Drifted counters.
	f.store.campaigns["c1"].Counters.Sent = 2

	stats, err := f.svc.Reconcile(context.Background(), "t1", "c1")
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	c := stats.Campaign.Counters
	if c.Total != 2 || c.Read != 1 || c.Failed != 1 || c.Sent != 0 {
		t.Fatalf("counters = %+v, want recomputed buckets", c)
	}
	if stats.Queued != 0 || stats.Complete {
		t.Fatalf("stats = %+v, want drained but not complete", stats)
	}

	if _, err := f.svc.Stats(context.Background(), "t2", "c1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Stats() for other tenant error = %v, want not found", err)
	}
}

func TestCampaignServiceAttempts(t *testing.T) {
	t.Parallel()

	f := newCampaignFixture(t)
	f.store.seedCampaign("c1", domain.CampaignStatusRunning, "5511999990001")
	f.store.attempts = append(f.store.attempts, domain.SendAttempt{ID: "a1", TenantID: "t1", RecipientID: "c1-r01", AttemptNumber: 1})

	attempts, err := f.svc.Attempts(context.Background(), "t1", "c1-r01")
	if err != nil {
		t.Fatalf("Attempts() error = %v", err)
	}
	if len(attempts) != 1 || attempts[0].ID != "a1" {
		t.Fatalf("attempts = %+v", attempts)
	}

	if _, err := f.svc.Attempts(context.Background(), "t1", "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Attempts() error = %v, want not found", err)
	}
}

func TestCampaignServiceDelete(t *testing.T) {
	t.Parallel()

	f := newCampaignFixture(t)
	f.store.seedCampaign("c1", domain.CampaignStatusRunning, "5511999990001")

	if err := f.svc.Delete(context.Background(), "t1", "c1"); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("Delete() running error = %v, want conflict", err)
	}
	if _, err := f.svc.Pause(context.Background(), "t1", "c1"); err != nil {
		t.Fatalf("Pause() error = %v", err)
	}
	if err := f.svc.Delete(context.Background(), "t1", "c1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := f.svc.Get(context.Background(), "t1", "c1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Get() after delete error = %v, want not found", err)
	}
}
