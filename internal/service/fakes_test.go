package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kursadbilgin/campaign-engine/internal/domain"
	"github.com/kursadbilgin/campaign-engine/internal/provider"
	"github.com/kursadbilgin/campaign-engine/internal/queue"
	"github.com/kursadbilgin/campaign-engine/internal/ratelimit"
	"github.com/kursadbilgin/campaign-engine/internal/repository"
)

// memStore is an in-memory stand-in for the postgres repositories. It keeps
// the same row-level rules (forward-only transitions, bucket counters,
// unclaimed-only paging) so service flows can be exercised end to end.
type memStore struct {
	mu         sync.Mutex
	campaigns  map[string]*domain.Campaign
	recipients map[string]*domain.Recipient
	contacts   map[string]*domain.Contact
	templates  map[string]*domain.Template
	channels   map[string]*domain.Channel
	attempts   []domain.SendAttempt
	inbound    map[string]*domain.InboundMessage
	pending    []domain.PendingReceipt

	transitionErr error
	// transitionHook runs before every recipient transition; a non-nil
	// result fails that transition only.
	transitionHook func(change domain.RecipientChange) error
}

func newMemStore() *memStore {
	return &memStore{
		campaigns:  make(map[string]*domain.Campaign),
		recipients: make(map[string]*domain.Recipient),
		contacts:   make(map[string]*domain.Contact),
		templates:  make(map[string]*domain.Template),
		channels:   make(map[string]*domain.Channel),
		inbound:    make(map[string]*domain.InboundMessage),
	}
}

func (m *memStore) Campaigns() *memCampaigns   { return &memCampaigns{m} }
func (m *memStore) Recipients() *memRecipients { return &memRecipients{m} }
func (m *memStore) Contacts() *memContacts     { return &memContacts{m} }
func (m *memStore) Templates() *memTemplates   { return &memTemplates{m} }
func (m *memStore) Channels() *memChannels     { return &memChannels{m} }
func (m *memStore) Attempts() *memAttempts     { return &memAttempts{m} }
func (m *memStore) Inbound() *memInbound       { return &memInbound{m} }
func (m *memStore) Pending() *memPending       { return &memPending{m} }

func (m *memStore) campaign(id string) domain.Campaign {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.campaigns[id]
}

func (m *memStore) recipient(id string) domain.Recipient {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.recipients[id]
}

// seedCampaign stores a campaign with one queued recipient per phone.
// Recipient ids are <id>-r01..<id>-rNN so paging order is predictable.
func (m *memStore) seedCampaign(id string, status domain.CampaignStatus, phones ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.templates["tpl"]; !ok {
		m.templates["tpl"] = &domain.Template{
			ID: "tpl", TenantID: "t1", Name: "promo", Language: "pt_BR",
			Body: "Oi {{1}}!", Variables: []string{"name"}, Status: domain.TemplateStatusApproved,
		}
	}
	if _, ok := m.channels["ch"]; !ok {
		m.channels["ch"] = &domain.Channel{
			ID: "ch", TenantID: "t1", Name: "main", Provider: domain.ProviderMeta,
			ExternalID: "123", AccessToken: "token", Status: domain.ChannelStatusConnected,
		}
	}

	c := &domain.Campaign{
		ID: id, TenantID: "t1", Name: "campaign " + id, TemplateID: "tpl", ChannelID: "ch",
		Status: status, Counters: domain.CampaignCounters{Total: len(phones)},
	}
	m.campaigns[id] = c

	for i, phone := range phones {
		contactID := fmt.Sprintf("%s-c%d", id, i+1)
		m.contacts[contactID] = &domain.Contact{ID: contactID, TenantID: "t1", Phone: phone, Name: fmt.Sprintf("Contact %d", i+1)}
		recID := fmt.Sprintf("%s-r%02d", id, i+1)
		m.recipients[recID] = &domain.Recipient{
			ID: recID, TenantID: "t1", CampaignID: id, ContactID: contactID,
			Phone: phone, Status: domain.RecipientStatusQueued,
		}
	}
}

func stamp(c *domain.Campaign, to domain.CampaignStatus, at time.Time) {
	c.Status = to
	switch to {
	case domain.CampaignStatusRunning:
		if c.StartedAt == nil {
			c.StartedAt = &at
		}
		c.PausedAt = nil
		c.CompletedAt = nil
	case domain.CampaignStatusPaused:
		c.PausedAt = &at
	case domain.CampaignStatusDone, domain.CampaignStatusCancelled:
		c.CompletedAt = &at
	}
}

type memCampaigns struct{ *memStore }

var _ repository.CampaignRepository = (*memCampaigns)(nil)

func (m *memCampaigns) Create(_ context.Context, c *domain.Campaign, recipients []*domain.Recipient) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.campaigns[c.ID] = &cp
	for _, r := range recipients {
		rc := *r
		m.recipients[r.ID] = &rc
	}
	return nil
}

func (m *memCampaigns) get(tenantID, id string) (*domain.Campaign, error) {
	c, ok := m.campaigns[id]
	if !ok || c.TenantID != tenantID {
		return nil, domain.ErrNotFound
	}
	return c, nil
}

func (m *memCampaigns) GetByID(_ context.Context, tenantID, id string) (*domain.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, err := m.get(tenantID, id)
	if err != nil {
		return nil, err
	}
	cp := *c
	return &cp, nil
}

func (m *memCampaigns) List(_ context.Context, tenantID string, params repository.CampaignListParams) ([]domain.Campaign, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Campaign
	for _, c := range m.campaigns {
		if c.TenantID != tenantID || (params.Status != nil && c.Status != *params.Status) {
			continue
		}
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, int64(len(out)), nil
}

func (m *memCampaigns) Transition(_ context.Context, tenantID, id string, to domain.CampaignStatus, at time.Time) (*domain.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, err := m.get(tenantID, id)
	if err != nil {
		return nil, err
	}
	if !c.Status.CanTransitionTo(to) {
		return nil, fmt.Errorf("%w: campaign is %s, cannot move to %s", domain.ErrConflict, c.Status, to)
	}
	stamp(c, to, at)
	cp := *c
	return &cp, nil
}

func (m *memCampaigns) Cancel(_ context.Context, tenantID, id string, at time.Time) (*domain.Campaign, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, err := m.get(tenantID, id)
	if err != nil {
		return nil, 0, err
	}
	if !c.Status.CanTransitionTo(domain.CampaignStatusCancelled) {
		return nil, 0, fmt.Errorf("%w: campaign is %s", domain.ErrConflict, c.Status)
	}
	var skipped int64
	for _, r := range m.recipients {
		if r.CampaignID == id && r.Status == domain.RecipientStatusQueued && r.ClaimedAt == nil {
			r.Status = domain.RecipientStatusSkipped
			msg := "campaign cancelled"
			r.LastError = &msg
			c.Counters.Apply(domain.RecipientStatusQueued, domain.RecipientStatusSkipped)
			skipped++
		}
	}
	stamp(c, domain.CampaignStatusCancelled, at)
	cp := *c
	return &cp, skipped, nil
}

func (m *memCampaigns) ResetFailed(_ context.Context, tenantID, id string, at time.Time) (*domain.Campaign, []string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, err := m.get(tenantID, id)
	if err != nil {
		return nil, nil, err
	}
	if !c.Status.Retryable() {
		return nil, nil, fmt.Errorf("%w: campaign is %s", domain.ErrConflict, c.Status)
	}
	var ids []string
	for _, r := range m.recipients {
		if r.CampaignID == id && r.ResetForRetry() {
			ids = append(ids, r.ID)
			c.Counters.Apply(domain.RecipientStatusFailed, domain.RecipientStatusQueued)
		}
	}
	sort.Strings(ids)
	if len(ids) > 0 {
		stamp(c, domain.CampaignStatusRunning, at)
	}
	cp := *c
	return &cp, ids, nil
}

func (m *memCampaigns) CompleteIfDrained(_ context.Context, tenantID, id string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, err := m.get(tenantID, id)
	if err != nil {
		return false, err
	}
	if c.Status != domain.CampaignStatusRunning {
		return false, nil
	}
	for _, r := range m.recipients {
		if r.CampaignID == id && r.Status == domain.RecipientStatusQueued {
			return false, nil
		}
	}
	stamp(c, domain.CampaignStatusDone, at)
	return true, nil
}

func (m *memCampaigns) ReconcileCounters(_ context.Context, tenantID, id string) (*domain.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, err := m.get(tenantID, id)
	if err != nil {
		return nil, err
	}
	counters := domain.CampaignCounters{}
	for _, r := range m.recipients {
		if r.CampaignID == id {
			counters.Total++
			counters.Apply(domain.RecipientStatusQueued, r.Status)
		}
	}
	c.Counters = counters
	cp := *c
	return &cp, nil
}

func (m *memCampaigns) ListDueScheduled(_ context.Context, now time.Time, limit int) ([]domain.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Campaign
	for _, c := range m.campaigns {
		if c.Status == domain.CampaignStatusScheduled && c.ScheduledAt != nil && !c.ScheduledAt.After(now) {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memCampaigns) Delete(_ context.Context, tenantID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, err := m.get(tenantID, id)
	if err != nil {
		return err
	}
	if c.Status == domain.CampaignStatusRunning {
		return fmt.Errorf("%w: running campaign cannot be deleted", domain.ErrConflict)
	}
	delete(m.campaigns, id)
	for rid, r := range m.recipients {
		if r.CampaignID == id {
			delete(m.recipients, rid)
		}
	}
	return nil
}

func (m *memCampaigns) Totals(_ context.Context, tenantID string) (*repository.DashboardTotals, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	totals := &repository.DashboardTotals{CampaignsByStatus: make(map[domain.CampaignStatus]int64)}
	for _, c := range m.campaigns {
		if c.TenantID != tenantID {
			continue
		}
		totals.CampaignsByStatus[c.Status]++
		totals.Counters.Total += c.Counters.Total
		totals.Counters.Sent += c.Counters.Sent
		totals.Counters.Delivered += c.Counters.Delivered
		totals.Counters.Read += c.Counters.Read
		totals.Counters.Failed += c.Counters.Failed
		totals.Counters.Skipped += c.Counters.Skipped
	}
	return totals, nil
}

type memRecipients struct{ *memStore }

var _ repository.RecipientRepository = (*memRecipients)(nil)

func (m *memRecipients) GetByID(_ context.Context, tenantID, id string) (*domain.Recipient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.recipients[id]
	if !ok || r.TenantID != tenantID {
		return nil, domain.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *memRecipients) ListQueued(_ context.Context, campaignID string, restrictTo []string, afterID string, limit int) ([]domain.Recipient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	allowed := make(map[string]bool, len(restrictTo))
	for _, id := range restrictTo {
		allowed[id] = true
	}
	var out []domain.Recipient
	for _, r := range m.recipients {
		if r.CampaignID != campaignID || r.Status != domain.RecipientStatusQueued || r.ClaimedAt != nil {
			continue
		}
		if len(restrictTo) > 0 && !allowed[r.ID] {
			continue
		}
		if afterID != "" && r.ID <= afterID {
			continue
		}
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memRecipients) Claim(_ context.Context, id string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.recipients[id]
	if !ok || r.Status != domain.RecipientStatusQueued || r.ClaimedAt != nil {
		return false, nil
	}
	r.ClaimedAt = &at
	r.AttemptCount++
	return true, nil
}

func (m *memRecipients) ReleaseClaim(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.recipients[id]; ok && r.Status == domain.RecipientStatusQueued && r.ClaimedAt != nil {
		r.ClaimedAt = nil
		r.AttemptCount--
	}
	return nil
}

func (m *memRecipients) Transition(_ context.Context, tenantID, id string, change domain.RecipientChange) (*repository.TransitionResult, error) {
	return m.transition(change, func(r *domain.Recipient) bool {
		return r.ID == id && r.TenantID == tenantID
	})
}

func (m *memRecipients) TransitionByProviderMessageID(_ context.Context, tenantID, providerMessageID string, change domain.RecipientChange) (*repository.TransitionResult, error) {
	return m.transition(change, func(r *domain.Recipient) bool {
		return r.TenantID == tenantID && r.ProviderMessageID != nil && *r.ProviderMessageID == providerMessageID
	})
}

func (m *memRecipients) transition(change domain.RecipientChange, match func(*domain.Recipient) bool) (*repository.TransitionResult, error) {
	if err := change.Validate(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.transitionErr != nil {
		return nil, m.transitionErr
	}
	if m.transitionHook != nil {
		if err := m.transitionHook(change); err != nil {
			return nil, err
		}
	}
	for _, r := range m.recipients {
		if !match(r) {
			continue
		}
		result := &repository.TransitionResult{From: r.Status}
		assignsID := r.ProviderMessageID == nil
		if r.Apply(change) {
			if assignsID && r.ProviderMessageID != nil {
				m.replayPending(r)
			}
			result.Applied = true
			m.campaigns[r.CampaignID].Counters.Apply(result.From, r.Status)
		}
		cp := *r
		result.Recipient = &cp
		return result, nil
	}
	return nil, domain.ErrNotFound
}

// replayPending mirrors the postgres replay of parked receipts. Callers hold mu.
func (m *memStore) replayPending(r *domain.Recipient) {
	if r.ProviderMessageID == nil {
		return
	}
	kept := m.pending[:0]
	for _, p := range m.pending {
		if p.TenantID == r.TenantID && p.Event.ProviderMessageID == *r.ProviderMessageID {
			r.Apply(p.Event.Change())
			continue
		}
		kept = append(kept, p)
	}
	m.pending = kept
}

func (m *memRecipients) RecentFailures(_ context.Context, tenantID string, since time.Time, limit int) ([]domain.OutcomeEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.OutcomeEvent
	for _, r := range m.recipients {
		if r.TenantID != tenantID || r.Status != domain.RecipientStatusFailed || r.FailedAt == nil || r.FailedAt.Before(since) {
			continue
		}
		ev := domain.OutcomeEvent{At: *r.FailedAt}
		if r.ErrorCode != nil {
			ev.ErrorCode = *r.ErrorCode
		}
		out = append(out, ev)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].At.After(out[j].At) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memRecipients) ListStaleClaims(_ context.Context, claimedBefore time.Time, limit int) ([]domain.Recipient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Recipient
	for _, r := range m.recipients {
		if r.Status == domain.RecipientStatusQueued && r.ClaimedAt != nil && r.ClaimedAt.Before(claimedBefore) {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memRecipients) List(_ context.Context, tenantID, campaignID string, params repository.RecipientListParams) ([]domain.Recipient, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Recipient
	for _, r := range m.recipients {
		if r.TenantID != tenantID || r.CampaignID != campaignID {
			continue
		}
		if params.Status != nil && r.Status != *params.Status {
			continue
		}
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, int64(len(out)), nil
}

type memContacts struct{ *memStore }

var _ repository.ContactRepository = (*memContacts)(nil)

func (m *memContacts) Create(_ context.Context, c *domain.Contact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.contacts {
		if existing.TenantID == c.TenantID && existing.Phone == c.Phone {
			return domain.ErrConflict
		}
	}
	cp := *c
	m.contacts[c.ID] = &cp
	return nil
}

func (m *memContacts) InsertMany(ctx context.Context, contacts []*domain.Contact) (int64, error) {
	var created int64
	for _, c := range contacts {
		if err := m.Create(ctx, c); err == nil {
			created++
		}
	}
	return created, nil
}

func (m *memContacts) GetByID(_ context.Context, tenantID, id string) (*domain.Contact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contacts[id]
	if !ok || c.TenantID != tenantID {
		return nil, domain.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memContacts) GetByPhone(_ context.Context, tenantID, phone string) (*domain.Contact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.contacts {
		if c.TenantID == tenantID && c.Phone == phone {
			cp := *c
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memContacts) ListByIDs(_ context.Context, tenantID string, ids []string) ([]domain.Contact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Contact
	for _, id := range ids {
		if c, ok := m.contacts[id]; ok && c.TenantID == tenantID {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (m *memContacts) List(_ context.Context, tenantID string, params repository.ContactListParams) ([]domain.Contact, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Contact
	for _, c := range m.contacts {
		if c.TenantID != tenantID {
			continue
		}
		if params.Search != "" && !strings.Contains(c.Name, params.Search) && !strings.Contains(c.Phone, params.Search) {
			continue
		}
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, int64(len(out)), nil
}

func (m *memContacts) Delete(_ context.Context, tenantID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contacts[id]
	if !ok || c.TenantID != tenantID {
		return domain.ErrNotFound
	}
	delete(m.contacts, id)
	return nil
}

func (m *memContacts) Count(_ context.Context, tenantID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, c := range m.contacts {
		if c.TenantID == tenantID {
			n++
		}
	}
	return n, nil
}

type memTemplates struct{ *memStore }

var _ repository.TemplateRepository = (*memTemplates)(nil)

func (m *memTemplates) Upsert(_ context.Context, t *domain.Template) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.templates {
		if existing.TenantID == t.TenantID && existing.Name == t.Name && existing.Language == t.Language {
			t.ID = existing.ID
		}
	}
	cp := *t
	m.templates[t.ID] = &cp
	return nil
}

func (m *memTemplates) GetByID(_ context.Context, tenantID, id string) (*domain.Template, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.templates[id]
	if !ok || t.TenantID != tenantID {
		return nil, domain.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *memTemplates) List(_ context.Context, tenantID string) ([]domain.Template, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Template
	for _, t := range m.templates {
		if t.TenantID == tenantID {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (m *memTemplates) SetStatus(_ context.Context, tenantID, id string, status domain.TemplateStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.templates[id]
	if !ok || t.TenantID != tenantID {
		return domain.ErrNotFound
	}
	t.Status = status
	return nil
}

type memChannels struct{ *memStore }

var _ repository.ChannelRepository = (*memChannels)(nil)

func (m *memChannels) Create(_ context.Context, c *domain.Channel) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.channels[c.ID] = &cp
	return nil
}

func (m *memChannels) GetByID(_ context.Context, tenantID, id string) (*domain.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.channels[id]
	if !ok || c.TenantID != tenantID {
		return nil, domain.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memChannels) Lookup(_ context.Context, id string) (*domain.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.channels[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memChannels) List(_ context.Context, tenantID string) ([]domain.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Channel
	for _, c := range m.channels {
		if c.TenantID == tenantID {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (m *memChannels) SetStatus(_ context.Context, tenantID, id string, status domain.ChannelStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.channels[id]
	if !ok || c.TenantID != tenantID {
		return domain.ErrNotFound
	}
	c.Status = status
	return nil
}

type memAttempts struct{ *memStore }

var _ repository.AttemptRepository = (*memAttempts)(nil)

func (m *memAttempts) Create(_ context.Context, a *domain.SendAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts = append(m.attempts, *a)
	return nil
}

func (m *memAttempts) GetByRecipientID(_ context.Context, tenantID, recipientID string) ([]domain.SendAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.SendAttempt
	for _, a := range m.attempts {
		if a.TenantID == tenantID && a.RecipientID == recipientID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *memAttempts) RecentOutcomes(_ context.Context, tenantID string, since time.Time, limit int) ([]domain.OutcomeEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.OutcomeEvent
	for _, a := range m.attempts {
		if a.TenantID != tenantID || a.CreatedAt.Before(since) {
			continue
		}
		ev := domain.OutcomeEvent{At: a.CreatedAt, Success: a.Error == nil}
		if a.ErrorCode != nil {
			ev.ErrorCode = *a.ErrorCode
		}
		out = append(out, ev)
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type memInbound struct{ *memStore }

var _ repository.InboundMessageRepository = (*memInbound)(nil)

func (m *memInbound) Save(_ context.Context, msg *domain.InboundMessage) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := msg.ChannelID + "|" + msg.ProviderMessageID
	if _, ok := m.inbound[key]; ok {
		return false, nil
	}
	cp := *msg
	m.inbound[key] = &cp
	return true, nil
}

func (m *memInbound) List(_ context.Context, tenantID string, params repository.InboxListParams) ([]domain.InboundMessage, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.InboundMessage
	for _, msg := range m.inbound {
		if msg.TenantID == tenantID && (params.ChannelID == "" || msg.ChannelID == params.ChannelID) {
			out = append(out, *msg)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReceivedAt.After(out[j].ReceivedAt) })
	return out, int64(len(out)), nil
}

type memPending struct{ *memStore }

var _ repository.PendingReceiptRepository = (*memPending)(nil)

func (m *memPending) Save(_ context.Context, receipt *domain.PendingReceipt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.pending {
		if p.TenantID == receipt.TenantID && p.Event.ProviderMessageID == receipt.Event.ProviderMessageID && p.Event.Status == receipt.Event.Status {
			return nil
		}
	}
	m.pending = append(m.pending, *receipt)
	return nil
}

func (m *memPending) ListMatched(_ context.Context, limit int) ([]domain.PendingReceipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.PendingReceipt
	for _, p := range m.pending {
		for _, r := range m.recipients {
			if r.TenantID == p.TenantID && r.ProviderMessageID != nil && *r.ProviderMessageID == p.Event.ProviderMessageID {
				out = append(out, p)
				break
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Event.At.Before(out[j].Event.At) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memPending) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, p := range m.pending {
		if p.ID == id {
			m.pending = append(m.pending[:i], m.pending[i+1:]...)
			return nil
		}
	}
	return nil
}

func (m *memPending) PruneBefore(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.pending[:0]
	var pruned int64
	for _, p := range m.pending {
		if p.ReceivedAt.Before(before) {
			pruned++
			continue
		}
		kept = append(kept, p)
	}
	m.pending = kept
	return pruned, nil
}

func (m *memStore) pendingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

type fakeProvider struct {
	mu     sync.Mutex
	calls  []provider.SendRequest
	sendFn func(ctx context.Context, req provider.SendRequest) (*provider.SendResponse, error)
}

func (f *fakeProvider) Kind() domain.ProviderKind { return domain.ProviderMeta }

func (f *fakeProvider) Send(ctx context.Context, req provider.SendRequest) (*provider.SendResponse, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	n := len(f.calls)
	f.mu.Unlock()
	if f.sendFn != nil {
		return f.sendFn(ctx, req)
	}
	return &provider.SendResponse{StatusCode: 200, MessageID: fmt.Sprintf("wamid.%d", n), Endpoint: "https://graph.test/messages"}, nil
}

func (f *fakeProvider) sentTo() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.calls))
	for _, c := range f.calls {
		out = append(out, c.To)
	}
	sort.Strings(out)
	return out
}

type fakeFactory struct {
	provider  provider.Provider
	forChanFn func(ch domain.Channel) (provider.Provider, error)
}

func (f *fakeFactory) ForChannel(ch domain.Channel) (provider.Provider, error) {
	if f.forChanFn != nil {
		return f.forChanFn(ch)
	}
	return f.provider, nil
}

type fakeRateLimiter struct {
	allowFn func(ctx context.Context, key string) (bool, error)
	waitFn  func(ctx context.Context, key string) error
}

func (f *fakeRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	if f.allowFn != nil {
		return f.allowFn(ctx, key)
	}
	return true, nil
}

func (f *fakeRateLimiter) Wait(ctx context.Context, key string) error {
	if f.waitFn != nil {
		return f.waitFn(ctx, key)
	}
	return nil
}

var _ ratelimit.RateLimiter = (*fakeRateLimiter)(nil)

// fakeLocker is an in-process CampaignLocker.
type fakeLocker struct {
	mu        sync.Mutex
	held      map[string]bool
	refreshFn func(campaignID string) error
	acquireFn func(campaignID string) error
}

func newFakeLocker() *fakeLocker {
	return &fakeLocker{held: make(map[string]bool)}
}

func (f *fakeLocker) Acquire(_ context.Context, campaignID string) (CampaignLock, error) {
	if f.acquireFn != nil {
		if err := f.acquireFn(campaignID); err != nil {
			return nil, err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.held[campaignID] {
		return nil, fmt.Errorf("%w: dispatch in progress", domain.ErrLocked)
	}
	f.held[campaignID] = true
	return &fakeLock{locker: f, campaignID: campaignID}, nil
}

func (f *fakeLocker) Held(_ context.Context, campaignID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.held[campaignID], nil
}

type fakeLock struct {
	locker     *fakeLocker
	campaignID string
}

func (l *fakeLock) Refresh(context.Context) error {
	if l.locker.refreshFn != nil {
		return l.locker.refreshFn(l.campaignID)
	}
	return nil
}

func (l *fakeLock) Release(context.Context) error {
	l.locker.mu.Lock()
	defer l.locker.mu.Unlock()
	delete(l.locker.held, l.campaignID)
	return nil
}

type fakePublisher struct {
	mu        sync.Mutex
	jobs      []queue.DispatchJob
	publishFn func(ctx context.Context, queueName string, job queue.DispatchJob) error
}

func (f *fakePublisher) Publish(ctx context.Context, queueName string, job queue.DispatchJob) error {
	if f.publishFn != nil {
		if err := f.publishFn(ctx, queueName, job); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs = append(f.jobs, job)
	return nil
}

func (f *fakePublisher) Close() error { return nil }

func (f *fakePublisher) published() []queue.DispatchJob {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]queue.DispatchJob(nil), f.jobs...)
}

type fakeConsumer struct {
	consumeFn func(ctx context.Context, queueName string, handler queue.MessageHandler) error
}

func (f *fakeConsumer) Consume(ctx context.Context, queueName string, handler queue.MessageHandler) error {
	if f.consumeFn != nil {
		return f.consumeFn(ctx, queueName, handler)
	}
	return nil
}

func (f *fakeConsumer) Close() error { return nil }
