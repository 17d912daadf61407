package domain

import (
	"errors"
	"testing"
)

func TestCampaignStatusTransitions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		from CampaignStatus
		to   CampaignStatus
		want bool
	}{
		{from: CampaignStatusDraft, to: CampaignStatusRunning, want: true},
		{from: CampaignStatusScheduled, to: CampaignStatusRunning, want: true},
		{from: CampaignStatusRunning, to: CampaignStatusPaused, want: true},
		{from: CampaignStatusPaused, to: CampaignStatusRunning, want: true},
		{from: CampaignStatusRunning, to: CampaignStatusDone, want: true},
		{from: CampaignStatusDone, to: CampaignStatusRunning, want: true},
		{from: CampaignStatusCancelled, to: CampaignStatusRunning, want: false},
		{from: CampaignStatusDone, to: CampaignStatusPaused, want: false},
		{from: CampaignStatusDraft, to: CampaignStatusDone, want: false},
		{from: CampaignStatusPaused, to: CampaignStatusDone, want: false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			t.Parallel()

			if got := tt.from.CanTransitionTo(tt.to); got != tt.want {
				t.Fatalf("CanTransitionTo() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCampaignStatusRetryable(t *testing.T) {
	t.Parallel()

	retryable := map[CampaignStatus]bool{
		CampaignStatusDraft:     false,
		CampaignStatusScheduled: false,
		CampaignStatusRunning:   false,
		CampaignStatusPaused:    true,
		CampaignStatusDone:      true,
		CampaignStatusCancelled: false,
	}
	for status, want := range retryable {
		if got := status.Retryable(); got != want {
			t.Fatalf("%s.Retryable() = %v, want %v", status, got, want)
		}
	}
}

func TestCampaignCountersApply(t *testing.T) {
	t.Parallel()

	c := CampaignCounters{Total: 3}
	c.Apply(RecipientStatusQueued, RecipientStatusSent)
	c.Apply(RecipientStatusQueued, RecipientStatusFailed)
	c.Apply(RecipientStatusQueued, RecipientStatusFailed)

	if c.Sent != 1 || c.Failed != 2 || c.Queued() != 0 {
		t.Fatalf("counters = %+v (queued=%d), want sent=1 failed=2 queued=0", c, c.Queued())
	}
	if c.Complete() {
		t.Fatal("campaign with failures must not be complete")
	}

	c.Apply(RecipientStatusSent, RecipientStatusDelivered)
	if c.Sent != 0 || c.Delivered != 1 {
		t.Fatalf("counters = %+v, want sent=0 delivered=1", c)
	}
	if c.Sent+c.Failed > c.Total {
		t.Fatalf("sent+failed = %d exceeds total %d", c.Sent+c.Failed, c.Total)
	}

	c.Apply(RecipientStatusFailed, RecipientStatusQueued)
	c.Apply(RecipientStatusFailed, RecipientStatusQueued)
	if c.Failed != 0 || c.Queued() != 2 {
		t.Fatalf("counters after reset = %+v (queued=%d), want failed=0 queued=2", c, c.Queued())
	}
}

func TestCampaignValidate(t *testing.T) {
	t.Parallel()

	c := Campaign{TenantID: "t1", Name: "promo", TemplateID: "tpl", ChannelID: "ch", Status: CampaignStatusDraft}
	if err := c.Validate(); err != nil {
		t.Fatalf("Validate() unexpected error = %v", err)
	}

	c.Name = " "
	if err := c.Validate(); !errors.Is(err, ErrValidation) {
		t.Fatalf("Validate() error = %v, want ErrValidation", err)
	}
}
