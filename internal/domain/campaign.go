package domain

import (
	"fmt"
	"strings"
	"time"
)

// CampaignStatus represents the lifecycle state of a campaign.
type CampaignStatus string

const (
	CampaignStatusDraft     CampaignStatus = "draft"
	CampaignStatusScheduled CampaignStatus = "scheduled"
	CampaignStatusRunning   CampaignStatus = "running"
	CampaignStatusPaused    CampaignStatus = "paused"
	CampaignStatusDone      CampaignStatus = "done"
	CampaignStatusCancelled CampaignStatus = "cancelled"
)

func (s CampaignStatus) String() string { return string(s) }

func (s CampaignStatus) IsValid() bool {
	switch s {
	case CampaignStatusDraft, CampaignStatusScheduled, CampaignStatusRunning,
		CampaignStatusPaused, CampaignStatusDone, CampaignStatusCancelled:
		return true
	}
	return false
}

func ParseCampaignStatusFromString(s string) (CampaignStatus, error) {
	st := CampaignStatus(strings.ToLower(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid campaign status %q", ErrValidation, s)
	}
	return st, nil
}

var campaignTransitions = map[CampaignStatus][]CampaignStatus{
	CampaignStatusDraft:     {CampaignStatusScheduled, CampaignStatusRunning, CampaignStatusCancelled},
	CampaignStatusScheduled: {CampaignStatusRunning, CampaignStatusCancelled},
	CampaignStatusRunning:   {CampaignStatusPaused, CampaignStatusDone, CampaignStatusCancelled},
	CampaignStatusPaused:    {CampaignStatusRunning, CampaignStatusCancelled},
	// done -> running is only taken by a retry of the failed subset.
	CampaignStatusDone: {CampaignStatusRunning},
}

// CanTransitionTo reports whether the campaign lifecycle allows s -> next.
func (s CampaignStatus) CanTransitionTo(next CampaignStatus) bool {
	for _, allowed := range campaignTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Retryable reports whether failed recipients may be re-queued in this state.
func (s CampaignStatus) Retryable() bool {
	return s == CampaignStatusPaused || s == CampaignStatusDone
}

// CampaignCounters are disjoint per-status buckets; queued is derived.
type CampaignCounters struct {
	Total     int
	Sent      int
	Delivered int
	Read      int
	Failed    int
	Skipped   int
}

func (c CampaignCounters) Queued() int {
	queued := c.Total - c.Sent - c.Delivered - c.Read - c.Failed - c.Skipped
	if queued < 0 {
		return 0
	}
	return queued
}

// Complete is true only when every recipient reached a successful or skipped
// outcome; failures keep a campaign from being reported as fully successful.
func (c CampaignCounters) Complete() bool {
	return c.Queued() == 0 && c.Failed == 0
}

// Apply moves one recipient between buckets.
func (c *CampaignCounters) Apply(from, to RecipientStatus) {
	c.add(from, -1)
	c.add(to, 1)
}

func (c *CampaignCounters) add(status RecipientStatus, delta int) {
	switch status {
	case RecipientStatusSent:
		c.Sent += delta
	case RecipientStatusDelivered:
		c.Delivered += delta
	case RecipientStatusRead:
		c.Read += delta
	case RecipientStatusFailed:
		c.Failed += delta
	case RecipientStatusSkipped:
		c.Skipped += delta
	}
}

// Campaign is a bulk template send to a set of tenant contacts.
type Campaign struct {
	ID          string
	TenantID    string
	Name        string
	TemplateID  string
	ChannelID   string
	Variables   map[string]string
	Status      CampaignStatus
	Counters    CampaignCounters
	ScheduledAt *time.Time
	StartedAt   *time.Time
	PausedAt    *time.Time
	CompletedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (c *Campaign) Validate() error {
	if strings.TrimSpace(c.TenantID) == "" {
		return fmt.Errorf("%w: tenant is required", ErrValidation)
	}
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("%w: campaign name is required", ErrValidation)
	}
	if strings.TrimSpace(c.TemplateID) == "" {
		return fmt.Errorf("%w: template is required", ErrValidation)
	}
	if strings.TrimSpace(c.ChannelID) == "" {
		return fmt.Errorf("%w: channel is required", ErrValidation)
	}
	if !c.Status.IsValid() {
		return fmt.Errorf("%w: invalid campaign status %q", ErrValidation, c.Status)
	}
	return nil
}
