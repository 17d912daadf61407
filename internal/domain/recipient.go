package domain

import (
	"fmt"
	"strings"
	"time"
)

// RecipientStatus follows the WhatsApp delivery lifecycle.
type RecipientStatus string

const (
	RecipientStatusQueued    RecipientStatus = "queued"
	RecipientStatusSent      RecipientStatus = "sent"
	RecipientStatusDelivered RecipientStatus = "delivered"
	RecipientStatusRead      RecipientStatus = "read"
	RecipientStatusFailed    RecipientStatus = "failed"
	RecipientStatusSkipped   RecipientStatus = "skipped"
)

func (s RecipientStatus) String() string { return string(s) }

func (s RecipientStatus) IsValid() bool {
	switch s {
	case RecipientStatusQueued, RecipientStatusSent, RecipientStatusDelivered,
		RecipientStatusRead, RecipientStatusFailed, RecipientStatusSkipped:
		return true
	}
	return false
}

func ParseRecipientStatusFromString(s string) (RecipientStatus, error) {
	st := RecipientStatus(strings.ToLower(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid recipient status %q", ErrValidation, s)
	}
	return st, nil
}

// rank orders the forward delivery path; failed and skipped sit outside it.
func (s RecipientStatus) rank() int {
	switch s {
	case RecipientStatusQueued:
		return 0
	case RecipientStatusSent:
		return 1
	case RecipientStatusDelivered:
		return 2
	case RecipientStatusRead:
		return 3
	}
	return -1
}

// CanAdvance reports whether a dispatch or receipt may move from -> to.
// Re-queueing a failed recipient is not an advance; see ResetForRetry.
func CanAdvance(from, to RecipientStatus) bool {
	if from == to {
		return false
	}
	switch to {
	case RecipientStatusFailed:
		return from == RecipientStatusQueued || from == RecipientStatusSent
	case RecipientStatusSkipped:
		return from == RecipientStatusQueued
	case RecipientStatusSent, RecipientStatusDelivered, RecipientStatusRead:
		fromRank := from.rank()
		return fromRank >= 0 && fromRank < to.rank()
	}
	return false
}

// Recipient tracks one contact's delivery outcome within a campaign.
type Recipient struct {
	ID                string
	TenantID          string
	CampaignID        string
	ContactID         string
	Phone             string
	Status            RecipientStatus
	ProviderMessageID *string
	ErrorCode         *string
	LastError         *string
	AttemptCount      int
	ClaimedAt         *time.Time
	SentAt            *time.Time
	DeliveredAt       *time.Time
	ReadAt            *time.Time
	FailedAt          *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// RecipientChange is a requested status move with its outcome detail.
type RecipientChange struct {
	Status            RecipientStatus
	At                time.Time
	ProviderMessageID string
	ErrorCode         string
	ErrorText         string
}

func (c RecipientChange) Validate() error {
	if !c.Status.IsValid() || c.Status == RecipientStatusQueued {
		return fmt.Errorf("%w: invalid target status %q", ErrValidation, c.Status)
	}
	if c.At.IsZero() {
		return fmt.Errorf("%w: change timestamp is required", ErrValidation)
	}
	return nil
}

// Apply mutates r according to c. It returns false and leaves r untouched when
// the move is not a forward advance, which makes repeated receipts no-ops.
func (r *Recipient) Apply(c RecipientChange) bool {
	if !CanAdvance(r.Status, c.Status) {
		return false
	}

	at := c.At
	r.Status = c.Status
	r.ClaimedAt = nil
	if id := strings.TrimSpace(c.ProviderMessageID); id != "" && r.ProviderMessageID == nil {
		r.ProviderMessageID = &id
	}

	switch c.Status {
	case RecipientStatusSent:
		r.SentAt = &at
	case RecipientStatusDelivered:
		if r.SentAt == nil {
			r.SentAt = &at
		}
		r.DeliveredAt = &at
	case RecipientStatusRead:
		if r.SentAt == nil {
			r.SentAt = &at
		}
		if r.DeliveredAt == nil {
			r.DeliveredAt = &at
		}
		r.ReadAt = &at
	case RecipientStatusFailed, RecipientStatusSkipped:
		if c.Status == RecipientStatusFailed {
			r.FailedAt = &at
		}
		if code := strings.TrimSpace(c.ErrorCode); code != "" {
			r.ErrorCode = &code
		}
		if text := strings.TrimSpace(c.ErrorText); text != "" {
			r.LastError = &text
		}
	}

	return true
}

// ResetForRetry moves a failed recipient back to queued. The last error is
// kept for the operator until the next attempt overwrites it.
func (r *Recipient) ResetForRetry() bool {
	if r.Status != RecipientStatusFailed {
		return false
	}
	r.Status = RecipientStatusQueued
	r.ClaimedAt = nil
	r.ProviderMessageID = nil
	r.FailedAt = nil
	r.SentAt = nil
	return true
}
