package domain

import "time"

// SendAttempt records a single provider call for a recipient.
type SendAttempt struct {
	ID                string
	TenantID          string
	RecipientID       string
	CampaignID        string
	AttemptNumber     int
	Provider          ProviderKind
	Endpoint          string
	StatusCode        *int
	ResponseBody      *string
	ProviderMessageID *string
	ErrorCode         *string
	Error             *string
	Duration          time.Duration
	CreatedAt         time.Time
}

// Succeeded reports whether the provider accepted the message.
func (a SendAttempt) Succeeded() bool {
	return a.Error == nil
}
