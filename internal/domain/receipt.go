package domain

import "time"

// StatusEvent is a provider delivery receipt for a previously sent message.
type StatusEvent struct {
	ProviderMessageID string
	Status            RecipientStatus
	At                time.Time
	ErrorCode         string
	ErrorText         string
	RecipientPhone    string
}

func (e StatusEvent) Change() RecipientChange {
	return RecipientChange{
		Status:            e.Status,
		At:                e.At,
		ProviderMessageID: e.ProviderMessageID,
		ErrorCode:         e.ErrorCode,
		ErrorText:         e.ErrorText,
	}
}

// PendingReceipt is a status event whose message id matched no recipient
// when it arrived. Providers can report delivery before the send result is
// stored, so these are kept briefly and replayed once the id is known.
type PendingReceipt struct {
	ID         string
	TenantID   string
	Event      StatusEvent
	ReceivedAt time.Time
}

// InboundMessage is a contact-originated message shown in the inbox.
type InboundMessage struct {
	ID                string
	TenantID          string
	ChannelID         string
	ProviderMessageID string
	FromPhone         string
	ContactName       string
	Type              string
	Body              string
	ReceivedAt        time.Time
	CreatedAt         time.Time
}
