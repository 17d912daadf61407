package repository

import (
	"time"

	"github.com/kursadbilgin/campaign-engine/internal/domain"
)

// ContactModel is the persistence model for the contacts table.
type ContactModel struct {
	ID         string            `gorm:"type:uuid;primaryKey"`
	TenantID   string            `gorm:"type:varchar(64);not null;uniqueIndex:idx_contacts_tenant_phone"`
	Phone      string            `gorm:"type:varchar(20);not null;uniqueIndex:idx_contacts_tenant_phone"`
	Name       string            `gorm:"type:varchar(255);not null;default:''"`
	Attributes map[string]string `gorm:"type:jsonb;serializer:json"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (ContactModel) TableName() string {
	return "contacts"
}

// TemplateModel is the persistence model for mirrored provider templates.
type TemplateModel struct {
	ID        string                `gorm:"type:uuid;primaryKey"`
	TenantID  string                `gorm:"type:varchar(64);not null;uniqueIndex:idx_templates_tenant_name_lang"`
	Name      string                `gorm:"type:varchar(255);not null;uniqueIndex:idx_templates_tenant_name_lang"`
	Language  string                `gorm:"type:varchar(16);not null;uniqueIndex:idx_templates_tenant_name_lang"`
	Category  string                `gorm:"type:varchar(32);not null;default:''"`
	Body      string                `gorm:"type:text;not null"`
	Variables []string              `gorm:"type:jsonb;serializer:json"`
	Status    domain.TemplateStatus `gorm:"type:varchar(20);not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (TemplateModel) TableName() string {
	return "templates"
}

// ChannelModel is the persistence model for tenant provider channels.
type ChannelModel struct {
	ID          string               `gorm:"type:uuid;primaryKey"`
	TenantID    string               `gorm:"type:varchar(64);not null;index"`
	Name        string               `gorm:"type:varchar(255);not null"`
	Provider    domain.ProviderKind  `gorm:"type:varchar(20);not null"`
	PhoneNumber string               `gorm:"type:varchar(20);not null;default:''"`
	ExternalID  string               `gorm:"type:varchar(255);not null;default:''"`
	AccessToken string               `gorm:"type:text;not null"`
	BaseURL     string               `gorm:"type:varchar(512);not null;default:''"`
	AppSecret   string               `gorm:"type:varchar(255);not null;default:''"`
	VerifyToken string               `gorm:"type:varchar(255);not null;default:''"`
	Status      domain.ChannelStatus `gorm:"type:varchar(20);not null"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (ChannelModel) TableName() string {
	return "channels"
}

// CampaignModel stores campaign lifecycle and its materialized status counters.
type CampaignModel struct {
	ID             string                `gorm:"type:uuid;primaryKey"`
	TenantID       string                `gorm:"type:varchar(64);not null"`
	Name           string                `gorm:"type:varchar(255);not null"`
	TemplateID     string                `gorm:"type:uuid;not null"`
	ChannelID      string                `gorm:"type:uuid;not null"`
	Variables      map[string]string     `gorm:"type:jsonb;serializer:json"`
	Status         domain.CampaignStatus `gorm:"type:varchar(20);not null"`
	TotalCount     int                   `gorm:"not null;default:0"`
	SentCount      int                   `gorm:"not null;default:0"`
	DeliveredCount int                   `gorm:"not null;default:0"`
	ReadCount      int                   `gorm:"not null;default:0"`
	FailedCount    int                   `gorm:"not null;default:0"`
	SkippedCount   int                   `gorm:"not null;default:0"`
	ScheduledAt    *time.Time            `gorm:"type:timestamptz"`
	StartedAt      *time.Time            `gorm:"type:timestamptz"`
	PausedAt       *time.Time            `gorm:"type:timestamptz"`
	CompletedAt    *time.Time            `gorm:"type:timestamptz"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (CampaignModel) TableName() string {
	return "campaigns"
}

// RecipientModel is the persistence model for campaign_recipients.
type RecipientModel struct {
	ID                string                 `gorm:"type:uuid;primaryKey"`
	TenantID          string                 `gorm:"type:varchar(64);not null"`
	CampaignID        string                 `gorm:"type:uuid;not null"`
	ContactID         string                 `gorm:"type:uuid;not null"`
	Phone             string                 `gorm:"type:varchar(20);not null"`
	Status            domain.RecipientStatus `gorm:"type:varchar(20);not null"`
	ProviderMessageID *string                `gorm:"type:varchar(255)"`
	ErrorCode         *string                `gorm:"type:varchar(64)"`
	LastError         *string                `gorm:"type:text"`
	AttemptCount      int                    `gorm:"not null;default:0"`
	ClaimedAt         *time.Time             `gorm:"type:timestamptz"`
	SentAt            *time.Time             `gorm:"type:timestamptz"`
	DeliveredAt       *time.Time             `gorm:"type:timestamptz"`
	ReadAt            *time.Time             `gorm:"type:timestamptz"`
	FailedAt          *time.Time             `gorm:"type:timestamptz"`
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (RecipientModel) TableName() string {
	return "campaign_recipients"
}

// SendAttemptModel is one provider call for a recipient.
type SendAttemptModel struct {
	ID                string              `gorm:"type:uuid;primaryKey"`
	TenantID          string              `gorm:"type:varchar(64);not null"`
	RecipientID       string              `gorm:"type:uuid;not null"`
	CampaignID        string              `gorm:"type:uuid;not null"`
	AttemptNumber     int                 `gorm:"not null"`
	Provider          domain.ProviderKind `gorm:"type:varchar(20);not null"`
	Endpoint          string              `gorm:"type:varchar(512);not null;default:''"`
	StatusCode        *int                `gorm:"type:int"`
	ResponseBody      *string             `gorm:"type:text"`
	ProviderMessageID *string             `gorm:"type:varchar(255)"`
	ErrorCode         *string             `gorm:"type:varchar(64)"`
	Error             *string             `gorm:"type:text"`
	DurationMS        int64               `gorm:"not null;default:0"`
	CreatedAt         time.Time
}

func (SendAttemptModel) TableName() string {
	return "send_attempts"
}

// InboundMessageModel backs the live inbox.
type InboundMessageModel struct {
	ID                string    `gorm:"type:uuid;primaryKey"`
	TenantID          string    `gorm:"type:varchar(64);not null"`
	ChannelID         string    `gorm:"type:uuid;not null"`
	ProviderMessageID string    `gorm:"type:varchar(255);not null"`
	FromPhone         string    `gorm:"type:varchar(32);not null"`
	ContactName       string    `gorm:"type:varchar(255);not null;default:''"`
	Type              string    `gorm:"type:varchar(32);not null;default:''"`
	Body              string    `gorm:"type:text;not null;default:''"`
	ReceivedAt        time.Time `gorm:"type:timestamptz;not null"`
	CreatedAt         time.Time
}

func (InboundMessageModel) TableName() string {
	return "inbound_messages"
}

// PendingReceiptModel parks a status event until its message id is stored.
type PendingReceiptModel struct {
	ID                string                 `gorm:"type:uuid;primaryKey"`
	TenantID          string                 `gorm:"type:varchar(64);not null"`
	ProviderMessageID string                 `gorm:"type:varchar(255);not null"`
	Status            domain.RecipientStatus `gorm:"type:varchar(20);not null"`
	EventAt           time.Time              `gorm:"type:timestamptz;not null"`
	ErrorCode         string                 `gorm:"type:varchar(64);not null;default:''"`
	ErrorText         string                 `gorm:"type:text;not null;default:''"`
	ReceivedAt        time.Time              `gorm:"type:timestamptz;not null"`
}

func (PendingReceiptModel) TableName() string {
	return "pending_receipts"
}

func contactModelFromDomain(c *domain.Contact) *ContactModel {
	if c == nil {
		return nil
	}

	return &ContactModel{
		ID:         c.ID,
		TenantID:   c.TenantID,
		Phone:      c.Phone,
		Name:       c.Name,
		Attributes: c.Attributes,
		CreatedAt:  c.CreatedAt,
		UpdatedAt:  c.UpdatedAt,
	}
}

func contactModelToDomain(m *ContactModel) *domain.Contact {
	if m == nil {
		return nil
	}

	return &domain.Contact{
		ID:         m.ID,
		TenantID:   m.TenantID,
		Phone:      m.Phone,
		Name:       m.Name,
		Attributes: m.Attributes,
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
	}
}

func templateModelFromDomain(t *domain.Template) *TemplateModel {
	if t == nil {
		return nil
	}

	return &TemplateModel{
		ID:        t.ID,
		TenantID:  t.TenantID,
		Name:      t.Name,
		Language:  t.Language,
		Category:  t.Category,
		Body:      t.Body,
		Variables: t.Variables,
		Status:    t.Status,
		CreatedAt: t.CreatedAt,
		UpdatedAt: t.UpdatedAt,
	}
}

func templateModelToDomain(m *TemplateModel) *domain.Template {
	if m == nil {
		return nil
	}

	return &domain.Template{
		ID:        m.ID,
		TenantID:  m.TenantID,
		Name:      m.Name,
		Language:  m.Language,
		Category:  m.Category,
		Body:      m.Body,
		Variables: m.Variables,
		Status:    m.Status,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

func channelModelFromDomain(c *domain.Channel) *ChannelModel {
	if c == nil {
		return nil
	}

	return &ChannelModel{
		ID:          c.ID,
		TenantID:    c.TenantID,
		Name:        c.Name,
		Provider:    c.Provider,
		PhoneNumber: c.PhoneNumber,
		ExternalID:  c.ExternalID,
		AccessToken: c.AccessToken,
		BaseURL:     c.BaseURL,
		AppSecret:   c.AppSecret,
		VerifyToken: c.VerifyToken,
		Status:      c.Status,
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   c.UpdatedAt,
	}
}

func channelModelToDomain(m *ChannelModel) *domain.Channel {
	if m == nil {
		return nil
	}

	return &domain.Channel{
		ID:          m.ID,
		TenantID:    m.TenantID,
		Name:        m.Name,
		Provider:    m.Provider,
		PhoneNumber: m.PhoneNumber,
		ExternalID:  m.ExternalID,
		AccessToken: m.AccessToken,
		BaseURL:     m.BaseURL,
		AppSecret:   m.AppSecret,
		VerifyToken: m.VerifyToken,
		Status:      m.Status,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

func campaignModelFromDomain(c *domain.Campaign) *CampaignModel {
	if c == nil {
		return nil
	}

	return &CampaignModel{
		ID:             c.ID,
		TenantID:       c.TenantID,
		Name:           c.Name,
		TemplateID:     c.TemplateID,
		ChannelID:      c.ChannelID,
		Variables:      c.Variables,
		Status:         c.Status,
		TotalCount:     c.Counters.Total,
		SentCount:      c.Counters.Sent,
		DeliveredCount: c.Counters.Delivered,
		ReadCount:      c.Counters.Read,
		FailedCount:    c.Counters.Failed,
		SkippedCount:   c.Counters.Skipped,
		ScheduledAt:    c.ScheduledAt,
		StartedAt:      c.StartedAt,
		PausedAt:       c.PausedAt,
		CompletedAt:    c.CompletedAt,
		CreatedAt:      c.CreatedAt,
		UpdatedAt:      c.UpdatedAt,
	}
}

func campaignModelToDomain(m *CampaignModel) *domain.Campaign {
	if m == nil {
		return nil
	}

	return &domain.Campaign{
		ID:         m.ID,
		TenantID:   m.TenantID,
		Name:       m.Name,
		TemplateID: m.TemplateID,
		ChannelID:  m.ChannelID,
		Variables:  m.Variables,
		Status:     m.Status,
		Counters: domain.CampaignCounters{
			Total:     m.TotalCount,
			Sent:      m.SentCount,
			Delivered: m.DeliveredCount,
			Read:      m.ReadCount,
			Failed:    m.FailedCount,
			Skipped:   m.SkippedCount,
		},
		ScheduledAt: m.ScheduledAt,
		StartedAt:   m.StartedAt,
		PausedAt:    m.PausedAt,
		CompletedAt: m.CompletedAt,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

func recipientModelFromDomain(r *domain.Recipient) *RecipientModel {
	if r == nil {
		return nil
	}

	return &RecipientModel{
		ID:                r.ID,
		TenantID:          r.TenantID,
		CampaignID:        r.CampaignID,
		ContactID:         r.ContactID,
		Phone:             r.Phone,
		Status:            r.Status,
		ProviderMessageID: r.ProviderMessageID,
		ErrorCode:         r.ErrorCode,
		LastError:         r.LastError,
		AttemptCount:      r.AttemptCount,
		ClaimedAt:         r.ClaimedAt,
		SentAt:            r.SentAt,
		DeliveredAt:       r.DeliveredAt,
		ReadAt:            r.ReadAt,
		FailedAt:          r.FailedAt,
		CreatedAt:         r.CreatedAt,
		UpdatedAt:         r.UpdatedAt,
	}
}

func recipientModelToDomain(m *RecipientModel) *domain.Recipient {
	if m == nil {
		return nil
	}

	return &domain.Recipient{
		ID:                m.ID,
		TenantID:          m.TenantID,
		CampaignID:        m.CampaignID,
		ContactID:         m.ContactID,
		Phone:             m.Phone,
		Status:            m.Status,
		ProviderMessageID: m.ProviderMessageID,
		ErrorCode:         m.ErrorCode,
		LastError:         m.LastError,
		AttemptCount:      m.AttemptCount,
		ClaimedAt:         m.ClaimedAt,
		SentAt:            m.SentAt,
		DeliveredAt:       m.DeliveredAt,
		ReadAt:            m.ReadAt,
		FailedAt:          m.FailedAt,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	}
}

func attemptModelFromDomain(a *domain.SendAttempt) *SendAttemptModel {
	if a == nil {
		return nil
	}

	return &SendAttemptModel{
		ID:                a.ID,
		TenantID:          a.TenantID,
		RecipientID:       a.RecipientID,
		CampaignID:        a.CampaignID,
		AttemptNumber:     a.AttemptNumber,
		Provider:          a.Provider,
		Endpoint:          a.Endpoint,
		StatusCode:        a.StatusCode,
		ResponseBody:      a.ResponseBody,
		ProviderMessageID: a.ProviderMessageID,
		ErrorCode:         a.ErrorCode,
		Error:             a.Error,
		DurationMS:        a.Duration.Milliseconds(),
		CreatedAt:         a.CreatedAt,
	}
}

func attemptModelToDomain(m *SendAttemptModel) *domain.SendAttempt {
	if m == nil {
		return nil
	}

	return &domain.SendAttempt{
		ID:                m.ID,
		TenantID:          m.TenantID,
		RecipientID:       m.RecipientID,
		CampaignID:        m.CampaignID,
		AttemptNumber:     m.AttemptNumber,
		Provider:          m.Provider,
		Endpoint:          m.Endpoint,
		StatusCode:        m.StatusCode,
		ResponseBody:      m.ResponseBody,
		ProviderMessageID: m.ProviderMessageID,
		ErrorCode:         m.ErrorCode,
		Error:             m.Error,
		Duration:          time.Duration(m.DurationMS) * time.Millisecond,
		CreatedAt:         m.CreatedAt,
	}
}

func inboundModelFromDomain(msg *domain.InboundMessage) *InboundMessageModel {
	if msg == nil {
		return nil
	}

	return &InboundMessageModel{
		ID:                msg.ID,
		TenantID:          msg.TenantID,
		ChannelID:         msg.ChannelID,
		ProviderMessageID: msg.ProviderMessageID,
		FromPhone:         msg.FromPhone,
		ContactName:       msg.ContactName,
		Type:              msg.Type,
		Body:              msg.Body,
		ReceivedAt:        msg.ReceivedAt,
		CreatedAt:         msg.CreatedAt,
	}
}

func inboundModelToDomain(m *InboundMessageModel) *domain.InboundMessage {
	if m == nil {
		return nil
	}

	return &domain.InboundMessage{
		ID:                m.ID,
		TenantID:          m.TenantID,
		ChannelID:         m.ChannelID,
		ProviderMessageID: m.ProviderMessageID,
		FromPhone:         m.FromPhone,
		ContactName:       m.ContactName,
		Type:              m.Type,
		Body:              m.Body,
		ReceivedAt:        m.ReceivedAt,
		CreatedAt:         m.CreatedAt,
	}
}

func pendingReceiptModelFromDomain(p *domain.PendingReceipt) *PendingReceiptModel {
	if p == nil {
		return nil
	}

	return &PendingReceiptModel{
		ID:                p.ID,
		TenantID:          p.TenantID,
		ProviderMessageID: p.Event.ProviderMessageID,
		Status:            p.Event.Status,
		EventAt:           p.Event.At,
		ErrorCode:         p.Event.ErrorCode,
		ErrorText:         p.Event.ErrorText,
		ReceivedAt:        p.ReceivedAt,
	}
}

func pendingReceiptModelToDomain(m *PendingReceiptModel) *domain.PendingReceipt {
	if m == nil {
		return nil
	}

	return &domain.PendingReceipt{
		ID:       m.ID,
		TenantID: m.TenantID,
		Event: domain.StatusEvent{
			ProviderMessageID: m.ProviderMessageID,
			Status:            m.Status,
			At:                m.EventAt,
			ErrorCode:         m.ErrorCode,
			ErrorText:         m.ErrorText,
		},
		ReceivedAt: m.ReceivedAt,
	}
}
