package domain

import (
	"fmt"
	"strings"
	"time"
)

// ProviderKind identifies a WhatsApp Business Service Provider.
type ProviderKind string

const (
	ProviderMeta       ProviderKind = "meta"
	ProviderNotificaMe ProviderKind = "notificame"
	ProviderUAZAPI     ProviderKind = "uazapi"
)

func (p ProviderKind) String() string { return string(p) }

func (p ProviderKind) IsValid() bool {
	switch p {
	case ProviderMeta, ProviderNotificaMe, ProviderUAZAPI:
		return true
	}
	return false
}

func ParseProviderKindFromString(s string) (ProviderKind, error) {
	p := ProviderKind(strings.ToLower(strings.TrimSpace(s)))
	if !p.IsValid() {
		return "", fmt.Errorf("%w: invalid provider %q", ErrValidation, s)
	}
	return p, nil
}

// ChannelStatus is the connection state of a tenant channel.
type ChannelStatus string

const (
	ChannelStatusConnected    ChannelStatus = "connected"
	ChannelStatusDisconnected ChannelStatus = "disconnected"
)

func (s ChannelStatus) String() string { return string(s) }

func (s ChannelStatus) IsValid() bool {
	return s == ChannelStatusConnected || s == ChannelStatusDisconnected
}

// Channel is a tenant's configured connection to a provider.
type Channel struct {
	ID          string
	TenantID    string
	Name        string
	Provider    ProviderKind
	PhoneNumber string
	// ExternalID is the Meta phone_number_id, NotificaMe channel id or UAZAPI instance.
	ExternalID  string
	AccessToken string
	BaseURL     string
	AppSecret   string
	VerifyToken string
	Status      ChannelStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (c *Channel) Validate() error {
	if strings.TrimSpace(c.TenantID) == "" {
		return fmt.Errorf("%w: tenant is required", ErrValidation)
	}
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("%w: channel name is required", ErrValidation)
	}
	if !c.Provider.IsValid() {
		return fmt.Errorf("%w: invalid provider %q", ErrValidation, c.Provider)
	}
	if strings.TrimSpace(c.AccessToken) == "" {
		return fmt.Errorf("%w: access token is required", ErrValidation)
	}
	if c.Provider != ProviderUAZAPI && strings.TrimSpace(c.ExternalID) == "" {
		return fmt.Errorf("%w: external id is required for %s channels", ErrValidation, c.Provider)
	}
	if !c.Status.IsValid() {
		return fmt.Errorf("%w: invalid channel status %q", ErrValidation, c.Status)
	}
	return nil
}
