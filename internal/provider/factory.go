package provider

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/campaign-engine/internal/domain"
)

type FactoryConfig struct {
	Timeout           time.Duration
	MetaBaseURL       string
	MetaAPIVersion    string
	NotificaMeBaseURL string
	UAZAPIBaseURL     string
}

// Factory builds channel-bound adapters over one shared HTTP client.
type Factory struct {
	cfg    FactoryConfig
	client *resty.Client
}

func NewFactory(cfg FactoryConfig, client *resty.Client) *Factory {
	if client == nil {
		client = NewHTTPClient(cfg.Timeout)
	}
	return &Factory{cfg: cfg, client: prepareClient(client)}
}

func (f *Factory) ForChannel(ch domain.Channel) (Provider, error) {
	if ch.Status == domain.ChannelStatusDisconnected {
		return nil, fmt.Errorf("%w: channel %s is disconnected", domain.ErrConflict, ch.ID)
	}

	var (
		p   Provider
		err error
	)
	switch ch.Provider {
	case domain.ProviderMeta:
		p, err = NewMetaProvider(MetaConfig{
			BaseURL:       pick(ch.BaseURL, f.cfg.MetaBaseURL),
			APIVersion:    f.cfg.MetaAPIVersion,
			PhoneNumberID: ch.ExternalID,
			AccessToken:   ch.AccessToken,
		}, f.client)
	case domain.ProviderNotificaMe:
		p, err = NewNotificaMeProvider(NotificaMeConfig{
			BaseURL:   pick(ch.BaseURL, f.cfg.NotificaMeBaseURL),
			ChannelID: ch.ExternalID,
			APIToken:  ch.AccessToken,
		}, f.client)
	case domain.ProviderUAZAPI:
		p, err = NewUAZAPIProvider(UAZAPIConfig{
			BaseURL:       pick(ch.BaseURL, f.cfg.UAZAPIBaseURL),
			InstanceToken: ch.AccessToken,
		}, f.client)
	default:
		return nil, fmt.Errorf("%w: unsupported provider %q", domain.ErrValidation, ch.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: channel %s: %v", domain.ErrValidation, ch.ID, err)
	}
	return p, nil
}

func ParserFor(kind domain.ProviderKind) (ReceiptParser, error) {
	switch kind {
	case domain.ProviderMeta:
		return MetaReceiptParser{}, nil
	case domain.ProviderNotificaMe:
		return NotificaMeReceiptParser{}, nil
	case domain.ProviderUAZAPI:
		return UAZAPIReceiptParser{}, nil
	}
	return nil, fmt.Errorf("%w: unsupported provider %q", domain.ErrValidation, kind)
}

func pick(override, fallback string) string {
	if s := strings.TrimSpace(override); s != "" {
		return s
	}
	return fallback
}
