package factory

import (
	"fmt"
	"net/http"
	"path/filepath"

	"github.com/mikey/reply-checker/internal/adapters/gmail"
	"github.com/mikey/reply-checker/internal/adapters/outlook"
	"github.com/mikey/reply-checker/internal/adapters/yahoo"
	"github.com/mikey/reply-checker/internal/auth"
	"github.com/mikey/reply-checker/internal/config"
	"github.com/mikey/reply-checker/internal/core"
	"github.com/mikey/reply-checker/internal/credential"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// ProviderFactory creates the enabled mailbox adapters
type ProviderFactory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewProviderFactory creates a new provider factory
func NewProviderFactory(cfg *config.Config, logger *zap.Logger) *ProviderFactory {
	return &ProviderFactory{
		cfg:    cfg,
		logger: logger,
	}
}

// tokenStore keeps each provider's tokens in its own directory
func (f *ProviderFactory) tokenStore(provider core.ProviderType) auth.TokenStore {
	return auth.NewFileTokenStore(filepath.Join(f.cfg.GetString("auth.token_dir"), string(provider)))
}

// tokenManager gives each provider's token refreshes their own bounded client
func (f *ProviderFactory) tokenManager(provider core.ProviderType, oauthCfg *oauth2.Config) (*auth.TokenManager, error) {
	timeout := auth.DefaultHTTPTimeout
	if f.cfg.GetString("auth.http_timeout") != "" {
		d, err := f.cfg.GetDuration("auth.http_timeout")
		if err != nil {
			return nil, err
		}
		timeout = d
	}
	return auth.NewTokenManager(provider, oauthCfg, f.tokenStore(provider), f.logger).
		WithHTTPClient(&http.Client{Timeout: timeout}), nil
}

// CreateAdapters creates an adapter for every enabled provider
func (f *ProviderFactory) CreateAdapters() ([]core.ProviderAdapter, error) {
	var adapters []core.ProviderAdapter

	if gc := f.cfg.GetGmail(); gc.Enabled {
		oauthCfg, err := auth.GmailConfig(gc.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load Gmail credentials: %w", err)
		}
		tokens, err := f.tokenManager(core.ProviderGmail, oauthCfg)
		if err != nil {
			return nil, err
		}
		adapters = append(adapters, gmail.NewAdapter(tokens, gc.Endpoint, f.logger))
	}

	if oc := f.cfg.GetOutlook(); oc.Enabled {
		if oc.ClientID == "" {
			return nil, fmt.Errorf("outlook.client_id is required when Outlook is enabled")
		}
		oauthCfg := auth.OutlookConfig(oc.ClientID, oc.ClientSecret, oc.Tenant)
		tokens, err := f.tokenManager(core.ProviderOutlook, oauthCfg)
		if err != nil {
			return nil, err
		}
		adapters = append(adapters, outlook.NewAdapter(tokens, oc.BaseURL, f.logger))
	}

	yc, err := f.cfg.GetYahoo()
	if err != nil {
		return nil, fmt.Errorf("invalid Yahoo configuration: %w", err)
	}
	if yc.Enabled {
		adapter, err := f.createYahoo(yc)
		if err != nil {
			return nil, err
		}
		adapters = append(adapters, adapter)
	}

	if len(adapters) == 0 {
		f.logger.Warn("No mailbox providers enabled")
	}
	return adapters, nil
}

func (f *ProviderFactory) createYahoo(yc config.YahooConfig) (*yahoo.Adapter, error) {
	imapCfg := yahoo.Config{
		Host:        yc.Host,
		Port:        yc.Port,
		Auth:        yc.Auth,
		DialTimeout: yc.DialTimeout,
		Accounts:    yc.Accounts,
	}

	switch yc.Auth {
	case yahoo.AuthOAuth2:
		if yc.ClientID == "" {
			return nil, fmt.Errorf("yahoo.client_id is required for oauth2")
		}
		tokens, err := f.tokenManager(core.ProviderYahoo, auth.YahooConfig(yc.ClientID, yc.ClientSecret))
		if err != nil {
			return nil, err
		}
		return yahoo.NewAdapter(imapCfg, nil, tokens, f.logger), nil
	case yahoo.AuthPassword, "":
		ring, err := credential.OpenKeyring(yc.KeyringDir)
		if err != nil {
			return nil, err
		}
		return yahoo.NewAdapter(imapCfg, credential.NewKeyringSource(ring), nil, f.logger), nil
	default:
		return nil, fmt.Errorf("unsupported Yahoo auth method: %s", yc.Auth)
	}
}
