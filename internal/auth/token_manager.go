// Package auth manages per-user OAuth tokens for the REST mailbox providers.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/mikey/reply-checker/internal/core"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/oauth2/microsoft"
)

// GmailScopes are the read-only scopes reply detection needs
var GmailScopes = []string{
	"https://www.googleapis.com/auth/gmail.readonly",
}

// OutlookScopes are the Graph scopes reply detection needs
var OutlookScopes = []string{
	"offline_access",
	"https://graph.microsoft.com/Mail.Read",
	"https://graph.microsoft.com/User.Read",
}

// DefaultHTTPTimeout bounds token refresh requests when no client is configured
const DefaultHTTPTimeout = 30 * time.Second

var defaultRefreshClient = &http.Client{Timeout: DefaultHTTPTimeout}

// TokenManager hands out refreshed tokens for one provider. Tokens are cached
// per user on the manager itself.
type TokenManager struct {
	provider   core.ProviderType
	config     *oauth2.Config
	store      TokenStore
	httpClient *http.Client
	logger     *zap.Logger

	mu    sync.Mutex
	users map[string]*userToken
}

// userToken is one user's cached token. lock admits one refresh at a time
// and guards token.
type userToken struct {
	lock  chan struct{}
	token *oauth2.Token
}

// NewTokenManager creates a new token manager
func NewTokenManager(provider core.ProviderType, config *oauth2.Config, store TokenStore, logger *zap.Logger) *TokenManager {
	return &TokenManager{
		provider: provider,
		config:   config,
		store:    store,
		logger:   logger,
		users:    make(map[string]*userToken),
	}
}

// WithHTTPClient sets the client used for token refresh requests
func (m *TokenManager) WithHTTPClient(client *http.Client) *TokenManager {
	m.httpClient = client
	return m
}

// RefreshTimeout reports the timeout applied to token refresh requests
func (m *TokenManager) RefreshTimeout() time.Duration {
	return m.refreshClient().Timeout
}

// GmailConfig builds the OAuth config from a Google credentials.json file
func GmailConfig(credentialsPath string) (*oauth2.Config, error) {
	data, err := os.ReadFile(credentialsPath)
	if err != nil {
		return nil, fmt.Errorf("read credentials from %s: %w", credentialsPath, err)
	}

	config, err := google.ConfigFromJSON(data, GmailScopes...)
	if err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}
	return config, nil
}

// OutlookConfig builds the OAuth config for an Azure AD application
func OutlookConfig(clientID, clientSecret, tenant string) *oauth2.Config {
	if tenant == "" {
		tenant = "common"
	}
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     microsoft.AzureADEndpoint(tenant),
		Scopes:       OutlookScopes,
	}
}

// YahooEndpoint is the Yahoo OAuth2 endpoint used for IMAP XOAUTH2
var YahooEndpoint = oauth2.Endpoint{
	AuthURL:  "https://api.login.yahoo.com/oauth2/request_auth",
	TokenURL: "https://api.login.yahoo.com/oauth2/get_token",
}

// YahooConfig builds the OAuth2 config for Yahoo Mail IMAP access
func YahooConfig(clientID, clientSecret string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     YahooEndpoint,
		Scopes:       []string{"mail-r"},
	}
}

func (m *TokenManager) refreshClient() *http.Client {
	if m.httpClient != nil {
		return m.httpClient
	}
	return defaultRefreshClient
}

func (m *TokenManager) user(userID string) *userToken {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[userID]
	if !ok {
		u = &userToken{lock: make(chan struct{}, 1)}
		m.users[userID] = u
	}
	return u
}

// Token returns a valid access token for the user, refreshing it when expired.
// The refresh request runs under ctx, and waiting on another caller's refresh
// for the same user stops when ctx is done. Context failures are returned as
// is, network failures are transient and anything else is an auth error.
func (m *TokenManager) Token(ctx context.Context, userID string) (*oauth2.Token, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	u := m.user(userID)
	select {
	case u.lock <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("wait for token refresh: %w", ctx.Err())
	}
	defer func() { <-u.lock }()

	if u.token == nil {
		token, err := m.store.Load(userID)
		if err != nil {
			return nil, m.authError(err)
		}
		u.token = token
	}
	if u.token.Valid() {
		return u.token, nil
	}

	refreshCtx := context.WithValue(ctx, oauth2.HTTPClient, m.refreshClient())
	token, err := m.config.TokenSource(refreshCtx, u.token).Token()
	if err != nil {
		u.token = nil
		return nil, m.refreshError(ctx, err)
	}
	u.token = token

	if err := m.store.Save(userID, token); err != nil {
		m.logger.Warn("Could not save refreshed token",
			zap.String("provider", string(m.provider)),
			zap.String("user_id", userID),
			zap.Error(err))
	} else {
		m.logger.Debug("Refreshed access token",
			zap.String("provider", string(m.provider)),
			zap.String("user_id", userID))
	}
	return token, nil
}

func (m *TokenManager) refreshError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("refresh token: %w", ctxErr)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return core.NewProviderError(m.provider, "token", core.KindTransient, fmt.Errorf("refresh token: %w", err))
	}
	return m.authError(fmt.Errorf("refresh token: %w", err))
}

// Client returns an HTTP client that authorizes requests as the user. Each
// request fetches its token under the request's own context.
func (m *TokenManager) Client(ctx context.Context, userID string) (*http.Client, error) {
	if _, err := m.Token(ctx, userID); err != nil {
		return nil, err
	}

	base := m.refreshClient()
	next := base.Transport
	if next == nil {
		next = http.DefaultTransport
	}
	return &http.Client{
		Transport: &authTransport{m: m, userID: userID, next: next},
		Timeout:   base.Timeout,
	}, nil
}

// IsValid reports whether a usable token exists for the user
func (m *TokenManager) IsValid(ctx context.Context, userID string) bool {
	token, err := m.Token(ctx, userID)
	return err == nil && token.Valid()
}

// Invalidate drops the cached token so the next call reloads from the store
func (m *TokenManager) Invalidate(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.users, userID)
}

func (m *TokenManager) authError(err error) error {
	return core.NewProviderError(m.provider, "token", core.KindAuth, err)
}

// authTransport sets the user's bearer token on every request, refreshing
// through the manager so new tokens are persisted
type authTransport struct {
	m      *TokenManager
	userID string
	next   http.RoundTripper
}

func (t *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	token, err := t.m.Token(req.Context(), t.userID)
	if err != nil {
		if req.Body != nil {
			req.Body.Close()
		}
		return nil, err
	}

	authed := req.Clone(req.Context())
	token.SetAuthHeader(authed)
	return t.next.RoundTrip(authed)
}
