// Package yahoo implements the reply-detection provider adapter for Yahoo
// Mail over IMAP. Every operation opens its own connection.
package yahoo

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/mikey/reply-checker/internal/auth"
	"github.com/mikey/reply-checker/internal/core"
	"github.com/mikey/reply-checker/internal/credential"
	"go.uber.org/zap"
)

// Auth methods
const (
	AuthPassword = "password"
	AuthOAuth2   = "oauth2"
)

// Config holds IMAP connection settings
type Config struct {
	Host        string
	Port        int
	Auth        string
	DialTimeout time.Duration
	// Accounts maps user IDs to their Yahoo addresses
	Accounts map[string]string
}

// DialFunc opens the raw connection to the IMAP server
type DialFunc func(ctx context.Context, addr string) (net.Conn, error)

// Adapter implements core.ProviderAdapter for Yahoo
type Adapter struct {
	cfg     Config
	secrets credential.Source
	tokens  *auth.TokenManager
	dial    DialFunc
	logger  *zap.Logger
}

// NewAdapter creates a new Yahoo IMAP adapter. secrets is used for app
// passwords and tokens for OAuth2; either may be nil when unused.
func NewAdapter(cfg Config, secrets credential.Source, tokens *auth.TokenManager, logger *zap.Logger) *Adapter {
	if cfg.Host == "" {
		cfg.Host = "imap.mail.yahoo.com"
	}
	if cfg.Port == 0 {
		cfg.Port = 993
	}
	if cfg.Auth == "" {
		cfg.Auth = AuthPassword
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 30 * time.Second
	}

	a := &Adapter{cfg: cfg, secrets: secrets, tokens: tokens, logger: logger}
	a.dial = func(ctx context.Context, addr string) (net.Conn, error) {
		d := &tls.Dialer{
			NetDialer: &net.Dialer{Timeout: cfg.DialTimeout},
			Config:    &tls.Config{ServerName: cfg.Host, MinVersion: tls.VersionTLS12},
		}
		return d.DialContext(ctx, "tcp", addr)
	}
	return a
}

// Provider implements core.ProviderAdapter
func (a *Adapter) Provider() core.ProviderType {
	return core.ProviderYahoo
}

func (a *Adapter) account(userID string) (string, error) {
	email, ok := a.cfg.Accounts[userID]
	if !ok || email == "" {
		return "", core.NewProviderError(core.ProviderYahoo, "account", core.KindAuth,
			fmt.Errorf("no yahoo account configured for user %s", userID))
	}
	return email, nil
}

// session is one logged-in IMAP connection
type session struct {
	client *imapclient.Client
	stop   func() bool
}

func (s *session) close() {
	s.stop()
	_ = s.client.Logout().Wait()
	_ = s.client.Close()
}

// connect dials, authenticates and selects INBOX read-only
func (a *Adapter) connect(ctx context.Context, userID string) (*session, error) {
	email, err := a.account(userID)
	if err != nil {
		return nil, err
	}

	addr := net.JoinHostPort(a.cfg.Host, strconv.Itoa(a.cfg.Port))
	conn, err := a.dial(ctx, addr)
	if err != nil {
		return nil, a.transportError("dial", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client := imapclient.New(conn, nil)
	// Unblock pending commands when the caller gives up
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	s := &session{client: client, stop: stop}

	if err := a.authenticate(ctx, client, userID, email); err != nil {
		s.close()
		return nil, err
	}

	if _, err := client.Select("INBOX", &imap.SelectOptions{ReadOnly: true}).Wait(); err != nil {
		s.close()
		return nil, a.commandError(ctx, "select", err)
	}
	return s, nil
}

func (a *Adapter) authenticate(ctx context.Context, client *imapclient.Client, userID, email string) error {
	switch a.cfg.Auth {
	case AuthOAuth2:
		if a.tokens == nil {
			return core.NewProviderError(core.ProviderYahoo, "login", core.KindAuth, errors.New("oauth2 not configured"))
		}
		token, err := a.tokens.Token(ctx, userID)
		if err != nil {
			return err
		}
		if err := client.Authenticate(newXOAuth2Client(email, token.AccessToken)); err != nil {
			return core.NewProviderError(core.ProviderYahoo, "login", core.KindAuth,
				fmt.Errorf("authentication failed for %s: %w", email, err))
		}
	default:
		if a.secrets == nil {
			return core.NewProviderError(core.ProviderYahoo, "login", core.KindAuth, errors.New("no credential source configured"))
		}
		password, err := a.secrets.Get(credential.Key(string(core.ProviderYahoo), email))
		if err != nil {
			return core.NewProviderError(core.ProviderYahoo, "login", core.KindAuth, err)
		}
		if err := client.Login(email, password).Wait(); err != nil {
			return core.NewProviderError(core.ProviderYahoo, "login", core.KindAuth,
				fmt.Errorf("authentication failed for %s: %w", email, err))
		}
	}
	return nil
}

// CheckHealth implements core.ProviderAdapter
func (a *Adapter) CheckHealth(ctx context.Context, userID string) core.ProviderHealth {
	start := time.Now()
	health := core.ProviderHealth{Provider: core.ProviderYahoo}

	s, err := a.connect(ctx, userID)
	health.LastCheckedAt = time.Now().UTC()
	health.ResponseTimeMs = time.Since(start).Milliseconds()
	if err != nil {
		health.ErrorMessage = err.Error()
		return health
	}
	s.close()
	health.Healthy = true
	return health
}

// GetUserEmail implements core.ProviderAdapter
func (a *Adapter) GetUserEmail(_ context.Context, userID string) (string, error) {
	email, err := a.account(userID)
	if err != nil {
		return "", err
	}
	return strings.ToLower(email), nil
}

// FetchThread implements core.ProviderAdapter. messageID is the RFC 5322
// Message-ID of the sent message.
func (a *Adapter) FetchThread(ctx context.Context, userID, messageID string) (*core.Thread, error) {
	s, err := a.connect(ctx, userID)
	if err != nil {
		return nil, err
	}
	defer s.close()

	data, err := s.client.UIDSearch(ThreadCriteria(messageID), nil).Wait()
	if err != nil {
		return nil, a.commandError(ctx, "search_thread", err)
	}
	uids := data.AllUIDs()
	if len(uids) == 0 {
		return nil, nil
	}

	msgs, err := a.fetch(ctx, s, uids)
	if err != nil {
		return nil, err
	}
	for _, m := range msgs {
		m.ThreadID = messageID
	}
	return &core.Thread{ID: messageID, Messages: msgs}, nil
}

// SearchMessages implements core.ProviderAdapter. Page tokens are offsets
// into the ascending UID list returned by the server.
func (a *Adapter) SearchMessages(ctx context.Context, userID string, query core.SearchQuery, opts core.SearchOptions) (*core.SearchPage, error) {
	offset := 0
	if opts.PageToken != "" {
		n, err := strconv.Atoi(opts.PageToken)
		if err != nil || n < 0 {
			return nil, core.NewProviderError(core.ProviderYahoo, "search", core.KindFatal,
				fmt.Errorf("invalid page token %q", opts.PageToken))
		}
		offset = n
	}

	s, err := a.connect(ctx, userID)
	if err != nil {
		return nil, err
	}
	defer s.close()

	data, err := s.client.UIDSearch(BuildCriteria(query, opts.After), nil).Wait()
	if err != nil {
		return nil, a.commandError(ctx, "search", err)
	}

	uids, next := pageUIDs(data.AllUIDs(), offset, opts.MaxResults)
	page := &core.SearchPage{NextPageToken: next}
	if len(uids) == 0 {
		return page, nil
	}

	page.Messages, err = a.fetch(ctx, s, uids)
	if err != nil {
		return nil, err
	}
	return page, nil
}

// IsTokenValid implements core.ProviderAdapter
func (a *Adapter) IsTokenValid(ctx context.Context, userID string) bool {
	if _, err := a.account(userID); err != nil {
		return false
	}
	if a.cfg.Auth == AuthOAuth2 {
		return a.tokens != nil && a.tokens.IsValid(ctx, userID)
	}
	return true
}

func (a *Adapter) fetch(ctx context.Context, s *session, uids []imap.UID) ([]*core.ProviderMessage, error) {
	section := &imap.FetchItemBodySection{Peek: true}
	opts := &imap.FetchOptions{
		Envelope:    true,
		Flags:       true,
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{section},
	}

	cmd := s.client.Fetch(imap.UIDSetNum(uids...), opts)
	defer cmd.Close()

	var out []*core.ProviderMessage
	for {
		msg := cmd.Next()
		if msg == nil {
			break
		}
		buf, err := msg.Collect()
		if err != nil {
			return nil, a.commandError(ctx, "fetch", err)
		}
		out = append(out, convertMessage(buf.UID, buf.Envelope, buf.Flags, buf.FindBodySection(section), a.logger))
	}
	if err := cmd.Close(); err != nil {
		return nil, a.commandError(ctx, "fetch", err)
	}
	return out, nil
}

func pageUIDs(all []imap.UID, offset, size int) ([]imap.UID, string) {
	if offset >= len(all) {
		return nil, ""
	}
	end := len(all)
	if size > 0 && offset+size < end {
		end = offset + size
	}
	next := ""
	if end < len(all) {
		next = strconv.Itoa(end)
	}
	return all[offset:end], next
}

func (a *Adapter) commandError(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	var imapErr *imap.Error
	if errors.As(err, &imapErr) {
		kind := core.KindTransient
		switch imapErr.Code {
		case imap.ResponseCodeAuthenticationFailed, imap.ResponseCodeAuthorizationFailed, imap.ResponseCodeExpired:
			kind = core.KindAuth
		case imap.ResponseCodeNoPerm:
			kind = core.KindPermission
		case imap.ResponseCodeNonExistent:
			kind = core.KindNotFound
		case imap.ResponseCodeLimit:
			kind = core.KindRateLimit
		}
		return core.NewProviderError(core.ProviderYahoo, op, kind, err)
	}
	return a.transportError(op, err)
}

func (a *Adapter) transportError(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return core.NewProviderError(core.ProviderYahoo, op, core.KindTransient, err)
}
