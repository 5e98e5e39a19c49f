// Package gmail implements the reply-detection provider adapter for Gmail.
package gmail

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/mikey/reply-checker/internal/auth"
	"github.com/mikey/reply-checker/internal/core"
	"go.uber.org/zap"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const me = "me"

// ServiceFunc builds an authenticated Gmail service for a user
type ServiceFunc func(ctx context.Context, userID string) (*gmail.Service, error)

// Adapter implements core.ProviderAdapter for Gmail
type Adapter struct {
	service ServiceFunc
	tokens  *auth.TokenManager
	logger  *zap.Logger
}

// NewAdapter creates a new Gmail adapter. endpoint overrides the API base URL when set.
func NewAdapter(tokens *auth.TokenManager, endpoint string, logger *zap.Logger) *Adapter {
	a := &Adapter{tokens: tokens, logger: logger}
	a.service = func(ctx context.Context, userID string) (*gmail.Service, error) {
		client, err := tokens.Client(ctx, userID)
		if err != nil {
			return nil, err
		}
		opts := []option.ClientOption{option.WithHTTPClient(client)}
		if endpoint != "" {
			opts = append(opts, option.WithEndpoint(endpoint))
		}
		svc, err := gmail.NewService(ctx, opts...)
		if err != nil {
			return nil, core.NewProviderError(core.ProviderGmail, "service", core.KindFatal, err)
		}
		return svc, nil
	}
	return a
}

// NewAdapterWithService creates an adapter around a custom service constructor
func NewAdapterWithService(service ServiceFunc, tokens *auth.TokenManager, logger *zap.Logger) *Adapter {
	return &Adapter{service: service, tokens: tokens, logger: logger}
}

// Provider implements core.ProviderAdapter
func (a *Adapter) Provider() core.ProviderType {
	return core.ProviderGmail
}

// CheckHealth implements core.ProviderAdapter
func (a *Adapter) CheckHealth(ctx context.Context, userID string) core.ProviderHealth {
	start := time.Now()
	health := core.ProviderHealth{Provider: core.ProviderGmail}

	_, err := a.GetUserEmail(ctx, userID)
	health.LastCheckedAt = time.Now().UTC()
	health.ResponseTimeMs = time.Since(start).Milliseconds()
	if err != nil {
		health.ErrorMessage = err.Error()
		return health
	}
	health.Healthy = true
	return health
}

// GetUserEmail implements core.ProviderAdapter
func (a *Adapter) GetUserEmail(ctx context.Context, userID string) (string, error) {
	svc, err := a.service(ctx, userID)
	if err != nil {
		return "", err
	}
	profile, err := svc.Users.GetProfile(me).Context(ctx).Do()
	if err != nil {
		return "", mapError("get_profile", err)
	}
	return profile.EmailAddress, nil
}

// FetchThread implements core.ProviderAdapter
func (a *Adapter) FetchThread(ctx context.Context, userID, messageID string) (*core.Thread, error) {
	svc, err := a.service(ctx, userID)
	if err != nil {
		return nil, err
	}

	msg, err := svc.Users.Messages.Get(me, messageID).Format("minimal").Context(ctx).Do()
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, mapError("get_message", err)
	}

	thread, err := svc.Users.Threads.Get(me, msg.ThreadId).Format("full").Context(ctx).Do()
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, mapError("get_thread", err)
	}

	out := &core.Thread{ID: thread.Id, Messages: make([]*core.ProviderMessage, 0, len(thread.Messages))}
	for _, m := range thread.Messages {
		out.Messages = append(out.Messages, convertMessage(m))
	}
	a.logger.Debug("Fetched Gmail thread",
		zap.String("thread_id", thread.Id),
		zap.Int("messages", len(out.Messages)))
	return out, nil
}

// SearchMessages implements core.ProviderAdapter
func (a *Adapter) SearchMessages(ctx context.Context, userID string, query core.SearchQuery, opts core.SearchOptions) (*core.SearchPage, error) {
	svc, err := a.service(ctx, userID)
	if err != nil {
		return nil, err
	}

	call := svc.Users.Messages.List(me).Q(BuildQuery(query, opts.After))
	if opts.MaxResults > 0 {
		call = call.MaxResults(int64(opts.MaxResults))
	}
	if opts.PageToken != "" {
		call = call.PageToken(opts.PageToken)
	}

	resp, err := call.Context(ctx).Do()
	if err != nil {
		return nil, mapError("list_messages", err)
	}

	page := &core.SearchPage{NextPageToken: resp.NextPageToken}
	for _, ref := range resp.Messages {
		msg, err := svc.Users.Messages.Get(me, ref.Id).Format("full").Context(ctx).Do()
		if err != nil {
			// Messages deleted between list and get are skipped
			if isNotFound(err) {
				continue
			}
			return nil, mapError("get_message", err)
		}
		page.Messages = append(page.Messages, convertMessage(msg))
	}
	return page, nil
}

// IsTokenValid implements core.ProviderAdapter
func (a *Adapter) IsTokenValid(ctx context.Context, userID string) bool {
	if a.tokens == nil {
		return true
	}
	return a.tokens.IsValid(ctx, userID)
}

func isNotFound(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound
}

var rateLimitReasons = map[string]bool{
	"rateLimitExceeded":     true,
	"userRateLimitExceeded": true,
	"quotaExceeded":         true,
}

// mapError converts a Gmail client error into a classified provider error
func mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var pe *core.ProviderError
	if errors.As(err, &pe) {
		return err
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		kind := core.KindForStatus(apiErr.Code)
		if apiErr.Code == http.StatusForbidden {
			for _, item := range apiErr.Errors {
				if rateLimitReasons[item.Reason] {
					kind = core.KindRateLimit
					break
				}
			}
		}
		return &core.ProviderError{
			Provider:   core.ProviderGmail,
			Op:         op,
			Kind:       kind,
			StatusCode: apiErr.Code,
			RetryAfter: core.ParseRetryAfter(apiErr.Header.Get("Retry-After"), time.Now()),
			Err:        fmt.Errorf("%s", apiErr.Message),
		}
	}

	kind := core.KindOf(err)
	if kind == core.KindFatal {
		// Transport failures from the HTTP client are worth retrying
		kind = core.KindTransient
	}
	return core.NewProviderError(core.ProviderGmail, op, kind, err)
}
