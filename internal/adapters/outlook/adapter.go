// Package outlook implements the reply-detection provider adapter for
// Outlook mailboxes through the Microsoft Graph REST API.
package outlook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mikey/reply-checker/internal/auth"
	"github.com/mikey/reply-checker/internal/core"
	"go.uber.org/zap"
)

// DefaultBaseURL is the Graph v1.0 root
const DefaultBaseURL = "https://graph.microsoft.com/v1.0"

const (
	messageFields = "id,conversationId,subject,bodyPreview,body,from,toRecipients,receivedDateTime,isRead,categories,internetMessageHeaders"
	threadLimit   = 50
)

// ClientFunc returns an HTTP client authorized as the user
type ClientFunc func(ctx context.Context, userID string) (*http.Client, error)

// Adapter implements core.ProviderAdapter for Outlook
type Adapter struct {
	baseURL string
	client  ClientFunc
	tokens  *auth.TokenManager
	logger  *zap.Logger
}

// NewAdapter creates a new Outlook adapter
func NewAdapter(tokens *auth.TokenManager, baseURL string, logger *zap.Logger) *Adapter {
	return NewAdapterWithClient(tokens.Client, tokens, baseURL, logger)
}

// NewAdapterWithClient creates an adapter around a custom client constructor
func NewAdapterWithClient(client ClientFunc, tokens *auth.TokenManager, baseURL string, logger *zap.Logger) *Adapter {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Adapter{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		tokens:  tokens,
		logger:  logger,
	}
}

// Provider implements core.ProviderAdapter
func (a *Adapter) Provider() core.ProviderType {
	return core.ProviderOutlook
}

// CheckHealth implements core.ProviderAdapter
func (a *Adapter) CheckHealth(ctx context.Context, userID string) core.ProviderHealth {
	start := time.Now()
	health := core.ProviderHealth{Provider: core.ProviderOutlook}

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
	var user struct {
		Mail              string `json:"mail"`
		UserPrincipalName string `json:"userPrincipalName"`
	}
	endpoint := a.baseURL + "/me?" + url.Values{"$select": {"mail,userPrincipalName"}}.Encode()
	if err := a.get(ctx, userID, "get_user", endpoint, &user); err != nil {
		return "", err
	}
	if user.Mail != "" {
		return strings.ToLower(user.Mail), nil
	}
	return strings.ToLower(user.UserPrincipalName), nil
}

// FetchThread implements core.ProviderAdapter
func (a *Adapter) FetchThread(ctx context.Context, userID, messageID string) (*core.Thread, error) {
	var sent struct {
		ConversationID string `json:"conversationId"`
	}
	endpoint := a.baseURL + "/me/messages/" + url.PathEscape(messageID) + "?" + url.Values{"$select": {"conversationId"}}.Encode()
	err := a.get(ctx, userID, "get_message", endpoint, &sent)
	if core.KindOf(err) == core.KindNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	params := url.Values{
		"$filter": {fmt.Sprintf("conversationId eq '%s'", escapeOData(sent.ConversationID))},
		"$select": {messageFields},
		"$top":    {strconv.Itoa(threadLimit)},
	}
	var list messageList
	if err := a.get(ctx, userID, "list_conversation", a.baseURL+"/me/messages?"+params.Encode(), &list); err != nil {
		return nil, err
	}

	thread := &core.Thread{ID: sent.ConversationID}
	for i := range list.Value {
		thread.Messages = append(thread.Messages, list.Value[i].toProviderMessage())
	}
	return thread, nil
}

// SearchMessages implements core.ProviderAdapter
func (a *Adapter) SearchMessages(ctx context.Context, userID string, query core.SearchQuery, opts core.SearchOptions) (*core.SearchPage, error) {
	endpoint := opts.PageToken
	if endpoint == "" {
		endpoint = a.searchURL(query, opts)
	} else if !strings.HasPrefix(endpoint, a.baseURL+"/") {
		return nil, core.NewProviderError(core.ProviderOutlook, "search_messages", core.KindFatal,
			fmt.Errorf("page token does not point at %s", a.baseURL))
	}

	var list messageList
	if err := a.get(ctx, userID, "search_messages", endpoint, &list); err != nil {
		return nil, err
	}

	page := &core.SearchPage{NextPageToken: list.NextLink}
	for i := range list.Value {
		page.Messages = append(page.Messages, list.Value[i].toProviderMessage())
	}
	return page, nil
}

func (a *Adapter) searchURL(query core.SearchQuery, opts core.SearchOptions) string {
	path := "/me/messages"
	if query.InboxOnly {
		path = "/me/mailFolders/inbox/messages"
	}
	params := url.Values{"$select": {messageFields}}
	if filter := BuildFilter(query, opts.After); filter != "" {
		params.Set("$filter", filter)
	}
	if opts.MaxResults > 0 {
		params.Set("$top", strconv.Itoa(opts.MaxResults))
	}
	return a.baseURL + path + "?" + params.Encode()
}

// IsTokenValid implements core.ProviderAdapter
func (a *Adapter) IsTokenValid(ctx context.Context, userID string) bool {
	if a.tokens == nil {
		return true
	}
	return a.tokens.IsValid(ctx, userID)
}

// BuildFilter renders a search query as a Graph $filter expression
func BuildFilter(q core.SearchQuery, after time.Time) string {
	var clauses []string
	if !after.IsZero() {
		clauses = append(clauses, "receivedDateTime gt "+after.UTC().Format(time.RFC3339))
	}
	if len(q.From) > 0 {
		senders := make([]string, 0, len(q.From))
		for _, addr := range q.From {
			senders = append(senders, fmt.Sprintf("from/emailAddress/address eq '%s'", escapeOData(addr)))
		}
		if len(senders) == 1 {
			clauses = append(clauses, senders[0])
		} else {
			clauses = append(clauses, "("+strings.Join(senders, " or ")+")")
		}
	}
	if subject := strings.TrimSpace(q.Subject); subject != "" {
		clauses = append(clauses, fmt.Sprintf("contains(subject, '%s')", escapeOData(subject)))
	}
	return strings.Join(clauses, " and ")
}

func escapeOData(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

type graphError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (a *Adapter) get(ctx context.Context, userID, op, endpoint string, out interface{}) error {
	client, err := a.client(ctx, userID)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return core.NewProviderError(core.ProviderOutlook, op, core.KindFatal, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Prefer", `outlook.body-content-type="text"`)

	resp, err := client.Do(req)
	if err != nil {
		return transportError(op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return core.NewProviderError(core.ProviderOutlook, op, core.KindTransient, err)
	}

	if resp.StatusCode >= 300 {
		var ge graphError
		msg := strings.TrimSpace(string(body))
		if json.Unmarshal(body, &ge) == nil && ge.Error.Message != "" {
			msg = ge.Error.Code + ": " + ge.Error.Message
		}
		kind := core.KindForStatus(resp.StatusCode)
		if resp.StatusCode == http.StatusForbidden && ge.Error.Code == "ApplicationThrottled" {
			kind = core.KindRateLimit
		}
		return &core.ProviderError{
			Provider:   core.ProviderOutlook,
			Op:         op,
			Kind:       kind,
			StatusCode: resp.StatusCode,
			RetryAfter: core.ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
			Err:        errors.New(msg),
		}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return core.NewProviderError(core.ProviderOutlook, op, core.KindFatal, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

func transportError(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var pe *core.ProviderError
	if errors.As(err, &pe) {
		return err
	}
	return core.NewProviderError(core.ProviderOutlook, op, core.KindTransient, err)
}
