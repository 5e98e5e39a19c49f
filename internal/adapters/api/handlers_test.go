package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mikey/reply-checker/internal/adapters/store"
	"github.com/mikey/reply-checker/internal/coordinator"
	"github.com/mikey/reply-checker/internal/core"
	"github.com/mikey/reply-checker/internal/deadletter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeChecker struct {
	outcome *coordinator.Outcome
	err     error
	health  []core.ProviderHealth
}

func (f *fakeChecker) Check(_ context.Context, id string) (*coordinator.Outcome, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := *f.outcome
	out.SentEmailID = id
	return &out, nil
}

func (f *fakeChecker) CheckHealth(context.Context, string) []core.ProviderHealth {
	return f.health
}

type fakeDispatcher struct{}

func (fakeDispatcher) Enqueue(_ context.Context, id string) (string, error) {
	return "job-" + id, nil
}

type failingDispatcher struct{}

func (failingDispatcher) Enqueue(context.Context, string) (string, error) {
	return "", errors.New("queue full")
}

type fixture struct {
	server  *Server
	manager *deadletter.Manager
	checker *fakeChecker
	entry   *core.DeadLetterEntry
}

func newFixture(t *testing.T) *fixture {
	s := store.NewMemoryStore(zap.NewNop(), 0, 0)
	t.Cleanup(func() { s.Close() })

	m := deadletter.NewManager(s, s, zap.NewNop())
	m.SetDispatcher(fakeDispatcher{})

	sent := &core.SentMessage{ID: "s1", UserID: "u1", Provider: core.ProviderGmail, RecipientEmail: "a@example.com"}
	require.NoError(t, s.AddSentMessage(context.Background(), sent))
	entry, err := m.Escalate(context.Background(), sent, errors.New("gmail search: transient"), nil)
	require.NoError(t, err)

	checker := &fakeChecker{outcome: &coordinator.Outcome{Provider: core.ProviderGmail, Status: coordinator.StatusNotFound}}
	return &fixture{
		server:  NewServer(":0", m, checker, zap.NewNop()),
		manager: m,
		checker: checker,
		entry:   entry,
	}
}

func (f *fixture) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")
}

func TestReview_Retry(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/dead-letters/"+f.entry.ID+"/review",
		`{"action":"retry","reviewed_by":"ops@example.com"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var result deadletter.ReviewResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.True(t, result.Success)
	assert.Equal(t, core.StatusRetryScheduled, result.Status)
	assert.Equal(t, "job-s1", result.NewJobID)

	// a second review of the same entry conflicts
	rec = f.do(t, http.MethodPost, "/api/dead-letters/"+f.entry.ID+"/review",
		`{"action":"skip","reviewed_by":"ops@example.com"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestReview_RetryNotDispatched(t *testing.T) {
	f := newFixture(t)
	f.manager.SetDispatcher(failingDispatcher{})

	rec := f.do(t, http.MethodPost, "/api/dead-letters/"+f.entry.ID+"/review",
		`{"action":"retry","reviewed_by":"ops"}`)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code, rec.Body.String())

	var result deadletter.ReviewResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.False(t, result.Success)
	assert.NotEmpty(t, result.RequeuedID)
	assert.Contains(t, result.Message, result.RequeuedID)
}

func TestReview_BadRequests(t *testing.T) {
	f := newFixture(t)
	path := "/api/dead-letters/" + f.entry.ID + "/review"

	tests := []struct {
		name string
		body string
		code int
	}{
		{"unknown action", `{"action":"delete","reviewed_by":"ops"}`, http.StatusBadRequest},
		{"missing reviewer", `{"action":"skip"}`, http.StatusBadRequest},
		{"missing reply content", `{"action":"mark_has_reply","reviewed_by":"ops"}`, http.StatusBadRequest},
		{"malformed body", `{"action":`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, path, tt.body)
			assert.Equal(t, tt.code, rec.Code, rec.Body.String())
		})
	}
}

func TestReview_UnknownEntry(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/api/dead-letters/missing/review", `{"action":"skip","reviewed_by":"ops"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatsAndPending(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/dead-letters/stats?user_id=u1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var stats StatsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats.Counts[core.StatusPendingReview])
	assert.Equal(t, 1, stats.Total)

	rec = f.do(t, http.MethodGet, "/api/dead-letters/pending?user_id=u1&limit=10", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var pending PendingResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pending))
	require.Len(t, pending.Entries, 1)
	assert.Equal(t, f.entry.ID, pending.Entries[0].ID)

	rec = f.do(t, http.MethodGet, "/api/dead-letters/pending?user_id=other", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"entries":[]`)

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/api/dead-letters/stats", "").Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/api/dead-letters/pending?user_id=u1&limit=x", "").Code)
}

func TestCheck(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/checks/s1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var out coordinator.Outcome
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "s1", out.SentEmailID)
	assert.Equal(t, coordinator.StatusNotFound, out.Status)

	f.checker.err = core.ErrNotFound
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodPost, "/api/checks/nope", "").Code)

	f.checker.err = errors.New("boom")
	assert.Equal(t, http.StatusInternalServerError, f.do(t, http.MethodPost, "/api/checks/s1", "").Code)
}

func TestProviderHealth(t *testing.T) {
	f := newFixture(t)
	f.checker.health = []core.ProviderHealth{
		{Provider: core.ProviderGmail, Healthy: true},
		{Provider: core.ProviderOutlook, Healthy: false, ErrorMessage: "auth"},
	}

	rec := f.do(t, http.MethodGet, "/api/providers/health?user_id=u1", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Healthy)
	assert.Len(t, resp.Providers, 2)

	f.checker.health = f.checker.health[:1]
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/api/providers/health?user_id=u1", "").Code)
}
