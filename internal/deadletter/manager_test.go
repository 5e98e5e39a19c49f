package deadletter

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mikey/reply-checker/internal/adapters/store"
	"github.com/mikey/reply-checker/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeDispatcher struct {
	mu      sync.Mutex
	queued  []string
	failErr error
}

func (d *fakeDispatcher) Enqueue(_ context.Context, sentEmailID string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failErr != nil {
		return "", d.failErr
	}
	d.queued = append(d.queued, sentEmailID)
	return "job-" + sentEmailID, nil
}

func newTestManager(t *testing.T) (*Manager, *store.MemoryStore) {
	s := store.NewMemoryStore(zap.NewNop(), 0, 0)
	t.Cleanup(func() { s.Close() })
	return NewManager(s, s, zap.NewNop()), s
}

func sent() *core.SentMessage {
	return &core.SentMessage{ID: "s1", UserID: "u1", Provider: core.ProviderGmail, RecipientEmail: "a@example.com"}
}

func escalate(t *testing.T, m *Manager) *core.DeadLetterEntry {
	entry, err := m.Escalate(context.Background(), sent(), errors.New("gmail search: transient"), []core.LayerReport{
		{Layer: "thread_correlation", Error: "timeout", ErrKind: core.KindTransient},
	})
	require.NoError(t, err)
	return entry
}

func TestParseAction(t *testing.T) {
	for _, a := range Actions {
		got, err := ParseAction(string(a))
		require.NoError(t, err)
		assert.Equal(t, a, got)
	}
	_, err := ParseAction("delete")
	assert.ErrorIs(t, err, ErrInvalidAction)
}

func TestEscalate_ReusesPendingEntry(t *testing.T) {
	m, _ := newTestManager(t)

	first := escalate(t, m)
	assert.Equal(t, core.StatusPendingReview, first.Status)
	assert.Equal(t, 1, first.AttemptCount)
	assert.NotEmpty(t, first.ID)

	second := escalate(t, m)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 2, second.AttemptCount)

	stats, err := m.Stats(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, stats[core.StatusPendingReview])
	assert.Len(t, stats, len(core.AllStatuses))
	assert.Equal(t, 0, stats[core.StatusResolved])
}

func TestEscalate_ConcurrentCallsShareOnePendingEntry(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	const callers = 16
	ids := make([]string, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			entry, err := m.Escalate(ctx, sent(), errors.New("timeout"), nil)
			if assert.NoError(t, err) {
				ids[i] = entry.ID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	stats, err := m.Stats(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, stats[core.StatusPendingReview])
}

func TestEscalate_CreatesNewEntryAfterReview(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	first := escalate(t, m)

	_, err := m.Review(ctx, ReviewRequest{DeadLetterID: first.ID, Action: ActionManualCheck, ReviewedBy: "ops"})
	require.NoError(t, err)

	second := escalate(t, m)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, 1, second.AttemptCount)
}

func TestReview_Transitions(t *testing.T) {
	tests := []struct {
		action     Action
		wantStatus core.DeadLetterStatus
	}{
		{ActionManualCheck, core.StatusManuallyChecked},
		{ActionSkip, core.StatusSkipped},
		{ActionMarkNoReply, core.StatusResolved},
	}

	for _, tt := range tests {
		t.Run(string(tt.action), func(t *testing.T) {
			m, s := newTestManager(t)
			entry := escalate(t, m)

			result, err := m.Review(context.Background(), ReviewRequest{
				DeadLetterID: entry.ID,
				Action:       tt.action,
				ReviewedBy:   "ops@example.com",
				Notes:        "checked inbox",
			})
			require.NoError(t, err)
			assert.True(t, result.Success)
			assert.Equal(t, tt.wantStatus, result.Status)

			stored, err := s.GetDeadLetter(context.Background(), entry.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, stored.Status)
			assert.Equal(t, "ops@example.com", stored.ReviewedBy)
			assert.NotNil(t, stored.ReviewedAt)
		})
	}
}

func TestReview_SecondReviewIsRejected(t *testing.T) {
	m, _ := newTestManager(t)
	entry := escalate(t, m)
	ctx := context.Background()

	_, err := m.Review(ctx, ReviewRequest{DeadLetterID: entry.ID, Action: ActionSkip, ReviewedBy: "a"})
	require.NoError(t, err)

	result, err := m.Review(ctx, ReviewRequest{DeadLetterID: entry.ID, Action: ActionManualCheck, ReviewedBy: "b"})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, core.StatusSkipped, result.Status)
	assert.Contains(t, result.Message, "already reviewed")

	skipped, err := m.IsSkipped(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, skipped)
}

func TestSkip_SurvivesRetentionPurge(t *testing.T) {
	m, s := newTestManager(t)
	entry := escalate(t, m)
	ctx := context.Background()

	_, err := m.Review(ctx, ReviewRequest{DeadLetterID: entry.ID, Action: ActionSkip, ReviewedBy: "ops"})
	require.NoError(t, err)

	_, err = s.PurgeReviewedDeadLetters(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)

	skipped, err := m.IsSkipped(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, skipped)
}

func TestReview_MarkNoReplyWritesManualResult(t *testing.T) {
	m, s := newTestManager(t)
	entry := escalate(t, m)

	_, err := m.Review(context.Background(), ReviewRequest{DeadLetterID: entry.ID, Action: ActionMarkNoReply, ReviewedBy: "ops"})
	require.NoError(t, err)

	result, err := s.GetResult(context.Background(), "s1")
	require.NoError(t, err)
	assert.False(t, result.Found)
	assert.Equal(t, core.MatchedLayerManual, result.MatchedLayer)
}

func TestReview_MarkNoReplyKeepsRecordedReply(t *testing.T) {
	m, s := newTestManager(t)
	entry := escalate(t, m)
	ctx := context.Background()
	require.NoError(t, s.SaveResult(ctx, &core.DetectionResult{SentEmailID: "s1", Found: true, ReplyMessageID: "r1"}))

	result, err := m.Review(ctx, ReviewRequest{DeadLetterID: entry.ID, Action: ActionMarkNoReply, ReviewedBy: "ops"})
	require.NoError(t, err)
	assert.False(t, result.Success)

	stored, err := s.GetDeadLetter(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusPendingReview, stored.Status)

	recorded, err := s.GetResult(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, recorded.Found)
}

func TestReview_MarkHasReply(t *testing.T) {
	m, s := newTestManager(t)
	entry := escalate(t, m)
	ctx := context.Background()

	_, err := m.Review(ctx, ReviewRequest{DeadLetterID: entry.ID, Action: ActionMarkHasReply, ReviewedBy: "ops"})
	assert.ErrorIs(t, err, ErrReplyContentRequired)

	result, err := m.Review(ctx, ReviewRequest{
		DeadLetterID: entry.ID,
		Action:       ActionMarkHasReply,
		ReviewedBy:   "ops",
		ReplyContent: "Thanks, see you Tuesday",
	})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, core.StatusResolved, result.Status)

	recorded, err := s.GetResult(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, recorded.Found)
	assert.Equal(t, "Thanks, see you Tuesday", recorded.ReplyContent)
	assert.Equal(t, core.MatchedLayerManual, recorded.MatchedLayer)
}

func TestReview_Retry(t *testing.T) {
	m, s := newTestManager(t)
	d := &fakeDispatcher{}
	m.SetDispatcher(d)
	entry := escalate(t, m)

	result, err := m.Review(context.Background(), ReviewRequest{DeadLetterID: entry.ID, Action: ActionRetry, ReviewedBy: "ops"})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "job-s1", result.NewJobID)
	assert.Equal(t, []string{"s1"}, d.queued)

	stored, err := s.GetDeadLetter(context.Background(), entry.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusRetryScheduled, stored.Status)
}

func TestReview_RetryDispatchFailureRequeues(t *testing.T) {
	m, _ := newTestManager(t)
	m.SetDispatcher(&fakeDispatcher{failErr: errors.New("queue full")})
	entry := escalate(t, m)
	ctx := context.Background()

	result, err := m.Review(ctx, ReviewRequest{DeadLetterID: entry.ID, Action: ActionRetry, ReviewedBy: "ops"})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.Message, "queue full")

	pending, err := m.Pending(ctx, "u1", 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.NotEqual(t, entry.ID, pending[0].ID)
	assert.Equal(t, pending[0].ID, result.RequeuedID)
	assert.Contains(t, result.Message, result.RequeuedID, "operator is pointed at the requeued entry")
	assert.Contains(t, pending[0].LastError, "retry dispatch failed")
}

func TestReview_RetryWithoutDispatcher(t *testing.T) {
	m, _ := newTestManager(t)
	entry := escalate(t, m)

	_, err := m.Review(context.Background(), ReviewRequest{DeadLetterID: entry.ID, Action: ActionRetry})
	assert.ErrorIs(t, err, ErrNoDispatcher)
}

func TestReview_Errors(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	_, err := m.Review(ctx, ReviewRequest{DeadLetterID: "x", Action: "archive"})
	assert.ErrorIs(t, err, ErrInvalidAction)

	_, err = m.Review(ctx, ReviewRequest{DeadLetterID: "missing", Action: ActionSkip})
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestReview_ConcurrentReviewsOnlyOneWins(t *testing.T) {
	m, _ := newTestManager(t)
	entry := escalate(t, m)

	var wg sync.WaitGroup
	results := make([]*ReviewResult, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := m.Review(context.Background(), ReviewRequest{DeadLetterID: entry.ID, Action: ActionManualCheck, ReviewedBy: "ops"})
			if assert.NoError(t, err) {
				results[i] = r
			}
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, r := range results {
		if r != nil && r.Success {
			wins++
		}
	}
	assert.Equal(t, 1, wins)
}

func TestPending_NewestFirst(t *testing.T) {
	m, _ := newTestManager(t)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	m.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}

	ctx := context.Background()
	for _, id := range []string{"s1", "s2", "s3"} {
		msg := sent()
		msg.ID = id
		_, err := m.Escalate(ctx, msg, errors.New("boom"), nil)
		require.NoError(t, err)
	}

	pending, err := m.Pending(ctx, "u1", 2)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "s3", pending[0].SentEmailID)
	assert.Equal(t, "s2", pending[1].SentEmailID)
}
