package coordinator

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mikey/reply-checker/internal/adapters/store"
	"github.com/mikey/reply-checker/internal/core"
	"github.com/mikey/reply-checker/internal/deadletter"
	"github.com/mikey/reply-checker/internal/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubAdapter struct {
	provider core.ProviderType
	healthy  bool
}

func (a *stubAdapter) Provider() core.ProviderType { return a.provider }

func (a *stubAdapter) CheckHealth(_ context.Context, _ string) core.ProviderHealth {
	h := core.ProviderHealth{Provider: a.provider, Healthy: a.healthy}
	if !a.healthy {
		h.ErrorMessage = "unreachable"
	}
	return h
}

func (a *stubAdapter) GetUserEmail(context.Context, string) (string, error) { return "", nil }

func (a *stubAdapter) FetchThread(context.Context, string, string) (*core.Thread, error) {
	return nil, nil
}

func (a *stubAdapter) SearchMessages(context.Context, string, core.SearchQuery, core.SearchOptions) (*core.SearchPage, error) {
	return &core.SearchPage{}, nil
}

func (a *stubAdapter) IsTokenValid(context.Context, string) bool { return true }

type stubDetector struct {
	calls   atomic.Int32
	outcome func(ctx context.Context) *pipeline.Outcome
}

func (d *stubDetector) Detect(ctx context.Context, _ core.ProviderAdapter, _ *core.SentMessage) *pipeline.Outcome {
	d.calls.Add(1)
	return d.outcome(ctx)
}

type fixture struct {
	coord    *Coordinator
	store    *store.MemoryStore
	manager  *deadletter.Manager
	detector *stubDetector
}

func newFixture(t *testing.T, timeout time.Duration, outcome func(ctx context.Context) *pipeline.Outcome) *fixture {
	t.Helper()
	s := store.NewMemoryStore(zap.NewNop(), 0, 0)
	t.Cleanup(func() { s.Close() })

	require.NoError(t, s.AddSentMessage(context.Background(), &core.SentMessage{
		ID:             "s1",
		UserID:         "u1",
		Provider:       core.ProviderGmail,
		RecipientEmail: "jane@example.com",
		Subject:        "Lunch",
		SentAt:         time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC),
	}))
	require.NoError(t, s.AddSentMessage(context.Background(), &core.SentMessage{
		ID: "s2", UserID: "u1", Provider: core.ProviderYahoo, RecipientEmail: "bob@yahoo.com",
	}))

	manager := deadletter.NewManager(s, s, zap.NewNop())
	detector := &stubDetector{outcome: outcome}
	adapters := []core.ProviderAdapter{
		&stubAdapter{provider: core.ProviderGmail, healthy: true},
		&stubAdapter{provider: core.ProviderOutlook},
	}
	return &fixture{
		coord:    New(s, s, manager, detector, adapters, timeout, zap.NewNop()),
		store:    s,
		manager:  manager,
		detector: detector,
	}
}

func found(context.Context) *pipeline.Outcome {
	return &pipeline.Outcome{
		Status:       pipeline.StatusFound,
		MatchedLayer: pipeline.LayerSubjectSender,
		ReplyContent: "Sure, noon works",
		Reply: &core.ProviderMessage{
			ID:   "r1",
			From: "jane@example.com",
			Date: time.Date(2024, 5, 2, 10, 0, 0, 0, time.UTC),
		},
		Metadata: core.SearchMetadata{QueriesRun: 2, MessagesScanned: 3},
	}
}

func notFound(context.Context) *pipeline.Outcome {
	return &pipeline.Outcome{Status: pipeline.StatusNotFound, Metadata: core.SearchMetadata{QueriesRun: 4}}
}

func TestCheck_FoundIsRecordedOnce(t *testing.T) {
	f := newFixture(t, time.Minute, found)
	ctx := context.Background()

	out, err := f.coord.Check(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, StatusFound, out.Status)
	require.NotNil(t, out.Result)
	assert.True(t, out.Result.Found)
	assert.Equal(t, "r1", out.Result.ReplyMessageID)
	assert.Equal(t, pipeline.LayerSubjectSender, out.Result.MatchedLayer)

	stored, err := f.store.GetResult(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "Sure, noon works", stored.ReplyContent)

	again, err := f.coord.Check(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, StatusAlreadyRecorded, again.Status)
	assert.Equal(t, int32(1), f.detector.calls.Load())
}

func TestCheck_FoundResolvesPendingDeadLetter(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	f := newFixture(t, time.Minute, func(ctx context.Context) *pipeline.Outcome {
		if fail.Load() {
			return &pipeline.Outcome{Status: pipeline.StatusIndeterminate, Err: errors.New("503"), ErrKind: core.KindTransient}
		}
		return found(ctx)
	})
	ctx := context.Background()

	out, err := f.coord.Check(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, StatusIndeterminate, out.Status)
	pendingID := out.DeadLetterID

	fail.Store(false)
	out, err = f.coord.Check(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, StatusFound, out.Status)
	assert.Equal(t, pendingID, out.DeadLetterID)

	entry, err := f.store.GetDeadLetter(ctx, pendingID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusResolved, entry.Status)
	assert.Equal(t, deadletter.SystemReviewer, entry.ReviewedBy)

	pending, err := f.manager.Pending(ctx, "u1", 0)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestCheck_NotFoundKeepsPendingDeadLetter(t *testing.T) {
	f := newFixture(t, time.Minute, notFound)
	ctx := context.Background()
	entry, err := f.manager.Escalate(ctx, &core.SentMessage{ID: "s1", UserID: "u1", Provider: core.ProviderGmail}, errors.New("boom"), nil)
	require.NoError(t, err)

	out, err := f.coord.Check(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, StatusNotFound, out.Status)
	assert.Empty(t, out.DeadLetterID)

	stored, err := f.store.GetDeadLetter(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusPendingReview, stored.Status)
}

func TestCheck_NotFoundCanBeRechecked(t *testing.T) {
	f := newFixture(t, time.Minute, notFound)
	ctx := context.Background()

	out, err := f.coord.Check(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, StatusNotFound, out.Status)
	assert.False(t, out.Result.Found)

	f.detector.outcome = found
	out, err = f.coord.Check(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, StatusFound, out.Status)
	assert.Equal(t, int32(2), f.detector.calls.Load())
}

func TestCheck_ConcurrentReplyWins(t *testing.T) {
	f := newFixture(t, time.Minute, nil)
	ctx := context.Background()

	f.detector.outcome = func(context.Context) *pipeline.Outcome {
		// Another worker records a reply while this check is running
		received := time.Date(2024, 5, 3, 0, 0, 0, 0, time.UTC)
		require.NoError(t, f.store.SaveResult(ctx, &core.DetectionResult{
			SentEmailID: "s1", Found: true, ReplyMessageID: "other", ReceivedAt: &received,
		}))
		return notFound(ctx)
	}

	out, err := f.coord.Check(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, StatusAlreadyRecorded, out.Status)
	require.NotNil(t, out.Result)
	assert.Equal(t, "other", out.Result.ReplyMessageID)
}

func TestCheck_IndeterminateEscalates(t *testing.T) {
	cause := core.NewProviderError(core.ProviderGmail, "search", core.KindTransient, errors.New("503"))
	f := newFixture(t, time.Minute, func(context.Context) *pipeline.Outcome {
		return &pipeline.Outcome{
			Status:        pipeline.StatusIndeterminate,
			Err:           cause,
			ErrKind:       core.KindTransient,
			RateLimitHits: 2,
			Layers: []core.LayerReport{
				{Layer: pipeline.LayerThread, Error: cause.Error(), ErrKind: core.KindTransient},
			},
		}
	})
	ctx := context.Background()

	out, err := f.coord.Check(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, StatusIndeterminate, out.Status)
	assert.Equal(t, core.KindTransient, out.ErrKind)
	assert.Equal(t, 2, out.RateLimitHits)
	require.NotEmpty(t, out.DeadLetterID)

	entry, err := f.store.GetDeadLetter(ctx, out.DeadLetterID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusPendingReview, entry.Status)
	assert.Contains(t, entry.LastError, "503")
	require.Len(t, entry.LayerMetadata, 1)

	_, err = f.store.GetResult(ctx, "s1")
	assert.ErrorIs(t, err, core.ErrNotFound)

	again, err := f.coord.Check(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, out.DeadLetterID, again.DeadLetterID)
	entry, err = f.store.GetDeadLetter(ctx, out.DeadLetterID)
	require.NoError(t, err)
	assert.Equal(t, 2, entry.AttemptCount)
}

func TestCheck_TimeoutEscalates(t *testing.T) {
	f := newFixture(t, 20*time.Millisecond, func(ctx context.Context) *pipeline.Outcome {
		<-ctx.Done()
		return &pipeline.Outcome{Status: pipeline.StatusIndeterminate, Err: ctx.Err(), ErrKind: core.KindOf(ctx.Err())}
	})

	out, err := f.coord.Check(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, StatusIndeterminate, out.Status)
	assert.Contains(t, out.Error, "check exceeded")
	assert.NotEmpty(t, out.DeadLetterID)
}

func TestCheck_SkippedIsNotChecked(t *testing.T) {
	f := newFixture(t, time.Minute, found)
	ctx := context.Background()

	entry, err := f.manager.Escalate(ctx, &core.SentMessage{ID: "s1", UserID: "u1", Provider: core.ProviderGmail}, errors.New("boom"), nil)
	require.NoError(t, err)
	_, err = f.manager.Review(ctx, deadletter.ReviewRequest{
		DeadLetterID: entry.ID, Action: deadletter.ActionSkip, ReviewedBy: "ops",
	})
	require.NoError(t, err)

	out, err := f.coord.Check(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, StatusSkipped, out.Status)
	assert.Equal(t, int32(0), f.detector.calls.Load())
}

func TestCheck_MissingAdapterIsIndeterminate(t *testing.T) {
	f := newFixture(t, time.Minute, found)

	out, err := f.coord.Check(context.Background(), "s2")
	require.NoError(t, err)
	assert.Equal(t, StatusIndeterminate, out.Status)
	assert.Equal(t, core.KindFatal, out.ErrKind)
	assert.NotEmpty(t, out.DeadLetterID)
	assert.Equal(t, int32(0), f.detector.calls.Load())
}

func TestCheck_UnknownSentMessage(t *testing.T) {
	f := newFixture(t, time.Minute, found)

	_, err := f.coord.Check(context.Background(), "missing")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestCheckHealth(t *testing.T) {
	f := newFixture(t, time.Minute, found)

	health := f.coord.CheckHealth(context.Background(), "u1")
	require.Len(t, health, 2)
	assert.Equal(t, core.ProviderGmail, health[0].Provider)
	assert.True(t, health[0].Healthy)
	assert.Equal(t, core.ProviderOutlook, health[1].Provider)
	assert.False(t, health[1].Healthy)
	assert.False(t, health[1].LastCheckedAt.IsZero())
}
