// Package coordinator drives a complete reply check for one sent message:
// loading it, short-circuiting recorded or skipped messages, running the
// detection pipeline under a deadline and persisting or escalating the result.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/mikey/reply-checker/internal/core"
	"github.com/mikey/reply-checker/internal/deadletter"
	"github.com/mikey/reply-checker/internal/pipeline"
	"go.uber.org/zap"
)

// Status is the externally visible result of a check
type Status string

const (
	StatusFound           Status = "found"
	StatusNotFound        Status = "not_found"
	StatusIndeterminate   Status = "indeterminate"
	StatusAlreadyRecorded Status = "already_recorded"
	StatusSkipped         Status = "skipped"
)

// Outcome reports what a check did
type Outcome struct {
	SentEmailID   string                `json:"sent_email_id"`
	Provider      core.ProviderType     `json:"provider"`
	Status        Status                `json:"status"`
	Result        *core.DetectionResult `json:"result,omitempty"`
	DeadLetterID  string                `json:"dead_letter_id,omitempty"`
	ErrKind       core.ErrorKind        `json:"error_kind,omitempty"`
	Error         string                `json:"error,omitempty"`
	RateLimitHits int                   `json:"rate_limit_hits"`
}

// Detector runs the detection layers for one sent message
type Detector interface {
	Detect(ctx context.Context, adapter core.ProviderAdapter, sent *core.SentMessage) *pipeline.Outcome
}

// Coordinator is the entry point for reply checks
type Coordinator struct {
	sent         core.SentMessageSource
	results      core.ResultRepository
	deadLetters  *deadletter.Manager
	detector     Detector
	adapters     map[core.ProviderType]core.ProviderAdapter
	checkTimeout time.Duration
	logger       *zap.Logger
	now          func() time.Time
}

// New creates a new coordinator. checkTimeout bounds a single check; zero disables it.
func New(
	sent core.SentMessageSource,
	results core.ResultRepository,
	deadLetters *deadletter.Manager,
	detector Detector,
	adapters []core.ProviderAdapter,
	checkTimeout time.Duration,
	logger *zap.Logger,
) *Coordinator {
	byProvider := make(map[core.ProviderType]core.ProviderAdapter, len(adapters))
	for _, a := range adapters {
		byProvider[a.Provider()] = a
	}
	return &Coordinator{
		sent:         sent,
		results:      results,
		deadLetters:  deadLetters,
		detector:     detector,
		adapters:     byProvider,
		checkTimeout: checkTimeout,
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Providers returns the configured providers in a stable order
func (c *Coordinator) Providers() []core.ProviderType {
	out := make([]core.ProviderType, 0, len(c.adapters))
	for p := range c.adapters {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Check determines whether the sent message has been replied to. The
// returned error is reserved for failures to load the sent message or to
// write the result; detection failures are reported through the outcome.
func (c *Coordinator) Check(ctx context.Context, sentEmailID string) (*Outcome, error) {
	sent, err := c.sent.GetSentMessage(ctx, sentEmailID)
	if err != nil {
		return nil, fmt.Errorf("failed to load sent message %s: %w", sentEmailID, err)
	}

	logger := c.logger.With(
		zap.String("sent_email_id", sent.ID),
		zap.String("provider", string(sent.Provider)))
	out := &Outcome{SentEmailID: sent.ID, Provider: sent.Provider}

	existing, err := c.results.GetResult(ctx, sent.ID)
	switch {
	case err == nil && existing.Found:
		logger.Debug("Reply already recorded")
		out.Status = StatusAlreadyRecorded
		out.Result = existing
		return out, nil
	case err != nil && !errors.Is(err, core.ErrNotFound):
		return nil, fmt.Errorf("failed to load detection result: %w", err)
	}

	skipped, err := c.deadLetters.IsSkipped(ctx, sent.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to check skip status: %w", err)
	}
	if skipped {
		logger.Info("Sent message was skipped by a reviewer")
		out.Status = StatusSkipped
		return out, nil
	}

	adapter, ok := c.adapters[sent.Provider]
	if !ok {
		cause := core.NewProviderError(sent.Provider, "check", core.KindFatal,
			fmt.Errorf("no adapter configured for provider %q", sent.Provider))
		return c.escalate(ctx, out, sent, cause, nil, logger)
	}

	checkCtx, cancel := c.withTimeout(ctx)
	defer cancel()

	started := time.Now()
	detected := c.detector.Detect(checkCtx, adapter, sent)
	out.RateLimitHits = detected.RateLimitHits
	logger.Debug("Detection finished",
		zap.String("status", string(detected.Status)),
		zap.Duration("elapsed", time.Since(started)))

	switch detected.Status {
	case pipeline.StatusFound:
		reply := detected.Reply
		received := reply.Date.UTC()
		result := &core.DetectionResult{
			SentEmailID:    sent.ID,
			Found:          true,
			ReplyMessageID: reply.ID,
			ReplyContent:   detected.ReplyContent,
			ReceivedAt:     &received,
			Sender:         reply.From,
			MatchedLayer:   detected.MatchedLayer,
			SearchMetadata: detected.Metadata,
			CheckedAt:      c.now(),
		}
		return c.save(ctx, out, StatusFound, result, logger)

	case pipeline.StatusNotFound:
		result := &core.DetectionResult{
			SentEmailID:    sent.ID,
			Found:          false,
			SearchMetadata: detected.Metadata,
			CheckedAt:      c.now(),
		}
		return c.save(ctx, out, StatusNotFound, result, logger)

	default:
		cause := detected.Err
		if errors.Is(checkCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			cause = fmt.Errorf("check exceeded %s: %w", c.checkTimeout, context.DeadlineExceeded)
		}
		return c.escalate(ctx, out, sent, cause, detected.Layers, logger)
	}
}

func (c *Coordinator) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.checkTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.checkTimeout)
}

// save persists a result. A reply recorded concurrently wins over this one.
// Once a reply is on record, a pending dead letter for the message is resolved.
func (c *Coordinator) save(ctx context.Context, out *Outcome, status Status, result *core.DetectionResult, logger *zap.Logger) (*Outcome, error) {
	err := c.results.SaveResult(ctx, result)
	if errors.Is(err, core.ErrReplyAlreadyRecorded) {
		logger.Info("Reply recorded concurrently, keeping the existing result")
		out.Status = StatusAlreadyRecorded
		if existing, getErr := c.results.GetResult(ctx, result.SentEmailID); getErr == nil {
			out.Result = existing
		}
		c.resolveDeadLetter(ctx, out, logger)
		return out, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to save detection result: %w", err)
	}

	out.Status = status
	out.Result = result
	logger.Info("Recorded detection result",
		zap.Bool("found", result.Found),
		zap.String("matched_layer", result.MatchedLayer),
		zap.Int("messages_scanned", result.SearchMetadata.MessagesScanned))
	if result.Found {
		c.resolveDeadLetter(ctx, out, logger)
	}
	return out, nil
}

// resolveDeadLetter is best effort: the reply is already on record
func (c *Coordinator) resolveDeadLetter(ctx context.Context, out *Outcome, logger *zap.Logger) {
	id, err := c.deadLetters.ResolveReplied(context.WithoutCancel(ctx), out.SentEmailID)
	if err != nil {
		logger.Warn("Could not resolve pending dead letter", zap.Error(err))
		return
	}
	out.DeadLetterID = id
}

func (c *Coordinator) escalate(ctx context.Context, out *Outcome, sent *core.SentMessage, cause error, layers []core.LayerReport, logger *zap.Logger) (*Outcome, error) {
	out.Status = StatusIndeterminate
	out.ErrKind = core.KindOf(cause)
	if cause != nil {
		out.Error = cause.Error()
	}

	// The check deadline may have passed; escalation still has to land
	entry, err := c.deadLetters.Escalate(context.WithoutCancel(ctx), sent, cause, layers)
	if err != nil {
		return nil, fmt.Errorf("failed to escalate sent message %s: %w", sent.ID, err)
	}
	out.DeadLetterID = entry.ID

	logger.Warn("Check escalated to dead letter queue",
		zap.String("dead_letter_id", entry.ID),
		zap.String("kind", string(out.ErrKind)),
		zap.Int("attempts", entry.AttemptCount))
	return out, nil
}

// CheckHealth probes every configured provider for the user
func (c *Coordinator) CheckHealth(ctx context.Context, userID string) []core.ProviderHealth {
	providers := c.Providers()
	health := make([]core.ProviderHealth, 0, len(providers))
	for _, p := range providers {
		h := c.adapters[p].CheckHealth(ctx, userID)
		if h.LastCheckedAt.IsZero() {
			h.LastCheckedAt = c.now()
		}
		health = append(health, h)
	}
	return health
}
