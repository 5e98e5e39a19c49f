package deadletter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mikey/reply-checker/internal/core"
	"go.uber.org/zap"
)

// Action is a reviewer decision on a dead-letter entry
type Action string

const (
	ActionRetry        Action = "retry"
	ActionManualCheck  Action = "manual_check"
	ActionSkip         Action = "skip"
	ActionMarkNoReply  Action = "mark_no_reply"
	ActionMarkHasReply Action = "mark_has_reply"
)

// Actions lists every review action
var Actions = []Action{ActionRetry, ActionManualCheck, ActionSkip, ActionMarkNoReply, ActionMarkHasReply}

var (
	// ErrInvalidAction is returned for an action outside the closed set
	ErrInvalidAction = errors.New("invalid review action")
	// ErrReplyContentRequired is returned when mark_has_reply carries no reply content
	ErrReplyContentRequired = errors.New("reply content is required for mark_has_reply")
	// ErrNoDispatcher is returned when a retry is requested without a dispatcher
	ErrNoDispatcher = errors.New("no retry dispatcher configured")
)

// SystemReviewer is recorded as reviewer when an automated check closes an entry
const SystemReviewer = "system"

// DefaultPendingLimit bounds Pending when no limit is given
const DefaultPendingLimit = 50

// ParseAction validates an action string
func ParseAction(s string) (Action, error) {
	for _, a := range Actions {
		if string(a) == s {
			return a, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidAction, s)
}

// Dispatcher schedules a fresh detection run for a sent message
type Dispatcher interface {
	Enqueue(ctx context.Context, sentEmailID string) (string, error)
}

// ReviewRequest is a reviewer's decision on one entry
type ReviewRequest struct {
	DeadLetterID string
	Action       Action
	ReviewedBy   string
	Notes        string
	ReplyContent string
}

// ReviewResult reports the effect of a review
type ReviewResult struct {
	Success  bool                  `json:"success"`
	Action   Action                `json:"action"`
	Status   core.DeadLetterStatus `json:"status"`
	Message  string                `json:"message"`
	NewJobID string                `json:"new_job_id,omitempty"`
	// RequeuedID is the fresh pending entry created when a retry could not be dispatched
	RequeuedID string `json:"requeued_id,omitempty"`
}

type handler func(ctx context.Context, entry *core.DeadLetterEntry, req ReviewRequest) (*ReviewResult, error)

// Manager owns the dead-letter queue and its review state machine
type Manager struct {
	repo       core.DeadLetterRepository
	results    core.ResultRepository
	dispatcher Dispatcher
	logger     *zap.Logger
	now        func() time.Time
	handlers   map[Action]handler
}

// NewManager creates a new dead-letter manager
func NewManager(repo core.DeadLetterRepository, results core.ResultRepository, logger *zap.Logger) *Manager {
	m := &Manager{
		repo:    repo,
		results: results,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
	m.handlers = map[Action]handler{
		ActionRetry:        m.retry,
		ActionManualCheck:  m.manualCheck,
		ActionSkip:         m.skip,
		ActionMarkNoReply:  m.markNoReply,
		ActionMarkHasReply: m.markHasReply,
	}
	return m
}

// SetDispatcher wires the component that runs retries
func (m *Manager) SetDispatcher(d Dispatcher) {
	m.dispatcher = d
}

// Review applies a reviewer action to a pending entry. Entries that already
// left pending_review yield Success=false without side effects.
func (m *Manager) Review(ctx context.Context, req ReviewRequest) (*ReviewResult, error) {
	h, ok := m.handlers[req.Action]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAction, req.Action)
	}

	entry, err := m.repo.GetDeadLetter(ctx, req.DeadLetterID)
	if err != nil {
		return nil, fmt.Errorf("failed to load dead letter %s: %w", req.DeadLetterID, err)
	}

	if entry.Status != core.StatusPendingReview {
		return alreadyReviewed(req.Action, entry.Status), nil
	}

	result, err := h(ctx, entry, req)
	if errors.Is(err, core.ErrStatusConflict) {
		current, getErr := m.repo.GetDeadLetter(ctx, req.DeadLetterID)
		if getErr != nil {
			return nil, getErr
		}
		return alreadyReviewed(req.Action, current.Status), nil
	}
	if err != nil {
		return nil, err
	}

	m.logger.Info("Dead letter reviewed",
		zap.String("dead_letter_id", entry.ID),
		zap.String("sent_email_id", entry.SentEmailID),
		zap.String("action", string(req.Action)),
		zap.String("reviewed_by", req.ReviewedBy),
		zap.Bool("success", result.Success))

	return result, nil
}

func alreadyReviewed(action Action, status core.DeadLetterStatus) *ReviewResult {
	return &ReviewResult{
		Success: false,
		Action:  action,
		Status:  status,
		Message: fmt.Sprintf("dead letter entry already reviewed (status: %s)", status),
	}
}

func (m *Manager) transition(ctx context.Context, entry *core.DeadLetterEntry, req ReviewRequest, status core.DeadLetterStatus) error {
	return m.repo.TransitionDeadLetter(ctx, entry.ID, core.ReviewUpdate{
		Status:     status,
		ReviewedBy: req.ReviewedBy,
		Notes:      req.Notes,
		ReviewedAt: m.now(),
	})
}

func (m *Manager) retry(ctx context.Context, entry *core.DeadLetterEntry, req ReviewRequest) (*ReviewResult, error) {
	if m.dispatcher == nil {
		return nil, ErrNoDispatcher
	}

	// The entry leaves pending_review before the new run can escalate again.
	// A failed dispatch hands the sent message to a fresh pending entry.
	if err := m.transition(ctx, entry, req, core.StatusRetryScheduled); err != nil {
		return nil, err
	}

	jobID, err := m.dispatcher.Enqueue(ctx, entry.SentEmailID)
	if err != nil {
		m.logger.Error("Failed to dispatch retry",
			zap.String("dead_letter_id", entry.ID),
			zap.Error(err))

		requeued, requeueErr := m.recordFailure(ctx, &core.DeadLetterEntry{
			SentEmailID:   entry.SentEmailID,
			UserID:        entry.UserID,
			Provider:      entry.Provider,
			LastError:     fmt.Sprintf("retry dispatch failed: %v", err),
			LayerMetadata: entry.LayerMetadata,
			AttemptCount:  entry.AttemptCount,
		})
		if requeueErr != nil {
			return nil, fmt.Errorf("retry dispatch failed: %v; requeue failed: %w", err, requeueErr)
		}
		return &ReviewResult{
			Success:    false,
			Action:     ActionRetry,
			Status:     core.StatusRetryScheduled,
			Message:    fmt.Sprintf("retry could not be dispatched (%v); review dead letter %s instead", err, requeued.ID),
			RequeuedID: requeued.ID,
		}, nil
	}

	return &ReviewResult{
		Success:  true,
		Action:   ActionRetry,
		Status:   core.StatusRetryScheduled,
		Message:  "retry scheduled",
		NewJobID: jobID,
	}, nil
}

func (m *Manager) manualCheck(ctx context.Context, entry *core.DeadLetterEntry, req ReviewRequest) (*ReviewResult, error) {
	if err := m.transition(ctx, entry, req, core.StatusManuallyChecked); err != nil {
		return nil, err
	}
	return &ReviewResult{Success: true, Action: ActionManualCheck, Status: core.StatusManuallyChecked, Message: "marked as manually checked"}, nil
}

func (m *Manager) skip(ctx context.Context, entry *core.DeadLetterEntry, req ReviewRequest) (*ReviewResult, error) {
	if err := m.transition(ctx, entry, req, core.StatusSkipped); err != nil {
		return nil, err
	}
	return &ReviewResult{Success: true, Action: ActionSkip, Status: core.StatusSkipped, Message: "excluded from automated retries"}, nil
}

func (m *Manager) markNoReply(ctx context.Context, entry *core.DeadLetterEntry, req ReviewRequest) (*ReviewResult, error) {
	err := m.results.SaveResult(ctx, &core.DetectionResult{
		SentEmailID:    entry.SentEmailID,
		Found:          false,
		MatchedLayer:   core.MatchedLayerManual,
		SearchMetadata: core.SearchMetadata{Notes: reviewerNotes(req)},
		CheckedAt:      m.now(),
	})
	if errors.Is(err, core.ErrReplyAlreadyRecorded) {
		return &ReviewResult{
			Success: false,
			Action:  ActionMarkNoReply,
			Status:  entry.Status,
			Message: "a reply is already recorded for this message",
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to record no-reply result: %w", err)
	}

	if err := m.transition(ctx, entry, req, core.StatusResolved); err != nil {
		return nil, err
	}
	return &ReviewResult{Success: true, Action: ActionMarkNoReply, Status: core.StatusResolved, Message: "recorded as no reply"}, nil
}

func (m *Manager) markHasReply(ctx context.Context, entry *core.DeadLetterEntry, req ReviewRequest) (*ReviewResult, error) {
	if req.ReplyContent == "" {
		return nil, ErrReplyContentRequired
	}

	now := m.now()
	err := m.results.SaveResult(ctx, &core.DetectionResult{
		SentEmailID:    entry.SentEmailID,
		Found:          true,
		ReplyContent:   req.ReplyContent,
		MatchedLayer:   core.MatchedLayerManual,
		SearchMetadata: core.SearchMetadata{Notes: reviewerNotes(req)},
		CheckedAt:      now,
	})
	message := "recorded as replied"
	if errors.Is(err, core.ErrReplyAlreadyRecorded) {
		message = "reply was already recorded"
	} else if err != nil {
		return nil, fmt.Errorf("failed to record reply: %w", err)
	}

	if err := m.transition(ctx, entry, req, core.StatusResolved); err != nil {
		return nil, err
	}
	return &ReviewResult{Success: true, Action: ActionMarkHasReply, Status: core.StatusResolved, Message: message}, nil
}

func reviewerNotes(req ReviewRequest) []string {
	notes := []string{"recorded by " + req.ReviewedBy}
	if req.Notes != "" {
		notes = append(notes, req.Notes)
	}
	return notes
}

// Escalate records a check that could not be completed. An existing pending
// entry for the same sent message is refreshed instead of duplicated.
func (m *Manager) Escalate(ctx context.Context, sent *core.SentMessage, cause error, layers []core.LayerReport) (*core.DeadLetterEntry, error) {
	lastError := "unknown error"
	if cause != nil {
		lastError = cause.Error()
	}

	return m.recordFailure(ctx, &core.DeadLetterEntry{
		SentEmailID:   sent.ID,
		UserID:        sent.UserID,
		Provider:      sent.Provider,
		LastError:     lastError,
		LayerMetadata: layers,
		AttemptCount:  1,
	})
}

// maxRecordAttempts bounds how often recordFailure chases a pending entry
// that other writers keep creating or reviewing
const maxRecordAttempts = 5

// recordFailure refreshes the sent message's pending entry, or creates fresh
// when there is none. A lost race is retried against the winning entry.
func (m *Manager) recordFailure(ctx context.Context, fresh *core.DeadLetterEntry) (*core.DeadLetterEntry, error) {
	for attempt := 0; attempt < maxRecordAttempts; attempt++ {
		existing, err := m.repo.FindDeadLetter(ctx, fresh.SentEmailID, core.StatusPendingReview)
		switch {
		case err == nil:
			existing.LastError = fresh.LastError
			existing.LayerMetadata = fresh.LayerMetadata
			existing.AttemptCount++
			existing.UpdatedAt = m.now()
			err := m.repo.UpdatePendingFailure(ctx, existing)
			if errors.Is(err, core.ErrStatusConflict) {
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("failed to update dead letter: %w", err)
			}
			m.logger.Info("Updated pending dead letter",
				zap.String("dead_letter_id", existing.ID),
				zap.String("sent_email_id", existing.SentEmailID),
				zap.Int("attempts", existing.AttemptCount))
			return existing, nil
		case !errors.Is(err, core.ErrNotFound):
			return nil, fmt.Errorf("failed to look up dead letter: %w", err)
		}

		created, err := m.create(ctx, fresh)
		if errors.Is(err, core.ErrPendingExists) {
			continue
		}
		return created, err
	}
	return nil, fmt.Errorf("failed to record dead letter for %s: pending entry changed %d times", fresh.SentEmailID, maxRecordAttempts)
}

func (m *Manager) create(ctx context.Context, entry *core.DeadLetterEntry) (*core.DeadLetterEntry, error) {
	now := m.now()
	entry.ID = uuid.NewString()
	entry.Status = core.StatusPendingReview
	entry.CreatedAt = now
	entry.UpdatedAt = now

	if err := m.repo.CreateDeadLetter(ctx, entry); err != nil {
		return nil, fmt.Errorf("failed to create dead letter: %w", err)
	}

	m.logger.Info("Created dead letter",
		zap.String("dead_letter_id", entry.ID),
		zap.String("sent_email_id", entry.SentEmailID),
		zap.String("last_error", entry.LastError))
	return entry, nil
}

// ResolveReplied closes the sent message's pending entry once a reply has been
// recorded. It returns the id of the resolved entry, or "" when there was none
// or a reviewer closed it first.
func (m *Manager) ResolveReplied(ctx context.Context, sentEmailID string) (string, error) {
	entry, err := m.repo.FindDeadLetter(ctx, sentEmailID, core.StatusPendingReview)
	if errors.Is(err, core.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up dead letter: %w", err)
	}

	err = m.repo.TransitionDeadLetter(ctx, entry.ID, core.ReviewUpdate{
		Status:     core.StatusResolved,
		ReviewedBy: SystemReviewer,
		Notes:      "reply detected by an automated check",
		ReviewedAt: m.now(),
	})
	if errors.Is(err, core.ErrStatusConflict) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to resolve dead letter %s: %w", entry.ID, err)
	}

	m.logger.Info("Resolved dead letter after reply was found",
		zap.String("dead_letter_id", entry.ID),
		zap.String("sent_email_id", sentEmailID))
	return entry.ID, nil
}

// IsSkipped reports whether a reviewer excluded the sent message from automated checks
func (m *Manager) IsSkipped(ctx context.Context, sentEmailID string) (bool, error) {
	_, err := m.repo.FindDeadLetter(ctx, sentEmailID, core.StatusSkipped)
	if errors.Is(err, core.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Stats counts a user's entries per status; every status is present
func (m *Manager) Stats(ctx context.Context, userID string) (map[core.DeadLetterStatus]int, error) {
	counts, err := m.repo.CountDeadLettersByStatus(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to count dead letters: %w", err)
	}
	stats := make(map[core.DeadLetterStatus]int, len(core.AllStatuses))
	for _, s := range core.AllStatuses {
		stats[s] = counts[s]
	}
	return stats, nil
}

// Pending lists a user's entries awaiting review, newest first
func (m *Manager) Pending(ctx context.Context, userID string, limit int) ([]*core.DeadLetterEntry, error) {
	if limit <= 0 {
		limit = DefaultPendingLimit
	}
	entries, err := m.repo.ListPendingDeadLetters(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending dead letters: %w", err)
	}
	return entries, nil
}
