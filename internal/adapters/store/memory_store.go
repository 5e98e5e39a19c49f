package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mikey/reply-checker/internal/core"
	"go.uber.org/zap"
)

// MemoryStore is an in-memory implementation of core.Store
type MemoryStore struct {
	sent        map[string]*core.SentMessage
	results     map[string]*core.DetectionResult
	deadLetters map[string]*core.DeadLetterEntry
	aliases     map[string][]core.Alias
	mu          sync.RWMutex
	cleanup     *cleanupTask
	logger      *zap.Logger
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore(logger *zap.Logger, retention, cleanupFreq time.Duration) *MemoryStore {
	s := &MemoryStore{
		sent:        make(map[string]*core.SentMessage),
		results:     make(map[string]*core.DetectionResult),
		deadLetters: make(map[string]*core.DeadLetterEntry),
		aliases:     make(map[string][]core.Alias),
		logger:      logger,
	}
	s.cleanup = startCleanupTask(s, retention, cleanupFreq, logger)
	return s
}

// AddSentMessage seeds a sent message, standing in for the send path
func (s *MemoryStore) AddSentMessage(_ context.Context, msg *core.SentMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *msg
	s.sent[msg.ID] = &copied
	return nil
}

// GetSentMessage implements core.SentMessageSource
func (s *MemoryStore) GetSentMessage(_ context.Context, id string) (*core.SentMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msg, ok := s.sent[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	copied := *msg
	return &copied, nil
}

// ListSentMessages implements core.SentMessageSource, oldest first
func (s *MemoryStore) ListSentMessages(_ context.Context, userID string, limit int) ([]*core.SentMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*core.SentMessage
	for _, msg := range s.sent {
		if msg.UserID == userID {
			copied := *msg
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SentAt.Before(out[j].SentAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// GetResult implements core.ResultRepository
func (s *MemoryStore) GetResult(_ context.Context, sentEmailID string) (*core.DetectionResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result, ok := s.results[sentEmailID]
	if !ok {
		return nil, core.ErrNotFound
	}
	copied := *result
	return &copied, nil
}

// SaveResult implements core.ResultRepository
func (s *MemoryStore) SaveResult(_ context.Context, result *core.DetectionResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.results[result.SentEmailID]; ok && existing.Found {
		return core.ErrReplyAlreadyRecorded
	}
	copied := *result
	s.results[result.SentEmailID] = &copied
	return nil
}

// CreateDeadLetter implements core.DeadLetterRepository
func (s *MemoryStore) CreateDeadLetter(_ context.Context, entry *core.DeadLetterEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.Status == core.StatusPendingReview {
		for _, existing := range s.deadLetters {
			if existing.SentEmailID == entry.SentEmailID && existing.Status == core.StatusPendingReview {
				return core.ErrPendingExists
			}
		}
	}
	copied := *entry
	s.deadLetters[entry.ID] = &copied
	return nil
}

// GetDeadLetter implements core.DeadLetterRepository
func (s *MemoryStore) GetDeadLetter(_ context.Context, id string) (*core.DeadLetterEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.deadLetters[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	copied := *entry
	return &copied, nil
}

// FindDeadLetter implements core.DeadLetterRepository
func (s *MemoryStore) FindDeadLetter(_ context.Context, sentEmailID string, status core.DeadLetterStatus) (*core.DeadLetterEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var newest *core.DeadLetterEntry
	for _, entry := range s.deadLetters {
		if entry.SentEmailID != sentEmailID || entry.Status != status {
			continue
		}
		if newest == nil || entry.CreatedAt.After(newest.CreatedAt) {
			newest = entry
		}
	}
	if newest == nil {
		return nil, core.ErrNotFound
	}
	copied := *newest
	return &copied, nil
}

// UpdatePendingFailure implements core.DeadLetterRepository
func (s *MemoryStore) UpdatePendingFailure(_ context.Context, entry *core.DeadLetterEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.deadLetters[entry.ID]
	if !ok {
		return core.ErrNotFound
	}
	if current.Status != core.StatusPendingReview {
		return core.ErrStatusConflict
	}
	current.LastError = entry.LastError
	current.LayerMetadata = entry.LayerMetadata
	current.AttemptCount = entry.AttemptCount
	current.UpdatedAt = entry.UpdatedAt
	return nil
}

// TransitionDeadLetter implements core.DeadLetterRepository
func (s *MemoryStore) TransitionDeadLetter(_ context.Context, id string, update core.ReviewUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.deadLetters[id]
	if !ok {
		return core.ErrNotFound
	}
	if current.Status != core.StatusPendingReview {
		return core.ErrStatusConflict
	}
	reviewedAt := update.ReviewedAt
	current.Status = update.Status
	current.ReviewedBy = update.ReviewedBy
	current.Notes = update.Notes
	current.ReviewedAt = &reviewedAt
	current.UpdatedAt = reviewedAt
	return nil
}

// CountDeadLettersByStatus implements core.DeadLetterRepository
func (s *MemoryStore) CountDeadLettersByStatus(_ context.Context, userID string) (map[core.DeadLetterStatus]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[core.DeadLetterStatus]int)
	for _, entry := range s.deadLetters {
		if entry.UserID == userID {
			counts[entry.Status]++
		}
	}
	return counts, nil
}

// ListPendingDeadLetters implements core.DeadLetterRepository
func (s *MemoryStore) ListPendingDeadLetters(_ context.Context, userID string, limit int) ([]*core.DeadLetterEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*core.DeadLetterEntry
	for _, entry := range s.deadLetters {
		if entry.UserID == userID && entry.Status == core.StatusPendingReview {
			copied := *entry
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// PurgeReviewedDeadLetters implements core.DeadLetterRepository
func (s *MemoryStore) PurgeReviewedDeadLetters(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var purged int64
	for id, entry := range s.deadLetters {
		if entry.Status == core.StatusPendingReview || entry.Status == core.StatusSkipped {
			continue
		}
		if entry.UpdatedAt.Before(before) {
			delete(s.deadLetters, id)
			purged++
		}
	}
	return purged, nil
}

// KnownAliases implements core.AliasRepository
func (s *MemoryStore) KnownAliases(_ context.Context, contactID string) ([]core.Alias, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]core.Alias(nil), s.aliases[contactID]...), nil
}

// AddKnownAlias implements core.AliasRepository
func (s *MemoryStore) AddKnownAlias(_ context.Context, a core.Alias) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, existing := range s.aliases[a.ContactID] {
		if existing.AliasEmail == a.AliasEmail {
			s.aliases[a.ContactID][i] = a
			return nil
		}
	}
	s.aliases[a.ContactID] = append(s.aliases[a.ContactID], a)
	return nil
}

// Close stops the background cleanup task
func (s *MemoryStore) Close() error {
	s.cleanup.stop()
	return nil
}
