package store

import (
	"context"
	"sync"
	"time"

	"github.com/mikey/reply-checker/internal/core"
	"go.uber.org/zap"
)

// cleanupTask periodically purges reviewed dead-letter entries older than the retention
type cleanupTask struct {
	repo      core.DeadLetterRepository
	retention time.Duration
	logger    *zap.Logger
	stopCh    chan struct{}
	once      sync.Once
}

// startCleanupTask starts the background purge. A zero retention or
// frequency disables it.
func startCleanupTask(repo core.DeadLetterRepository, retention, freq time.Duration, logger *zap.Logger) *cleanupTask {
	t := &cleanupTask{
		repo:      repo,
		retention: retention,
		logger:    logger,
		stopCh:    make(chan struct{}),
	}
	if retention > 0 && freq > 0 {
		go t.run(freq)
	}
	return t
}

func (t *cleanupTask) run(freq time.Duration) {
	ticker := time.NewTicker(freq)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			t.purge(context.Background())
		case <-t.stopCh:
			return
		}
	}
}

func (t *cleanupTask) purge(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-t.retention)
	purged, err := t.repo.PurgeReviewedDeadLetters(ctx, cutoff)
	if err != nil {
		t.logger.Error("Failed to purge reviewed dead letters", zap.Error(err))
		return
	}
	t.logger.Debug("Purged reviewed dead letters", zap.Int64("purged_count", purged))
}

func (t *cleanupTask) stop() {
	t.once.Do(func() { close(t.stopCh) })
}
