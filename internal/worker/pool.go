package worker

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mikey/reply-checker/internal/coordinator"
	"github.com/mikey/reply-checker/internal/core"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

var (
	// ErrPoolStopped is returned by Enqueue when the background workers are not running
	ErrPoolStopped = errors.New("worker pool is not running")
	// ErrQueueFull is returned by Enqueue when the queue has no free slot
	ErrQueueFull = errors.New("worker queue is full")
)

// Checker runs a single reply check
type Checker interface {
	Check(ctx context.Context, sentEmailID string) (*coordinator.Outcome, error)
}

// Config bounds the pool's parallelism and per-provider request rate
type Config struct {
	Concurrency  int
	QueueSize    int
	ProviderRPS  float64
	MinRPS       float64
	RecoveryStep float64
}

// Result is the outcome of one check in a batch
type Result struct {
	SentEmailID string
	Outcome     *coordinator.Outcome
	Err         error
}

type job struct {
	id          string
	sentEmailID string
}

// Pool runs checks in parallel. Each provider gets its own rate limiter
// which is halved when a check reports rate limiting and recovers
// additively after clean checks.
type Pool struct {
	checker Checker
	sent    core.SentMessageSource
	cfg     Config
	logger  *zap.Logger

	limitMu  sync.Mutex
	limiters map[core.ProviderType]*rate.Limiter

	mu      sync.Mutex
	running bool
	queue   chan job
	cancel  context.CancelFunc
	group   *errgroup.Group
}

// New creates a new worker pool
func New(checker Checker, sent core.SentMessageSource, cfg Config, logger *zap.Logger) *Pool {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1
	}
	if cfg.MinRPS <= 0 {
		cfg.MinRPS = cfg.ProviderRPS / 10
	}
	if cfg.MinRPS > cfg.ProviderRPS {
		cfg.MinRPS = cfg.ProviderRPS
	}
	return &Pool{
		checker:  checker,
		sent:     sent,
		cfg:      cfg,
		logger:   logger,
		limiters: make(map[core.ProviderType]*rate.Limiter),
	}
}

func (p *Pool) limiter(provider core.ProviderType) *rate.Limiter {
	p.limitMu.Lock()
	defer p.limitMu.Unlock()

	l, ok := p.limiters[provider]
	if !ok {
		if p.cfg.ProviderRPS <= 0 {
			l = rate.NewLimiter(rate.Inf, 1)
		} else {
			l = rate.NewLimiter(rate.Limit(p.cfg.ProviderRPS), int(math.Max(1, math.Ceil(p.cfg.ProviderRPS))))
		}
		p.limiters[provider] = l
	}
	return l
}

// Rate returns the current request rate allowed for a provider
func (p *Pool) Rate(provider core.ProviderType) float64 {
	return float64(p.limiter(provider).Limit())
}

// adjust applies the outcome of a check to the provider's limiter
func (p *Pool) adjust(provider core.ProviderType, out *coordinator.Outcome) {
	if p.cfg.ProviderRPS <= 0 {
		return
	}
	l := p.limiter(provider)

	p.limitMu.Lock()
	defer p.limitMu.Unlock()

	current := float64(l.Limit())
	next := current
	if out.RateLimitHits > 0 {
		next = math.Max(current/2, p.cfg.MinRPS)
	} else if p.cfg.RecoveryStep > 0 {
		next = math.Min(current+p.cfg.RecoveryStep, p.cfg.ProviderRPS)
	}
	if next == current {
		return
	}

	l.SetLimit(rate.Limit(next))
	p.logger.Debug("Adjusted provider rate",
		zap.String("provider", string(provider)),
		zap.Float64("from_rps", current),
		zap.Float64("to_rps", next))
}

// process waits for the provider's limiter, then runs the check
func (p *Pool) process(ctx context.Context, sentEmailID string) (*coordinator.Outcome, error) {
	sent, err := p.sent.GetSentMessage(ctx, sentEmailID)
	if err != nil {
		return nil, fmt.Errorf("failed to load sent message %s: %w", sentEmailID, err)
	}

	if err := p.limiter(sent.Provider).Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter wait: %w", err)
	}

	out, err := p.checker.Check(ctx, sentEmailID)
	if err != nil {
		return nil, err
	}
	p.adjust(sent.Provider, out)
	return out, nil
}

// RunBatch checks every id with at most Concurrency checks in flight.
// Individual failures are reported per result; the returned error is only
// set when ctx ends before the batch completes.
func (p *Pool) RunBatch(ctx context.Context, ids []string) ([]Result, error) {
	results := make([]Result, len(ids))

	var g errgroup.Group
	g.SetLimit(p.cfg.Concurrency)

	started := time.Now()
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			out, err := p.process(ctx, id)
			results[i] = Result{SentEmailID: id, Outcome: out, Err: err}
			if err != nil {
				p.logger.Error("Check failed", zap.String("sent_email_id", id), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()

	p.logger.Info("Batch finished",
		zap.Int("checks", len(ids)),
		zap.Duration("elapsed", time.Since(started)))
	return results, ctx.Err()
}

// Summarize counts batch results by status; failed checks are counted under "error"
func Summarize(results []Result) map[string]int {
	counts := make(map[string]int)
	for _, r := range results {
		if r.Err != nil || r.Outcome == nil {
			counts["error"]++
			continue
		}
		counts[string(r.Outcome.Status)]++
	}
	return counts
}

// Start launches the background workers that serve Enqueue
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return errors.New("worker pool already running")
	}

	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.queue = make(chan job, p.cfg.QueueSize)
	p.group = &errgroup.Group{}
	p.running = true

	for i := 0; i < p.cfg.Concurrency; i++ {
		queue := p.queue
		p.group.Go(func() error {
			p.work(ctx, queue)
			return nil
		})
	}

	p.logger.Info("Worker pool started",
		zap.Int("concurrency", p.cfg.Concurrency),
		zap.Int("queue_size", p.cfg.QueueSize))
	return nil
}

func (p *Pool) work(ctx context.Context, queue <-chan job) {
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-queue:
			if !ok {
				return
			}
			logger := p.logger.With(zap.String("job_id", j.id), zap.String("sent_email_id", j.sentEmailID))
			out, err := p.process(ctx, j.sentEmailID)
			if err != nil {
				logger.Error("Queued check failed", zap.Error(err))
				continue
			}
			logger.Info("Queued check finished", zap.String("status", string(out.Status)))
		}
	}
}

// Enqueue schedules a check and returns its job id. It implements the
// dead-letter retry dispatcher.
func (p *Pool) Enqueue(_ context.Context, sentEmailID string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return "", ErrPoolStopped
	}

	j := job{id: uuid.NewString(), sentEmailID: sentEmailID}
	select {
	case p.queue <- j:
		p.logger.Debug("Check queued", zap.String("job_id", j.id), zap.String("sent_email_id", sentEmailID))
		return j.id, nil
	default:
		return "", ErrQueueFull
	}
}

// Stop closes the queue and waits for queued checks to drain. When ctx ends
// first, in-flight checks are cancelled.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	close(p.queue)
	group, cancel := p.group, p.cancel
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		_ = group.Wait()
		close(done)
	}()

	select {
	case <-done:
		cancel()
		p.logger.Info("Worker pool stopped")
		return nil
	case <-ctx.Done():
		cancel()
		<-done
		return fmt.Errorf("worker pool stop: %w", ctx.Err())
	}
}
