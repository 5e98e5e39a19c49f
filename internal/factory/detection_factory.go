package factory

import (
	"fmt"

	"github.com/mikey/reply-checker/internal/alias"
	"github.com/mikey/reply-checker/internal/autoreply"
	"github.com/mikey/reply-checker/internal/config"
	"github.com/mikey/reply-checker/internal/core"
	"github.com/mikey/reply-checker/internal/ignorelist"
	"github.com/mikey/reply-checker/internal/pipeline"
	"github.com/mikey/reply-checker/internal/retry"
	"github.com/mikey/reply-checker/internal/utils"
	"go.uber.org/zap"
)

// DetectionFactory assembles the detection pipeline from configuration
type DetectionFactory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewDetectionFactory creates a new detection factory
func NewDetectionFactory(cfg *config.Config, logger *zap.Logger) *DetectionFactory {
	return &DetectionFactory{
		cfg:    cfg,
		logger: logger,
	}
}

// CreateTextProcessor creates a new TextProcessor
func (f *DetectionFactory) CreateTextProcessor() *utils.TextProcessor {
	return utils.NewTextProcessor(f.logger)
}

// CreateExecutor creates a retry executor from the retry section
func (f *DetectionFactory) CreateExecutor() (*retry.Executor, error) {
	rc, err := f.cfg.GetRetry()
	if err != nil {
		return nil, fmt.Errorf("invalid retry configuration: %w", err)
	}
	return retry.NewExecutor(retry.Policy{
		MaxAttempts:    rc.MaxAttempts,
		BaseDelay:      rc.BaseDelay,
		RateLimitDelay: rc.RateLimitDelay,
		MaxDelay:       rc.MaxDelay,
	}, f.logger), nil
}

// CreatePipeline wires the layers to the alias store and the optional judge
func (f *DetectionFactory) CreatePipeline(aliases core.AliasRepository, judge core.AutoReplyJudge, text *utils.TextProcessor) (*pipeline.Pipeline, error) {
	dc, err := f.cfg.GetDetection()
	if err != nil {
		return nil, fmt.Errorf("invalid detection configuration: %w", err)
	}
	executor, err := f.CreateExecutor()
	if err != nil {
		return nil, err
	}

	classifier := autoreply.NewClassifier(judge, f.cfg.GetLLM().Threshold, f.logger)
	return pipeline.New(
		executor,
		alias.NewResolver(aliases, f.logger),
		classifier,
		ignorelist.NewChecker(dc.IgnoredDomains, f.logger),
		text,
		pipeline.Options{
			AliasBatchSize:     dc.AliasBatchSize,
			PagesPerBatch:      dc.PagesPerBatch,
			PageSize:           dc.PageSize,
			MaxMessagesScanned: dc.MaxMessagesScanned,
			MaxReplyContent:    dc.MaxReplyContent,
		},
		f.logger,
	), nil
}
