package factory

import (
	"context"
	"fmt"
	"io"

	"github.com/mikey/reply-checker/internal/adapters/bedrock"
	"github.com/mikey/reply-checker/internal/adapters/gemini"
	"github.com/mikey/reply-checker/internal/adapters/openai"
	"github.com/mikey/reply-checker/internal/config"
	"github.com/mikey/reply-checker/internal/core"
	"github.com/mikey/reply-checker/internal/utils"
	"go.uber.org/zap"
)

// JudgeFactory creates the optional LLM auto-reply judge
type JudgeFactory struct {
	cfg           *config.Config
	logger        *zap.Logger
	textProcessor *utils.TextProcessor
}

// NewJudgeFactory creates a new judge factory
func NewJudgeFactory(cfg *config.Config, logger *zap.Logger, textProcessor *utils.TextProcessor) *JudgeFactory {
	return &JudgeFactory{
		cfg:           cfg,
		logger:        logger,
		textProcessor: textProcessor,
	}
}

// CreateJudge returns the configured judge, or nil when the LLM check is disabled
func (f *JudgeFactory) CreateJudge(ctx context.Context) (core.AutoReplyJudge, error) {
	llmCfg := f.cfg.GetLLM()
	if !llmCfg.Enabled {
		return nil, nil
	}

	f.logger.Info("Enabling LLM auto-reply judge", zap.String("provider", llmCfg.Provider))

	var (
		judge core.AutoReplyJudge
		err   error
	)
	switch llmCfg.Provider {
	case "bedrock":
		judge, err = unwrap(bedrock.NewFactory(f.cfg.GetBedrock(), f.logger, f.textProcessor).CreateJudge(ctx))
	case "gemini":
		judge, err = unwrap(gemini.NewFactory(f.cfg.GetGemini(), f.logger, f.textProcessor).CreateJudge(ctx))
	case "openai":
		judge, err = unwrap(openai.NewFactory(f.cfg.GetOpenAI(), f.logger, f.textProcessor).CreateJudge())
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", llmCfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create %s judge: %w", llmCfg.Provider, err)
	}
	return judge, nil
}

// unwrap keeps a failed constructor from leaking a typed nil into the interface
func unwrap[J core.AutoReplyJudge](judge J, err error) (core.AutoReplyJudge, error) {
	if err != nil {
		return nil, err
	}
	return judge, nil
}

// CloseJudge releases a judge that holds a client connection
func CloseJudge(judge core.AutoReplyJudge) error {
	if c, ok := judge.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
