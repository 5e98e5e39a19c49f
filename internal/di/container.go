package di

import (
	"context"

	"go.uber.org/dig"
	"go.uber.org/zap"

	"github.com/mikey/reply-checker/internal/adapters/api"
	"github.com/mikey/reply-checker/internal/config"
	"github.com/mikey/reply-checker/internal/coordinator"
	"github.com/mikey/reply-checker/internal/core"
	"github.com/mikey/reply-checker/internal/deadletter"
	"github.com/mikey/reply-checker/internal/factory"
	"github.com/mikey/reply-checker/internal/logging"
	"github.com/mikey/reply-checker/internal/pipeline"
	"github.com/mikey/reply-checker/internal/utils"
	"github.com/mikey/reply-checker/internal/worker"
)

// BuildContainer creates and configures a dependency injection container for the service
func BuildContainer(configFile string) (*dig.Container, error) {
	container := dig.New()

	// Register configuration
	if err := container.Provide(func() (*config.Config, error) {
		return config.New(configFile)
	}); err != nil {
		return nil, err
	}

	// Register logger
	if err := container.Provide(logging.InitLogger); err != nil {
		return nil, err
	}

	if err := provideCore(container); err != nil {
		return nil, err
	}

	// Register operator API
	if err := container.Provide(func(cfg *config.Config, m *deadletter.Manager, c *coordinator.Coordinator, logger *zap.Logger) (*api.Server, error) {
		serverCfg, err := cfg.GetServer()
		if err != nil {
			return nil, err
		}
		return api.NewServer(serverCfg.ListenAddress, m, c, logger), nil
	}); err != nil {
		return nil, err
	}

	return container, nil
}

// provideCore registers everything below the entry points. It expects a
// *config.Config and a *zap.Logger to be provided already.
func provideCore(container *dig.Container) error {
	// Register factories
	if err := container.Provide(factory.NewStoreFactory); err != nil {
		return err
	}
	if err := container.Provide(factory.NewProviderFactory); err != nil {
		return err
	}
	if err := container.Provide(factory.NewDetectionFactory); err != nil {
		return err
	}
	if err := container.Provide(factory.NewJudgeFactory); err != nil {
		return err
	}

	// Register store
	if err := container.Provide(func(f *factory.StoreFactory) (core.Store, error) {
		return f.CreateStore()
	}); err != nil {
		return err
	}

	// Register provider adapters
	if err := container.Provide(func(f *factory.ProviderFactory) ([]core.ProviderAdapter, error) {
		return f.CreateAdapters()
	}); err != nil {
		return err
	}

	// Register text processor
	if err := container.Provide(func(f *factory.DetectionFactory) *utils.TextProcessor {
		return f.CreateTextProcessor()
	}); err != nil {
		return err
	}

	// Register auto-reply judge, nil when disabled
	if err := container.Provide(func(f *factory.JudgeFactory) (core.AutoReplyJudge, error) {
		return f.CreateJudge(context.Background())
	}); err != nil {
		return err
	}

	// Register detection pipeline
	if err := container.Provide(func(f *factory.DetectionFactory, s core.Store, judge core.AutoReplyJudge, tp *utils.TextProcessor) (*pipeline.Pipeline, error) {
		return f.CreatePipeline(s, judge, tp)
	}); err != nil {
		return err
	}

	// Register dead-letter manager
	if err := container.Provide(func(s core.Store, logger *zap.Logger) *deadletter.Manager {
		return deadletter.NewManager(s, s, logger)
	}); err != nil {
		return err
	}

	// Register coordinator
	if err := container.Provide(func(
		cfg *config.Config,
		s core.Store,
		m *deadletter.Manager,
		p *pipeline.Pipeline,
		adapters []core.ProviderAdapter,
		logger *zap.Logger,
	) (*coordinator.Coordinator, error) {
		dc, err := cfg.GetDetection()
		if err != nil {
			return nil, err
		}
		return coordinator.New(s, s, m, p, adapters, dc.CheckTimeout, logger), nil
	}); err != nil {
		return err
	}

	// Register worker pool; it doubles as the dead-letter retry dispatcher
	return container.Provide(func(
		cfg *config.Config,
		s core.Store,
		c *coordinator.Coordinator,
		m *deadletter.Manager,
		logger *zap.Logger,
	) (*worker.Pool, error) {
		wc, err := cfg.GetWorker()
		if err != nil {
			return nil, err
		}
		pool := worker.New(c, s, worker.Config{
			Concurrency:  wc.Concurrency,
			QueueSize:    wc.QueueSize,
			ProviderRPS:  wc.ProviderRPS,
			MinRPS:       wc.MinRPS,
			RecoveryStep: wc.RecoveryStep,
		}, logger)
		m.SetDispatcher(pool)
		return pool, nil
	})
}
