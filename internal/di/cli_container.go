package di

import (
	"go.uber.org/dig"
	"go.uber.org/zap"

	"github.com/mikey/reply-checker/internal/config"
	"github.com/mikey/reply-checker/internal/logging"
)

// CLIFlags contains the global flags of the operator CLI
type CLIFlags struct {
	ConfigFile string
	StoreType  string
	StorePath  string
	StoreDSN   string
	Verbose    bool
	JSONLog    bool
}

// BuildCLIContainer creates a container for the operator CLI. Flags that are
// set override the matching configuration keys.
func BuildCLIContainer(flags *CLIFlags) (*dig.Container, error) {
	container := dig.New()

	// Register flags
	if err := container.Provide(func() *CLIFlags { return flags }); err != nil {
		return nil, err
	}

	// Register logger
	if err := container.Provide(func(flags *CLIFlags) (*zap.Logger, error) {
		return logging.InitConsoleLogger(flags.Verbose, flags.JSONLog)
	}); err != nil {
		return nil, err
	}

	// Register configuration
	if err := container.Provide(func(flags *CLIFlags, logger *zap.Logger) (*config.Config, error) {
		cfg, err := config.New(flags.ConfigFile)
		if err != nil {
			return nil, err
		}
		if used := cfg.GetViper().ConfigFileUsed(); used != "" {
			logger.Debug("Loaded configuration from file", zap.String("file", used))
		}
		applyFlags(cfg, flags)
		return cfg, nil
	}); err != nil {
		return nil, err
	}

	if err := provideCore(container); err != nil {
		return nil, err
	}
	return container, nil
}

// applyFlags copies the store overrides into the configuration
func applyFlags(cfg *config.Config, flags *CLIFlags) {
	if flags.StoreType != "" {
		cfg.Set("store.type", flags.StoreType)
	}
	if flags.StorePath != "" {
		cfg.Set("store.sqlite_path", flags.StorePath)
	}
	if flags.StoreDSN != "" {
		cfg.Set("store.mysql_dsn", flags.StoreDSN)
	}
}
