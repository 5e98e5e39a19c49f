package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	v *viper.Viper
}

// New creates a new configuration instance. configFile may be empty, in
// which case the standard search paths are used.
func New(configFile string) (*Config, error) {
	v := viper.New()
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/reply-checker/")
		v.AddConfigPath("$HOME/.reply-checker")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	setDefaults(v)

	v.AutomaticEnv()
	v.SetEnvPrefix("REPLY_CHECKER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	return &Config{v: v}, nil
}

// NewFromViper creates a new configuration instance from an existing Viper instance
func NewFromViper(v *viper.Viper) *Config {
	return &Config{v: v}
}

// NewEmptyViper creates a new Viper instance with defaults
func NewEmptyViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	return v
}

// setDefaults sets the default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.listen_address", "0.0.0.0:8080")
	v.SetDefault("server.shutdown_timeout", "15s")

	// Store defaults
	v.SetDefault("store.type", "sqlite")
	v.SetDefault("store.sqlite_path", "/data/reply_checker.db")
	v.SetDefault("store.mysql_dsn", "user:password@tcp(localhost:3306)/reply_checker")
	v.SetDefault("store.dead_letter_retention", "720h")
	v.SetDefault("store.cleanup_frequency", "1h")

	// Retry defaults
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.base_delay", "1s")
	v.SetDefault("retry.rate_limit_delay", "5s")
	v.SetDefault("retry.max_delay", "30s")

	// Detection defaults
	v.SetDefault("detection.check_timeout", "2m")
	v.SetDefault("detection.alias_batch_size", 10)
	v.SetDefault("detection.pages_per_batch", 3)
	v.SetDefault("detection.page_size", 25)
	v.SetDefault("detection.max_messages_scanned", 500)
	v.SetDefault("detection.max_reply_content", 4096)
	v.SetDefault("detection.ignored_domains", []string{})

	// Worker defaults
	v.SetDefault("worker.concurrency", 4)
	v.SetDefault("worker.queue_size", 256)
	v.SetDefault("worker.provider_rps", 5.0)
	v.SetDefault("worker.min_rps", 0.5)
	v.SetDefault("worker.recovery_step", 0.25)

	// Auth defaults
	v.SetDefault("auth.token_dir", "/data/tokens")
	v.SetDefault("auth.http_timeout", "30s")

	// Gmail defaults
	v.SetDefault("gmail.enabled", true)
	v.SetDefault("gmail.credentials_file", "/etc/reply-checker/gmail_credentials.json")
	v.SetDefault("gmail.endpoint", "")

	// Outlook defaults
	v.SetDefault("outlook.enabled", false)
	v.SetDefault("outlook.client_id", "")
	v.SetDefault("outlook.client_secret", "")
	v.SetDefault("outlook.tenant", "common")
	v.SetDefault("outlook.base_url", "https://graph.microsoft.com/v1.0")

	// Yahoo defaults
	v.SetDefault("yahoo.enabled", false)
	v.SetDefault("yahoo.host", "imap.mail.yahoo.com")
	v.SetDefault("yahoo.port", 993)
	v.SetDefault("yahoo.auth", "password")
	v.SetDefault("yahoo.dial_timeout", "30s")
	v.SetDefault("yahoo.keyring_dir", "/data/keyring")
	v.SetDefault("yahoo.client_id", "")
	v.SetDefault("yahoo.client_secret", "")
	v.SetDefault("yahoo.accounts", map[string]string{})

	// Classifier defaults
	v.SetDefault("classifier.llm.enabled", false)
	v.SetDefault("classifier.llm.provider", "openai")
	v.SetDefault("classifier.llm.threshold", 0.8)

	// Bedrock defaults
	v.SetDefault("bedrock.region", "us-east-1")
	v.SetDefault("bedrock.model_id", "anthropic.claude-3-haiku-20240307-v1:0")
	v.SetDefault("bedrock.max_tokens", 300)
	v.SetDefault("bedrock.temperature", 0.0)
	v.SetDefault("bedrock.top_p", 0.9)
	v.SetDefault("bedrock.max_body_size", 4096)

	// Gemini defaults
	v.SetDefault("gemini.api_key", "")
	v.SetDefault("gemini.model_name", "gemini-1.5-flash")
	v.SetDefault("gemini.max_tokens", 300)
	v.SetDefault("gemini.temperature", 0.0)
	v.SetDefault("gemini.top_p", 0.9)
	v.SetDefault("gemini.max_body_size", 4096)

	// OpenAI defaults
	v.SetDefault("openai.api_key", "")
	v.SetDefault("openai.base_url", "")
	v.SetDefault("openai.model_name", "gpt-4o-mini")
	v.SetDefault("openai.max_tokens", 300)
	v.SetDefault("openai.temperature", 0.0)
	v.SetDefault("openai.top_p", 0.9)
	v.SetDefault("openai.max_body_size", 4096)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// GetString gets a string value from the configuration
func (c *Config) GetString(key string) string {
	return c.v.GetString(key)
}

// GetInt gets an integer value from the configuration
func (c *Config) GetInt(key string) int {
	return c.v.GetInt(key)
}

// GetFloat64 gets a float64 value from the configuration
func (c *Config) GetFloat64(key string) float64 {
	return c.v.GetFloat64(key)
}

// GetBool gets a boolean value from the configuration
func (c *Config) GetBool(key string) bool {
	return c.v.GetBool(key)
}

// GetStringSlice gets a string slice value from the configuration
func (c *Config) GetStringSlice(key string) []string {
	return c.v.GetStringSlice(key)
}

// GetStringMapString gets a string map value from the configuration
func (c *Config) GetStringMapString(key string) map[string]string {
	return c.v.GetStringMapString(key)
}

// GetDuration gets a duration value from the configuration
func (c *Config) GetDuration(key string) (time.Duration, error) {
	d, err := time.ParseDuration(c.GetString(key))
	if err != nil {
		return 0, fmt.Errorf("invalid duration for %s: %w", key, err)
	}
	return d, nil
}

// Set overrides a value, used by command-line flags
func (c *Config) Set(key string, value interface{}) {
	c.v.Set(key, value)
}

// GetViper returns the underlying Viper instance
func (c *Config) GetViper() *viper.Viper {
	return c.v
}
