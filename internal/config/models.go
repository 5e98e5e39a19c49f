package config

import (
	"fmt"
	"time"
)

// ServerConfig represents the configuration for the operator HTTP API
type ServerConfig struct {
	ListenAddress   string
	ShutdownTimeout time.Duration
}

// StoreConfig represents the configuration for the persistence backend
type StoreConfig struct {
	Type                string
	SQLitePath          string
	MySQLDSN            string
	DeadLetterRetention time.Duration
	CleanupFrequency    time.Duration
}

// RetryConfig represents the configuration for provider call retries
type RetryConfig struct {
	MaxAttempts    int
	BaseDelay      time.Duration
	RateLimitDelay time.Duration
	MaxDelay       time.Duration
}

// DetectionConfig represents the bounds of a single reply check
type DetectionConfig struct {
	CheckTimeout       time.Duration
	AliasBatchSize     int
	PagesPerBatch      int
	PageSize           int
	MaxMessagesScanned int
	MaxReplyContent    int
	IgnoredDomains     []string
}

// WorkerConfig represents the configuration for the check worker pool
type WorkerConfig struct {
	Concurrency  int
	QueueSize    int
	ProviderRPS  float64
	MinRPS       float64
	RecoveryStep float64
}

// GmailConfig represents the configuration for the Gmail adapter
type GmailConfig struct {
	Enabled         bool
	CredentialsFile string
	Endpoint        string
}

// OutlookConfig represents the configuration for the Outlook adapter
type OutlookConfig struct {
	Enabled      bool
	ClientID     string
	ClientSecret string
	Tenant       string
	BaseURL      string
}

// YahooConfig represents the configuration for the Yahoo IMAP adapter
type YahooConfig struct {
	Enabled      bool
	Host         string
	Port         int
	Auth         string
	DialTimeout  time.Duration
	KeyringDir   string
	ClientID     string
	ClientSecret string
	Accounts     map[string]string
}

// LLMConfig represents the configuration for the optional auto-reply judge
type LLMConfig struct {
	Enabled   bool
	Provider  string
	Threshold float64
}

// BedrockConfig represents the configuration for Amazon Bedrock
type BedrockConfig struct {
	Region      string
	ModelID     string
	MaxTokens   int
	Temperature float32
	TopP        float32
	MaxBodySize int
}

// GeminiConfig represents the configuration for Google Gemini
type GeminiConfig struct {
	APIKey      string
	ModelName   string
	MaxTokens   int
	Temperature float32
	TopP        float32
	MaxBodySize int
}

// OpenAIConfig represents the configuration for OpenAI
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	ModelName   string
	MaxTokens   int
	Temperature float32
	TopP        float32
	MaxBodySize int
}

// durations parses several duration keys at once
func (c *Config) durations(keys ...string) ([]time.Duration, error) {
	out := make([]time.Duration, len(keys))
	for i, key := range keys {
		d, err := c.GetDuration(key)
		if err != nil {
			return nil, err
		}
		out[i] = d
	}
	return out, nil
}

// GetServer returns the server configuration
func (c *Config) GetServer() (ServerConfig, error) {
	d, err := c.durations("server.shutdown_timeout")
	if err != nil {
		return ServerConfig{}, err
	}
	return ServerConfig{
		ListenAddress:   c.GetString("server.listen_address"),
		ShutdownTimeout: d[0],
	}, nil
}

// GetStore returns the store configuration
func (c *Config) GetStore() (StoreConfig, error) {
	d, err := c.durations("store.dead_letter_retention", "store.cleanup_frequency")
	if err != nil {
		return StoreConfig{}, err
	}
	return StoreConfig{
		Type:                c.GetString("store.type"),
		SQLitePath:          c.GetString("store.sqlite_path"),
		MySQLDSN:            c.GetString("store.mysql_dsn"),
		DeadLetterRetention: d[0],
		CleanupFrequency:    d[1],
	}, nil
}

// GetRetry returns the retry configuration
func (c *Config) GetRetry() (RetryConfig, error) {
	d, err := c.durations("retry.base_delay", "retry.rate_limit_delay", "retry.max_delay")
	if err != nil {
		return RetryConfig{}, err
	}
	return RetryConfig{
		MaxAttempts:    c.GetInt("retry.max_attempts"),
		BaseDelay:      d[0],
		RateLimitDelay: d[1],
		MaxDelay:       d[2],
	}, nil
}

// GetDetection returns the detection configuration
func (c *Config) GetDetection() (DetectionConfig, error) {
	d, err := c.durations("detection.check_timeout")
	if err != nil {
		return DetectionConfig{}, err
	}
	return DetectionConfig{
		CheckTimeout:       d[0],
		AliasBatchSize:     c.GetInt("detection.alias_batch_size"),
		PagesPerBatch:      c.GetInt("detection.pages_per_batch"),
		PageSize:           c.GetInt("detection.page_size"),
		MaxMessagesScanned: c.GetInt("detection.max_messages_scanned"),
		MaxReplyContent:    c.GetInt("detection.max_reply_content"),
		IgnoredDomains:     c.GetStringSlice("detection.ignored_domains"),
	}, nil
}

// GetWorker returns the worker pool configuration
func (c *Config) GetWorker() (WorkerConfig, error) {
	cfg := WorkerConfig{
		Concurrency:  c.GetInt("worker.concurrency"),
		QueueSize:    c.GetInt("worker.queue_size"),
		ProviderRPS:  c.GetFloat64("worker.provider_rps"),
		MinRPS:       c.GetFloat64("worker.min_rps"),
		RecoveryStep: c.GetFloat64("worker.recovery_step"),
	}
	if cfg.MinRPS > cfg.ProviderRPS {
		return WorkerConfig{}, fmt.Errorf("worker.min_rps (%v) exceeds worker.provider_rps (%v)", cfg.MinRPS, cfg.ProviderRPS)
	}
	return cfg, nil
}

// GetGmail returns the Gmail configuration
func (c *Config) GetGmail() GmailConfig {
	return GmailConfig{
		Enabled:         c.GetBool("gmail.enabled"),
		CredentialsFile: c.GetString("gmail.credentials_file"),
		Endpoint:        c.GetString("gmail.endpoint"),
	}
}

// GetOutlook returns the Outlook configuration
func (c *Config) GetOutlook() OutlookConfig {
	return OutlookConfig{
		Enabled:      c.GetBool("outlook.enabled"),
		ClientID:     c.GetString("outlook.client_id"),
		ClientSecret: c.GetString("outlook.client_secret"),
		Tenant:       c.GetString("outlook.tenant"),
		BaseURL:      c.GetString("outlook.base_url"),
	}
}

// GetYahoo returns the Yahoo configuration
func (c *Config) GetYahoo() (YahooConfig, error) {
	d, err := c.durations("yahoo.dial_timeout")
	if err != nil {
		return YahooConfig{}, err
	}
	return YahooConfig{
		Enabled:      c.GetBool("yahoo.enabled"),
		Host:         c.GetString("yahoo.host"),
		Port:         c.GetInt("yahoo.port"),
		Auth:         c.GetString("yahoo.auth"),
		DialTimeout:  d[0],
		KeyringDir:   c.GetString("yahoo.keyring_dir"),
		ClientID:     c.GetString("yahoo.client_id"),
		ClientSecret: c.GetString("yahoo.client_secret"),
		Accounts:     c.GetStringMapString("yahoo.accounts"),
	}, nil
}

// GetLLM returns the auto-reply judge configuration
func (c *Config) GetLLM() LLMConfig {
	return LLMConfig{
		Enabled:   c.GetBool("classifier.llm.enabled"),
		Provider:  c.GetString("classifier.llm.provider"),
		Threshold: c.GetFloat64("classifier.llm.threshold"),
	}
}

// GetBedrock returns the Bedrock configuration
func (c *Config) GetBedrock() BedrockConfig {
	return BedrockConfig{
		Region:      c.GetString("bedrock.region"),
		ModelID:     c.GetString("bedrock.model_id"),
		MaxTokens:   c.GetInt("bedrock.max_tokens"),
		Temperature: float32(c.GetFloat64("bedrock.temperature")),
		TopP:        float32(c.GetFloat64("bedrock.top_p")),
		MaxBodySize: c.GetInt("bedrock.max_body_size"),
	}
}

// GetGemini returns the Gemini configuration
func (c *Config) GetGemini() GeminiConfig {
	return GeminiConfig{
		APIKey:      c.GetString("gemini.api_key"),
		ModelName:   c.GetString("gemini.model_name"),
		MaxTokens:   c.GetInt("gemini.max_tokens"),
		Temperature: float32(c.GetFloat64("gemini.temperature")),
		TopP:        float32(c.GetFloat64("gemini.top_p")),
		MaxBodySize: c.GetInt("gemini.max_body_size"),
	}
}

// GetOpenAI returns the OpenAI configuration
func (c *Config) GetOpenAI() OpenAIConfig {
	return OpenAIConfig{
		APIKey:      c.GetString("openai.api_key"),
		BaseURL:     c.GetString("openai.base_url"),
		ModelName:   c.GetString("openai.model_name"),
		MaxTokens:   c.GetInt("openai.max_tokens"),
		Temperature: float32(c.GetFloat64("openai.temperature")),
		TopP:        float32(c.GetFloat64("openai.top_p")),
		MaxBodySize: c.GetInt("openai.max_body_size"),
	}
}
