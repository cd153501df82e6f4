// Package config provides configuration loading and validation for the CLI and the services.
//
// Values are layered: built-in defaults, then an optional JSON file, then environment
// variables. Command-line flags are applied last by the caller.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// MinQueueLease is the shortest accepted queue lease. Handlers renew their lease every
// third of it, which must outlast a slow database round trip.
const MinQueueLease = 30 * time.Second

// Duration is a time.Duration that reads "30s" style strings from JSON
type Duration time.Duration

// UnmarshalJSON accepts a duration string or a number of nanoseconds
func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var n int64
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("invalid duration %s", string(b))
	}
	*d = Duration(n)
	return nil
}

// MarshalJSON writes the duration as a string
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Std returns the value as a time.Duration
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config represents the complete service configuration.
type Config struct {
	// Storage
	DatabaseURL string `json:"database_url,omitempty" validate:"required"` // PostgreSQL connection URL

	// Generation
	GeminiAPIKey  string `json:"gemini_api_key,omitempty"`
	ModelLite     string `json:"model_lite,omitempty"`
	ModelStandard string `json:"model_standard,omitempty"`
	ModelAdvanced string `json:"model_advanced,omitempty"`

	// Collection
	CollectEndpoint   string   `json:"collect_endpoint,omitempty" validate:"omitempty,url"`
	CollectAPIKey     string   `json:"collect_api_key,omitempty"`
	CollectTimeout    Duration `json:"collect_timeout,omitempty"`
	CollectMinSpacing Duration `json:"collect_min_spacing,omitempty"`

	// Notification
	TelegramToken   string   `json:"telegram_token,omitempty"`
	TelegramChatIDs []string `json:"telegram_chat_ids,omitempty"`

	// Approval links
	ActionLinkSecret string   `json:"action_link_secret,omitempty" validate:"omitempty,min=16"`
	ActionLinkTTL    Duration `json:"action_link_ttl,omitempty"`
	PublicBaseURL    string   `json:"public_base_url,omitempty" validate:"omitempty,url"`

	// HTTP
	Port       int    `json:"port,omitempty" validate:"min=1,max=65535"`
	CORSOrigin string `json:"cors_origin,omitempty"`

	// Dispatch
	DispatchConcurrency  int      `json:"dispatch_concurrency,omitempty" validate:"min=1,max=64"`
	DispatchMaxAttempts  int      `json:"dispatch_max_attempts,omitempty" validate:"min=1,max=20"`
	DispatchPollInterval Duration `json:"dispatch_poll_interval,omitempty"`
	QueueLease           Duration `json:"queue_lease,omitempty"`

	// Stages
	QualifyThreshold int    `json:"qualify_threshold,omitempty" validate:"min=1,max=100"`
	TrendingLimit    int    `json:"trending_limit,omitempty" validate:"min=1,max=100"`
	DerivedKeywords  int    `json:"derived_keywords,omitempty" validate:"min=0,max=10"`
	Language         string `json:"language,omitempty" validate:"required"`

	// Feedback
	FeedbackWorkers   int `json:"feedback_workers,omitempty" validate:"min=1,max=8"`
	FeedbackQueueSize int `json:"feedback_queue_size,omitempty" validate:"min=1"`

	// Scheduler
	ScheduleInterval Duration `json:"schedule_interval,omitempty"`
	ScheduleGoals    []string `json:"schedule_goals,omitempty"`
	ScheduleAccounts []string `json:"schedule_accounts,omitempty"`

	// Logging
	LogLevel  string `json:"log_level,omitempty" validate:"oneof=debug info warn error"`
	LogFormat string `json:"log_format,omitempty" validate:"oneof=json console"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		CollectTimeout:       Duration(30 * time.Second),
		CollectMinSpacing:    Duration(2 * time.Second),
		ActionLinkTTL:        Duration(7 * 24 * time.Hour),
		Port:                 8080,
		CORSOrigin:           "*",
		DispatchConcurrency:  4,
		DispatchMaxAttempts:  3,
		DispatchPollInterval: Duration(time.Second),
		QueueLease:           Duration(5 * time.Minute),
		QualifyThreshold:     60,
		TrendingLimit:        15,
		DerivedKeywords:      3,
		Language:             "Korean",
		FeedbackWorkers:      1,
		FeedbackQueueSize:    16,
		LogLevel:             "info",
		LogFormat:            "json",
	}
}

// Load builds the configuration from defaults, the optional JSON file at path and the
// environment, then validates it.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		fileCfg, err := LoadConfig(path)
		if err != nil {
			return nil, err
		}
		cfg = fileCfg
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfig loads configuration from a JSON file on top of the defaults.
// Returns an error if the file cannot be read or parsed.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config path is empty")
	}

	// Resolve path relative to current directory if not absolute
	if !filepath.IsAbs(path) {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get current directory: %w", err)
		}
		path = filepath.Join(cwd, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	cfg := Default()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	return cfg, nil
}

// ApplyEnv overrides fields with the environment variables that are set
func (c *Config) ApplyEnv() {
	c.DatabaseURL = getEnvString("DATABASE_URL", c.DatabaseURL)

	c.GeminiAPIKey = getEnvString("GEMINI_API_KEY", c.GeminiAPIKey)
	c.ModelLite = getEnvString("GEMINI_MODEL_LITE", c.ModelLite)
	c.ModelStandard = getEnvString("GEMINI_MODEL_STANDARD", c.ModelStandard)
	c.ModelAdvanced = getEnvString("GEMINI_MODEL_ADVANCED", c.ModelAdvanced)

	c.CollectEndpoint = getEnvString("COLLECT_ENDPOINT", c.CollectEndpoint)
	c.CollectAPIKey = getEnvString("COLLECT_API_KEY", c.CollectAPIKey)
	c.CollectTimeout = getEnvDuration("COLLECT_TIMEOUT", c.CollectTimeout)
	c.CollectMinSpacing = getEnvDuration("COLLECT_MIN_SPACING", c.CollectMinSpacing)

	c.TelegramToken = getEnvString("TELEGRAM_TOKEN", c.TelegramToken)
	c.TelegramChatIDs = getEnvList("TELEGRAM_CHAT_IDS", c.TelegramChatIDs)

	c.ActionLinkSecret = getEnvString("ACTION_LINK_SECRET", c.ActionLinkSecret)
	c.ActionLinkTTL = getEnvDuration("ACTION_LINK_TTL", c.ActionLinkTTL)
	c.PublicBaseURL = getEnvString("PUBLIC_BASE_URL", c.PublicBaseURL)

	c.Port = getEnvInt("PORT", c.Port)
	c.CORSOrigin = getEnvString("CORS_ORIGIN", c.CORSOrigin)

	c.DispatchConcurrency = getEnvInt("DISPATCH_CONCURRENCY", c.DispatchConcurrency)
	c.DispatchMaxAttempts = getEnvInt("DISPATCH_MAX_ATTEMPTS", c.DispatchMaxAttempts)
	c.DispatchPollInterval = getEnvDuration("DISPATCH_POLL_INTERVAL", c.DispatchPollInterval)
	c.QueueLease = getEnvDuration("QUEUE_LEASE", c.QueueLease)

	c.QualifyThreshold = getEnvInt("QUALIFY_THRESHOLD", c.QualifyThreshold)
	c.TrendingLimit = getEnvInt("TRENDING_LIMIT", c.TrendingLimit)
	c.DerivedKeywords = getEnvInt("DERIVED_KEYWORDS", c.DerivedKeywords)
	c.Language = getEnvString("LANGUAGE", c.Language)

	c.FeedbackWorkers = getEnvInt("FEEDBACK_WORKERS", c.FeedbackWorkers)
	c.FeedbackQueueSize = getEnvInt("FEEDBACK_QUEUE_SIZE", c.FeedbackQueueSize)

	c.ScheduleInterval = getEnvDuration("SCHEDULE_INTERVAL", c.ScheduleInterval)
	c.ScheduleGoals = getEnvSeparated("SCHEDULE_GOALS", ";", c.ScheduleGoals)
	c.ScheduleAccounts = getEnvList("SCHEDULE_ACCOUNTS", c.ScheduleAccounts)

	c.LogLevel = getEnvString("LOG_LEVEL", c.LogLevel)
	c.LogFormat = getEnvString("LOG_FORMAT", c.LogFormat)
}

// Validate checks field ranges and the combinations that only make sense together.
// Credentials needed only by the pipeline workers are checked by RequireWorkers.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("config error: %w", err)
	}

	if (c.ActionLinkSecret == "") != (c.PublicBaseURL == "") {
		return fmt.Errorf("config error: 'action_link_secret' and 'public_base_url' must be set together")
	}
	if c.TelegramToken != "" && len(c.TelegramChatIDs) == 0 {
		return fmt.Errorf("config error: 'telegram_token' requires at least one chat id")
	}
	if c.ScheduleInterval < 0 {
		return fmt.Errorf("config error: 'schedule_interval' must be non-negative")
	}
	if c.ScheduleInterval > 0 && len(c.ScheduleGoals) == 0 {
		return fmt.Errorf("config error: 'schedule_interval' requires at least one goal")
	}
	if c.CollectMinSpacing < 0 {
		return fmt.Errorf("config error: 'collect_min_spacing' must be non-negative")
	}
	if c.QueueLease.Std() < MinQueueLease {
		return fmt.Errorf("config error: 'queue_lease' must be at least %s", MinQueueLease)
	}
	if c.QueueLease < c.CollectTimeout {
		return fmt.Errorf("config error: 'queue_lease' must be at least 'collect_timeout'")
	}

	return nil
}

// RequireWorkers checks the credentials the stage workers cannot run without
func (c *Config) RequireWorkers() error {
	var missing []string
	if c.GeminiAPIKey == "" {
		missing = append(missing, "GEMINI_API_KEY")
	}
	if c.CollectEndpoint == "" {
		missing = append(missing, "COLLECT_ENDPOINT")
	}
	if len(missing) > 0 {
		return fmt.Errorf("config error: missing %s", strings.Join(missing, ", "))
	}
	return nil
}

// LinksEnabled reports whether approval links can be issued
func (c *Config) LinksEnabled() bool {
	return c.ActionLinkSecret != "" && c.PublicBaseURL != ""
}

// getEnvString gets an environment variable as a string with a default value.
func getEnvString(key string, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an environment variable as an integer with a default value.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvDuration gets an environment variable as a duration with a default value.
func getEnvDuration(key string, defaultValue Duration) Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return Duration(duration)
		}
	}
	return defaultValue
}

// getEnvList gets a comma-separated environment variable with a default value.
func getEnvList(key string, defaultValue []string) []string {
	return getEnvSeparated(key, ",", defaultValue)
}

func getEnvSeparated(key, sep string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, sep) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
