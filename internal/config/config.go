// File: internal/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger  LoggerConfig  `mapstructure:"logger" yaml:"logger"`
	Browser BrowserConfig `mapstructure:"browser" yaml:"browser"`
	Oracle  OracleConfig  `mapstructure:"oracle" yaml:"oracle"`
	Agent   AgentConfig   `mapstructure:"agent" yaml:"agent"`
	Jobs    JobsConfig    `mapstructure:"jobs" yaml:"jobs"`
	Notes   NotesConfig   `mapstructure:"notes" yaml:"notes"`
}

// LoggerConfig controls log level, format, and the rotating file sink.
type LoggerConfig struct {
	Level      string `mapstructure:"level" yaml:"level"`
	Format     string `mapstructure:"format" yaml:"format"`
	LogFile    string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize    int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge     int    `mapstructure:"max_age" yaml:"max_age"`
	Compress   bool   `mapstructure:"compress" yaml:"compress"`
	// ConsoleQuiet suppresses the console core entirely. Serve mode sets this
	// so stdout stays a clean protocol stream.
	ConsoleQuiet bool `mapstructure:"console_quiet" yaml:"console_quiet"`
}

// BrowserConfig controls session launch, persistence, and per-action limits.
type BrowserConfig struct {
	Headless          bool          `mapstructure:"headless" yaml:"headless"`
	StateDir          string        `mapstructure:"state_dir" yaml:"state_dir"`
	ViewportWidth     int           `mapstructure:"viewport_width" yaml:"viewport_width"`
	ViewportHeight    int           `mapstructure:"viewport_height" yaml:"viewport_height"`
	ActionTimeout     time.Duration `mapstructure:"action_timeout" yaml:"action_timeout"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	// SettleTimeout bounds the best-effort wait for network idle after a
	// navigation; expiry degrades to a partial-load result.
	SettleTimeout  time.Duration `mapstructure:"settle_timeout" yaml:"settle_timeout"`
	BlockedDomains []string      `mapstructure:"blocked_domains" yaml:"blocked_domains"`
	MaxElements    int           `mapstructure:"max_elements" yaml:"max_elements"`
	TypingDelay    time.Duration `mapstructure:"typing_delay" yaml:"typing_delay"`
}

// OracleConfig controls the decision oracle endpoint and its retry budget.
type OracleConfig struct {
	Endpoint     string        `mapstructure:"endpoint" yaml:"endpoint"`
	APIKey       string        `mapstructure:"api_key" yaml:"api_key"`
	Model        string        `mapstructure:"model" yaml:"model"`
	QueryTimeout time.Duration `mapstructure:"query_timeout" yaml:"query_timeout"`
	MaxRetries   int           `mapstructure:"max_retries" yaml:"max_retries"`
	// RequestsPerMinute throttles outbound oracle calls across all jobs.
	RequestsPerMinute int `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
}

// AgentConfig controls the operate loop thresholds.
type AgentConfig struct {
	StepBudget int `mapstructure:"step_budget" yaml:"step_budget"`
	// StuckThreshold is the number of consecutive identical assessments that
	// trigger recovery.
	StuckThreshold int `mapstructure:"stuck_threshold" yaml:"stuck_threshold"`
	// HistoryWindow bounds how many recent outcomes are sent to the oracle.
	HistoryWindow    int           `mapstructure:"history_window" yaml:"history_window"`
	OperationTimeout time.Duration `mapstructure:"operation_timeout" yaml:"operation_timeout"`
	// OracleRetries is how many times a failed oracle query is retried before
	// the operation fails. The HTTP client's own backoff sits underneath this.
	OracleRetries int `mapstructure:"oracle_retries" yaml:"oracle_retries"`
}

// OracleAttempts is the total number of query attempts per cycle.
func (c AgentConfig) OracleAttempts() int {
	if c.OracleRetries < 0 {
		return 1
	}
	return c.OracleRetries + 1
}

// JobsConfig controls job retention and concurrency.
type JobsConfig struct {
	MaxJobs       int           `mapstructure:"max_jobs" yaml:"max_jobs"`
	MaxAge        time.Duration `mapstructure:"max_age" yaml:"max_age"`
	MaxConcurrent int           `mapstructure:"max_concurrent" yaml:"max_concurrent"`
	// DrainTimeout bounds how long Close waits for in-flight jobs.
	DrainTimeout time.Duration `mapstructure:"drain_timeout" yaml:"drain_timeout"`
}

// NotesConfig controls the project note store.
type NotesConfig struct {
	Dir string `mapstructure:"dir" yaml:"dir"`
}

// SetDefaults initializes default values for all configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.log_file", "operator.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.console_quiet", false)

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.state_dir", "./state")
	v.SetDefault("browser.viewport_width", 1280)
	v.SetDefault("browser.viewport_height", 800)
	v.SetDefault("browser.action_timeout", "10s")
	v.SetDefault("browser.navigation_timeout", "30s")
	v.SetDefault("browser.settle_timeout", "5s")
	v.SetDefault("browser.blocked_domains", []string{
		"maliciousbook.com",
		"evilvideos.com",
		"darkwebforum.com",
		"shadytok.com",
		"suspiciouspins.com",
	})
	v.SetDefault("browser.max_elements", 40)
	v.SetDefault("browser.typing_delay", "25ms")

	// -- Oracle --
	v.SetDefault("oracle.endpoint", "https://api.openai.com/v1/responses")
	v.SetDefault("oracle.model", "computer-use-preview")
	v.SetDefault("oracle.query_timeout", "60s")
	v.SetDefault("oracle.max_retries", 2)
	v.SetDefault("oracle.requests_per_minute", 60)

	// -- Agent --
	v.SetDefault("agent.step_budget", 10)
	v.SetDefault("agent.stuck_threshold", 3)
	v.SetDefault("agent.history_window", 8)
	v.SetDefault("agent.operation_timeout", "5m")
	v.SetDefault("agent.oracle_retries", 2)

	// -- Jobs --
	v.SetDefault("jobs.max_jobs", 100)
	v.SetDefault("jobs.max_age", "1h")
	v.SetDefault("jobs.max_concurrent", 8)
	v.SetDefault("jobs.drain_timeout", "30s")

	// -- Notes --
	v.SetDefault("notes.dir", "./notes")
}

// NewConfigFromViper unmarshals and validates the configuration.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// NewDefaultConfig returns a Config populated purely from defaults. Tests use
// this to avoid touching the filesystem or environment.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// Validate checks cross-field invariants the zero value would silently break.
func (c *Config) Validate() error {
	if c.Agent.StepBudget < 1 {
		return fmt.Errorf("agent.step_budget must be at least 1, got %d", c.Agent.StepBudget)
	}
	if c.Agent.StuckThreshold < 2 {
		return fmt.Errorf("agent.stuck_threshold must be at least 2, got %d", c.Agent.StuckThreshold)
	}
	if c.Jobs.MaxJobs < 1 {
		return fmt.Errorf("jobs.max_jobs must be at least 1, got %d", c.Jobs.MaxJobs)
	}
	if c.Jobs.MaxConcurrent < 1 {
		return fmt.Errorf("jobs.max_concurrent must be at least 1, got %d", c.Jobs.MaxConcurrent)
	}
	if c.Browser.ViewportWidth < 1 || c.Browser.ViewportHeight < 1 {
		return fmt.Errorf("browser viewport must be positive, got %dx%d",
			c.Browser.ViewportWidth, c.Browser.ViewportHeight)
	}
	if c.Oracle.MaxRetries < 0 {
		return fmt.Errorf("oracle.max_retries must not be negative, got %d", c.Oracle.MaxRetries)
	}
	return nil
}
