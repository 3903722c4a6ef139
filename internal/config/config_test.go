// File: internal/config/config_test.go
package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.Equal(t, "info", cfg.Logger.Level)
	assert.True(t, cfg.Browser.Headless)
	assert.Equal(t, 1280, cfg.Browser.ViewportWidth)
	assert.Equal(t, 800, cfg.Browser.ViewportHeight)
	assert.Equal(t, 30*time.Second, cfg.Browser.NavigationTimeout)
	assert.Contains(t, cfg.Browser.BlockedDomains, "maliciousbook.com")
	assert.Equal(t, 10, cfg.Agent.StepBudget)
	assert.Equal(t, 3, cfg.Agent.StuckThreshold)
	assert.Equal(t, 5*time.Minute, cfg.Agent.OperationTimeout)
	assert.Equal(t, 100, cfg.Jobs.MaxJobs)
	assert.Equal(t, time.Hour, cfg.Jobs.MaxAge)

	require.NoError(t, cfg.Validate())
}

func TestNewConfigFromViperDurationParsing(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	v.Set("browser.action_timeout", "250ms")
	v.Set("agent.operation_timeout", "90s")

	cfg, err := NewConfigFromViper(v)
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, cfg.Browser.ActionTimeout)
	assert.Equal(t, 90*time.Second, cfg.Agent.OperationTimeout)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero step budget", func(c *Config) { c.Agent.StepBudget = 0 }},
		{"stuck threshold below two", func(c *Config) { c.Agent.StuckThreshold = 1 }},
		{"zero max jobs", func(c *Config) { c.Jobs.MaxJobs = 0 }},
		{"zero concurrency", func(c *Config) { c.Jobs.MaxConcurrent = 0 }},
		{"empty viewport", func(c *Config) { c.Browser.ViewportWidth = 0 }},
		{"negative oracle retries", func(c *Config) { c.Oracle.MaxRetries = -1 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestOracleAttempts(t *testing.T) {
	assert.Equal(t, 3, AgentConfig{OracleRetries: 2}.OracleAttempts())
	assert.Equal(t, 1, AgentConfig{OracleRetries: 0}.OracleAttempts())
	assert.Equal(t, 1, AgentConfig{OracleRetries: -5}.OracleAttempts())
}

func TestNewConfigFromViperRejectsInvalid(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	v.Set("agent.step_budget", 0)

	_, err := NewConfigFromViper(v)
	assert.Error(t, err)
}
