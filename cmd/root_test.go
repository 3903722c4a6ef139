// -- cmd/root_test.go --
package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halcyondata/browser-operator/internal/config"
)

func TestRootCommandVersion(t *testing.T) {
	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs([]string{"--version"})

	require.NoError(t, root.ExecuteContext(context.Background()))
	assert.Equal(t, Version+"\n", out.String())
}

func TestRootCommandUnknownSubcommand(t *testing.T) {
	root := NewRootCommand()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"refactor-the-web"})

	assert.Error(t, root.ExecuteContext(context.Background()))
}

func TestInitializeConfigDefaults(t *testing.T) {
	v := viper.New()
	require.NoError(t, initializeConfig(v, ""))

	cfg, err := config.NewConfigFromViper(v)
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.Agent.StepBudget)
	assert.True(t, cfg.Browser.Headless)
}

func TestInitializeConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("agent:\n  step_budget: 4\n"), 0o644))

	v := viper.New()
	require.NoError(t, initializeConfig(v, path))

	cfg, err := config.NewConfigFromViper(v)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Agent.StepBudget)
	assert.Equal(t, 3, cfg.Agent.StuckThreshold, "unset keys keep their defaults")
}

func TestInitializeConfigMissingExplicitFile(t *testing.T) {
	v := viper.New()
	err := initializeConfig(v, filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
