// File: internal/config/config_test.go
package config

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -- Constructor and Defaults Tests --

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.Equal(t, "info", cfg.Logger.Level)
	assert.Equal(t, "cdpfleet", cfg.Logger.ServiceName)
	assert.Equal(t, 9222, cfg.Launcher.BasePort)
	assert.Equal(t, 500*time.Millisecond, cfg.Launcher.ReadyInterval)
	assert.Equal(t, 15*time.Second, cfg.Launcher.ReadyTimeout)
	assert.Equal(t, 5*time.Second, cfg.Launcher.CloseTimeout)
	assert.Equal(t, []string{"--force-dark-mode"}, cfg.Launcher.ExtraFlags)
	assert.Equal(t, BackendCDP, cfg.Protocol.Backend)
	assert.Equal(t, 30*time.Second, cfg.Protocol.CommandTimeout)
	assert.Equal(t, int64(100*1024*1024), cfg.Protocol.MaxFrameSize)
	assert.Equal(t, 50*time.Millisecond, cfg.Protocol.TypeDelay)
	assert.Equal(t, 5, cfg.Orchestrator.MaxConcurrent)
	assert.Equal(t, time.Second, cfg.Orchestrator.LaunchDelay)
	assert.Equal(t, 800, cfg.Layout.WindowWidth)
	assert.Equal(t, 1080, cfg.Layout.ScreenHeight)

	require.NoError(t, cfg.Validate(), "defaults must always validate")
}

// -- Validation Logic Tests --

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"zero max concurrency", func(c *Config) { c.Orchestrator.MaxConcurrent = 0 }, "orchestrator.max_concurrent must be a positive integer"},
		{"negative launch delay", func(c *Config) { c.Orchestrator.LaunchDelay = -time.Second }, "orchestrator.launch_delay cannot be negative"},
		{"port out of range", func(c *Config) { c.Launcher.BasePort = 70000 }, "launcher.base_port"},
		{"ready timeout shorter than interval", func(c *Config) { c.Launcher.ReadyTimeout = time.Millisecond }, "launcher.ready_timeout"},
		{"unknown backend", func(c *Config) { c.Protocol.Backend = "selenium" }, `protocol.backend "selenium"`},
		{"zero command timeout", func(c *Config) { c.Protocol.CommandTimeout = 0 }, "protocol.command_timeout"},
		{"screen smaller than window", func(c *Config) { c.Layout.ScreenWidth = 100 }, "layout screen"},
		{"zero rate burst", func(c *Config) { c.API.RateBurst = 0 }, "api.rate_limit"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	t.Run("multiple problems are all reported", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.Orchestrator.MaxConcurrent = 0
		cfg.Protocol.PollInterval = 0
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "orchestrator.max_concurrent")
		assert.Contains(t, err.Error(), "protocol.poll_interval")
	})
}

// -- Viper Integration Tests --

func TestNewConfigFromViper(t *testing.T) {
	t.Run("yaml overrides defaults", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)
		v.SetConfigType("yaml")
		yamlConfig := []byte(`
launcher:
  headless: true
  base_port: 9300
  ready_timeout: 20s
protocol:
  backend: rod
orchestrator:
  max_concurrent: 2
  launch_delay: 250ms
`)
		require.NoError(t, v.ReadConfig(bytes.NewBuffer(yamlConfig)))

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)
		assert.True(t, cfg.Launcher.Headless)
		assert.Equal(t, 9300, cfg.Launcher.BasePort)
		assert.Equal(t, 20*time.Second, cfg.Launcher.ReadyTimeout)
		assert.Equal(t, BackendRod, cfg.Protocol.Backend)
		assert.Equal(t, 2, cfg.Orchestrator.MaxConcurrent)
		assert.Equal(t, 250*time.Millisecond, cfg.Orchestrator.LaunchDelay)
		// Untouched values keep their defaults.
		assert.Equal(t, 5*time.Second, cfg.Launcher.CloseTimeout)
	})

	t.Run("invalid values are rejected", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)
		v.Set("orchestrator.max_concurrent", -3)

		_, err := NewConfigFromViper(v)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid configuration")
	})

	t.Run("tilde paths are expanded", func(t *testing.T) {
		home, err := homedir.Dir()
		require.NoError(t, err)

		v := viper.New()
		SetDefaults(v)
		v.Set("launcher.extensions_dir", "~/exts")

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(home, ".cdpfleet", "profiles"), cfg.Launcher.ProfilesRoot)
		assert.Equal(t, filepath.Join(home, "exts"), cfg.Launcher.ExtensionsDir)
	})

	t.Run("environment variables are honoured", func(t *testing.T) {
		t.Setenv("CDPFLEET_PROTOCOL_BACKEND", "chromedp")

		v := viper.New()
		SetDefaults(v)
		BindEnv(v)

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)
		assert.Equal(t, BackendChromedp, cfg.Protocol.Backend)
	})
}
