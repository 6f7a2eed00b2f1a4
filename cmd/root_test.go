// File: cmd/root_test.go
package cmd

import (
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/cdpfleet/internal/config"
)

// runRoot executes a fresh command tree in an empty working directory so no
// stray config.yaml is picked up.
func runRoot(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Chdir(t.TempDir())
	t.Setenv("CDPFLEET_LOGGER_LEVEL", "fatal")

	rootCmd := NewRootCommand()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRootCmd_VersionFlag(t *testing.T) {
	out, err := runRoot(t, "--version")
	require.NoError(t, err)
	assert.Equal(t, Version+"\n", out)
}

func TestRootCmd_VersionCommand(t *testing.T) {
	out, err := runRoot(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "cdpfleet "+Version+"\n", out)
}

func TestRootCmd_NoArgs(t *testing.T) {
	out, err := runRoot(t)
	require.NoError(t, err)
	assert.Contains(t, out, "cdpfleet launches and drives fleets of isolated browser profiles.")
	for _, sub := range []string{"launch", "batch", "serve", "ports", "version"} {
		assert.Contains(t, out, sub)
	}
}

func TestRootCmd_MissingExplicitConfig(t *testing.T) {
	_, err := runRoot(t, "--config", "/does/not/exist.yaml", "ports")
	assert.ErrorContains(t, err, "failed to initialize configuration")
}

func TestRootCmd_InvalidConfigRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("orchestrator:\n  max_concurrent: 0\n"), 0o600))

	_, err := runRoot(t, "--config", path, "ports")
	assert.ErrorContains(t, err, "orchestrator.max_concurrent")
}

func TestPortsCmd_SkipsBoundPorts(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	busy := ln.Addr().(*net.TCPAddr).Port

	out, err := runRoot(t, "ports", "--base-port", strconv.Itoa(busy), "-n", "2")
	require.NoError(t, err)

	lines := strings.Fields(out)
	require.Len(t, lines, 2)
	first, err := strconv.Atoi(lines[0])
	require.NoError(t, err)
	second, err := strconv.Atoi(lines[1])
	require.NoError(t, err)

	assert.Greater(t, first, busy)
	assert.Greater(t, second, first)
}

func TestPortsCmd_RejectsZeroCount(t *testing.T) {
	_, err := runRoot(t, "ports", "-n", "0")
	assert.ErrorContains(t, err, "--count")
}

func TestInitializeConfig(t *testing.T) {
	t.Run("file and env precedence", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "cdpfleet.yaml")
		yaml := "orchestrator:\n  max_concurrent: 3\nprotocol:\n  backend: rod\n"
		require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
		t.Setenv("CDPFLEET_PROTOCOL_BACKEND", "chromedp")

		v := viper.New()
		config.SetDefaults(v)
		require.NoError(t, initializeConfig(v, path))

		cfg, err := config.NewConfigFromViper(v)
		require.NoError(t, err)
		assert.Equal(t, 3, cfg.Orchestrator.MaxConcurrent)
		assert.Equal(t, config.BackendChromedp, cfg.Protocol.Backend)
	})

	t.Run("missing default file is fine", func(t *testing.T) {
		t.Chdir(t.TempDir())
		v := viper.New()
		config.SetDefaults(v)
		assert.NoError(t, initializeConfig(v, ""))
	})
}

func TestBindCommandFlags(t *testing.T) {
	cmd := newBatchCmd(&rootOptions{})
	require.NoError(t, cmd.Flags().Parse([]string{"--max", "7", "--delay", "250ms"}))

	v := viper.New()
	config.SetDefaults(v)
	require.NoError(t, bindCommandFlags(cmd, v))

	cfg, err := config.NewConfigFromViper(v)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Orchestrator.MaxConcurrent)
	assert.Equal(t, "250ms", cfg.Orchestrator.LaunchDelay.String())
	// Unset flags leave config defaults alone.
	assert.Equal(t, config.BackendCDP, cfg.Protocol.Backend)
}
