// -- cmd/root.go --
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/cdpfleet/internal/config"
	"github.com/xkilldash9x/cdpfleet/internal/observability"
)

// rootOptions carries state resolved by the root command to its children.
type rootOptions struct {
	cfgFile string
	v       *viper.Viper
	cfg     *config.Config
}

// NewRootCommand builds a fresh command tree. Each call is independent, so
// tests can run commands without sharing flag state.
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:           "cdpfleet",
		Short:         "cdpfleet launches and drives fleets of isolated browser profiles.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			opts.v = viper.New()
			config.SetDefaults(opts.v)

			if err := initializeConfig(opts.v, opts.cfgFile); err != nil {
				observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "cdpfleet"})
				return fmt.Errorf("failed to initialize configuration: %w", err)
			}

			// Flags of the running command override file and env values.
			if err := bindCommandFlags(cmd, opts.v); err != nil {
				return err
			}

			cfg, err := config.NewConfigFromViper(opts.v)
			if err != nil {
				observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "cdpfleet"})
				return err
			}
			opts.cfg = cfg

			observability.InitializeLogger(cfg.Logger)
			observability.GetLogger().Debug("Starting cdpfleet", zap.String("version", Version))
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&opts.cfgFile, "config", "c", "", "config file (default is ./config.yaml)")
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	rootCmd.AddCommand(
		newLaunchCmd(opts),
		newBatchCmd(opts),
		newServeCmd(opts),
		newPortsCmd(opts),
		newVersionCmd(),
	)
	return rootCmd
}

// Execute runs the command tree with ctx, which main wires to SIGINT/SIGTERM.
func Execute(ctx context.Context) error {
	defer observability.Sync()

	err := NewRootCommand().ExecuteContext(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		observability.GetLogger().Error("Command execution failed", zap.Error(err))
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	return err
}

// initializeConfig reads the config file and binds the environment. A
// missing default config file is not an error.
func initializeConfig(v *viper.Viper, cfgFile string) error {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	config.BindEnv(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}
	return nil
}

// flagKeys maps command flags onto config keys.
var flagKeys = map[string]string{
	"max":       "orchestrator.max_concurrent",
	"delay":     "orchestrator.launch_delay",
	"backend":   "protocol.backend",
	"attach":    "protocol.attach",
	"headless":  "launcher.headless",
	"listen":    "api.listen_addr",
	"base-port": "launcher.base_port",
}

func bindCommandFlags(cmd *cobra.Command, v *viper.Viper) error {
	for flag, key := range flagKeys {
		f := cmd.Flags().Lookup(flag)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("failed to bind --%s: %w", flag, err)
		}
	}
	return nil
}
