// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Backend names accepted by protocol.backend.
const (
	BackendCDP        = "cdp"
	BackendChromedp   = "chromedp"
	BackendRod        = "rod"
	BackendPlaywright = "playwright"
)

// EnvPrefix namespaces environment overrides, e.g. CDPFLEET_PROTOCOL_BACKEND.
const EnvPrefix = "CDPFLEET"

// Config is the root configuration record for cdpfleet.
type Config struct {
	Logger       LoggerConfig       `mapstructure:"logger" yaml:"logger"`
	Launcher     LauncherConfig     `mapstructure:"launcher" yaml:"launcher"`
	Protocol     ProtocolConfig     `mapstructure:"protocol" yaml:"protocol"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator" yaml:"orchestrator"`
	Layout       LayoutConfig       `mapstructure:"layout" yaml:"layout"`
	API          APIConfig          `mapstructure:"api" yaml:"api"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// LauncherConfig controls how browser processes are spawned and reaped.
type LauncherConfig struct {
	// BinaryPath is the browser executable. Empty means auto-detect.
	BinaryPath    string        `mapstructure:"binary_path" yaml:"binary_path"`
	ProfilesRoot  string        `mapstructure:"profiles_root" yaml:"profiles_root"`
	ExtensionsDir string        `mapstructure:"extensions_dir" yaml:"extensions_dir"`
	Headless      bool          `mapstructure:"headless" yaml:"headless"`
	BasePort      int           `mapstructure:"base_port" yaml:"base_port"`
	ExtraFlags    []string      `mapstructure:"extra_flags" yaml:"extra_flags"`
	ReadyInterval time.Duration `mapstructure:"ready_interval" yaml:"ready_interval"`
	ReadyTimeout  time.Duration `mapstructure:"ready_timeout" yaml:"ready_timeout"`
	CloseTimeout  time.Duration `mapstructure:"close_timeout" yaml:"close_timeout"`
}

// ProtocolConfig tunes the DevTools client and selects the automation backend.
type ProtocolConfig struct {
	Backend           string        `mapstructure:"backend" yaml:"backend"`
	Attach            bool          `mapstructure:"attach" yaml:"attach"`
	CommandTimeout    time.Duration `mapstructure:"command_timeout" yaml:"command_timeout"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	MaxFrameSize      int64         `mapstructure:"max_frame_size" yaml:"max_frame_size"`
	PollInterval      time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	TypeDelay         time.Duration `mapstructure:"type_delay" yaml:"type_delay"`
}

// OrchestratorConfig bounds batch execution.
type OrchestratorConfig struct {
	MaxConcurrent    int           `mapstructure:"max_concurrent" yaml:"max_concurrent"`
	LaunchDelay      time.Duration `mapstructure:"launch_delay" yaml:"launch_delay"`
	SlotPollInterval time.Duration `mapstructure:"slot_poll_interval" yaml:"slot_poll_interval"`
	StopJoinTimeout  time.Duration `mapstructure:"stop_join_timeout" yaml:"stop_join_timeout"`
}

// LayoutConfig describes the window grid used to tile visible browsers.
type LayoutConfig struct {
	WindowWidth    int `mapstructure:"window_width" yaml:"window_width"`
	WindowHeight   int `mapstructure:"window_height" yaml:"window_height"`
	ScreenWidth    int `mapstructure:"screen_width" yaml:"screen_width"`
	ScreenHeight   int `mapstructure:"screen_height" yaml:"screen_height"`
	OverflowOffset int `mapstructure:"overflow_offset" yaml:"overflow_offset"`
}

// APIConfig configures the HTTP control surface started by `cdpfleet serve`.
type APIConfig struct {
	ListenAddr string  `mapstructure:"listen_addr" yaml:"listen_addr"`
	RateLimit  float64 `mapstructure:"rate_limit" yaml:"rate_limit"`
	RateBurst  int     `mapstructure:"rate_burst" yaml:"rate_burst"`
}

// NewDefaultConfig creates a configuration populated entirely from SetDefaults.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "cdpfleet")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "red")

	// -- Launcher --
	v.SetDefault("launcher.binary_path", "")
	v.SetDefault("launcher.profiles_root", "~/.cdpfleet/profiles")
	v.SetDefault("launcher.extensions_dir", "")
	v.SetDefault("launcher.headless", false)
	v.SetDefault("launcher.base_port", 9222)
	v.SetDefault("launcher.extra_flags", []string{"--force-dark-mode"})
	v.SetDefault("launcher.ready_interval", "500ms")
	v.SetDefault("launcher.ready_timeout", "15s")
	v.SetDefault("launcher.close_timeout", "5s")

	// -- Protocol --
	v.SetDefault("protocol.backend", BackendCDP)
	v.SetDefault("protocol.attach", false)
	v.SetDefault("protocol.command_timeout", "30s")
	v.SetDefault("protocol.navigation_timeout", "30s")
	v.SetDefault("protocol.max_frame_size", 100*1024*1024)
	v.SetDefault("protocol.poll_interval", "500ms")
	v.SetDefault("protocol.type_delay", "50ms")

	// -- Orchestrator --
	v.SetDefault("orchestrator.max_concurrent", 5)
	v.SetDefault("orchestrator.launch_delay", "1s")
	v.SetDefault("orchestrator.slot_poll_interval", "500ms")
	v.SetDefault("orchestrator.stop_join_timeout", "5s")

	// -- Layout --
	v.SetDefault("layout.window_width", 800)
	v.SetDefault("layout.window_height", 600)
	v.SetDefault("layout.screen_width", 1920)
	v.SetDefault("layout.screen_height", 1080)
	v.SetDefault("layout.overflow_offset", 20)

	// -- API --
	v.SetDefault("api.listen_addr", "127.0.0.1:8765")
	v.SetDefault("api.rate_limit", 5.0)
	v.SetDefault("api.rate_burst", 10)
}

// BindEnv makes every key registered on v overridable from the environment.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// NewConfigFromViper unmarshals, normalizes and validates a configuration
// from an already populated viper instance.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.ExpandPaths(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// ExpandPaths resolves a leading ~ in every filesystem path of the config.
func (c *Config) ExpandPaths() error {
	paths := []*string{
		&c.Launcher.BinaryPath,
		&c.Launcher.ProfilesRoot,
		&c.Launcher.ExtensionsDir,
		&c.Logger.LogFile,
	}
	for _, p := range paths {
		if *p == "" {
			continue
		}
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("failed to expand path %q: %w", *p, err)
		}
		*p = expanded
	}
	return nil
}

// Validate checks the configuration for values the control plane cannot run with.
func (c *Config) Validate() error {
	var errs []error

	if c.Launcher.BasePort <= 0 || c.Launcher.BasePort >= 65535 {
		errs = append(errs, fmt.Errorf("launcher.base_port must be between 1 and 65534"))
	}
	if c.Launcher.ReadyInterval <= 0 {
		errs = append(errs, fmt.Errorf("launcher.ready_interval must be positive"))
	}
	if c.Launcher.ReadyTimeout < c.Launcher.ReadyInterval {
		errs = append(errs, fmt.Errorf("launcher.ready_timeout must not be shorter than launcher.ready_interval"))
	}
	if c.Launcher.CloseTimeout <= 0 {
		errs = append(errs, fmt.Errorf("launcher.close_timeout must be positive"))
	}

	switch strings.ToLower(c.Protocol.Backend) {
	case BackendCDP, BackendChromedp, BackendRod, BackendPlaywright:
	default:
		errs = append(errs, fmt.Errorf("protocol.backend %q is not one of cdp, chromedp, rod, playwright", c.Protocol.Backend))
	}
	if c.Protocol.CommandTimeout <= 0 {
		errs = append(errs, fmt.Errorf("protocol.command_timeout must be positive"))
	}
	if c.Protocol.MaxFrameSize <= 0 {
		errs = append(errs, fmt.Errorf("protocol.max_frame_size must be positive"))
	}
	if c.Protocol.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("protocol.poll_interval must be positive"))
	}

	if c.Orchestrator.MaxConcurrent <= 0 {
		errs = append(errs, fmt.Errorf("orchestrator.max_concurrent must be a positive integer"))
	}
	if c.Orchestrator.LaunchDelay < 0 {
		errs = append(errs, fmt.Errorf("orchestrator.launch_delay cannot be negative"))
	}
	if c.Orchestrator.SlotPollInterval <= 0 {
		errs = append(errs, fmt.Errorf("orchestrator.slot_poll_interval must be positive"))
	}

	if c.Layout.WindowWidth <= 0 || c.Layout.WindowHeight <= 0 {
		errs = append(errs, fmt.Errorf("layout window dimensions must be positive"))
	}
	if c.Layout.ScreenWidth < c.Layout.WindowWidth || c.Layout.ScreenHeight < c.Layout.WindowHeight {
		errs = append(errs, fmt.Errorf("layout screen must be at least one window in size"))
	}

	if c.API.RateLimit <= 0 || c.API.RateBurst <= 0 {
		errs = append(errs, fmt.Errorf("api.rate_limit and api.rate_burst must be positive"))
	}

	return errors.Join(errs...)
}
