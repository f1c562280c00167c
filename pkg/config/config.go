// Package config provides YAML-based configuration loading for rdgram.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"rdgram/pkg/rudp"
)

// Config is the root application configuration.
type Config struct {
	// AppName is the application identity carried in handshakes; two
	// peers only connect when it matches.
	AppName string `mapstructure:"app_name"`

	// Listen is the local UDP address for a bound peer.
	Listen string `mapstructure:"listen"`

	// MTU is the datagram size budget for packet framing.
	MTU int `mapstructure:"mtu"`

	// TickMS is the host update-cycle period in milliseconds.
	TickMS int `mapstructure:"tick_ms"`

	// Log holds logging configuration.
	Log LogConfig `mapstructure:"log"`

	// Protocol holds the engine's timing and windowing policy.
	Protocol ProtocolConfig `mapstructure:"protocol"`
}

// LogConfig defines logger settings.
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `mapstructure:"level"`
	// Format: console or json
	Format string `mapstructure:"format"`
	// Outputs: list of outputs: stdout, stderr, or file paths
	Outputs []string `mapstructure:"outputs"`

	// Rotation controls file rotation when writing to files.
	Rotation RotationConfig `mapstructure:"rotation"`
	// Development toggles development-friendly logging options.
	Development bool `mapstructure:"development"`
}

// RotationConfig controls log file rotation for file outputs.
type RotationConfig struct {
	Enable     bool   `mapstructure:"enable"`
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// ProtocolConfig exposes the engine's policy parameters. None of them
// have one correct value; a LAN profile wants tight timers where a lossy
// WAN profile wants patience.
type ProtocolConfig struct {
	HandshakeRetryLimit int `mapstructure:"handshake_retry_limit"`
	HandshakeIntervalMS int `mapstructure:"handshake_interval_ms"`
	LivenessTimeoutMS   int `mapstructure:"liveness_timeout_ms"`
	KeepaliveIntervalMS int `mapstructure:"keepalive_interval_ms"`
	InitialRTTMS        int `mapstructure:"initial_rtt_ms"`

	ResendRTTMultiple float64 `mapstructure:"resend_rtt_multiple"`
	ResendMaxRTOMS    int     `mapstructure:"resend_max_rto_ms"`
	ResendLimit       int     `mapstructure:"resend_limit"`

	MaxInFlight   int `mapstructure:"max_in_flight"`
	MaxBacklog    int `mapstructure:"max_backlog"`
	ReceiveWindow int `mapstructure:"receive_window"`
	MaxFragments  int `mapstructure:"max_fragments"`
	ReceiveBudget int `mapstructure:"receive_budget"`
}

// Params converts the configured policy into engine parameters; zero
// fields take the engine defaults.
func (c *Config) Params() rudp.Params {
	p := c.Protocol
	ms := func(v int) time.Duration { return time.Duration(v) * time.Millisecond }
	return rudp.Params{
		App:                 c.AppName,
		HandshakeRetryLimit: p.HandshakeRetryLimit,
		HandshakeInterval:   ms(p.HandshakeIntervalMS),
		LivenessTimeout:     ms(p.LivenessTimeoutMS),
		KeepaliveInterval:   ms(p.KeepaliveIntervalMS),
		InitialRTT:          ms(p.InitialRTTMS),
		ResendRTTMultiple:   p.ResendRTTMultiple,
		ResendMaxRTO:        ms(p.ResendMaxRTOMS),
		ResendLimit:         p.ResendLimit,
		MaxInFlight:         p.MaxInFlight,
		MaxBacklog:          p.MaxBacklog,
		ReceiveWindow:       p.ReceiveWindow,
		MaxFragments:        p.MaxFragments,
		ReceiveBudget:       p.ReceiveBudget,
	}
}

// Default returns a Config populated with sensible defaults.
func Default() *Config {
	return &Config{
		AppName: "rdgram",
		Listen:  ":7777",
		MTU:     1200,
		TickMS:  10,
		Log: LogConfig{
			Level:       "info",
			Format:      "console",
			Outputs:     []string{"stdout"},
			Development: true,
			Rotation: RotationConfig{
				Enable:     false,
				Filename:   "logs/rdgram.log",
				MaxSizeMB:  50,
				MaxBackups: 3,
				MaxAgeDays: 28,
				Compress:   true,
			},
		},
		Protocol: ProtocolConfig{
			HandshakeRetryLimit: 3,
			HandshakeIntervalMS: 1000,
			LivenessTimeoutMS:   5000,
			KeepaliveIntervalMS: 1000,
			InitialRTTMS:        100,
			ResendRTTMultiple:   2.0,
			ResendMaxRTOMS:      3000,
			ResendLimit:         10,
			MaxInFlight:         32,
			MaxBacklog:          4096,
			ReceiveWindow:       256,
			MaxFragments:        256,
			ReceiveBudget:       256,
		},
	}
}

// Load reads configuration from the provided path (if non-empty),
// otherwise it searches common locations and supports environment
// overrides. Environment variables use the prefix RDGRAM and `.`/`-` are
// replaced with `_`. Example: RDGRAM_LOG_LEVEL=debug
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("RDGRAM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// seed defaults for viper so env-only configs work
	v.SetDefault("app_name", cfg.AppName)
	v.SetDefault("listen", cfg.Listen)
	v.SetDefault("mtu", cfg.MTU)
	v.SetDefault("tick_ms", cfg.TickMS)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.outputs", cfg.Log.Outputs)
	v.SetDefault("log.development", cfg.Log.Development)
	v.SetDefault("log.rotation.enable", cfg.Log.Rotation.Enable)
	v.SetDefault("log.rotation.filename", cfg.Log.Rotation.Filename)
	v.SetDefault("log.rotation.max_size_mb", cfg.Log.Rotation.MaxSizeMB)
	v.SetDefault("log.rotation.max_backups", cfg.Log.Rotation.MaxBackups)
	v.SetDefault("log.rotation.max_age_days", cfg.Log.Rotation.MaxAgeDays)
	v.SetDefault("log.rotation.compress", cfg.Log.Rotation.Compress)
	v.SetDefault("protocol.handshake_retry_limit", cfg.Protocol.HandshakeRetryLimit)
	v.SetDefault("protocol.handshake_interval_ms", cfg.Protocol.HandshakeIntervalMS)
	v.SetDefault("protocol.liveness_timeout_ms", cfg.Protocol.LivenessTimeoutMS)
	v.SetDefault("protocol.keepalive_interval_ms", cfg.Protocol.KeepaliveIntervalMS)
	v.SetDefault("protocol.initial_rtt_ms", cfg.Protocol.InitialRTTMS)
	v.SetDefault("protocol.resend_rtt_multiple", cfg.Protocol.ResendRTTMultiple)
	v.SetDefault("protocol.resend_max_rto_ms", cfg.Protocol.ResendMaxRTOMS)
	v.SetDefault("protocol.resend_limit", cfg.Protocol.ResendLimit)
	v.SetDefault("protocol.max_in_flight", cfg.Protocol.MaxInFlight)
	v.SetDefault("protocol.max_backlog", cfg.Protocol.MaxBacklog)
	v.SetDefault("protocol.receive_window", cfg.Protocol.ReceiveWindow)
	v.SetDefault("protocol.max_fragments", cfg.Protocol.MaxFragments)
	v.SetDefault("protocol.receive_budget", cfg.Protocol.ReceiveBudget)

	if path == "" {
		if envPath := os.Getenv("RDGRAM_CONFIG"); envPath != "" {
			path = envPath
		}
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		// Search common locations with base name `rdgram`
		v.SetConfigName("rdgram")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".rdgram"))
		}
	}

	// Read config file if present; if not found, continue with defaults/env
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	lvl := strings.ToLower(strings.TrimSpace(c.Log.Level))
	switch lvl {
	case "debug", "info", "warn", "warning", "error":
		// ok
	default:
		return fmt.Errorf("invalid log.level: %q", c.Log.Level)
	}

	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if len(c.Log.Outputs) == 0 {
		c.Log.Outputs = []string{"stdout"}
	}
	if strings.TrimSpace(c.AppName) == "" {
		c.AppName = "rdgram"
	}
	if c.MTU < 128 || c.MTU > 64*1024 {
		return fmt.Errorf("invalid mtu: %d", c.MTU)
	}
	if c.TickMS <= 0 {
		c.TickMS = 10
	}
	if c.Protocol.ResendRTTMultiple < 1 {
		return fmt.Errorf("invalid protocol.resend_rtt_multiple: %v", c.Protocol.ResendRTTMultiple)
	}
	return nil
}

// MustLoad is a convenience that panics on error.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}
	return cfg
}
