// Package config loads and validates the daemon configuration from a YAML
// file with environment overrides (CLITAP_ prefix).
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/clitap/clitap/logging"
	"github.com/clitap/clitap/probe"
)

// Config is the full daemon configuration.
type Config struct {
	// TargetComm is the process name the capture filter matches exactly.
	TargetComm string `mapstructure:"target_comm"`

	// BPFObjectPath locates the prebuilt tracepoint shim object.
	BPFObjectPath string `mapstructure:"bpf_object_path"`

	// DataDir holds the sqlite database.
	DataDir string `mapstructure:"data_dir"`

	// ListenAddr is the web UI/API address. Empty disables the server.
	ListenAddr string `mapstructure:"listen_addr"`

	// RulesDir holds sigma detection rules. Empty disables detection.
	RulesDir string `mapstructure:"rules_dir"`

	// RingCapacity overrides the event ring size; zero keeps the default.
	RingCapacity int `mapstructure:"ring_capacity"`

	// SessionTimeout closes a session after this much inactivity.
	SessionTimeout time.Duration `mapstructure:"session_timeout"`

	// StatsInterval is how often counter totals are logged.
	StatsInterval time.Duration `mapstructure:"stats_interval"`

	Log logging.Config `mapstructure:"log"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		TargetComm:     "claude",
		BPFObjectPath:  "bpf/clitap.bpf.o",
		DataDir:        "data",
		ListenAddr:     ":8080",
		RulesDir:       "",
		RingCapacity:   probe.DefaultRingCapacity,
		SessionTimeout: probe.InactivityTimeout,
		StatsInterval:  time.Minute,
		Log: logging.Config{
			Level:      "info",
			Output:     "console",
			FilePath:   "data/clitap.log",
			MaxSizeMB:  50,
			MaxBackups: 3,
		},
	}
}

// Load reads path (optional) over the defaults and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("CLITAP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	def := Default()
	v.SetDefault("target_comm", def.TargetComm)
	v.SetDefault("bpf_object_path", def.BPFObjectPath)
	v.SetDefault("data_dir", def.DataDir)
	v.SetDefault("listen_addr", def.ListenAddr)
	v.SetDefault("rules_dir", def.RulesDir)
	v.SetDefault("ring_capacity", def.RingCapacity)
	v.SetDefault("session_timeout", def.SessionTimeout)
	v.SetDefault("stats_interval", def.StatsInterval)
	v.SetDefault("log.level", def.Log.Level)
	v.SetDefault("log.output", def.Log.Output)
	v.SetDefault("log.file_path", def.Log.FilePath)
	v.SetDefault("log.max_size_mb", def.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", def.Log.MaxBackups)
}

// Validate rejects configurations the daemon cannot run with.
func (c *Config) Validate() error {
	if c.TargetComm == "" {
		return errors.New("target_comm is required")
	}
	if len(c.TargetComm) >= probe.MaxCommLen {
		return fmt.Errorf("target_comm longer than %d bytes can never match a comm", probe.MaxCommLen-1)
	}
	if c.DataDir == "" {
		return errors.New("data_dir is required")
	}
	if c.RingCapacity < 0 {
		return errors.New("ring_capacity must not be negative")
	}
	if c.SessionTimeout <= 0 {
		return errors.New("session_timeout must be positive")
	}
	switch c.Log.Output {
	case "", "console", "file", "both":
	default:
		return fmt.Errorf("log.output must be console, file, or both, got %q", c.Log.Output)
	}
	return nil
}
