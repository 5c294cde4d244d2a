package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "claude", cfg.TargetComm)
	assert.Equal(t, "data", cfg.DataDir)
	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, 5*time.Minute, cfg.SessionTimeout)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "clitap.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
target_comm: mycli
listen_addr: ":9090"
session_timeout: 90s
log:
  level: debug
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "mycli", cfg.TargetComm)
	assert.Equal(t, ":9090", cfg.ListenAddr)
	assert.Equal(t, 90*time.Second, cfg.SessionTimeout)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "data", cfg.DataDir, "unset keys keep defaults")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(c *Config) {}, true},
		{"empty target", func(c *Config) { c.TargetComm = "" }, false},
		{"target too long for comm", func(c *Config) { c.TargetComm = "averyveryverylongname" }, false},
		{"empty data dir", func(c *Config) { c.DataDir = "" }, false},
		{"negative ring", func(c *Config) { c.RingCapacity = -1 }, false},
		{"zero session timeout", func(c *Config) { c.SessionTimeout = 0 }, false},
		{"bad log output", func(c *Config) { c.Log.Output = "syslog" }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}
