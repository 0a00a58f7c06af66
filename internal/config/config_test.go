package config

import (
	"errors"
	"flag"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(nil, io.Discard)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadPriority(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "bazaar.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
addr: ":7000"
db: from-file.sqlite3
log_level: warn
token_ttl: 2h
redis:
  addr: redis:6379
`), 0o644))

	t.Setenv("BAZAAR_CONFIG", file)
	t.Setenv("BAZAAR_DB", "from-env.sqlite3")
	t.Setenv("BAZAAR_ADDR", ":7500")
	t.Setenv("BAZAAR_REDIS_CHANNEL", "env-channel")

	cfg, err := Load([]string{"-a", ":9000"}, io.Discard)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Addr, "flags beat env and file")
	assert.Equal(t, "from-env.sqlite3", cfg.DBPath, "env beats file")
	assert.Equal(t, "warn", cfg.LogLevel, "file beats defaults")
	assert.Equal(t, 2*time.Hour, cfg.TokenTTL)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, "env-channel", cfg.Redis.Channel)
	assert.Equal(t, int64(10<<20), cfg.MaxUploadBytes, "defaults fill the rest")
	assert.Equal(t, file, cfg.File)
}

func TestLoadExplicitFalseWins(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "bazaar.yaml")
	require.NoError(t, os.WriteFile(file, []byte("metrics: true\n"), 0o644))

	t.Setenv("BAZAAR_CONFIG", file)
	cfg, err := Load(nil, io.Discard)
	require.NoError(t, err)
	assert.True(t, cfg.MetricsEnabled(), "file enables metrics")

	t.Setenv("BAZAAR_METRICS", "false")
	cfg, err = Load(nil, io.Discard)
	require.NoError(t, err)
	assert.False(t, cfg.MetricsEnabled(), "env false beats file true")

	t.Setenv("BAZAAR_METRICS", "true")
	cfg, err = Load([]string{"-metrics=false"}, io.Discard)
	require.NoError(t, err)
	assert.False(t, cfg.MetricsEnabled(), "flag false beats env true")

	cfg, err = Load([]string{"-metrics"}, io.Discard)
	require.NoError(t, err)
	assert.True(t, cfg.MetricsEnabled())
}

func TestLoadConfigFlagOverridesEnvFile(t *testing.T) {
	dir := t.TempDir()
	fromFlag := filepath.Join(dir, "flag.yaml")
	require.NoError(t, os.WriteFile(fromFlag, []byte("db: flag-file.sqlite3\n"), 0o644))

	t.Setenv("BAZAAR_CONFIG", filepath.Join(dir, "missing.yaml"))

	cfg, err := Load([]string{"-config", fromFlag}, io.Discard)
	require.NoError(t, err)
	assert.Equal(t, "flag-file.sqlite3", cfg.DBPath)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load([]string{"-c", filepath.Join(t.TempDir(), "nope.yaml")}, io.Discard)
	assert.Error(t, err)
}

func TestLoadHelp(t *testing.T) {
	_, err := Load([]string{"-h"}, io.Discard)
	assert.ErrorIs(t, err, flag.ErrHelp)
}

func TestLoadUnexpectedArgument(t *testing.T) {
	_, err := Load([]string{"serve"}, io.Discard)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   error
	}{
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }, ErrInvalidLogConfig},
		{"empty db", func(c *Config) { c.DBPath = "" }, ErrInvalidStorageConfig},
		{"empty addr", func(c *Config) { c.Addr = "" }, ErrInvalidServerConfig},
		{"negative upload", func(c *Config) { c.MaxUploadBytes = -1 }, ErrInvalidServerConfig},
		{"zero ttl", func(c *Config) { c.TokenTTL = 0 }, ErrInvalidAuthConfig},
		{"redis without channel", func(c *Config) { c.Redis = Redis{Addr: "x:1"} }, ErrInvalidStorageConfig},
	}

	for _, tt := range tests {
		cfg := Default()
		tt.mutate(cfg)
		err := cfg.validate()
		assert.True(t, errors.Is(err, tt.want), "%s: got %v", tt.name, err)
	}

	assert.NoError(t, Default().validate())
}
