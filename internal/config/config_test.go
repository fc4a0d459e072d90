package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv unsets every variable ApplyEnv reads so the host environment
// cannot leak into a test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"DATABASE_URL", "PORT",
		"TASKTIDE_STORE_DRIVER", "TASKTIDE_SQLITE_PATH", "TASKTIDE_ADDR",
		"TASKTIDE_SWEEP_SCHEDULE", "TASKTIDE_SWEEP_WORKERS",
		"TASKTIDE_SWEEP_STORE_TIMEOUT", "TASKTIDE_SWEEP_WRITE_INTERVAL",
		"TASKTIDE_LOG_LEVEL", "TASKTIDE_LOG_FORMAT",
	} {
		t.Setenv(key, "")
	}
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tasktide.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, DriverSQLite, cfg.Store.Driver)
	assert.Equal(t, "@every 1h", cfg.Sweep.Schedule)
	assert.Equal(t, 4, cfg.Sweep.Workers)
	assert.Equal(t, 5*time.Second, cfg.Sweep.StoreTimeout)
	assert.True(t, strings.HasSuffix(cfg.Store.Path, "tasktide.db"))
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, `
store:
  driver: postgres
  dsn: postgres://localhost/tide
sweep:
  schedule: "*/10 * * * *"
  workers: 8
  store_timeout: 2s
  write_interval: 50ms
log:
  format: json
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DriverPostgres, cfg.Store.Driver)
	assert.Equal(t, "postgres://localhost/tide", cfg.Store.DSN)
	assert.Equal(t, "*/10 * * * *", cfg.Sweep.Schedule)
	assert.Equal(t, 8, cfg.Sweep.Workers)
	assert.Equal(t, 2*time.Second, cfg.Sweep.StoreTimeout)
	assert.Equal(t, 50*time.Millisecond, cfg.Sweep.WriteInterval)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, ":8080", cfg.Server.Addr, "unset fields keep defaults")
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "server:\n  addr: \":9000\"\n")
	t.Setenv("PORT", "7070")
	t.Setenv("DATABASE_URL", "postgres://db/tide")
	t.Setenv("TASKTIDE_SWEEP_WORKERS", "2")
	t.Setenv("TASKTIDE_SWEEP_WRITE_INTERVAL", "1s")
	t.Setenv("TASKTIDE_LOG_LEVEL", "debug")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.Server.Addr)
	assert.Equal(t, DriverPostgres, cfg.Store.Driver)
	assert.Equal(t, "postgres://db/tide", cfg.Store.DSN)
	assert.Equal(t, 2, cfg.Sweep.Workers)
	assert.Equal(t, time.Second, cfg.Sweep.WriteInterval)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_Errors(t *testing.T) {
	clearEnv(t)

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "read config")

	_, err = Load(writeFile(t, "store: [not, a, map]"))
	assert.ErrorContains(t, err, "parse config")

	t.Setenv("TASKTIDE_SWEEP_WORKERS", "many")
	_, err = Load("")
	assert.ErrorContains(t, err, "TASKTIDE_SWEEP_WORKERS")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"unknown driver", func(c *Config) { c.Store.Driver = "mysql" }, "store.driver"},
		{"postgres without dsn", func(c *Config) { c.Store.Driver = DriverPostgres }, "store.dsn"},
		{"sqlite without path", func(c *Config) { c.Store.Path = "" }, "store.path"},
		{"bad schedule", func(c *Config) { c.Sweep.Schedule = "whenever" }, "sweep.schedule"},
		{"zero workers", func(c *Config) { c.Sweep.Workers = 0 }, "sweep.workers"},
		{"zero timeout", func(c *Config) { c.Sweep.StoreTimeout = 0 }, "sweep.store_timeout"},
		{"negative interval", func(c *Config) { c.Sweep.WriteInterval = -time.Second }, "sweep.write_interval"},
		{"bad level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"bad format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.want)
		})
	}

	cfg := DefaultConfig()
	cfg.Sweep.Workers = 0
	cfg.Log.Format = "xml"
	err := cfg.Validate()
	assert.ErrorContains(t, err, "sweep.workers")
	assert.ErrorContains(t, err, "log.format")
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	LogConfig{Level: "warn", Format: "json"}.NewLogger(&buf).Info("hidden")
	assert.Empty(t, buf.String())

	LogConfig{Level: "warn", Format: "json"}.NewLogger(&buf).Warn("shown", "task", 1)
	assert.Contains(t, buf.String(), `"msg":"shown"`)
	assert.Contains(t, buf.String(), `"task":1`)
}
