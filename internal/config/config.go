// Package config defines the tasktide configuration.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"tasktide/internal/db"
)

// Store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config is the top-level configuration.
type Config struct {
	Store  StoreConfig  `yaml:"store"`
	Server ServerConfig `yaml:"server"`
	Sweep  SweepConfig  `yaml:"sweep"`
	Log    LogConfig    `yaml:"log"`
}

// StoreConfig selects and locates the task and audit database.
type StoreConfig struct {
	Driver string `yaml:"driver"` // "sqlite" or "postgres"
	DSN    string `yaml:"dsn"`    // postgres connection string
	Path   string `yaml:"path"`   // sqlite file
}

type ServerConfig struct {
	Addr string `yaml:"addr"` // listen address, e.g. ":8080"
}

// SweepConfig tunes the transition engine and its schedule.
type SweepConfig struct {
	Schedule      string        `yaml:"schedule"` // cron spec or descriptor
	Workers       int           `yaml:"workers"`
	StoreTimeout  time.Duration `yaml:"store_timeout"`
	WriteInterval time.Duration `yaml:"write_interval"` // 0 disables throttling
}

type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	path, err := db.DefaultSQLitePath()
	if err != nil {
		path = "tasktide.db"
	}
	return &Config{
		Store: StoreConfig{
			Driver: DriverSQLite,
			Path:   path,
		},
		Server: ServerConfig{
			Addr: ":8080",
		},
		Sweep: SweepConfig{
			Schedule:     "@every 1h",
			Workers:      4,
			StoreTimeout: 5 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads the YAML file at path over the defaults, applies environment
// overrides and validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from the environment. DATABASE_URL and PORT
// follow the usual hosting conventions; everything else is TASKTIDE_*.
func (c *Config) ApplyEnv() error {
	if v, ok := os.LookupEnv("DATABASE_URL"); ok && v != "" {
		c.Store.Driver = DriverPostgres
		c.Store.DSN = v
	}
	if v, ok := os.LookupEnv("PORT"); ok && v != "" {
		c.Server.Addr = ":" + v
	}

	strs := map[string]*string{
		"TASKTIDE_STORE_DRIVER":   &c.Store.Driver,
		"TASKTIDE_SQLITE_PATH":    &c.Store.Path,
		"TASKTIDE_ADDR":           &c.Server.Addr,
		"TASKTIDE_SWEEP_SCHEDULE": &c.Sweep.Schedule,
		"TASKTIDE_LOG_LEVEL":      &c.Log.Level,
		"TASKTIDE_LOG_FORMAT":     &c.Log.Format,
	}
	for key, dst := range strs {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}

	if v, ok := os.LookupEnv("TASKTIDE_SWEEP_WORKERS"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("TASKTIDE_SWEEP_WORKERS: %w", err)
		}
		c.Sweep.Workers = n
	}
	durs := map[string]*time.Duration{
		"TASKTIDE_SWEEP_STORE_TIMEOUT":  &c.Sweep.StoreTimeout,
		"TASKTIDE_SWEEP_WRITE_INTERVAL": &c.Sweep.WriteInterval,
	}
	for key, dst := range durs {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = d
		}
	}
	return nil
}

// Validate reports every problem with the config at once.
func (c *Config) Validate() error {
	var errs []error
	switch c.Store.Driver {
	case DriverSQLite:
		if c.Store.Path == "" {
			errs = append(errs, errors.New("store.path is required for sqlite"))
		}
	case DriverPostgres:
		if c.Store.DSN == "" {
			errs = append(errs, errors.New("store.dsn is required for postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.driver %q: want %q or %q", c.Store.Driver, DriverSQLite, DriverPostgres))
	}
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	if _, err := cron.ParseStandard(c.Sweep.Schedule); err != nil {
		errs = append(errs, fmt.Errorf("sweep.schedule %q: %w", c.Sweep.Schedule, err))
	}
	if c.Sweep.Workers <= 0 {
		errs = append(errs, fmt.Errorf("sweep.workers must be positive, got %d", c.Sweep.Workers))
	}
	if c.Sweep.StoreTimeout <= 0 {
		errs = append(errs, fmt.Errorf("sweep.store_timeout must be positive, got %s", c.Sweep.StoreTimeout))
	}
	if c.Sweep.WriteInterval < 0 {
		errs = append(errs, fmt.Errorf("sweep.write_interval must not be negative, got %s", c.Sweep.WriteInterval))
	}
	if _, err := c.Log.level(); err != nil {
		errs = append(errs, err)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("log.format %q: want text or json", c.Log.Format))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

func (l LogConfig) level() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(l.Level)); err != nil {
		return lvl, fmt.Errorf("log.level %q: %w", l.Level, err)
	}
	return lvl, nil
}

// NewLogger builds the process logger described by l.
func (l LogConfig) NewLogger(w io.Writer) *slog.Logger {
	lvl, err := l.level()
	if err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if l.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
