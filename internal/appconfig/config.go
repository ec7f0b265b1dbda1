// Package appconfig manages application configuration and runtime file paths.
package appconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/treykane/fleetcmd/internal/util"
)

// CORSConfig controls the CORS middleware. An empty AllowedOrigins list means
// all origins are allowed, matching the permissive default the web frontend
// expects on LAN deployments.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// LimitsConfig bounds the two fan-out tiers. The caps serve different
// purposes and are deliberately separate: BatchHosts protects this process
// from holding too many SSH transports at once, HostCommands protects each
// remote sshd from channel exhaustion.
type LimitsConfig struct {
	BatchHosts   int `yaml:"batch_hosts"`
	HostCommands int `yaml:"host_commands"`
}

// PoolConfig tunes connection pool maintenance.
type PoolConfig struct {
	ReapInterval time.Duration `yaml:"reap_interval"`
	IdleAfter    time.Duration `yaml:"idle_after"`
	HealthAfter  time.Duration `yaml:"health_after"`
}

// Config holds application-level configuration.
//
// Note: stored config blobs (the /api/v1/configs surface) may contain
// credentials and are persisted as opaque JSON without encryption. Protect
// the database file accordingly.
type Config struct {
	Addr         string        `yaml:"addr"`
	DatabasePath string        `yaml:"database_path"`
	RoomTTL      time.Duration `yaml:"room_ttl"`
	CORS         CORSConfig    `yaml:"cors"`
	Limits       LimitsConfig  `yaml:"limits"`
	Pool         PoolConfig    `yaml:"pool"`
}

// Default returns the default configuration. The database path is left empty
// here because it depends on the config directory; Load fills it in.
func Default() Config {
	return Config{
		Addr:    ":8000",
		RoomTTL: time.Hour,
		Limits:  LimitsConfig{BatchHosts: 20, HostCommands: 5},
		Pool: PoolConfig{
			ReapInterval: 5 * time.Minute,
			IdleAfter:    5 * time.Minute,
			HealthAfter:  30 * time.Minute,
		},
	}
}

// overrideDir, when set, takes precedence over the environment-derived
// config directory.
var overrideDir string

// SetConfigDir pins the config directory for this process, typically from the
// --config-dir flag. An empty value restores environment-based resolution.
func SetConfigDir(dir string) {
	overrideDir = dir
}

// ConfigDir returns the application config directory path.
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config/fleetcmd.
func ConfigDir() (string, error) {
	if overrideDir != "" {
		return overrideDir, nil
	}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "fleetcmd"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home: %w", err)
	}
	return filepath.Join(home, ".config", "fleetcmd"), nil
}

// Load reads config.yaml from the config directory, creating it with defaults
// if it doesn't exist. Environment variables FLEETCMD_ADDR and FLEETCMD_DB
// override the file.
func Load() (Config, error) {
	d, err := ConfigDir()
	if err != nil {
		return Config{}, err
	}
	if err := os.MkdirAll(d, 0o755); err != nil {
		return Config{}, err
	}
	path := filepath.Join(d, "config.yaml")
	cfg := Default()
	b, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		if err := Save(cfg); err != nil {
			return cfg, err
		}
	case err != nil:
		return Config{}, err
	default:
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	if cfg.Addr == "" {
		cfg.Addr = Default().Addr
	}
	if cfg.DatabasePath == "" {
		cfg.DatabasePath = filepath.Join(d, "fleetcmd.db")
	}
	if cfg.RoomTTL <= 0 {
		cfg.RoomTTL = time.Hour
	}
	def := Default()
	if cfg.Limits.BatchHosts <= 0 {
		cfg.Limits.BatchHosts = def.Limits.BatchHosts
	}
	if cfg.Limits.HostCommands <= 0 {
		cfg.Limits.HostCommands = def.Limits.HostCommands
	}
	if cfg.Pool.ReapInterval <= 0 {
		cfg.Pool.ReapInterval = def.Pool.ReapInterval
	}
	if cfg.Pool.IdleAfter <= 0 {
		cfg.Pool.IdleAfter = def.Pool.IdleAfter
	}
	if cfg.Pool.HealthAfter <= 0 {
		cfg.Pool.HealthAfter = def.Pool.HealthAfter
	}

	if addr := os.Getenv("FLEETCMD_ADDR"); addr != "" {
		cfg.Addr = addr
	}
	if db := os.Getenv("FLEETCMD_DB"); db != "" {
		cfg.DatabasePath = db
	}
	return cfg, nil
}

// Save writes config to config.yaml.
func Save(cfg Config) error {
	d, err := ConfigDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(d, 0o755); err != nil {
		return err
	}
	path := filepath.Join(d, "config.yaml")
	b, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

// Debug reports whether DEBUG_MODE requests verbose logging.
func Debug() bool {
	return util.TruthyEnv("DEBUG_MODE")
}
