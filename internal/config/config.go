// Package config loads chatshelf daemon configuration from a TOML file with
// environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Server contains HTTP listener configuration.
type Server struct {
	Bind            string `toml:"bind"`
	JWTSecret       string `toml:"jwt_secret"`
	RateLimitMax    int    `toml:"rate_limit_max"`
	RateLimitWindow string `toml:"rate_limit_window"`
	MaxBodyBytes    int64  `toml:"max_body_bytes"`
}

// Storage selects where namespace state lives. The DSN decides the backend:
// memory://, file://path, sqlite://path, or postgres://...
type Storage struct {
	DSN      string `toml:"dsn"`
	DataDir  string `toml:"data_dir"`
	LockFile string `toml:"lock_file"`
}

// Watch points at the collection snapshot document the reconciliation loop
// observes.
type Watch struct {
	SnapshotFile string `toml:"snapshot_file"`
}

// Reconcile tunes the reconciliation loop timing. Zero values use the
// built-in defaults.
type Reconcile struct {
	ScanDebounce         string `toml:"scan_debounce"`
	RenderDebounce       string `toml:"render_debounce"`
	SettleDelay          string `toml:"settle_delay"`
	HoldRetry            string `toml:"hold_retry"`
	TitleSyncInterval    string `toml:"title_sync_interval"`
	NamespaceMinInterval string `toml:"namespace_min_interval"`
}

// Logging controls the daemon logger.
type Logging struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type Config struct {
	Server    Server    `toml:"server"`
	Storage   Storage   `toml:"storage"`
	Watch     Watch     `toml:"watch"`
	Reconcile Reconcile `toml:"reconcile"`
	Logging   Logging   `toml:"logging"`
}

func Default() Config {
	return Config{
		Server: Server{
			Bind:            ":8080",
			RateLimitWindow: "1m",
		},
		Storage: Storage{
			DataDir: ".chatshelf",
		},
		Logging: Logging{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads the config file at path (or the default location when path is
// empty), applies CHATSHELF_* environment overrides, and validates the
// result. A missing default config file is not an error.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnv()
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("CHATSHELF_BIND"); v != "" {
		c.Server.Bind = v
	}
	if v := os.Getenv("CHATSHELF_JWT_SECRET"); v != "" {
		c.Server.JWTSecret = v
	}
	if v := os.Getenv("CHATSHELF_STORAGE_DSN"); v != "" {
		c.Storage.DSN = v
	}
	if v := os.Getenv("CHATSHELF_DATA_DIR"); v != "" {
		c.Storage.DataDir = v
	}
	if v := os.Getenv("CHATSHELF_SNAPSHOT_FILE"); v != "" {
		c.Watch.SnapshotFile = v
	}
	if v := os.Getenv("CHATSHELF_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

func (c *Config) normalize() {
	c.Server.Bind = strings.TrimSpace(c.Server.Bind)
	c.Storage.DSN = strings.TrimSpace(c.Storage.DSN)
	c.Storage.DataDir = strings.TrimSpace(c.Storage.DataDir)
	if c.Storage.DataDir == "" {
		c.Storage.DataDir = ".chatshelf"
	}
	if c.Storage.DSN == "" {
		c.Storage.DSN = "file://" + filepath.Join(c.Storage.DataDir, "state.json")
	}
	if c.Storage.LockFile == "" {
		c.Storage.LockFile = filepath.Join(c.Storage.DataDir, "chatshelf.lock")
	}
	if c.Watch.SnapshotFile == "" {
		c.Watch.SnapshotFile = filepath.Join(c.Storage.DataDir, "snapshot.json")
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
}

func (c *Config) Validate() error {
	if c.Server.Bind == "" {
		return errors.New("server.bind is required")
	}
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unsupported logging.level: %s", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "", "text", "json", "logfmt":
	default:
		return fmt.Errorf("unsupported logging.format: %s", c.Logging.Format)
	}
	for name, raw := range map[string]string{
		"server.rate_limit_window":         c.Server.RateLimitWindow,
		"reconcile.scan_debounce":          c.Reconcile.ScanDebounce,
		"reconcile.render_debounce":        c.Reconcile.RenderDebounce,
		"reconcile.settle_delay":           c.Reconcile.SettleDelay,
		"reconcile.hold_retry":             c.Reconcile.HoldRetry,
		"reconcile.title_sync_interval":    c.Reconcile.TitleSyncInterval,
		"reconcile.namespace_min_interval": c.Reconcile.NamespaceMinInterval,
	} {
		if _, err := parseDuration(raw); err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
	}
	return nil
}

// Duration returns the parsed duration for a raw config value, or zero when
// the value is unset.
func Duration(raw string) time.Duration {
	d, _ := parseDuration(raw)
	return d
}

func parseDuration(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	return time.ParseDuration(raw)
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		if _, err := os.Stat(expanded); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, fmt.Errorf("config file not found: %s", expanded)
			}
			return "", false, err
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath())
	if err != nil {
		return "", false, err
	}
	if _, err := os.Stat(defaultPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return defaultPath, false, nil
		}
		return "", false, err
	}
	return defaultPath, true, nil
}

func defaultConfigPath() string {
	if v := os.Getenv("CHATSHELF_CONFIG"); v != "" {
		return v
	}
	return "~/.config/chatshelf/config.toml"
}

func expandPath(path string) (string, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return filepath.Clean(path), nil
}
