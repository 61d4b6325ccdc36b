// Package config loads pathwise settings from an optional YAML file,
// environment variables, and built-in defaults.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store"`
	Lock      LockConfig      `yaml:"lock"`
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	Recommend RecommendConfig `yaml:"recommend"`
	Mastery   MasteryConfig   `yaml:"mastery"`
}

// StoreConfig configures the document store.
type StoreConfig struct {
	DSN        string        `yaml:"dsn"`
	ChunkSize  int           `yaml:"chunk_size"`
	ChunkDelay time.Duration `yaml:"chunk_delay"`
}

// LockConfig selects the per-key lock backend.
type LockConfig struct {
	Backend  string        `yaml:"backend"` // "local" or "redis"
	RedisURL string        `yaml:"redis_url"`
	TTL      time.Duration `yaml:"ttl"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr              string        `yaml:"addr"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
}

// LogConfig configures the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// RecommendConfig tunes the recommendation scorer.
type RecommendConfig struct {
	WeightOverdue         float64 `yaml:"weight_overdue"`
	WeightLowMastery      float64 `yaml:"weight_low_mastery"`
	WeightEarlyOrder      float64 `yaml:"weight_early_order"`
	PenaltyRecent         float64 `yaml:"penalty_recent"`
	PenaltyTooLong        float64 `yaml:"penalty_too_long"`
	LowMasteryThreshold   float64 `yaml:"low_mastery_threshold"`
	LongLessonMinutes     int     `yaml:"long_lesson_minutes"`
	TopN                  int     `yaml:"top_n"`
	AvoidRepeatWithinDays int     `yaml:"avoid_repeat_within_days"`
}

// MasteryConfig tunes the mastery tracker.
type MasteryConfig struct {
	Prior float64 `yaml:"prior"`
	Alpha float64 `yaml:"alpha"`
}

const (
	LockBackendLocal = "local"
	LockBackendRedis = "redis"
)

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Store: StoreConfig{
			ChunkSize:  10,
			ChunkDelay: 200 * time.Millisecond,
		},
		Lock: LockConfig{
			Backend: LockBackendLocal,
			TTL:     10 * time.Second,
		},
		Server: ServerConfig{
			Addr:              ":8080",
			ReadHeaderTimeout: 5 * time.Second,
			ShutdownTimeout:   10 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Recommend: RecommendConfig{
			WeightOverdue:         0.40,
			WeightLowMastery:      0.25,
			WeightEarlyOrder:      0.15,
			PenaltyRecent:         0.10,
			PenaltyTooLong:        0.05,
			LowMasteryThreshold:   0.5,
			LongLessonMinutes:     40,
			TopN:                  3,
			AvoidRepeatWithinDays: 7,
		},
		Mastery: MasteryConfig{
			Prior: 0.3,
			Alpha: 0.3,
		},
	}
}

// DefaultPath returns $XDG_CONFIG_HOME/pathwise/config.yaml, falling back
// to ~/.config/pathwise/config.yaml.
func DefaultPath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "pathwise", "config.yaml")
}

// Load reads path over the defaults and then applies environment
// overrides. An empty path means DefaultPath, which may be absent; an
// explicit path must exist.
func Load(path string) (Config, error) {
	return load(path, os.Getenv)
}

func load(path string, getenv func(string) string) (Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := Parse(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("config: %s: %w", path, err)
			}
		case errors.Is(err, fs.ErrNotExist) && !explicit:
		default:
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	cfg.applyEnv(getenv)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse decodes YAML into cfg. Keys absent from data keep their current
// values.
func Parse(data []byte, cfg *Config) error {
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("decode yaml: %w", err)
	}
	return nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	if v := getenv("PATHWISE_DB"); v != "" {
		c.Store.DSN = v
	}
	if v := getenv("PATHWISE_REDIS_URL"); v != "" {
		c.Lock.RedisURL = v
		c.Lock.Backend = LockBackendRedis
	}
	if v := getenv("PATHWISE_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := getenv("PATHWISE_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := getenv("PATHWISE_LOG_FORMAT"); v != "" {
		c.Log.Format = v
	}
}

// Validate rejects settings that cannot work.
func (c Config) Validate() error {
	switch c.Lock.Backend {
	case LockBackendLocal:
	case LockBackendRedis:
		if c.Lock.RedisURL == "" {
			return errors.New("config: lock.redis_url is required for the redis backend")
		}
	default:
		return fmt.Errorf("config: unknown lock backend %q", c.Lock.Backend)
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("config: unknown log format %q", c.Log.Format)
	}
	if c.Mastery.Alpha < 0 || c.Mastery.Alpha > 1 {
		return fmt.Errorf("config: mastery.alpha %v outside [0,1]", c.Mastery.Alpha)
	}
	if c.Mastery.Prior < 0 || c.Mastery.Prior > 1 {
		return fmt.Errorf("config: mastery.prior %v outside [0,1]", c.Mastery.Prior)
	}
	return nil
}
