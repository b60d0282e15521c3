// Package config resolves runtime settings from the environment with an
// optional YAML file fallback.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every runtime setting for the battle engine server.
type Config struct {
	Port        string
	DatabaseURL string
	RedisURL    string

	// RedisCacheTTL bounds how stale cached battles and leaderboards may get.
	RedisCacheTTL time.Duration

	// ScanInterval is how often the sweeper looks for expired battles.
	ScanInterval time.Duration

	// RateAPIBase is the currency rate endpoint. Empty selects the public
	// CoinGecko API, "static" selects the builtin USD-only table for
	// offline operation, and any other value is used as the base URL.
	RateAPIBase  string
	RateCacheTTL time.Duration

	// Moderators may cancel any battle regardless of who created it.
	Moderators []string

	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	RequestTimeout time.Duration

	LogLevel string
}

// Load resolves the configuration. Every setting is read from the
// environment first; keys absent there fall back to the YAML file named by
// CONFIG_FILE (or ./config.yaml when one exists). The file uses the same
// keys as the environment.
func Load() (Config, error) {
	file, err := loadFile()
	if err != nil {
		return Config{}, err
	}
	r := resolver{file: file}

	redisTTL, err := r.duration("REDIS_CACHE_TTL", 30*time.Second)
	if err != nil {
		return Config{}, err
	}
	scanInterval, err := r.duration("SCAN_INTERVAL", 30*time.Second)
	if err != nil {
		return Config{}, err
	}
	rateTTL, err := r.duration("RATE_CACHE_TTL", 5*time.Minute)
	if err != nil {
		return Config{}, err
	}
	readTimeout, err := r.duration("READ_TIMEOUT", 10*time.Second)
	if err != nil {
		return Config{}, err
	}
	writeTimeout, err := r.duration("WRITE_TIMEOUT", 10*time.Second)
	if err != nil {
		return Config{}, err
	}
	idleTimeout, err := r.duration("IDLE_TIMEOUT", 60*time.Second)
	if err != nil {
		return Config{}, err
	}
	requestTimeout, err := r.duration("REQUEST_TIMEOUT", 30*time.Second)
	if err != nil {
		return Config{}, err
	}

	return Config{
		Port:           r.stringOr("PORT", "8080"),
		DatabaseURL:    r.stringOr("DATABASE_URL", ""),
		RedisURL:       r.stringOr("REDIS_URL", ""),
		RedisCacheTTL:  redisTTL,
		ScanInterval:   scanInterval,
		RateAPIBase:    r.stringOr("RATE_API_BASE", ""),
		RateCacheTTL:   rateTTL,
		Moderators:     r.csv("MODERATORS"),
		ReadTimeout:    readTimeout,
		WriteTimeout:   writeTimeout,
		IdleTimeout:    idleTimeout,
		RequestTimeout: requestTimeout,
		LogLevel:       r.stringOr("LOG_LEVEL", "info"),
	}, nil
}

// SlogLevel maps the configured level name to a slog level, defaulting to
// info for anything unrecognized.
func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(strings.TrimSpace(c.LogLevel)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// resolver answers key lookups, environment first, then the config file.
type resolver struct {
	file map[string]string
}

func (r resolver) value(key string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return strings.TrimSpace(r.file[key])
}

func (r resolver) stringOr(key, fallback string) string {
	if v := r.value(key); v != "" {
		return v
	}
	return fallback
}

func (r resolver) duration(key string, fallback time.Duration) (time.Duration, error) {
	raw := r.value(key)
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s: must be > 0", key)
	}
	return d, nil
}

func (r resolver) csv(key string) []string {
	raw := r.value(key)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if v := strings.TrimSpace(part); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// loadFile reads the optional YAML config file into flat key/value pairs.
// A missing default file is fine; a missing explicit CONFIG_FILE is an
// error so a typo never silently drops settings.
func loadFile() (map[string]string, error) {
	path := strings.TrimSpace(os.Getenv("CONFIG_FILE"))
	explicit := path != ""
	if path == "" {
		path = "config.yaml"
	}

	body, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !explicit {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("read config file %q: %w", path, err)
	}

	raw := make(map[string]any)
	if err := yaml.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("parse config file %q: %w", path, err)
	}

	out := make(map[string]string, len(raw))
	for key, value := range raw {
		name := strings.ToUpper(strings.TrimSpace(key))
		if name == "" {
			continue
		}
		switch v := value.(type) {
		case nil:
		case map[string]any:
			return nil, fmt.Errorf("config file %q: nested key %q is not supported", path, key)
		case []any:
			parts := make([]string, 0, len(v))
			for _, item := range v {
				parts = append(parts, strings.TrimSpace(fmt.Sprint(item)))
			}
			out[name] = strings.Join(parts, ",")
		default:
			out[name] = fmt.Sprint(v)
		}
	}
	return out, nil
}
