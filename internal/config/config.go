/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// StoreBackend selects where queue, library and settings are persisted.
type StoreBackend string

const (
	StoreMemory   StoreBackend = "memory"
	StoreSQLite   StoreBackend = "sqlite"
	StorePostgres StoreBackend = "postgres"
	StoreMySQL    StoreBackend = "mysql"
	StoreRedis    StoreBackend = "redis"
	StoreBolt     StoreBackend = "bolt"
)

// RelayKind selects the message channel implementation.
type RelayKind string

const (
	RelayWebSocket RelayKind = "websocket"
	RelayNATS      RelayKind = "nats"
	RelayRedis     RelayKind = "redis"
)

// Config covers process level configuration read from a YAML file and environment variables.
type Config struct {
	Environment string `yaml:"environment"`
	LogLevel    string `yaml:"log_level"`

	// Collaborators
	RegistryURL string        `yaml:"registry_url"` // Room registry base URL (POST /create-room, GET /room/{id})
	RelayKind   RelayKind     `yaml:"relay_kind"`
	RelayURL    string        `yaml:"relay_url"` // WebSocket base, e.g. ws://localhost:8000
	NATSURL     string        `yaml:"nats_url"`
	NATSPrefix  string        `yaml:"nats_prefix"`
	ResolverURL string        `yaml:"resolver_url"`
	ResolverTTL time.Duration `yaml:"resolver_ttl"`

	// Persistence
	StoreBackend  StoreBackend `yaml:"store_backend"`
	StoreDSN      string       `yaml:"store_dsn"` // sqlite/postgres/mysql DSN or bolt file path
	RedisAddr     string       `yaml:"redis_addr"`
	RedisPassword string       `yaml:"redis_password"`
	RedisDB       int          `yaml:"redis_db"`
	RedisPrefix   string       `yaml:"redis_prefix"`

	// Playback
	StartTimeout   time.Duration `yaml:"start_timeout"`
	StallTimeout   time.Duration `yaml:"stall_timeout"`
	SkipDelay      time.Duration `yaml:"skip_delay"`
	RecentsLimit   int           `yaml:"recents_limit"`
	DriftThreshold float64       `yaml:"drift_threshold"` // seconds

	// Session
	CreateRoomTimeout time.Duration `yaml:"create_room_timeout"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	ReconnectDelay    time.Duration `yaml:"reconnect_delay"`
	ReconnectAttempts int           `yaml:"reconnect_attempts"`
	SyncGuardHold     time.Duration `yaml:"sync_guard_hold"`

	// Status server (chi router with /metrics, /healthz, /status). Empty disables it.
	StatusBind string `yaml:"status_bind"`

	// Tracing configuration
	TracingEnabled    bool    `yaml:"tracing_enabled"`
	OTLPEndpoint      string  `yaml:"otlp_endpoint"`
	TracingSampleRate float64 `yaml:"tracing_sample_rate"`

	// Path of the YAML file the values were overlaid from, if any.
	File string `yaml:"-"`
}

func defaults() Config {
	return Config{
		Environment:       "development",
		LogLevel:          "",
		RegistryURL:       "http://localhost:8000",
		RelayKind:         RelayWebSocket,
		RelayURL:          "ws://localhost:8000",
		NATSURL:           "nats://127.0.0.1:4222",
		NATSPrefix:        "melodrift.rooms",
		ResolverURL:       "http://localhost:8000",
		ResolverTTL:       time.Hour,
		StoreBackend:      StoreMemory,
		RedisAddr:         "localhost:6379",
		RedisPrefix:       "melodrift:",
		StartTimeout:      10 * time.Second,
		StallTimeout:      15 * time.Second,
		SkipDelay:         2 * time.Second,
		RecentsLimit:      20,
		DriftThreshold:    2,
		CreateRoomTimeout: 10 * time.Second,
		HeartbeatInterval: 30 * time.Second,
		ReconnectDelay:    2 * time.Second,
		ReconnectAttempts: 3,
		SyncGuardHold:     100 * time.Millisecond,
		OTLPEndpoint:      "localhost:4317",
		TracingSampleRate: 1.0,
	}
}

// Load reads the optional YAML file named by MELODRIFT_CONFIG, applies
// environment overrides, and validates the result.
func Load() (*Config, error) {
	base := defaults()
	if path := getEnv("MELODRIFT_CONFIG", ""); path != "" {
		if err := loadFile(path, &base); err != nil {
			return nil, err
		}
		base.File = path
	}

	cfg := &Config{
		Environment: getEnvAny([]string{"MELODRIFT_ENV", "ENV"}, base.Environment),
		LogLevel:    getEnv("MELODRIFT_LOG_LEVEL", base.LogLevel),

		RegistryURL: getEnv("MELODRIFT_REGISTRY_URL", base.RegistryURL),
		RelayKind:   RelayKind(getEnv("MELODRIFT_RELAY", string(base.RelayKind))),
		RelayURL:    getEnv("MELODRIFT_RELAY_URL", base.RelayURL),
		NATSURL:     getEnvAny([]string{"MELODRIFT_NATS_URL", "NATS_URL"}, base.NATSURL),
		NATSPrefix:  getEnv("MELODRIFT_NATS_PREFIX", base.NATSPrefix),
		ResolverURL: getEnv("MELODRIFT_RESOLVER_URL", base.ResolverURL),
		ResolverTTL: getEnvDuration("MELODRIFT_RESOLVER_TTL", base.ResolverTTL),

		StoreBackend:  StoreBackend(getEnv("MELODRIFT_STORE_BACKEND", string(base.StoreBackend))),
		StoreDSN:      getEnv("MELODRIFT_STORE_DSN", base.StoreDSN),
		RedisAddr:     getEnvAny([]string{"MELODRIFT_REDIS_ADDR", "REDIS_ADDR"}, base.RedisAddr),
		RedisPassword: getEnvAny([]string{"MELODRIFT_REDIS_PASSWORD", "REDIS_PASSWORD"}, base.RedisPassword),
		RedisDB:       getEnvIntAny([]string{"MELODRIFT_REDIS_DB", "REDIS_DB"}, base.RedisDB),
		RedisPrefix:   getEnv("MELODRIFT_REDIS_PREFIX", base.RedisPrefix),

		StartTimeout:   getEnvDuration("MELODRIFT_START_TIMEOUT", base.StartTimeout),
		StallTimeout:   getEnvDuration("MELODRIFT_STALL_TIMEOUT", base.StallTimeout),
		SkipDelay:      getEnvDuration("MELODRIFT_SKIP_DELAY", base.SkipDelay),
		RecentsLimit:   getEnvIntAny([]string{"MELODRIFT_RECENTS_LIMIT"}, base.RecentsLimit),
		DriftThreshold: getEnvFloatAny([]string{"MELODRIFT_DRIFT_THRESHOLD"}, base.DriftThreshold),

		CreateRoomTimeout: getEnvDuration("MELODRIFT_CREATE_ROOM_TIMEOUT", base.CreateRoomTimeout),
		HeartbeatInterval: getEnvDuration("MELODRIFT_HEARTBEAT_INTERVAL", base.HeartbeatInterval),
		ReconnectDelay:    getEnvDuration("MELODRIFT_RECONNECT_DELAY", base.ReconnectDelay),
		ReconnectAttempts: getEnvIntAny([]string{"MELODRIFT_RECONNECT_ATTEMPTS"}, base.ReconnectAttempts),
		SyncGuardHold:     getEnvDuration("MELODRIFT_SYNC_GUARD_HOLD", base.SyncGuardHold),

		StatusBind: getEnv("MELODRIFT_STATUS_BIND", base.StatusBind),

		TracingEnabled:    getEnvBoolAny([]string{"MELODRIFT_TRACING_ENABLED", "TRACING_ENABLED"}, base.TracingEnabled),
		OTLPEndpoint:      getEnvAny([]string{"MELODRIFT_OTLP_ENDPOINT", "OTEL_EXPORTER_OTLP_ENDPOINT"}, base.OTLPEndpoint),
		TracingSampleRate: getEnvFloatAny([]string{"MELODRIFT_TRACING_SAMPLE_RATE"}, base.TracingSampleRate),

		File: base.File,
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.StoreBackend {
	case StoreMemory, StoreRedis:
	case StoreSQLite, StorePostgres, StoreMySQL, StoreBolt:
		if c.StoreDSN == "" {
			return fmt.Errorf("MELODRIFT_STORE_DSN must be provided for store backend %q", c.StoreBackend)
		}
	default:
		return fmt.Errorf("unsupported store backend %q", c.StoreBackend)
	}

	switch c.RelayKind {
	case RelayWebSocket:
		if c.RelayURL == "" {
			return fmt.Errorf("MELODRIFT_RELAY_URL must be provided for the websocket relay")
		}
	case RelayNATS:
		if c.NATSURL == "" {
			return fmt.Errorf("MELODRIFT_NATS_URL must be provided for the nats relay")
		}
	case RelayRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("MELODRIFT_REDIS_ADDR must be provided for the redis relay")
		}
	default:
		return fmt.Errorf("unsupported relay %q", c.RelayKind)
	}

	if c.RegistryURL == "" {
		return fmt.Errorf("MELODRIFT_REGISTRY_URL must be provided")
	}
	if c.ReconnectAttempts < 0 {
		return fmt.Errorf("reconnect attempts must not be negative, got %d", c.ReconnectAttempts)
	}
	if c.DriftThreshold <= 0 {
		return fmt.Errorf("drift threshold must be positive, got %v", c.DriftThreshold)
	}
	if c.RecentsLimit <= 0 {
		return fmt.Errorf("recents limit must be positive, got %d", c.RecentsLimit)
	}
	for name, d := range map[string]time.Duration{
		"start timeout":       c.StartTimeout,
		"stall timeout":       c.StallTimeout,
		"create room timeout": c.CreateRoomTimeout,
		"heartbeat interval":  c.HeartbeatInterval,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}
	return nil
}

// IsDevelopment reports whether the process runs with development defaults.
func (c *Config) IsDevelopment() bool {
	return strings.EqualFold(c.Environment, "development")
}

func loadFile(path string, into *Config) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(raw, into); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

// getEnvDuration parses a Go duration string ("10s", "1500ms"); bare integers are read as milliseconds.
func getEnvDuration(key string, def time.Duration) time.Duration {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return def
	}
	if ms, err := strconv.Atoi(val); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	if parsed, err := time.ParseDuration(val); err == nil {
		return parsed
	}
	return def
}

// getEnvAny returns the first non-empty environment variable value from keys, or def if none set.
func getEnvAny(keys []string, def string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return def
}

// getEnvIntAny returns the first set integer environment variable value from keys, or def.
func getEnvIntAny(keys []string, def int) int {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				return parsed
			}
		}
	}
	return def
}

// getEnvBoolAny returns the first set boolean environment variable value from keys, or def.
func getEnvBoolAny(keys []string, def bool) bool {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			v = strings.ToLower(strings.TrimSpace(v))
			if v == "true" || v == "1" || v == "yes" {
				return true
			}
			if v == "false" || v == "0" || v == "no" {
				return false
			}
		}
	}
	return def
}

// getEnvFloatAny returns the first set float environment variable value from keys, or def.
func getEnvFloatAny(keys []string, def float64) float64 {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.ParseFloat(v, 64); err == nil {
				return parsed
			}
		}
	}
	return def
}
