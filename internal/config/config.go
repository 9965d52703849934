// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for kbtasks.
//
// Supports both TOML and JSON configuration formats, with sensible defaults,
// environment variable overrides, and validation.
//
// Configuration file locations (in order of precedence):
//   - $KBTASKS_HOME/config.toml (default ~/.kbtasks)
//   - $KBTASKS_HOME/config.json
//   - Built-in defaults
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/jeranaias/kbtasks/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete kbtasks configuration.
type Config struct {
	Engine  EngineConfig  `toml:"engine" json:"engine"`
	Storage StorageConfig `toml:"storage" json:"storage"`
	Remote  RemoteConfig  `toml:"remote" json:"remote"`
	Server  ServerConfig  `toml:"server" json:"server"`
	Events  EventsConfig  `toml:"events" json:"events"`
}

// EngineConfig holds the scheduler tunables. Retention and retry settings
// are applied to a running engine on reload.
type EngineConfig struct {
	// RetentionCap is the number of finished tasks kept (0 disables eviction)
	RetentionCap int `toml:"retention_cap" json:"retention_cap"`
	// MaxRetries is the number of retries after the first attempt
	MaxRetries int `toml:"max_retries" json:"max_retries"`
	// RetryBaseDelayMs is the delay before the first retry
	RetryBaseDelayMs int `toml:"retry_base_delay_ms" json:"retry_base_delay_ms"`
	// RetryBackoffFactor multiplies the delay for each further retry
	RetryBackoffFactor float64 `toml:"retry_backoff_factor" json:"retry_backoff_factor"`

	PollInitialMs    int     `toml:"poll_initial_ms" json:"poll_initial_ms"`
	PollMaxMs        int     `toml:"poll_max_ms" json:"poll_max_ms"`
	PollGrowthFactor float64 `toml:"poll_growth_factor" json:"poll_growth_factor"`
	PollJitterFactor float64 `toml:"poll_jitter_factor" json:"poll_jitter_factor"`

	// ReconcileTimeoutSecs bounds each status check made at startup
	ReconcileTimeoutSecs int `toml:"reconcile_timeout_secs" json:"reconcile_timeout_secs"`
}

// StorageConfig selects where the task list is persisted.
type StorageConfig struct {
	// Backend is one of "file", "sqlite", "redis"
	Backend string `toml:"backend" json:"backend"`
	// Path is the file or database path (empty = inside the config directory)
	Path string `toml:"path" json:"path"`
	// Key is the storage key for sqlite and redis
	Key           string `toml:"key" json:"key"`
	RedisAddr     string `toml:"redis_addr" json:"redis_addr"`
	RedisPassword string `toml:"redis_password" json:"redis_password"`
	RedisDB       int    `toml:"redis_db" json:"redis_db"`
}

// RemoteConfig points at the embedding and crawler services.
type RemoteConfig struct {
	EmbeddingURL string `toml:"embedding_url" json:"embedding_url"`
	CrawlerURL   string `toml:"crawler_url" json:"crawler_url"`
	// OperatorID is used for tasks created without one
	OperatorID string `toml:"operator_id" json:"operator_id"`
	// APIKey is sent as a bearer token when set
	APIKey            string  `toml:"api_key" json:"api_key"`
	TimeoutSecs       int     `toml:"timeout_secs" json:"timeout_secs"`
	RequestsPerSecond float64 `toml:"requests_per_second" json:"requests_per_second"`
	Burst             int     `toml:"burst" json:"burst"`
}

// ServerConfig configures the control API.
type ServerConfig struct {
	Addr           string `toml:"addr" json:"addr"`
	MetricsEnabled bool   `toml:"metrics_enabled" json:"metrics_enabled"`
	// AuthToken, when set, is required as a bearer token on /api routes
	AuthToken string `toml:"auth_token" json:"auth_token"`
}

// EventsConfig configures status-change publishing. Empty values disable a sink.
type EventsConfig struct {
	RedisChannel string `toml:"redis_channel" json:"redis_channel"`
	AMQPURL      string `toml:"amqp_url" json:"amqp_url"`
	AMQPExchange string `toml:"amqp_exchange" json:"amqp_exchange"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Engine: EngineConfig{
			RetentionCap:         50,
			MaxRetries:           3,
			RetryBaseDelayMs:     2000,
			RetryBackoffFactor:   2,
			PollInitialMs:        2000,
			PollMaxMs:            30000,
			PollGrowthFactor:     1.5,
			PollJitterFactor:     0.2,
			ReconcileTimeoutSecs: 10,
		},
		Storage: StorageConfig{
			Backend:   "file",
			Key:       "kbtasks:tasks",
			RedisAddr: "localhost:6379",
		},
		Remote: RemoteConfig{
			EmbeddingURL:      "http://localhost:3000/api",
			CrawlerURL:        "http://localhost:8000",
			TimeoutSecs:       30,
			RequestsPerSecond: 5,
			Burst:             10,
		},
		Server: ServerConfig{
			Addr:           "127.0.0.1:8090",
			MetricsEnabled: true,
		},
		Events: EventsConfig{
			AMQPExchange: "kbtasks.events",
		},
	}
}

// RetryBaseDelay returns the retry base delay as a duration.
func (e EngineConfig) RetryBaseDelay() time.Duration {
	return time.Duration(e.RetryBaseDelayMs) * time.Millisecond
}

// PollInitial returns the first poll interval.
func (e EngineConfig) PollInitial() time.Duration {
	return time.Duration(e.PollInitialMs) * time.Millisecond
}

// PollMax returns the poll interval cap.
func (e EngineConfig) PollMax() time.Duration {
	return time.Duration(e.PollMaxMs) * time.Millisecond
}

// ReconcileTimeout returns the per-task reconciliation timeout.
func (e EngineConfig) ReconcileTimeout() time.Duration {
	return time.Duration(e.ReconcileTimeoutSecs) * time.Second
}

// Timeout returns the HTTP timeout for remote calls.
func (r RemoteConfig) Timeout() time.Duration {
	return time.Duration(r.TimeoutSecs) * time.Second
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the kbtasks configuration directory path.
// KBTASKS_HOME overrides the default ~/.kbtasks.
func ConfigDir() (string, error) {
	if dir := os.Getenv("KBTASKS_HOME"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".kbtasks"), nil
}

// ConfigPathTOML returns the path to the TOML config file.
func ConfigPathTOML() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// ConfigPathJSON returns the path to the JSON config file.
func ConfigPathJSON() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// StoragePath returns the storage path, resolving an empty path to a
// backend-specific file inside the config directory.
func (c *Config) StoragePath() (string, error) {
	if c.Storage.Path != "" {
		return c.Storage.Path, nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	if c.Storage.Backend == "sqlite" {
		return filepath.Join(dir, "kbtasks.db"), nil
	}
	return filepath.Join(dir, "tasks.json"), nil
}

// ensureSecurePermissions checks and fixes permissions on config files.
// SECURITY: Config files may hold API keys and should be 0600.
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if mode := info.Mode().Perm(); mode != 0600 {
		if err := os.Chmod(path, 0600); err != nil {
			return fmt.Errorf("failed to fix insecure permissions (was %o): %w", mode, err)
		}
	}
	return nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load loads configuration from the config file(s).
// Tries TOML first, then JSON, and falls back to defaults.
// Environment overrides are applied last.
func Load() (*Config, error) {
	tomlPath, err := ConfigPathTOML()
	if err == nil {
		if _, statErr := os.Stat(tomlPath); statErr == nil {
			return LoadFromPath(tomlPath)
		}
	}

	jsonPath, err := ConfigPathJSON()
	if err == nil {
		if _, statErr := os.Stat(jsonPath); statErr == nil {
			return LoadFromPath(jsonPath)
		}
	}

	cfg := Default()
	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadTOML decodes a TOML file over cfg. Keys absent from the file keep
// their current values.
func LoadTOML(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		fmt.Fprintf(os.Stderr, "Warning: unknown config keys in %s: %v\n", path, undecoded)
	}
	return fillDefaults(cfg)
}

// LoadJSON decodes a JSON file over cfg.
func LoadJSON(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read JSON file: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to decode JSON file: %w", err)
	}
	return fillDefaults(cfg)
}

// LoadFromPath loads configuration from a specific file path with full validation.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()

	if strings.HasSuffix(path, ".json") {
		if err := LoadJSON(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load JSON config from %s: %w", path, err)
		}
	} else {
		if err := LoadTOML(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load TOML config from %s: %w", path, err)
		}
	}

	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// fillDefaults fills in values that must never be empty.
// Numeric tunables are left alone so an explicit zero survives.
func fillDefaults(cfg *Config) error {
	defaults := Default()

	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = defaults.Storage.Backend
	}
	if cfg.Storage.Key == "" {
		cfg.Storage.Key = defaults.Storage.Key
	}
	if cfg.Storage.RedisAddr == "" {
		cfg.Storage.RedisAddr = defaults.Storage.RedisAddr
	}
	if cfg.Remote.EmbeddingURL == "" {
		cfg.Remote.EmbeddingURL = defaults.Remote.EmbeddingURL
	}
	if cfg.Remote.CrawlerURL == "" {
		cfg.Remote.CrawlerURL = defaults.Remote.CrawlerURL
	}
	if cfg.Remote.TimeoutSecs == 0 {
		cfg.Remote.TimeoutSecs = defaults.Remote.TimeoutSecs
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = defaults.Server.Addr
	}
	if cfg.Engine.ReconcileTimeoutSecs == 0 {
		cfg.Engine.ReconcileTimeoutSecs = defaults.Engine.ReconcileTimeoutSecs
	}
	return nil
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Save saves the configuration to the default TOML file.
func Save(cfg *Config) error {
	path, err := ConfigPathTOML()
	if err != nil {
		return err
	}
	return SaveTOML(cfg, path)
}

// SaveTOML saves the configuration to a TOML file.
// RELIABILITY: Atomic write with fsync prevents a torn config on crash.
// SECURITY: Written with 0600 permissions.
func SaveTOML(cfg *Config, path string) error {
	var buf bytes.Buffer
	buf.WriteString("# kbtasks configuration file\n")
	buf.WriteString("# Generated by kbtasks - edit with care\n\n")

	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFile(path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// SaveToPath writes cfg in the format LoadFromPath reads from path.
func SaveToPath(cfg *Config, path string) error {
	if strings.HasSuffix(path, ".json") {
		return SaveJSON(cfg, path)
	}
	return SaveTOML(cfg, path)
}

// SaveJSON saves the configuration to a JSON file.
func SaveJSON(cfg *Config, path string) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	var errs ValidateErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	// ==========================================================================
	// Engine
	// ==========================================================================

	e := c.Engine
	if e.RetentionCap < 0 {
		add("engine.retention_cap", "cannot be negative")
	}
	if e.MaxRetries < 0 || e.MaxRetries > 20 {
		add("engine.max_retries", "must be between 0 and 20, got %d", e.MaxRetries)
	}
	if e.RetryBaseDelayMs < 0 {
		add("engine.retry_base_delay_ms", "cannot be negative")
	}
	if e.RetryBackoffFactor < 1 {
		add("engine.retry_backoff_factor", "must be at least 1, got %g", e.RetryBackoffFactor)
	}
	if e.PollInitialMs <= 0 {
		add("engine.poll_initial_ms", "must be positive")
	}
	if e.PollMaxMs < e.PollInitialMs {
		add("engine.poll_max_ms", "must be at least poll_initial_ms (%d)", e.PollInitialMs)
	}
	if e.PollGrowthFactor < 1 {
		add("engine.poll_growth_factor", "must be at least 1, got %g", e.PollGrowthFactor)
	}
	if e.PollJitterFactor < 0 || e.PollJitterFactor > 1 {
		add("engine.poll_jitter_factor", "must be between 0 and 1, got %g", e.PollJitterFactor)
	}
	if e.ReconcileTimeoutSecs <= 0 {
		add("engine.reconcile_timeout_secs", "must be positive")
	}

	// ==========================================================================
	// Storage
	// ==========================================================================

	switch c.Storage.Backend {
	case "file", "sqlite", "redis":
	default:
		add("storage.backend", "invalid backend '%s', must be one of: file, sqlite, redis", c.Storage.Backend)
	}
	if c.Storage.RedisDB < 0 {
		add("storage.redis_db", "cannot be negative")
	}

	// ==========================================================================
	// Remote
	// ==========================================================================

	for field, raw := range map[string]string{
		"remote.embedding_url": c.Remote.EmbeddingURL,
		"remote.crawler_url":   c.Remote.CrawlerURL,
	} {
		if err := validateHTTPURL(raw); err != nil {
			add(field, "%v", err)
		}
	}
	if c.Remote.TimeoutSecs <= 0 {
		add("remote.timeout_secs", "must be positive")
	}
	if c.Remote.RequestsPerSecond < 0 {
		add("remote.requests_per_second", "cannot be negative")
	}
	if c.Remote.Burst < 0 {
		add("remote.burst", "cannot be negative")
	}

	// ==========================================================================
	// Events
	// ==========================================================================

	if c.Events.AMQPURL != "" {
		u, err := url.Parse(c.Events.AMQPURL)
		if err != nil || (u.Scheme != "amqp" && u.Scheme != "amqps") {
			add("events.amqp_url", "must be an amqp:// or amqps:// URL")
		}
		if c.Events.AMQPExchange == "" {
			add("events.amqp_exchange", "required when amqp_url is set")
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL: %v", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid URL '%s': scheme must be http or https", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("invalid URL '%s': missing host", raw)
	}
	return nil
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides to the config.
//
// Supported environment variables:
//   - KBTASKS_STORAGE_BACKEND, KBTASKS_STORAGE_PATH, KBTASKS_REDIS_ADDR
//   - KBTASKS_EMBEDDING_URL, KBTASKS_CRAWLER_URL, KBTASKS_OPERATOR_ID, KBTASKS_API_KEY
//   - KBTASKS_ADDR: overrides server.addr
//   - KBTASKS_AUTH_TOKEN: overrides server.auth_token
//   - KBTASKS_MAX_RETRIES, KBTASKS_RETENTION_CAP
//   - KBTASKS_AMQP_URL, KBTASKS_REDIS_CHANNEL
func (c *Config) ApplyEnvOverrides() {
	strs := map[string]*string{
		"KBTASKS_STORAGE_BACKEND": &c.Storage.Backend,
		"KBTASKS_STORAGE_PATH":    &c.Storage.Path,
		"KBTASKS_REDIS_ADDR":      &c.Storage.RedisAddr,
		"KBTASKS_EMBEDDING_URL":   &c.Remote.EmbeddingURL,
		"KBTASKS_CRAWLER_URL":     &c.Remote.CrawlerURL,
		"KBTASKS_OPERATOR_ID":     &c.Remote.OperatorID,
		"KBTASKS_API_KEY":         &c.Remote.APIKey,
		"KBTASKS_ADDR":            &c.Server.Addr,
		"KBTASKS_AUTH_TOKEN":      &c.Server.AuthToken,
		"KBTASKS_AMQP_URL":        &c.Events.AMQPURL,
		"KBTASKS_REDIS_CHANNEL":   &c.Events.RedisChannel,
	}
	for name, dst := range strs {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"KBTASKS_MAX_RETRIES":   &c.Engine.MaxRetries,
		"KBTASKS_RETENTION_CAP": &c.Engine.RetentionCap,
	}
	for name, dst := range ints {
		if v := os.Getenv(name); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			} else {
				fmt.Fprintf(os.Stderr, "Warning: ignoring %s=%q: not an integer\n", name, v)
			}
		}
	}
}

// =============================================================================
// GET/SET HELPERS (DOT NOTATION)
// =============================================================================

// Get retrieves a configuration value using dot notation (e.g., "engine.max_retries").
func (c *Config) Get(key string) (interface{}, error) {
	field, err := c.lookup(key)
	if err != nil {
		return nil, err
	}
	return field.Interface(), nil
}

// Set sets a configuration value using dot notation. String values are
// converted to the field's type.
func (c *Config) Set(key string, value interface{}) error {
	field, err := c.lookup(key)
	if err != nil {
		return err
	}
	if !field.CanSet() {
		return fmt.Errorf("cannot set field: %s", key)
	}
	return setFieldValue(field, value)
}

func (c *Config) lookup(key string) (reflect.Value, error) {
	if key == "" {
		return reflect.Value{}, errors.New("empty key")
	}
	parts := strings.Split(key, ".")

	v := reflect.ValueOf(c).Elem()
	for i, part := range parts {
		fieldName := normalizeFieldName(part)
		field := v.FieldByNameFunc(func(name string) bool {
			return strings.EqualFold(name, fieldName)
		})
		if !field.IsValid() {
			return reflect.Value{}, fmt.Errorf("unknown field: %s", strings.Join(parts[:i+1], "."))
		}
		if i == len(parts)-1 {
			if field.Kind() == reflect.Struct {
				return reflect.Value{}, fmt.Errorf("field '%s' is a section, not a value", key)
			}
			return field, nil
		}
		if field.Kind() != reflect.Struct {
			return reflect.Value{}, fmt.Errorf("field '%s' is not a struct", strings.Join(parts[:i+1], "."))
		}
		v = field
	}
	return reflect.Value{}, fmt.Errorf("invalid key: %s", key)
}

// normalizeFieldName converts a snake_case or kebab-case name to its Go field equivalent.
func normalizeFieldName(name string) string {
	parts := strings.FieldsFunc(name, func(r rune) bool {
		return r == '_' || r == '-'
	})

	var result strings.Builder
	for _, part := range parts {
		if len(part) > 0 {
			result.WriteString(strings.ToUpper(string(part[0])))
			result.WriteString(strings.ToLower(part[1:]))
		}
	}
	return result.String()
}

// setFieldValue sets a reflect.Value from an interface{} value with type conversion.
func setFieldValue(field reflect.Value, value interface{}) error {
	if strVal, ok := value.(string); ok {
		switch field.Kind() {
		case reflect.String:
			field.SetString(strVal)
			return nil
		case reflect.Int, reflect.Int64:
			intVal, err := strconv.ParseInt(strVal, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid integer value: %v", err)
			}
			field.SetInt(intVal)
			return nil
		case reflect.Float64:
			floatVal, err := strconv.ParseFloat(strVal, 64)
			if err != nil {
				return fmt.Errorf("invalid float value: %v", err)
			}
			field.SetFloat(floatVal)
			return nil
		case reflect.Bool:
			lower := strings.ToLower(strVal)
			field.SetBool(strVal == "1" || lower == "true" || lower == "yes")
			return nil
		}
	}

	val := reflect.ValueOf(value)
	if !val.IsValid() {
		return fmt.Errorf("cannot assign nil to %s", field.Type())
	}
	if val.Type().AssignableTo(field.Type()) {
		field.Set(val)
		return nil
	}
	if val.Type().ConvertibleTo(field.Type()) {
		field.Set(val.Convert(field.Type()))
		return nil
	}
	return fmt.Errorf("cannot assign %T to %s", value, field.Type())
}

// Clone creates a copy of the configuration. All fields are values.
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}

// Redacted returns a copy with secrets replaced by "[REDACTED]".
func (c *Config) Redacted() *Config {
	safe := c.Clone()
	if safe.Remote.APIKey != "" {
		safe.Remote.APIKey = "[REDACTED]"
	}
	if safe.Server.AuthToken != "" {
		safe.Server.AuthToken = "[REDACTED]"
	}
	if safe.Storage.RedisPassword != "" {
		safe.Storage.RedisPassword = "[REDACTED]"
	}
	if safe.Events.AMQPURL != "" {
		if u, err := url.Parse(safe.Events.AMQPURL); err == nil && u.User != nil {
			u.User = url.User("[REDACTED]")
			safe.Events.AMQPURL = u.String()
		}
	}
	return safe
}

// String returns the config as TOML with secrets redacted.
func (c *Config) String() string {
	safe := c.Redacted()

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(safe); err != nil {
		return fmt.Sprintf("<config: %v>", err)
	}
	return buf.String()
}
