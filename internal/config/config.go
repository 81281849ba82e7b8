// Package config provides configuration loading and validation for the
// forwarding engine.
//
// Configuration is loaded with the following priority (highest to lowest):
//  1. Command-line flags (not handled here, see cmd/fwdcore/main.go)
//  2. Environment variables (FWDCORE_* prefix)
//  3. YAML config file (if specified with --config)
//  4. Hardcoded defaults
//
// Environment variables are mapped from FWDCORE_CATEGORY_SETTING format,
// e.g., FWDCORE_SERVER_LISTEN maps to server.listen in YAML.
//
// All configuration is validated during Load() to ensure correctness early.
package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// initConfig sets up the config loader with defaults, env binding, and config file.
func initConfig(configPath string) (*viper.Viper, error) {
	v := viper.New()

	setDefaults(v)

	// Uses FWDCORE_ prefix: FWDCORE_SERVER_LISTEN -> server.listen
	v.SetEnvPrefix("FWDCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	return v, nil
}

// setDefaults configures all default values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.listen", "0.0.0.0:53")
	v.SetDefault("server.tap_device", "")
	v.SetDefault("server.workers", "auto")
	v.SetDefault("server.fwd_workers", 2)

	// Forwarding defaults
	v.SetDefault("forwarding.mode", "cache")
	v.SetDefault("forwarding.timeout_ms", 2000)
	v.SetDefault("forwarding.default_upstreams", "8.8.8.8,8.8.4.4")
	v.SetDefault("forwarding.zone_upstreams", "")

	// Ring sizing, per FWD_RING_SIZE / FWD_HASH_SIZE / FWD_LOCK_SIZE.
	v.SetDefault("ring.query_size", 65536)
	v.SetDefault("ring.expired_size", 65536)
	v.SetDefault("ring.response_size", 65536)
	v.SetDefault("ring.hash_size", 0x3FFFF)
	v.SetDefault("ring.lock_size", 0xF)

	// Cache defaults: flat 60s TTL, 10s expiring window, 600s salvage window.
	v.SetDefault("cache.ttl_seconds", 60)
	v.SetDefault("cache.expiring_seconds", 10)
	v.SetDefault("cache.salvage_seconds", 600)
	v.SetDefault("cache.stripes", 15)
	v.SetDefault("cache.sweep_interval_secs", 1)

	// Logging defaults
	v.SetDefault("logging.level", "INFO")
	v.SetDefault("logging.structured", false)
	v.SetDefault("logging.structured_format", "json")
	v.SetDefault("logging.include_pid", false)
	v.SetDefault("logging.extra_fields", map[string]string{})

	// Rate limiting defaults (ALL/FWD token-bucket classes)
	v.SetDefault("rate_limit.cleanup_seconds", 60.0)
	v.SetDefault("rate_limit.all_qps", 100000.0)
	v.SetDefault("rate_limit.all_burst", 100000)
	v.SetDefault("rate_limit.fwd_qps", 50000.0)
	v.SetDefault("rate_limit.fwd_burst", 50000)

	// Management API defaults. Disabled and bound to localhost by default.
	v.SetDefault("api.enabled", false)
	v.SetDefault("api.host", "127.0.0.1")
	v.SetDefault("api.port", 8080)
	v.SetDefault("api.api_key", "")
}

// loadFromSource loads configuration from file and environment.
func loadFromSource(configPath string) (*Config, error) {
	v, err := initConfig(configPath)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}

	loadServerConfig(v, cfg)
	loadForwardingConfig(v, cfg)
	loadRingConfig(v, cfg)
	loadCacheConfig(v, cfg)
	loadLoggingConfig(v, cfg)
	loadAPIConfig(v, cfg)
	loadRateLimitConfig(v, cfg)

	if err := normalizeConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func loadServerConfig(v *viper.Viper, cfg *Config) {
	cfg.Server.Listen = v.GetString("server.listen")
	cfg.Server.TapDevice = v.GetString("server.tap_device")
	cfg.Server.FwdWorkers = v.GetInt("server.fwd_workers")
	cfg.Server.WorkersRaw = v.GetString("server.workers")
	cfg.Server.Workers = parseWorkers(cfg.Server.WorkersRaw)
}

func loadForwardingConfig(v *viper.Viper, cfg *Config) {
	cfg.Forwarding.ModeRaw = v.GetString("forwarding.mode")
	cfg.Forwarding.Mode = ParseForwardingMode(cfg.Forwarding.ModeRaw)
	cfg.Forwarding.TimeoutMs = v.GetInt("forwarding.timeout_ms")
	cfg.Forwarding.DefaultUpstreams = v.GetString("forwarding.default_upstreams")
	cfg.Forwarding.ZoneUpstreams = v.GetString("forwarding.zone_upstreams")
}

func loadRingConfig(v *viper.Viper, cfg *Config) {
	cfg.Ring.QuerySize = v.GetInt("ring.query_size")
	cfg.Ring.ExpiredSize = v.GetInt("ring.expired_size")
	cfg.Ring.ResponseSize = v.GetInt("ring.response_size")
	cfg.Ring.HashSize = v.GetInt("ring.hash_size")
	cfg.Ring.LockSize = v.GetInt("ring.lock_size")
}

func loadCacheConfig(v *viper.Viper, cfg *Config) {
	cfg.Cache.TTLSeconds = v.GetInt("cache.ttl_seconds")
	cfg.Cache.ExpiringSeconds = v.GetInt("cache.expiring_seconds")
	cfg.Cache.SalvageSeconds = v.GetInt("cache.salvage_seconds")
	cfg.Cache.Stripes = v.GetInt("cache.stripes")
	cfg.Cache.SweepIntervalSecs = v.GetInt("cache.sweep_interval_secs")
}

func loadLoggingConfig(v *viper.Viper, cfg *Config) {
	cfg.Logging.Level = strings.ToUpper(v.GetString("logging.level"))
	cfg.Logging.Structured = v.GetBool("logging.structured")
	cfg.Logging.StructuredFormat = v.GetString("logging.structured_format")
	cfg.Logging.IncludePID = v.GetBool("logging.include_pid")
	cfg.Logging.ExtraFields = v.GetStringMapString("logging.extra_fields")
}

func loadAPIConfig(v *viper.Viper, cfg *Config) {
	cfg.API.Enabled = v.GetBool("api.enabled")
	cfg.API.Host = v.GetString("api.host")
	cfg.API.Port = v.GetInt("api.port")
	cfg.API.APIKey = v.GetString("api.api_key")
}

func loadRateLimitConfig(v *viper.Viper, cfg *Config) {
	cfg.RateLimit.CleanupSeconds = v.GetFloat64("rate_limit.cleanup_seconds")
	cfg.RateLimit.AllQPS = v.GetFloat64("rate_limit.all_qps")
	cfg.RateLimit.AllBurst = v.GetInt("rate_limit.all_burst")
	cfg.RateLimit.FwdQPS = v.GetFloat64("rate_limit.fwd_qps")
	cfg.RateLimit.FwdBurst = v.GetInt("rate_limit.fwd_burst")
}

// parseWorkers converts the workers string to WorkerSetting.
func parseWorkers(raw string) WorkerSetting {
	raw = strings.TrimSpace(strings.ToLower(raw))
	if raw == "" || raw == "auto" {
		return WorkerSetting{Mode: WorkersAuto}
	}
	if n, err := strconv.Atoi(raw); err == nil && n > 0 {
		return WorkerSetting{Mode: WorkersFixed, Value: n}
	}
	return WorkerSetting{Mode: WorkersAuto}
}

// normalizeConfig validates and normalizes the configuration.
func normalizeConfig(cfg *Config) error {
	if cfg.Server.Listen == "" {
		return errors.New("server.listen must be set")
	}
	if cfg.Server.FwdWorkers <= 0 {
		cfg.Server.FwdWorkers = 1
	}

	if cfg.Forwarding.TimeoutMs <= 0 {
		cfg.Forwarding.TimeoutMs = 2000
	}
	if strings.TrimSpace(cfg.Forwarding.DefaultUpstreams) == "" &&
		cfg.Forwarding.Mode != ForwardingDisabled {
		return errors.New("forwarding.default_upstreams must be set when forwarding.mode is not disable")
	}

	if cfg.Ring.QuerySize <= 0 {
		cfg.Ring.QuerySize = 65536
	}
	if cfg.Ring.ExpiredSize <= 0 {
		cfg.Ring.ExpiredSize = 65536
	}
	if cfg.Ring.ResponseSize <= 0 {
		cfg.Ring.ResponseSize = 65536
	}
	if cfg.Ring.HashSize <= 0 {
		cfg.Ring.HashSize = 0x3FFFF
	}
	if cfg.Ring.LockSize <= 0 {
		cfg.Ring.LockSize = 0xF
	}

	if cfg.Cache.TTLSeconds <= 0 {
		cfg.Cache.TTLSeconds = 60
	}
	if cfg.Cache.ExpiringSeconds <= 0 {
		cfg.Cache.ExpiringSeconds = 10
	}
	if cfg.Cache.SalvageSeconds <= 0 {
		cfg.Cache.SalvageSeconds = 600
	}
	if cfg.Cache.Stripes <= 0 {
		cfg.Cache.Stripes = 15
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "INFO"
	}
	if cfg.Logging.StructuredFormat == "" {
		cfg.Logging.StructuredFormat = "json"
	}
	if cfg.Logging.ExtraFields == nil {
		cfg.Logging.ExtraFields = map[string]string{}
	}

	if cfg.API.Host == "" {
		cfg.API.Host = "127.0.0.1"
	}
	if cfg.API.Enabled {
		if cfg.API.Port <= 0 || cfg.API.Port > 65535 {
			return errors.New("api.port must be 1..65535")
		}
	}

	return nil
}
