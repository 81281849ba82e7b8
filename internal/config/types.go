// Package config provides configuration loading for the forwarding engine
// using Viper. Configuration is loaded from YAML files with automatic
// environment variable binding.
//
// Environment variables use the FWDCORE_ prefix and underscore-separated
// keys:
//   - FWDCORE_SERVER_LISTEN -> server.listen
//   - FWDCORE_FORWARDING_MODE -> forwarding.mode
//   - FWDCORE_FORWARDING_DEFAULT_UPSTREAMS -> forwarding.default_upstreams (comma-separated)
//   - FWDCORE_API_ENABLED -> api.enabled
package config

import (
	"os"
	"strconv"
	"strings"
)

// WorkersMode specifies how worker count is determined.
type WorkersMode int

const (
	// WorkersAuto automatically determines worker count based on available CPUs.
	WorkersAuto WorkersMode = iota
	// WorkersFixed uses a specific worker count.
	WorkersFixed
)

// WorkerSetting represents the workers configuration.
type WorkerSetting struct {
	Mode  WorkersMode
	Value int
}

// String returns the string representation of the worker setting.
func (w WorkerSetting) String() string {
	if w.Mode == WorkersAuto {
		return "auto"
	}
	return strconv.Itoa(w.Value)
}

// ForwardingMode selects how the pipeline disposes of queries that miss
// authoritative resolution.
type ForwardingMode int

const (
	// ForwardingDisabled drops queries that fall through to forwarding.
	ForwardingDisabled ForwardingMode = iota
	// ForwardingDirect forwards every query upstream, bypassing the cache.
	ForwardingDirect
	// ForwardingCache forwards through the answer cache.
	ForwardingCache
)

// ParseForwardingMode maps a config string to a ForwardingMode.
func ParseForwardingMode(raw string) ForwardingMode {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "direct":
		return ForwardingDirect
	case "cache":
		return ForwardingCache
	default:
		return ForwardingDisabled
	}
}

// String returns the config-file spelling of the mode.
func (m ForwardingMode) String() string {
	switch m {
	case ForwardingDirect:
		return "direct"
	case ForwardingCache:
		return "cache"
	default:
		return "disable"
	}
}

// ServerConfig contains listener and worker topology settings.
type ServerConfig struct {
	Listen     string        `yaml:"listen"      mapstructure:"listen"`
	TapDevice  string        `yaml:"tap_device"  mapstructure:"tap_device"`
	Workers    WorkerSetting `yaml:"-"           mapstructure:"-"`
	WorkersRaw string        `yaml:"workers"     mapstructure:"workers"`
	FwdWorkers int           `yaml:"fwd_workers" mapstructure:"fwd_workers"`
}

// ForwardingConfig controls the forwarding subsystem's mode, timeout and
// upstream lists.
type ForwardingConfig struct {
	ModeRaw          string `yaml:"mode"              mapstructure:"mode"`
	Mode             ForwardingMode
	TimeoutMs        int    `yaml:"timeout_ms"        mapstructure:"timeout_ms"`
	DefaultUpstreams string `yaml:"default_upstreams" mapstructure:"default_upstreams"`
	ZoneUpstreams    string `yaml:"zone_upstreams"    mapstructure:"zone_upstreams"`
}

// RingConfig sizes the bounded channels standing in for the lock-free
// rings (query ring, expired ring, response ring). HashSize and LockSize
// are loaded and defaulted but no component reads them; the correlation
// table is an unsized Go map.
type RingConfig struct {
	QuerySize    int `yaml:"query_size"    mapstructure:"query_size"`
	ExpiredSize  int `yaml:"expired_size"  mapstructure:"expired_size"`
	ResponseSize int `yaml:"response_size" mapstructure:"response_size"`
	HashSize     int `yaml:"hash_size"     mapstructure:"hash_size"`
	LockSize     int `yaml:"lock_size"     mapstructure:"lock_size"`
}

// CacheConfig controls the answer cache's TTL windows.
type CacheConfig struct {
	TTLSeconds        int `yaml:"ttl_seconds"         mapstructure:"ttl_seconds"`
	ExpiringSeconds   int `yaml:"expiring_seconds"    mapstructure:"expiring_seconds"`
	SalvageSeconds    int `yaml:"salvage_seconds"     mapstructure:"salvage_seconds"`
	Stripes           int `yaml:"stripes"             mapstructure:"stripes"`
	SweepIntervalSecs int `yaml:"sweep_interval_secs" mapstructure:"sweep_interval_secs"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level            string            `yaml:"level"             mapstructure:"level"             json:"level"`
	Structured       bool              `yaml:"structured"        mapstructure:"structured"        json:"structured"`
	StructuredFormat string            `yaml:"structured_format" mapstructure:"structured_format" json:"structured_format"`
	IncludePID       bool              `yaml:"include_pid"       mapstructure:"include_pid"       json:"include_pid"`
	ExtraFields      map[string]string `yaml:"extra_fields"      mapstructure:"extra_fields"      json:"extra_fields,omitempty"`
}

// RateLimitConfig controls the ALL/FWD token-bucket classes.
type RateLimitConfig struct {
	CleanupSeconds float64 `yaml:"cleanup_seconds" mapstructure:"cleanup_seconds" json:"cleanup_seconds"`
	AllQPS         float64 `yaml:"all_qps"         mapstructure:"all_qps"         json:"all_qps"`
	AllBurst       int     `yaml:"all_burst"       mapstructure:"all_burst"       json:"all_burst"`
	FwdQPS         float64 `yaml:"fwd_qps"         mapstructure:"fwd_qps"         json:"fwd_qps"`
	FwdBurst       int     `yaml:"fwd_burst"       mapstructure:"fwd_burst"       json:"fwd_burst"`
}

// APIConfig contains management API settings.
//
// Note: APIKey is intentionally treated as a secret and should not be
// returned by API endpoints.
type APIConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Host    string `yaml:"host"    mapstructure:"host"`
	Port    int    `yaml:"port"    mapstructure:"port"`
	APIKey  string `yaml:"api_key" mapstructure:"api_key"`
}

// Config is the root configuration structure.
type Config struct {
	Server     ServerConfig     `yaml:"server"     mapstructure:"server"`
	Forwarding ForwardingConfig `yaml:"forwarding" mapstructure:"forwarding"`
	Ring       RingConfig       `yaml:"ring"       mapstructure:"ring"`
	Cache      CacheConfig      `yaml:"cache"      mapstructure:"cache"`
	Logging    LoggingConfig    `yaml:"logging"    mapstructure:"logging"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit" mapstructure:"rate_limit"`
	API        APIConfig        `yaml:"api"        mapstructure:"api"`
}

// Controls is the subset of Config the master loop swaps in on a reload:
// forwarding mode, timeout and upstream lists. Pipeline workers apply
// Mode and TimeoutMs to every query they hand off after the swap.
// DefaultUpstreams and ZoneUpstreams are carried but not re-parsed:
// forwarding workers keep the upstream.List built at startup, so a
// changed upstream list takes effect only after a restart, as does
// everything else (ring sizes, worker topology).
type Controls struct {
	Mode             ForwardingMode
	TimeoutMs        int
	DefaultUpstreams string
	ZoneUpstreams    string
}

// ControlsOf extracts the reloadable subset from a loaded Config.
func ControlsOf(cfg *Config) Controls {
	return Controls{
		Mode:             cfg.Forwarding.Mode,
		TimeoutMs:        cfg.Forwarding.TimeoutMs,
		DefaultUpstreams: cfg.Forwarding.DefaultUpstreams,
		ZoneUpstreams:    cfg.Forwarding.ZoneUpstreams,
	}
}

// ResolveConfigPath determines the config file path from flag or environment.
func ResolveConfigPath(flagValue string) string {
	if strings.TrimSpace(flagValue) != "" {
		return flagValue
	}
	if v := strings.TrimSpace(os.Getenv("FWDCORE_CONFIG")); v != "" {
		return v
	}
	return ""
}

// Load loads configuration from a YAML file with environment variable overrides.
// This is the main entry point for loading configuration.
//
// Configuration priority (highest to lowest):
//  1. Environment variables (FWDCORE_*)
//  2. Config file values
//  3. Default values
func Load(path string) (*Config, error) {
	return loadFromSource(path)
}
