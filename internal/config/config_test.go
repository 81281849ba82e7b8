package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerSettingString(t *testing.T) {
	tests := []struct {
		name string
		ws   WorkerSetting
		want string
	}{
		{"auto mode", WorkerSetting{Mode: WorkersAuto}, "auto"},
		{"fixed mode 4", WorkerSetting{Mode: WorkersFixed, Value: 4}, "4"},
		{"fixed mode 0", WorkerSetting{Mode: WorkersFixed, Value: 0}, "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.ws.String()
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseForwardingMode(t *testing.T) {
	tests := []struct {
		raw  string
		want ForwardingMode
	}{
		{"direct", ForwardingDirect},
		{"DIRECT", ForwardingDirect},
		{"cache", ForwardingCache},
		{"disable", ForwardingDisabled},
		{"", ForwardingDisabled},
		{"garbage", ForwardingDisabled},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseForwardingMode(tt.raw))
		})
	}
}

func TestForwardingModeString(t *testing.T) {
	assert.Equal(t, "direct", ForwardingDirect.String())
	assert.Equal(t, "cache", ForwardingCache.String())
	assert.Equal(t, "disable", ForwardingDisabled.String())
}

func TestResolveConfigPath(t *testing.T) {
	tests := []struct {
		name     string
		flag     string
		envValue string
		want     string
	}{
		{"flag takes precedence", "/path/from/flag", "/path/from/env", "/path/from/flag"},
		{"env when no flag", "", "/path/from/env", "/path/from/env"},
		{"empty when neither", "", "", ""},
		{"whitespace flag", "  ", "/path/from/env", "/path/from/env"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("FWDCORE_CONFIG", tt.envValue)
			got := ResolveConfigPath(tt.flag)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLoadDefault(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:53", cfg.Server.Listen)
	assert.Equal(t, WorkersAuto, cfg.Server.Workers.Mode)
	assert.Equal(t, ForwardingCache, cfg.Forwarding.Mode)
	assert.Equal(t, 2000, cfg.Forwarding.TimeoutMs)
	assert.Equal(t, "8.8.8.8,8.8.4.4", cfg.Forwarding.DefaultUpstreams)
	assert.Equal(t, 65536, cfg.Ring.QuerySize)
	assert.Equal(t, 0x3FFFF, cfg.Ring.HashSize)
	assert.Equal(t, 0xF, cfg.Ring.LockSize)
	assert.Equal(t, 60, cfg.Cache.TTLSeconds)
	assert.Equal(t, 10, cfg.Cache.ExpiringSeconds)
	assert.Equal(t, 600, cfg.Cache.SalvageSeconds)
}

func TestLoadFromFile(t *testing.T) {
	content := `
server:
  listen: "127.0.0.1:5353"
  workers: "2"
  fwd_workers: 4

forwarding:
  mode: "direct"
  timeout_ms: 500
  default_upstreams: "1.1.1.1,9.9.9.9"
  zone_upstreams: "corp.example@10.0.0.1:5353"

logging:
  level: "DEBUG"
  structured: true
  structured_format: "keyvalue"
`
	dir := t.TempDir()
	path := filepath.Join(dir, "test-config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:5353", cfg.Server.Listen)
	assert.Equal(t, WorkersFixed, cfg.Server.Workers.Mode)
	assert.Equal(t, 2, cfg.Server.Workers.Value)
	assert.Equal(t, 4, cfg.Server.FwdWorkers)
	assert.Equal(t, ForwardingDirect, cfg.Forwarding.Mode)
	assert.Equal(t, 500, cfg.Forwarding.TimeoutMs)
	assert.Equal(t, "1.1.1.1,9.9.9.9", cfg.Forwarding.DefaultUpstreams)
	assert.Equal(t, "corp.example@10.0.0.1:5353", cfg.Forwarding.ZoneUpstreams)
	assert.Equal(t, "DEBUG", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Structured)
	assert.Equal(t, "keyvalue", cfg.Logging.StructuredFormat)
}

func TestLoadInvalidPath(t *testing.T) {
	_, err := Load("/nonexistent/path/to/config.yaml")
	assert.Error(t, err)
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  listen: [invalid"), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestNormalizeEmptyListenRejected(t *testing.T) {
	content := `
server:
  listen: ""
`
	dir := t.TempDir()
	path := filepath.Join(dir, "test.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestNormalizeRequiresUpstreamsUnlessDisabled(t *testing.T) {
	content := `
forwarding:
  mode: "cache"
  default_upstreams: ""
`
	dir := t.TempDir()
	path := filepath.Join(dir, "test.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestNormalizeInvalidWorkers(t *testing.T) {
	content := `
server:
  workers: "invalid"
`
	dir := t.TempDir()
	path := filepath.Join(dir, "test.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	// With Viper, invalid workers gracefully defaults to "auto".
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, WorkersAuto, cfg.Server.Workers.Mode)
}

func TestControlsOf(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	c := ControlsOf(cfg)
	assert.Equal(t, cfg.Forwarding.Mode, c.Mode)
	assert.Equal(t, cfg.Forwarding.TimeoutMs, c.TimeoutMs)
	assert.Equal(t, cfg.Forwarding.DefaultUpstreams, c.DefaultUpstreams)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("FWDCORE_SERVER_LISTEN", "192.168.1.1:8053")
	t.Setenv("FWDCORE_SERVER_WORKERS", "8")
	t.Setenv("FWDCORE_FORWARDING_MODE", "direct")
	t.Setenv("FWDCORE_FORWARDING_DEFAULT_UPSTREAMS", "1.1.1.1,9.9.9.9")
	t.Setenv("FWDCORE_LOGGING_LEVEL", "debug")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "192.168.1.1:8053", cfg.Server.Listen)
	assert.Equal(t, WorkersFixed, cfg.Server.Workers.Mode)
	assert.Equal(t, 8, cfg.Server.Workers.Value)
	assert.Equal(t, ForwardingDirect, cfg.Forwarding.Mode)
	assert.Equal(t, "1.1.1.1,9.9.9.9", cfg.Forwarding.DefaultUpstreams)
	assert.Equal(t, "DEBUG", cfg.Logging.Level)
}
