package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 5, cfg.L4.MaxConnectionsPerIP)
	assert.Equal(t, 100, cfg.L4.MaxPacketsPerSecond)
	assert.Equal(t, 1000, cfg.L4.RateLimitWindowMs)
	assert.Equal(t, 300000, cfg.L4.BlockDurationMs)
	assert.Equal(t, 32768, cfg.Filter.MaxPacketSize)
	assert.Equal(t, 20, cfg.L7.MaxLoginAttemptsPerIP)
	assert.Equal(t, 3, cfg.L7.MaxServerListPingsPerIP)
	assert.Equal(t, 5, cfg.AntiBot.KickThreshold)
	assert.Equal(t, 15, cfg.AntiBot.MiniWorldDurationSeconds)
	assert.Equal(t, 2.0, cfg.AntiBot.MiniWorldMinDistance)
	assert.True(t, cfg.L4.Enabled)
	assert.True(t, cfg.AntiBot.Enabled)
	assert.True(t, cfg.AntiBot.CheckOnlyFirstJoin)
	assert.Empty(t, cfg.Validate())
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wardstone.yaml")
	yaml := `
l4:
  max_connections_per_ip: 10
  enabled: false
anti_bot:
  kick_message: "go away"
  allowed_brands: ["vanilla"]
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 10, cfg.L4.MaxConnectionsPerIP)
	assert.False(t, cfg.L4.Enabled)
	assert.Equal(t, "go away", cfg.AntiBot.KickMessage)
	assert.Equal(t, []string{"vanilla"}, cfg.AntiBot.AllowedBrands)

	// Untouched sections keep their defaults.
	assert.Equal(t, 100, cfg.L4.MaxPacketsPerSecond)
	assert.True(t, cfg.L7.Enabled)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.L4.MaxConnectionsPerIP)
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("WARD_L4_MAX_CONNECTIONS_PER_IP", "7")
	t.Setenv("WARD_ANTIBOT_KICK_THRESHOLD", "2")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.L4.MaxConnectionsPerIP)
	assert.Equal(t, 2, cfg.AntiBot.KickThreshold)
}

func TestClampRepairsBadValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	yaml := `
l4:
  max_packets_per_second: -5
packet_filter:
  repeat_window: 1
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 100, cfg.L4.MaxPacketsPerSecond)
	assert.Equal(t, 5, cfg.Filter.RepeatWindow)
}

func TestValidateFlagsBadPatterns(t *testing.T) {
	cfg := Default()
	cfg.Filter.HarmfulPatterns = append(cfg.Filter.HarmfulPatterns, `([unclosed`)
	cfg.AntiBot.ExcludedIPs = []string{"10.0.0.0/8", "not-an-ip"}
	cfg.AntiBot.MinLatencyMs = 2000

	problems := cfg.Validate()
	require.Len(t, problems, 3)

	sections := make(map[string]int)
	for _, p := range problems {
		sections[p.Section]++
		assert.NotEmpty(t, p.Error())
	}
	assert.Equal(t, 1, sections["packet_filter"])
	assert.Equal(t, 2, sections["anti_bot"])
}

func TestDumpRoundTrips(t *testing.T) {
	cfg := Default()
	cfg.L4.MaxConnectionsPerIP = 42
	cfg.AntiBot.AllowedDomains = []string{"play.example.net"}

	out, err := cfg.Dump()
	require.NoError(t, err)

	dir := t.TempDir()
	path := filepath.Join(dir, "dump.yaml")
	require.NoError(t, os.WriteFile(path, []byte(out), 0o644))

	back, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.L4, back.L4)
	assert.Equal(t, cfg.AntiBot, back.AntiBot)
	assert.Equal(t, cfg.L7, back.L7)
}

func TestManagerSwap(t *testing.T) {
	first := Default()
	m := NewManager(first)
	assert.Same(t, first, m.Current())

	second := Default()
	second.L4.MaxConnectionsPerIP = 9
	old := m.Swap(second)

	assert.Same(t, first, old)
	assert.Equal(t, 9, m.Current().L4.MaxConnectionsPerIP)
}

func TestManagerReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "live.yaml")
	require.NoError(t, os.WriteFile(path, []byte("l4:\n  max_connections_per_ip: 3\n"), 0o644))

	m, err := NewManagerFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, 3, m.Current().L4.MaxConnectionsPerIP)

	require.NoError(t, os.WriteFile(path, []byte("l4:\n  max_connections_per_ip: 8\n"), 0o644))
	cfg, problems, err := m.Reload()
	require.NoError(t, err)
	assert.Empty(t, problems)
	assert.Equal(t, 8, cfg.L4.MaxConnectionsPerIP)
	assert.Same(t, cfg, m.Current())

	// A broken file must not clobber the live config.
	require.NoError(t, os.WriteFile(path, []byte(":::"), 0o644))
	_, _, err = m.Reload()
	require.Error(t, err)
	assert.Equal(t, 8, m.Current().L4.MaxConnectionsPerIP)
}
