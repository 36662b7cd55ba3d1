package antibot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wardstone/wardstone/internal/config"
)

func TestCleanVirtualHost(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain host", "mc.example.com", "mc.example.com"},
		{"host with port", "mc.example.com:25565", "mc.example.com"},
		{"trailing dot", "mc.example.com.", "mc.example.com"},
		{"forge marker", "mc.example.com\x00FML3\x00", "mc.example.com"},
		{"direct ip with port", "203.0.113.5:25565", "203.0.113.5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, cleanVirtualHost(tt.in))
		})
	}
}

func TestIPExcluded(t *testing.T) {
	excluded := []string{"10.0.0.0/8", "203.0.113.77"}

	assert.True(t, ipExcluded("10.1.2.3", excluded))
	assert.True(t, ipExcluded("203.0.113.77", excluded))
	assert.False(t, ipExcluded("203.0.113.78", excluded))
	assert.False(t, ipExcluded("not-an-ip", excluded))
	assert.False(t, ipExcluded("10.1.2.3", nil))
}

func TestDomainAllowed(t *testing.T) {
	domains := []string{"example.com", "Play.Other.Net."}

	assert.True(t, domainAllowed("example.com", domains))
	assert.True(t, domainAllowed("mc.example.com", domains))
	assert.True(t, domainAllowed("play.other.net", domains))
	assert.False(t, domainAllowed("evilexample.com", domains))
	assert.False(t, domainAllowed("example.com.evil.net", domains))
}

func TestIsPrivateIP(t *testing.T) {
	assert.True(t, isPrivateIP("127.0.0.1"))
	assert.True(t, isPrivateIP("192.168.1.50"))
	assert.True(t, isPrivateIP("10.0.0.1"))
	assert.False(t, isPrivateIP("203.0.113.10"))
	assert.False(t, isPrivateIP("garbage"))
}

func TestCheckHost(t *testing.T) {
	x, _, _ := newTestCoordinator(t, nil)

	base := func() *config.AntiBotConfig {
		ab := config.Default().AntiBot
		ab.ResolveHostnames = false
		return &ab
	}

	t.Run("empty host skipped", func(t *testing.T) {
		res, _ := x.checkHost(base(), "203.0.113.10", "")
		assert.Equal(t, checkSkip, res)
	})

	t.Run("private source skipped", func(t *testing.T) {
		res, _ := x.checkHost(base(), "192.168.1.50", "203.0.113.5")
		assert.Equal(t, checkSkip, res)
	})

	t.Run("direct ip rejected", func(t *testing.T) {
		res, reason := x.checkHost(base(), "203.0.113.10", "198.51.100.4:25565")
		require.Equal(t, checkFail, res)
		assert.Contains(t, reason, "direct ip")
	})

	t.Run("direct ip allowed when configured", func(t *testing.T) {
		ab := base()
		ab.AllowDirectIPConnections = true
		res, _ := x.checkHost(ab, "203.0.113.10", "198.51.100.4:25565")
		assert.Equal(t, checkPass, res)
	})

	t.Run("direct ip allowed for excluded source", func(t *testing.T) {
		ab := base()
		ab.ExcludedIPs = []string{"203.0.113.0/24"}
		res, _ := x.checkHost(ab, "203.0.113.10", "198.51.100.4")
		assert.Equal(t, checkPass, res)
	})

	t.Run("domain outside allowed list rejected", func(t *testing.T) {
		ab := base()
		ab.AllowedDomains = []string{"example.com"}
		res, _ := x.checkHost(ab, "203.0.113.10", "mc.example.com:25565")
		assert.Equal(t, checkPass, res)

		res, reason := x.checkHost(ab, "203.0.113.10", "mc.scanner.net")
		require.Equal(t, checkFail, res)
		assert.Contains(t, reason, "allowed domains")
	})

	t.Run("hostname passes without resolution", func(t *testing.T) {
		res, _ := x.checkHost(base(), "203.0.113.10", "mc.example.com")
		assert.Equal(t, checkPass, res)
	})
}
