// Package config holds the declarative configuration for the anti-abuse
// pipeline. Values load from YAML, take environment overrides, and are
// served to components through an atomically swappable manager so reloads
// never tear in-flight pipeline calls.
package config

import (
	"fmt"
	"net"
	"os"
	"regexp"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v2"
)

type Config struct {
	L4        L4Config        `yaml:"l4" envPrefix:"WARD_L4_"`
	Filter    FilterConfig    `yaml:"packet_filter" envPrefix:"WARD_FILTER_"`
	L7        L7Config        `yaml:"l7" envPrefix:"WARD_L7_"`
	AntiBot   AntiBotConfig   `yaml:"anti_bot" envPrefix:"WARD_ANTIBOT_"`
	Blocklist BlocklistConfig `yaml:"blocklist" envPrefix:"WARD_BLOCKLIST_"`
	Scheduler SchedulerConfig `yaml:"scheduler" envPrefix:"WARD_SCHED_"`
	Ops       OpsConfig       `yaml:"ops" envPrefix:"WARD_OPS_"`
	Logging   LoggingConfig   `yaml:"logging" envPrefix:"WARD_LOG_"`
}

type L4Config struct {
	Enabled             bool `yaml:"enabled" env:"ENABLED"`
	MaxConnectionsPerIP int  `yaml:"max_connections_per_ip" env:"MAX_CONNECTIONS_PER_IP"`
	MaxPacketsPerSecond int  `yaml:"max_packets_per_second" env:"MAX_PACKETS_PER_SECOND"`
	RateLimitWindowMs   int  `yaml:"rate_limit_window_ms" env:"RATE_LIMIT_WINDOW_MS"`
	BlockDurationMs     int  `yaml:"block_duration_ms" env:"BLOCK_DURATION_MS"`
	MaxErrorsPerWindow  int  `yaml:"max_errors_per_window" env:"MAX_ERRORS_PER_WINDOW"`

	// GlobalPacketsPerSecond caps aggregate throughput across all
	// sources before any per-IP accounting. Zero disables the ceiling.
	GlobalPacketsPerSecond int `yaml:"global_packets_per_second" env:"GLOBAL_PACKETS_PER_SECOND"`
	GlobalBurst            int `yaml:"global_burst" env:"GLOBAL_BURST"`
}

type FilterConfig struct {
	Enabled              bool     `yaml:"enabled" env:"ENABLED"`
	MaxPacketSize        int      `yaml:"max_packet_size" env:"MAX_PACKET_SIZE"`
	BlockHarmfulPatterns bool     `yaml:"block_harmful_patterns" env:"BLOCK_HARMFUL_PATTERNS"`
	BlockRepeatedPackets bool     `yaml:"block_repeated_packets" env:"BLOCK_REPEATED_PACKETS"`
	Whitelist            []string `yaml:"whitelist" env:"WHITELIST"`
	HarmfulPatterns      []string `yaml:"harmful_patterns" env:"HARMFUL_PATTERNS"`
	RepeatWindow         int      `yaml:"repeat_window" env:"REPEAT_WINDOW"`
	RingIdleExpiryMs     int      `yaml:"ring_idle_expiry_ms" env:"RING_IDLE_EXPIRY_MS"`
}

type L7Config struct {
	Enabled                  bool `yaml:"enabled" env:"ENABLED"`
	MaxLoginAttemptsPerIP    int  `yaml:"max_login_attempts_per_ip" env:"MAX_LOGIN_ATTEMPTS_PER_IP"`
	MaxPacketTypePerSecond   int  `yaml:"max_packet_type_per_second" env:"MAX_PACKET_TYPE_PER_SECOND"`
	MaxServerListPingsPerIP  int  `yaml:"max_server_list_pings_per_ip" env:"MAX_SERVER_LIST_PINGS_PER_IP"`
	DetectProtocolViolations bool `yaml:"detect_protocol_violations" env:"DETECT_PROTOCOL_VIOLATIONS"`
	MaxExceptions            int  `yaml:"max_exceptions" env:"MAX_EXCEPTIONS"`
	TrackerIdleExpiryMs      int  `yaml:"tracker_idle_expiry_ms" env:"TRACKER_IDLE_EXPIRY_MS"`
}

type AntiBotConfig struct {
	Enabled            bool   `yaml:"enabled" env:"ENABLED"`
	CheckOnlyFirstJoin bool   `yaml:"check_only_first_join" env:"CHECK_ONLY_FIRST_JOIN"`
	KickThreshold      int    `yaml:"kick_threshold" env:"KICK_THRESHOLD"`
	KickMessage        string `yaml:"kick_message" env:"KICK_MESSAGE"`

	ConnectionRateCheck bool `yaml:"connection_rate_check" env:"CONNECTION_RATE_CHECK"`
	RateLimitThreshold  int  `yaml:"rate_limit_threshold" env:"RATE_LIMIT_THRESHOLD"`
	RateLimitWindowMs   int  `yaml:"rate_limit_window_ms" env:"RATE_LIMIT_WINDOW_MS"`

	UsernameCheck           bool     `yaml:"username_check" env:"USERNAME_CHECK"`
	UsernamePatterns        []string `yaml:"username_patterns" env:"USERNAME_PATTERNS"`
	SequentialCharThreshold int      `yaml:"sequential_char_threshold" env:"SEQUENTIAL_CHAR_THRESHOLD"`
	EntropyCheck            bool     `yaml:"entropy_check" env:"ENTROPY_CHECK"`
	MinUsernameEntropy      float64  `yaml:"min_username_entropy" env:"MIN_USERNAME_ENTROPY"`

	BrandCheck    bool     `yaml:"brand_check" env:"BRAND_CHECK"`
	AllowedBrands []string `yaml:"allowed_brands" env:"ALLOWED_BRANDS"`

	HostCheck                bool     `yaml:"host_check" env:"HOST_CHECK"`
	AllowDirectIPConnections bool     `yaml:"allow_direct_ip_connections" env:"ALLOW_DIRECT_IP_CONNECTIONS"`
	AllowedDomains           []string `yaml:"allowed_domains" env:"ALLOWED_DOMAINS"`
	ExcludedIPs              []string `yaml:"excluded_ips" env:"EXCLUDED_IPS"`
	ResolveHostnames         bool     `yaml:"resolve_hostnames" env:"RESOLVE_HOSTNAMES"`
	ResolverAddress          string   `yaml:"resolver_address" env:"RESOLVER_ADDRESS"`
	ResolveTimeoutMs         int      `yaml:"resolve_timeout_ms" env:"RESOLVE_TIMEOUT_MS"`

	LatencyCheck bool `yaml:"latency_check" env:"LATENCY_CHECK"`
	MinLatencyMs int  `yaml:"min_latency_ms" env:"MIN_LATENCY_MS"`
	MaxLatencyMs int  `yaml:"max_latency_ms" env:"MAX_LATENCY_MS"`

	// GeoIPDatabase points at a MaxMind mmdb file; empty disables the
	// geo check regardless of the country lists.
	GeoIPDatabase     string   `yaml:"geoip_database" env:"GEOIP_DATABASE"`
	GeoAllowCountries []string `yaml:"geo_allow_countries" env:"GEO_ALLOW_COUNTRIES"`
	GeoDenyCountries  []string `yaml:"geo_deny_countries" env:"GEO_DENY_COUNTRIES"`

	MiniWorldCheck               bool    `yaml:"mini_world_check" env:"MINI_WORLD_CHECK"`
	MiniWorldDurationSeconds     int     `yaml:"mini_world_duration_seconds" env:"MINI_WORLD_DURATION_SECONDS"`
	MiniWorldMinMovements        int     `yaml:"mini_world_min_movements" env:"MINI_WORLD_MIN_MOVEMENTS"`
	MiniWorldMinDistance         float64 `yaml:"mini_world_min_distance" env:"MINI_WORLD_MIN_DISTANCE"`
	MiniWorldMinDirectionChanges int     `yaml:"mini_world_min_direction_changes" env:"MINI_WORLD_MIN_DIRECTION_CHANGES"`
	MiniWorldTimingEpsilon       float64 `yaml:"mini_world_timing_epsilon" env:"MINI_WORLD_TIMING_EPSILON"`

	// TransferTo is the destination server name handed to the front-end
	// once verification passes.
	TransferTo string `yaml:"transfer_to" env:"TRANSFER_TO"`
}

type BlocklistConfig struct {
	Redis RedisConfig `yaml:"redis" envPrefix:"REDIS_"`
	EBPF  EBPFConfig  `yaml:"ebpf" envPrefix:"EBPF_"`
}

// RedisConfig mirrors blocks into a shared set so sibling proxies of a
// fleet converge on the same blocklist. Best effort; the in-memory list
// stays authoritative.
type RedisConfig struct {
	Enabled        bool   `yaml:"enabled" env:"ENABLED"`
	Addr           string `yaml:"addr" env:"ADDR"`
	Password       string `yaml:"password" env:"PASSWORD"`
	DB             int    `yaml:"db" env:"DB"`
	KeyPrefix      string `yaml:"key_prefix" env:"KEY_PREFIX"`
	PublishChannel string `yaml:"publish_channel" env:"PUBLISH_CHANNEL"`
}

// EBPFConfig offloads the blocklist into a pinned kernel map consumed by
// an XDP program in front of the accept loop (linux only).
type EBPFConfig struct {
	Enabled       bool   `yaml:"enabled" env:"ENABLED"`
	PinnedMapPath string `yaml:"pinned_map_path" env:"PINNED_MAP_PATH"`
	DropEventsMap string `yaml:"drop_events_map" env:"DROP_EVENTS_MAP"`
}

type SchedulerConfig struct {
	MaintenanceIntervalSeconds int `yaml:"maintenance_interval_seconds" env:"MAINTENANCE_INTERVAL_SECONDS"`
	StatusIntervalSeconds      int `yaml:"status_interval_seconds" env:"STATUS_INTERVAL_SECONDS"`
}

type OpsConfig struct {
	Enabled         bool   `yaml:"enabled" env:"ENABLED"`
	ListenAddr      string `yaml:"listen_addr" env:"LISTEN_ADDR"`
	EventBufferSize int    `yaml:"event_buffer_size" env:"EVENT_BUFFER_SIZE"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Format string `yaml:"format" env:"FORMAT"`
}

// Default returns the fully populated baseline configuration. Load decodes
// YAML over it, so absent keys keep these values.
func Default() *Config {
	return &Config{
		L4: L4Config{
			Enabled:             true,
			MaxConnectionsPerIP: 5,
			MaxPacketsPerSecond: 100,
			RateLimitWindowMs:   1000,
			BlockDurationMs:     300000,
			MaxErrorsPerWindow:  10,
		},
		Filter: FilterConfig{
			Enabled:              true,
			MaxPacketSize:        32768,
			BlockHarmfulPatterns: true,
			BlockRepeatedPackets: true,
			Whitelist:            []string{"Handshake", "ServerPing", "StatusRequest", "LoginStart"},
			HarmfulPatterns:      DefaultHarmfulPatterns(),
			RepeatWindow:         5,
			RingIdleExpiryMs:     300000,
		},
		L7: L7Config{
			Enabled:                  true,
			MaxLoginAttemptsPerIP:    20,
			MaxPacketTypePerSecond:   100,
			MaxServerListPingsPerIP:  3,
			DetectProtocolViolations: true,
			MaxExceptions:            5,
			TrackerIdleExpiryMs:      1800000,
		},
		AntiBot: AntiBotConfig{
			Enabled:            true,
			CheckOnlyFirstJoin: true,
			KickThreshold:      5,
			KickMessage:        "Connection rejected: automated client suspected",

			ConnectionRateCheck: true,
			RateLimitThreshold:  3,
			RateLimitWindowMs:   10000,

			UsernameCheck:           true,
			UsernamePatterns:        DefaultUsernamePatterns(),
			SequentialCharThreshold: 4,
			EntropyCheck:            true,
			MinUsernameEntropy:      1.5,

			BrandCheck:    true,
			AllowedBrands: []string{"vanilla", "fabric", "forge", "quilt", "neoforge", "optifine", "lunarclient", "labymod", "badlion"},

			HostCheck:                true,
			AllowDirectIPConnections: false,
			ResolverAddress:          "1.1.1.1:53",
			ResolveTimeoutMs:         500,

			LatencyCheck: true,
			MinLatencyMs: 10,
			MaxLatencyMs: 1000,

			MiniWorldCheck:               true,
			MiniWorldDurationSeconds:     15,
			MiniWorldMinMovements:        3,
			MiniWorldMinDistance:         2.0,
			MiniWorldMinDirectionChanges: 1,
			MiniWorldTimingEpsilon:       0.05,

			TransferTo: "lobby",
		},
		Blocklist: BlocklistConfig{
			Redis: RedisConfig{
				Addr:           "localhost:6379",
				KeyPrefix:      "wardstone:blocked:",
				PublishChannel: "wardstone:block-events",
			},
			EBPF: EBPFConfig{
				PinnedMapPath: "/sys/fs/bpf/wardstone/blocked_ips",
			},
		},
		Scheduler: SchedulerConfig{
			MaintenanceIntervalSeconds: 60,
			StatusIntervalSeconds:      900,
		},
		Ops: OpsConfig{
			Enabled:         true,
			ListenAddr:      ":9090",
			EventBufferSize: 256,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// DefaultHarmfulPatterns are the payload patterns scanned when
// block_harmful_patterns is on: SQL injection, path traversal, script
// injection, and shell metacharacter sequences.
func DefaultHarmfulPatterns() []string {
	return []string{
		`(?i)(union\s+select|insert\s+into|drop\s+table|delete\s+from)`,
		`(?i)('\s*or\s+'?1'?\s*=\s*'?1)`,
		`\.\./\.\./`,
		`(?i)<script[\s>]`,
		`(?i)javascript:`,
		`[;&|]\s*(rm|wget|curl|nc|bash|sh)\s`,
		`\$\{jndi:`,
	}
}

// DefaultUsernamePatterns match the naming schemes of widespread bot kits.
func DefaultUsernamePatterns() []string {
	return []string{
		`(?i)^bot[_0-9]`,
		`(?i)^mcbot`,
		`(?i)^(test|spam|flood)[0-9]+$`,
		`^[A-Za-z]{1,3}[0-9]{5,}$`,
		`(?i)(mcspam|mcstorm|mcdown)`,
	}
}

// Load reads the YAML file at path over the defaults and then applies
// environment overrides. A missing file is not an error: env and defaults
// still apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("apply env overrides: %w", err)
	}

	cfg.clamp()
	return cfg, nil
}

// clamp resets nonsensical numeric values back to their defaults.
func (c *Config) clamp() {
	def := Default()
	if c.L4.MaxConnectionsPerIP <= 0 {
		c.L4.MaxConnectionsPerIP = def.L4.MaxConnectionsPerIP
	}
	if c.L4.MaxPacketsPerSecond <= 0 {
		c.L4.MaxPacketsPerSecond = def.L4.MaxPacketsPerSecond
	}
	if c.L4.RateLimitWindowMs <= 0 {
		c.L4.RateLimitWindowMs = def.L4.RateLimitWindowMs
	}
	if c.L4.BlockDurationMs <= 0 {
		c.L4.BlockDurationMs = def.L4.BlockDurationMs
	}
	if c.L4.MaxErrorsPerWindow <= 0 {
		c.L4.MaxErrorsPerWindow = def.L4.MaxErrorsPerWindow
	}
	if c.Filter.MaxPacketSize <= 0 {
		c.Filter.MaxPacketSize = def.Filter.MaxPacketSize
	}
	if c.Filter.RepeatWindow < 2 {
		c.Filter.RepeatWindow = def.Filter.RepeatWindow
	}
	if c.Filter.RingIdleExpiryMs <= 0 {
		c.Filter.RingIdleExpiryMs = def.Filter.RingIdleExpiryMs
	}
	if c.L7.MaxLoginAttemptsPerIP <= 0 {
		c.L7.MaxLoginAttemptsPerIP = def.L7.MaxLoginAttemptsPerIP
	}
	if c.L7.MaxPacketTypePerSecond <= 0 {
		c.L7.MaxPacketTypePerSecond = def.L7.MaxPacketTypePerSecond
	}
	if c.L7.MaxServerListPingsPerIP <= 0 {
		c.L7.MaxServerListPingsPerIP = def.L7.MaxServerListPingsPerIP
	}
	if c.L7.MaxExceptions <= 0 {
		c.L7.MaxExceptions = def.L7.MaxExceptions
	}
	if c.L7.TrackerIdleExpiryMs <= 0 {
		c.L7.TrackerIdleExpiryMs = def.L7.TrackerIdleExpiryMs
	}
	if c.AntiBot.KickThreshold <= 0 {
		c.AntiBot.KickThreshold = def.AntiBot.KickThreshold
	}
	if c.AntiBot.RateLimitThreshold <= 0 {
		c.AntiBot.RateLimitThreshold = def.AntiBot.RateLimitThreshold
	}
	if c.AntiBot.RateLimitWindowMs <= 0 {
		c.AntiBot.RateLimitWindowMs = def.AntiBot.RateLimitWindowMs
	}
	if c.AntiBot.SequentialCharThreshold < 2 {
		c.AntiBot.SequentialCharThreshold = def.AntiBot.SequentialCharThreshold
	}
	if c.AntiBot.MinUsernameEntropy <= 0 {
		c.AntiBot.MinUsernameEntropy = def.AntiBot.MinUsernameEntropy
	}
	if c.AntiBot.ResolveTimeoutMs <= 0 {
		c.AntiBot.ResolveTimeoutMs = def.AntiBot.ResolveTimeoutMs
	}
	if c.AntiBot.MinLatencyMs < 0 {
		c.AntiBot.MinLatencyMs = def.AntiBot.MinLatencyMs
	}
	if c.AntiBot.MaxLatencyMs <= 0 {
		c.AntiBot.MaxLatencyMs = def.AntiBot.MaxLatencyMs
	}
	if c.AntiBot.MiniWorldDurationSeconds <= 0 {
		c.AntiBot.MiniWorldDurationSeconds = def.AntiBot.MiniWorldDurationSeconds
	}
	if c.AntiBot.MiniWorldMinMovements <= 0 {
		c.AntiBot.MiniWorldMinMovements = def.AntiBot.MiniWorldMinMovements
	}
	if c.AntiBot.MiniWorldMinDistance <= 0 {
		c.AntiBot.MiniWorldMinDistance = def.AntiBot.MiniWorldMinDistance
	}
	if c.AntiBot.MiniWorldMinDirectionChanges < 0 {
		c.AntiBot.MiniWorldMinDirectionChanges = def.AntiBot.MiniWorldMinDirectionChanges
	}
	if c.AntiBot.MiniWorldTimingEpsilon <= 0 {
		c.AntiBot.MiniWorldTimingEpsilon = def.AntiBot.MiniWorldTimingEpsilon
	}
	if c.AntiBot.TransferTo == "" {
		c.AntiBot.TransferTo = def.AntiBot.TransferTo
	}
	if c.Scheduler.MaintenanceIntervalSeconds <= 0 {
		c.Scheduler.MaintenanceIntervalSeconds = def.Scheduler.MaintenanceIntervalSeconds
	}
	if c.Scheduler.StatusIntervalSeconds <= 0 {
		c.Scheduler.StatusIntervalSeconds = def.Scheduler.StatusIntervalSeconds
	}
	if c.Ops.EventBufferSize <= 0 {
		c.Ops.EventBufferSize = def.Ops.EventBufferSize
	}
	if c.Ops.ListenAddr == "" {
		c.Ops.ListenAddr = def.Ops.ListenAddr
	}
	if c.Logging.Level == "" {
		c.Logging.Level = def.Logging.Level
	}
	if c.Logging.Format == "" {
		c.Logging.Format = def.Logging.Format
	}
}

// Problem is a non-fatal configuration defect. Components skip the
// offending item and run degraded rather than refusing traffic.
type Problem struct {
	Section string
	Option  string
	Err     error
}

func (p Problem) Error() string {
	return fmt.Sprintf("%s.%s: %v", p.Section, p.Option, p.Err)
}

// Validate checks every compilable option and returns one Problem per
// defect. An empty slice means the configuration is fully usable.
func (c *Config) Validate() []Problem {
	var problems []Problem

	for _, p := range c.Filter.HarmfulPatterns {
		if _, err := regexp.Compile(p); err != nil {
			problems = append(problems, Problem{"packet_filter", "harmful_patterns", fmt.Errorf("%q: %w", p, err)})
		}
	}
	for _, p := range c.AntiBot.UsernamePatterns {
		if _, err := regexp.Compile(p); err != nil {
			problems = append(problems, Problem{"anti_bot", "username_patterns", fmt.Errorf("%q: %w", p, err)})
		}
	}
	for _, cidr := range c.AntiBot.ExcludedIPs {
		if !validCIDROrIP(cidr) {
			problems = append(problems, Problem{"anti_bot", "excluded_ips", fmt.Errorf("%q is neither CIDR nor IP", cidr)})
		}
	}
	if c.AntiBot.LatencyCheck && c.AntiBot.MinLatencyMs >= c.AntiBot.MaxLatencyMs {
		problems = append(problems, Problem{"anti_bot", "min_latency_ms",
			fmt.Errorf("min %d must be below max %d", c.AntiBot.MinLatencyMs, c.AntiBot.MaxLatencyMs)})
	}
	if c.AntiBot.GeoIPDatabase != "" {
		if _, err := os.Stat(c.AntiBot.GeoIPDatabase); err != nil {
			problems = append(problems, Problem{"anti_bot", "geoip_database", err})
		}
	}

	return problems
}

func validCIDROrIP(s string) bool {
	if _, _, err := net.ParseCIDR(s); err == nil {
		return true
	}
	return net.ParseIP(s) != nil
}

// Dump renders the effective configuration back to YAML, for the config
// linter and the ops status surface.
func (c *Config) Dump() (string, error) {
	out, err := yaml.Marshal(c)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
