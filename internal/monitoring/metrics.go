package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the anti-abuse pipeline.
type Metrics struct {
	// Traffic verdicts
	ConnectionsTotal *prometheus.CounterVec
	PacketsTotal     *prometheus.CounterVec
	LoginsTotal      *prometheus.CounterVec

	// Blocklist
	BlockedIPs  prometheus.Gauge
	BlocksTotal *prometheus.CounterVec
	KernelDrops prometheus.Counter

	// Anti-bot
	ChecksTotal          *prometheus.CounterVec
	SessionsByState      *prometheus.GaugeVec
	VerificationsTotal   *prometheus.CounterVec
	VerificationDuration prometheus.Histogram
	ActiveVerifications  prometheus.Gauge

	// Shared state tables
	TrackedEntries *prometheus.GaugeVec
	SweepDuration  *prometheus.HistogramVec

	// Mirrors
	MirrorErrors *prometheus.CounterVec
}

// NewMetrics creates and registers all pipeline metrics. Pass nil to use
// the default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		ConnectionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wardstone_connections_total",
				Help: "Connection attempts by verdict",
			},
			[]string{"verdict"},
		),

		PacketsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wardstone_packets_total",
				Help: "Inspected packets by deciding stage and verdict",
			},
			[]string{"stage", "verdict"},
		),

		LoginsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wardstone_logins_total",
				Help: "Login attempts by outcome",
			},
			[]string{"action"},
		),

		BlockedIPs: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "wardstone_blocked_ips",
				Help: "IPs currently on the temporary blocklist",
			},
		),

		BlocksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wardstone_blocks_total",
				Help: "Block actions by originating stage",
			},
			[]string{"source"},
		),

		KernelDrops: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "wardstone_kernel_drops_total",
				Help: "Packets dropped in-kernel by the XDP offload",
			},
		),

		ChecksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wardstone_antibot_checks_total",
				Help: "Anti-bot heuristic checks by name and result",
			},
			[]string{"check", "result"},
		),

		SessionsByState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "wardstone_antibot_sessions",
				Help: "Anti-bot sessions by state",
			},
			[]string{"state"},
		),

		VerificationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wardstone_verifications_total",
				Help: "Verification world resolutions by outcome",
			},
			[]string{"outcome"},
		),

		VerificationDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "wardstone_verification_duration_seconds",
				Help:    "Time from world entry to resolution",
				Buckets: []float64{1, 2, 3, 5, 8, 10, 12, 15, 20},
			},
		),

		ActiveVerifications: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "wardstone_active_verifications",
				Help: "Players currently inside the verification world",
			},
		),

		TrackedEntries: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "wardstone_tracked_entries",
				Help: "Entries in the per-source state tables",
			},
			[]string{"table"},
		),

		SweepDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "wardstone_sweep_duration_seconds",
				Help:    "Duration of maintenance sweeps per stage",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"stage"},
		),

		MirrorErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wardstone_mirror_errors_total",
				Help: "Failed writes to blocklist mirrors",
			},
			[]string{"mirror"},
		),
	}
}

// The Record helpers tolerate a nil receiver so callers built without
// metrics, mostly tests, need no guards.

// RecordConnection records an accept-time verdict.
func (m *Metrics) RecordConnection(verdict string) {
	if m == nil {
		return
	}
	m.ConnectionsTotal.WithLabelValues(verdict).Inc()
}

// RecordPacket records which stage decided a packet and how.
func (m *Metrics) RecordPacket(stage, verdict string) {
	if m == nil {
		return
	}
	m.PacketsTotal.WithLabelValues(stage, verdict).Inc()
}

// RecordLogin records a login outcome.
func (m *Metrics) RecordLogin(action string) {
	if m == nil {
		return
	}
	m.LoginsTotal.WithLabelValues(action).Inc()
}

// RecordBlock records a block action and who initiated it.
func (m *Metrics) RecordBlock(source string) {
	if m == nil {
		return
	}
	m.BlocksTotal.WithLabelValues(source).Inc()
}

// RecordCheck records one heuristic check result.
func (m *Metrics) RecordCheck(check string, passed bool) {
	if m == nil {
		return
	}
	result := "pass"
	if !passed {
		result = "fail"
	}
	m.ChecksTotal.WithLabelValues(check, result).Inc()
}

// RecordVerification records a resolved verification session.
func (m *Metrics) RecordVerification(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.VerificationsTotal.WithLabelValues(outcome).Inc()
	m.VerificationDuration.Observe(seconds)
}

// SetBlockedIPs updates the blocklist size gauge.
func (m *Metrics) SetBlockedIPs(n int) {
	if m == nil {
		return
	}
	m.BlockedIPs.Set(float64(n))
}

// SetSessions updates the per-state session gauge.
func (m *Metrics) SetSessions(state string, n int) {
	if m == nil {
		return
	}
	m.SessionsByState.WithLabelValues(state).Set(float64(n))
}

// SetTrackedEntries updates a state table size gauge.
func (m *Metrics) SetTrackedEntries(table string, n int) {
	if m == nil {
		return
	}
	m.TrackedEntries.WithLabelValues(table).Set(float64(n))
}

// AddActiveVerifications moves the in-world player gauge by delta.
func (m *Metrics) AddActiveVerifications(delta int) {
	if m == nil {
		return
	}
	m.ActiveVerifications.Add(float64(delta))
}

// ObserveSweep records one maintenance sweep duration.
func (m *Metrics) ObserveSweep(stage string, seconds float64) {
	if m == nil {
		return
	}
	m.SweepDuration.WithLabelValues(stage).Observe(seconds)
}

// RecordMirrorError counts a failed mirror write.
func (m *Metrics) RecordMirrorError(mirror string) {
	if m == nil {
		return
	}
	m.MirrorErrors.WithLabelValues(mirror).Inc()
}

// AddKernelDrops adds to the XDP drop counter.
func (m *Metrics) AddKernelDrops(n uint64) {
	if m == nil {
		return
	}
	m.KernelDrops.Add(float64(n))
}
