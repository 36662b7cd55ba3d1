// Package guard embeds the wardstone anti-abuse pipeline in a proxy
// front-end.
//
// The front-end owns sockets, framing, and encryption; the Guard owns
// every admission decision. Hand it each connection-level event and obey
// the verdict it returns:
//
//	g, err := guard.New(guard.Options{
//	    ConfigPath: "wardstone.yml",
//	    Transport:  transport, // your packet writer
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	g.Start()
//	defer g.Stop(context.Background())
//
//	// accept loop
//	if g.OnAccept(remoteIP) != guard.VerdictAllow {
//	    conn.Close()
//	    return
//	}
//
//	// read loop
//	switch g.OnPacket(remoteIP, pkt) {
//	case guard.VerdictAllow:
//	    forward(pkt)
//	default:
//	    conn.Close()
//	}
//
// All methods are safe for concurrent use and never block on I/O, so
// they can run directly on connection read goroutines.
package guard

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/wardstone/wardstone/internal/blocklist"
	"github.com/wardstone/wardstone/internal/config"
	"github.com/wardstone/wardstone/internal/core"
	"github.com/wardstone/wardstone/internal/events"
	"github.com/wardstone/wardstone/internal/monitoring"
	"github.com/wardstone/wardstone/internal/ops"
	"github.com/wardstone/wardstone/internal/security"
)

// Options configures a Guard. Transport is the only required field.
type Options struct {
	// ConfigPath names a YAML file loaded over the defaults, with
	// environment variables applied on top. A missing file is fine;
	// empty means defaults plus environment only.
	ConfigPath string

	// Config bypasses file loading entirely and wins over ConfigPath.
	Config *Config

	// Transport delivers outbound packets, transfers, and disconnects
	// for the verification world. Required.
	Transport Transport

	// Logger overrides the logger built from the config's logging
	// section.
	Logger *zerolog.Logger

	// Registry receives the pipeline's Prometheus collectors. A fresh
	// registry is created when nil; retrieve it with Gatherer.
	Registry *prometheus.Registry
}

// Guard is one assembled pipeline plus its operational surface.
type Guard struct {
	log     zerolog.Logger
	cfg     *config.Manager
	bus     *events.Bus
	reg     *prometheus.Registry
	mgr     *security.Manager
	ops     *ops.Server
	mirrors []blocklist.Mirror
}

var _ core.Pipeline = (*Guard)(nil)

// New assembles the pipeline from the resolved configuration. Optional
// blocklist mirrors (redis, kernel offload) are attached here when the
// config enables them; a mirror that fails to initialize is skipped
// with a warning rather than failing construction.
func New(opts Options) (*Guard, error) {
	if opts.Transport == nil {
		return nil, fmt.Errorf("guard: Transport is required")
	}

	var cm *config.Manager
	switch {
	case opts.Config != nil:
		problems := opts.Config.Validate()
		if len(problems) > 0 {
			return nil, fmt.Errorf("guard: invalid config: %v", problems[0])
		}
		cm = config.NewManager(opts.Config)
	default:
		var err error
		cm, err = config.NewManagerFromFile(opts.ConfigPath)
		if err != nil {
			return nil, fmt.Errorf("guard: load config: %w", err)
		}
	}
	cfg := cm.Current()

	log := monitoring.NewLogger(cfg.Logging)
	if opts.Logger != nil {
		log = *opts.Logger
	}

	reg := opts.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	metrics := monitoring.NewMetrics(reg)
	bus := events.NewBus(cfg.Ops.EventBufferSize)

	var mirrors []blocklist.Mirror
	if cfg.Blocklist.Redis.Enabled {
		rm, err := blocklist.NewRedisMirror(cfg.Blocklist.Redis, log)
		if err != nil {
			log.Warn().Err(err).Msg("redis mirror unavailable, continuing without")
		} else {
			mirrors = append(mirrors, rm)
		}
	}
	if cfg.Blocklist.EBPF.Enabled {
		xm, err := blocklist.NewXDPMirror(cfg.Blocklist.EBPF, metrics, log)
		if err != nil {
			log.Warn().Err(err).Msg("kernel offload unavailable, continuing without")
		} else {
			mirrors = append(mirrors, xm)
		}
	}

	g := &Guard{
		log:     log,
		cfg:     cm,
		bus:     bus,
		reg:     reg,
		mirrors: mirrors,
	}
	g.mgr = security.NewManager(cm, opts.Transport, metrics, bus, log, mirrors...)
	if cfg.Ops.Enabled {
		g.ops = ops.NewServer(cfg.Ops, g.mgr, bus, reg, log)
	}
	return g, nil
}

// Start launches the maintenance loops, mirror workers, and the ops
// listener when enabled.
func (g *Guard) Start() {
	g.mgr.Start()
	if g.ops != nil {
		g.ops.Start()
	}
}

// Stop drains the ops listener and halts the pipeline. Verdict methods
// called afterwards reject traffic.
func (g *Guard) Stop(ctx context.Context) error {
	var err error
	if g.ops != nil {
		err = g.ops.Stop(ctx)
	}
	g.mgr.Stop()
	return err
}

// Reload revalidates the configuration source and applies it. Only
// meaningful when the Guard was built from a ConfigPath.
func (g *Guard) Reload() error {
	return g.mgr.Reload()
}

// Status reports current stage counters.
func (g *Guard) Status() Status {
	return g.mgr.Status()
}

// Subscribe returns a channel of security events, filtered to the given
// types; no types means everything. The channel is buffered and events
// are dropped, not queued, when the subscriber falls behind.
func (g *Guard) Subscribe(eventTypes ...string) chan *Event {
	return g.bus.Subscribe(eventTypes...)
}

// Unsubscribe detaches a channel obtained from Subscribe.
func (g *Guard) Unsubscribe(ch chan *Event) {
	g.bus.Unsubscribe(ch)
}

// Gatherer exposes the metrics registry, for serving /metrics from the
// front-end's own HTTP server.
func (g *Guard) Gatherer() prometheus.Gatherer {
	return g.reg
}
