//go:build linux

package blocklist

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/ringbuf"
	"github.com/cilium/ebpf/rlimit"
	"github.com/rs/zerolog"

	"github.com/wardstone/wardstone/internal/config"
	"github.com/wardstone/wardstone/internal/monitoring"
)

// XDPMirror pushes blocked IPv4 addresses into a pinned map consumed by
// an XDP program, so repeat traffic from a blocked source is dropped in
// the kernel before it ever reaches the accept loop. The map is pinned
// and loaded by the external loader; this process only writes entries.
type XDPMirror struct {
	log     zerolog.Logger
	metrics *monitoring.Metrics

	blocked *ebpf.Map
	events  *ebpf.Map
	reader  *ringbuf.Reader
	wg      sync.WaitGroup
}

// NewXDPMirror opens the pinned blocklist map and, when configured, the
// drop-event ring buffer.
func NewXDPMirror(cfg config.EBPFConfig, m *monitoring.Metrics, log zerolog.Logger) (*XDPMirror, error) {
	if err := rlimit.RemoveMemlock(); err != nil {
		return nil, fmt.Errorf("remove memlock rlimit: %w", err)
	}

	blocked, err := ebpf.LoadPinnedMap(cfg.PinnedMapPath, nil)
	if err != nil {
		return nil, fmt.Errorf("load pinned map %s: %w", cfg.PinnedMapPath, err)
	}

	x := &XDPMirror{
		log:     log.With().Str("component", "xdp-mirror").Logger(),
		metrics: m,
		blocked: blocked,
	}

	if cfg.DropEventsMap != "" {
		eventsMap, err := ebpf.LoadPinnedMap(cfg.DropEventsMap, nil)
		if err != nil {
			blocked.Close()
			return nil, fmt.Errorf("load drop events map %s: %w", cfg.DropEventsMap, err)
		}
		reader, err := ringbuf.NewReader(eventsMap)
		if err != nil {
			eventsMap.Close()
			blocked.Close()
			return nil, fmt.Errorf("open drop event reader: %w", err)
		}
		x.events = eventsMap
		x.reader = reader
		x.wg.Add(1)
		go x.readDrops()
	}

	x.log.Info().Str("map", cfg.PinnedMapPath).Msg("xdp offload attached")
	return x, nil
}

// Name implements Mirror.
func (x *XDPMirror) Name() string { return "xdp" }

// Block implements Mirror. IPv6 sources are skipped; the XDP program
// only parses IPv4 headers.
func (x *XDPMirror) Block(_ context.Context, e Entry) error {
	key, ok := ipv4Key(e.IP)
	if !ok {
		return nil
	}
	expiry := uint64(e.ExpiresAt.UnixNano())
	if err := x.blocked.Put(key, expiry); err != nil {
		return fmt.Errorf("map put %s: %w", e.IP, err)
	}
	return nil
}

// Unblock implements Mirror.
func (x *XDPMirror) Unblock(_ context.Context, ip string) error {
	key, ok := ipv4Key(ip)
	if !ok {
		return nil
	}
	if err := x.blocked.Delete(key); err != nil && !errors.Is(err, ebpf.ErrKeyNotExist) {
		return fmt.Errorf("map delete %s: %w", ip, err)
	}
	return nil
}

// Close implements Mirror.
func (x *XDPMirror) Close() error {
	if x.reader != nil {
		x.reader.Close()
	}
	x.wg.Wait()
	if x.events != nil {
		x.events.Close()
	}
	return x.blocked.Close()
}

// readDrops consumes drop events emitted by the XDP program. Each record
// is struct { __be32 saddr; __u64 dropped; } with natural alignment, so
// the counter sits at offset 8.
func (x *XDPMirror) readDrops() {
	defer x.wg.Done()
	for {
		rec, err := x.reader.Read()
		if err != nil {
			if errors.Is(err, ringbuf.ErrClosed) {
				return
			}
			x.log.Warn().Err(err).Msg("drop event read failed")
			continue
		}
		if len(rec.RawSample) < 16 {
			continue
		}
		saddr := rec.RawSample[0:4]
		dropped := binary.LittleEndian.Uint64(rec.RawSample[8:16])
		x.metrics.AddKernelDrops(dropped)
		x.log.Debug().
			Str("ip", net.IPv4(saddr[0], saddr[1], saddr[2], saddr[3]).String()).
			Uint64("dropped", dropped).
			Msg("kernel dropped packets from blocked source")
	}
}

// ipv4Key converts a dotted-quad address to the network-order key the
// XDP program compares against iph->saddr.
func ipv4Key(ip string) ([4]byte, bool) {
	var key [4]byte
	v4 := net.ParseIP(ip).To4()
	if v4 == nil {
		return key, false
	}
	copy(key[:], v4)
	return key, true
}
