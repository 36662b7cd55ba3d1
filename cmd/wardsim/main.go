// wardsim replays attack traffic against an in-process pipeline and
// reports how much of it was contained. Scenarios:
//
//	flood    connection floods from a small set of sources
//	pingspam status/ping hammering across rotating sources
//	botwave  scripted login waves with bot-typical identities
//	mixed    all of the above plus benign sessions
//
// The pipeline under test is assembled exactly as wardstoned assembles
// it, from the same configuration file.
package main

import (
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/wardstone/wardstone/pkg/guard"
)

type simConfig struct {
	Scenario    string
	Concurrency int
	Duration    time.Duration
	Report      time.Duration
}

type simStats struct {
	Calls        atomic.Uint64
	Allowed      atomic.Uint64
	Silenced     atomic.Uint64
	Blocked      atomic.Uint64
	Disconnected atomic.Uint64
	Kicked       atomic.Uint64
	Challenged   atomic.Uint64

	mu        sync.Mutex
	latencies []time.Duration
}

func main() {
	scenario := flag.String("scenario", "mixed", "flood, pingspam, botwave, or mixed")
	concurrency := flag.Int("concurrency", 32, "number of concurrent attackers")
	duration := flag.Duration("duration", 10*time.Second, "how long to sustain the attack")
	report := flag.Duration("report", 2*time.Second, "progress reporting interval")
	configPath := flag.String("config", "", "pipeline configuration under test (defaults when empty)")
	flag.Parse()

	runners := map[string]func(*attacker){
		"flood":    (*attacker).flood,
		"pingspam": (*attacker).pingspam,
		"botwave":  (*attacker).botwave,
		"mixed":    (*attacker).mixed,
	}
	run, ok := runners[*scenario]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown scenario %q\n", *scenario)
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := guard.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	cfg.Ops.Enabled = false

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger().Level(zerolog.WarnLevel)
	g, err := guard.New(guard.Options{Config: cfg, Transport: devNullTransport{}, Logger: &logger})
	if err != nil {
		log.Fatalf("assemble pipeline: %v", err)
	}
	g.Start()

	stats := &simStats{}
	deadline := time.Now().Add(*duration)
	stopReport := make(chan struct{})
	go reportProgress(stats, *report, stopReport)

	var wg sync.WaitGroup
	for i := 0; i < *concurrency; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			a := &attacker{
				g:     g,
				stats: stats,
				rng:   rand.New(rand.NewSource(time.Now().UnixNano() + int64(id))),
				id:    id,
			}
			for time.Now().Before(deadline) {
				run(a)
			}
		}(i)
	}
	wg.Wait()
	close(stopReport)

	printResults(*scenario, *duration, stats, g.Status())
}

func reportProgress(stats *simStats, interval time.Duration, stop chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			fmt.Printf("progress: calls=%d allowed=%d blocked=%d silenced=%d kicked=%d challenged=%d\n",
				stats.Calls.Load(), stats.Allowed.Load(), stats.Blocked.Load(),
				stats.Silenced.Load(), stats.Kicked.Load(), stats.Challenged.Load())
		}
	}
}

func printResults(scenario string, duration time.Duration, stats *simStats, status guard.Status) {
	separator := "================================================================================"
	divider := "--------------------------------------------------------------------------------"

	calls := stats.Calls.Load()
	allowed := stats.Allowed.Load()
	contained := stats.Silenced.Load() + stats.Blocked.Load() + stats.Disconnected.Load() + stats.Kicked.Load()

	fmt.Println("\n" + separator)
	fmt.Println("📊 WARDSIM RESULTS")
	fmt.Println(separator)
	fmt.Printf("Scenario:               %s over %v\n", scenario, duration)
	fmt.Printf("Pipeline calls:         %d (%.0f/sec)\n", calls, float64(calls)/duration.Seconds())
	fmt.Printf("Allowed:                %d\n", allowed)
	fmt.Printf("Silenced:               %d\n", stats.Silenced.Load())
	fmt.Printf("Blocked:                %d\n", stats.Blocked.Load())
	fmt.Printf("Disconnected:           %d\n", stats.Disconnected.Load())
	fmt.Printf("Login kicks:            %d\n", stats.Kicked.Load())
	fmt.Printf("Sent to verification:   %d\n", stats.Challenged.Load())
	fmt.Println(divider)
	fmt.Printf("Blocklist size after:   %d\n", status.BlockedIPs)
	fmt.Printf("Tracked sources after:  %d\n", status.TrackedL4)
	fmt.Println(divider)

	stats.mu.Lock()
	lat := stats.latencies
	stats.mu.Unlock()
	fmt.Printf("Call latency (avg):     %v\n", average(lat))
	fmt.Printf("Call latency (p95):     %v\n", percentile(lat, 95))
	fmt.Printf("Call latency (p99):     %v\n", percentile(lat, 99))
	fmt.Println(separator)

	if scenario != "mixed" {
		// Pure attack scenarios should see almost everything contained.
		hostileHandled := contained + stats.Challenged.Load()
		share := float64(hostileHandled) / float64(hostileHandled+allowed) * 100
		if share >= 80 {
			fmt.Printf("✅ PASS: %.1f%% of hostile traffic contained\n", share)
		} else {
			fmt.Printf("❌ FAIL: only %.1f%% of hostile traffic contained\n", share)
		}
	}
	if p := percentile(lat, 95); p < time.Millisecond {
		fmt.Printf("✅ PASS: p95 pipeline call under 1ms (%v)\n", p)
	} else {
		fmt.Printf("⚠️  WARN: p95 pipeline call %v\n", p)
	}
	fmt.Println(separator + "\n")
}

func average(latencies []time.Duration) time.Duration {
	if len(latencies) == 0 {
		return 0
	}
	var total time.Duration
	for _, l := range latencies {
		total += l
	}
	return total / time.Duration(len(latencies))
}

func percentile(latencies []time.Duration, p int) time.Duration {
	if len(latencies) == 0 {
		return 0
	}
	sorted := make([]time.Duration, len(latencies))
	copy(sorted, latencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := len(sorted) * p / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

type devNullTransport struct{}

func (devNullTransport) WritePacket(uuid.UUID, guard.Outbound) error   { return nil }
func (devNullTransport) TransferToDestination(uuid.UUID, string) error { return nil }
func (devNullTransport) Disconnect(uuid.UUID, string) error            { return nil }
