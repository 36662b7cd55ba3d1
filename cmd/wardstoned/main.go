// wardstoned runs the wardstone pipeline standalone: it hosts the ops
// surface (status, blocklist, event stream, metrics) and, with -soak,
// drives synthetic traffic through the pipeline so an instance can be
// observed under load before a proxy front-end is attached.
//
// SIGHUP reloads the configuration file; SIGINT and SIGTERM shut down
// gracefully.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/wardstone/wardstone/internal/monitoring"
	"github.com/wardstone/wardstone/pkg/guard"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "wardstone.yml", "path to the YAML configuration file")
	soak := flag.Bool("soak", false, "generate synthetic traffic against the pipeline")
	soakClients := flag.Int("soak-clients", 8, "concurrent synthetic clients when -soak is set")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := guard.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := monitoring.NewLogger(cfg.Logging)

	g, err := guard.New(guard.Options{
		ConfigPath: *configPath,
		Transport:  sinkTransport{log: logger},
		Logger:     &logger,
	})
	if err != nil {
		log.Fatalf("assemble pipeline: %v", err)
	}
	g.Start()
	logger.Info().Str("config", *configPath).Msg("wardstoned up")

	var driver *soaker
	if *soak {
		driver = newSoaker(g, logger, *soakClients)
		driver.start()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	for sig := range sigCh {
		if sig == syscall.SIGHUP {
			if err := g.Reload(); err != nil {
				logger.Error().Err(err).Msg("reload failed")
			}
			continue
		}

		logger.Info().Str("signal", sig.String()).Msg("shutting down")
		if driver != nil {
			driver.stop()
		}
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := g.Stop(ctx); err != nil {
			logger.Warn().Err(err).Msg("ops server did not drain cleanly")
		}
		cancel()
		return
	}
}
