package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	_ "go.uber.org/automaxprocs"

	"github.com/luminet-im/luminet/internal/config"
	"github.com/luminet-im/luminet/internal/events"
	"github.com/luminet-im/luminet/internal/logging"
	"github.com/luminet-im/luminet/internal/monitoring"
	"github.com/luminet-im/luminet/internal/server"
	"github.com/luminet-im/luminet/internal/store"
)

func main() {
	var (
		debug = flag.Bool("debug", false, "enable debug logging and detailed error replies")
	)
	flag.Parse()

	cfg, err := config.LoadConfig(nil)
	if err != nil {
		bootstrap := logging.NewLogger(logging.Config{Level: "info", Format: "json"})
		bootstrap.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if *debug {
		cfg.LogLevel = "debug"
		cfg.Debug = true
	}

	logger := logging.InitGlobalLogger(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	logger.Info().Int("gomaxprocs", runtime.GOMAXPROCS(0)).Msg("Runtime configured")
	cfg.LogConfig(logger)

	publisher := events.NewNoop()
	if cfg.NATSURL != "" {
		publisher, err = events.Connect(cfg.NATSURL, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to connect event publisher")
		}
	}

	srv, err := server.NewServer(cfg, logger, store.Noop{}, publisher)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create server")
	}

	monitorCtx, stopMonitor := context.WithCancel(context.Background())
	defer stopMonitor()

	go func() {
		if err := monitoring.Serve(monitorCtx, cfg.MetricsAddr, logger); err != nil {
			logger.Error().Err(err).Msg("Metrics listener failed")
		}
	}()
	sysMonitor := monitoring.NewSystemMonitor(logger)
	sysMonitor.Start(monitorCtx, cfg.MetricsInterval)

	if err := srv.Start(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start server")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info().Str("signal", sig.String()).Msg("Shutting down")

	if err := srv.Shutdown(); err != nil {
		logger.Error().Err(err).Msg("Error during shutdown")
	}
	stopMonitor()
	sysMonitor.Stop()
}
