// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command driftwatch starts the DriftWatch drift-detection server.
//
// DriftWatch monitors operational telemetry from upstream services and
// detects statistical drift:
//   - Per-service baselines (mean, stddev, p50/p95/p99) over a sliding window
//   - Two-rule z-score drift detection with hysteresis-based recovery
//   - Bounded asynchronous ingestion with backpressure
//   - Synthetic traffic simulator for end-to-end validation
//
// Usage:
//
//	go run ./cmd/driftwatch
//	go run ./cmd/driftwatch -port 9090 -data-dir /var/lib/driftwatch
//
// In-memory store (no persistence, useful for demos):
//
//	go run ./cmd/driftwatch -in-memory
//
// Example requests:
//
//	# Health check
//	curl http://localhost:8080/health
//
//	# Ingest a sample
//	curl -X POST http://localhost:8080/v1/telemetry \
//	  -H "Content-Type: application/json" \
//	  -d '{"service_id": "payment-service", "latency_ms": 150, "payload_kb": 2.5}'
//
//	# Query health state
//	curl http://localhost:8080/v1/health/payment-service | jq
//
//	# Run a spike simulation
//	curl -X POST http://localhost:8080/v1/simulate \
//	  -H "Content-Type: application/json" \
//	  -d '{"service_id": "payment-service", "mode": "SPIKE", "duration_seconds": 90, "samples_per_second": 10}'
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/AleutianAI/driftwatch/pkg/logging"
	"github.com/AleutianAI/driftwatch/services/driftwatch"
	"github.com/AleutianAI/driftwatch/services/driftwatch/store"
)

const shutdownGrace = 10 * time.Second

func main() {
	port := flag.Int("port", 8080, "Port to listen on")
	debug := flag.Bool("debug", false, "Enable debug mode")
	dataDir := flag.String("data-dir", "./data", "Badger data directory")
	inMemory := flag.Bool("in-memory", false, "Use an in-memory store (no persistence)")
	configPath := flag.String("config", "", "Optional YAML config file")
	logDir := flag.String("log-dir", "", "Optional log file directory")
	logLevel := flag.String("log-level", "INFO", "Log level (DEBUG, INFO, WARN, ERROR)")
	flag.Parse()

	level := logging.ParseLevel(*logLevel)
	if *debug {
		level = logging.LevelDebug
	}
	logger, err := logging.New(logging.Config{
		Level:   level,
		LogDir:  *logDir,
		Service: "driftwatch",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Close()
	slog.SetDefault(logger.Logger)

	// Config: defaults, then file, then environment.
	cfg := driftwatch.DefaultConfig()
	if *configPath != "" {
		if err := cfg.LoadFile(*configPath); err != nil {
			slog.Error("Failed to load config file", "path", *configPath, "error", err)
			os.Exit(1)
		}
	}
	if err := cfg.LoadEnv(); err != nil {
		slog.Error("Failed to load environment overrides", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	// Store
	var st store.Store
	if *inMemory {
		st, err = store.NewInMemoryStore()
	} else {
		storeCfg := store.DefaultConfig()
		storeCfg.Path = *dataDir
		st, err = store.NewBadgerStore(storeCfg)
	}
	if err != nil {
		slog.Error("Failed to open store", "error", err)
		os.Exit(1)
	}

	// Engine
	registry := prometheus.NewRegistry()
	metrics := driftwatch.NewMetrics(registry)
	clock := driftwatch.SystemClock{}

	baseline := driftwatch.NewBaselineManager(st, clock, &cfg, logger.Logger)
	detector := driftwatch.NewDriftDetector(st, clock, &cfg)
	health := driftwatch.NewHealthStateManager(st, baseline, detector, clock, &cfg, metrics, logger.Logger)
	ingest := driftwatch.NewIngestionService(st, health, clock, &cfg, metrics, logger.Logger)
	janitor := driftwatch.NewRetentionJanitor(st, clock, &cfg, logger.Logger)
	simulator := driftwatch.NewSimulationManager(ingest, logger.Logger)

	ingest.Start()
	janitor.Start()

	// HTTP surface
	if *debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	if err := driftwatch.RegisterValidators(); err != nil {
		slog.Error("Failed to register validators", "error", err)
		os.Exit(1)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	if *debug {
		router.Use(gin.Logger())
	}

	handlers := driftwatch.NewHandlers(ingest, health, st, simulator)
	driftwatch.RegisterRoutes(router, handlers, registry)

	printBanner(*port, *inMemory, *dataDir)

	// Handle graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		slog.Info("Shutting down DriftWatch server")
		simulator.StopAll()
		ingest.Stop(shutdownGrace)
		janitor.Stop()
		if err := st.Close(); err != nil {
			slog.Error("Store close failed", "error", err)
		}
		logger.Close()
		os.Exit(0)
	}()

	// Start server
	addr := fmt.Sprintf(":%d", *port)
	slog.Info("Starting DriftWatch server", slog.String("address", addr))
	if err := router.Run(addr); err != nil {
		slog.Error("Failed to start server", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

// printBanner prints the startup banner.
func printBanner(port int, inMemory bool, dataDir string) {
	storage := fmt.Sprintf("badger (%s)", dataDir)
	if inMemory {
		storage = "in-memory"
	}

	banner := `
╔═══════════════════════════════════════════════════════════════════╗
║                         DriftWatch  v%s                         ║
║          Statistical drift detection for service telemetry        ║
╠═══════════════════════════════════════════════════════════════════╣
║  Port:     %-54d ║
║  Storage:  %-54s ║
╚═══════════════════════════════════════════════════════════════════╝
`
	fmt.Printf(banner, driftwatch.ServiceVersion, port, storage)
}
