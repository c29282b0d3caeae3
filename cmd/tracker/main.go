// Package main runs the DLMM activity tracker: live feeds, event
// classification and fan-out, portfolio engine, command API, and the
// HTTP health/metrics/status surface.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dlmm-tracker/internal/config"
	"dlmm-tracker/internal/core"
	"dlmm-tracker/internal/notify"
	"dlmm-tracker/internal/observability"
	chstore "dlmm-tracker/internal/storage/clickhouse"
	"dlmm-tracker/internal/storage/memory"
	"dlmm-tracker/internal/storage/migrations"
	pgstore "dlmm-tracker/internal/storage/postgres"
)

func main() {
	metricsAddr := flag.String("metrics-addr", ":9090", "health/metrics/status HTTP address")
	useMemory := flag.Bool("use-memory", false, "use in-memory storage instead of PostgreSQL/ClickHouse")
	flag.Parse()

	logger := log.New(os.Stdout, "[tracker] ", log.LstdFlags|log.Lshortfile)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("config: %v", err)
	}
	if *useMemory {
		cfg.UseMemory = true
	}
	if !cfg.UseMemory && (cfg.PostgresDSN == "" || cfg.ClickhouseDSN == "") {
		logger.Fatal("POSTGRES_DSN and CLICKHOUSE_DSN are required (use --use-memory for in-memory storage)")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stores, cleanup, err := createStores(ctx, cfg)
	if err != nil {
		logger.Fatalf("Failed to create stores: %v", err)
	}
	defer cleanup()

	tracker, err := core.New(core.Options{
		Config: cfg,
		Stores: stores,
		Sink:   logSink(logger),
		Logger: logger,
	})
	if err != nil {
		logger.Fatalf("Failed to assemble tracker: %v", err)
	}

	done := make(chan error, 1)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, initiating graceful shutdown...", sig)
		cancel()

		select {
		case sig := <-sigCh:
			logger.Printf("Received second signal %v, forcing immediate shutdown", sig)
			os.Exit(1)
		case <-time.After(30 * time.Second):
			logger.Println("Graceful shutdown timed out after 30s, forcing exit")
			os.Exit(1)
		case <-done:
		}
	}()

	go startHTTPServer(*metricsAddr, tracker, logger)

	err = tracker.Run(ctx)
	done <- err
	cancel()

	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatalf("Tracker error: %v", err)
	}
	logger.Println("Shutdown complete")
}

// createStores builds the persistence layer, running migrations on the
// durable backends.
func createStores(ctx context.Context, cfg *config.Config) (core.Stores, func(), error) {
	if cfg.UseMemory {
		stores := core.Stores{
			Subscribers: memory.NewSubscriberStore(),
			SeenTxs:     memory.NewSeenTxStore(),
			History:     memory.NewVolumeHistoryStore(),
		}
		return stores, func() {}, nil
	}

	pool, err := pgstore.NewPool(ctx, cfg.PostgresDSN)
	if err != nil {
		return core.Stores{}, nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		pool.Close()
		return core.Stores{}, nil, fmt.Errorf("postgres migrations: %w", err)
	}

	conn, err := migrations.RunClickhouseMigrations(ctx, cfg.ClickhouseDSN)
	if err != nil {
		pool.Close()
		return core.Stores{}, nil, fmt.Errorf("clickhouse migrations: %w", err)
	}

	stores := core.Stores{
		Subscribers: pgstore.NewSubscriberStore(pool, cfg.MaxRecentAlerts),
		SeenTxs:     pgstore.NewSeenTxStore(pool),
		History:     chstore.NewVolumeHistoryStore(conn),
	}
	cleanup := func() {
		conn.Close()
		pool.Close()
	}
	return stores, cleanup, nil
}

// logSink is the default delivery boundary: alerts go to the process
// log. A chat transport plugs in here.
func logSink(logger *log.Logger) notify.Sink {
	return notify.Func(func(_ context.Context, chatID int64, msg notify.Message) notify.SendResult {
		logger.Printf("alert chat=%d: %s", chatID, msg.Text)
		return notify.SendResult{Status: notify.SentOk}
	})
}

// startHTTPServer serves health, Prometheus metrics, and runtime status.
func startHTTPServer(addr string, tracker *core.Core, logger *log.Logger) {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", observability.Handler())
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(tracker.Status())
	})

	logger.Printf("Starting HTTP server on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
		logger.Printf("HTTP server error: %v", err)
	}
}
