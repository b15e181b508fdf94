package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"disputepay/config"
	"disputepay/core/events"
	"disputepay/native/escrow"
	"disputepay/observability/logging"
	"disputepay/rpc"
	"disputepay/storage"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("DISPUTEPAY_ENV"))

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.Setup("disputepayd", env, logging.FileOptions{
		Path:       cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		MaxAgeDays: cfg.LogMaxAgeDays,
	})

	owner, err := cfg.OwnerAddress()
	if err != nil {
		logger.Error("Failed to decode owner address", slog.Any("error", err))
		os.Exit(1)
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		logger.Error("Failed to open database", slog.String("dir", cfg.DataDir), slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	ledger, err := escrow.NewLedger(db)
	if err != nil {
		logger.Error("Failed to open payment ledger", slog.Any("error", err))
		os.Exit(1)
	}
	registry, err := escrow.NewRegistry(owner.Bytes())
	if err != nil {
		logger.Error("Failed to initialise registry", slog.Any("error", err))
		os.Exit(1)
	}
	rail := escrow.NewAccountRail(db)

	eventLog, err := events.NewLog(db)
	if err != nil {
		logger.Error("Failed to open event log", slog.Any("error", err))
		os.Exit(1)
	}

	engine := escrow.NewEngine(ledger, registry, rail)
	engine.SetEmitter(eventLog)
	registry.SetEmitter(eventLog)

	server := rpc.NewServer(engine, rail, eventLog)
	srv := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           server,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("disputepayd listening",
			slog.String("addr", cfg.ListenAddress),
			slog.String("network", cfg.NetworkName),
			slog.Uint64("payments", ledger.Counter()))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Server stopped", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info("shutting down disputepayd")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Graceful shutdown failed", slog.Any("error", err))
	}
}
