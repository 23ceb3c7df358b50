// Standalone ledger: serves account state over gRPC so that several
// orchestrators can share one SQLite database.
package main

import (
	"context"
	"log"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"tradedesk/internal/api"
	"tradedesk/internal/config"
	"tradedesk/internal/ledger"
	"tradedesk/internal/store"
	"tradedesk/internal/util"
)

func main() {
	cfgPath := "config/tradedesk.yaml"
	if p := os.Getenv("TRADEDESK_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger := util.NewLogger(util.LogOptions{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
	})
	util.SetDefault(logger)

	if err := os.MkdirAll(filepath.Dir(cfg.Storage.SQLitePath), 0o755); err != nil {
		log.Fatalf("creating data dir: %v", err)
	}
	st, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatalf("opening ledger store: %v", err)
	}
	defer st.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	svc := ledger.NewService(st, logger)
	if _, err := svc.Open(ctx, cfg.Ledger.AccountID, cfg.InitialCash()); err != nil {
		log.Fatalf("opening account: %v", err)
	}

	srv := api.NewServer(net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.GRPCPort)), svc, logger)
	if err := srv.ListenAndServe(ctx); err != nil {
		logger.Error("ledger server error", "error", err)
		os.Exit(1)
	}
}
