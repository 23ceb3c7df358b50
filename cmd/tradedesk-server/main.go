package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"tradedesk/internal/api"
	"tradedesk/internal/config"
	"tradedesk/internal/engine"
	"tradedesk/internal/httpapi"
	"tradedesk/internal/ledger"
	"tradedesk/internal/market"
	"tradedesk/internal/notify"
	"tradedesk/internal/portfolio"
	"tradedesk/internal/store"
	"tradedesk/internal/util"
)

// ledgerBackend is what the server needs from either the embedded or the
// remote ledger.
type ledgerBackend interface {
	engine.Ledger
	httpapi.Accounts
}

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

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("tradedesk-server stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	g, ctx := errgroup.WithContext(ctx)

	// Ledger: remote over gRPC, or embedded on SQLite and served over gRPC.
	var backend ledgerBackend
	if cfg.Ledger.RemoteAddr != "" {
		client, err := api.DialLedger(cfg.Ledger.RemoteAddr)
		if err != nil {
			return err
		}
		defer client.Close()
		backend = client
		logger.Info("using remote ledger", "addr", cfg.Ledger.RemoteAddr)
	} else {
		svc, closeStore, err := openLedger(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer closeStore()
		backend = svc

		grpcServer := api.NewServer(addr(cfg.Server.Host, cfg.Server.GRPCPort), svc, logger)
		g.Go(func() error { return grpcServer.ListenAndServe(ctx) })
	}

	quotes, err := market.NewGatewayFromConfig(cfg, logger)
	if err != nil {
		return fmt.Errorf("market gateway: %w", err)
	}
	notifier, closeNotifier, err := notify.NewGatewayFromConfig(cfg.Notify, logger)
	if err != nil {
		return fmt.Errorf("notifier: %w", err)
	}
	defer func() {
		if err := closeNotifier(); err != nil {
			logger.Warn("closing notifier", "error", err)
		}
	}()

	orch := engine.New(engine.Config{
		AccountID:      cfg.Ledger.AccountID,
		QuoteTimeout:   cfg.Engine.QuoteTimeout,
		SettleTimeout:  cfg.Engine.SettleTimeout,
		NotifyTimeout:  cfg.Engine.NotifyTimeout,
		JournalTimeout: cfg.Engine.JournalTimeout,
	}, quotes, backend, notifier,
		engine.WithLogger(logger),
		engine.WithJournal(store.NewJournalArchive(cfg.Storage.DataDir)),
	)

	httpServer := &http.Server{
		Addr:              addr(cfg.Server.Host, cfg.Server.Port),
		Handler:           httpapi.NewTradeServer(orch, backend, portfolio.NewValuer(quotes, logger), logger).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	g.Go(func() error {
		logger.Info("trade API listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// openLedger opens the SQLite store and makes sure the configured account
// exists.
func openLedger(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*ledger.Service, func(), error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Storage.SQLitePath), 0o755); err != nil {
		return nil, nil, fmt.Errorf("creating data dir: %w", err)
	}
	st, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		return nil, nil, fmt.Errorf("opening ledger store: %w", err)
	}
	svc := ledger.NewService(st, logger)
	acct, err := svc.Open(ctx, cfg.Ledger.AccountID, cfg.InitialCash())
	if err != nil {
		st.Close()
		return nil, nil, fmt.Errorf("opening account: %w", err)
	}
	logger.Info("ledger ready", "account", acct.ID, "cash", acct.Cash.String(), "holdings", len(acct.Holdings))
	return svc, func() { st.Close() }, nil
}

func addr(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}
