package main

import (
	"context"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"bountyvault/config"
	"bountyvault/core/events"
	"bountyvault/core/state"
	"bountyvault/gateway/routes"
	"bountyvault/native/escrow"
	"bountyvault/native/token"
	"bountyvault/observability"
	"bountyvault/observability/logging"
	"bountyvault/observability/otel"
	"bountyvault/storage"
)

func main() {
	cfgPath := flag.String("config", "config.toml", "path to the TOML configuration file")
	initAdmin := flag.String("init-admin", "", "hex address; performs one-time module initialization")
	reindex := flag.Bool("reindex", false, "rebuild escrow indices and counters before serving")
	flag.Parse()

	if err := run(*cfgPath, *initAdmin, *reindex); err != nil {
		fmt.Fprintf(os.Stderr, "bountyd: %v\n", err)
		os.Exit(1)
	}
}

func run(cfgPath, initAdmin string, reindex bool) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	logger := logging.Setup("bountyd", cfg.Environment)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Telemetry.Traces || cfg.Telemetry.Metrics {
		shutdown, err := otel.Init(ctx, otel.Config{
			ServiceName: "bountyd",
			Environment: cfg.Environment,
			Endpoint:    cfg.Telemetry.Endpoint,
			Insecure:    cfg.Telemetry.Insecure,
			Traces:      cfg.Telemetry.Traces,
			Metrics:     cfg.Telemetry.Metrics,
		})
		if err != nil {
			return fmt.Errorf("telemetry: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				logger.Warn("telemetry shutdown", "err", err)
			}
		}()
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	mgr := state.NewManager(db)
	if meta, err := mgr.Token(cfg.Token); err != nil {
		return err
	} else if meta == nil {
		if err := mgr.RegisterToken(cfg.Token, "Bounty Vault Token", 18); err != nil {
			return err
		}
	}
	ledger, err := token.NewLedger(mgr, cfg.Token)
	if err != nil {
		return err
	}

	feed := events.NewRecorder()
	engine := escrow.NewEngine()
	engine.SetState(mgr)
	engine.SetGateway(ledger)
	engine.SetEmitter(feed)
	engine.SetMetrics(observability.Escrow())

	if strings.TrimSpace(initAdmin) != "" {
		admin, err := parseAdmin(initAdmin)
		if err != nil {
			return err
		}
		switch err := engine.Initialize(admin, cfg.Token); {
		case err == nil:
			logger.Info("module initialized", "admin", initAdmin)
		case errors.Is(err, escrow.ErrAlreadyInitialized):
			logger.Info("module already initialized")
		default:
			return err
		}
		if err := engine.SetRefundMode(admin, cfg.ParsedRefundMode()); err != nil &&
			!errors.Is(err, escrow.ErrUnauthorized) {
			return err
		}
	}

	if reindex {
		logger.Info("rebuilding escrow indices")
		if err := mgr.ReindexEscrows(); err != nil {
			return fmt.Errorf("reindex: %w", err)
		}
	}

	go func() {
		logger.Info("metrics listening", "addr", cfg.MetricsAddress)
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(cfg.MetricsAddress, mux); err != nil {
			logger.Error("metrics server", "err", err)
		}
	}()

	srv := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           routes.NewRouter(engine, feed, logger),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("gateway listening", "addr", cfg.ListenAddress)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func parseAdmin(raw string) ([20]byte, error) {
	var addr [20]byte
	decoded, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(raw), "0x"))
	if err != nil || len(decoded) != 20 {
		return addr, fmt.Errorf("invalid admin address %q", raw)
	}
	copy(addr[:], decoded)
	return addr, nil
}
