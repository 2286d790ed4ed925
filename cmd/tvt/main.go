// Command tvt measures Hedera transaction fees by running batches of network
// actions and reporting what each one cost.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/gateway-fm/tvt/internal/account"
	"github.com/gateway-fm/tvt/internal/action"
	"github.com/gateway-fm/tvt/internal/config"
	"github.com/gateway-fm/tvt/internal/evm"
	"github.com/gateway-fm/tvt/internal/hedera"
	"github.com/gateway-fm/tvt/internal/metrics"
	"github.com/gateway-fm/tvt/internal/mirror"
	"github.com/gateway-fm/tvt/internal/netprofile"
	"github.com/gateway-fm/tvt/internal/pidfile"
	"github.com/gateway-fm/tvt/internal/pipeline"
	"github.com/gateway-fm/tvt/internal/pricing"
	"github.com/gateway-fm/tvt/internal/rpc"
	"github.com/gateway-fm/tvt/internal/runner"
	"github.com/gateway-fm/tvt/internal/scheduler"
	"github.com/gateway-fm/tvt/internal/storage"
	"github.com/gateway-fm/tvt/internal/transport"
	"github.com/gateway-fm/tvt/pkg/types"
)

func main() {
	if err := run(); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, "tvt:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	level, _ := config.ParseLogLevel(cfg.LogLevel)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	pid, err := pidfile.Acquire(cfg.PidDir, cfg.OperatorID, cfg.Network)
	if err != nil {
		return err
	}
	defer func() {
		if err := pid.Release(); err != nil {
			logger.Warn("failed to remove pid file", "path", pid.Path(), "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize storage
	if err := os.MkdirAll(filepath.Dir(cfg.DatabasePath), 0755); err != nil {
		return fmt.Errorf("create database dir: %w", err)
	}
	store, err := storage.NewSQLiteStorage(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("initialize storage: %w", err)
	}
	defer store.Close()
	logger.Info("initialized storage", "path", cfg.DatabasePath)

	keyType, err := hedera.ParseKeyType(cfg.KeyType)
	if err != nil {
		return err
	}
	op, err := hedera.ParseOperator(cfg.OperatorID, cfg.OperatorKey, keyType)
	if err != nil {
		return err
	}
	profile, err := netprofile.Resolve(cfg.Network, cfg.NetworkAddress)
	if err != nil {
		return err
	}
	client, err := hedera.NewClient(cfg.Network, cfg.NetworkAddress, op)
	if err != nil {
		return err
	}
	defer client.Close()

	bytecode, err := readBytecode(cfg.ContractBytecode)
	if err != nil {
		return err
	}

	var reuse types.Resources
	if cached, err := store.LoadResources(ctx, cfg.Network); err != nil {
		logger.Warn("failed to load cached resources", "error", err)
	} else if cached != nil {
		reuse = *cached
	}

	session, err := hedera.NewSession(ctx, hedera.SessionConfig{
		Client:   client,
		Operator: op,
		Bytecode: bytecode,
		Reuse:    reuse,
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("prepare session: %w", err)
	}
	if err := store.SaveResources(ctx, cfg.Network, session.Resources()); err != nil {
		logger.Warn("failed to cache resources", "error", err)
	}
	if balance, err := session.Balance(ctx); err == nil {
		logger.Info("operator balance", "operator", cfg.OperatorID, "balance", balance.String())
	}

	registry := action.NewRegistry()
	session.Register(registry)

	// EVM transactions sign with the operator key itself, so they need an
	// ECDSA operator.
	relay := rpc.NewHTTPClient(withLogger(rpc.DefaultClientConfig(profile.RelayURL), logger))
	var resyncer runner.Resyncer
	if keyType == hedera.KeyECDSA {
		acct, err := account.NewAccountFromHex(op.Key.StringRaw())
		if err != nil {
			return fmt.Errorf("derive evm account: %w", err)
		}
		evmClient := evm.New(evm.Config{
			RPC:       relay,
			Account:   acct,
			ChainID:   big.NewInt(profile.ChainID),
			Recipient: common.HexToAddress(session.ReceiverSolidityAddress()),
			Logger:    logger,
		})
		if err := evmClient.Resync(ctx); err != nil {
			logger.Warn("initial nonce sync failed", "error", err)
		}
		registry.Register(evmClient.Action())
		resyncer = evmClient
	}
	if missing := registry.Missing(); len(missing) > 0 {
		logger.Info("actions unavailable for this configuration", "actions", missing)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	prom := metrics.NewPrometheusMetrics(reg)

	mirrorClient := mirror.New(mirror.Config{
		BaseURL:    profile.MirrorURL,
		RatePerSec: 10,
		Logger:     logger,
	})

	p := pipeline.New(pipeline.Config{
		Network:    cfg.Network,
		Registry:   registry,
		Resyncer:   resyncer,
		Filter:     keyFilter(keyType),
		Policy:     runner.DefaultRetryPolicy(),
		Lanes:      cfg.Concurrency,
		Price:      pricing.NewCoinGecko(pricing.Config{Logger: logger}),
		Gas:        mirrorClient,
		ReportsDir: cfg.ReportsDir,
		Storage:    store,
		Metrics:    prom,
		Logger:     logger,
	})

	req := types.StartRunRequest{
		Quantity:    cfg.Quantity,
		Actions:     cfg.Actions,
		Concurrency: cfg.Concurrency,
	}
	sched := scheduler.New(scheduler.Config{
		Job: func(ctx context.Context) error {
			_, err := p.Run(ctx, req)
			return err
		},
		Logger: logger,
	})
	svc := pipeline.NewService(ctx, p, sched, store, logger)
	defer func() {
		stop()
		svc.Wait()
	}()

	if cfg.ListenAddr != "" {
		server := transport.NewServer(transport.Config{
			API: svc,
			Checks: []transport.HealthCheck{
				{Name: "relay", Check: func(ctx context.Context) error {
					_, err := relay.ChainID(ctx)
					return err
				}},
				{Name: "operator", Check: func(ctx context.Context) error {
					_, err := session.Balance(ctx)
					return err
				}},
			},
			Gatherer:           reg,
			CORSAllowedOrigins: cfg.CORSAllowedOrigins,
			Logger:             logger,
		})
		defer server.Close()

		httpServer := &http.Server{
			Addr:              cfg.ListenAddr,
			Handler:           server.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info("starting HTTP server", "addr", cfg.ListenAddr)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("HTTP server failed", "error", err)
				stop()
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			httpServer.Shutdown(shutdownCtx)
		}()
	}

	switch {
	case cfg.Schedule != "":
		var stopAt time.Time
		if cfg.StopAfter > 0 {
			stopAt = time.Now().Add(cfg.StopAfter)
		}
		if err := sched.Start(ctx, cfg.Schedule, stopAt); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			logger.Info("shutting down...")
		case <-sched.Done():
			logger.Info("scheduler finished")
		}
		<-sched.Stop().Done()
		return nil

	case cfg.Quantity > 0:
		ran, err := sched.TryRun(ctx)
		if err != nil {
			return err
		}
		if ran {
			status := p.Status()
			logger.Info("run completed",
				"runId", status.RunID,
				"records", status.Records,
				"unrecovered", status.Unrecovered,
				"reportDir", status.ReportDir)
		}
		return nil

	default:
		<-ctx.Done()
		logger.Info("shutting down...")
		return nil
	}
}

// keyFilter rejects actions the operator key cannot sign.
func keyFilter(kt hedera.KeyType) func(types.ActionKind) (bool, string) {
	return func(kind types.ActionKind) (bool, string) {
		if kind.RequiresEVMKey() && kt != hedera.KeyECDSA {
			return false, "requires an ECDSA operator key"
		}
		return true, ""
	}
}

func withLogger(cfg rpc.ClientConfig, logger *slog.Logger) rpc.ClientConfig {
	cfg.Logger = logger
	return cfg
}

func readBytecode(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read contract bytecode: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}
