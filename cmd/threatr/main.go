package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/PiRogueToolSuite/threatr/pkg/api"
	"github.com/PiRogueToolSuite/threatr/pkg/config"
	"github.com/PiRogueToolSuite/threatr/pkg/graph"
	"github.com/PiRogueToolSuite/threatr/pkg/health"
	"github.com/PiRogueToolSuite/threatr/pkg/logging"
	"github.com/PiRogueToolSuite/threatr/pkg/metrics"
	"github.com/PiRogueToolSuite/threatr/pkg/modules"
	"github.com/PiRogueToolSuite/threatr/pkg/pubsub"
	"github.com/PiRogueToolSuite/threatr/pkg/scheduler"
	"github.com/PiRogueToolSuite/threatr/pkg/storage"
	"github.com/PiRogueToolSuite/threatr/pkg/taxonomy"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "threatr:", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	logger := logging.NewJSONLogger(os.Stdout, logging.ParseLevel(cfg.Logging.Level))
	logger.Info("threatr starting",
		logging.String("listen_addr", cfg.Server.ListenAddr),
		logging.Int("workers", cfg.Scheduler.Workers),
		logging.Int("modules", len(cfg.Modules)))

	ctx := context.Background()

	var store storage.Store
	if cfg.Database.URL != "" {
		pg, err := storage.NewPGStore(ctx, cfg.Database.URL)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer pg.Close()
		store = pg
		logger.Info("connected to postgres")
	} else {
		logger.Warn("no database configured, records will not survive restarts")
		store = storage.NewMemoryStore()
	}

	for _, seed := range cfg.Credentials {
		err := store.UpsertCredentials(ctx, &storage.VendorCredentials{
			Vendor:  seed.Vendor,
			Secrets: seed.Secrets,
		})
		if err != nil {
			return fmt.Errorf("seed credentials for %s: %w", seed.Vendor, err)
		}
	}

	registry := modules.NewRegistry(logger)
	for _, mc := range cfg.Modules {
		if err := registry.Register(modules.NewHTTPModule(mc, logger)); err != nil {
			return fmt.Errorf("install module %s: %w", mc.Identifier, err)
		}
	}

	var spool *storage.PayloadSpool
	if cfg.Spool.Dir != "" {
		spool, err = storage.NewPayloadSpool(cfg.Spool.Dir)
		if err != nil {
			return fmt.Errorf("open payload spool: %w", err)
		}
	}

	bus := pubsub.NewBus()
	defer bus.Shutdown()

	stopCollector := make(chan struct{})
	defer close(stopCollector)
	m := metrics.NewRegistry()
	m.StartSystemCollector(15*time.Second, stopCollector)

	upserter := graph.NewUpserter(store, logger)
	tax := taxonomy.NewDefault()

	orch := scheduler.NewOrchestrator(store, upserter, registry, tax,
		bus, m, spool, cfg.Scheduler.Workers, cfg.Scheduler.QueueSize, logger)
	defer orch.Close()

	checker := health.NewChecker()
	checker.Register("store", health.StoreCheck(store.Ping))
	checker.Register("scheduler", health.SchedulerCheck(func() (int, int, int) {
		st := orch.Status()
		return len(st.Workers), st.QueueDepth, cfg.Scheduler.QueueSize
	}))
	checker.Register("modules", health.ModulesCheck(func() int {
		return len(registry.Modules())
	}))

	server := api.NewServer(api.Options{
		Store:        store,
		Orchestrator: orch,
		Graph:        upserter,
		Registry:     registry,
		Taxonomy:     tax,
		Checker:      checker,
		Metrics:      m,
		Logger:       logger,
		APIKeyHashes: cfg.Auth.APIKeyHashes,
		ListenAddr:   cfg.Server.ListenAddr,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("shutting down", logging.String("signal", sig.String()))
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown failed", logging.Error(err))
		}
	}()

	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	logger.Info("threatr stopped")
	return nil
}
