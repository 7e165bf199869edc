package app

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/chrissnell/powermeter/internal/controllers/restserver"
	"github.com/chrissnell/powermeter/internal/ingest"
	"github.com/chrissnell/powermeter/internal/log"
	"github.com/chrissnell/powermeter/internal/managers"
	"github.com/chrissnell/powermeter/internal/observability"
	"github.com/chrissnell/powermeter/pkg/config"
)

// App represents the main application
type App struct {
	configProvider config.ConfigProvider
	logger         *zap.SugaredLogger
}

// New creates a new application instance
func New(configProvider config.ConfigProvider, logger *zap.SugaredLogger) *App {
	return &App{
		configProvider: configProvider,
		logger:         logger,
	}
}

// Run starts the application and blocks until shutdown
func (a *App) Run(ctx context.Context) error {
	var wg sync.WaitGroup

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)

	// Initialize the storage manager
	storageManager, err := managers.NewStorageManager(ctx, &wg, a.configProvider, metrics)
	if err != nil {
		return err
	}

	// The relay resolves the store endpoint per request
	endpoint := ingest.ProviderEndpoint(a.configProvider)
	relay := ingest.NewRelay(endpoint, nil)
	if _, err := endpoint(); err != nil {
		a.logger.Warnf("store endpoint is not configured yet; ingestion will fail until it is: %v", err)
	}

	// Initialize the meter sources
	msm, err := managers.NewMeterSourceManager(ctx, a.configProvider, relay, a.logger)
	if err != nil {
		return err
	}
	go msm.StartMeterSources()

	// Initialize the controller manager
	cm, err := managers.NewControllerManager(ctx, &wg, a.configProvider, restserver.Dependencies{
		Store:    storageManager.Store,
		Live:     storageManager.Hub,
		Health:   storageManager.Health,
		Ingest:   ingest.NewHandler(relay, metrics),
		Endpoint: endpoint,
		Metrics:  metrics,
		Gatherer: registry,
	}, a.logger)
	if err != nil {
		return err
	}
	err = cm.StartControllers()
	if err != nil {
		return err
	}

	log.Info("Application started successfully")

	// Set up signal handling
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	// Wait for shutdown signal
	select {
	case <-sigs:
		log.Info("shutdown signal received, initiating graceful shutdown...")
	case <-ctx.Done():
		log.Info("context cancelled, shutting down...")
	}

	// Cancel context to signal all goroutines to stop
	cancel()

	// Wait for all workers to terminate
	log.Info("waiting for all workers to terminate...")
	wg.Wait()
	log.Info("shutdown complete")

	return nil
}
