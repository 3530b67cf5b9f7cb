package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"norelock.dev/resonate/pluginhost/internal/api"
	"norelock.dev/resonate/pluginhost/internal/auth"
	"norelock.dev/resonate/pluginhost/internal/config"
	"norelock.dev/resonate/pluginhost/internal/plugin"
	"norelock.dev/resonate/pluginhost/internal/sandbox"
	"norelock.dev/resonate/pluginhost/internal/services/playback"
	"norelock.dev/resonate/pluginhost/internal/services/search"
	"norelock.dev/resonate/pluginhost/internal/services/system"
	"norelock.dev/resonate/pluginhost/internal/store"
	"norelock.dev/resonate/pluginhost/internal/utils"
)

func main() {
	// Create a context that will be canceled on interrupt signal
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("Received shutdown signal")
		cancel()
	}()

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger := utils.NewLogger(utils.LoggerOptions{
		Development:      cfg.Environment == "development",
		Level:            utils.ParseLevel(cfg.Logging.Level),
		OutputPaths:      cfg.Logging.OutputPaths,
		ErrorOutputPaths: cfg.Logging.ErrorOutputPaths,
	})
	defer logger.Sync()

	logger.Info("Starting plugin host", "environment", cfg.Environment)

	for _, warning := range config.ValidateAndFixConfig(cfg) {
		logger.Warn("Configuration warning", "warning", warning)
	}

	// Initialize the snapshot store
	registryStore, err := newStore(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to open registry store", err)
	}
	defer func() {
		if err := registryStore.Close(context.Background()); err != nil {
			logger.Error("Failed to close registry store", err)
		}
	}()

	// Initialize metrics
	metrics := system.NewMetrics(prometheus.DefaultRegisterer)

	// Initialize the sandbox runtime
	runtime := sandbox.NewRuntime(sandbox.Options{
		CallTimeout:      cfg.Sandbox.CallTimeout,
		FetchTimeout:     cfg.Sandbox.FetchTimeout,
		FetchUserAgent:   cfg.Sandbox.FetchUserAgent,
		MaxResponseBytes: cfg.Sandbox.MaxResponseBytes,
	}, logger)

	// Initialize the plugin registry and restore persisted plugins
	registry := plugin.NewRegistry(runtime, registryStore, plugin.RegistryOptions{
		PageSize:             cfg.Search.PageSize,
		MaxSourceBytes:       cfg.Sandbox.MaxSourceBytes,
		UserAgent:            cfg.Sandbox.FetchUserAgent,
		DisableLegacyAdapter: !cfg.Features.EnableLegacyAdapter,
	}, logger)

	if err := registry.Restore(ctx); err != nil {
		logger.Error("Failed to restore plugin registry", err)
	}
	defer registry.Close(context.Background())

	// Keep the plugin gauge in step with the registry
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			total, _ := registry.Counts()
			metrics.SetPluginsLoaded(total)
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return
			}
		}
	}()

	// Initialize services
	aggregator := search.NewAggregator(registry, metrics, search.Options{
		ProviderTimeout: cfg.Search.ProviderTimeout,
		MaxConcurrent:   cfg.Search.MaxConcurrent,
	}, logger)

	broadcaster := playback.NewBroadcaster(registry, metrics, cfg.Sandbox.CallTimeout, logger)

	healthService := system.NewHealthService(registryStore, registry)

	authManager := auth.NewManager(cfg.Auth.JWTSecret, cfg.Auth.AdminKey, cfg.Auth.TokenExpiry, logger)

	// Initialize API router
	router := api.NewRouter(
		registry,
		aggregator,
		broadcaster,
		healthService,
		metrics,
		authManager,
		cfg,
		logger,
	)

	// Start the HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		logger.Error("HTTP server failed", err)
	case <-ctx.Done():
	}

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", err)
	}

	logger.Info("Server stopped")
}

// newStore selects the snapshot store implementation from configuration.
func newStore(cfg *config.Config, logger *utils.Logger) (store.Store, error) {
	switch cfg.Store.Driver {
	case "mongodb":
		return store.NewMongoStore(store.MongoOptions{
			URI:         cfg.Store.MongoDB.URI,
			Database:    cfg.Store.MongoDB.Database,
			Timeout:     cfg.Store.MongoDB.Timeout,
			MaxPoolSize: cfg.Store.MongoDB.MaxPoolSize,
		}, logger)
	default:
		return store.NewBoltStore(cfg.Store.Bolt.Path, logger)
	}
}
