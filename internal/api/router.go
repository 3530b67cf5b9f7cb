// Package api provides the HTTP API for the plugin host.
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"norelock.dev/resonate/pluginhost/internal/api/handlers"
	appMiddleware "norelock.dev/resonate/pluginhost/internal/api/middleware"
	"norelock.dev/resonate/pluginhost/internal/auth"
	"norelock.dev/resonate/pluginhost/internal/config"
	"norelock.dev/resonate/pluginhost/internal/plugin"
	"norelock.dev/resonate/pluginhost/internal/services/playback"
	"norelock.dev/resonate/pluginhost/internal/services/search"
	"norelock.dev/resonate/pluginhost/internal/services/system"
	"norelock.dev/resonate/pluginhost/internal/utils"
)

// Router is the main HTTP router for the API.
type Router struct {
	*chi.Mux
	logger *utils.Logger
}

// NewRouter creates a new API router.
func NewRouter(
	registry *plugin.Registry,
	aggregator *search.Aggregator,
	broadcaster *playback.Broadcaster,
	healthService *system.HealthService,
	metrics *system.Metrics,
	authManager *auth.Manager,
	cfg *config.Config,
	logger *utils.Logger,
) *Router {
	r := chi.NewRouter()
	apiLogger := logger.Named("api")

	// Create middleware
	recoveryMiddleware := appMiddleware.NewRecoveryMiddleware(apiLogger)
	loggerMiddleware := appMiddleware.NewLoggerMiddleware(apiLogger, metrics)
	corsConfig := appMiddleware.DefaultCORSConfig()
	if len(cfg.Auth.AllowedOrigins) > 0 {
		corsConfig.AllowedOrigins = cfg.Auth.AllowedOrigins
	}
	corsMiddleware := appMiddleware.NewCORSMiddleware(corsConfig, apiLogger)
	authMiddleware := appMiddleware.NewAuthMiddleware(authManager, apiLogger)

	// Create handlers
	authHandler := handlers.NewAuthHandler(authManager, apiLogger)
	pluginHandler := handlers.NewPluginHandler(registry, apiLogger)
	searchHandler := handlers.NewSearchHandler(aggregator, apiLogger)
	mediaHandler := handlers.NewMediaHandler(registry, apiLogger)
	playbackHandler := handlers.NewPlaybackHandler(broadcaster, metrics, handlers.WSOptions{
		MaxMessageSize: cfg.WebSocket.MaxMessageSize,
		WriteWait:      cfg.WebSocket.WriteWait,
		PongWait:       cfg.WebSocket.PongWait,
	}, apiLogger)
	healthHandler := handlers.NewHealthHandler(healthService, apiLogger)

	// Apply global middleware
	r.Use(recoveryMiddleware.Recovery)
	r.Use(loggerMiddleware.Logger)
	r.Use(corsMiddleware.CORS)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Heartbeat("/ping"))

	// Public routes
	r.Group(func(r chi.Router) {
		r.Get("/health", healthHandler.Health)

		if cfg.Features.EnableMetrics {
			r.Handle("/metrics", promhttp.Handler())
		}

		r.Route("/auth", func(r chi.Router) {
			r.Post("/token", authHandler.Token)
		})

		// Read-only plugin catalogue
		r.Route("/plugins", func(r chi.Router) {
			r.Get("/", pluginHandler.List)
			r.Get("/{id}", pluginHandler.Get)
			r.Get("/{id}/schema", pluginHandler.ConfigSchema)
		})

		// Search routes
		r.Route("/search", func(r chi.Router) {
			r.Post("/", searchHandler.Start)
			r.Get("/{sessionId}", searchHandler.Poll)
			r.Post("/{sessionId}/more", searchHandler.LoadMore)
			r.Delete("/{sessionId}", searchHandler.Discard)
		})

		// Per-provider media routes
		r.Route("/media/{id}", func(r chi.Router) {
			r.Post("/resolve", mediaHandler.Resolve)
			r.Post("/lyric", mediaHandler.Lyric)
			r.Get("/album/{albumId}", mediaHandler.Album)
			r.Get("/artist/{artistId}", mediaHandler.Artist)
			r.Get("/recommendations", mediaHandler.Recommendations)
		})

		// Playback ingestion
		r.Post("/playback/report", playbackHandler.Report)
		r.Get("/ws/playback", playbackHandler.Socket)
	})

	// Admin routes: everything that mutates the registry
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware.RequireAdmin)

		r.Route("/admin/plugins", func(r chi.Router) {
			r.Post("/", pluginHandler.Load)
			r.Delete("/{id}", pluginHandler.Unload)
			r.Post("/{id}/update", pluginHandler.Update)
			r.Post("/{id}/enable", pluginHandler.Enable)
			r.Post("/{id}/disable", pluginHandler.Disable)
			r.Put("/{id}/variables", pluginHandler.SetVariable)
			r.Post("/{id}/test", pluginHandler.TestConnection)
		})
	})

	return &Router{
		Mux:    r,
		logger: apiLogger,
	}
}
