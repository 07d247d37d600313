// Package server exposes the moderator API: JSON endpoints for moderation actions,
// live channel subscriptions over SSE and WebSocket, the inbound chat feed webhook,
// the audit export, and health/metrics. Correlation IDs are injected into request
// contexts for consistent logging.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/onnwee/mod-tender/audit"
	"github.com/onnwee/mod-tender/chat"
	"github.com/onnwee/mod-tender/config"
	"github.com/onnwee/mod-tender/moderation"
)

// Deps are the services the HTTP API drives.
type Deps struct {
	Engine *moderation.Engine
	Pump   *chat.Pump
	Audit  audit.Store
	Config *config.Config
}

// NewRouter returns the HTTP handler with all routes.
// The provided context is used for rate limiter cleanup goroutines lifecycle.
func NewRouter(ctx context.Context, d Deps) http.Handler {
	cfg := d.Config
	if cfg == nil {
		cfg = config.Defaults()
	}
	h := NewHandlers(d.Engine, d.Pump, d.Audit, cfg.SnapshotMax)
	authCfg := &authConfig{adminToken: cfg.AdminToken, enabled: cfg.AdminToken != ""}
	if !authCfg.enabled {
		slog.Warn("Admin authentication not configured - moderator endpoints are UNPROTECTED. Set ADMIN_TOKEN for production")
	}
	limiter := newIPRateLimiter(ctx, &rateLimiterConfig{
		enabled:       cfg.RateLimitEnabled,
		requestsPerIP: cfg.RateLimitRequests,
		window:        cfg.RateLimitWindow,
	})

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(withCorrelation)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Admin-Token", "X-Correlation-ID", "X-Moderator-ID"},
		ExposedHeaders:   []string{"Retry-After", "X-Correlation-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", h.HandleHealthz)
	r.Get("/readyz", h.HandleReadyz)

	r.Group(func(pr chi.Router) {
		pr.Use(func(next http.Handler) http.Handler { return adminAuth(next, authCfg) })

		// the platform feed is not rate limited per IP
		pr.Post("/feeds/events", h.HandleFeedEvents)

		pr.Group(func(mr chi.Router) {
			mr.Use(func(next http.Handler) http.Handler { return rateLimitMiddleware(next, limiter) })

			mr.Get("/audit", h.HandleAuditExport)
			mr.Route("/channels/{channelID}", func(cr chi.Router) {
				cr.Delete("/", h.HandleCloseChannel)
				cr.Get("/events", h.HandleEventsSSE)
				cr.Get("/ws", h.HandleWebSocket)
				cr.Get("/messages", h.HandleListMessages)
				cr.Post("/messages", h.HandleSendMessage)
				cr.Post("/messages/{messageID}/actions", h.HandleModerate)
				cr.Get("/users/{userID}/standing", h.HandleStanding)
				cr.Post("/users/{userID}/timeout", h.HandleTimeout)
				cr.Post("/users/{userID}/release", h.HandleRelease)
				cr.Post("/users/{userID}/ban", h.HandleBan)
				cr.Put("/slow-mode", h.HandleSlowMode)
			})
		})
	})
	return r
}

// Start runs the HTTP server and shuts down gracefully on context cancellation.
func Start(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
		// request contexts end with ctx so streaming sessions stop on shutdown
		BaseContext:       func(net.Listener) context.Context { return ctx },
		ReadHeaderTimeout: 5 * time.Second,
		// no WriteTimeout: SSE and WebSocket sessions are long-lived
		IdleTimeout: 60 * time.Second,
	}

	// Shutdown goroutine
	go func() {
		<-ctx.Done()
		// Use WithoutCancel to inherit context values but allow shutdown to complete
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("http server shutdown error", slog.Any("err", err))
		}
	}()

	slog.Info("http server listening", slog.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("http server error", slog.Any("err", err))
		return err
	}
	return nil
}
