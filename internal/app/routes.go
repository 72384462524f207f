package app

import (
	"context"
	"net/http"
	"time"

	"github.com/bissquit/uptime-garden/internal/catalog"
	"github.com/bissquit/uptime-garden/internal/events"
	"github.com/bissquit/uptime-garden/internal/pkg/ctxlog"
	"github.com/bissquit/uptime-garden/internal/pkg/httputil"
	"github.com/bissquit/uptime-garden/internal/reporting"
	"github.com/bissquit/uptime-garden/internal/version"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const (
	// requestTimeout bounds every API request, including report fan-out.
	requestTimeout = 60 * time.Second
	readyTimeout   = 2 * time.Second
)

const docsPage = `<!DOCTYPE html>
<html>
<head>
    <title>Uptime Garden API</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css">
</head>
<body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
    <script>
        SwaggerUIBundle({url: "/api/openapi.yaml", dom_id: "#swagger-ui"});
    </script>
</body>
</html>`

// setupRouter builds the public API router. Middleware order matters:
// metrics wrap everything and CORS answers preflights before logging.
func (a *App) setupRouter(location *time.Location) *chi.Mux {
	r := chi.NewRouter()

	r.Use(httputil.MetricsMiddleware)
	r.Use(httputil.CORSMiddleware(a.config.CORS.AllowedOrigins))
	r.Use(middleware.RequestID)
	r.Use(httputil.RequestLoggerMiddleware(a.logger))
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))

	r.Get("/healthz", a.healthzHandler)
	r.Get("/readyz", a.readyzHandler)
	r.Get("/version", a.versionHandler)

	r.Get("/api/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-yaml")
		http.ServeFile(w, r, "api/openapi/openapi.yaml")
	})

	r.Get("/docs", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(docsPage))
	})

	r.Route("/api/v1", a.mountAPI(location))

	return r
}

// mountAPI registers versioned routes. Only the anonymous status page
// routes are rate limited.
func (a *App) mountAPI(location *time.Location) func(chi.Router) {
	reportingHandler := reporting.NewHandler(
		reporting.NewService(a.catalogService, a.incidentService, reporting.Config{
			Location:    location,
			FleetWindow: a.config.Uptime.FleetWindow,
			Concurrency: a.config.Uptime.Concurrency,
		}),
		a.config.Uptime.MaxHistoryDays,
	)
	catalogHandler := catalog.NewHandler(a.catalogService)
	incidentHandler := events.NewHandler(a.incidentService)

	return func(r chi.Router) {
		r.Group(func(public chi.Router) {
			if rl := a.config.RateLimit; rl.Enabled {
				public.Use(httputil.NewRateLimiter(httputil.RateLimitConfig{RPS: rl.RPS, Burst: rl.Burst}).Middleware)
			}
			reportingHandler.RegisterPublicRoutes(public)
			incidentHandler.RegisterPublicRoutes(public)
		})

		catalogHandler.RegisterRoutes(r)
		reportingHandler.RegisterRoutes(r)
		incidentHandler.RegisterRoutes(r)
	}
}

// healthzHandler reports liveness only.
func (a *App) healthzHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.Text(w, http.StatusOK, "OK")
}

// readyzHandler fails while the database is unreachable.
func (a *App) readyzHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	if err := a.db.Ping(ctx); err != nil {
		ctxlog.FromContext(ctx).Warn("database not ready", "error", err)
		httputil.Text(w, http.StatusServiceUnavailable, "Database unavailable")
		return
	}
	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) versionHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.JSON(w, http.StatusOK, version.Get())
}
