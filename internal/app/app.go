// Package app provides application initialization and lifecycle management.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/bissquit/uptime-garden/internal/catalog"
	catalogpostgres "github.com/bissquit/uptime-garden/internal/catalog/postgres"
	"github.com/bissquit/uptime-garden/internal/config"
	"github.com/bissquit/uptime-garden/internal/events"
	eventspostgres "github.com/bissquit/uptime-garden/internal/events/postgres"
	"github.com/bissquit/uptime-garden/internal/pkg/metrics"
	"github.com/bissquit/uptime-garden/internal/pkg/postgres"
	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

// metricsInterval is how often status gauges are refreshed from the database.
const metricsInterval = 15 * time.Second

// App represents the application instance.
type App struct {
	config          *config.Config
	logger          *slog.Logger
	db              *pgxpool.Pool
	catalogService  *catalog.Service
	incidentService *events.Service
	server          *http.Server
	metricsServer   *http.Server
	metricsCancel   context.CancelFunc
}

// New connects to the database, optionally migrates it and builds both
// HTTP servers. Nothing listens until Run is called.
func New(cfg *config.Config) (*App, error) {
	logger := initLogger(cfg.Log)
	slog.SetDefault(logger)

	location, err := cfg.Uptime.Location()
	if err != nil {
		return nil, err
	}

	db, err := openDatabase(cfg.Database)
	if err != nil {
		return nil, err
	}

	if err := metrics.NewDBPoolCollector(db).Register(prometheus.DefaultRegisterer); err != nil {
		db.Close()
		return nil, fmt.Errorf("register db pool metrics: %w", err)
	}

	catalogService := catalog.NewService(catalogpostgres.NewRepository(db))

	metricsCtx, metricsCancel := context.WithCancel(context.Background())
	app := &App{
		config:          cfg,
		logger:          logger,
		db:              db,
		catalogService:  catalogService,
		incidentService: events.NewService(eventspostgres.NewRepository(db), catalogService),
		metricsCancel:   metricsCancel,
	}
	go app.collectStatusMetrics(metricsCtx)

	app.server = &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:           app.setupRouter(location),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	metricsRouter := chi.NewRouter()
	metricsRouter.Handle("/metrics", promhttp.Handler())
	app.metricsServer = &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, cfg.Server.MetricsPort),
		Handler:           metricsRouter,
		ReadTimeout:       5 * time.Second,
		ReadHeaderTimeout: 2 * time.Second,
		WriteTimeout:      10 * time.Second,
	}

	return app, nil
}

func openDatabase(cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()

	db, err := postgres.Connect(ctx, postgres.Config{
		URL:             cfg.URL,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnectAttempts: cfg.ConnectAttempts,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	if cfg.MigrateOnStart {
		if err := postgres.Migrate(cfg.MigrationsURL, cfg.URL); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate database: %w", err)
		}
	}
	return db, nil
}

// Run serves the API until the server is shut down. The metrics server runs
// in the background and only logs its failures.
func (a *App) Run() error {
	go func() {
		a.logger.Info("metrics server listening", "addr", a.metricsServer.Addr)
		if err := a.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server failed", "error", err)
		}
	}()

	a.logger.Info("api server listening",
		"addr", a.server.Addr,
		"timezone", a.config.Uptime.Timezone,
	)
	if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve api: %w", err)
	}
	return nil
}

// Shutdown stops both servers, waits for in-flight requests up to ctx's
// deadline and closes the database pool.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down servers")
	a.metricsCancel()

	var g errgroup.Group
	for name, srv := range map[string]*http.Server{"api": a.server, "metrics": a.metricsServer} {
		g.Go(func() error {
			if err := srv.Shutdown(ctx); err != nil {
				return fmt.Errorf("shutdown %s server: %w", name, err)
			}
			return nil
		})
	}
	err := g.Wait()

	a.db.Close()
	return err
}

// collectStatusMetrics refreshes the active-services-by-status gauge.
func (a *App) collectStatusMetrics(ctx context.Context) {
	record := func() {
		counts, err := a.catalogService.CountActiveServicesByStatus(ctx)
		if err != nil {
			if ctx.Err() == nil {
				a.logger.Error("failed to count services by status", "error", err)
			}
			return
		}
		catalog.RecordServiceStatusCounts(counts)
	}

	record()

	ticker := time.NewTicker(metricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			record()
		case <-ctx.Done():
			return
		}
	}
}

// Router returns the HTTP handler for testing.
func (a *App) Router() http.Handler {
	return a.server.Handler
}

// initLogger builds the process logger. Unknown levels fall back to info;
// config validation rejects them before this point.
func initLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}
