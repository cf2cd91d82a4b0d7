package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xenking/printshop-discounts/internal/domain/discount"
	"github.com/xenking/printshop-discounts/internal/domain/sale"
	"github.com/xenking/printshop-discounts/internal/handler"
	"github.com/xenking/printshop-discounts/internal/repository"
	"github.com/xenking/printshop-discounts/internal/rulecache"
	"github.com/xenking/printshop-discounts/pkg/health"
	"github.com/xenking/printshop-discounts/pkg/httpmiddleware"
)

const serviceName = "printshop-discounts"

// server is the fully wired HTTP stack.
type server struct {
	handler http.Handler
	health  *health.Health
}

// newServer wires repositories, the discount engine, the sale service and
// the middleware chain on top of pool. Health checks are registered but not
// started.
func newServer(ctx context.Context, pool *pgxpool.Pool, m httpmiddleware.TelemetryProvider, cfg *Config) *server {
	// Repositories.
	ruleRepo := repository.NewRuleRepository(pool)
	usageRepo := repository.NewUsageRepository(pool)
	saleRepo := repository.NewSaleRepository(pool)

	// Domain services.
	rules := rulecache.New(ruleRepo, cfg.RuleCache.TTL)
	engine := discount.NewEngine(rules, usageRepo,
		discount.WithTracerProvider(m.TracerProvider()),
		discount.WithMeterProvider(m.MeterProvider()),
	)
	sales := sale.NewService(engine, saleRepo,
		sale.WithMaxAttempts(cfg.Finalize.MaxAttempts),
		sale.WithInvalidator(rules),
	)

	// Health check service.
	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck(pool))
	healthSvc.AddReadinessCheck("discount_rules", 5*time.Second, func(ctx context.Context) error {
		_, err := rules.ListValid(ctx, time.Now())
		return err
	}, health.WithFailureThreshold(5))
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))

	// Mux: health endpoints + API routes on one server.
	mux := http.NewServeMux()
	mux.HandleFunc("GET /livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("GET /readyz", healthSvc.ReadyEndpoint)
	handler.New(sales, rules).Register(mux)
	routeFinder := httpmiddleware.MakeRouteFinder(mux)

	h := httpmiddleware.Wrap(mux,
		httpmiddleware.Recovery(),
		httpmiddleware.RateLimit(ctx, httpmiddleware.RateLimitConfig{
			RPS:   cfg.RateLimit.RPS,
			Burst: cfg.RateLimit.Burst,
		}),
		httpmiddleware.RequestID(),
		httpmiddleware.InjectLogger(zctx.From(ctx)),
		httpmiddleware.Instrument(serviceName, routeFinder, m),
		httpmiddleware.LogRequests(routeFinder),
		httpmiddleware.Labeler(routeFinder),
	)

	return &server{handler: h, health: healthSvc}
}

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	// PostgreSQL pool + migrations.
	pool, err := repository.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	srv := newServer(ctx, pool, m, cfg)
	srv.health.Start(ctx, 10*time.Second)
	srv.health.SetReady(true)

	httpServer := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler:           srv.handler,
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		srv.health.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		srv.health.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}
