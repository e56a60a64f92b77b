// Package app wires the order API server together.
package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/retail-orders/internal/domain/order"
	"github.com/xenking/retail-orders/internal/events"
	"github.com/xenking/retail-orders/internal/handler"
	"github.com/xenking/retail-orders/internal/storage/postgres"
	"github.com/xenking/retail-orders/pkg/health"
	"github.com/xenking/retail-orders/pkg/httpmiddleware"
)

const serviceName = "retail-orders"

// Run creates all dependencies, starts the HTTP server and the outbox relay,
// and handles graceful shutdown. It is the single wiring point for the
// application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))
	ctx = zctx.Base(ctx, lg)

	// PostgreSQL pool + migrations.
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	// Repositories.
	txManager := postgres.NewTxManager(pool)
	orderRepo := postgres.NewOrderRepository(pool)
	userRepo := postgres.NewUserRepository(pool)
	cartRepo := postgres.NewCartRepository(pool)
	productRepo := postgres.NewProductRepository(pool)
	outboxRepo := postgres.NewOutboxRepository(pool)
	apikeyRepo := postgres.NewAPIKeyRepository(pool)

	// Domain services.
	orderService, err := order.NewService(txManager, orderRepo, userRepo, cartRepo, productRepo,
		order.WithEventRecorder(outboxRepo),
		order.WithAllowEmptyCart(cfg.Orders.AllowEmptyCart),
		order.WithTracerProvider(m.TracerProvider()),
		order.WithMeterProvider(m.MeterProvider()),
	)
	if err != nil {
		return errors.Wrap(err, "create order service")
	}
	queryService := order.NewQueryService(orderRepo, userRepo, productRepo)

	brokers := cfg.Kafka.BrokerList()
	healthSvc := newHealth(pool, outboxRepo.OldestPending, brokers, cfg.Health)

	// HTTP handlers.
	securityHandler := handler.NewSecurityHandler(apikeyRepo, []byte(cfg.APIKeyPepper))
	h := handler.NewHandler(orderService, queryService, securityHandler)

	root := chi.NewRouter()
	root.Get("/livez", healthSvc.LiveEndpoint)
	root.Get("/readyz", healthSvc.ReadyEndpoint)
	root.Mount("/api", h.Routes())

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(root,
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:     cfg.CORS.Origins,
				AllowHeaders:     []string{"Content-Type", handler.HeaderAPIKey, httpmiddleware.HeaderRequestID},
				ExposeHeaders:    []string{"Location", httpmiddleware.HeaderRequestID},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.RateLimit(ctx, httpmiddleware.RateLimitConfig{
				Max:    cfg.RateLimit.Max,
				Window: cfg.RateLimit.Window,
			}),
			httpmiddleware.InjectLogger(lg),
			httpmiddleware.RequestID(),
			httpmiddleware.Instrument(serviceName, m.TracerProvider(), m.MeterProvider()),
			httpmiddleware.LogRequests(),
		),
	}

	g, gCtx := errgroup.WithContext(ctx)

	if len(brokers) > 0 {
		publisher := events.NewKafkaPublisher(brokers, cfg.Kafka.Topic)
		relay := events.NewRelay(outboxRepo, publisher, cfg.Kafka.RelayInterval, cfg.Kafka.BatchSize)
		g.Go(func() error {
			defer func() {
				if err := publisher.Close(); err != nil {
					lg.Warn("Close kafka writer", zap.Error(err))
				}
			}()
			return relay.Run(gCtx)
		})
	} else {
		lg.Warn("Kafka brokers not configured, order events stay in the outbox")
	}

	// Graceful shutdown: wait for cancellation, drain, then stop.
	g.Go(func() error {
		<-gCtx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		return nil
	})

	g.Go(func() error {
		healthSvc.Start(gCtx, cfg.Health.Interval)
		healthSvc.SetReady(true)

		lg.Info("Server listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server")
		}
		return nil
	})

	return g.Wait()
}

// newHealth registers the process probes. The outbox lag check is registered
// only when brokers is non-empty, that is when the relay runs.
func newHealth(
	db health.Pinger,
	oldestPending func(ctx context.Context) (time.Duration, error),
	brokers []string,
	cfg HealthConfig,
) *health.Health {
	h := health.New()
	h.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	h.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck(db))
	if len(brokers) > 0 {
		h.AddReadinessCheck("outbox", 5*time.Second,
			health.LagCheck(oldestPending, cfg.MaxRelayLag),
			health.WithFailureThreshold(2),
		)
	}
	return h
}
