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

	"github.com/xenking/secondhand-orders/internal/domain/auth"
	"github.com/xenking/secondhand-orders/internal/domain/order"
	"github.com/xenking/secondhand-orders/internal/domain/payment"
	"github.com/xenking/secondhand-orders/internal/domain/stock"
	"github.com/xenking/secondhand-orders/internal/events"
	"github.com/xenking/secondhand-orders/internal/handler"
	"github.com/xenking/secondhand-orders/internal/ordercode"
	"github.com/xenking/secondhand-orders/internal/payos"
	"github.com/xenking/secondhand-orders/internal/repository"
	"github.com/xenking/secondhand-orders/pkg/health"
	"github.com/xenking/secondhand-orders/pkg/httpmiddleware"
)

const webhookPath = "/payment/webhook"

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

	// Health check service.
	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, health.PoolCheck(pool, 0.95))
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))

	// Repositories.
	orderRepo := repository.NewOrderRepository(pool)
	productRepo := repository.NewProductRepository(pool)

	// Order codes: warm the seen-code filter with every stored code.
	issuer := ordercode.NewIssuer(ordercode.IssuerConfig{
		Length:   cfg.Order.CodeLength,
		Capacity: cfg.Order.CodeFilterSize,
		FPR:      cfg.Order.CodeFilterFPR,
	})
	if err := orderRepo.EachOrderCode(ctx, issuer.Observe); err != nil {
		return errors.Wrap(err, "load order codes")
	}

	var publisher events.Publisher = events.Nop{}
	if len(cfg.Kafka.Brokers) > 0 {
		kp, err := events.NewKafkaPublisher(events.KafkaConfig{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.Topic,
		})
		if err != nil {
			return errors.Wrap(err, "create event publisher")
		}
		defer func() { _ = kp.Close() }()
		healthSvc.AddDependencyCheck("kafka", 5*time.Second, kp.Ping)
		publisher = kp
	}

	// Domain services.
	orderService, err := order.NewService(
		orderRepo,
		productRepo,
		stock.NewWorker(productRepo, cfg.Order.StockConcurrency),
		issuer,
		publisher,
		order.Options{
			CodeAttempts:      cfg.Order.CodeAttempts,
			StrictTransitions: cfg.Order.StrictTransitions,
			TracerProvider:    m.TracerProvider(),
			MeterProvider:     m.MeterProvider(),
		},
	)
	if err != nil {
		return errors.Wrap(err, "create order service")
	}

	gateway, err := payos.New(payos.Config{
		BaseURL:         cfg.Payment.BaseURL,
		ClientID:        cfg.Payment.ClientID,
		APIKey:          cfg.Payment.APIKey,
		ChecksumKey:     cfg.Payment.ChecksumKey,
		ReturnURL:       cfg.Payment.ReturnURL,
		CancelURL:       cfg.Payment.CancelURL,
		Description:     cfg.Payment.Description,
		LinkTTL:         cfg.Payment.LinkTTL,
		Timeout:         cfg.Payment.Timeout,
		BreakerFailures: cfg.Payment.BreakerFailures,
		BreakerTimeout:  cfg.Payment.BreakerTimeout,
		Transport:       httpmiddleware.PropagateRequestID(http.DefaultTransport),
		TracerProvider:  m.TracerProvider(),
		Logger:          lg.Named("payos"),
	})
	if err != nil {
		return errors.Wrap(err, "create payment gateway")
	}
	healthSvc.AddDependencyCheck("payos", time.Second, gateway.Check)

	processor, err := payment.NewProcessor(orderService, gateway, payment.ProcessorConfig{
		MinorUnitsPerAmount: cfg.Payment.MinorUnitsPerAmount,
		MeterProvider:       m.MeterProvider(),
	})
	if err != nil {
		return errors.Wrap(err, "create payment processor")
	}

	healthSvc.Start(ctx, 10*time.Second)

	verifier, err := auth.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.Leeway)
	if err != nil {
		return errors.Wrap(err, "create token verifier")
	}

	// Router: health endpoints + API routes on one server.
	router := handler.NewHandler(orderService, processor).Router(verifier)
	router.Get("/livez", healthSvc.LiveEndpoint)
	router.Get("/readyz", healthSvc.ReadyEndpoint)
	routeFinder := httpmiddleware.MakeRouteFinder(router)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      cfg.Payment.Timeout + 10*time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler:           newMiddleware(ctx, router, cfg, routeFinder, m),
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
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
		close(shutdownDone)
	}()

	healthSvc.SetReady(true)
	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}

func newMiddleware(
	ctx context.Context,
	router chi.Router,
	cfg *Config,
	routeFinder httpmiddleware.RouteFinder,
	m httpmiddleware.Telemetry,
) http.Handler {
	return httpmiddleware.Wrap(router,
		httpmiddleware.RequestID(),
		httpmiddleware.InjectLogger(zctx.From(ctx)),
		httpmiddleware.Recovery(),
		httpmiddleware.CORS(httpmiddleware.CORSConfig{
			AllowOrigins:     cfg.CORS.Origins,
			AllowHeaders:     []string{"Content-Type", "Authorization"},
			AllowCredentials: cfg.CORS.AllowCredentials,
			MaxAge:           86400,
		}),
		httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
			Max:     cfg.RateLimit.Max,
			Window:  cfg.RateLimit.Window,
			KeyFunc: httpmiddleware.BearerOrIP,
			Skip: func(r *http.Request) bool {
				return r.URL.Path == webhookPath
			},
		}),
		httpmiddleware.Instrument("orders-api", routeFinder, m),
		httpmiddleware.LogRequests(routeFinder),
		httpmiddleware.Labeler(routeFinder),
	)
}
