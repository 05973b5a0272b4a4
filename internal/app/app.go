package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mernshop/checkout/internal/auth"
	"github.com/mernshop/checkout/internal/cache"
	domainauth "github.com/mernshop/checkout/internal/domain/auth"
	"github.com/mernshop/checkout/internal/domain/checkout"
	"github.com/mernshop/checkout/internal/domain/discount"
	"github.com/mernshop/checkout/internal/domain/order"
	"github.com/mernshop/checkout/internal/events"
	"github.com/mernshop/checkout/internal/gateway"
	"github.com/mernshop/checkout/internal/handler"
	"github.com/mernshop/checkout/internal/repository"
	"github.com/mernshop/checkout/pkg/health"
	"github.com/mernshop/checkout/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	// PostgreSQL pool + migrations.
	pool, err := repository.NewPool(ctx, cfg.DatabaseURL, repository.PoolConfig{
		MaxConns: cfg.Pool.MaxConns,
		MinConns: cfg.Pool.MinConns,
	})
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	version, err := repository.RunMigrations(pool, repository.MigrationsTable)
	if err != nil {
		return errors.Wrap(err, "run migrations")
	}
	lg.Info("Schema migrated", zap.Uint("version", version))

	healthSvc := health.New(health.Options{Interval: 10 * time.Second})
	healthSvc.Add(health.Readiness, "postgres", 5*time.Second, health.PingCheck(pool))
	healthSvc.Add(health.Liveness, "goroutines", time.Second, health.GoroutineCountCheck(10000))

	// Optional Redis: finalize cache and rate limiter.
	var rdb *redis.Client
	if cfg.RedisURL != "" {
		rdb, err = cache.NewClient(ctx, cfg.RedisURL, lg)
		if err != nil {
			return errors.Wrap(err, "connect redis")
		}
		defer func() { _ = rdb.Close() }()
		healthSvc.Add(health.Readiness, "redis", 2*time.Second, health.RedisCheck(rdb))
	}

	// Payment gateway behind a circuit breaker.
	breaker := gateway.NewBreaker(
		gateway.NewStripe(cfg.Stripe.SecretKey, nil),
		gateway.BreakerConfig{
			ConsecutiveFailures: cfg.Breaker.ConsecutiveFailures,
			OpenTimeout:         cfg.Breaker.OpenTimeout,
			Interval:            cfg.Breaker.Interval,
		},
		lg.Named("gateway"),
	)

	// Repositories and domain services.
	policy := discount.DefaultPolicy()
	policy.RewardThreshold = cfg.Discount.RewardThreshold
	policy.RewardPercentage = cfg.Discount.RewardPercentage
	policy.RewardTTL = cfg.Discount.RewardTTL
	policy.EnforceExpiry = cfg.Discount.EnforceExpiry

	ledger := discount.NewLedger(repository.NewDiscountRepository(pool), policy)
	recorder := order.NewRecorder(repository.NewOrderRepository(pool))

	opts := checkout.Options{
		Currency:       cfg.Currency,
		SuccessURL:     cfg.SuccessURL(),
		CancelURL:      cfg.CancelURL(),
		TracerProvider: m.TracerProvider(),
		MeterProvider:  m.MeterProvider(),
	}
	if rdb != nil {
		opts.Cache = cache.NewFinalized(rdb, cfg.Cache.TTL)
	}
	if brokers := events.ParseBrokers(cfg.Kafka.Brokers); len(brokers) > 0 {
		pub := events.NewPublisher(brokers, cfg.Kafka.Topic, cfg.Kafka.Timeout)
		defer func() {
			if err := pub.Close(); err != nil {
				lg.Warn("Close event publisher", zap.Error(err))
			}
		}()
		opts.Publisher = pub
		lg.Info("Publishing order events", zap.Strings("brokers", brokers), zap.String("topic", cfg.Kafka.Topic))
	}

	checkoutSvc, err := checkout.NewService(breaker, ledger, recorder, opts)
	if err != nil {
		return errors.Wrap(err, "create checkout service")
	}

	// HTTP handlers.
	hcfg := handler.HandlerConfig{RequestTimeout: cfg.RequestTimeout}
	if rdb != nil {
		limiter := httpmiddleware.NewRateLimiter(rdb, httpmiddleware.RateLimitConfig{
			Max:     cfg.RateLimit.Max,
			Window:  cfg.RateLimit.Window,
			Prefix:  "checkout:ratelimit:",
			KeyFunc: userRateLimitKey,
		})
		hcfg.PaymentMiddlewares = append(hcfg.PaymentMiddlewares, limiter.Middleware())
	}
	h := handler.NewHandler(hcfg, checkoutSvc, ledger)
	securityHandler := handler.NewSecurityHandler(auth.NewJWT(cfg.JWT.Secret, cfg.JWT.Leeway))

	router := chi.NewRouter()
	router.Use(
		httpmiddleware.Instrument("checkout-api", m),
		httpmiddleware.LogRequests(),
	)
	router.Get("/livez", healthSvc.LiveEndpoint)
	router.Get("/readyz", healthSvc.ReadyEndpoint)
	router.Mount("/api", h.Routes(securityHandler))

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(router,
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.RequestID(),
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:     cfg.AllowedOrigins(),
				AllowHeaders:     []string{"Content-Type", "Authorization"},
				AllowCredentials: true,
				MaxAge:           86400,
			}),
		),
	}

	healthSvc.Start(ctx)
	defer healthSvc.Stop()
	healthSvc.SetReady(true)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		lg.Info("Server listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server")
		}
		return nil
	})
	// Graceful shutdown: wait for cancellation, drain, then stop.
	g.Go(func() error {
		<-gctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			return errors.Wrap(err, "shutdown")
		}
		return nil
	})
	return g.Wait()
}

// userRateLimitKey limits per authenticated user and falls back to the
// client address.
func userRateLimitKey(r *http.Request) string {
	if id, ok := domainauth.FromContext(r.Context()); ok {
		return "user:" + id.UserID
	}
	return "ip:" + httpmiddleware.ClientIP(r)
}
