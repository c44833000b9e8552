// Package app wires the application together and runs the HTTP server.
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
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/xenking/coursekart/internal/adapter/kafkanotify"
	"github.com/xenking/coursekart/internal/adapter/paymenthttp"
	"github.com/xenking/coursekart/internal/cartstore"
	"github.com/xenking/coursekart/internal/domain/auth"
	"github.com/xenking/coursekart/internal/domain/cart"
	"github.com/xenking/coursekart/internal/domain/coupon"
	"github.com/xenking/coursekart/internal/domain/order"
	"github.com/xenking/coursekart/internal/domain/refund"
	"github.com/xenking/coursekart/internal/handler"
	"github.com/xenking/coursekart/internal/repository"
	"github.com/xenking/coursekart/pkg/health"
	"github.com/xenking/coursekart/pkg/httpmiddleware"
	"github.com/xenking/coursekart/pkg/retry"
)

// Run creates all dependencies, starts the HTTP server and background
// workers, and handles graceful shutdown. It is the single wiring point for
// the application.
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

	// Redis cart store.
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return errors.Wrap(err, "ping redis")
	}

	// Health check service.
	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, func(ctx context.Context) error {
		return pool.Ping(ctx)
	})
	healthSvc.AddReadinessCheck("redis", 5*time.Second, func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	})
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	// Repositories.
	courseRepo := repository.NewCourseRepository(pool)
	couponRepo := repository.NewCouponRepository(pool)
	orderRepo := repository.NewOrderRepository(pool)
	refundRepo := repository.NewRefundRepository(pool)
	apikeyRepo := repository.NewAPIKeyRepository(pool)

	// Coupon code prefilter, rebuilt periodically from the active code set.
	codeFilter := coupon.NewCodeFilter(cfg.Coupon.FilterCapacity, cfg.Coupon.FilterFPRate)
	if err := codeFilter.RebuildFrom(ctx, couponRepo); err != nil {
		return errors.Wrap(err, "build coupon filter")
	}
	go rebuildFilterLoop(ctx, codeFilter, couponRepo, cfg.Coupon.RebuildInterval)

	// Outbound adapters.
	payments := paymenthttp.New(cfg.PaymentURL, cfg.Order.Currency, 10*time.Second)

	var notifier order.Notifier = logNotifier{}
	if len(cfg.KafkaBrokers) > 0 {
		kn := kafkanotify.New(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer kn.Close()
		notifier = kn
	}

	// Domain services.
	couponValidator := coupon.NewRepoValidator(couponRepo, codeFilter)
	cartSvc := cart.NewService(
		cartstore.NewRedisStore(rdb, cfg.Cart.TTL),
		courseRepo, courseRepo, cfg.Order.TaxRate,
	)
	engine := order.NewEngine(
		orderRepo, cartSvc, courseRepo, couponValidator, couponRepo,
		payments, notifier, courseRepo,
		order.Config{
			MinAmount:        cfg.Order.MinAmount,
			TaxRate:          cfg.Order.TaxRate,
			Currency:         cfg.Order.Currency,
			Timeout:          cfg.Order.Timeout,
			BatchConcurrency: cfg.Order.BatchConcurrency,
		},
	)
	refundProc := refund.NewProcessor(refundRepo, orderRepo, engine, payments, cfg.Refund.Window)

	// Expiry sweeper.
	go sweepLoop(ctx, engine, cfg.Order.SweepInterval, cfg.Order.SweepBatch)

	// HTTP surface.
	verifier := auth.NewVerifier(apikeyRepo, cfg.APIKeyPepper)
	h := handler.New(cartSvc, engine, refundProc, verifier)

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
		Handler: httpmiddleware.Wrap(
			otelhttp.NewHandler(root, "coursekart-api",
				otelhttp.WithTracerProvider(m.TracerProvider()),
				otelhttp.WithMeterProvider(m.MeterProvider()),
			),
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:     cfg.CORS.Origins,
				AllowHeaders:     []string{"Content-Type", "Authorization", "X-API-Key", "X-User-ID"},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
				Max:    cfg.RateLimit.Max,
				Window: cfg.RateLimit.Window,
			}),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.LogRequests(),
		),
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

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}

// sweepLoop cancels expired pending orders on a fixed interval. Each sweep is
// retried with backoff on retryable storage failures.
func sweepLoop(ctx context.Context, engine *order.Engine, interval time.Duration, batch int) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := retry.Do(ctx, 30*time.Second, func() error {
				n, err := engine.SweepExpired(ctx, batch)
				if n > 0 {
					zctx.From(ctx).Info("expired orders cancelled", zap.Int("count", n))
				}
				return err
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				zctx.From(ctx).Error("expiry sweep", zap.Error(err))
			}
		}
	}
}

// rebuildFilterLoop keeps the coupon prefilter in sync with codes added after
// startup.
func rebuildFilterLoop(ctx context.Context, f *coupon.CodeFilter, repo coupon.Repository, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := f.RebuildFrom(ctx, repo); err != nil && !errors.Is(err, context.Canceled) {
				zctx.From(ctx).Error("rebuild coupon filter", zap.Error(err))
			}
		}
	}
}

// logNotifier is the no-broker fallback: order events only hit the log.
type logNotifier struct{}

func (logNotifier) NotifyOrderEvent(ctx context.Context, orderID, event string) {
	zctx.From(ctx).Info("order event",
		zap.String("order_id", orderID),
		zap.String("event", event))
}
