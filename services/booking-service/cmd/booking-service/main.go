package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/md-rashed-zaman/medbook/libs/auth"
	"github.com/md-rashed-zaman/medbook/libs/config"
	"github.com/md-rashed-zaman/medbook/libs/db"
	"github.com/md-rashed-zaman/medbook/libs/httpx"
	"github.com/md-rashed-zaman/medbook/libs/kafkax"
	otelx "github.com/md-rashed-zaman/medbook/libs/otel"
	"github.com/md-rashed-zaman/medbook/libs/runtime"
	"github.com/md-rashed-zaman/medbook/services/booking-service/internal/catalog"
	"github.com/md-rashed-zaman/medbook/services/booking-service/internal/consumer"
	"github.com/md-rashed-zaman/medbook/services/booking-service/internal/fulfillment"
	"github.com/md-rashed-zaman/medbook/services/booking-service/internal/handlers"
	"github.com/md-rashed-zaman/medbook/services/booking-service/internal/identity"
	"github.com/md-rashed-zaman/medbook/services/booking-service/internal/inbox"
	"github.com/md-rashed-zaman/medbook/services/booking-service/internal/lifecycle"
	"github.com/md-rashed-zaman/medbook/services/booking-service/internal/lock"
	"github.com/md-rashed-zaman/medbook/services/booking-service/internal/metrics"
	"github.com/md-rashed-zaman/medbook/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/medbook/services/booking-service/internal/payments"
	"github.com/md-rashed-zaman/medbook/services/booking-service/internal/storage"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		panic(err)
	}
	service := config.String("SERVICE_NAME", "booking-service")
	port, err := config.Port("PORT", "8083")
	if err != nil {
		panic(err)
	}
	grpcPort, err := config.Port("GRPC_PORT", "9093")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}
	pool, err := db.Open(ctx, dbURL, db.Options{})
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	var rdb *redis.Client
	if raw := config.String("REDIS_URL", ""); raw != "" {
		opts, err := redis.ParseURL(raw)
		if err != nil {
			panic(err)
		}
		rdb = redis.NewClient(opts)
		defer func() { _ = rdb.Close() }()
	} else {
		logger.Warn("REDIS_URL not set; catalog cache, payment locks and revocations are process-local")
	}

	catalogTTL, err := config.Duration("CATALOG_CACHE_TTL", 5*time.Minute)
	if err != nil {
		panic(err)
	}
	lockTTL, err := config.Duration("PAYMENT_LOCK_TTL", 30*time.Second)
	if err != nil {
		panic(err)
	}
	webhookTolerance, err := config.Int("STRIPE_WEBHOOK_TOLERANCE_SECONDS", 300)
	if err != nil {
		panic(err)
	}
	rateLimit, err := config.Int("RATE_LIMIT_PER_MINUTE", 120)
	if err != nil {
		panic(err)
	}
	brokers := config.String("KAFKA_BROKERS", "")

	bookingMetrics := metrics.New(nil)
	outboxRepo := outbox.NewRepository()
	inboxRepo := inbox.NewRepository()
	bookings := storage.NewBookingRepository(pool, outboxRepo)
	orders := storage.NewOrderRepository(pool)
	doctors := catalog.New(storage.NewProviderRepository(pool), rdb, catalogTTL, logger)

	var locker lock.Locker = lock.NewLocalLocker()
	if rdb != nil {
		locker = lock.NewRedisLocker(rdb)
	}

	gateway, checkout, err := newGateway(logger)
	if err != nil {
		panic(err)
	}
	verifier, err := newVerifier(logger, gateway.Name())
	if err != nil {
		panic(err)
	}

	ctrl := lifecycle.New(lifecycle.Deps{
		Bookings:  bookings,
		Orders:    orders,
		Providers: doctors,
		Gateway:   gateway,
		Verifier:  verifier,
		Locker:    locker,
		Metrics:   bookingMetrics,
		Logger:    logger,
	}, lifecycle.Config{
		Currency: config.String("PAYMENT_CURRENCY", "INR"),
		LockTTL:  lockTTL,
	})

	bookingHandler := handlers.New(handlers.Deps{
		Controller: ctrl,
		Catalog:    doctors,
		Ledger:     inbox.NewLedger(pool, inboxRepo, "stripe-webhook"),
		Checkout:   checkout,
		Metrics:    bookingMetrics,
		Logger:     logger,
	}, handlers.Config{
		StripeWebhookSecret:    config.String("STRIPE_WEBHOOK_SECRET", ""),
		StripeWebhookTolerance: time.Duration(webhookTolerance) * time.Second,
	})

	tokenVerifier, err := newTokenVerifier()
	if err != nil {
		panic(err)
	}
	var revocations identity.Revocations = identity.NewMemoryRevocations()
	if rdb != nil {
		revocations = identity.NewRedisRevocations(rdb, 24*time.Hour)
	}
	resolver := identity.NewResolver(tokenVerifier, revocations)
	hub := identity.NewHub()
	stopRevoke := identity.RevokeOnSignOut(hub, revocations, logger)
	defer stopRevoke()

	if brokers != "" {
		authEvents := consumer.New(logger, pool, inboxRepo, hub, consumer.Config{
			Brokers: brokers,
			GroupID: config.String("KAFKA_GROUP_ID", "booking-service"),
			Topic:   config.String("AUTH_EVENTS_TOPIC", "auth.session.events.v1"),
		})
		go authEvents.Run(ctx)

		outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
			Brokers:   brokers,
			PollEvery: 2 * time.Second,
			BatchSize: 50,
		})
		go outboxPublisher.Run(ctx)
	} else {
		logger.Warn("KAFKA_BROKERS not set; outbox events stay unpublished")
	}

	if err := startGrpcServer(ctx, logger, grpcPort, fulfillment.NewService(bookings, bookingMetrics, logger)); err != nil {
		logger.Error("grpc server init failed", "err", err)
		panic(err)
	}

	checks := []runtime.ReadyCheck{{Name: "db", Check: db.ReadyCheck(pool)}}
	if rdb != nil {
		checks = append(checks, runtime.ReadyCheck{Name: "redis", Check: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
	}
	if brokers != "" {
		checks = append(checks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)})
	}
	mux := runtime.NewBaseMux(promhttp.Handler(), checks...)
	bookingHandler.Register(mux)

	httpHandler := httpx.Chain(mux,
		httpx.WithCORS(httpx.BrowserCORSPolicy(config.List("CORS_ALLOWED_ORIGINS"))),
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithRecover(logger),
		httpx.RateLimit(logger, rdb, rateLimit, time.Minute),
		httpx.WithBodyLimit(1<<20),
		httpx.WithTimeout(15*time.Second),
		identity.Middleware(resolver, logger),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "booking")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	if err := runtime.RunServer(ctx, logger, srv, 10*time.Second); err != nil {
		logger.Error("http server error", "err", err)
	}
	logger.Info("http server stopped")
}

func newGateway(logger *slog.Logger) (payments.Gateway, handlers.CheckoutSimulator, error) {
	switch strings.ToLower(config.String("PAYMENT_GATEWAY", "mock")) {
	case "stripe":
		key, err := config.RequiredString("STRIPE_SECRET_KEY")
		if err != nil {
			return nil, nil, err
		}
		g, err := payments.NewStripeGateway(key, nil)
		if err != nil {
			return nil, nil, err
		}
		return g, nil, nil
	default:
		logger.Warn("using mock payment gateway; dev checkout enabled")
		g := payments.NewMockGateway(config.String("PAYMENT_SIGNING_SECRET", "dev-signing-secret"))
		return g, g, nil
	}
}

func newVerifier(logger *slog.Logger, gateway string) (payments.Verifier, error) {
	kind, err := verifierKind(gateway, config.String("PAYMENT_VERIFIER", ""))
	if err != nil {
		return nil, err
	}
	switch kind {
	case "stripe":
		key, err := config.RequiredString("STRIPE_SECRET_KEY")
		if err != nil {
			return nil, err
		}
		v, err := payments.NewStripeVerifier(key, nil)
		if err != nil {
			return nil, err
		}
		return v, nil
	case "stub":
		logger.Warn("payment verification is stubbed; every confirmation is accepted")
		return payments.StubVerifier{}, nil
	default:
		v, err := payments.NewHMACVerifier(config.String("PAYMENT_SIGNING_SECRET", "dev-signing-secret"))
		if err != nil {
			return nil, err
		}
		return v, nil
	}
}

// verifierKind resolves PAYMENT_VERIFIER against the gateway. An unset value
// follows the gateway; a verifier that cannot check the gateway's payments is
// a startup error.
func verifierKind(gateway, configured string) (string, error) {
	gateway = strings.ToLower(strings.TrimSpace(gateway))
	kind := strings.ToLower(strings.TrimSpace(configured))
	if kind == "" {
		if gateway == "stripe" {
			return "stripe", nil
		}
		return "hmac", nil
	}
	switch kind {
	case "stub":
		return kind, nil
	case "stripe":
		if gateway != "stripe" {
			return "", fmt.Errorf("PAYMENT_VERIFIER=stripe cannot verify %s gateway payments", gateway)
		}
		return kind, nil
	case "hmac":
		if gateway == "stripe" {
			return "", errors.New("PAYMENT_VERIFIER=hmac cannot verify stripe payments; use stripe")
		}
		return kind, nil
	default:
		return "", fmt.Errorf("unknown PAYMENT_VERIFIER %q", configured)
	}
}

func newTokenVerifier() (*auth.Verifier, error) {
	cfg := auth.VerifierConfig{
		Secret:   config.String("JWT_SECRET", ""),
		Issuer:   config.String("JWT_ISSUER", ""),
		Audience: config.String("JWT_AUDIENCE", ""),
	}
	if url := config.String("JWKS_URL", ""); url != "" {
		ttl, err := config.Duration("JWKS_CACHE_TTL", 10*time.Minute)
		if err != nil {
			return nil, err
		}
		cfg.JWKS = auth.NewJWKSClient(url, ttl)
	}
	return auth.NewVerifier(cfg)
}
