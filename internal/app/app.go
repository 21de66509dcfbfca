package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xenking/kart-storefront/internal/domain/order"
	"github.com/xenking/kart-storefront/internal/events"
	"github.com/xenking/kart-storefront/internal/storage/blob"
	"github.com/xenking/kart-storefront/internal/storage/docstore"
	"github.com/xenking/kart-storefront/internal/storage/kv"
	"github.com/xenking/kart-storefront/internal/storage/mongo"
	"github.com/xenking/kart-storefront/internal/storage/postgres"
	"github.com/xenking/kart-storefront/pkg/health"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing",
		zap.String("addr", cfg.Addr),
		zap.String("store", cfg.Store.Driver),
		zap.String("cart", cfg.Cart.Driver),
	)

	healthSvc := health.New()
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))

	docs, closeDocs, err := OpenDocuments(ctx, cfg.Store)
	if err != nil {
		return errors.Wrap(err, "open document store")
	}
	defer closeDocs()
	healthSvc.AddReadinessCheck("documents", 5*time.Second, health.PingCheck(docs))

	carts, closeCarts := openCartStore(cfg.Cart)
	defer closeCarts()
	healthSvc.AddReadinessCheck("carts", 2*time.Second, health.PingCheck(carts))

	media, err := blob.NewFS(cfg.Media.Root, cfg.Media.BaseURL)
	if err != nil {
		return errors.Wrap(err, "open media store")
	}

	var publisher order.Publisher
	if len(cfg.Kafka.Brokers) > 0 {
		p := events.NewPublisher(cfg.Kafka.Topic, cfg.Kafka.Brokers...)
		defer func() {
			if err := p.Close(); err != nil {
				lg.Warn("Close order publisher", zap.Error(err))
			}
		}()
		publisher = p
		lg.Info("Publishing order events", zap.Strings("brokers", cfg.Kafka.Brokers), zap.String("topic", cfg.Kafka.Topic))
	}

	svc, err := NewServices(cfg, Backends{
		Documents: docs,
		Carts:     carts,
		Media:     media,
		Publisher: publisher,
	}, m.MeterProvider(), m.TracerProvider())
	if err != nil {
		return err
	}

	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: NewRouter(ctx, cfg, svc, RouterOptions{
			Logger:         lg,
			Health:         healthSvc,
			Media:          media.Handler(),
			MeterProvider:  m.MeterProvider(),
			TracerProvider: m.TracerProvider(),
		}),
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

// OpenDocuments connects the configured document store. The returned func
// releases it.
func OpenDocuments(ctx context.Context, cfg StoreConfig) (docstore.Store, func(), error) {
	switch cfg.Driver {
	case DriverPostgres:
		store, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, errors.Wrap(err, "open postgres")
		}
		return store, store.Close, nil
	case DriverMongo:
		db, err := mongo.Connect(ctx, cfg.MongoURI, cfg.MongoDB)
		if err != nil {
			return nil, nil, errors.Wrap(err, "connect mongo")
		}
		store := mongo.NewDocumentStore(db)
		return store, func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = store.Close(closeCtx)
		}, nil
	case DriverMemory:
		return docstore.NewMemory(), func() {}, nil
	default:
		return nil, nil, errors.Errorf("unknown store driver %q", cfg.Driver)
	}
}

func openCartStore(cfg CartConfig) (kv.Store, func()) {
	if cfg.Driver != DriverRedis {
		return kv.NewMemory(), func() {}
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	return kv.NewRedis(client, cfg.TTL), func() { _ = client.Close() }
}
