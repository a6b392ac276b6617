package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-inoperability/internal/auth"
	"github.com/ukydev/fleet-inoperability/internal/config"
	"github.com/ukydev/fleet-inoperability/internal/db"
	"github.com/ukydev/fleet-inoperability/internal/handlers"
	"github.com/ukydev/fleet-inoperability/internal/lock"
	"github.com/ukydev/fleet-inoperability/internal/metrics"
	"github.com/ukydev/fleet-inoperability/internal/notify"
	"github.com/ukydev/fleet-inoperability/internal/service"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const shutdownTimeout = 15 * time.Second

// backend holds the external connections and how to close them.
type backend struct {
	store   *db.Store
	locker  lock.Locker
	sender  notify.Sender
	ready   func(ctx context.Context) error
	closers []func()
}

func (b *backend) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

// openBackend connects the store, the lease locker and the notification
// sender. Redis and MQTT are optional; without them leases are local to this
// process and notifications are only logged.
func openBackend(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (*backend, error) {
	b := &backend{}

	switch cfg.StoreDriver {
	case config.StoreMemory:
		log.Warn("using in-memory store; data is lost on exit")
		b.store = db.NewMemoryStore()
	default:
		client, err := db.ConnectMongo(ctx, cfg.MongoURI)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, func() { _ = client.Disconnect(context.Background()) })
		database := client.Database(cfg.MongoDB)
		if err := db.EnsureIndexes(ctx, database); err != nil {
			b.Close()
			return nil, err
		}
		b.store = db.NewMongoStore(database)
		b.ready = func(ctx context.Context) error { return client.Ping(ctx, readpref.Primary()) }
		log.WithField("database", cfg.MongoDB).Info("connected to MongoDB")
	}

	if cfg.RedisAddr != "" {
		client, err := lock.Connect(ctx, cfg.RedisAddr)
		if err != nil {
			b.Close()
			return nil, err
		}
		b.closers = append(b.closers, func() { _ = client.Close() })
		b.locker = lock.NewRedis(client, "fleet:lock:", log)
		log.WithField("addr", cfg.RedisAddr).Info("using Redis leases")
	} else {
		b.locker = lock.NewLocal()
	}

	if cfg.MQTTBroker != "" {
		client, err := notify.ConnectMQTT(cfg.MQTTBroker, cfg.MQTTClientID, cfg.NotifyTimeout)
		if err != nil {
			b.Close()
			return nil, err
		}
		b.closers = append(b.closers, func() { client.Disconnect(250) })
		b.sender = notify.NewMQTTSender(client, cfg.MQTTTopicPrefix)
		log.WithField("broker", cfg.MQTTBroker).Info("publishing notifications over MQTT")
	} else {
		b.sender = notify.LogSender{Log: log}
	}
	return b, nil
}

// newServer wires the services over b and returns the HTTP server and the
// dispatcher that must be drained on shutdown.
func newServer(cfg *config.Config, b *backend, m *metrics.Metrics, log logrus.FieldLogger) (*http.Server, *notify.Dispatcher) {
	notifier := notify.NewDispatcher(b.sender, cfg.NotifyTimeout, log, m)
	maintenance := service.NewMaintenanceService(b.store, notifier, m, log)
	inoperative := service.NewInoperativeService(b.store, b.locker, maintenance.CompletionHook(),
		service.InoperativeOptions{StrictPhases: cfg.PhaseStrict, LockTTL: cfg.LockTTL}, m, log)

	router := handlers.NewRouter(handlers.Deps{
		Auth:              auth.NewService(cfg.JWTSecret, cfg.JWTExpiry),
		Users:             b.store.Users,
		Maintenance:       maintenance,
		Inoperative:       inoperative,
		Catalog:           service.NewCatalogService(b.store, log),
		Budgets:           service.NewBudgetService(b.store, log),
		Metrics:           m,
		Log:               log,
		RateLimitRequests: cfg.RateLimitRequests,
		RateLimitWindow:   cfg.RateLimitWindow,
		Ready:             b.ready,
	})

	return &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}, notifier
}

func run(ctx context.Context, cfg *config.Config, log *logrus.Logger) error {
	b, err := openBackend(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer b.Close()

	srv, notifier := newServer(cfg, b, metrics.New(), log)

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", srv.Addr).Info("HTTP server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		log.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("HTTP shutdown incomplete")
	}
	notifier.Wait()
	return nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("invalid configuration")
	}
	log := cfg.NewLogger()
	if cfg.JWTSecret == config.DefaultJWTSecret {
		log.Warn("JWT_SECRET is not set; using the built-in development secret")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.WithError(err).Fatal("server stopped")
	}
}
