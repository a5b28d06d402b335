package trackingservice

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"pharmacy-delivery/internal/config"
	"pharmacy-delivery/internal/metrics"
	"pharmacy-delivery/internal/mylogger"
	"pharmacy-delivery/internal/tracking-service/adapters/driven/bm"
	"pharmacy-delivery/internal/tracking-service/adapters/driven/db"
	"pharmacy-delivery/internal/tracking-service/adapters/driven/memory"
	"pharmacy-delivery/internal/tracking-service/adapters/driver/myhttp"
	"pharmacy-delivery/internal/tracking-service/adapters/driver/myhttp/handle"
	"pharmacy-delivery/internal/tracking-service/core/services"

	"golang.org/x/sync/errgroup"
)

var errBrokerDown = errors.New("rabbitmq connection is closed")

// Execute runs the tracking service until a shutdown signal arrives or one of its parts fails.
func Execute(ctx context.Context, mylog mylogger.Logger, cfg *config.Config) error {
	newCtx, stop := signal.NotifyContext(ctx, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log := mylog.Action("tracking_service")
	m := metrics.New()
	checks := map[string]handle.HealthCheck{}

	deps := services.Deps{
		Metrics: m,
		Log:     mylog,
		Cfg:     cfg.Tracking,
	}

	switch cfg.Tracking.Storage {
	case config.StorageMemory:
		log.Warn("using in-memory storage, data is lost on restart")
		deps.Deliveries = memory.NewDeliveryRepo()
		deps.Locations = memory.NewLocationRepo()
		deps.Verifications = memory.NewVerificationRepo()
	default:
		database, err := db.ConnectDB(newCtx, cfg.DB, mylog)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer database.Close()

		if err := database.Migrate(newCtx); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		log.Info("Successful database connection")

		deps.Deliveries = db.NewDeliveryRepo(database)
		deps.Locations = db.NewLocationRepo(database)
		deps.Verifications = db.NewVerificationRepo(database)
		checks["postgres"] = database.IsAlive
	}

	var mq *bm.RabbitMQ
	if cfg.RabbitMq.Enabled {
		var err error
		mq, err = bm.New(newCtx, *cfg.RabbitMq, mylog)
		if err != nil {
			return fmt.Errorf("failed to connect to rabbitmq: %w", err)
		}
		defer func() {
			if err := mq.Close(); err != nil {
				log.Error("Failed to close rabbitmq", err)
			}
		}()
		log.Info("Successful message broker connection")

		publisher := bm.NewPublisher(mq, cfg.RabbitMq.Exchange, m, mylog)
		deps.Events = publisher
		deps.Codes = publisher
		checks["rabbitmq"] = func(ctx context.Context) error {
			if !mq.IsAlive() {
				return errBrokerDown
			}
			return nil
		}
	} else {
		log.Warn("rabbitmq disabled, events are not published")
		nop := bm.NewNopPublisher(mylog)
		deps.Events = nop
		deps.Codes = nop
	}

	svc, err := services.New(deps)
	if err != nil {
		return err
	}

	server := myhttp.NewServer(newCtx, mylog, cfg, svc, m, checks)

	g, gctx := errgroup.WithContext(newCtx)
	g.Go(server.Run)
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutdown signal received")
		return server.Stop(context.Background())
	})
	g.Go(func() error { return svc.Location.RunFlusher(gctx) })
	g.Go(func() error { return svc.Retention.Run(gctx) })
	if mq != nil {
		consumer := bm.NewOrderConsumer(mq, svc.Delivery, cfg.RabbitMq.OrderQueue, mylog)
		g.Go(func() error { return consumer.Run(gctx) })
	}

	if err := g.Wait(); err != nil {
		log.Error("Server failed unexpectedly", err)
		return err
	}
	log.Info("Server exited normally")
	return nil
}

// Migrate applies the schema and exits.
func Migrate(ctx context.Context, mylog mylogger.Logger, cfg *config.Config) error {
	database, err := db.ConnectDB(ctx, cfg.DB, mylog)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	if err := database.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	mylog.Action("migrate").Info("schema is up to date")
	return nil
}
