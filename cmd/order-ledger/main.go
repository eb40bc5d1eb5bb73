// Command order-ledger consumes order.placed events into Postgres and serves
// the admin order API.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/azmarifdev/pickone-deploy-sub000/internal/config"
	"github.com/azmarifdev/pickone-deploy-sub000/internal/db"
	"github.com/azmarifdev/pickone-deploy-sub000/internal/events"
	"github.com/azmarifdev/pickone-deploy-sub000/internal/ledger"
	"github.com/azmarifdev/pickone-deploy-sub000/internal/middleware"
	"github.com/azmarifdev/pickone-deploy-sub000/pkg/logger"
)

const connectAttempts = 10

type eventConsumer interface {
	Start(ctx context.Context) error
	Close() error
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}
	log := logger.New(cfg.Log.Level, cfg.Log.Format)

	if cfg.Database.DSN == "" {
		log.Fatal("DATABASE_DSN is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sqlDB, err := db.Open(ctx, cfg.Database.DSN, 30, 2*time.Second, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to connect to database")
	}
	defer sqlDB.Close()

	if err := db.RunMigrations(cfg.Database.DSN, log); err != nil {
		log.WithError(err).Fatal("Failed to run migrations")
	}

	repo := ledger.NewRepository(sqlDB)

	consumer := connectConsumer(cfg, ledger.NewEventHandler(repo, log), log)
	if consumer != nil {
		defer consumer.Close()
		go func() {
			log.WithFields(logrus.Fields{
				"broker": cfg.Events.Broker,
				"topic":  cfg.Events.Topic,
			}).Info("Starting order event consumer")
			if err := consumer.Start(ctx); err != nil {
				log.WithError(err).Error("Order event consumer stopped")
			}
		}()
	}

	router := mux.NewRouter()
	ledger.NewHandler(repo, log).Register(router)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      middleware.Wrap(router, log, cfg.CORS.AllowedOrigins),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.WithField("port", cfg.Server.Port).Info("Starting order ledger")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("Failed to start server")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info("Shutting down order ledger...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("Server forced to shutdown")
	}
	cancel()

	log.Info("Order ledger gracefully stopped")
}

// connectConsumer retries the broker connection a few times since the
// broker usually starts alongside the ledger. It returns nil when no broker
// is configured.
func connectConsumer(cfg *config.Config, handler events.OrderEventHandler, log *logrus.Logger) eventConsumer {
	if cfg.Events.Broker == "none" {
		log.Warn("EVENTS_BROKER=none, serving the admin API without consuming events")
		return nil
	}

	var lastErr error
	for i := 0; i < connectAttempts; i++ {
		c, err := newConsumer(cfg, handler, log)
		if err == nil {
			return c
		}
		lastErr = err
		log.WithError(err).WithField("attempt", i+1).Warn("Failed to connect to broker, retrying...")
		time.Sleep(5 * time.Second)
	}
	log.WithError(lastErr).Fatal("Failed to create order event consumer after retries")
	return nil
}

func newConsumer(cfg *config.Config, handler events.OrderEventHandler, log *logrus.Logger) (eventConsumer, error) {
	if cfg.Events.Broker == "kafka" {
		c, err := events.NewKafkaConsumer(strings.Join(cfg.Events.KafkaBrokers, ","),
			cfg.Events.ConsumerGroup, cfg.Events.Topic, handler, log)
		if err != nil {
			return nil, err
		}
		return c, nil
	}

	conn, err := events.DialRabbit(cfg.Events.RabbitURL)
	if err != nil {
		return nil, err
	}
	c, err := events.NewRabbitConsumer(conn, cfg.Events.Topic, cfg.Events.ConsumerGroup, handler, log)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return &rabbitConsumer{RabbitConsumer: c, closeConn: conn.Close}, nil
}

type rabbitConsumer struct {
	*events.RabbitConsumer
	closeConn func() error
}

func (c *rabbitConsumer) Close() error {
	err := c.RabbitConsumer.Close()
	if cerr := c.closeConn(); err == nil {
		err = cerr
	}
	return err
}
