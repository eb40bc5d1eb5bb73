// Command dlq-monitor logs order events the ledger could not decode and
// parked on the Kafka dead-letter topic.
package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/azmarifdev/pickone-deploy-sub000/internal/config"
	"github.com/azmarifdev/pickone-deploy-sub000/internal/events"
	"github.com/azmarifdev/pickone-deploy-sub000/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}
	log := logger.New(cfg.Log.Level, cfg.Log.Format)

	if cfg.Events.Broker != "kafka" {
		log.WithField("broker", cfg.Events.Broker).Fatal("dlq-monitor only supports EVENTS_BROKER=kafka")
	}

	monitor, err := events.NewDeadLetterMonitor(strings.Join(cfg.Events.KafkaBrokers, ","), "dlq-monitor-group", log)
	if err != nil {
		log.WithError(err).Fatal("Failed to create DLQ consumer")
	}
	defer monitor.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := monitor.Start(ctx); err != nil {
			log.WithError(err).Error("DLQ monitor stopped")
		}
	}()

	log.WithField("topic", events.OrderPlacedDLQTopic).Info("DLQ monitor started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info("Shutting down DLQ monitor...")
}
