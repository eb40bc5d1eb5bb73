package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	MaxRetries        = 3
	InitialRetryDelay = 1 * time.Second
	MaxRetryDelay     = 30 * time.Second
)

// RetryPolicy bounds how often a failing operation is re-run. Delays double
// up to MaxDelay.
type RetryPolicy struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:   MaxRetries,
		InitialDelay: InitialRetryDelay,
		MaxDelay:     MaxRetryDelay,
	}
}

// Do runs fn until it succeeds, the retries run out or ctx is done. A ctx
// error is returned as is so callers can tell shutdown from failure.
func (p RetryPolicy) Do(ctx context.Context, log *logrus.Entry, fn func(context.Context) error) error {
	delay := p.InitialDelay
	var err error

	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		if attempt > 0 {
			log.WithFields(logrus.Fields{
				"attempt": attempt,
				"delay":   delay,
			}).Info("Retrying")

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}

			delay *= 2
			if p.MaxDelay > 0 && delay > p.MaxDelay {
				delay = p.MaxDelay
			}
		}

		if err = fn(ctx); err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.WithError(err).WithField("attempt", attempt+1).Warn("Attempt failed")
	}

	return fmt.Errorf("exhausted %d retries: %w", p.MaxRetries, err)
}

func (p RetryPolicy) handle(ctx context.Context, handler OrderEventHandler, event OrderPlacedEvent, log *logrus.Entry) error {
	return p.Do(ctx, log.WithField("order_id", event.OrderID), func(ctx context.Context) error {
		return handler.HandleOrderPlaced(ctx, event)
	})
}

// RetryingPublisher publishes through next with a bounded retry. An event
// that still cannot be published is logged in full so it can be replayed.
type RetryingPublisher struct {
	next   Publisher
	retry  RetryPolicy
	logger *logrus.Logger
}

func NewRetryingPublisher(next Publisher, policy RetryPolicy, logger *logrus.Logger) *RetryingPublisher {
	return &RetryingPublisher{next: next, retry: policy, logger: logger}
}

func (p *RetryingPublisher) PublishOrderPlaced(ctx context.Context, event OrderPlacedEvent) error {
	log := p.logger.WithFields(logrus.Fields{
		"order_id": event.OrderID,
		"event_id": event.EventID,
	})

	err := p.retry.Do(ctx, log, func(ctx context.Context) error {
		return p.next.PublishOrderPlaced(ctx, event)
	})
	if err != nil {
		payload, _ := json.Marshal(event)
		log.WithError(err).WithField("event", string(payload)).Error("Order event not published")
	}
	return err
}

func (p *RetryingPublisher) Close() error {
	return p.next.Close()
}
