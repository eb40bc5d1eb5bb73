// Package analytics fans a completed purchase out to the tracking sinks:
// the browser tag-manager data layer, the ad pixel and the server-side
// conversion event. Tracking never affects the order outcome.
package analytics

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/azmarifdev/pickone-deploy-sub000/internal/circuitbreaker"
	"github.com/azmarifdev/pickone-deploy-sub000/pkg/models"
)

const defaultTrackTimeout = 3 * time.Second

// Purchase is what every tracker receives for one placed order.
type Purchase struct {
	// Channel scopes browser-side tags to the checkout session that placed
	// the order.
	Channel  string
	Source   string
	Currency string
	Order    *models.Order
	Record   *models.OrderRecord
}

func (p Purchase) OrderID() string {
	if p.Record != nil {
		return p.Record.ID
	}
	return ""
}

type Tracker interface {
	Name() string
	Track(ctx context.Context, p Purchase) error
}

// Durable is implemented by trackers that feed a system of record. They skip
// the circuit breaker and the dispatch timeout and bound their own work.
type Durable interface {
	Durable() bool
}

var errTrackTimeout = errors.New("tracker timed out")

// Dispatcher runs every tracker concurrently. Each best-effort tracker sits
// behind its own circuit breaker and the dispatch timeout; errors and panics
// are logged and dropped.
type Dispatcher struct {
	trackers []Tracker
	breakers *circuitbreaker.Manager
	timeout  time.Duration
	logger   *logrus.Logger
}

func NewDispatcher(breakers *circuitbreaker.Manager, logger *logrus.Logger, trackers ...Tracker) *Dispatcher {
	return &Dispatcher{
		trackers: trackers,
		breakers: breakers,
		timeout:  defaultTrackTimeout,
		logger:   logger,
	}
}

// Dispatch returns once every tracker has finished or timed out. It does not
// inherit cancellation from the caller's request.
func (d *Dispatcher) Dispatch(p Purchase) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	var wg sync.WaitGroup
	for _, t := range d.trackers {
		wg.Add(1)
		go func(t Tracker) {
			defer wg.Done()
			if err := d.run(ctx, t, p); err != nil {
				d.logger.WithError(err).WithFields(logrus.Fields{
					"tracker":  t.Name(),
					"order_id": p.OrderID(),
				}).Warn("Purchase tracking failed")
			}
		}(t)
	}
	wg.Wait()
}

func (d *Dispatcher) run(ctx context.Context, t Tracker, p Purchase) error {
	if dt, ok := t.(Durable); ok && dt.Durable() {
		return safeTrack(context.Background(), t, p)
	}
	if d.breakers == nil {
		return trackWithin(ctx, t, p)
	}
	return d.breakers.GetOrCreate(t.Name()).Execute(ctx, func(ctx context.Context) error {
		return trackWithin(ctx, t, p)
	})
}

// trackWithin gives up on t once ctx is done. The timeout is reported as a
// plain failure so a hanging sink opens its breaker.
func trackWithin(ctx context.Context, t Tracker, p Purchase) error {
	done := make(chan error, 1)
	go func() { done <- safeTrack(ctx, t, p) }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return errTrackTimeout
	}
}

func safeTrack(ctx context.Context, t Tracker, p Purchase) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tracker panicked: %v", r)
		}
	}()
	return t.Track(ctx, p)
}
