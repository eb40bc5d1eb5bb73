package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/azmarifdev/pickone-deploy-sub000/internal/analytics"
	"github.com/azmarifdev/pickone-deploy-sub000/internal/cart"
	"github.com/azmarifdev/pickone-deploy-sub000/internal/catalog"
	"github.com/azmarifdev/pickone-deploy-sub000/internal/checkout"
	"github.com/azmarifdev/pickone-deploy-sub000/internal/circuitbreaker"
	"github.com/azmarifdev/pickone-deploy-sub000/internal/config"
	"github.com/azmarifdev/pickone-deploy-sub000/internal/db"
	"github.com/azmarifdev/pickone-deploy-sub000/internal/events"
	"github.com/azmarifdev/pickone-deploy-sub000/internal/middleware"
	"github.com/azmarifdev/pickone-deploy-sub000/internal/orders"
	"github.com/azmarifdev/pickone-deploy-sub000/internal/shipping"
	"github.com/azmarifdev/pickone-deploy-sub000/internal/storefront"
	"github.com/azmarifdev/pickone-deploy-sub000/internal/websocket"
	"github.com/azmarifdev/pickone-deploy-sub000/pkg/logger"
	"github.com/azmarifdev/pickone-deploy-sub000/pkg/models"
)

const (
	sessionIdleLimit = 30 * time.Minute
	pruneInterval    = time.Minute
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}
	log := logger.New(cfg.Log.Level, cfg.Log.Format)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	wsHub := websocket.NewHub(log, cfg.CORS.AllowedOrigins...)
	go wsHub.Run(ctx)

	cartRepo, closeDB := cartRepository(ctx, cfg, log)
	defer closeDB()

	publisher, err := newPublisher(cfg, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to create order event publisher")
	}
	defer publisher.Close()

	breakers := circuitbreaker.NewManager(circuitbreaker.Config{
		MaxFailures: 5,
		Timeout:     30 * time.Second,
		MaxRequests: 1,
		OnStateChange: func(name string, from, to circuitbreaker.State) {
			log.WithFields(logrus.Fields{
				"sink": name,
				"from": from.String(),
				"to":   to.String(),
			}).Warn("Purchase sink breaker changed state")
		},
	}, log)

	dispatcher := analytics.NewDispatcher(breakers, log,
		analytics.NewDataLayerTracker(wsHub),
		analytics.NewPixelTracker(wsHub),
		analytics.NewConversionTracker(events.NewRetryingPublisher(publisher, events.DefaultRetryPolicy(), log)),
	)

	carts := cart.NewRegistry(cartRepo, log)
	carts.OnChange(func(cartID string, items []models.CartItem) {
		sum, err := cart.Summarize(items, shipping.ZoneInside)
		if err != nil {
			log.WithError(err).WithField("cart_id", cartID).Warn("Failed to price cart update")
			return
		}
		wsHub.Publish(cartID, websocket.TypeCartUpdated, sum)
	})

	sessions := checkout.NewManager(checkout.Deps{
		Orders:    orders.NewOrderServiceClient(cfg.OrderAPI.BaseURL, cfg.OrderAPI.Timeout, log),
		Tracker:   dispatcher,
		AutoClose: cfg.Checkout.AutoCloseDelay,
		Currency:  cfg.Checkout.Currency,
		OnChange: func(s checkout.Snapshot) {
			wsHub.Publish(s.ID, websocket.TypeCheckoutState, s)
		},
		Logger: log,
	})
	go pruneSessions(ctx, sessions)

	catalogClient := catalog.NewClient(cfg.OrderAPI.BaseURL, cfg.OrderAPI.Timeout, log)
	handler := storefront.NewHandler(catalogClient, carts, sessions, log)

	router := mux.NewRouter()
	handler.Register(router)
	router.HandleFunc("/health/breakers", breakerMetrics(breakers)).Methods(http.MethodGet)
	router.HandleFunc("/ws", wsHub.HandleWebSocket)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      middleware.Wrap(router, log, cfg.CORS.AllowedOrigins),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.WithFields(logrus.Fields{
			"port":      cfg.Server.Port,
			"order_api": cfg.OrderAPI.BaseURL,
			"broker":    cfg.Events.Broker,
		}).Info("Starting storefront server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("Failed to start server")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info("Shutting down server...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("Server forced to shutdown")
	}
	cancel()

	log.Info("Server gracefully stopped")
}

// cartRepository persists carts in Postgres when a DSN is configured and
// keeps them in memory otherwise.
func cartRepository(ctx context.Context, cfg *config.Config, log *logrus.Logger) (cart.Repository, func()) {
	if cfg.Database.DSN == "" {
		log.Info("DATABASE_DSN not set, carts are kept in memory")
		return cart.NewMemoryRepository(), func() {}
	}

	if err := db.RunMigrations(cfg.Database.DSN, log); err != nil {
		log.WithError(err).Fatal("Failed to run migrations")
	}
	sqlDB, err := db.Open(ctx, cfg.Database.DSN, 30, 2*time.Second, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to connect to database")
	}
	return cart.NewPostgresRepository(sqlDB), func() { sqlDB.Close() }
}

func newPublisher(cfg *config.Config, log *logrus.Logger) (events.Publisher, error) {
	switch cfg.Events.Broker {
	case "kafka":
		p, err := events.NewKafkaProducer(strings.Join(cfg.Events.KafkaBrokers, ","), cfg.Events.Topic, log)
		if err != nil {
			return nil, err
		}
		return p, nil
	case "rabbitmq":
		conn, err := events.DialRabbit(cfg.Events.RabbitURL)
		if err != nil {
			return nil, err
		}
		p, err := events.NewRabbitPublisher(conn, cfg.Events.Topic, log)
		if err != nil {
			conn.Close()
			return nil, err
		}
		return &rabbitPublisher{RabbitPublisher: p, closeConn: conn.Close}, nil
	case "none":
		return events.NewLogPublisher(log), nil
	}
	return nil, fmt.Errorf("unsupported broker %q", cfg.Events.Broker)
}

// rabbitPublisher also closes the connection it owns.
type rabbitPublisher struct {
	*events.RabbitPublisher
	closeConn func() error
}

func (p *rabbitPublisher) Close() error {
	err := p.RabbitPublisher.Close()
	if cerr := p.closeConn(); err == nil {
		err = cerr
	}
	return err
}

func pruneSessions(ctx context.Context, sessions *checkout.Manager) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sessions.Prune(sessionIdleLimit)
		}
	}
}

func breakerMetrics(breakers *circuitbreaker.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"success": true,
			"data":    breakers.Metrics(),
		})
	}
}
