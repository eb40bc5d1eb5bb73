// Command order-api-mock stands in for the remote store API during local
// development: product listing, categories and order creation.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/azmarifdev/pickone-deploy-sub000/internal/middleware"
	"github.com/azmarifdev/pickone-deploy-sub000/pkg/logger"
	"github.com/azmarifdev/pickone-deploy-sub000/pkg/models"
)

func main() {
	log := logger.New(getEnv("LOG_LEVEL", "info"), getEnv("LOG_FORMAT", "json"))

	maxDelay, err := time.ParseDuration(getEnv("MOCK_MAX_DELAY", "0s"))
	if err != nil {
		log.WithError(err).Fatal("Invalid MOCK_MAX_DELAY")
	}

	store := newMockStore(seedProducts(), seedCategories())
	router := newRouter(store, maxDelay, log)

	port := getEnv("MOCK_PORT", "8090")
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      middleware.Wrap(router, log, []string{"*"}),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.WithField("port", port).Info("Starting order API mock")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("Failed to start HTTP server")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info("Shutting down order API mock...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.WithError(err).Error("HTTP server forced to shutdown")
	}
	log.WithField("orders_created", store.orderCount()).Info("Order API mock stopped")
}

func newRouter(store *mockStore, maxDelay time.Duration, log *logrus.Logger) *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/health", healthCheck).Methods(http.MethodGet)

	v1 := router.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/product", listProducts(store)).Methods(http.MethodGet)
	v1.HandleFunc("/product/{id}", getProduct(store)).Methods(http.MethodGet)
	v1.HandleFunc("/category", listCategories(store)).Methods(http.MethodGet)
	v1.HandleFunc("/order/create", createOrder(store, maxDelay, log)).Methods(http.MethodPost)
	return router
}

func healthCheck(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "order-api-mock",
	})
}

func listProducts(store *mockStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		page, _ := strconv.Atoi(q.Get("page"))
		limit, _ := strconv.Atoi(q.Get("limit"))

		respondWithJSON(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"message": "Products retrieved",
			"data":    store.list(q.Get("search"), q.Get("category"), page, limit),
		})
	}
}

func getProduct(store *mockStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := store.get(mux.Vars(r)["id"])
		if !ok {
			respondWithError(w, http.StatusNotFound, "Product not found")
			return
		}
		respondWithJSON(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"message": "Product retrieved",
			"data":    p,
		})
	}
}

func listCategories(store *mockStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		respondWithJSON(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"message": "Categories retrieved",
			"data":    store.listCategories(),
		})
	}
}

// createOrder answers business failures with 200 and success=false, the way
// the real API does.
func createOrder(store *mockStore, maxDelay time.Duration, log *logrus.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var order models.Order
		if err := json.NewDecoder(r.Body).Decode(&order); err != nil {
			log.WithError(err).Warn("Failed to decode order")
			respondWithError(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		if maxDelay > 0 {
			delay := time.Duration(rand.Int63n(int64(maxDelay)))
			log.WithField("delay_ms", delay.Milliseconds()).Debug("Simulating processing delay")
			select {
			case <-time.After(delay):
			case <-r.Context().Done():
				return
			}
		}

		rec, err := store.place(order)
		if err != nil {
			log.WithError(err).WithField("total_price", order.TotalPrice).Info("Order rejected")
			code := http.StatusOK
			if errors.Is(err, errTotalMismatch) || errors.Is(err, errEmptyOrder) {
				code = http.StatusBadRequest
			}
			respondWithError(w, code, err.Error())
			return
		}

		log.WithFields(logrus.Fields{
			"order_id":    rec.ID,
			"total_price": rec.TotalPrice,
			"items":       len(rec.Items),
		}).Info("Order created")

		respondWithJSON(w, http.StatusCreated, models.OrderResponse{
			Success: true,
			Message: "Order created successfully",
			Data:    rec,
		})
	}
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, models.OrderResponse{
		Success: false,
		Message: message,
	})
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
