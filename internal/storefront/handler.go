// Package storefront is the HTTP API used by the shop frontend: catalog
// reads, carts, buy-now quotes and checkout sessions.
package storefront

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/azmarifdev/pickone-deploy-sub000/internal/bundle"
	"github.com/azmarifdev/pickone-deploy-sub000/internal/cart"
	"github.com/azmarifdev/pickone-deploy-sub000/internal/catalog"
	"github.com/azmarifdev/pickone-deploy-sub000/internal/checkout"
	"github.com/azmarifdev/pickone-deploy-sub000/internal/orders"
	"github.com/azmarifdev/pickone-deploy-sub000/internal/shipping"
	"github.com/azmarifdev/pickone-deploy-sub000/pkg/models"
)

// Catalog is the read side of the remote store API.
type Catalog interface {
	ListProducts(ctx context.Context, q catalog.Query) ([]models.Product, error)
	GetProduct(ctx context.Context, id string) (*models.Product, error)
	ListCategories(ctx context.Context) ([]models.Category, error)
}

type Handler struct {
	catalog  Catalog
	carts    *cart.Registry
	checkout *checkout.Manager
	logger   *logrus.Logger
}

func NewHandler(c Catalog, carts *cart.Registry, sessions *checkout.Manager, logger *logrus.Logger) *Handler {
	return &Handler{
		catalog:  c,
		carts:    carts,
		checkout: sessions,
		logger:   logger,
	}
}

// Register mounts every storefront route on router.
func (h *Handler) Register(router *mux.Router) {
	router.HandleFunc("/health", h.HealthCheck).Methods(http.MethodGet)

	api := router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/products", h.ListProducts).Methods(http.MethodGet)
	api.HandleFunc("/products/{id}", h.GetProduct).Methods(http.MethodGet)
	api.HandleFunc("/products/{id}/price", h.GetPrice).Methods(http.MethodGet)
	api.HandleFunc("/categories", h.ListCategories).Methods(http.MethodGet)

	api.HandleFunc("/carts", h.CreateCart).Methods(http.MethodPost)
	api.HandleFunc("/carts/{cartId}", h.GetCart).Methods(http.MethodGet)
	api.HandleFunc("/carts/{cartId}", h.DeleteCart).Methods(http.MethodDelete)
	api.HandleFunc("/carts/{cartId}/items", h.AddCartItem).Methods(http.MethodPost)
	api.HandleFunc("/carts/{cartId}/items/{lineId}", h.UpdateCartItem).Methods(http.MethodPatch)
	api.HandleFunc("/carts/{cartId}/items/{lineId}", h.RemoveCartItem).Methods(http.MethodDelete)

	api.HandleFunc("/checkout/quote", h.Quote).Methods(http.MethodPost)
	api.HandleFunc("/checkout/sessions", h.OpenSession).Methods(http.MethodPost)
	api.HandleFunc("/checkout/sessions/{id}", h.GetSession).Methods(http.MethodGet)
	api.HandleFunc("/checkout/sessions/{id}", h.UpdateSession).Methods(http.MethodPatch)
	api.HandleFunc("/checkout/sessions/{id}", h.CloseSession).Methods(http.MethodDelete)
	api.HandleFunc("/checkout/sessions/{id}/submit", h.SubmitSession).Methods(http.MethodPost)
}

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"status":            "healthy",
		"service":           "storefront",
		"checkout_sessions": h.checkout.Len(),
	})
}

// respondWithDomainError maps errors shared by several routes.
func (h *Handler) respondWithDomainError(w http.ResponseWriter, err error, fallback string) {
	var attrErr *bundle.InvalidAttributeError
	switch {
	case errors.Is(err, catalog.ErrProductNotFound):
		respondWithError(w, http.StatusNotFound, "Product not found")
	case errors.Is(err, cart.ErrCartNotFound):
		respondWithError(w, http.StatusNotFound, "Cart not found")
	case errors.Is(err, cart.ErrLineNotFound):
		respondWithError(w, http.StatusNotFound, "Cart item not found")
	case errors.Is(err, checkout.ErrSessionNotFound):
		respondWithError(w, http.StatusNotFound, "Checkout session not found")
	case errors.Is(err, shipping.ErrUnknownZone):
		respondWithError(w, http.StatusBadRequest, "Unknown delivery zone")
	case errors.Is(err, orders.ErrEmptyOrder):
		respondWithError(w, http.StatusBadRequest, "Cart is empty")
	case errors.Is(err, orders.ErrInvalidQuantity), errors.Is(err, cart.ErrInvalidQuantity):
		respondWithError(w, http.StatusBadRequest, "Quantity must be at least 1")
	case errors.Is(err, checkout.ErrSubmitInProgress):
		respondWithError(w, http.StatusConflict, "Order submission already in progress")
	case errors.Is(err, checkout.ErrAlreadyPlaced):
		respondWithError(w, http.StatusConflict, "Order already placed")
	case errors.Is(err, checkout.ErrSessionLocked):
		respondWithError(w, http.StatusConflict, "Checkout cannot be changed now")
	case errors.As(err, &attrErr):
		respondWithError(w, http.StatusBadRequest, attrErr.Error())
	default:
		h.logger.WithError(err).Error(fallback)
		respondWithError(w, http.StatusInternalServerError, fallback)
	}
}

func decodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]interface{}{
		"success": false,
		"message": message,
	})
}

func respondWithData(w http.ResponseWriter, code int, data interface{}) {
	respondWithJSON(w, code, map[string]interface{}{
		"success": true,
		"data":    data,
	})
}
