package ledger

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// Handler serves the admin order API.
type Handler struct {
	repo   Repository
	logger *logrus.Logger
}

func NewHandler(repo Repository, logger *logrus.Logger) *Handler {
	return &Handler{repo: repo, logger: logger}
}

// Register mounts the admin routes on router.
func (h *Handler) Register(router *mux.Router) {
	router.HandleFunc("/health", h.HealthCheck).Methods(http.MethodGet)
	admin := router.PathPrefix("/admin/orders").Subrouter()
	admin.HandleFunc("", h.ListOrders).Methods(http.MethodGet)
	admin.HandleFunc("/{id}", h.GetOrder).Methods(http.MethodGet)
	admin.HandleFunc("/{id}/status", h.UpdateStatus).Methods(http.MethodPatch)
}

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "order-ledger",
	})
}

func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := ListFilter{Status: q.Get("status")}
	if f.Status != "" && !ValidStatus(f.Status) {
		respondWithError(w, http.StatusBadRequest, "Invalid status filter")
		return
	}

	var err error
	if f.Limit, err = intParam(q.Get("limit")); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid limit")
		return
	}
	if f.Offset, err = intParam(q.Get("offset")); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid offset")
		return
	}

	orders, err := h.repo.List(r.Context(), f)
	if err != nil {
		h.logger.WithError(err).Error("Failed to list orders")
		respondWithError(w, http.StatusInternalServerError, "Failed to list orders")
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    orders,
		"count":   len(orders),
	})
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	order, err := h.repo.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			respondWithError(w, http.StatusNotFound, "Order not found")
			return
		}
		h.logger.WithError(err).WithField("order_id", id).Error("Failed to get order")
		respondWithError(w, http.StatusInternalServerError, "Failed to get order")
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    order,
	})
}

type statusRequest struct {
	Status string `json:"status"`
}

func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Status == "" {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	order, err := h.repo.UpdateStatus(r.Context(), id, req.Status)
	if err != nil {
		var transitionErr *InvalidTransitionError
		switch {
		case errors.Is(err, ErrOrderNotFound):
			respondWithError(w, http.StatusNotFound, "Order not found")
		case errors.Is(err, ErrInvalidStatus):
			respondWithError(w, http.StatusBadRequest, "Invalid status")
		case errors.As(err, &transitionErr):
			respondWithError(w, http.StatusConflict, transitionErr.Error())
		default:
			h.logger.WithError(err).WithField("order_id", id).Error("Failed to update order status")
			respondWithError(w, http.StatusInternalServerError, "Failed to update order status")
		}
		return
	}

	h.logger.WithFields(logrus.Fields{
		"order_id": id,
		"status":   order.Status,
	}).Info("Order status updated")

	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    order,
	})
}

func intParam(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, errors.New("invalid integer")
	}
	return n, nil
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
