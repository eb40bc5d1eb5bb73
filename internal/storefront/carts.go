package storefront

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/azmarifdev/pickone-deploy-sub000/internal/bundle"
	"github.com/azmarifdev/pickone-deploy-sub000/internal/cart"
	"github.com/azmarifdev/pickone-deploy-sub000/internal/pricing"
	"github.com/azmarifdev/pickone-deploy-sub000/internal/shipping"
	"github.com/azmarifdev/pickone-deploy-sub000/pkg/models"
)

type addItemRequest struct {
	ProductID string            `json:"product_id"`
	Quantity  int               `json:"quantity"`
	Selected  map[string]string `json:"selected_attributes"`
}

// updateItemRequest carries either an action or an absolute quantity.
type updateItemRequest struct {
	Action   string `json:"action"`
	Quantity *int   `json:"quantity"`
}

func (h *Handler) CreateCart(w http.ResponseWriter, r *http.Request) {
	id, store, err := h.carts.Create(r.Context())
	if err != nil {
		h.respondWithDomainError(w, err, "Failed to create cart")
		return
	}
	sum, _ := store.Summary(shipping.ZoneInside)
	respondWithData(w, http.StatusCreated, map[string]interface{}{
		"cart_id": id,
		"summary": sum,
	})
}

func (h *Handler) GetCart(w http.ResponseWriter, r *http.Request) {
	store, zone, ok := h.cartAndZone(w, r)
	if !ok {
		return
	}
	h.respondWithSummary(w, http.StatusOK, store, zone)
}

func (h *Handler) DeleteCart(w http.ResponseWriter, r *http.Request) {
	cartID := mux.Vars(r)["cartId"]
	if err := h.carts.Delete(r.Context(), cartID); err != nil {
		h.respondWithDomainError(w, err, "Failed to delete cart")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AddCartItem prices the product from the catalog, so the cart never holds
// client-supplied prices.
func (h *Handler) AddCartItem(w http.ResponseWriter, r *http.Request) {
	store, zone, ok := h.cartAndZone(w, r)
	if !ok {
		return
	}

	var req addItemRequest
	if err := decodeJSON(r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Quantity < 0 {
		respondWithError(w, http.StatusBadRequest, "Quantity must be at least 1")
		return
	}

	p, ok := h.loadProduct(w, r, req.ProductID)
	if !ok {
		return
	}
	if err := bundle.ValidateSelection(p.Attributes, req.Selected); err != nil {
		h.respondWithDomainError(w, err, "Failed to add item")
		return
	}

	price := pricing.Calculate(p.Price, p.Discount)
	line, err := store.Add(models.CartItem{
		ID:             p.ID,
		Title:          p.Title,
		Price:          price.SalePrice,
		OriginalPrice:  price.OriginalPrice,
		Quantity:       req.Quantity,
		Attributes:     bundle.SelectedPairs(p.Attributes, req.Selected),
		IsFreeShipping: p.IsFreeShipping,
		Thumbnail:      p.Thumbnail,
	})
	if err != nil {
		h.respondWithDomainError(w, err, "Failed to add item")
		return
	}

	sum, err := store.Summary(zone)
	if err != nil {
		h.respondWithDomainError(w, err, "Failed to price cart")
		return
	}
	respondWithData(w, http.StatusCreated, map[string]interface{}{
		"line":    line,
		"summary": sum,
	})
}

func (h *Handler) UpdateCartItem(w http.ResponseWriter, r *http.Request) {
	store, zone, ok := h.cartAndZone(w, r)
	if !ok {
		return
	}
	lineID := mux.Vars(r)["lineId"]

	var req updateItemRequest
	if err := decodeJSON(r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	var err error
	switch {
	case req.Quantity != nil && req.Action == "":
		err = store.SetQuantity(lineID, *req.Quantity)
	case req.Quantity == nil && req.Action == "increment":
		err = store.Increment(lineID)
	case req.Quantity == nil && req.Action == "decrement":
		err = store.Decrement(lineID)
	default:
		respondWithError(w, http.StatusBadRequest, `Send either "action" (increment or decrement) or "quantity"`)
		return
	}
	if err != nil {
		h.respondWithDomainError(w, err, "Failed to update item")
		return
	}
	h.respondWithSummary(w, http.StatusOK, store, zone)
}

func (h *Handler) RemoveCartItem(w http.ResponseWriter, r *http.Request) {
	store, zone, ok := h.cartAndZone(w, r)
	if !ok {
		return
	}
	if err := store.Remove(mux.Vars(r)["lineId"]); err != nil {
		h.respondWithDomainError(w, err, "Failed to remove item")
		return
	}
	h.respondWithSummary(w, http.StatusOK, store, zone)
}

// cartAndZone resolves the cart of the route and the ?zone= used to price
// it. The zone defaults to inside.
func (h *Handler) cartAndZone(w http.ResponseWriter, r *http.Request) (*cart.Store, shipping.Zone, bool) {
	zone := shipping.ZoneInside
	if z := r.URL.Query().Get("zone"); z != "" {
		parsed, err := shipping.ParseZone(z)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, "Unknown delivery zone")
			return nil, "", false
		}
		zone = parsed
	}

	store, err := h.carts.Get(r.Context(), mux.Vars(r)["cartId"])
	if err != nil {
		h.respondWithDomainError(w, err, "Failed to load cart")
		return nil, "", false
	}
	return store, zone, true
}

func (h *Handler) respondWithSummary(w http.ResponseWriter, code int, store *cart.Store, zone shipping.Zone) {
	sum, err := store.Summary(zone)
	if err != nil {
		h.respondWithDomainError(w, err, "Failed to price cart")
		return
	}
	respondWithData(w, code, sum)
}
