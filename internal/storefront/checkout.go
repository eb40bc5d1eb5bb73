package storefront

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/azmarifdev/pickone-deploy-sub000/internal/bundle"
	"github.com/azmarifdev/pickone-deploy-sub000/internal/cart"
	"github.com/azmarifdev/pickone-deploy-sub000/internal/checkout"
	"github.com/azmarifdev/pickone-deploy-sub000/internal/orders"
	"github.com/azmarifdev/pickone-deploy-sub000/internal/shipping"
	"github.com/azmarifdev/pickone-deploy-sub000/pkg/models"
)

type buyNowRequest struct {
	ProductID string            `json:"product_id"`
	Quantity  int               `json:"quantity"`
	Selected  map[string]string `json:"selected_attributes"`
	// BundleIDs left out selects every bundle product; an empty list
	// selects none.
	BundleIDs         *[]string `json:"bundle_ids"`
	ForceFreeShipping bool      `json:"force_free_shipping"`
}

type quoteRequest struct {
	buyNowRequest
	Zone string `json:"zone"`
}

type openSessionRequest struct {
	buyNowRequest
	Mode   checkout.Mode `json:"mode"`
	CartID string        `json:"cart_id"`
}

// quoteView is a priced order without an address.
type quoteView struct {
	*orders.Plan
	Items           []models.OrderItem `json:"order_items"`
	DeliveryCharge  int                `json:"delivery_charge"`
	TotalPrice      int                `json:"total_price"`
	RoundedSubtotal int                `json:"rounded_subtotal"`
}

func newQuoteView(p *orders.Plan) quoteView {
	o := orders.Compose(p, models.Address{})
	return quoteView{
		Plan:            p,
		Items:           o.Items,
		DeliveryCharge:  o.DeliveryCharge,
		TotalPrice:      o.TotalPrice,
		RoundedSubtotal: o.Subtotal,
	}
}

type sessionView struct {
	checkout.Snapshot
	Quote *quoteView `json:"quote,omitempty"`
}

func (h *Handler) buyNow(w http.ResponseWriter, r *http.Request, req buyNowRequest) (orders.BuyNow, bool) {
	p, ok := h.loadProduct(w, r, req.ProductID)
	if !ok {
		return orders.BuyNow{}, false
	}
	b := orders.BuyNow{
		Product:           *p,
		Quantity:          req.Quantity,
		Selected:          req.Selected,
		ForceFreeShipping: req.ForceFreeShipping,
	}
	if b.Quantity == 0 {
		b.Quantity = 1
	}
	if req.BundleIDs != nil {
		b.BundleIDs = append([]string{}, (*req.BundleIDs)...)
	}
	return b, true
}

// Quote previews a buy-now order: bundle aggregation, the delivery decision
// and the bundle threshold badge.
func (h *Handler) Quote(w http.ResponseWriter, r *http.Request) {
	var req quoteRequest
	if err := decodeJSON(r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	zone, err := shipping.ParseZone(req.Zone)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Unknown delivery zone")
		return
	}

	b, ok := h.buyNow(w, r, req.buyNowRequest)
	if !ok {
		return
	}
	if req.BundleIDs == nil {
		b.BundleIDs = defaultBundles(b.Product)
	}

	plan, err := orders.PlanBuyNow(b, zone)
	if err != nil {
		h.respondWithDomainError(w, err, "Failed to price order")
		return
	}
	respondWithData(w, http.StatusOK, newQuoteView(plan))
}

func (h *Handler) OpenSession(w http.ResponseWriter, r *http.Request) {
	var req openSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	var store *cart.Store
	if req.CartID != "" {
		s, err := h.carts.Get(r.Context(), req.CartID)
		if err != nil {
			h.respondWithDomainError(w, err, "Failed to load cart")
			return
		}
		store = s
	}

	var (
		session *checkout.Session
		err     error
	)
	switch req.Mode {
	case checkout.ModeCart:
		if store == nil {
			respondWithError(w, http.StatusBadRequest, "cart_id is required for cart checkout")
			return
		}
		if store.Len() == 0 {
			respondWithError(w, http.StatusBadRequest, "Cart is empty")
			return
		}
		session, err = h.checkout.OpenCart(req.CartID, store)
	case checkout.ModeBuyNow:
		b, ok := h.buyNow(w, r, req.buyNowRequest)
		if !ok {
			return
		}
		session, err = h.checkout.OpenBuyNow(b, req.CartID, store)
	default:
		respondWithError(w, http.StatusBadRequest, `mode must be "buy_now" or "cart"`)
		return
	}
	if err != nil {
		h.respondWithDomainError(w, err, "Failed to open checkout")
		return
	}

	respondWithData(w, http.StatusCreated, sessionView{Snapshot: session.Snapshot()})
}

// GetSession returns the session state. With ?zone= it also prices the
// session for that zone.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}

	view := sessionView{Snapshot: session.Snapshot()}
	if z := r.URL.Query().Get("zone"); z != "" {
		zone, err := shipping.ParseZone(z)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, "Unknown delivery zone")
			return
		}
		plan, err := session.Quote(zone)
		if err != nil && !errors.Is(err, orders.ErrEmptyOrder) {
			h.respondWithDomainError(w, err, "Failed to price order")
			return
		}
		if plan != nil {
			q := newQuoteView(plan)
			view.Quote = &q
		}
	}
	respondWithData(w, http.StatusOK, view)
}

func (h *Handler) UpdateSession(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	if session.Snapshot().Mode != checkout.ModeBuyNow {
		respondWithError(w, http.StatusBadRequest, "Only buy-now checkouts can be edited")
		return
	}

	var req checkout.BuyNowUpdate
	if err := decodeJSON(r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := session.UpdateBuyNow(req); err != nil {
		h.respondWithDomainError(w, err, "Failed to update checkout")
		return
	}
	respondWithData(w, http.StatusOK, sessionView{Snapshot: session.Snapshot()})
}

// CloseSession dismisses the confirmation or failure and returns the session
// to idle.
func (h *Handler) CloseSession(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	if err := session.Close(); err != nil {
		h.respondWithDomainError(w, err, "Failed to close checkout")
		return
	}
	respondWithData(w, http.StatusOK, sessionView{Snapshot: session.Snapshot()})
}

func (h *Handler) SubmitSession(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}

	var form checkout.Form
	if err := decodeJSON(r, &form); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	rec, err := session.Submit(r.Context(), form)
	if err != nil {
		var (
			validation *checkout.ValidationError
			submitErr  *checkout.SubmitError
			rejected   *orders.RejectedError
		)
		switch {
		case errors.As(err, &validation):
			respondWithJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
				"success": false,
				"message": "Please correct the highlighted fields",
				"fields":  validation.Fields,
			})
		case errors.As(err, &submitErr):
			code := http.StatusBadGateway
			if errors.As(err, &rejected) {
				code = http.StatusUnprocessableEntity
			}
			respondWithJSON(w, code, map[string]interface{}{
				"success": false,
				"message": submitErr.Message,
				"data":    sessionView{Snapshot: session.Snapshot()},
			})
		default:
			h.respondWithDomainError(w, err, checkout.MessageGenericFailure)
		}
		return
	}

	respondWithJSON(w, http.StatusCreated, map[string]interface{}{
		"success": true,
		"message": checkout.MessageOrderPlaced,
		"data": map[string]interface{}{
			"order":   rec,
			"session": sessionView{Snapshot: session.Snapshot()},
		},
	})
}

func (h *Handler) session(w http.ResponseWriter, r *http.Request) (*checkout.Session, bool) {
	session, err := h.checkout.Get(mux.Vars(r)["id"])
	if err != nil {
		h.respondWithDomainError(w, err, "Failed to load checkout")
		return nil, false
	}
	return session, true
}

func defaultBundles(p models.Product) []string {
	return bundle.DefaultSelection(p.BundleProducts)
}
