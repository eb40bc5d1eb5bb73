package storefront

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/azmarifdev/pickone-deploy-sub000/internal/catalog"
	"github.com/azmarifdev/pickone-deploy-sub000/internal/pricing"
	"github.com/azmarifdev/pickone-deploy-sub000/pkg/models"
)

// productView adds the computed price to a catalog product.
type productView struct {
	*models.Product
	Pricing priceView `json:"pricing"`
}

type priceView struct {
	pricing.Price
	DiscountAmount float64 `json:"discount_amount"`
}

func newPriceView(p *models.Product) priceView {
	price := pricing.Calculate(p.Price, p.Discount)
	return priceView{Price: price, DiscountAmount: price.DiscountAmount()}
}

func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := catalog.Query{
		Search:   q.Get("search"),
		Category: q.Get("category"),
	}
	for name, dst := range map[string]*int{"page": &query.Page, "limit": &query.Limit} {
		if v := q.Get(name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 {
				respondWithError(w, http.StatusBadRequest, "Invalid "+name)
				return
			}
			*dst = n
		}
	}

	products, err := h.catalog.ListProducts(r.Context(), query)
	if err != nil {
		h.logger.WithError(err).Error("Failed to list products")
		respondWithError(w, http.StatusBadGateway, "Failed to load products")
		return
	}

	views := make([]productView, 0, len(products))
	for i := range products {
		views = append(views, productView{Product: &products[i], Pricing: newPriceView(&products[i])})
	}
	respondWithData(w, http.StatusOK, views)
}

func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	p, ok := h.loadProduct(w, r, mux.Vars(r)["id"])
	if !ok {
		return
	}
	respondWithData(w, http.StatusOK, productView{Product: p, Pricing: newPriceView(p)})
}

func (h *Handler) GetPrice(w http.ResponseWriter, r *http.Request) {
	p, ok := h.loadProduct(w, r, mux.Vars(r)["id"])
	if !ok {
		return
	}
	respondWithData(w, http.StatusOK, newPriceView(p))
}

func (h *Handler) ListCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := h.catalog.ListCategories(r.Context())
	if err != nil {
		h.logger.WithError(err).Error("Failed to list categories")
		respondWithError(w, http.StatusBadGateway, "Failed to load categories")
		return
	}
	respondWithData(w, http.StatusOK, categories)
}

// loadProduct writes the error response itself and reports whether the
// caller may continue.
func (h *Handler) loadProduct(w http.ResponseWriter, r *http.Request, id string) (*models.Product, bool) {
	if id == "" {
		respondWithError(w, http.StatusBadRequest, "product_id is required")
		return nil, false
	}
	p, err := h.catalog.GetProduct(r.Context(), id)
	if err != nil {
		if errors.Is(err, catalog.ErrProductNotFound) {
			respondWithError(w, http.StatusNotFound, "Product not found")
			return nil, false
		}
		h.logger.WithError(err).WithField("product_id", id).Error("Failed to load product")
		respondWithError(w, http.StatusBadGateway, "Failed to load product")
		return nil, false
	}
	return p, true
}
