package api

import (
	"net/http"
)

// ListProducts handles GET /api/products.
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.repo.ListProducts(r.Context())
	if err != nil {
		internalError(w, "failed to list products", err)
		return
	}
	JSON(w, http.StatusOK, map[string]any{"products": products})
}

// GetProduct handles GET /api/products/{id}.
func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	product, err := h.repo.GetProduct(r.Context(), pathID(r, "id"))
	if err != nil {
		internalError(w, "failed to get product", err)
		return
	}
	if product == nil {
		Error(w, http.StatusNotFound, "Product not found")
		return
	}
	JSON(w, http.StatusOK, map[string]any{"product": product})
}
