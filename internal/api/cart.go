package api

import (
	"net/http"

	"github.com/ashureev/vulnshop/internal/domain"
	"github.com/ashureev/vulnshop/internal/identity"
)

type addCartItemRequest struct {
	ProductID int64  `json:"productId"`
	VariantID *int64 `json:"variantId"`
	Qty       *int64 `json:"qty"`
}

// GetCart handles GET /api/cart.
func (h *Handler) GetCart(w http.ResponseWriter, r *http.Request) {
	cart, err := h.repo.GetCart(r.Context(), identity.UserIDFromContext(r.Context()))
	if err != nil {
		internalError(w, "failed to get cart", err)
		return
	}
	JSON(w, http.StatusOK, map[string]any{"cart": cart})
}

// AddCartItem handles POST /api/cart/items. The snapshot stores the line total.
func (h *Handler) AddCartItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req addCartItemRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.ProductID == 0 {
		Error(w, http.StatusBadRequest, "productId required")
		return
	}

	cart, err := h.repo.GetOrCreateCart(ctx, identity.UserIDFromContext(ctx))
	if err != nil {
		internalError(w, "failed to get cart", err)
		return
	}
	product, err := h.repo.GetProduct(ctx, req.ProductID)
	if err != nil {
		internalError(w, "failed to get product", err)
		return
	}
	if product == nil {
		Error(w, http.StatusNotFound, "Product not found")
		return
	}

	var variant *domain.Variant
	if req.VariantID != nil && *req.VariantID != 0 {
		variant, err = h.repo.GetVariant(ctx, product.ID, *req.VariantID)
		if err != nil {
			internalError(w, "failed to get variant", err)
			return
		}
		if variant == nil {
			Error(w, http.StatusNotFound, "Variant not found")
			return
		}
	}

	qty := int64(1)
	if req.Qty != nil {
		qty = *req.Qty
	}
	item := &domain.CartItem{
		CartID:             cart.ID,
		ProductID:          product.ID,
		Qty:                qty,
		PriceCentsSnapshot: product.UnitPrice(variant) * qty,
	}
	if variant != nil {
		item.VariantID = &variant.ID
	}
	if err := h.repo.AddCartItem(ctx, item); err != nil {
		internalError(w, "failed to add cart item", err)
		return
	}
	JSON(w, http.StatusCreated, map[string]any{"item": item})
}

// RemoveCartItem handles DELETE /api/cart/items/{id}.
func (h *Handler) RemoveCartItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cart, err := h.repo.GetOrCreateCart(ctx, identity.UserIDFromContext(ctx))
	if err != nil {
		internalError(w, "failed to get cart", err)
		return
	}
	removed, err := h.repo.RemoveCartItem(ctx, cart.ID, pathID(r, "id"))
	if err != nil {
		internalError(w, "failed to remove cart item", err)
		return
	}
	if removed == 0 {
		Error(w, http.StatusNotFound, "Item not found")
		return
	}
	JSON(w, http.StatusOK, map[string]bool{"ok": true})
}
