package api

import (
	"net/http"

	"github.com/ashureev/vulnshop/internal/domain"
	"github.com/ashureev/vulnshop/internal/identity"
)

type addressRequest struct {
	Line1      string `json:"line1"`
	Line2      string `json:"line2"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

type passwordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

type profile struct {
	ID       int64           `json:"id"`
	Email    string          `json:"email"`
	Username string          `json:"username"`
	FullName string          `json:"full_name"`
	Role     string          `json:"role"`
	Address  *domain.Address `json:"address"`
}

// GetProfile handles GET /api/profile.
func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	user := identity.UserFromContext(r.Context())
	addr, err := h.repo.GetAddress(r.Context(), user.ID)
	if err != nil {
		internalError(w, "failed to get address", err)
		return
	}
	JSON(w, http.StatusOK, map[string]any{"profile": profile{
		ID:       user.ID,
		Email:    user.Email,
		Username: user.Username,
		FullName: user.FullName,
		Role:     user.Role,
		Address:  addr,
	}})
}

// UpdateAddress handles PUT /api/profile/address. Unlike the agent's
// profile.write tool, it insists on the required fields.
func (h *Handler) UpdateAddress(w http.ResponseWriter, r *http.Request) {
	var req addressRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Line1 == "" || req.City == "" || req.State == "" || req.PostalCode == "" {
		Error(w, http.StatusBadRequest, "Missing required address fields")
		return
	}
	if req.Country == "" {
		req.Country = "USA"
	}

	userID := identity.UserIDFromContext(r.Context())
	addr := &domain.Address{
		UserID:     userID,
		Line1:      req.Line1,
		Line2:      req.Line2,
		City:       req.City,
		State:      req.State,
		PostalCode: req.PostalCode,
		Country:    req.Country,
	}
	if err := h.repo.UpsertAddress(r.Context(), addr); err != nil {
		internalError(w, "failed to save address", err)
		return
	}
	saved, err := h.repo.GetAddress(r.Context(), userID)
	if err != nil {
		internalError(w, "failed to reload address", err)
		return
	}
	JSON(w, http.StatusOK, map[string]any{"address": saved})
}

// UpdatePassword handles PUT /api/profile/password.
func (h *Handler) UpdatePassword(w http.ResponseWriter, r *http.Request) {
	var req passwordRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.CurrentPassword == "" || req.NewPassword == "" {
		Error(w, http.StatusBadRequest, "Missing password fields")
		return
	}
	user := identity.UserFromContext(r.Context())
	if !identity.CheckPassword(user.PasswordHash, req.CurrentPassword) {
		Error(w, http.StatusForbidden, "Current password incorrect")
		return
	}
	hash, err := identity.HashPassword(req.NewPassword)
	if err != nil {
		internalError(w, "failed to hash password", err)
		return
	}
	if err := h.repo.UpdatePassword(r.Context(), user.ID, hash); err != nil {
		internalError(w, "failed to update password", err)
		return
	}
	JSON(w, http.StatusOK, map[string]bool{"ok": true})
}
