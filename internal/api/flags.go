package api

import (
	"log/slog"
	"net/http"

	"github.com/ashureev/vulnshop/internal/identity"
)

// ListFlags handles GET /api/flags.
func (h *Handler) ListFlags(w http.ResponseWriter, r *http.Request) {
	awards, err := h.repo.ListFlags(r.Context(), identity.UserIDFromContext(r.Context()))
	if err != nil {
		internalError(w, "failed to list flags", err)
		return
	}
	JSON(w, http.StatusOK, map[string]any{"flags": awards})
}

// ResetFlags handles POST /api/admin/flags/reset and clears every award.
func (h *Handler) ResetFlags(w http.ResponseWriter, r *http.Request) {
	n, err := h.awarder.Reset(r.Context())
	if err != nil {
		internalError(w, "failed to reset flags", err)
		return
	}
	slog.Info("flags reset", "cleared", n, "user_id", identity.UserIDFromContext(r.Context()))
	JSON(w, http.StatusOK, map[string]any{"ok": true, "cleared": n})
}
