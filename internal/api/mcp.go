package api

import (
	"net/http"

	"github.com/ashureev/vulnshop/internal/identity"
)

type registerEndpointRequest struct {
	URL string `json:"url"`
}

// RegisterEndpoint handles POST /api/mcp/register. Any URL is accepted.
func (h *Handler) RegisterEndpoint(w http.ResponseWriter, r *http.Request) {
	var req registerEndpointRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.URL == "" {
		Error(w, http.StatusBadRequest, "url required")
		return
	}
	id, err := h.repo.AddEndpoint(r.Context(), identity.UserIDFromContext(r.Context()), req.URL)
	if err != nil {
		internalError(w, "failed to register endpoint", err)
		return
	}
	JSON(w, http.StatusOK, map[string]any{"ok": true, "id": id})
}

// ListEndpoints handles GET /api/mcp/endpoints.
func (h *Handler) ListEndpoints(w http.ResponseWriter, r *http.Request) {
	endpoints, err := h.repo.ListEndpoints(r.Context(), identity.UserIDFromContext(r.Context()))
	if err != nil {
		internalError(w, "failed to list endpoints", err)
		return
	}
	JSON(w, http.StatusOK, map[string]any{"endpoints": endpoints})
}
