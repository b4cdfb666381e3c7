// Package api provides HTTP handlers for the shop API.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/vulnshop/internal/flags"
	"github.com/ashureev/vulnshop/internal/identity"
	"github.com/ashureev/vulnshop/internal/store"
)

// maxJSONBody bounds JSON request bodies.
const maxJSONBody = 5 << 20

// Handler serves the shop endpoints.
type Handler struct {
	repo          store.Repository
	sessions      *identity.Sessions
	awarder       *flags.Awarder
	secureCookies bool
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(repo store.Repository, sessions *identity.Sessions, awarder *flags.Awarder, secureCookies bool) *Handler {
	return &Handler{
		repo:          repo,
		sessions:      sessions,
		awarder:       awarder,
		secureCookies: secureCookies,
	}
}

// RegisterRoutes registers every shop route. identity.Middleware must run before them.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/api/health", h.Health)

	r.Route("/api/auth", func(r chi.Router) {
		r.Post("/login", h.Login)
		r.Post("/logout", h.Logout)
		r.Post("/register", h.Register)
		r.Get("/me", h.Me)
	})

	r.Get("/api/products", h.ListProducts)
	r.Get("/api/products/{id}", h.GetProduct)

	r.Group(func(r chi.Router) {
		r.Use(identity.RequireAuth)

		r.Get("/api/cart", h.GetCart)
		r.Post("/api/cart/items", h.AddCartItem)
		r.Delete("/api/cart/items/{id}", h.RemoveCartItem)

		r.Get("/api/orders", h.ListOrders)
		r.Post("/api/orders", h.Checkout)
		r.Get("/api/orders/{id}", h.GetOrder)
		r.Post("/api/orders/{id}/refund", h.RefundOrder)
		r.Post("/api/orders/{id}/cancel", h.CancelOrder)
		r.Post("/api/payments/{orderId}/confirm", h.ConfirmPayment)

		r.Get("/api/profile", h.GetProfile)
		r.Put("/api/profile/address", h.UpdateAddress)
		r.Put("/api/profile/password", h.UpdatePassword)

		r.Get("/api/rag/docs", h.ListDocuments)

		r.Post("/api/mcp/register", h.RegisterEndpoint)
		r.Get("/api/mcp/endpoints", h.ListEndpoints)

		r.Get("/api/flags", h.ListFlags)
	})

	r.Group(func(r chi.Router) {
		r.Use(identity.RequireAdmin)

		r.Post("/api/rag/upload", h.UploadDocument)
		r.Get("/api/rag/docs/{id}", h.GetDocument)
		r.Post("/api/rag/reindex", h.Reindex)
		r.Post("/api/admin/flags/reset", h.ResetFlags)
	})
}

// Health reports whether the store is reachable.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.repo.Ping(r.Context()); err != nil {
		slog.Warn("health check failed", "error", err)
		JSON(w, http.StatusServiceUnavailable, map[string]any{"ok": false, "status": "unhealthy"})
		return
	}
	JSON(w, http.StatusOK, map[string]any{"ok": true, "status": "healthy"})
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode response", "error", err)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// internalError logs err and answers with a generic 500.
func internalError(w http.ResponseWriter, msg string, err error) {
	slog.Error(msg, "error", err)
	Error(w, http.StatusInternalServerError, "Server error")
}

// decodeJSON reads an optional JSON body into v. An empty body leaves v untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		Error(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// pathID parses a numeric URL parameter. Unparseable ids yield 0, which matches no row.
func pathID(r *http.Request, name string) int64 {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil {
		return 0
	}
	return id
}
