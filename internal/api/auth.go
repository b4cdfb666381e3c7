package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ashureev/vulnshop/internal/domain"
	"github.com/ashureev/vulnshop/internal/identity"
	"github.com/ashureev/vulnshop/internal/store"
)

// sessionUser is the account view handed to the browser.
type sessionUser struct {
	ID       int64  `json:"id"`
	Email    string `json:"email"`
	Username string `json:"username"`
	Role     string `json:"role"`
	FullName string `json:"full_name"`
}

func newSessionUser(u *domain.User) *sessionUser {
	return &sessionUser{ID: u.ID, Email: u.Email, Username: u.Username, Role: u.Role, FullName: u.FullName}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
	Username string `json:"username"`
}

// Login handles POST /api/auth/login.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Email == "" || req.Password == "" {
		Error(w, http.StatusBadRequest, "Email and password required")
		return
	}

	user, err := identity.Authenticate(r.Context(), h.repo, req.Email, req.Password)
	if errors.Is(err, identity.ErrInvalidCredentials) {
		Error(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}
	if err != nil {
		internalError(w, "failed to authenticate", err)
		return
	}
	if !h.startSession(w, user) {
		return
	}

	awards, err := h.repo.ListFlags(r.Context(), user.ID)
	if err != nil {
		internalError(w, "failed to list flags", err)
		return
	}
	slog.Info("user logged in", "user_id", user.ID)
	JSON(w, http.StatusOK, map[string]any{"user": newSessionUser(user), "flags": awards})
}

// Logout handles POST /api/auth/logout.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(identity.CookieName); err == nil {
		h.sessions.Destroy(c.Value)
	}
	identity.ClearCookie(w)
	JSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// Register handles POST /api/auth/register.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Email == "" || req.Password == "" || req.FullName == "" || req.Username == "" {
		Error(w, http.StatusBadRequest, "Missing required fields")
		return
	}

	hash, err := identity.HashPassword(req.Password)
	if err != nil {
		internalError(w, "failed to hash password", err)
		return
	}
	user := &domain.User{
		Role:         domain.RoleUser,
		FullName:     req.FullName,
		Username:     strings.TrimSpace(req.Username),
		Email:        identity.NormalizeEmail(req.Email),
		PasswordHash: hash,
	}
	if err := h.repo.CreateUser(r.Context(), user); err != nil {
		if errors.Is(err, store.ErrConflict) {
			Error(w, http.StatusConflict, "Email or username already in use")
			return
		}
		internalError(w, "failed to create user", err)
		return
	}
	if !h.startSession(w, user) {
		return
	}

	slog.Info("user registered", "user_id", user.ID)
	JSON(w, http.StatusCreated, map[string]any{"user": newSessionUser(user), "flags": []domain.FlagAward{}})
}

// Me handles GET /api/auth/me. Anonymous callers get a null user.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	user := identity.UserFromContext(r.Context())
	if user == nil {
		JSON(w, http.StatusOK, map[string]any{"user": nil, "flags": []domain.FlagAward{}})
		return
	}
	awards, err := h.repo.ListFlags(r.Context(), user.ID)
	if err != nil {
		internalError(w, "failed to list flags", err)
		return
	}
	JSON(w, http.StatusOK, map[string]any{"user": newSessionUser(user), "flags": awards})
}

func (h *Handler) startSession(w http.ResponseWriter, user *domain.User) bool {
	_, cookie, err := h.sessions.Create(user.ID)
	if err != nil {
		internalError(w, "failed to create session", err)
		return false
	}
	h.sessions.SetCookie(w, cookie, h.secureCookies)
	return true
}
