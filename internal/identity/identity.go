// Package identity provides cookie sessions and request identity primitives.
package identity

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"

	"github.com/ashureev/vulnshop/internal/domain"
)

type contextKey int

const (
	userKey contextKey = iota
	sessionKey
)

// UserGetter loads the account behind a session.
type UserGetter interface {
	GetUser(ctx context.Context, userID int64) (*domain.User, error)
}

// UserFromContext returns the signed-in user, or nil.
func UserFromContext(ctx context.Context) *domain.User {
	if v, ok := ctx.Value(userKey).(*domain.User); ok {
		return v
	}
	return nil
}

// UserIDFromContext returns the signed-in user's id, or 0.
func UserIDFromContext(ctx context.Context) int64 {
	if u := UserFromContext(ctx); u != nil {
		return u.ID
	}
	return 0
}

// SessionIDFromContext returns the public id of the current session, or "".
func SessionIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(sessionKey).(*Session); ok {
		return v.ID
	}
	return ""
}

// WithUser returns ctx carrying user and session.
func WithUser(ctx context.Context, user *domain.User, sess *Session) context.Context {
	ctx = context.WithValue(ctx, userKey, user)
	if sess != nil {
		ctx = context.WithValue(ctx, sessionKey, sess)
	}
	return ctx
}

// Middleware attaches the session's user to the request context when the
// cookie is valid. Requests without a session pass through anonymously.
func Middleware(sessions *Sessions, users UserGetter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			c, err := r.Cookie(CookieName)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}
			sess, ok := sessions.Lookup(c.Value)
			if !ok {
				next.ServeHTTP(w, r)
				return
			}
			user, err := users.GetUser(r.Context(), sess.UserID)
			if err != nil {
				slog.Error("failed to load session user", "user_id", sess.UserID, "error", err)
				writeError(w, http.StatusInternalServerError, "failed to load session user")
				return
			}
			if user == nil {
				sessions.Destroy(c.Value)
				next.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user, sess)))
		})
	}
}

// RequireAuth rejects requests without a signed-in user.
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if UserFromContext(r.Context()) == nil {
			writeError(w, http.StatusUnauthorized, "Authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAdmin rejects requests whose user is not an admin.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := UserFromContext(r.Context())
		if user == nil {
			writeError(w, http.StatusUnauthorized, "Authentication required")
			return
		}
		if !user.IsAdmin() {
			writeError(w, http.StatusForbidden, "Admin access required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// IPFromRequest returns a normalized remote IP for optional request tracing.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]string{"error": msg}); err != nil {
		slog.Warn("failed to write error response", "error", err)
	}
}
