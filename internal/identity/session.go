package identity

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"
)

// CookieName is the session cookie.
const CookieName = "vulnshop_session"

// Session is a signed-in browser session.
type Session struct {
	// ID is safe to log; the token is not.
	ID        string
	UserID    int64
	CreatedAt time.Time
	LastSeen  time.Time
}

// Sessions is an in-memory session table keyed by random token.
// Cookies carry "<token>.<hmac>" so forged tokens are rejected before lookup.
type Sessions struct {
	mu      sync.Mutex
	byToken map[string]*Session
	secret  []byte
	ttl     time.Duration
	now     func() time.Time
}

// NewSessions creates a table whose sessions expire after ttl of inactivity.
func NewSessions(secret string, ttl time.Duration) *Sessions {
	return &Sessions{
		byToken: make(map[string]*Session),
		secret:  []byte(secret),
		ttl:     ttl,
		now:     time.Now,
	}
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate random id: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

func (s *Sessions) sign(token string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(token))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// Create starts a session for userID and returns it with its cookie value.
func (s *Sessions) Create(userID int64) (*Session, string, error) {
	token, err := randomHex(32)
	if err != nil {
		return nil, "", err
	}
	id, err := randomHex(8)
	if err != nil {
		return nil, "", err
	}
	now := s.now()
	sess := &Session{ID: id, UserID: userID, CreatedAt: now, LastSeen: now}

	s.mu.Lock()
	s.byToken[token] = sess
	s.mu.Unlock()
	return sess, token + "." + s.sign(token), nil
}

func (s *Sessions) tokenFromCookie(value string) (string, bool) {
	token, sig, ok := strings.Cut(value, ".")
	if !ok || token == "" {
		return "", false
	}
	if !hmac.Equal([]byte(sig), []byte(s.sign(token))) {
		return "", false
	}
	return token, true
}

// Lookup returns the live session for a cookie value and refreshes its idle timer.
func (s *Sessions) Lookup(cookieValue string) (*Session, bool) {
	token, ok := s.tokenFromCookie(cookieValue)
	if !ok {
		return nil, false
	}
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.byToken[token]
	if !ok {
		return nil, false
	}
	if s.ttl > 0 && now.Sub(sess.LastSeen) > s.ttl {
		delete(s.byToken, token)
		return nil, false
	}
	sess.LastSeen = now
	copied := *sess
	return &copied, true
}

// Destroy ends the session behind a cookie value.
func (s *Sessions) Destroy(cookieValue string) {
	token, ok := s.tokenFromCookie(cookieValue)
	if !ok {
		return
	}
	s.mu.Lock()
	delete(s.byToken, token)
	s.mu.Unlock()
}

// Sweep removes sessions idle for longer than the ttl and returns how many.
func (s *Sessions) Sweep() int {
	if s.ttl <= 0 {
		return 0
	}
	cutoff := s.now().Add(-s.ttl)

	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for token, sess := range s.byToken {
		if sess.LastSeen.Before(cutoff) {
			delete(s.byToken, token)
			removed++
		}
	}
	return removed
}

// Len returns the number of live sessions.
func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byToken)
}

// SetCookie writes the session cookie. It stays readable from scripts on purpose.
func (s *Sessions) SetCookie(w http.ResponseWriter, value string, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   int(s.ttl.Seconds()),
		HttpOnly: false,
		SameSite: http.SameSiteLaxMode,
		Secure:   secure,
	})
}

// ClearCookie expires the session cookie.
func ClearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: false,
		SameSite: http.SameSiteLaxMode,
	})
}
