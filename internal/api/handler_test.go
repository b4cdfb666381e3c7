//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/vulnshop/internal/flags"
	"github.com/ashureev/vulnshop/internal/identity"
	"github.com/ashureev/vulnshop/internal/store"
)

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]string{"foo": "bar"}

	JSON(w, http.StatusOK, data)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	var got map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if got["foo"] != "bar" {
		t.Errorf("Expected foo=bar, got %v", got["foo"])
	}
}

func TestLuhnValid(t *testing.T) {
	tests := []struct {
		card string
		want bool
	}{
		{"4242424242424242", true},
		{"4242 4242 4242 4242", true},
		{"4242424242424241", false},
		{"79927398713", true},
		{"79927398710", false},
	}
	for _, tt := range tests {
		if got := luhnValid(tt.card); got != tt.want {
			t.Errorf("luhnValid(%q) = %v, want %v", tt.card, got, tt.want)
		}
	}
}

type testShop struct {
	srv  *httptest.Server
	repo store.Repository
}

func newTestShop(t *testing.T) *testShop {
	t.Helper()
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "app.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	_, err = repo.Seed(context.Background(), true)
	require.NoError(t, err)

	sessions := identity.NewSessions("test-secret", time.Hour)
	r := chi.NewRouter()
	r.Use(identity.Middleware(sessions, repo))
	NewHandler(repo, sessions, flags.NewAwarder(repo, "FLAG"), false).RegisterRoutes(r)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &testShop{srv: srv, repo: repo}
}

// client returns an HTTP client with its own cookie jar.
func (s *testShop) client(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &http.Client{Jar: jar}
}

func (s *testShop) login(t *testing.T, email, password string) *http.Client {
	t.Helper()
	c := s.client(t)
	status, _ := s.do(t, c, http.MethodPost, "/api/auth/login", map[string]string{"email": email, "password": password})
	require.Equal(t, http.StatusOK, status)
	return c
}

func (s *testShop) do(t *testing.T, c *http.Client, method, path string, body any) (int, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, s.srv.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func TestHealth(t *testing.T) {
	t.Parallel()
	shop := newTestShop(t)

	status, body := shop.do(t, shop.client(t), http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, map[string]any{"ok": true, "status": "healthy"}, body)
}

func TestAuthFlow(t *testing.T) {
	t.Parallel()
	shop := newTestShop(t)
	c := shop.client(t)

	status, body := shop.do(t, c, http.MethodGet, "/api/auth/me", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Nil(t, body["user"])

	status, body = shop.do(t, c, http.MethodPost, "/api/auth/login", map[string]string{"email": "annie@demo.store", "password": "nope"})
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "Invalid credentials", body["error"])

	status, body = shop.do(t, c, http.MethodPost, "/api/auth/login", map[string]string{"email": ""})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "Email and password required", body["error"])

	status, body = shop.do(t, c, http.MethodPost, "/api/auth/register", map[string]string{
		"email": "New@Demo.Store", "password": "pw", "full_name": "New Shopper", "username": "newbie",
	})
	require.Equal(t, http.StatusCreated, status)
	user := body["user"].(map[string]any)
	assert.Equal(t, "new@demo.store", user["email"])
	assert.Equal(t, "user", user["role"])

	status, body = shop.do(t, c, http.MethodGet, "/api/auth/me", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "newbie", body["user"].(map[string]any)["username"])

	status, _ = shop.do(t, shop.client(t), http.MethodPost, "/api/auth/register", map[string]string{
		"email": "new@demo.store", "password": "pw", "full_name": "Dup", "username": "other",
	})
	assert.Equal(t, http.StatusConflict, status)

	status, _ = shop.do(t, c, http.MethodPost, "/api/auth/logout", nil)
	assert.Equal(t, http.StatusOK, status)
	status, body = shop.do(t, c, http.MethodGet, "/api/cart", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "Authentication required", body["error"])
}

func TestCheckoutAndPayment(t *testing.T) {
	t.Parallel()
	shop := newTestShop(t)
	c := shop.login(t, "sam@demo.store", "duckduck90")

	products, err := shop.repo.ListProducts(context.Background())
	require.NoError(t, err)
	product := products[0]
	variant := product.Variants[1]

	status, body := shop.do(t, c, http.MethodPost, "/api/cart/items", map[string]any{
		"productId": product.ID, "variantId": variant.ID, "qty": 2,
	})
	require.Equal(t, http.StatusCreated, status, body)
	item := body["item"].(map[string]any)
	assert.EqualValues(t, (product.PriceCents+variant.PriceDeltaCents)*2, item["price_cents_snapshot"])

	status, body = shop.do(t, c, http.MethodPost, "/api/cart/items", map[string]any{"productId": product.ID, "variantId": 999999})
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "Variant not found", body["error"])

	status, body = shop.do(t, c, http.MethodPost, "/api/orders", nil)
	require.Equal(t, http.StatusCreated, status, body)
	order := body["order"].(map[string]any)
	assert.Equal(t, "pending", order["status"])
	assert.EqualValues(t, (product.PriceCents+variant.PriceDeltaCents)*2, order["total_cents"])
	orderID := int64(order["id"].(float64))

	status, body = shop.do(t, c, http.MethodPost, "/api/orders", nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "Cart is empty", body["error"])

	path := "/api/payments/" + itoa(orderID) + "/confirm"
	status, body = shop.do(t, c, http.MethodPost, path, map[string]string{"cardNumber": "4242424242424241", "expiry": "12/30", "cvv": "123"})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "Card failed Luhn check", body["error"])

	status, body = shop.do(t, c, http.MethodPost, path, map[string]string{"cardNumber": "4242424242424242", "expiry": "12/30", "cvv": "123"})
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "completed", body["order"].(map[string]any)["status"])
	payment := body["payment"].(map[string]any)
	assert.Equal(t, "captured", payment["status"])
	assert.Equal(t, "4242", payment["card_last4"])

	status, body = shop.do(t, c, http.MethodPost, "/api/orders/"+itoa(orderID)+"/cancel", nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "Order already completed", body["error"])

	status, body = shop.do(t, c, http.MethodPost, "/api/orders/"+itoa(orderID)+"/refund", map[string]string{})
	require.Equal(t, http.StatusOK, status)
	refunded := body["order"].(map[string]any)
	assert.Equal(t, "refunded", refunded["status"])
	refunds := refunded["refunds"].([]any)
	require.Len(t, refunds, 1)
	assert.Equal(t, defaultRefundReason, refunds[0].(map[string]any)["reason"])
}

func TestOrdersAreScopedToOwner(t *testing.T) {
	t.Parallel()
	shop := newTestShop(t)

	annie, err := shop.repo.GetUserByEmail(context.Background(), "annie@demo.store")
	require.NoError(t, err)
	orders, err := shop.repo.ListOrders(context.Background(), annie.ID)
	require.NoError(t, err)

	sam := shop.login(t, "sam@demo.store", "duckduck90")
	status, body := shop.do(t, sam, http.MethodGet, "/api/orders/"+itoa(orders[0].ID), nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "Order not found", body["error"])
}

func TestProfileUpdates(t *testing.T) {
	t.Parallel()
	shop := newTestShop(t)
	c := shop.login(t, "annie@demo.store", "quantum123")

	status, body := shop.do(t, c, http.MethodPut, "/api/profile/address", map[string]string{"line1": "1 Main"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "Missing required address fields", body["error"])

	status, body = shop.do(t, c, http.MethodPut, "/api/profile/address", map[string]string{
		"line1": "1 Main", "city": "Springfield", "state": "IL", "postal_code": "62701",
	})
	require.Equal(t, http.StatusOK, status)
	addr := body["address"].(map[string]any)
	assert.Equal(t, "USA", addr["country"])

	status, body = shop.do(t, c, http.MethodGet, "/api/profile", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Springfield", body["profile"].(map[string]any)["address"].(map[string]any)["city"])

	status, body = shop.do(t, c, http.MethodPut, "/api/profile/password", map[string]string{"currentPassword": "wrong", "newPassword": "x"})
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "Current password incorrect", body["error"])

	status, _ = shop.do(t, c, http.MethodPut, "/api/profile/password", map[string]string{"currentPassword": "quantum123", "newPassword": "fresh-pass"})
	require.Equal(t, http.StatusOK, status)
	shop.login(t, "annie@demo.store", "fresh-pass")
}

func TestMCPRegistration(t *testing.T) {
	t.Parallel()
	shop := newTestShop(t)
	c := shop.login(t, "annie@demo.store", "quantum123")

	status, body := shop.do(t, c, http.MethodPost, "/api/mcp/register", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "url required", body["error"])

	status, _ = shop.do(t, c, http.MethodPost, "/api/mcp/register", map[string]string{"url": "http://tools.example"})
	require.Equal(t, http.StatusOK, status)

	status, body = shop.do(t, c, http.MethodGet, "/api/mcp/endpoints", nil)
	require.Equal(t, http.StatusOK, status)
	endpoints := body["endpoints"].([]any)
	require.Len(t, endpoints, 1)
	assert.Equal(t, "http://tools.example", endpoints[0].(map[string]any)["url"])
}

func TestAdminRoutes(t *testing.T) {
	t.Parallel()
	shop := newTestShop(t)
	customer := shop.login(t, "annie@demo.store", "quantum123")
	admin := shop.login(t, "admin@demo.store", "pwnAllTheLLMs")

	status, body := shop.do(t, customer, http.MethodPost, "/api/rag/reindex", nil)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "Admin access required", body["error"])

	status, body = shop.do(t, admin, http.MethodPost, "/api/rag/reindex", nil)
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 3, body["reindexed"])

	status, body = shop.do(t, customer, http.MethodGet, "/api/rag/docs", nil)
	require.Equal(t, http.StatusOK, status)
	docs := body["docs"].([]any)
	require.Len(t, docs, 3)
	docID := int64(docs[0].(map[string]any)["id"].(float64))

	status, body = shop.do(t, admin, http.MethodGet, "/api/rag/docs/"+itoa(docID), nil)
	require.Equal(t, http.StatusOK, status)
	assert.NotEmpty(t, body["chunks"])

	status, body = shop.do(t, admin, http.MethodGet, "/api/rag/docs/999999", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "Doc not found", body["error"])

	annie, err := shop.repo.GetUserByEmail(context.Background(), "annie@demo.store")
	require.NoError(t, err)
	_, err = flags.NewAwarder(shop.repo, "FLAG").Award(context.Background(), annie.ID, "EA")
	require.NoError(t, err)

	status, body = shop.do(t, customer, http.MethodGet, "/api/flags", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["flags"], 1)

	status, body = shop.do(t, admin, http.MethodPost, "/api/admin/flags/reset", nil)
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 1, body["cleared"])

	_, body = shop.do(t, customer, http.MethodGet, "/api/flags", nil)
	assert.Empty(t, body["flags"])
}

func TestUploadDocument(t *testing.T) {
	t.Parallel()
	shop := newTestShop(t)
	admin := shop.login(t, "admin@demo.store", "pwnAllTheLLMs")

	upload := func(name, content string) (int, map[string]any) {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		fw, err := mw.CreateFormFile("file", name)
		require.NoError(t, err)
		_, err = fw.Write([]byte(content))
		require.NoError(t, err)
		require.NoError(t, mw.Close())

		req, err := http.NewRequest(http.MethodPost, shop.srv.URL+"/api/rag/upload", &buf)
		require.NoError(t, err)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		resp, err := admin.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		var out map[string]any
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
		return resp.StatusCode, out
	}

	status, body := upload("notes.md", "hello")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "Only .txt files allowed", body["error"])

	status, body = upload("faq.txt", string(bytes.Repeat([]byte("b"), 2000)))
	require.Equal(t, http.StatusCreated, status, body)
	stats := body["stats"].(map[string]any)
	assert.EqualValues(t, 2000, stats["bytes"])
	assert.EqualValues(t, 3, stats["chunks"])
}

func itoa(n int64) string { return strconv.FormatInt(n, 10) }
