package store

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/vulnshop/internal/domain"
)

func newSeededStore(t *testing.T) Repository {
	t.Helper()
	repo, err := NewSQLite(filepath.Join(t.TempDir(), "app.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	res, err := repo.Seed(context.Background(), true)
	require.NoError(t, err)
	require.True(t, res.Seeded)
	return repo
}

func mustUser(t *testing.T, repo Repository, email string) *domain.User {
	t.Helper()
	user, err := repo.GetUserByEmail(context.Background(), email)
	require.NoError(t, err)
	require.NotNil(t, user, "user %s", email)
	return user
}

func TestSeedLoadsDemoData(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := newSeededStore(t)

	n, err := repo.CountUsers(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	products, err := repo.ListProducts(ctx)
	require.NoError(t, err)
	assert.Len(t, products, 30)
	for _, p := range products {
		assert.Len(t, p.Variants, 2, p.SKU)
	}

	annie := mustUser(t, repo, "annie@demo.store")
	orders, err := repo.ListOrders(ctx, annie.ID)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	order := orders[0]
	assert.Equal(t, domain.OrderCompleted, order.Status)
	assert.Len(t, order.Items, 4)
	// Both variants of Quantum Coffee Beans and Schrodinger Espresso Pods.
	assert.EqualValues(t, 1499+1599+1899+1899, order.TotalCents)
	require.NotNil(t, order.Payment)
	require.NotNil(t, order.Payment.CardLast4)
	assert.Equal(t, "4242", *order.Payment.CardLast4)

	sam := mustUser(t, repo, "sam@demo.store")
	orders, err = repo.ListOrders(ctx, sam.ID)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, "1337", *orders[0].Payment.CardLast4)

	admin := mustUser(t, repo, "admin@demo.store")
	assert.True(t, admin.IsAdmin())
	orders, err = repo.ListOrders(ctx, admin.ID)
	require.NoError(t, err)
	assert.Empty(t, orders)

	addr, err := repo.GetAddress(ctx, annie.ID)
	require.NoError(t, err)
	require.NotNil(t, addr)
	assert.Equal(t, "QP-0001", addr.PostalCode)
	assert.Equal(t, "Denmark", addr.Country)

	docs, err := repo.ListDocuments(ctx)
	require.NoError(t, err)
	assert.Len(t, docs, 3)
}

func TestSeedWithoutResetKeepsExistingData(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := newSeededStore(t)

	res, err := repo.Seed(ctx, false)
	require.NoError(t, err)
	assert.False(t, res.Seeded)

	n, err := repo.CountUsers(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
}

func TestSeedResetWipesFlagsAndEndpoints(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := newSeededStore(t)

	annie := mustUser(t, repo, "annie@demo.store")
	require.NoError(t, repo.InsertFlag(ctx, &domain.FlagAward{UserID: annie.ID, VulnCode: "EA", Flag: "EA_FLAG{x}"}))
	_, err := repo.AddEndpoint(ctx, annie.ID, "http://tools.local")
	require.NoError(t, err)

	_, err = repo.Seed(ctx, true)
	require.NoError(t, err)

	annie = mustUser(t, repo, "annie@demo.store")
	flags, err := repo.ListFlags(ctx, annie.ID)
	require.NoError(t, err)
	assert.Empty(t, flags)
	endpoints, err := repo.ListEndpoints(ctx, annie.ID)
	require.NoError(t, err)
	assert.Empty(t, endpoints)
}

func TestCreateUserConflict(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := newSeededStore(t)

	user := &domain.User{FullName: "Eve", Username: "eve", Email: "annie@demo.store", PasswordHash: "x"}
	err := repo.CreateUser(ctx, user)
	assert.ErrorIs(t, err, ErrConflict)

	user.Email = "eve@demo.store"
	require.NoError(t, repo.CreateUser(ctx, user))
	assert.NotZero(t, user.ID)
	assert.Equal(t, domain.RoleUser, user.Role)

	cart, err := repo.GetCart(ctx, user.ID)
	require.NoError(t, err)
	assert.Empty(t, cart.Items)
}

func TestInsertFlagKeepsFirstValue(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := newSeededStore(t)
	annie := mustUser(t, repo, "annie@demo.store")

	require.NoError(t, repo.InsertFlag(ctx, &domain.FlagAward{UserID: annie.ID, VulnCode: "SID", Flag: "first"}))
	require.NoError(t, repo.InsertFlag(ctx, &domain.FlagAward{UserID: annie.ID, VulnCode: "SID", Flag: "second"}))

	award, err := repo.GetFlag(ctx, annie.ID, "SID")
	require.NoError(t, err)
	require.NotNil(t, award)
	assert.Equal(t, "first", award.Flag)

	flags, err := repo.ListFlags(ctx, annie.ID)
	require.NoError(t, err)
	assert.Len(t, flags, 1)

	removed, err := repo.ResetFlags(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, removed)
}

func TestSearchChunksReturnsRawText(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := newSeededStore(t)

	chunks, err := repo.SearchChunks(ctx, "instruction", 3)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	assert.Equal(t, "Poisoned Discount Script", chunks[0].Title)
	assert.True(t, strings.HasPrefix(chunks[0].Text, "*** SYSTEM INSTRUCTION ***"))

	reindexed, err := repo.ReindexDocuments(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, reindexed)

	chunks, err = repo.SearchChunks(ctx, "sandbox", 3)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Contains(t, chunks[0].Text, "card ending 4242")
}

func TestCreateDocumentChunks(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := newSeededStore(t)

	text := strings.Repeat("a", 2000)
	chunks := domain.ChunkText(text, domain.ChunkSize, domain.ChunkOverlap)
	doc := &domain.Document{Title: "long.txt", ContentText: text}
	require.NoError(t, repo.CreateDocument(ctx, doc, chunks))
	assert.NotZero(t, doc.ID)

	got, err := repo.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, text, got.ContentText)

	stored, err := repo.ListChunks(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, stored, len(chunks))
	for i, c := range stored {
		assert.Equal(t, i, c.ChunkIndex)
		assert.Equal(t, chunks[i], c.Text)
	}

	missing, err := repo.GetDocument(ctx, 9999)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestRefundOrder(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := newSeededStore(t)
	annie := mustUser(t, repo, "annie@demo.store")

	orders, err := repo.ListOrders(ctx, annie.ID)
	require.NoError(t, err)
	order := orders[0]

	require.NoError(t, repo.RefundOrder(ctx, order.ID, order.TotalCents, "because"))

	got, err := repo.GetOrder(ctx, annie.ID, order.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, domain.OrderRefunded, got.Status)
	assert.Equal(t, domain.PaymentRefunded, got.Payment.Status)
	require.Len(t, got.Refunds, 1)
	assert.Equal(t, order.TotalCents, got.Refunds[0].AmountCents)

	assert.ErrorIs(t, repo.RefundOrder(ctx, 9999, 1, "x"), ErrNotFound)

	sam := mustUser(t, repo, "sam@demo.store")
	other, err := repo.GetOrder(ctx, sam.ID, order.ID)
	require.NoError(t, err)
	assert.Nil(t, other)
}

func TestCartAndCheckout(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := newSeededStore(t)
	sam := mustUser(t, repo, "sam@demo.store")

	products, err := repo.ListProducts(ctx)
	require.NoError(t, err)
	product, err := repo.GetProduct(ctx, products[0].ID)
	require.NoError(t, err)
	require.NotNil(t, product)
	variant := product.Variants[1]

	cart, err := repo.GetOrCreateCart(ctx, sam.ID)
	require.NoError(t, err)
	item := &domain.CartItem{
		CartID:             cart.ID,
		ProductID:          product.ID,
		VariantID:          &variant.ID,
		Qty:                2,
		PriceCentsSnapshot: product.UnitPrice(&variant) * 2,
	}
	require.NoError(t, repo.AddCartItem(ctx, item))

	full, err := repo.GetCart(ctx, sam.ID)
	require.NoError(t, err)
	require.Len(t, full.Items, 1)
	assert.Equal(t, product.Name, full.Items[0].Name)
	assert.Equal(t, product.UnitPrice(&variant), full.Items[0].UnitPrice())

	orderID, err := repo.CreateOrder(ctx, NewOrder{
		UserID:        sam.ID,
		Status:        domain.OrderPending,
		Lines:         []domain.NewOrderLine{{ProductID: product.ID, VariantID: &variant.ID, Qty: 2, LineCents: item.PriceCentsSnapshot}},
		PaymentStatus: domain.PaymentPending,
	})
	require.NoError(t, err)
	require.NoError(t, repo.ClearCart(ctx, cart.ID))

	require.NoError(t, repo.CapturePayment(ctx, orderID, "4242", "txn"))
	order, err := repo.GetOrder(ctx, sam.ID, orderID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderCompleted, order.Status)
	assert.Equal(t, domain.PaymentCaptured, order.Payment.Status)
	assert.Equal(t, item.PriceCentsSnapshot, order.TotalCents)

	removed, err := repo.RemoveCartItem(ctx, cart.ID, item.ID)
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestRawQueryAndExec(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := newSeededStore(t)

	rows, err := repo.RawQuery(ctx, "SELECT email FROM users ORDER BY id")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "annie@demo.store", rows[0]["email"])

	res, err := repo.RawExec(ctx, "UPDATE products SET stock = 0")
	require.NoError(t, err)
	assert.EqualValues(t, 30, res.Changes)

	_, err = repo.RawQuery(ctx, "SELECT * FROM nope")
	assert.Error(t, err)
}

func TestAddressUpsert(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := newSeededStore(t)

	user := &domain.User{FullName: "New", Username: "new", Email: "new@demo.store", PasswordHash: "x"}
	require.NoError(t, repo.CreateUser(ctx, user))

	addr, err := repo.GetAddress(ctx, user.ID)
	require.NoError(t, err)
	assert.Nil(t, addr)

	line1 := "1 Main St"
	next := domain.AddressPatch{Line1: &line1}.Apply(domain.PlaceholderAddress(user.ID))
	require.NoError(t, repo.UpsertAddress(ctx, &next))

	addr, err = repo.GetAddress(ctx, user.ID)
	require.NoError(t, err)
	require.NotNil(t, addr)
	assert.Equal(t, "1 Main St", addr.Line1)
	assert.Equal(t, "Unknown", addr.City)
	assert.Equal(t, "00000", addr.PostalCode)
}

func TestVariantLookups(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := newSeededStore(t)

	products, err := repo.ListProducts(ctx)
	require.NoError(t, err)
	first, other := products[0], products[1].Variants[0]

	owned, err := repo.GetVariant(ctx, first.ID, first.Variants[0].ID)
	require.NoError(t, err)
	require.NotNil(t, owned)
	assert.Equal(t, first.Variants[0].Name, owned.Name)

	foreign, err := repo.GetVariant(ctx, first.ID, other.ID)
	require.NoError(t, err)
	assert.Nil(t, foreign, "ownership-checked lookup rejects another product's variant")

	byID, err := repo.GetVariantByID(ctx, other.ID)
	require.NoError(t, err)
	require.NotNil(t, byID)
	assert.Equal(t, products[1].ID, byID.ProductID)

	missing, err := repo.GetVariantByID(ctx, 99999)
	require.NoError(t, err)
	assert.Nil(t, missing)
}
