// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"

	"github.com/ashureev/vulnshop/internal/domain"
)

var (
	// ErrNotFound is returned by mutations that target a row which does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a unique constraint rejects a write.
	ErrConflict = errors.New("already exists")
)

// NewOrder describes an order to insert together with its lines and payment.
type NewOrder struct {
	UserID        int64
	Status        string
	Lines         []domain.NewOrderLine
	PaymentStatus string
	CardLast4     *string
	TxnRef        *string
}

// Total returns the sum of the line totals.
func (o NewOrder) Total() int64 {
	var total int64
	for _, l := range o.Lines {
		total += l.LineCents
	}
	return total
}

// ExecResult is the outcome of a raw statement.
type ExecResult struct {
	Changes         int64 `json:"changes"`
	LastInsertRowID int64 `json:"last_insert_rowid"`
}

// SeedResult reports what Seed did.
type SeedResult struct {
	Seeded    bool `json:"seeded"`
	Users     int  `json:"users"`
	Products  int  `json:"products"`
	Orders    int  `json:"orders"`
	Documents int  `json:"documents"`
}

// Repository defines the persistence operations of the shop.
// Getters return (nil, nil) when the row does not exist.
type Repository interface {
	// Users.
	GetUser(ctx context.Context, userID int64) (*domain.User, error)
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)
	// CreateUser inserts the user and its empty cart, setting user.ID.
	// Duplicate email or username yields ErrConflict.
	CreateUser(ctx context.Context, user *domain.User) error
	UpdatePassword(ctx context.Context, userID int64, passwordHash string) error
	CountUsers(ctx context.Context) (int64, error)

	GetAddress(ctx context.Context, userID int64) (*domain.Address, error)
	UpsertAddress(ctx context.Context, addr *domain.Address) error

	// Catalog.
	ListProducts(ctx context.Context) ([]domain.Product, error)
	GetProduct(ctx context.Context, productID int64) (*domain.Product, error)
	GetVariant(ctx context.Context, productID, variantID int64) (*domain.Variant, error)
	GetVariantByID(ctx context.Context, variantID int64) (*domain.Variant, error)

	// Cart.
	GetOrCreateCart(ctx context.Context, userID int64) (*domain.Cart, error)
	GetCart(ctx context.Context, userID int64) (*domain.Cart, error)
	AddCartItem(ctx context.Context, item *domain.CartItem) error
	GetCartItem(ctx context.Context, cartID, itemID int64) (*domain.CartItem, error)
	RemoveCartItem(ctx context.Context, cartID, itemID int64) (int64, error)
	ClearCart(ctx context.Context, cartID int64) error

	// Orders and payments.
	ListOrders(ctx context.Context, userID int64) ([]domain.Order, error)
	GetOrder(ctx context.Context, userID, orderID int64) (*domain.Order, error)
	CreateOrder(ctx context.Context, order NewOrder) (int64, error)
	RefundOrder(ctx context.Context, orderID, amountCents int64, reason string) error
	SetOrderStatus(ctx context.Context, orderID int64, status string) error
	CapturePayment(ctx context.Context, orderID int64, cardLast4, txnRef string) error

	// Knowledge base.
	CreateDocument(ctx context.Context, doc *domain.Document, chunks []string) error
	ListDocuments(ctx context.Context) ([]domain.Document, error)
	GetDocument(ctx context.Context, docID int64) (*domain.Document, error)
	ListChunks(ctx context.Context, docID int64) ([]domain.Chunk, error)
	SearchChunks(ctx context.Context, query string, limit int) ([]domain.Chunk, error)
	ReindexDocuments(ctx context.Context) (int, error)

	// Flags.
	GetFlag(ctx context.Context, userID int64, code string) (*domain.FlagAward, error)
	// InsertFlag stores the award unless one exists for (user, code).
	InsertFlag(ctx context.Context, award *domain.FlagAward) error
	ListFlags(ctx context.Context, userID int64) ([]domain.FlagAward, error)
	ResetFlags(ctx context.Context) (int64, error)

	// Remote tool endpoints.
	AddEndpoint(ctx context.Context, userID int64, url string) (int64, error)
	ListEndpoints(ctx context.Context, userID int64) ([]domain.MCPEndpoint, error)

	// RawQuery runs a statement and returns its rows as column maps.
	RawQuery(ctx context.Context, query string) ([]map[string]any, error)
	// RawExec runs a statement that returns no rows.
	RawExec(ctx context.Context, query string) (ExecResult, error)

	// Seed loads the demo data set. With reset, every table is wiped first;
	// otherwise seeding only happens when no users exist.
	Seed(ctx context.Context, reset bool) (SeedResult, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
