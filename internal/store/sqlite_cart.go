package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ashureev/vulnshop/internal/domain"
)

// GetOrCreateCart returns the user's cart (without items), creating it if needed.
func (s *SQLiteStore) GetOrCreateCart(ctx context.Context, userID int64) (*domain.Cart, error) {
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO carts (user_id) VALUES (?) ON CONFLICT(user_id) DO NOTHING`, userID); err != nil {
		return nil, fmt.Errorf("ensure cart: %w", err)
	}
	cart := domain.Cart{UserID: userID, Items: []domain.CartItem{}}
	if err := s.db.QueryRowContext(ctx, `SELECT id FROM carts WHERE user_id = ?`, userID).Scan(&cart.ID); err != nil {
		return nil, fmt.Errorf("scan cart row: %w", err)
	}
	return &cart, nil
}

// GetCart returns the user's cart with items joined to product and variant data.
func (s *SQLiteStore) GetCart(ctx context.Context, userID int64) (*domain.Cart, error) {
	cart, err := s.GetOrCreateCart(ctx, userID)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT ci.id, ci.cart_id, ci.product_id, ci.variant_id, ci.qty, ci.price_cents_snapshot,
		       p.name, p.description, p.price_cents, p.sku,
		       v.name, v.price_delta_cents, v.sku_variant
		FROM cart_items ci
		JOIN products p ON p.id = ci.product_id
		LEFT JOIN variants v ON v.id = ci.variant_id
		WHERE ci.cart_id = ?
		ORDER BY ci.id`, cart.ID)
	if err != nil {
		return nil, fmt.Errorf("query cart items: %w", err)
	}
	defer closeRows(rows, "cart_items")

	for rows.Next() {
		var item domain.CartItem
		var variantID, delta sql.NullInt64
		var variantName, skuVariant sql.NullString
		if err := rows.Scan(&item.ID, &item.CartID, &item.ProductID, &variantID, &item.Qty,
			&item.PriceCentsSnapshot, &item.Name, &item.Description, &item.PriceCents,
			&item.ProductSKU, &variantName, &delta, &skuVariant); err != nil {
			return nil, fmt.Errorf("scan cart item row: %w", err)
		}
		item.VariantID = ptrInt(variantID)
		item.VariantName = ptrString(variantName)
		item.PriceDeltaCents = ptrInt(delta)
		item.SKUVariant = ptrString(skuVariant)
		cart.Items = append(cart.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cart items: %w", err)
	}
	return cart, nil
}

// AddCartItem inserts a line and sets item.ID.
func (s *SQLiteStore) AddCartItem(ctx context.Context, item *domain.CartItem) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO cart_items (cart_id, product_id, variant_id, qty, price_cents_snapshot)
		VALUES (?, ?, ?, ?, ?)`,
		item.CartID, item.ProductID, nullInt(item.VariantID), item.Qty, item.PriceCentsSnapshot)
	if err != nil {
		return fmt.Errorf("insert cart item: %w", err)
	}
	if item.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("cart item id: %w", err)
	}
	return nil
}

// GetCartItem returns a line of the given cart.
func (s *SQLiteStore) GetCartItem(ctx context.Context, cartID, itemID int64) (*domain.CartItem, error) {
	var item domain.CartItem
	var variantID sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT id, cart_id, product_id, variant_id, qty, price_cents_snapshot
		FROM cart_items WHERE id = ? AND cart_id = ?`, itemID, cartID).
		Scan(&item.ID, &item.CartID, &item.ProductID, &variantID, &item.Qty, &item.PriceCentsSnapshot)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan cart item row: %w", err)
	}
	item.VariantID = ptrInt(variantID)
	return &item, nil
}

// RemoveCartItem deletes a line of the given cart and returns the rows removed.
func (s *SQLiteStore) RemoveCartItem(ctx context.Context, cartID, itemID int64) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM cart_items WHERE id = ? AND cart_id = ?`, itemID, cartID)
	if err != nil {
		return 0, fmt.Errorf("delete cart item: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}
	return n, nil
}

// ClearCart removes every line of the cart.
func (s *SQLiteStore) ClearCart(ctx context.Context, cartID int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM cart_items WHERE cart_id = ?`, cartID); err != nil {
		return fmt.Errorf("clear cart: %w", err)
	}
	return nil
}
