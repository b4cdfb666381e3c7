package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ashureev/vulnshop/internal/domain"
)

const productColumns = `id, name, description, category, price_cents, sku, stock, created_at`

func scanProduct(row interface{ Scan(...any) error }) (*domain.Product, error) {
	var p domain.Product
	var createdAt int64
	if err := row.Scan(&p.ID, &p.Name, &p.Description, &p.Category,
		&p.PriceCents, &p.SKU, &p.Stock, &createdAt); err != nil {
		return nil, err
	}
	p.CreatedAt = time.Unix(createdAt, 0)
	return &p, nil
}

// ListProducts returns the catalog with variants attached, ordered by category then name.
func (s *SQLiteStore) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+productColumns+` FROM products ORDER BY category, name`)
	if err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}
	defer closeRows(rows, "products")

	var products []domain.Product
	index := make(map[int64]int)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product row: %w", err)
		}
		index[p.ID] = len(products)
		products = append(products, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate products: %w", err)
	}

	variants, err := s.queryVariants(ctx, `SELECT id, product_id, name, price_delta_cents, sku_variant, stock FROM variants ORDER BY id`)
	if err != nil {
		return nil, err
	}
	for _, v := range variants {
		if i, ok := index[v.ProductID]; ok {
			products[i].Variants = append(products[i].Variants, v)
		}
	}
	return products, nil
}

// GetProduct returns one product with its variants.
func (s *SQLiteStore) GetProduct(ctx context.Context, productID int64) (*domain.Product, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = ?`, productID)
	p, err := scanProduct(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan product row: %w", err)
	}
	p.Variants, err = s.queryVariants(ctx, `
		SELECT id, product_id, name, price_delta_cents, sku_variant, stock
		FROM variants WHERE product_id = ? ORDER BY id`, productID)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// GetVariant returns the variant only when it belongs to productID.
func (s *SQLiteStore) GetVariant(ctx context.Context, productID, variantID int64) (*domain.Variant, error) {
	return s.scanVariant(s.db.QueryRowContext(ctx, `
		SELECT id, product_id, name, price_delta_cents, sku_variant, stock
		FROM variants WHERE id = ? AND product_id = ?`, variantID, productID))
}

// GetVariantByID returns the variant regardless of which product owns it.
func (s *SQLiteStore) GetVariantByID(ctx context.Context, variantID int64) (*domain.Variant, error) {
	return s.scanVariant(s.db.QueryRowContext(ctx, `
		SELECT id, product_id, name, price_delta_cents, sku_variant, stock
		FROM variants WHERE id = ?`, variantID))
}

func (s *SQLiteStore) scanVariant(row *sql.Row) (*domain.Variant, error) {
	var v domain.Variant
	err := row.Scan(&v.ID, &v.ProductID, &v.Name, &v.PriceDeltaCents, &v.SKUVariant, &v.Stock)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan variant row: %w", err)
	}
	return &v, nil
}

func (s *SQLiteStore) queryVariants(ctx context.Context, query string, args ...any) ([]domain.Variant, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query variants: %w", err)
	}
	defer closeRows(rows, "variants")

	var variants []domain.Variant
	for rows.Next() {
		var v domain.Variant
		if err := rows.Scan(&v.ID, &v.ProductID, &v.Name, &v.PriceDeltaCents, &v.SKUVariant, &v.Stock); err != nil {
			return nil, fmt.Errorf("scan variant row: %w", err)
		}
		variants = append(variants, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate variants: %w", err)
	}
	return variants, nil
}
