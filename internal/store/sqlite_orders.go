package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ashureev/vulnshop/internal/domain"
)

// ListOrders returns the user's orders newest first, each with items, payment and refunds.
func (s *SQLiteStore) ListOrders(ctx context.Context, userID int64) ([]domain.Order, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, status, total_cents, created_at
		FROM orders WHERE user_id = ?
		ORDER BY created_at DESC, id DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}

	orders := []domain.Order{}
	for rows.Next() {
		var o domain.Order
		var createdAt int64
		if err := rows.Scan(&o.ID, &o.UserID, &o.Status, &o.TotalCents, &createdAt); err != nil {
			closeRows(rows, "orders")
			return nil, fmt.Errorf("scan order row: %w", err)
		}
		o.CreatedAt = time.Unix(createdAt, 0)
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		closeRows(rows, "orders")
		return nil, fmt.Errorf("iterate orders: %w", err)
	}
	closeRows(rows, "orders")

	for i := range orders {
		if err := s.loadOrderDetails(ctx, &orders[i]); err != nil {
			return nil, err
		}
	}
	return orders, nil
}

// GetOrder returns one of the user's orders with details.
func (s *SQLiteStore) GetOrder(ctx context.Context, userID, orderID int64) (*domain.Order, error) {
	var o domain.Order
	var createdAt int64
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, status, total_cents, created_at
		FROM orders WHERE id = ? AND user_id = ?`, orderID, userID).
		Scan(&o.ID, &o.UserID, &o.Status, &o.TotalCents, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan order row: %w", err)
	}
	o.CreatedAt = time.Unix(createdAt, 0)
	if err := s.loadOrderDetails(ctx, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

func (s *SQLiteStore) loadOrderDetails(ctx context.Context, o *domain.Order) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT oi.id, oi.order_id, oi.product_id, oi.variant_id, oi.qty, oi.price_cents_snapshot,
		       p.name, v.name
		FROM order_items oi
		JOIN products p ON p.id = oi.product_id
		LEFT JOIN variants v ON v.id = oi.variant_id
		WHERE oi.order_id = ?
		ORDER BY oi.id`, o.ID)
	if err != nil {
		return fmt.Errorf("query order items: %w", err)
	}
	o.Items = []domain.OrderItem{}
	for rows.Next() {
		var item domain.OrderItem
		var variantID sql.NullInt64
		var variantName sql.NullString
		if err := rows.Scan(&item.ID, &item.OrderID, &item.ProductID, &variantID, &item.Qty,
			&item.PriceCentsSnapshot, &item.Name, &variantName); err != nil {
			closeRows(rows, "order_items")
			return fmt.Errorf("scan order item row: %w", err)
		}
		item.VariantID = ptrInt(variantID)
		item.VariantName = ptrString(variantName)
		o.Items = append(o.Items, item)
	}
	if err := rows.Err(); err != nil {
		closeRows(rows, "order_items")
		return fmt.Errorf("iterate order items: %w", err)
	}
	closeRows(rows, "order_items")

	var p domain.Payment
	var last4, txn sql.NullString
	var paidAt int64
	err = s.db.QueryRowContext(ctx, `
		SELECT id, order_id, status, card_last4, txn_ref, created_at
		FROM payments WHERE order_id = ?`, o.ID).
		Scan(&p.ID, &p.OrderID, &p.Status, &last4, &txn, &paidAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		o.Payment = nil
	case err != nil:
		return fmt.Errorf("scan payment row: %w", err)
	default:
		p.CardLast4 = ptrString(last4)
		p.TxnRef = ptrString(txn)
		p.CreatedAt = time.Unix(paidAt, 0)
		o.Payment = &p
	}

	rrows, err := s.db.QueryContext(ctx, `
		SELECT id, order_id, amount_cents, reason, created_at
		FROM refunds WHERE order_id = ? ORDER BY id`, o.ID)
	if err != nil {
		return fmt.Errorf("query refunds: %w", err)
	}
	defer closeRows(rrows, "refunds")
	o.Refunds = []domain.Refund{}
	for rrows.Next() {
		var r domain.Refund
		var createdAt int64
		if err := rrows.Scan(&r.ID, &r.OrderID, &r.AmountCents, &r.Reason, &createdAt); err != nil {
			return fmt.Errorf("scan refund row: %w", err)
		}
		r.CreatedAt = time.Unix(createdAt, 0)
		o.Refunds = append(o.Refunds, r)
	}
	if err := rrows.Err(); err != nil {
		return fmt.Errorf("iterate refunds: %w", err)
	}
	return nil
}

// CreateOrder inserts an order, its lines and, when PaymentStatus is set, its payment.
func (s *SQLiteStore) CreateOrder(ctx context.Context, order NewOrder) (int64, error) {
	var orderID int64
	now := time.Now().Unix()
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO orders (user_id, status, total_cents, created_at) VALUES (?, ?, ?, ?)`,
			order.UserID, order.Status, order.Total(), now)
		if err != nil {
			return fmt.Errorf("insert order: %w", err)
		}
		if orderID, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("order id: %w", err)
		}
		for _, line := range order.Lines {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO order_items (order_id, product_id, variant_id, qty, price_cents_snapshot)
				VALUES (?, ?, ?, ?, ?)`,
				orderID, line.ProductID, nullInt(line.VariantID), line.Qty, line.LineCents); err != nil {
				return fmt.Errorf("insert order item: %w", err)
			}
		}
		if order.PaymentStatus == "" {
			return nil
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO payments (order_id, status, card_last4, txn_ref, created_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(order_id) DO UPDATE SET
				status = excluded.status,
				card_last4 = excluded.card_last4,
				txn_ref = excluded.txn_ref`,
			orderID, order.PaymentStatus, nullString(order.CardLast4), nullString(order.TxnRef), now); err != nil {
			return fmt.Errorf("insert payment: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return orderID, nil
}

// RefundOrder records a refund and marks the order and its payment refunded.
func (s *SQLiteStore) RefundOrder(ctx context.Context, orderID, amountCents int64, reason string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE orders SET status = ? WHERE id = ?`, domain.OrderRefunded, orderID)
		if err != nil {
			return fmt.Errorf("update order status: %w", err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		} else if n == 0 {
			return ErrNotFound
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO refunds (order_id, amount_cents, reason, created_at) VALUES (?, ?, ?, ?)`,
			orderID, amountCents, reason, time.Now().Unix()); err != nil {
			return fmt.Errorf("insert refund: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE payments SET status = ? WHERE order_id = ?`,
			domain.PaymentRefunded, orderID); err != nil {
			return fmt.Errorf("update payment status: %w", err)
		}
		return nil
	})
}

// SetOrderStatus updates the status of an order.
func (s *SQLiteStore) SetOrderStatus(ctx context.Context, orderID int64, status string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE orders SET status = ? WHERE id = ?`, status, orderID)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// CapturePayment stores a captured payment and completes the order.
func (s *SQLiteStore) CapturePayment(ctx context.Context, orderID int64, cardLast4, txnRef string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO payments (order_id, status, card_last4, txn_ref, created_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(order_id) DO UPDATE SET
				status = excluded.status,
				card_last4 = excluded.card_last4,
				txn_ref = excluded.txn_ref`,
			orderID, domain.PaymentCaptured, cardLast4, txnRef, time.Now().Unix()); err != nil {
			return fmt.Errorf("capture payment: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE orders SET status = ? WHERE id = ?`,
			domain.OrderCompleted, orderID); err != nil {
			return fmt.Errorf("complete order: %w", err)
		}
		return nil
	})
}
