package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ashureev/vulnshop/internal/domain"
)

const userColumns = `id, role, full_name, username, email, password_hash, created_at`

func scanUser(row interface{ Scan(...any) error }) (*domain.User, error) {
	var user domain.User
	var createdAt int64
	if err := row.Scan(&user.ID, &user.Role, &user.FullName, &user.Username,
		&user.Email, &user.PasswordHash, &createdAt); err != nil {
		return nil, err
	}
	user.CreatedAt = time.Unix(createdAt, 0)
	return &user, nil
}

// GetUser retrieves a user by id.
func (s *SQLiteStore) GetUser(ctx context.Context, userID int64) (*domain.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, userID)
	user, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user row: %w", err)
	}
	return user, nil
}

// GetUserByEmail retrieves a user by exact email.
func (s *SQLiteStore) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, email)
	user, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user row: %w", err)
	}
	return user, nil
}

// CreateUser inserts the user together with an empty cart.
func (s *SQLiteStore) CreateUser(ctx context.Context, user *domain.User) error {
	if user.Role == "" {
		user.Role = domain.RoleUser
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now()
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO users (role, full_name, username, email, password_hash, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			user.Role, user.FullName, user.Username, user.Email, user.PasswordHash, user.CreatedAt.Unix())
		if isUniqueViolation(err) {
			return ErrConflict
		}
		if err != nil {
			return fmt.Errorf("insert user: %w", err)
		}
		if user.ID, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("user id: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO carts (user_id) VALUES (?)`, user.ID); err != nil {
			return fmt.Errorf("insert cart: %w", err)
		}
		return nil
	})
}

// UpdatePassword overwrites the stored password hash.
func (s *SQLiteStore) UpdatePassword(ctx context.Context, userID int64, passwordHash string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET password_hash = ? WHERE id = ?`, passwordHash, userID)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// CountUsers returns the number of accounts.
func (s *SQLiteStore) CountUsers(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return n, nil
}

// GetAddress returns the address of a user.
func (s *SQLiteStore) GetAddress(ctx context.Context, userID int64) (*domain.Address, error) {
	var addr domain.Address
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, line1, line2, city, state, postal_code, country
		FROM addresses WHERE user_id = ?`, userID).
		Scan(&addr.ID, &addr.UserID, &addr.Line1, &addr.Line2, &addr.City,
			&addr.State, &addr.PostalCode, &addr.Country)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan address row: %w", err)
	}
	return &addr, nil
}

// UpsertAddress creates or overwrites the address of addr.UserID.
func (s *SQLiteStore) UpsertAddress(ctx context.Context, addr *domain.Address) error {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO addresses (user_id, line1, line2, city, state, postal_code, country)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			line1 = excluded.line1,
			line2 = excluded.line2,
			city = excluded.city,
			state = excluded.state,
			postal_code = excluded.postal_code,
			country = excluded.country
		RETURNING id`,
		addr.UserID, addr.Line1, addr.Line2, addr.City, addr.State, addr.PostalCode, addr.Country).
		Scan(&addr.ID)
	if err != nil {
		return fmt.Errorf("upsert address: %w", err)
	}
	return nil
}
