package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ashureev/vulnshop/internal/domain"
)

// GetFlag returns the stored award for (user, code).
func (s *SQLiteStore) GetFlag(ctx context.Context, userID int64, code string) (*domain.FlagAward, error) {
	var award domain.FlagAward
	var createdAt int64
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, vuln_code, flag, created_at
		FROM flags_awarded WHERE user_id = ? AND vuln_code = ?`, userID, code).
		Scan(&award.UserID, &award.VulnCode, &award.Flag, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan flag row: %w", err)
	}
	award.CreatedAt = time.Unix(createdAt, 0)
	return &award, nil
}

// InsertFlag stores the award; an existing row for (user, code) is kept.
func (s *SQLiteStore) InsertFlag(ctx context.Context, award *domain.FlagAward) error {
	if award.CreatedAt.IsZero() {
		award.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO flags_awarded (user_id, vuln_code, flag, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id, vuln_code) DO NOTHING`,
		award.UserID, award.VulnCode, award.Flag, award.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("insert flag: %w", err)
	}
	return nil
}

// ListFlags returns the user's awards in award order.
func (s *SQLiteStore) ListFlags(ctx context.Context, userID int64) ([]domain.FlagAward, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, vuln_code, flag, created_at
		FROM flags_awarded WHERE user_id = ? ORDER BY id`, userID)
	if err != nil {
		return nil, fmt.Errorf("query flags: %w", err)
	}
	defer closeRows(rows, "flags_awarded")

	awards := []domain.FlagAward{}
	for rows.Next() {
		var a domain.FlagAward
		var createdAt int64
		if err := rows.Scan(&a.UserID, &a.VulnCode, &a.Flag, &createdAt); err != nil {
			return nil, fmt.Errorf("scan flag row: %w", err)
		}
		a.CreatedAt = time.Unix(createdAt, 0)
		awards = append(awards, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate flags: %w", err)
	}
	return awards, nil
}

// ResetFlags deletes every award of every user.
func (s *SQLiteStore) ResetFlags(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM flags_awarded`)
	if err != nil {
		return 0, fmt.Errorf("reset flags: %w", err)
	}
	return res.RowsAffected()
}

// AddEndpoint registers a remote tool URL for the user.
func (s *SQLiteStore) AddEndpoint(ctx context.Context, userID int64, url string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO mcp_endpoints (user_id, url, created_at) VALUES (?, ?, ?)`,
		userID, url, time.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("insert endpoint: %w", err)
	}
	return res.LastInsertId()
}

// ListEndpoints returns the user's endpoints in registration order.
func (s *SQLiteStore) ListEndpoints(ctx context.Context, userID int64) ([]domain.MCPEndpoint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, url, created_at
		FROM mcp_endpoints WHERE user_id = ? ORDER BY id`, userID)
	if err != nil {
		return nil, fmt.Errorf("query endpoints: %w", err)
	}
	defer closeRows(rows, "mcp_endpoints")

	endpoints := []domain.MCPEndpoint{}
	for rows.Next() {
		var e domain.MCPEndpoint
		var createdAt int64
		if err := rows.Scan(&e.ID, &e.UserID, &e.URL, &createdAt); err != nil {
			return nil, fmt.Errorf("scan endpoint row: %w", err)
		}
		e.CreatedAt = time.Unix(createdAt, 0)
		endpoints = append(endpoints, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate endpoints: %w", err)
	}
	return endpoints, nil
}
