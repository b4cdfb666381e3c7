// Package flags awards capture-the-flag tokens when the agent is exploited.
package flags

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/ashureev/vulnshop/internal/domain"
	"github.com/ashureev/vulnshop/internal/shared"
)

// Store is the persistence the awarder needs.
type Store interface {
	GetFlag(ctx context.Context, userID int64, code string) (*domain.FlagAward, error)
	InsertFlag(ctx context.Context, award *domain.FlagAward) error
	ListFlags(ctx context.Context, userID int64) ([]domain.FlagAward, error)
	ResetFlags(ctx context.Context) (int64, error)
}

// Award is a flag handed back to the player.
type Award struct {
	VulnCode string `json:"vuln_code"`
	Flag     string `json:"flag"`
}

// Awarder hands out one stable flag per (user, vulnerability).
type Awarder struct {
	store  Store
	secret string
}

// NewAwarder creates an awarder whose tokens embed secret.
func NewAwarder(store Store, secret string) *Awarder {
	return &Awarder{store: store, secret: secret}
}

// Generate builds a fresh token of the form CODE_SECRET{uuid}.
func Generate(code, secret string) string {
	return fmt.Sprintf("%s_%s{%s}", code, secret, uuid.NewString())
}

// Award returns the user's flag for code, creating it on first award.
// Concurrent first awards resolve to whichever insert landed first.
func (a *Awarder) Award(ctx context.Context, userID int64, code string) (string, error) {
	existing, err := a.store.GetFlag(ctx, userID, code)
	if err != nil {
		return "", fmt.Errorf("get flag: %w", err)
	}
	if existing != nil {
		return existing.Flag, nil
	}

	award := &domain.FlagAward{UserID: userID, VulnCode: code, Flag: Generate(code, a.secret)}
	if err := shared.RetryOnConflict(ctx, "insert flag", func() error {
		return a.store.InsertFlag(ctx, award)
	}); err != nil {
		return "", err
	}

	stored, err := a.store.GetFlag(ctx, userID, code)
	if err != nil {
		return "", fmt.Errorf("reload flag: %w", err)
	}
	if stored == nil {
		return "", fmt.Errorf("flag %s for user %d missing after insert", code, userID)
	}
	if stored.Flag == award.Flag {
		slog.Info("flag awarded", "user_id", userID, "vuln_code", code)
	}
	return stored.Flag, nil
}

// List returns every flag the user holds.
func (a *Awarder) List(ctx context.Context, userID int64) ([]Award, error) {
	rows, err := a.store.ListFlags(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]Award, 0, len(rows))
	for _, r := range rows {
		out = append(out, Award{VulnCode: r.VulnCode, Flag: r.Flag})
	}
	return out, nil
}

// Reset forgets every award of every user; later awards get new tokens.
func (a *Awarder) Reset(ctx context.Context) (int64, error) {
	n, err := a.store.ResetFlags(ctx)
	if err != nil {
		return 0, err
	}
	slog.Info("flags reset", "removed", n)
	return n, nil
}
