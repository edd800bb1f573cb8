package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tutorhall/backend/internal/models"
)

type WalletRepo struct {
	pool *pgxpool.Pool
}

func NewWalletRepo(pool *pgxpool.Pool) *WalletRepo {
	return &WalletRepo{pool: pool}
}

// GetByUserID returns the user's wallet, or a zero-balance wallet if the user
// has never held funds.
func (r *WalletRepo) GetByUserID(ctx context.Context, userID uuid.UUID) (*models.Wallet, error) {
	var w models.Wallet
	err := r.pool.QueryRow(ctx, `
		SELECT user_id, available_cents, frozen_cents, locked_cents, total_cents, updated_at
		FROM wallets WHERE user_id = $1
	`, userID).Scan(&w.UserID, &w.AvailableCents, &w.FrozenCents, &w.LockedCents, &w.TotalCents, &w.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return &models.Wallet{UserID: userID}, nil
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// GetForUpdate locks the user's wallet row, creating it lazily on first
// touch. Call within a transaction.
func (r *WalletRepo) GetForUpdate(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (*models.Wallet, error) {
	if _, err := tx.Exec(ctx, `
		INSERT INTO wallets (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING
	`, userID); err != nil {
		return nil, err
	}
	var w models.Wallet
	err := tx.QueryRow(ctx, `
		SELECT user_id, available_cents, frozen_cents, locked_cents, total_cents, updated_at
		FROM wallets WHERE user_id = $1 FOR UPDATE
	`, userID).Scan(&w.UserID, &w.AvailableCents, &w.FrozenCents, &w.LockedCents, &w.TotalCents, &w.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// UpdateBalances persists all four balance buckets. Call after GetForUpdate
// in the same tx, alongside the transaction insert the change derives from.
func (r *WalletRepo) UpdateBalances(ctx context.Context, tx pgx.Tx, w *models.Wallet) error {
	_, err := tx.Exec(ctx, `
		UPDATE wallets SET available_cents = $2, frozen_cents = $3, locked_cents = $4, total_cents = $5, updated_at = now()
		WHERE user_id = $1
	`, w.UserID, w.AvailableCents, w.FrozenCents, w.LockedCents, w.TotalCents)
	return err
}
