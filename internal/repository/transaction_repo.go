package repository

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tutorhall/backend/internal/models"
)

// ErrTransactionNotFound is returned when a ledger entry id resolves to no row.
var ErrTransactionNotFound = errors.New("transaction not found")

const transactionColumns = `id, user_id, type, amount_cents, funds_status, booking_id, status, description, created_at, updated_at`

type TransactionRepo struct {
	pool *pgxpool.Pool
}

func NewTransactionRepo(pool *pgxpool.Pool) *TransactionRepo {
	return &TransactionRepo{pool: pool}
}

func scanTransaction(row pgx.Row) (*models.Transaction, error) {
	var t models.Transaction
	err := row.Scan(&t.ID, &t.UserID, &t.Type, &t.AmountCents, &t.FundsStatus, &t.BookingID, &t.Status, &t.Description, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *TransactionRepo) Insert(ctx context.Context, tx pgx.Tx, t *models.Transaction) error {
	return tx.QueryRow(ctx, `
		INSERT INTO transactions (id, user_id, type, amount_cents, funds_status, booking_id, status, description)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at
	`, t.ID, t.UserID, t.Type, t.AmountCents, t.FundsStatus, t.BookingID, t.Status, t.Description).Scan(&t.CreatedAt, &t.UpdatedAt)
}

// GetByIDForUpdate locks the ledger row for a funds-status transition.
// Call within a transaction.
func (r *TransactionRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Transaction, error) {
	t, err := scanTransaction(tx.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrTransactionNotFound
	}
	return t, err
}

// FindEarningHoldForUpdate locks the tutor's course-earning entry for the
// booking in the given funds status. Settlement, cancellation, and appeal all
// route through this row; pgx.ErrNoRows maps to ErrTransactionNotFound.
func (r *TransactionRepo) FindEarningHoldForUpdate(ctx context.Context, tx pgx.Tx, bookingID, tutorID uuid.UUID, fundsStatus string) (*models.Transaction, error) {
	t, err := scanTransaction(tx.QueryRow(ctx, `
		SELECT `+transactionColumns+` FROM transactions
		WHERE booking_id = $1 AND user_id = $2 AND type = 'course_earning' AND funds_status = $3 AND status = 'completed'
		FOR UPDATE
	`, bookingID, tutorID, fundsStatus))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrTransactionNotFound
	}
	return t, err
}

// UpdateFundsStatus records a funds-status flip on an existing entry.
func (r *TransactionRepo) UpdateFundsStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, fundsStatus string) error {
	_, err := tx.Exec(ctx, `
		UPDATE transactions SET funds_status = $2, updated_at = now() WHERE id = $1
	`, id, fundsStatus)
	return err
}

// UpdateStatus flips an entry's lifecycle status (completed -> cancelled on
// reversal). Amount and type are never touched.
func (r *TransactionRepo) UpdateStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, status string) error {
	_, err := tx.Exec(ctx, `
		UPDATE transactions SET status = $2, updated_at = now() WHERE id = $1
	`, id, status)
	return err
}

// TransactionFilter narrows ledger listings.
type TransactionFilter struct {
	Type        string
	Status      string
	FundsStatus string
	From        *time.Time
	To          *time.Time
	Limit       int
	Offset      int
}

func (r *TransactionRepo) ListByUser(ctx context.Context, userID uuid.UUID, f TransactionFilter) ([]*models.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE user_id = $1`
	args := []any{userID}
	if f.Type != "" {
		args = append(args, f.Type)
		query += ` AND type = $` + strconv.Itoa(len(args))
	}
	if f.Status != "" {
		args = append(args, f.Status)
		query += ` AND status = $` + strconv.Itoa(len(args))
	}
	if f.FundsStatus != "" {
		args = append(args, f.FundsStatus)
		query += ` AND funds_status = $` + strconv.Itoa(len(args))
	}
	if f.From != nil {
		args = append(args, *f.From)
		query += ` AND created_at >= $` + strconv.Itoa(len(args))
	}
	if f.To != nil {
		args = append(args, *f.To)
		query += ` AND created_at <= $` + strconv.Itoa(len(args))
	}
	query += ` ORDER BY created_at DESC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += ` LIMIT $` + strconv.Itoa(len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		query += ` OFFSET $` + strconv.Itoa(len(args))
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, t)
	}
	return list, rows.Err()
}

// SumCompleted returns the signed sum of the user's completed entries:
// payments negative, everything else positive. Used as the wallet
// consistency check.
func (r *TransactionRepo) SumCompleted(ctx context.Context, userID uuid.UUID) (int64, error) {
	var sum int64
	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(CASE WHEN type = 'course_payment' THEN -amount_cents ELSE amount_cents END), 0)
		FROM transactions WHERE user_id = $1 AND status = 'completed'
	`, userID).Scan(&sum)
	return sum, err
}
