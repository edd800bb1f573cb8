// Package ledger owns wallets and the append-only transaction history they
// are derived from. Every funds movement is a Transaction row; the Wallet is
// a cached projection updated in the same database transaction, so the two
// are never visible in an inconsistent pairing.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/tutorhall/backend/internal/models"
	"github.com/tutorhall/backend/internal/repository"
)

// ErrInsufficientFunds is returned when a payment exceeds the student's
// available balance.
var ErrInsufficientFunds = errors.New("insufficient funds")

// ErrInvalidTransition is returned when a funds-status transition does not
// match the entry's current state (e.g. settling an already-settled hold).
var ErrInvalidTransition = errors.New("invalid funds transition")

// WalletRepo is the minimal wallet interface the ledger needs.
type WalletRepo interface {
	GetByUserID(ctx context.Context, userID uuid.UUID) (*models.Wallet, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (*models.Wallet, error)
	UpdateBalances(ctx context.Context, tx pgx.Tx, w *models.Wallet) error
}

// TransactionRepo is the minimal ledger-entry interface the service needs.
type TransactionRepo interface {
	Insert(ctx context.Context, tx pgx.Tx, t *models.Transaction) error
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Transaction, error)
	FindEarningHoldForUpdate(ctx context.Context, tx pgx.Tx, bookingID, tutorID uuid.UUID, fundsStatus string) (*models.Transaction, error)
	UpdateFundsStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, fundsStatus string) error
	UpdateStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, status string) error
	ListByUser(ctx context.Context, userID uuid.UUID, f repository.TransactionFilter) ([]*models.Transaction, error)
	SumCompleted(ctx context.Context, userID uuid.UUID) (int64, error)
}

// Service applies ledger entries to wallet balance buckets. All mutating
// methods run inside the caller's transaction.
type Service struct {
	Wallets      WalletRepo
	Transactions TransactionRepo
}

func NewService(wallets WalletRepo, transactions TransactionRepo) *Service {
	return &Service{Wallets: wallets, Transactions: transactions}
}

// RecordParams describes one funds movement.
type RecordParams struct {
	UserID      uuid.UUID
	Type        string
	AmountCents int64
	FundsStatus string
	BookingID   *uuid.UUID
	Description string
}

// RecordTransaction inserts a completed ledger entry and applies its effect
// to the user's wallet in the same tx. The wallet row is locked before the
// balance check so concurrent movements serialize per user.
func (s *Service) RecordTransaction(ctx context.Context, tx pgx.Tx, p RecordParams) (*models.Transaction, error) {
	if p.AmountCents <= 0 {
		return nil, fmt.Errorf("record transaction: amount must be positive, got %d", p.AmountCents)
	}
	w, err := s.Wallets.GetForUpdate(ctx, tx, p.UserID)
	if err != nil {
		return nil, err
	}

	switch p.Type {
	case models.TxTypeCoursePayment:
		if w.AvailableCents < p.AmountCents {
			return nil, ErrInsufficientFunds
		}
		w.AvailableCents -= p.AmountCents
	case models.TxTypeCourseEarning:
		switch p.FundsStatus {
		case models.FundsFrozen:
			w.FrozenCents += p.AmountCents
		case models.FundsAvailable:
			w.AvailableCents += p.AmountCents
		default:
			return nil, fmt.Errorf("record transaction: earning cannot be recorded as %q", p.FundsStatus)
		}
	case models.TxTypeCourseRefund, models.TxTypeAppealRefund:
		w.AvailableCents += p.AmountCents
	default:
		return nil, fmt.Errorf("record transaction: unknown type %q", p.Type)
	}
	w.TotalCents = w.AvailableCents + w.FrozenCents + w.LockedCents

	entry := &models.Transaction{
		ID:          uuid.New(),
		UserID:      p.UserID,
		Type:        p.Type,
		AmountCents: p.AmountCents,
		FundsStatus: p.FundsStatus,
		BookingID:   p.BookingID,
		Status:      models.TxStatusCompleted,
		Description: p.Description,
	}
	if err := s.Transactions.Insert(ctx, tx, entry); err != nil {
		return nil, err
	}
	if err := s.Wallets.UpdateBalances(ctx, tx, w); err != nil {
		return nil, err
	}
	return entry, nil
}

// TransitionFunds moves a completed entry's amount between wallet buckets
// (frozen -> available on settlement, frozen -> locked on appeal start,
// locked -> available on appeal release). The transition is recorded as an
// explicit funds-status flip on the entry; amount and type never change.
func (s *Service) TransitionFunds(ctx context.Context, tx pgx.Tx, transactionID uuid.UUID, from, to string) (*models.Transaction, error) {
	entry, err := s.Transactions.GetByIDForUpdate(ctx, tx, transactionID)
	if err != nil {
		return nil, err
	}
	if entry.Status != models.TxStatusCompleted || entry.FundsStatus != from {
		return nil, ErrInvalidTransition
	}

	w, err := s.Wallets.GetForUpdate(ctx, tx, entry.UserID)
	if err != nil {
		return nil, err
	}
	if err := moveBucket(w, from, -entry.AmountCents); err != nil {
		return nil, err
	}
	if err := moveBucket(w, to, entry.AmountCents); err != nil {
		return nil, err
	}
	w.TotalCents = w.AvailableCents + w.FrozenCents + w.LockedCents

	if err := s.Transactions.UpdateFundsStatus(ctx, tx, entry.ID, to); err != nil {
		return nil, err
	}
	if err := s.Wallets.UpdateBalances(ctx, tx, w); err != nil {
		return nil, err
	}
	entry.FundsStatus = to
	return entry, nil
}

// CancelTransaction reverses a completed entry: the amount leaves the bucket
// it sits in and the entry is marked cancelled, excluding it from balance
// sums. Used when a frozen or locked earning hold is reversed instead of
// settled.
func (s *Service) CancelTransaction(ctx context.Context, tx pgx.Tx, transactionID uuid.UUID) error {
	entry, err := s.Transactions.GetByIDForUpdate(ctx, tx, transactionID)
	if err != nil {
		return err
	}
	if entry.Status != models.TxStatusCompleted {
		return ErrInvalidTransition
	}

	w, err := s.Wallets.GetForUpdate(ctx, tx, entry.UserID)
	if err != nil {
		return err
	}
	delta := entry.SignedAmount()
	if err := moveBucket(w, entry.FundsStatus, -delta); err != nil {
		return err
	}
	w.TotalCents = w.AvailableCents + w.FrozenCents + w.LockedCents

	if err := s.Transactions.UpdateStatus(ctx, tx, entry.ID, models.TxStatusCancelled); err != nil {
		return err
	}
	return s.Wallets.UpdateBalances(ctx, tx, w)
}

// FindEarningHold locks the tutor's completed course-earning entry for the
// booking in the given bucket. Returns repository.ErrTransactionNotFound when
// no such hold exists, which callers treat as already settled or reversed.
func (s *Service) FindEarningHold(ctx context.Context, tx pgx.Tx, bookingID, tutorID uuid.UUID, fundsStatus string) (*models.Transaction, error) {
	return s.Transactions.FindEarningHoldForUpdate(ctx, tx, bookingID, tutorID, fundsStatus)
}

// GetBalance returns the cached wallet projection for the user.
func (s *Service) GetBalance(ctx context.Context, userID uuid.UUID) (*models.Wallet, error) {
	return s.Wallets.GetByUserID(ctx, userID)
}

// SumCompleted recomputes the user's total from the transaction history.
// GetBalance(u).TotalCents must always equal SumCompleted(u).
func (s *Service) SumCompleted(ctx context.Context, userID uuid.UUID) (int64, error) {
	return s.Transactions.SumCompleted(ctx, userID)
}

// ListTransactions returns the user's ledger history, newest first.
func (s *Service) ListTransactions(ctx context.Context, userID uuid.UUID, f repository.TransactionFilter) ([]*models.Transaction, error) {
	return s.Transactions.ListByUser(ctx, userID, f)
}

func moveBucket(w *models.Wallet, bucket string, delta int64) error {
	switch bucket {
	case models.FundsAvailable:
		w.AvailableCents += delta
	case models.FundsFrozen:
		w.FrozenCents += delta
	case models.FundsLocked:
		w.LockedCents += delta
	default:
		return fmt.Errorf("unknown funds bucket %q", bucket)
	}
	return nil
}
