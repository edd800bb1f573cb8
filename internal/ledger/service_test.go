package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/tutorhall/backend/internal/models"
	"github.com/tutorhall/backend/internal/repository"
)

// ---------------------------------------------------------------------------
// Mocks
// ---------------------------------------------------------------------------

type noopTx struct{}

func (noopTx) Begin(context.Context) (pgx.Tx, error) { return noopTx{}, nil }
func (noopTx) Commit(context.Context) error          { return nil }
func (noopTx) Rollback(context.Context) error        { return nil }
func (noopTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.NewCommandTag(""), nil
}
func (noopTx) Query(context.Context, string, ...any) (pgx.Rows, error) { return nil, nil }
func (noopTx) QueryRow(context.Context, string, ...any) pgx.Row        { return nil }
func (noopTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	return 0, nil
}
func (noopTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults { return nil }
func (noopTx) LargeObjects() pgx.LargeObjects                         { return pgx.LargeObjects{} }
func (noopTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	return nil, nil
}
func (noopTx) Conn() *pgx.Conn { return nil }

type mockWalletRepo struct {
	wallets map[uuid.UUID]*models.Wallet
}

func newMockWalletRepo() *mockWalletRepo {
	return &mockWalletRepo{wallets: make(map[uuid.UUID]*models.Wallet)}
}

func (m *mockWalletRepo) GetByUserID(_ context.Context, userID uuid.UUID) (*models.Wallet, error) {
	if w, ok := m.wallets[userID]; ok {
		cp := *w
		return &cp, nil
	}
	return &models.Wallet{UserID: userID}, nil
}

func (m *mockWalletRepo) GetForUpdate(_ context.Context, _ pgx.Tx, userID uuid.UUID) (*models.Wallet, error) {
	if w, ok := m.wallets[userID]; ok {
		cp := *w
		return &cp, nil
	}
	w := &models.Wallet{UserID: userID}
	m.wallets[userID] = w
	cp := *w
	return &cp, nil
}

func (m *mockWalletRepo) UpdateBalances(_ context.Context, _ pgx.Tx, w *models.Wallet) error {
	cp := *w
	m.wallets[w.UserID] = &cp
	return nil
}

type mockTransactionRepo struct {
	entries map[uuid.UUID]*models.Transaction
}

func newMockTransactionRepo() *mockTransactionRepo {
	return &mockTransactionRepo{entries: make(map[uuid.UUID]*models.Transaction)}
}

func (m *mockTransactionRepo) Insert(_ context.Context, _ pgx.Tx, t *models.Transaction) error {
	t.CreatedAt = time.Now()
	cp := *t
	m.entries[t.ID] = &cp
	return nil
}

func (m *mockTransactionRepo) GetByIDForUpdate(_ context.Context, _ pgx.Tx, id uuid.UUID) (*models.Transaction, error) {
	t, ok := m.entries[id]
	if !ok {
		return nil, repository.ErrTransactionNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *mockTransactionRepo) FindEarningHoldForUpdate(_ context.Context, _ pgx.Tx, bookingID, tutorID uuid.UUID, fundsStatus string) (*models.Transaction, error) {
	for _, t := range m.entries {
		if t.BookingID != nil && *t.BookingID == bookingID && t.UserID == tutorID &&
			t.Type == models.TxTypeCourseEarning && t.FundsStatus == fundsStatus && t.Status == models.TxStatusCompleted {
			cp := *t
			return &cp, nil
		}
	}
	return nil, repository.ErrTransactionNotFound
}

func (m *mockTransactionRepo) UpdateFundsStatus(_ context.Context, _ pgx.Tx, id uuid.UUID, fundsStatus string) error {
	m.entries[id].FundsStatus = fundsStatus
	return nil
}

func (m *mockTransactionRepo) UpdateStatus(_ context.Context, _ pgx.Tx, id uuid.UUID, status string) error {
	m.entries[id].Status = status
	return nil
}

func (m *mockTransactionRepo) ListByUser(_ context.Context, userID uuid.UUID, _ repository.TransactionFilter) ([]*models.Transaction, error) {
	var out []*models.Transaction
	for _, t := range m.entries {
		if t.UserID == userID {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *mockTransactionRepo) SumCompleted(_ context.Context, userID uuid.UUID) (int64, error) {
	var sum int64
	for _, t := range m.entries {
		if t.UserID == userID && t.Status == models.TxStatusCompleted {
			sum += t.SignedAmount()
		}
	}
	return sum, nil
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func newTestLedger() (*Service, *mockWalletRepo, *mockTransactionRepo) {
	wr := newMockWalletRepo()
	tr := newMockTransactionRepo()
	return NewService(wr, tr), wr, tr
}

func seedWallet(wr *mockWalletRepo, userID uuid.UUID, available int64) {
	wr.wallets[userID] = &models.Wallet{
		UserID:         userID,
		AvailableCents: available,
		TotalCents:     available,
	}
}

// checkConservation asserts total == available + frozen + locked and that the
// cached total matches the recomputed signed sum of completed entries.
func checkConservation(t *testing.T, svc *Service, userID uuid.UUID) {
	t.Helper()
	w, err := svc.GetBalance(context.Background(), userID)
	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
	if w.TotalCents != w.AvailableCents+w.FrozenCents+w.LockedCents {
		t.Errorf("bucket sum %d+%d+%d != total %d",
			w.AvailableCents, w.FrozenCents, w.LockedCents, w.TotalCents)
	}
	sum, err := svc.SumCompleted(context.Background(), userID)
	if err != nil {
		t.Fatalf("SumCompleted: %v", err)
	}
	if w.TotalCents != sum {
		t.Errorf("cached total %d != recomputed sum %d", w.TotalCents, sum)
	}
}

// =====================================================================
// RecordTransaction
// =====================================================================

func TestRecordPaymentDebitsAvailable(t *testing.T) {
	svc, wr, _ := newTestLedger()
	student := uuid.New()
	seedWallet(wr, student, 20000)

	_, err := svc.RecordTransaction(context.Background(), noopTx{}, RecordParams{
		UserID:      student,
		Type:        models.TxTypeCoursePayment,
		AmountCents: 10000,
		FundsStatus: models.FundsAvailable,
	})
	if err != nil {
		t.Fatalf("RecordTransaction: %v", err)
	}

	w, _ := svc.GetBalance(context.Background(), student)
	if w.AvailableCents != 10000 {
		t.Errorf("available %d, want 10000", w.AvailableCents)
	}
}

func TestRecordPaymentInsufficientFunds(t *testing.T) {
	svc, wr, tr := newTestLedger()
	student := uuid.New()
	seedWallet(wr, student, 5000)

	_, err := svc.RecordTransaction(context.Background(), noopTx{}, RecordParams{
		UserID:      student,
		Type:        models.TxTypeCoursePayment,
		AmountCents: 10000,
		FundsStatus: models.FundsAvailable,
	})
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if len(tr.entries) != 0 {
		t.Error("rejected payment left a ledger entry")
	}

	w, _ := svc.GetBalance(context.Background(), student)
	if w.AvailableCents != 5000 {
		t.Errorf("balance touched by rejected payment: %d", w.AvailableCents)
	}
}

func TestRecordEarningCreditsFrozen(t *testing.T) {
	svc, _, _ := newTestLedger()
	tutor := uuid.New()
	bookingID := uuid.New()

	entry, err := svc.RecordTransaction(context.Background(), noopTx{}, RecordParams{
		UserID:      tutor,
		Type:        models.TxTypeCourseEarning,
		AmountCents: 10000,
		FundsStatus: models.FundsFrozen,
		BookingID:   &bookingID,
	})
	if err != nil {
		t.Fatalf("RecordTransaction: %v", err)
	}
	if entry.Status != models.TxStatusCompleted {
		t.Errorf("entry status %q, want completed", entry.Status)
	}

	w, _ := svc.GetBalance(context.Background(), tutor)
	if w.FrozenCents != 10000 || w.AvailableCents != 0 {
		t.Errorf("wallet frozen=%d available=%d, want 10000/0", w.FrozenCents, w.AvailableCents)
	}
	checkConservation(t, svc, tutor)
}

func TestRecordRejectsNonPositiveAmount(t *testing.T) {
	svc, _, _ := newTestLedger()
	_, err := svc.RecordTransaction(context.Background(), noopTx{}, RecordParams{
		UserID:      uuid.New(),
		Type:        models.TxTypeCourseRefund,
		AmountCents: 0,
		FundsStatus: models.FundsAvailable,
	})
	if err == nil {
		t.Error("expected error for zero amount")
	}
}

func TestConservationAcrossSequence(t *testing.T) {
	svc, _, _ := newTestLedger()
	user := uuid.New()
	bookingID := uuid.New()

	// Every balance comes in through the ledger so the cached total and the
	// recomputed sum stay comparable.
	ops := []RecordParams{
		{UserID: user, Type: models.TxTypeCourseEarning, AmountCents: 50000, FundsStatus: models.FundsAvailable},
		{UserID: user, Type: models.TxTypeCoursePayment, AmountCents: 10000, FundsStatus: models.FundsAvailable, BookingID: &bookingID},
		{UserID: user, Type: models.TxTypeCourseEarning, AmountCents: 7500, FundsStatus: models.FundsFrozen, BookingID: &bookingID},
		{UserID: user, Type: models.TxTypeCourseRefund, AmountCents: 2500, FundsStatus: models.FundsAvailable, BookingID: &bookingID},
	}
	for _, p := range ops {
		if _, err := svc.RecordTransaction(context.Background(), noopTx{}, p); err != nil {
			t.Fatalf("RecordTransaction(%s): %v", p.Type, err)
		}
		checkConservation(t, svc, user)
	}
}

// =====================================================================
// TransitionFunds
// =====================================================================

func recordFrozenEarning(t *testing.T, svc *Service, tutor uuid.UUID, amount int64) *models.Transaction {
	t.Helper()
	bookingID := uuid.New()
	entry, err := svc.RecordTransaction(context.Background(), noopTx{}, RecordParams{
		UserID:      tutor,
		Type:        models.TxTypeCourseEarning,
		AmountCents: amount,
		FundsStatus: models.FundsFrozen,
		BookingID:   &bookingID,
	})
	if err != nil {
		t.Fatalf("RecordTransaction: %v", err)
	}
	return entry
}

func TestTransitionFrozenToAvailable(t *testing.T) {
	svc, _, _ := newTestLedger()
	tutor := uuid.New()
	entry := recordFrozenEarning(t, svc, tutor, 10000)

	got, err := svc.TransitionFunds(context.Background(), noopTx{}, entry.ID, models.FundsFrozen, models.FundsAvailable)
	if err != nil {
		t.Fatalf("TransitionFunds: %v", err)
	}
	if got.FundsStatus != models.FundsAvailable {
		t.Errorf("funds status %q, want available", got.FundsStatus)
	}

	w, _ := svc.GetBalance(context.Background(), tutor)
	if w.AvailableCents != 10000 || w.FrozenCents != 0 {
		t.Errorf("wallet available=%d frozen=%d, want 10000/0", w.AvailableCents, w.FrozenCents)
	}
	if w.TotalCents != 10000 {
		t.Errorf("settlement changed the total: %d", w.TotalCents)
	}
	checkConservation(t, svc, tutor)
}

func TestTransitionWrongSourceBucket(t *testing.T) {
	svc, _, _ := newTestLedger()
	entry := recordFrozenEarning(t, svc, uuid.New(), 10000)

	_, err := svc.TransitionFunds(context.Background(), noopTx{}, entry.ID, models.FundsLocked, models.FundsAvailable)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestTransitionTwiceFails(t *testing.T) {
	svc, _, _ := newTestLedger()
	tutor := uuid.New()
	entry := recordFrozenEarning(t, svc, tutor, 10000)

	if _, err := svc.TransitionFunds(context.Background(), noopTx{}, entry.ID, models.FundsFrozen, models.FundsAvailable); err != nil {
		t.Fatalf("TransitionFunds: %v", err)
	}
	_, err := svc.TransitionFunds(context.Background(), noopTx{}, entry.ID, models.FundsFrozen, models.FundsAvailable)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("second transition: expected ErrInvalidTransition, got %v", err)
	}

	w, _ := svc.GetBalance(context.Background(), tutor)
	if w.AvailableCents != 10000 {
		t.Errorf("double transition credited twice: available=%d", w.AvailableCents)
	}
}

func TestAppealLocksFunds(t *testing.T) {
	svc, _, _ := newTestLedger()
	tutor := uuid.New()
	entry := recordFrozenEarning(t, svc, tutor, 10000)

	if _, err := svc.TransitionFunds(context.Background(), noopTx{}, entry.ID, models.FundsFrozen, models.FundsLocked); err != nil {
		t.Fatalf("TransitionFunds: %v", err)
	}

	w, _ := svc.GetBalance(context.Background(), tutor)
	if w.LockedCents != 10000 || w.FrozenCents != 0 || w.AvailableCents != 0 {
		t.Errorf("wallet locked=%d frozen=%d available=%d, want 10000/0/0",
			w.LockedCents, w.FrozenCents, w.AvailableCents)
	}
	checkConservation(t, svc, tutor)
}

// =====================================================================
// CancelTransaction
// =====================================================================

func TestCancelReversesFrozenHold(t *testing.T) {
	svc, _, tr := newTestLedger()
	tutor := uuid.New()
	entry := recordFrozenEarning(t, svc, tutor, 10000)

	if err := svc.CancelTransaction(context.Background(), noopTx{}, entry.ID); err != nil {
		t.Fatalf("CancelTransaction: %v", err)
	}
	if tr.entries[entry.ID].Status != models.TxStatusCancelled {
		t.Errorf("entry status %q, want cancelled", tr.entries[entry.ID].Status)
	}

	w, _ := svc.GetBalance(context.Background(), tutor)
	if w.FrozenCents != 0 || w.TotalCents != 0 {
		t.Errorf("wallet frozen=%d total=%d, want 0/0", w.FrozenCents, w.TotalCents)
	}
	checkConservation(t, svc, tutor)
}

func TestCancelTwiceFails(t *testing.T) {
	svc, _, _ := newTestLedger()
	entry := recordFrozenEarning(t, svc, uuid.New(), 10000)

	if err := svc.CancelTransaction(context.Background(), noopTx{}, entry.ID); err != nil {
		t.Fatalf("CancelTransaction: %v", err)
	}
	if err := svc.CancelTransaction(context.Background(), noopTx{}, entry.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
}
