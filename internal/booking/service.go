// Package booking drives the booking lifecycle: creation with payment and
// ledger holds, completion with deferred settlement, cancellation with
// refund, appeals, and expiry of stale pending bookings. Every state
// transition runs in a single database transaction so a booking and its
// ledger effects are never observed half-applied.
package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/tutorhall/backend/internal/ledger"
	"github.com/tutorhall/backend/internal/models"
	"github.com/tutorhall/backend/internal/notify"
	"github.com/tutorhall/backend/internal/payments"
	"github.com/tutorhall/backend/internal/repository"
	"github.com/tutorhall/backend/internal/settlement"
	"github.com/tutorhall/backend/internal/slots"
)

// ErrBookingNotFound mirrors the repository sentinel for callers of this package.
var ErrBookingNotFound = repository.ErrBookingNotFound

// ErrCancellationWindow is returned when 24 hours or less remain before the
// slot starts. Exactly 24h remaining is still rejected.
var ErrCancellationWindow = errors.New("booking starts within 24 hours")

// ErrInvalidState is returned when an operation does not apply to the
// booking's current status.
var ErrInvalidState = errors.New("booking is not in a valid state for this operation")

// ErrAppealPending is returned when settlement or cancellation is attempted
// while an appeal holds the funds.
var ErrAppealPending = errors.New("booking has a pending appeal")

const (
	// cancellationWindow is how close to the slot start cancellation and
	// rescheduling shut off.
	cancellationWindow = 24 * time.Hour

	// defaultHoldPeriod is how long a tutor's earning stays frozen after
	// completion before settling.
	defaultHoldPeriod = 24 * time.Hour

	// pendingTimeout is how long a pending booking may sit before the expiry
	// sweep reclaims its slot. Pending normally lasts only for the duration
	// of the creation transaction; the sweep covers crashes mid-flight.
	pendingTimeout = 15 * time.Minute
)

// Repo is the booking repository interface used by the service.
type Repo interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Insert(ctx context.Context, tx pgx.Tx, b *models.Booking) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Booking, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Booking, error)
	Update(ctx context.Context, tx pgx.Tx, b *models.Booking) error
	ListByUser(ctx context.Context, userID uuid.UUID, role string, f repository.BookingFilter) ([]*models.Booking, error)
	ListStalePending(ctx context.Context, cutoff time.Time) ([]*models.Booking, error)
}

// EnqueueSettleTxFunc enqueues a settle_booking job within the given
// transaction, to run at runAt. Provided by main as a closure over
// river.Client.InsertTx.
type EnqueueSettleTxFunc func(ctx context.Context, tx pgx.Tx, args settlement.SettleBookingArgs, runAt time.Time) error

// Service coordinates slots, ledger, payments, and notifications for one
// booking at a time.
type Service struct {
	repo          Repo
	slots         *slots.Service
	ledger        *ledger.Service
	processor     payments.Processor
	notifier      notify.Notifier
	enqueueSettle EnqueueSettleTxFunc
	holdPeriod    time.Duration
	logger        *slog.Logger
	now           func() time.Time
}

func NewService(repo Repo, slotSvc *slots.Service, ledgerSvc *ledger.Service, processor payments.Processor, notifier notify.Notifier, enqueueSettle EnqueueSettleTxFunc, logger *slog.Logger) *Service {
	return &Service{
		repo:          repo,
		slots:         slotSvc,
		ledger:        ledgerSvc,
		processor:     processor,
		notifier:      notifier,
		enqueueSettle: enqueueSettle,
		holdPeriod:    defaultHoldPeriod,
		logger:        logger,
		now:           time.Now,
	}
}

// SetHoldPeriod overrides the settlement hold period.
func (s *Service) SetHoldPeriod(d time.Duration) { s.holdPeriod = d }

// CreateParams describes a booking request. AmountCents is the course price
// charged to the student and held frozen for the tutor.
type CreateParams struct {
	StudentID   uuid.UUID
	CourseID    uuid.UUID
	TimeSlotID  uuid.UUID
	AmountCents int64
}

// CreateBooking claims the slot, charges the student, and records the ledger
// hold, all in one transaction. The external charge happens after the claim
// checks pass; if anything fails after the charge succeeded, the charge is
// refunded before the transaction rolls back, so the student is never billed
// for a booking that does not exist.
func (s *Service) CreateBooking(ctx context.Context, p CreateParams) (*models.Booking, error) {
	if p.AmountCents <= 0 {
		return nil, fmt.Errorf("create booking: amount must be positive, got %d", p.AmountCents)
	}

	tx, err := s.repo.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	slot, err := s.slots.ClaimTx(ctx, tx, p.TimeSlotID, p.StudentID)
	if err != nil {
		return nil, err
	}

	b := &models.Booking{
		ID:          uuid.New(),
		StudentID:   p.StudentID,
		TutorID:     slot.TutorID,
		CourseID:    p.CourseID,
		TimeSlotID:  slot.ID,
		AmountCents: p.AmountCents,
		Status:      models.BookingStatusPending,
	}
	if err := s.repo.Insert(ctx, tx, b); err != nil {
		return nil, fmt.Errorf("create booking: %w", err)
	}

	chargeRef, err := s.processor.Charge(ctx, p.StudentID, p.AmountCents, fmt.Sprintf("course booking %s", b.ID))
	if err != nil {
		return nil, fmt.Errorf("create booking: charge: %w", err)
	}
	b.ChargeRef = chargeRef

	if err := s.recordBookingHold(ctx, tx, b); err != nil {
		s.refundCharge(ctx, chargeRef, p.AmountCents)
		return nil, err
	}

	b.Status = models.BookingStatusConfirmed
	if err := s.repo.Update(ctx, tx, b); err != nil {
		s.refundCharge(ctx, chargeRef, p.AmountCents)
		return nil, fmt.Errorf("create booking: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		s.refundCharge(ctx, chargeRef, p.AmountCents)
		return nil, fmt.Errorf("create booking: %w", err)
	}

	s.slots.InvalidateFor(ctx, slot, p.StudentID)
	s.publish(ctx, notify.EventBookingCreated, b)
	return b, nil
}

// recordBookingHold writes the paired ledger entries: the student pays from
// available, the tutor's earning lands frozen until settlement.
func (s *Service) recordBookingHold(ctx context.Context, tx pgx.Tx, b *models.Booking) error {
	_, err := s.ledger.RecordTransaction(ctx, tx, ledger.RecordParams{
		UserID:      b.StudentID,
		Type:        models.TxTypeCoursePayment,
		AmountCents: b.AmountCents,
		FundsStatus: models.FundsAvailable,
		BookingID:   &b.ID,
		Description: "course payment",
	})
	if err != nil {
		return fmt.Errorf("create booking: student payment: %w", err)
	}
	_, err = s.ledger.RecordTransaction(ctx, tx, ledger.RecordParams{
		UserID:      b.TutorID,
		Type:        models.TxTypeCourseEarning,
		AmountCents: b.AmountCents,
		FundsStatus: models.FundsFrozen,
		BookingID:   &b.ID,
		Description: "course earning hold",
	})
	if err != nil {
		return fmt.Errorf("create booking: tutor earning: %w", err)
	}
	return nil
}

// CompleteBooking marks a confirmed booking completed and schedules its
// settlement one hold period out. The job insert shares the transaction, so
// a completed booking always has its settlement queued, even across restarts.
func (s *Service) CompleteBooking(ctx context.Context, bookingID uuid.UUID) (*models.Booking, error) {
	tx, err := s.repo.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	b, err := s.repo.GetByIDForUpdate(ctx, tx, bookingID)
	if err != nil {
		return nil, err
	}
	if b.Status != models.BookingStatusConfirmed {
		return nil, ErrInvalidState
	}

	b.Status = models.BookingStatusCompleted
	if err := s.repo.Update(ctx, tx, b); err != nil {
		return nil, fmt.Errorf("complete booking: %w", err)
	}
	err = s.enqueueSettle(ctx, tx, settlement.SettleBookingArgs{
		BookingID: b.ID,
		TutorID:   b.TutorID,
	}, s.now().Add(s.holdPeriod))
	if err != nil {
		return nil, fmt.Errorf("complete booking: enqueue settlement: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("complete booking: %w", err)
	}

	s.publish(ctx, notify.EventBookingCompleted, b)
	return b, nil
}

// SettleBooking releases the tutor's frozen earning to available. Run by the
// settlement worker when the hold period elapses. The booking is reloaded
// under lock first: a cancelled booking or one under appeal is not settled.
// When no frozen hold remains the funds already moved on another path, and
// settlement.ErrAlreadySettled tells the worker to drop the job.
func (s *Service) SettleBooking(ctx context.Context, bookingID uuid.UUID) error {
	tx, err := s.repo.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	b, err := s.repo.GetByIDForUpdate(ctx, tx, bookingID)
	if err != nil {
		return err
	}
	if b.Status != models.BookingStatusCompleted {
		return fmt.Errorf("booking %s is %s: %w", b.ID, b.Status, settlement.ErrAlreadySettled)
	}
	if b.AppealID != nil {
		return ErrAppealPending
	}

	hold, err := s.ledger.FindEarningHold(ctx, tx, b.ID, b.TutorID, models.FundsFrozen)
	if err != nil {
		if errors.Is(err, repository.ErrTransactionNotFound) {
			return settlement.ErrAlreadySettled
		}
		return fmt.Errorf("settle booking: %w", err)
	}
	if _, err := s.ledger.TransitionFunds(ctx, tx, hold.ID, models.FundsFrozen, models.FundsAvailable); err != nil {
		return fmt.Errorf("settle booking: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("settle booking: %w", err)
	}

	s.publish(ctx, notify.EventBookingSettled, b)
	return nil
}

// CancelBooking refunds the student in full and reverses the tutor's frozen
// hold, then releases the slot. Rejected when 24 hours or less remain before
// the slot starts, and when the earning already settled or is under appeal.
// The external refund is issued before commit; a refund failure rolls
// everything back so ledger and processor stay consistent.
func (s *Service) CancelBooking(ctx context.Context, bookingID, requesterID uuid.UUID, reason string) (*models.Booking, error) {
	tx, err := s.repo.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	b, err := s.repo.GetByIDForUpdate(ctx, tx, bookingID)
	if err != nil {
		return nil, err
	}
	if b.Status != models.BookingStatusConfirmed {
		return nil, ErrInvalidState
	}
	if b.AppealID != nil {
		return nil, ErrAppealPending
	}

	slot, err := s.slots.GetByID(ctx, b.TimeSlotID)
	if err != nil {
		return nil, err
	}
	if slot.StartTime.Sub(s.now()) <= cancellationWindow {
		return nil, ErrCancellationWindow
	}

	hold, err := s.ledger.FindEarningHold(ctx, tx, b.ID, b.TutorID, models.FundsFrozen)
	if err != nil {
		return nil, fmt.Errorf("cancel booking: %w", err)
	}
	if err := s.ledger.CancelTransaction(ctx, tx, hold.ID); err != nil {
		return nil, fmt.Errorf("cancel booking: reverse hold: %w", err)
	}
	_, err = s.ledger.RecordTransaction(ctx, tx, ledger.RecordParams{
		UserID:      b.StudentID,
		Type:        models.TxTypeCourseRefund,
		AmountCents: b.AmountCents,
		FundsStatus: models.FundsAvailable,
		BookingID:   &b.ID,
		Description: "booking cancellation refund",
	})
	if err != nil {
		return nil, fmt.Errorf("cancel booking: refund entry: %w", err)
	}

	released, err := s.slots.ReleaseTx(ctx, tx, b.TimeSlotID, b.StudentID, false)
	if err != nil {
		return nil, fmt.Errorf("cancel booking: release slot: %w", err)
	}

	b.Status = models.BookingStatusCancelled
	b.CancelReason = reason
	if err := s.repo.Update(ctx, tx, b); err != nil {
		return nil, fmt.Errorf("cancel booking: %w", err)
	}

	if b.ChargeRef != "" {
		if err := s.processor.Refund(ctx, b.ChargeRef, b.AmountCents); err != nil {
			return nil, fmt.Errorf("cancel booking: refund charge: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("cancel booking: %w", err)
	}

	s.slots.InvalidateFor(ctx, released, b.StudentID)
	s.publish(ctx, notify.EventBookingCancelled, b)
	return b, nil
}

// RescheduleBooking moves a confirmed booking to a different slot. The old
// claim is released and the new one taken in the same transaction; the
// payment and ledger hold follow the booking untouched. Same 24-hour window
// as cancellation, measured against the current slot.
func (s *Service) RescheduleBooking(ctx context.Context, bookingID, newSlotID uuid.UUID, reason string) (*models.Booking, error) {
	tx, err := s.repo.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	b, err := s.repo.GetByIDForUpdate(ctx, tx, bookingID)
	if err != nil {
		return nil, err
	}
	if b.Status != models.BookingStatusConfirmed {
		return nil, ErrInvalidState
	}
	if b.AppealID != nil {
		return nil, ErrAppealPending
	}

	current, err := s.slots.GetByID(ctx, b.TimeSlotID)
	if err != nil {
		return nil, err
	}
	if current.StartTime.Sub(s.now()) <= cancellationWindow {
		return nil, ErrCancellationWindow
	}

	released, err := s.slots.ReleaseTx(ctx, tx, b.TimeSlotID, b.StudentID, false)
	if err != nil {
		return nil, fmt.Errorf("reschedule booking: release old slot: %w", err)
	}
	claimed, err := s.slots.ClaimTx(ctx, tx, newSlotID, b.StudentID)
	if err != nil {
		return nil, err
	}
	if claimed.TutorID != b.TutorID {
		return nil, slots.ErrSlotUnavailable
	}

	if b.OriginalTimeSlotID == nil {
		original := b.TimeSlotID
		b.OriginalTimeSlotID = &original
	}
	b.TimeSlotID = claimed.ID
	b.RescheduleReason = reason
	if err := s.repo.Update(ctx, tx, b); err != nil {
		return nil, fmt.Errorf("reschedule booking: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("reschedule booking: %w", err)
	}

	s.slots.InvalidateFor(ctx, released, b.StudentID)
	s.slots.InvalidateFor(ctx, claimed, b.StudentID)
	s.publish(ctx, notify.EventBookingRescheduled, b)
	return b, nil
}

// StartAppeal moves the tutor's frozen earning to locked so the pending
// settlement cannot release it while the dispute runs.
func (s *Service) StartAppeal(ctx context.Context, bookingID uuid.UUID, appealID uuid.UUID) (*models.Booking, error) {
	tx, err := s.repo.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	b, err := s.repo.GetByIDForUpdate(ctx, tx, bookingID)
	if err != nil {
		return nil, err
	}
	if b.Status != models.BookingStatusCompleted && b.Status != models.BookingStatusConfirmed {
		return nil, ErrInvalidState
	}
	if b.AppealID != nil {
		return nil, ErrAppealPending
	}

	hold, err := s.ledger.FindEarningHold(ctx, tx, b.ID, b.TutorID, models.FundsFrozen)
	if err != nil {
		if errors.Is(err, repository.ErrTransactionNotFound) {
			return nil, settlement.ErrAlreadySettled
		}
		return nil, fmt.Errorf("start appeal: %w", err)
	}
	if _, err := s.ledger.TransitionFunds(ctx, tx, hold.ID, models.FundsFrozen, models.FundsLocked); err != nil {
		return nil, fmt.Errorf("start appeal: %w", err)
	}

	b.AppealID = &appealID
	if err := s.repo.Update(ctx, tx, b); err != nil {
		return nil, fmt.Errorf("start appeal: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("start appeal: %w", err)
	}

	s.publish(ctx, notify.EventAppealStarted, b)
	return b, nil
}

// ResolveAppeal closes a dispute. refund=true reverses the tutor's locked
// hold and credits the student an appeal refund; refund=false releases the
// locked earning to the tutor's available balance. Either way the appeal
// mark clears and the booking can settle no further.
func (s *Service) ResolveAppeal(ctx context.Context, bookingID uuid.UUID, refund bool) (*models.Booking, error) {
	tx, err := s.repo.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	b, err := s.repo.GetByIDForUpdate(ctx, tx, bookingID)
	if err != nil {
		return nil, err
	}
	if b.AppealID == nil {
		return nil, ErrInvalidState
	}

	hold, err := s.ledger.FindEarningHold(ctx, tx, b.ID, b.TutorID, models.FundsLocked)
	if err != nil {
		return nil, fmt.Errorf("resolve appeal: %w", err)
	}

	if refund {
		if err := s.ledger.CancelTransaction(ctx, tx, hold.ID); err != nil {
			return nil, fmt.Errorf("resolve appeal: reverse hold: %w", err)
		}
		_, err = s.ledger.RecordTransaction(ctx, tx, ledger.RecordParams{
			UserID:      b.StudentID,
			Type:        models.TxTypeAppealRefund,
			AmountCents: b.AmountCents,
			FundsStatus: models.FundsAvailable,
			BookingID:   &b.ID,
			Description: "appeal refund",
		})
		if err != nil {
			return nil, fmt.Errorf("resolve appeal: refund entry: %w", err)
		}
		if b.ChargeRef != "" {
			if err := s.processor.Refund(ctx, b.ChargeRef, b.AmountCents); err != nil {
				return nil, fmt.Errorf("resolve appeal: refund charge: %w", err)
			}
		}
	} else {
		if _, err := s.ledger.TransitionFunds(ctx, tx, hold.ID, models.FundsLocked, models.FundsAvailable); err != nil {
			return nil, fmt.Errorf("resolve appeal: %w", err)
		}
	}

	b.AppealID = nil
	if err := s.repo.Update(ctx, tx, b); err != nil {
		return nil, fmt.Errorf("resolve appeal: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("resolve appeal: %w", err)
	}

	s.publish(ctx, notify.EventAppealResolved, b)
	return b, nil
}

// ExpirePendingBookings reclaims slots held by bookings stuck in pending.
// Creation commits pending and confirmed in one transaction, so a pending
// row only survives a crash between charge and commit; the sweep is the
// crash-safety net. Returns how many bookings were expired.
func (s *Service) ExpirePendingBookings(ctx context.Context) (int, error) {
	stale, err := s.repo.ListStalePending(ctx, s.now().Add(-pendingTimeout))
	if err != nil {
		return 0, fmt.Errorf("expire pending bookings: %w", err)
	}

	expired := 0
	for _, b := range stale {
		if err := s.expireOne(ctx, b.ID); err != nil {
			s.logger.Error("pending booking expiry failed", "booking_id", b.ID, "error", err)
			continue
		}
		expired++
	}
	return expired, nil
}

func (s *Service) expireOne(ctx context.Context, bookingID uuid.UUID) error {
	tx, err := s.repo.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	b, err := s.repo.GetByIDForUpdate(ctx, tx, bookingID)
	if err != nil {
		return err
	}
	if b.Status != models.BookingStatusPending {
		return nil
	}

	released, err := s.slots.ReleaseTx(ctx, tx, b.TimeSlotID, b.StudentID, false)
	if err != nil && !errors.Is(err, slots.ErrNotBooked) {
		return err
	}

	b.Status = models.BookingStatusExpired
	if err := s.repo.Update(ctx, tx, b); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}

	if released != nil {
		s.slots.InvalidateFor(ctx, released, b.StudentID)
	}
	return nil
}

// GetBooking returns one booking.
func (s *Service) GetBooking(ctx context.Context, bookingID uuid.UUID) (*models.Booking, error) {
	return s.repo.GetByID(ctx, bookingID)
}

// ListBookings returns the user's bookings as student or tutor, newest first.
func (s *Service) ListBookings(ctx context.Context, userID uuid.UUID, role string, f repository.BookingFilter) ([]*models.Booking, error) {
	return s.repo.ListByUser(ctx, userID, role, f)
}

// refundCharge compensates an external charge whose surrounding transaction
// is about to roll back. A failure here is logged for manual reconciliation,
// the booking error still propagates.
func (s *Service) refundCharge(ctx context.Context, chargeRef string, amountCents int64) {
	if err := s.processor.Refund(ctx, chargeRef, amountCents); err != nil {
		s.logger.Error("compensating refund failed, manual reconciliation needed",
			"charge_ref", chargeRef, "amount_cents", amountCents, "error", err)
	}
}

// publish sends a lifecycle event. Notification failures never fail the
// operation that triggered them.
func (s *Service) publish(ctx context.Context, event string, b *models.Booking) {
	if err := s.notifier.Publish(ctx, event, b); err != nil {
		s.logger.Warn("notification publish failed", "event", event, "booking_id", b.ID, "error", err)
	}
}
