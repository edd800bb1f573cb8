// Package settlement holds the durable background jobs: settling completed
// bookings after the hold period, expanding recurring slots, and expiring
// stale pending bookings. Jobs are persisted in postgres by river, so a
// settlement scheduled before a restart still fires after it.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/riverqueue/river"
)

type SettleBookingArgs struct {
	BookingID uuid.UUID `json:"booking_id"`
	TutorID   uuid.UUID `json:"tutor_id"`
}

func (SettleBookingArgs) Kind() string { return "settle_booking" }

type ExpandRecurringArgs struct{}

func (ExpandRecurringArgs) Kind() string { return "expand_recurring_slots" }

type ExpireBookingsArgs struct{}

func (ExpireBookingsArgs) Kind() string { return "expire_pending_bookings" }

// ErrAlreadySettled means the earning hold was settled or reversed before
// this settlement attempt. The booking service returns it; the worker treats
// it as success since river may deliver a job more than once.
var ErrAlreadySettled = errors.New("booking hold already settled")

// BookingService defines the contract the workers need from the booking
// lifecycle.
type BookingService interface {
	SettleBooking(ctx context.Context, bookingID uuid.UUID) error
	ExpirePendingBookings(ctx context.Context) (int, error)
}

// SlotService defines the contract the recurrence sweep needs.
type SlotService interface {
	ExpandRecurring(ctx context.Context) error
}

type SettleBookingWorker struct {
	river.WorkerDefaults[SettleBookingArgs]
	bookings BookingService
	logger   *slog.Logger
}

func NewSettleBookingWorker(bookings BookingService, logger *slog.Logger) *SettleBookingWorker {
	return &SettleBookingWorker{bookings: bookings, logger: logger}
}

// Work settles one booking. A hold that was already settled, cancelled, or
// moved to appeal is not an error: river may deliver more than once, and the
// booking may have changed between scheduling and delivery.
func (w *SettleBookingWorker) Work(ctx context.Context, job *river.Job[SettleBookingArgs]) error {
	err := w.bookings.SettleBooking(ctx, job.Args.BookingID)
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrAlreadySettled) {
		w.logger.Info("settlement skipped, hold no longer pending", "booking_id", job.Args.BookingID)
		return nil
	}
	return fmt.Errorf("settle booking %s: %w", job.Args.BookingID, err)
}

type ExpandRecurringWorker struct {
	river.WorkerDefaults[ExpandRecurringArgs]
	slots SlotService
}

func NewExpandRecurringWorker(slots SlotService) *ExpandRecurringWorker {
	return &ExpandRecurringWorker{slots: slots}
}

func (w *ExpandRecurringWorker) Work(ctx context.Context, job *river.Job[ExpandRecurringArgs]) error {
	return w.slots.ExpandRecurring(ctx)
}

type ExpireBookingsWorker struct {
	river.WorkerDefaults[ExpireBookingsArgs]
	bookings BookingService
	logger   *slog.Logger
}

func NewExpireBookingsWorker(bookings BookingService, logger *slog.Logger) *ExpireBookingsWorker {
	return &ExpireBookingsWorker{bookings: bookings, logger: logger}
}

func (w *ExpireBookingsWorker) Work(ctx context.Context, job *river.Job[ExpireBookingsArgs]) error {
	n, err := w.bookings.ExpirePendingBookings(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		w.logger.Info("expired stale pending bookings", "count", n)
	}
	return nil
}

// PeriodicJobs returns the recurring job schedule: hourly recurrence
// expansion and a five-minute pending-booking sweep.
func PeriodicJobs() []*river.PeriodicJob {
	return []*river.PeriodicJob{
		river.NewPeriodicJob(
			river.PeriodicInterval(time.Hour),
			func() (river.JobArgs, *river.InsertOpts) {
				return ExpandRecurringArgs{}, nil
			},
			&river.PeriodicJobOpts{RunOnStart: true},
		),
		river.NewPeriodicJob(
			river.PeriodicInterval(5*time.Minute),
			func() (river.JobArgs, *river.InsertOpts) {
				return ExpireBookingsArgs{}, nil
			},
			&river.PeriodicJobOpts{RunOnStart: false},
		),
	}
}
