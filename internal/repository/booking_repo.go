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

// ErrBookingNotFound is returned when a booking id resolves to no row.
var ErrBookingNotFound = errors.New("booking not found")

const bookingColumns = `id, student_id, tutor_id, course_id, time_slot_id, original_time_slot_id,
	amount_cents, status, charge_ref, cancel_reason, reschedule_reason, appeal_id, created_at, updated_at`

type BookingRepo struct {
	pool *pgxpool.Pool
}

func NewBookingRepo(pool *pgxpool.Pool) *BookingRepo {
	return &BookingRepo{pool: pool}
}

func (r *BookingRepo) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

func scanBooking(row pgx.Row) (*models.Booking, error) {
	var b models.Booking
	err := row.Scan(&b.ID, &b.StudentID, &b.TutorID, &b.CourseID, &b.TimeSlotID, &b.OriginalTimeSlotID,
		&b.AmountCents, &b.Status, &b.ChargeRef, &b.CancelReason, &b.RescheduleReason, &b.AppealID, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *BookingRepo) Insert(ctx context.Context, tx pgx.Tx, b *models.Booking) error {
	return tx.QueryRow(ctx, `
		INSERT INTO bookings (id, student_id, tutor_id, course_id, time_slot_id, original_time_slot_id, amount_cents, status, charge_ref, cancel_reason, reschedule_reason, appeal_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at, updated_at
	`, b.ID, b.StudentID, b.TutorID, b.CourseID, b.TimeSlotID, b.OriginalTimeSlotID, b.AmountCents, b.Status, b.ChargeRef, b.CancelReason, b.RescheduleReason, b.AppealID).Scan(&b.CreatedAt, &b.UpdatedAt)
}

func (r *BookingRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Booking, error) {
	b, err := scanBooking(r.pool.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrBookingNotFound
	}
	return b, err
}

// GetByIDForUpdate locks the booking row for update. Call within a transaction.
func (r *BookingRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Booking, error) {
	b, err := scanBooking(tx.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrBookingNotFound
	}
	return b, err
}

func (r *BookingRepo) Update(ctx context.Context, tx pgx.Tx, b *models.Booking) error {
	_, err := tx.Exec(ctx, `
		UPDATE bookings SET status = $2, charge_ref = $3, cancel_reason = $4, reschedule_reason = $5, appeal_id = $6, time_slot_id = $7, original_time_slot_id = $8, updated_at = now()
		WHERE id = $1
	`, b.ID, b.Status, b.ChargeRef, b.CancelReason, b.RescheduleReason, b.AppealID, b.TimeSlotID, b.OriginalTimeSlotID)
	return err
}

// BookingFilter narrows booking listings.
type BookingFilter struct {
	Statuses []string
	From     *time.Time
	To       *time.Time
	Limit    int
	Offset   int
}

// ListByUser returns bookings where the user participates as the given role
// ("student" or "tutor"), newest slot first.
func (r *BookingRepo) ListByUser(ctx context.Context, userID uuid.UUID, role string, f BookingFilter) ([]*models.Booking, error) {
	column := "student_id"
	if role == "tutor" {
		column = "tutor_id"
	}
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE ` + column + ` = $1`
	args := []any{userID}
	if len(f.Statuses) > 0 {
		args = append(args, f.Statuses)
		query += ` AND status = ANY($` + strconv.Itoa(len(args)) + `)`
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
	var list []*models.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, b)
	}
	return list, rows.Err()
}

// ListStalePending returns pending bookings created before the cutoff. These
// only exist if a create transaction was interrupted; the expiry sweep closes
// them out.
func (r *BookingRepo) ListStalePending(ctx context.Context, cutoff time.Time) ([]*models.Booking, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+bookingColumns+` FROM bookings WHERE status = 'pending' AND created_at < $1
	`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, b)
	}
	return list, rows.Err()
}
