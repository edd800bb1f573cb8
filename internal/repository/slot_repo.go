package repository

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tutorhall/backend/internal/models"
)

// ErrSlotNotFound is returned when a slot id resolves to no row.
var ErrSlotNotFound = errors.New("time slot not found")

const slotColumns = `id, tutor_id, start_time, end_time, status, duration_minutes,
	recurrence_type, recurrence_end_date, recurrence_rule, settings, booked_by,
	last_recurrence_generation, created_at, updated_at`

type SlotRepo struct {
	pool *pgxpool.Pool
}

func NewSlotRepo(pool *pgxpool.Pool) *SlotRepo {
	return &SlotRepo{pool: pool}
}

func (r *SlotRepo) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

func scanSlot(row pgx.Row) (*models.TimeSlot, error) {
	var s models.TimeSlot
	var rule, settings []byte
	err := row.Scan(&s.ID, &s.TutorID, &s.StartTime, &s.EndTime, &s.Status, &s.DurationMinutes,
		&s.RecurrenceType, &s.RecurrenceEndDate, &rule, &settings, &s.BookedBy,
		&s.LastRecurrenceGeneration, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(rule, &s.RecurrenceRule); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(settings, &s.Settings); err != nil {
		return nil, err
	}
	return &s, nil
}

// InsertGenerated inserts generated slots, skipping any (tutor, start, end)
// that already exists. Returns the slots actually inserted, so re-running
// generation over an overlapping range is idempotent.
func (r *SlotRepo) InsertGenerated(ctx context.Context, slots []*models.TimeSlot) ([]*models.TimeSlot, error) {
	var inserted []*models.TimeSlot
	for _, s := range slots {
		rule, err := json.Marshal(s.RecurrenceRule)
		if err != nil {
			return nil, err
		}
		settings, err := json.Marshal(s.Settings)
		if err != nil {
			return nil, err
		}
		err = r.pool.QueryRow(ctx, `
			INSERT INTO time_slots (id, tutor_id, start_time, end_time, status, duration_minutes, recurrence_type, recurrence_end_date, recurrence_rule, settings, booked_by)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			ON CONFLICT (tutor_id, start_time, end_time) DO NOTHING
			RETURNING created_at, updated_at
		`, s.ID, s.TutorID, s.StartTime, s.EndTime, s.Status, s.DurationMinutes, s.RecurrenceType, s.RecurrenceEndDate, rule, settings, s.BookedBy).Scan(&s.CreatedAt, &s.UpdatedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			continue // duplicate of an existing slot
		}
		if err != nil {
			return nil, err
		}
		inserted = append(inserted, s)
	}
	return inserted, nil
}

func (r *SlotRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.TimeSlot, error) {
	s, err := scanSlot(r.pool.QueryRow(ctx, `SELECT `+slotColumns+` FROM time_slots WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSlotNotFound
	}
	return s, err
}

// GetByIDForUpdate locks the slot row for update. Call within a transaction;
// every claim/release decision must be made from this row, never a cache.
func (r *SlotRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.TimeSlot, error) {
	s, err := scanSlot(tx.QueryRow(ctx, `SELECT `+slotColumns+` FROM time_slots WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSlotNotFound
	}
	return s, err
}

// SlotFilter narrows availability queries.
type SlotFilter struct {
	TutorID         *uuid.UUID
	From            time.Time
	To              time.Time
	DurationMinutes int
	Subjects        []string
}

func (r *SlotRepo) FindAvailable(ctx context.Context, f SlotFilter) ([]*models.TimeSlot, error) {
	query := `SELECT ` + slotColumns + ` FROM time_slots WHERE status = 'available' AND start_time >= $1`
	args := []any{f.From}
	// A zero To means an open-ended range.
	if !f.To.IsZero() {
		args = append(args, f.To)
		query += ` AND end_time <= $` + strconv.Itoa(len(args))
	}
	if f.TutorID != nil {
		args = append(args, *f.TutorID)
		query += ` AND tutor_id = $` + strconv.Itoa(len(args))
	}
	if f.DurationMinutes > 0 {
		args = append(args, f.DurationMinutes)
		query += ` AND duration_minutes = $` + strconv.Itoa(len(args))
	}
	if len(f.Subjects) > 0 {
		args = append(args, f.Subjects)
		query += ` AND settings->'subjects' ?| $` + strconv.Itoa(len(args))
	}
	query += ` ORDER BY start_time`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.TimeSlot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, s)
	}
	return list, rows.Err()
}

// FindStudentConflict returns a slot the student has claimed whose interval
// overlaps [start, end), or nil when there is none. Overlap test:
// start1 < end2 AND start2 < end1. Partially filled multi-student slots are
// still status available, so the filter is on booked_by, not status.
func (r *SlotRepo) FindStudentConflict(ctx context.Context, tx pgx.Tx, studentID uuid.UUID, start, end time.Time) (*models.TimeSlot, error) {
	s, err := scanSlot(tx.QueryRow(ctx, `
		SELECT `+slotColumns+` FROM time_slots
		WHERE status IN ('available', 'booked') AND $1 = ANY(booked_by) AND start_time < $3 AND end_time > $2
		LIMIT 1
	`, studentID, start, end))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return s, err
}

// UpdateClaim persists booked_by and status after a claim or release.
// Call after GetByIDForUpdate in the same tx.
func (r *SlotRepo) UpdateClaim(ctx context.Context, tx pgx.Tx, s *models.TimeSlot) error {
	_, err := tx.Exec(ctx, `
		UPDATE time_slots SET booked_by = $2, status = $3, updated_at = now() WHERE id = $1
	`, s.ID, s.BookedBy, s.Status)
	return err
}

// ListRecurringActive returns recurring slot templates whose recurrence end
// date has not yet passed.
func (r *SlotRepo) ListRecurringActive(ctx context.Context, now time.Time) ([]*models.TimeSlot, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+slotColumns+` FROM time_slots
		WHERE recurrence_type <> 'none' AND recurrence_end_date >= $1
		ORDER BY start_time
	`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.TimeSlot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, s)
	}
	return list, rows.Err()
}

func (r *SlotRepo) UpdateRecurrenceCursor(ctx context.Context, id uuid.UUID, generatedThrough time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE time_slots SET last_recurrence_generation = $2, updated_at = now() WHERE id = $1
	`, id, generatedThrough)
	return err
}
