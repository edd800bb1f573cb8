// Package slots owns bookable time slots: generation (including recurrence
// expansion), availability queries, and atomic claim/release. Claim and
// release decisions are always made from the row-locked database record;
// cached availability is a listing optimization only.
package slots

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/tutorhall/backend/internal/cache"
	"github.com/tutorhall/backend/internal/models"
	"github.com/tutorhall/backend/internal/repository"
	"github.com/tutorhall/backend/internal/timeutil"
)

// ErrSlotNotFound mirrors the repository sentinel for callers of this package.
var ErrSlotNotFound = repository.ErrSlotNotFound

// ErrSlotUnavailable is returned when a claim loses: the slot is cancelled,
// blocked, or already at capacity. The caller may retry with another slot.
var ErrSlotUnavailable = errors.New("time slot is not available")

// ErrAlreadyBooked is returned when the student already holds a claim on the slot.
var ErrAlreadyBooked = errors.New("student already booked this time slot")

// ErrBookingConflict is returned when the student has another booked slot
// overlapping this one.
var ErrBookingConflict = errors.New("student has a conflicting booking")

// ErrNotSlotOwner is returned when a tutor acts on a slot they do not own.
var ErrNotSlotOwner = errors.New("slot belongs to another tutor")

// ErrNotBooked is returned when a student releases a slot they never claimed.
var ErrNotBooked = errors.New("student has not booked this time slot")

const availabilityTTL = time.Hour

// Repo is the slot repository interface used by the service.
type Repo interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	InsertGenerated(ctx context.Context, slots []*models.TimeSlot) ([]*models.TimeSlot, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.TimeSlot, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.TimeSlot, error)
	FindAvailable(ctx context.Context, f repository.SlotFilter) ([]*models.TimeSlot, error)
	FindStudentConflict(ctx context.Context, tx pgx.Tx, studentID uuid.UUID, start, end time.Time) (*models.TimeSlot, error)
	UpdateClaim(ctx context.Context, tx pgx.Tx, s *models.TimeSlot) error
	ListRecurringActive(ctx context.Context, now time.Time) ([]*models.TimeSlot, error)
	UpdateRecurrenceCursor(ctx context.Context, id uuid.UUID, generatedThrough time.Time) error
}

// Service is the slot store.
type Service struct {
	repo   Repo
	cache  cache.SlotCache
	logger *slog.Logger
	now    func() time.Time
}

func NewService(repo Repo, slotCache cache.SlotCache, logger *slog.Logger) *Service {
	return &Service{repo: repo, cache: slotCache, logger: logger, now: time.Now}
}

// GenerateParams describes a slot generation request. StartDate/EndDate bound
// the calendar range; DayStart/DayEnd ("HH:MM") bound the daily window, both
// interpreted in Timezone.
type GenerateParams struct {
	TutorID           uuid.UUID
	StartDate         time.Time
	EndDate           time.Time
	DayStart          string
	DayEnd            string
	DurationMinutes   int
	Timezone          string
	RecurrenceType    string
	DaysOfWeek        []time.Weekday
	ExcludeDates      []string
	RecurrenceEndDate *time.Time
	Settings          models.SlotSettings
}

// Generate enumerates every calendar day in range, keeps weekly-recurrence
// days matching the configured weekdays, skips excluded dates, and emits one
// slot per duration-sized step of the daily window. Steps that would overflow
// the window are dropped. Generation is idempotent per (tutor, start, end):
// re-running over an overlapping range creates no duplicates.
func (s *Service) Generate(ctx context.Context, p GenerateParams) ([]*models.TimeSlot, error) {
	if p.DurationMinutes <= 0 {
		return nil, fmt.Errorf("generate slots: duration must be positive, got %d", p.DurationMinutes)
	}
	if p.Settings.MaxStudents <= 0 {
		p.Settings.MaxStudents = 1
	}
	if p.RecurrenceType == "" {
		p.RecurrenceType = models.RecurrenceNone
	}
	if p.Timezone == "" {
		p.Timezone = "UTC"
	}

	loc, err := time.LoadLocation(p.Timezone)
	if err != nil {
		return nil, fmt.Errorf("generate slots: %w", err)
	}
	dayStart, err := timeutil.ParseClock(p.DayStart)
	if err != nil {
		return nil, fmt.Errorf("generate slots: %w", err)
	}
	dayEnd, err := timeutil.ParseClock(p.DayEnd)
	if err != nil {
		return nil, fmt.Errorf("generate slots: %w", err)
	}

	rule := models.RecurrenceRule{
		DaysOfWeek:   p.DaysOfWeek,
		ExcludeDates: p.ExcludeDates,
		Timezone:     p.Timezone,
	}
	duration := time.Duration(p.DurationMinutes) * time.Minute
	excluded := make(map[string]bool, len(p.ExcludeDates))
	for _, d := range p.ExcludeDates {
		excluded[d] = true
	}

	var generated []*models.TimeSlot
	timeutil.EachDay(p.StartDate.In(loc), p.EndDate.In(loc), func(day time.Time) {
		if excluded[day.Format("2006-01-02")] {
			return
		}
		if needsWeekdayFilter(p.RecurrenceType) && len(p.DaysOfWeek) > 0 && !containsWeekday(p.DaysOfWeek, day.Weekday()) {
			return
		}
		for _, iv := range timeutil.EnumerateSlots(dayStart.On(day), dayEnd.On(day), duration) {
			generated = append(generated, &models.TimeSlot{
				ID:                uuid.New(),
				TutorID:           p.TutorID,
				StartTime:         iv.Start.UTC(),
				EndTime:           iv.End.UTC(),
				Status:            models.SlotStatusAvailable,
				DurationMinutes:   p.DurationMinutes,
				RecurrenceType:    p.RecurrenceType,
				RecurrenceEndDate: p.RecurrenceEndDate,
				RecurrenceRule:    rule,
				Settings:          p.Settings,
				BookedBy:          []uuid.UUID{},
			})
		}
	})

	inserted, err := s.repo.InsertGenerated(ctx, generated)
	if err != nil {
		return nil, fmt.Errorf("generate slots: %w", err)
	}
	s.cache.InvalidatePrefix(ctx, cache.AvailabilityPrefix(&p.TutorID))
	s.cache.Invalidate(ctx, cache.TutorKey(p.TutorID))
	return inserted, nil
}

// Filter narrows availability searches. Timezone is the caller's zone;
// returned slot times are converted into it.
type Filter struct {
	TutorID         *uuid.UUID
	From            time.Time
	To              time.Time
	DurationMinutes int
	Subjects        []string
	Timezone        string
}

// FindAvailable returns available slots matching the filter. Listings are
// served from the cache when possible; a claim decision is never made from
// this data.
func (s *Service) FindAvailable(ctx context.Context, f Filter) ([]*models.TimeSlot, error) {
	key := cache.AvailabilityKey(f.TutorID, f.From, f.To, f.DurationMinutes, f.Subjects)
	list, hit := s.cache.GetSlots(ctx, key)
	if !hit {
		var err error
		list, err = s.repo.FindAvailable(ctx, repository.SlotFilter{
			TutorID:         f.TutorID,
			From:            f.From,
			To:              f.To,
			DurationMinutes: f.DurationMinutes,
			Subjects:        f.Subjects,
		})
		if err != nil {
			return nil, fmt.Errorf("find available slots: %w", err)
		}
		s.cache.SetSlots(ctx, key, list, availabilityTTL)
	}
	return convertZone(list, f.Timezone)
}

// Claim atomically reserves the slot for the student in its own transaction.
func (s *Service) Claim(ctx context.Context, slotID, studentID uuid.UUID) (*models.TimeSlot, error) {
	tx, err := s.repo.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	slot, err := s.ClaimTx(ctx, tx, slotID, studentID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	s.InvalidateFor(ctx, slot, studentID)
	return slot, nil
}

// ClaimTx reserves the slot inside the caller's transaction. The slot row is
// locked before any check, so of two concurrent claimants on a capacity-1
// slot the second observes the updated row and loses with ErrSlotUnavailable.
func (s *Service) ClaimTx(ctx context.Context, tx pgx.Tx, slotID, studentID uuid.UUID) (*models.TimeSlot, error) {
	slot, err := s.repo.GetByIDForUpdate(ctx, tx, slotID)
	if err != nil {
		return nil, err
	}
	if slot.Status != models.SlotStatusAvailable || slot.AtCapacity() {
		return nil, ErrSlotUnavailable
	}
	if slot.HasStudent(studentID) {
		return nil, ErrAlreadyBooked
	}
	conflict, err := s.repo.FindStudentConflict(ctx, tx, studentID, slot.StartTime, slot.EndTime)
	if err != nil {
		return nil, fmt.Errorf("claim slot: conflict check: %w", err)
	}
	if conflict != nil {
		return nil, ErrBookingConflict
	}

	slot.BookedBy = append(slot.BookedBy, studentID)
	if slot.AtCapacity() {
		slot.Status = models.SlotStatusBooked
	}
	if err := s.repo.UpdateClaim(ctx, tx, slot); err != nil {
		return nil, fmt.Errorf("claim slot: %w", err)
	}
	return slot, nil
}

// Release undoes a claim (student) or cancels the whole slot (tutor) in its
// own transaction.
func (s *Service) Release(ctx context.Context, slotID, userID uuid.UUID, isTutor bool) (*models.TimeSlot, error) {
	tx, err := s.repo.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	slot, err := s.ReleaseTx(ctx, tx, slotID, userID, isTutor)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	s.InvalidateFor(ctx, slot, userID)
	return slot, nil
}

// ReleaseTx undoes a claim inside the caller's transaction. A tutor cancels
// the whole slot; a student removes only themself, and the slot reverts to
// available while booking room remains. Booked slots are never deleted,
// cancellation preserves history.
func (s *Service) ReleaseTx(ctx context.Context, tx pgx.Tx, slotID, userID uuid.UUID, isTutor bool) (*models.TimeSlot, error) {
	slot, err := s.repo.GetByIDForUpdate(ctx, tx, slotID)
	if err != nil {
		return nil, err
	}

	if isTutor {
		if slot.TutorID != userID {
			return nil, ErrNotSlotOwner
		}
		slot.Status = models.SlotStatusCancelled
	} else {
		if !slot.HasStudent(userID) {
			return nil, ErrNotBooked
		}
		kept := slot.BookedBy[:0]
		for _, id := range slot.BookedBy {
			if id != userID {
				kept = append(kept, id)
			}
		}
		slot.BookedBy = kept
		if slot.Status == models.SlotStatusBooked && !slot.AtCapacity() {
			slot.Status = models.SlotStatusAvailable
		}
	}

	if err := s.repo.UpdateClaim(ctx, tx, slot); err != nil {
		return nil, fmt.Errorf("release slot: %w", err)
	}
	return slot, nil
}

// Block marks an empty available slot as blocked so it never matches
// availability searches.
func (s *Service) Block(ctx context.Context, slotID, tutorID uuid.UUID) (*models.TimeSlot, error) {
	tx, err := s.repo.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	slot, err := s.repo.GetByIDForUpdate(ctx, tx, slotID)
	if err != nil {
		return nil, err
	}
	if slot.TutorID != tutorID {
		return nil, ErrNotSlotOwner
	}
	if slot.Status != models.SlotStatusAvailable || len(slot.BookedBy) > 0 {
		return nil, ErrSlotUnavailable
	}
	slot.Status = models.SlotStatusBlocked
	if err := s.repo.UpdateClaim(ctx, tx, slot); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	s.InvalidateFor(ctx, slot, tutorID)
	return slot, nil
}

// GetByID returns the authoritative slot record.
func (s *Service) GetByID(ctx context.Context, slotID uuid.UUID) (*models.TimeSlot, error) {
	return s.repo.GetByID(ctx, slotID)
}

// InvalidateFor drops cache entries for the slot, the acting user, and the
// owning tutor. Callers that commit their own transaction (booking lifecycle)
// invoke this right after commit.
func (s *Service) InvalidateFor(ctx context.Context, slot *models.TimeSlot, userID uuid.UUID) {
	s.cache.Invalidate(ctx,
		cache.SlotKey(slot.ID),
		cache.UserKey(userID),
		cache.TutorKey(slot.TutorID),
	)
	s.cache.InvalidatePrefix(ctx, cache.AvailabilityPrefix(&slot.TutorID))
}

// ExpandRecurring sweeps every slot with an active recurrence whose end date
// has not passed. For each, the next generation boundary is the recurrence
// step past the last generated boundary; once that boundary arrives, the
// slot's daily window is generated on the stepped date and the cursor
// advances. A failure on one slot is logged and does not abort the sweep.
func (s *Service) ExpandRecurring(ctx context.Context) error {
	now := s.now()
	templates, err := s.repo.ListRecurringActive(ctx, now)
	if err != nil {
		return fmt.Errorf("expand recurring slots: %w", err)
	}

	for _, slot := range templates {
		if err := s.expandOne(ctx, slot, now); err != nil {
			s.logger.Error("recurring slot expansion failed", "slot_id", slot.ID, "tutor_id", slot.TutorID, "error", err)
		}
	}
	return nil
}

func (s *Service) expandOne(ctx context.Context, slot *models.TimeSlot, now time.Time) error {
	cursor := slot.StartTime
	if slot.LastRecurrenceGeneration != nil {
		cursor = *slot.LastRecurrenceGeneration
	}
	next, err := stepRecurrence(cursor, slot.RecurrenceType)
	if err != nil {
		return err
	}
	if next.After(now) {
		return nil
	}
	if slot.RecurrenceEndDate != nil && next.After(*slot.RecurrenceEndDate) {
		return nil
	}

	tz := slot.RecurrenceRule.Timezone
	if tz == "" {
		tz = "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return err
	}
	localStart := slot.StartTime.In(loc)
	localEnd := slot.EndTime.In(loc)
	day := next.In(loc)

	_, err = s.Generate(ctx, GenerateParams{
		TutorID:           slot.TutorID,
		StartDate:         day,
		EndDate:           day,
		DayStart:          localStart.Format("15:04"),
		DayEnd:            localEnd.Format("15:04"),
		DurationMinutes:   slot.DurationMinutes,
		Timezone:          tz,
		RecurrenceType:    slot.RecurrenceType,
		DaysOfWeek:        slot.RecurrenceRule.DaysOfWeek,
		ExcludeDates:      slot.RecurrenceRule.ExcludeDates,
		RecurrenceEndDate: slot.RecurrenceEndDate,
		Settings:          slot.Settings,
	})
	if err != nil {
		return err
	}
	return s.repo.UpdateRecurrenceCursor(ctx, slot.ID, next)
}

func stepRecurrence(from time.Time, recurrenceType string) (time.Time, error) {
	switch recurrenceType {
	case models.RecurrenceDaily:
		return from.AddDate(0, 0, 1), nil
	case models.RecurrenceWeekly:
		return from.AddDate(0, 0, 7), nil
	case models.RecurrenceBiweekly:
		return from.AddDate(0, 0, 14), nil
	case models.RecurrenceMonthly:
		return addMonthClamped(from), nil
	default:
		return time.Time{}, fmt.Errorf("unknown recurrence type %q", recurrenceType)
	}
}

// addMonthClamped advances one calendar month, clamping the day of month to
// the target month's last day. Plain AddDate normalizes Jan 31 to Mar 2/3 and
// would skip February entirely for end-of-month slots.
func addMonthClamped(from time.Time) time.Time {
	next := from.AddDate(0, 1, 0)
	if next.Day() != from.Day() {
		next = next.AddDate(0, 0, -next.Day())
	}
	return next
}

func needsWeekdayFilter(recurrenceType string) bool {
	return recurrenceType == models.RecurrenceWeekly || recurrenceType == models.RecurrenceBiweekly
}

func containsWeekday(days []time.Weekday, d time.Weekday) bool {
	for _, day := range days {
		if day == d {
			return true
		}
	}
	return false
}

func convertZone(slots []*models.TimeSlot, tz string) ([]*models.TimeSlot, error) {
	if tz == "" || tz == "UTC" {
		return slots, nil
	}
	out := make([]*models.TimeSlot, len(slots))
	for i, slot := range slots {
		converted, err := timeutil.Convert(slot.StartTime, tz)
		if err != nil {
			return nil, err
		}
		cp := *slot
		cp.StartTime = converted
		cp.EndTime = slot.EndTime.In(converted.Location())
		out[i] = &cp
	}
	return out, nil
}
