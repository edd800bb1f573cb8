package models

import (
	"time"

	"github.com/google/uuid"
)

// Time slot status enum.
const (
	SlotStatusAvailable = "available"
	SlotStatusBooked    = "booked"
	SlotStatusBlocked   = "blocked"
	SlotStatusCancelled = "cancelled"
)

// Recurrence type enum.
const (
	RecurrenceNone     = "none"
	RecurrenceDaily    = "daily"
	RecurrenceWeekly   = "weekly"
	RecurrenceBiweekly = "biweekly"
	RecurrenceMonthly  = "monthly"
)

// RecurrenceRule describes how a recurring slot template expands into
// concrete slots. DaysOfWeek uses time.Weekday values (Sunday = 0) and only
// applies to weekly/biweekly recurrence. ExcludeDates holds "2006-01-02"
// dates in the rule's timezone.
type RecurrenceRule struct {
	DaysOfWeek   []time.Weekday `json:"days_of_week,omitempty"`
	ExcludeDates []string       `json:"exclude_dates,omitempty"`
	Timezone     string         `json:"timezone"`
}

// SlotSettings carries per-slot booking configuration. MaxStudents is 1 for
// one-on-one sessions, >1 for group classes.
type SlotSettings struct {
	MaxStudents int      `json:"max_students"`
	PriceCents  int64    `json:"price_cents,omitempty"`
	Subjects    []string `json:"subjects,omitempty"`
}

// TimeSlot is a tutor-owned bookable interval. Start/End are stored in UTC;
// the originating timezone lives on the recurrence rule.
type TimeSlot struct {
	ID                       uuid.UUID       `json:"id"`
	TutorID                  uuid.UUID       `json:"tutor_id"`
	StartTime                time.Time       `json:"start_time"`
	EndTime                  time.Time       `json:"end_time"`
	Status                   string          `json:"status"`
	DurationMinutes          int             `json:"duration_minutes"`
	RecurrenceType           string          `json:"recurrence_type"`
	RecurrenceEndDate        *time.Time      `json:"recurrence_end_date,omitempty"`
	RecurrenceRule           RecurrenceRule  `json:"recurrence_rule"`
	Settings                 SlotSettings    `json:"settings"`
	BookedBy                 []uuid.UUID     `json:"booked_by"`
	LastRecurrenceGeneration *time.Time      `json:"last_recurrence_generation,omitempty"`
	CreatedAt                time.Time       `json:"created_at"`
	UpdatedAt                time.Time       `json:"updated_at"`
}

// AtCapacity reports whether the slot has no booking room left.
func (s *TimeSlot) AtCapacity() bool {
	return len(s.BookedBy) >= s.Settings.MaxStudents
}

// HasStudent reports whether studentID already holds a claim on the slot.
func (s *TimeSlot) HasStudent(studentID uuid.UUID) bool {
	for _, id := range s.BookedBy {
		if id == studentID {
			return true
		}
	}
	return false
}

// Overlaps reports whether [s.StartTime, s.EndTime) intersects
// [start, end).
func (s *TimeSlot) Overlaps(start, end time.Time) bool {
	return s.StartTime.Before(end) && start.Before(s.EndTime)
}
