package models

import (
	"time"

	"github.com/google/uuid"
)

// Booking status enum.
const (
	BookingStatusPending   = "pending"
	BookingStatusConfirmed = "confirmed"
	BookingStatusCompleted = "completed"
	BookingStatusCancelled = "cancelled"
	BookingStatusExpired   = "expired"
)

// Booking is a student's claim on one slot for one course. AmountCents must
// match the ledger hold recorded for the booking. OriginalTimeSlotID is set
// when a booking has been rescheduled onto a different slot.
type Booking struct {
	ID                 uuid.UUID  `json:"id"`
	StudentID          uuid.UUID  `json:"student_id"`
	TutorID            uuid.UUID  `json:"tutor_id"`
	CourseID           uuid.UUID  `json:"course_id"`
	TimeSlotID         uuid.UUID  `json:"time_slot_id"`
	OriginalTimeSlotID *uuid.UUID `json:"original_time_slot_id,omitempty"`
	AmountCents        int64      `json:"amount_cents"`
	Status             string     `json:"status"`
	ChargeRef          string     `json:"charge_ref,omitempty"`
	CancelReason       string     `json:"cancel_reason,omitempty"`
	RescheduleReason   string     `json:"reschedule_reason,omitempty"`
	AppealID           *uuid.UUID `json:"appeal_id,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}
