package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tutorhall/backend/internal/booking"
	"github.com/tutorhall/backend/internal/ledger"
	"github.com/tutorhall/backend/internal/models"
	"github.com/tutorhall/backend/internal/repository"
	"github.com/tutorhall/backend/internal/settlement"
	"github.com/tutorhall/backend/internal/slots"
)

// BookingService is the subset of the booking lifecycle needed by the handler.
type BookingService interface {
	CreateBooking(ctx context.Context, p booking.CreateParams) (*models.Booking, error)
	CompleteBooking(ctx context.Context, bookingID uuid.UUID) (*models.Booking, error)
	CancelBooking(ctx context.Context, bookingID, requesterID uuid.UUID, reason string) (*models.Booking, error)
	RescheduleBooking(ctx context.Context, bookingID, newSlotID uuid.UUID, reason string) (*models.Booking, error)
	StartAppeal(ctx context.Context, bookingID, appealID uuid.UUID) (*models.Booking, error)
	ResolveAppeal(ctx context.Context, bookingID uuid.UUID, refund bool) (*models.Booking, error)
	GetBooking(ctx context.Context, bookingID uuid.UUID) (*models.Booking, error)
	ListBookings(ctx context.Context, userID uuid.UUID, role string, f repository.BookingFilter) ([]*models.Booking, error)
}

// BookingHandler serves /v1/bookings endpoints.
type BookingHandler struct {
	Bookings BookingService
	Logger   *slog.Logger
}

type createBookingRequest struct {
	StudentID   string `json:"student_id"`
	CourseID    string `json:"course_id"`
	TimeSlotID  string `json:"time_slot_id"`
	AmountCents int64  `json:"amount_cents"`
}

// CreateBooking handles POST /v1/bookings.
// Claim -> charge -> ledger hold -> confirmed, atomically.
func (h *BookingHandler) CreateBooking(w http.ResponseWriter, r *http.Request) {
	var req createBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	studentID, err := uuid.Parse(req.StudentID)
	if err != nil {
		http.Error(w, `{"error":"invalid student_id"}`, http.StatusBadRequest)
		return
	}
	courseID, err := uuid.Parse(req.CourseID)
	if err != nil {
		http.Error(w, `{"error":"invalid course_id"}`, http.StatusBadRequest)
		return
	}
	slotID, err := uuid.Parse(req.TimeSlotID)
	if err != nil {
		http.Error(w, `{"error":"invalid time_slot_id"}`, http.StatusBadRequest)
		return
	}
	if req.AmountCents <= 0 {
		http.Error(w, `{"error":"amount_cents must be > 0"}`, http.StatusBadRequest)
		return
	}

	b, err := h.Bookings.CreateBooking(r.Context(), booking.CreateParams{
		StudentID:   studentID,
		CourseID:    courseID,
		TimeSlotID:  slotID,
		AmountCents: req.AmountCents,
	})
	if err != nil {
		h.writeBookingError(w, err, "create booking")
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

// GetBooking handles GET /v1/bookings/{id}.
func (h *BookingHandler) GetBooking(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, `{"error":"invalid booking id"}`, http.StatusBadRequest)
		return
	}
	b, err := h.Bookings.GetBooking(r.Context(), id)
	if err != nil {
		h.writeBookingError(w, err, "get booking")
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// ListBookings handles GET /v1/bookings.
// Query: user_id (required), role (student|tutor), status (comma separated),
// from, to (RFC 3339).
func (h *BookingHandler) ListBookings(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	userID, err := uuid.Parse(q.Get("user_id"))
	if err != nil {
		http.Error(w, `{"error":"invalid user_id"}`, http.StatusBadRequest)
		return
	}
	role := q.Get("role")
	if role == "" {
		role = "student"
	}
	if role != "student" && role != "tutor" {
		http.Error(w, `{"error":"role must be student or tutor"}`, http.StatusBadRequest)
		return
	}

	var f repository.BookingFilter
	if v := q.Get("status"); v != "" {
		f.Statuses = strings.Split(v, ",")
	}
	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			http.Error(w, `{"error":"invalid from, want RFC 3339"}`, http.StatusBadRequest)
			return
		}
		f.From = &t
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			http.Error(w, `{"error":"invalid to, want RFC 3339"}`, http.StatusBadRequest)
			return
		}
		f.To = &t
	}

	list, err := h.Bookings.ListBookings(r.Context(), userID, role, f)
	if err != nil {
		h.Logger.Error("list bookings", "user_id", userID, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// CompleteBooking handles POST /v1/bookings/{id}/complete.
func (h *BookingHandler) CompleteBooking(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, `{"error":"invalid booking id"}`, http.StatusBadRequest)
		return
	}
	b, err := h.Bookings.CompleteBooking(r.Context(), id)
	if err != nil {
		h.writeBookingError(w, err, "complete booking")
		return
	}
	writeJSON(w, http.StatusOK, b)
}

type cancelBookingRequest struct {
	RequesterID string `json:"requester_id"`
	Reason      string `json:"reason"`
}

// CancelBooking handles POST /v1/bookings/{id}/cancel.
func (h *BookingHandler) CancelBooking(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, `{"error":"invalid booking id"}`, http.StatusBadRequest)
		return
	}
	var req cancelBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	requesterID, err := uuid.Parse(req.RequesterID)
	if err != nil {
		http.Error(w, `{"error":"invalid requester_id"}`, http.StatusBadRequest)
		return
	}

	b, err := h.Bookings.CancelBooking(r.Context(), id, requesterID, req.Reason)
	if err != nil {
		h.writeBookingError(w, err, "cancel booking")
		return
	}
	writeJSON(w, http.StatusOK, b)
}

type rescheduleBookingRequest struct {
	NewTimeSlotID string `json:"new_time_slot_id"`
	Reason        string `json:"reason"`
}

// RescheduleBooking handles POST /v1/bookings/{id}/reschedule.
func (h *BookingHandler) RescheduleBooking(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, `{"error":"invalid booking id"}`, http.StatusBadRequest)
		return
	}
	var req rescheduleBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	newSlotID, err := uuid.Parse(req.NewTimeSlotID)
	if err != nil {
		http.Error(w, `{"error":"invalid new_time_slot_id"}`, http.StatusBadRequest)
		return
	}

	b, err := h.Bookings.RescheduleBooking(r.Context(), id, newSlotID, req.Reason)
	if err != nil {
		h.writeBookingError(w, err, "reschedule booking")
		return
	}
	writeJSON(w, http.StatusOK, b)
}

type startAppealRequest struct {
	AppealID string `json:"appeal_id"`
}

// StartAppeal handles POST /v1/bookings/{id}/appeal.
func (h *BookingHandler) StartAppeal(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, `{"error":"invalid booking id"}`, http.StatusBadRequest)
		return
	}
	var req startAppealRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	appealID := uuid.New()
	if req.AppealID != "" {
		appealID, err = uuid.Parse(req.AppealID)
		if err != nil {
			http.Error(w, `{"error":"invalid appeal_id"}`, http.StatusBadRequest)
			return
		}
	}

	b, err := h.Bookings.StartAppeal(r.Context(), id, appealID)
	if err != nil {
		h.writeBookingError(w, err, "start appeal")
		return
	}
	writeJSON(w, http.StatusOK, b)
}

type resolveAppealRequest struct {
	Refund bool `json:"refund"`
}

// ResolveAppeal handles POST /v1/bookings/{id}/appeal/resolve.
func (h *BookingHandler) ResolveAppeal(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, `{"error":"invalid booking id"}`, http.StatusBadRequest)
		return
	}
	var req resolveAppealRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}

	b, err := h.Bookings.ResolveAppeal(r.Context(), id, req.Refund)
	if err != nil {
		h.writeBookingError(w, err, "resolve appeal")
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// writeBookingError maps booking lifecycle errors onto stable HTTP statuses.
func (h *BookingHandler) writeBookingError(w http.ResponseWriter, err error, op string) {
	switch {
	case errors.Is(err, booking.ErrBookingNotFound):
		http.Error(w, `{"error":"booking not found"}`, http.StatusNotFound)
	case errors.Is(err, slots.ErrSlotNotFound):
		http.Error(w, `{"error":"slot not found"}`, http.StatusNotFound)
	case errors.Is(err, slots.ErrSlotUnavailable),
		errors.Is(err, slots.ErrAlreadyBooked),
		errors.Is(err, slots.ErrBookingConflict):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	case errors.Is(err, booking.ErrCancellationWindow):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": "booking starts within 24 hours"})
	case errors.Is(err, booking.ErrInvalidState), errors.Is(err, booking.ErrAppealPending):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	case errors.Is(err, settlement.ErrAlreadySettled):
		writeJSON(w, http.StatusConflict, map[string]string{"error": "funds already settled"})
	case errors.Is(err, ledger.ErrInsufficientFunds):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": "insufficient funds"})
	default:
		h.Logger.Error(op, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
	}
}
