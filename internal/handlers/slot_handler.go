package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tutorhall/backend/internal/models"
	"github.com/tutorhall/backend/internal/slots"
)

// SlotService is the subset of the slot store needed by the handler.
type SlotService interface {
	Generate(ctx context.Context, p slots.GenerateParams) ([]*models.TimeSlot, error)
	FindAvailable(ctx context.Context, f slots.Filter) ([]*models.TimeSlot, error)
	GetByID(ctx context.Context, slotID uuid.UUID) (*models.TimeSlot, error)
	Claim(ctx context.Context, slotID, studentID uuid.UUID) (*models.TimeSlot, error)
	Release(ctx context.Context, slotID, userID uuid.UUID, isTutor bool) (*models.TimeSlot, error)
	Block(ctx context.Context, slotID, tutorID uuid.UUID) (*models.TimeSlot, error)
}

// SlotHandler serves /v1/slots endpoints.
type SlotHandler struct {
	Slots  SlotService
	Logger *slog.Logger
}

type generateSlotsRequest struct {
	TutorID           string   `json:"tutor_id"`
	StartDate         string   `json:"start_date"`
	EndDate           string   `json:"end_date"`
	DayStart          string   `json:"day_start"`
	DayEnd            string   `json:"day_end"`
	DurationMinutes   int      `json:"duration_minutes"`
	Timezone          string   `json:"timezone"`
	RecurrenceType    string   `json:"recurrence_type"`
	DaysOfWeek        []int    `json:"days_of_week"`
	ExcludeDates      []string `json:"exclude_dates"`
	RecurrenceEndDate string   `json:"recurrence_end_date"`
	MaxStudents       int      `json:"max_students"`
	PriceCents        int64    `json:"price_cents"`
	Subjects          []string `json:"subjects"`
}

// GenerateSlots handles POST /v1/slots.
func (h *SlotHandler) GenerateSlots(w http.ResponseWriter, r *http.Request) {
	var req generateSlotsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	tutorID, err := uuid.Parse(req.TutorID)
	if err != nil {
		http.Error(w, `{"error":"invalid tutor_id"}`, http.StatusBadRequest)
		return
	}
	startDate, err := time.Parse("2006-01-02", req.StartDate)
	if err != nil {
		http.Error(w, `{"error":"invalid start_date, want YYYY-MM-DD"}`, http.StatusBadRequest)
		return
	}
	endDate, err := time.Parse("2006-01-02", req.EndDate)
	if err != nil {
		http.Error(w, `{"error":"invalid end_date, want YYYY-MM-DD"}`, http.StatusBadRequest)
		return
	}
	if req.DurationMinutes <= 0 {
		http.Error(w, `{"error":"duration_minutes must be > 0"}`, http.StatusBadRequest)
		return
	}

	var recurrenceEnd *time.Time
	if req.RecurrenceEndDate != "" {
		t, err := time.Parse("2006-01-02", req.RecurrenceEndDate)
		if err != nil {
			http.Error(w, `{"error":"invalid recurrence_end_date, want YYYY-MM-DD"}`, http.StatusBadRequest)
			return
		}
		recurrenceEnd = &t
	}
	days := make([]time.Weekday, 0, len(req.DaysOfWeek))
	for _, d := range req.DaysOfWeek {
		if d < 0 || d > 6 {
			http.Error(w, `{"error":"days_of_week entries must be 0 (Sunday) through 6"}`, http.StatusBadRequest)
			return
		}
		days = append(days, time.Weekday(d))
	}

	generated, err := h.Slots.Generate(r.Context(), slots.GenerateParams{
		TutorID:           tutorID,
		StartDate:         startDate,
		EndDate:           endDate,
		DayStart:          req.DayStart,
		DayEnd:            req.DayEnd,
		DurationMinutes:   req.DurationMinutes,
		Timezone:          req.Timezone,
		RecurrenceType:    req.RecurrenceType,
		DaysOfWeek:        days,
		ExcludeDates:      req.ExcludeDates,
		RecurrenceEndDate: recurrenceEnd,
		Settings: models.SlotSettings{
			MaxStudents: req.MaxStudents,
			PriceCents:  req.PriceCents,
			Subjects:    req.Subjects,
		},
	})
	if err != nil {
		h.Logger.Error("generate slots", "tutor_id", tutorID, "error", err)
		http.Error(w, `{"error":"slot generation failed"}`, http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"count": len(generated), "slots": generated})
}

// ListAvailable handles GET /v1/slots.
// Query: tutor_id, from, to (RFC 3339), duration_minutes, subjects (comma separated), timezone.
func (h *SlotHandler) ListAvailable(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := slots.Filter{Timezone: q.Get("timezone")}

	if v := q.Get("tutor_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			http.Error(w, `{"error":"invalid tutor_id"}`, http.StatusBadRequest)
			return
		}
		f.TutorID = &id
	}
	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			http.Error(w, `{"error":"invalid from, want RFC 3339"}`, http.StatusBadRequest)
			return
		}
		f.From = t
	} else {
		f.From = time.Now()
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			http.Error(w, `{"error":"invalid to, want RFC 3339"}`, http.StatusBadRequest)
			return
		}
		f.To = t
	}
	if v := q.Get("duration_minutes"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, `{"error":"invalid duration_minutes"}`, http.StatusBadRequest)
			return
		}
		f.DurationMinutes = n
	}
	if v := q.Get("subjects"); v != "" {
		f.Subjects = strings.Split(v, ",")
	}

	list, err := h.Slots.FindAvailable(r.Context(), f)
	if err != nil {
		h.Logger.Error("list available slots", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// GetSlot handles GET /v1/slots/{id}.
func (h *SlotHandler) GetSlot(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, `{"error":"invalid slot id"}`, http.StatusBadRequest)
		return
	}
	slot, err := h.Slots.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, slots.ErrSlotNotFound) {
			http.Error(w, `{"error":"slot not found"}`, http.StatusNotFound)
			return
		}
		h.Logger.Error("get slot", "slot_id", id, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, slot)
}

type claimSlotRequest struct {
	StudentID string `json:"student_id"`
}

// ClaimSlot handles POST /v1/slots/{id}/claim. Booking creation claims
// in-transaction on its own; this endpoint reserves a slot without payment.
func (h *SlotHandler) ClaimSlot(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, `{"error":"invalid slot id"}`, http.StatusBadRequest)
		return
	}
	var req claimSlotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	studentID, err := uuid.Parse(req.StudentID)
	if err != nil {
		http.Error(w, `{"error":"invalid student_id"}`, http.StatusBadRequest)
		return
	}

	slot, err := h.Slots.Claim(r.Context(), id, studentID)
	if err != nil {
		h.writeSlotError(w, id, err, "claim slot")
		return
	}
	writeJSON(w, http.StatusOK, slot)
}

type releaseSlotRequest struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

// ReleaseSlot handles POST /v1/slots/{id}/release. Role "tutor" cancels the
// slot; role "student" withdraws the claim.
func (h *SlotHandler) ReleaseSlot(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, `{"error":"invalid slot id"}`, http.StatusBadRequest)
		return
	}
	var req releaseSlotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		http.Error(w, `{"error":"invalid user_id"}`, http.StatusBadRequest)
		return
	}
	if req.Role != "tutor" && req.Role != "student" {
		http.Error(w, `{"error":"role must be tutor or student"}`, http.StatusBadRequest)
		return
	}

	slot, err := h.Slots.Release(r.Context(), id, userID, req.Role == "tutor")
	if err != nil {
		h.writeSlotError(w, id, err, "release slot")
		return
	}
	writeJSON(w, http.StatusOK, slot)
}

type blockSlotRequest struct {
	TutorID string `json:"tutor_id"`
}

// BlockSlot handles POST /v1/slots/{id}/block.
func (h *SlotHandler) BlockSlot(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, `{"error":"invalid slot id"}`, http.StatusBadRequest)
		return
	}
	var req blockSlotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	tutorID, err := uuid.Parse(req.TutorID)
	if err != nil {
		http.Error(w, `{"error":"invalid tutor_id"}`, http.StatusBadRequest)
		return
	}

	slot, err := h.Slots.Block(r.Context(), id, tutorID)
	if err != nil {
		h.writeSlotError(w, id, err, "block slot")
		return
	}
	writeJSON(w, http.StatusOK, slot)
}

// writeSlotError maps slot store errors onto stable HTTP statuses.
func (h *SlotHandler) writeSlotError(w http.ResponseWriter, slotID uuid.UUID, err error, op string) {
	switch {
	case errors.Is(err, slots.ErrSlotNotFound):
		http.Error(w, `{"error":"slot not found"}`, http.StatusNotFound)
	case errors.Is(err, slots.ErrSlotUnavailable):
		writeJSON(w, http.StatusConflict, map[string]string{"error": "slot is not available"})
	case errors.Is(err, slots.ErrAlreadyBooked):
		writeJSON(w, http.StatusConflict, map[string]string{"error": "student already booked this slot"})
	case errors.Is(err, slots.ErrBookingConflict):
		writeJSON(w, http.StatusConflict, map[string]string{"error": "student has a conflicting booking"})
	case errors.Is(err, slots.ErrNotSlotOwner):
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "slot belongs to another tutor"})
	case errors.Is(err, slots.ErrNotBooked):
		writeJSON(w, http.StatusConflict, map[string]string{"error": "student has not booked this slot"})
	default:
		h.Logger.Error(op, "slot_id", slotID, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
