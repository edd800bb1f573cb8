package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/tutorhall/backend/internal/booking"
	"github.com/tutorhall/backend/internal/ledger"
	"github.com/tutorhall/backend/internal/models"
	"github.com/tutorhall/backend/internal/repository"
	"github.com/tutorhall/backend/internal/settlement"
	"github.com/tutorhall/backend/internal/slots"
)

// ---------------------------------------------------------------------------
// Mocks
// ---------------------------------------------------------------------------

// --- BookingService mock: canned booking or error per call ---

type mockBookingService struct {
	booking   *models.Booking
	err       error
	created   []booking.CreateParams
	cancelled []uuid.UUID
}

func (m *mockBookingService) CreateBooking(_ context.Context, p booking.CreateParams) (*models.Booking, error) {
	m.created = append(m.created, p)
	return m.booking, m.err
}

func (m *mockBookingService) CompleteBooking(context.Context, uuid.UUID) (*models.Booking, error) {
	return m.booking, m.err
}

func (m *mockBookingService) CancelBooking(_ context.Context, bookingID, _ uuid.UUID, _ string) (*models.Booking, error) {
	m.cancelled = append(m.cancelled, bookingID)
	return m.booking, m.err
}

func (m *mockBookingService) RescheduleBooking(context.Context, uuid.UUID, uuid.UUID, string) (*models.Booking, error) {
	return m.booking, m.err
}

func (m *mockBookingService) StartAppeal(context.Context, uuid.UUID, uuid.UUID) (*models.Booking, error) {
	return m.booking, m.err
}

func (m *mockBookingService) ResolveAppeal(context.Context, uuid.UUID, bool) (*models.Booking, error) {
	return m.booking, m.err
}

func (m *mockBookingService) GetBooking(context.Context, uuid.UUID) (*models.Booking, error) {
	return m.booking, m.err
}

func (m *mockBookingService) ListBookings(context.Context, uuid.UUID, string, repository.BookingFilter) ([]*models.Booking, error) {
	if m.err != nil {
		return nil, m.err
	}
	return []*models.Booking{m.booking}, nil
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func newBookingHandler(svc *mockBookingService) *BookingHandler {
	return &BookingHandler{Bookings: svc, Logger: slog.Default()}
}

func sampleBooking() *models.Booking {
	return &models.Booking{
		ID:          uuid.New(),
		StudentID:   uuid.New(),
		TutorID:     uuid.New(),
		CourseID:    uuid.New(),
		TimeSlotID:  uuid.New(),
		AmountCents: 10000,
		Status:      models.BookingStatusConfirmed,
	}
}

func postJSON(path, body string) *http.Request {
	return httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
}

// =====================================================================
// POST /v1/bookings
// =====================================================================

func TestCreateBooking_ValidPayload(t *testing.T) {
	svc := &mockBookingService{booking: sampleBooking()}
	h := newBookingHandler(svc)

	body := fmt.Sprintf(`{
		"student_id": %q,
		"course_id": %q,
		"time_slot_id": %q,
		"amount_cents": 10000
	}`, uuid.New(), uuid.New(), uuid.New())

	rec := httptest.NewRecorder()
	h.CreateBooking(rec, postJSON("/v1/bookings", body))

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(svc.created) != 1 {
		t.Fatalf("service called %d times, want 1", len(svc.created))
	}
	if svc.created[0].AmountCents != 10000 {
		t.Errorf("amount %d, want 10000", svc.created[0].AmountCents)
	}

	var resp models.Booking
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ID != svc.booking.ID {
		t.Error("response does not carry the created booking")
	}
}

func TestCreateBooking_BadAmount(t *testing.T) {
	svc := &mockBookingService{booking: sampleBooking()}
	h := newBookingHandler(svc)

	body := fmt.Sprintf(`{
		"student_id": %q,
		"course_id": %q,
		"time_slot_id": %q,
		"amount_cents": 0
	}`, uuid.New(), uuid.New(), uuid.New())

	rec := httptest.NewRecorder()
	h.CreateBooking(rec, postJSON("/v1/bookings", body))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(svc.created) != 0 {
		t.Error("service called despite invalid payload")
	}
}

func TestCreateBooking_ErrorMapping(t *testing.T) {
	for _, tc := range []struct {
		name string
		err  error
		want int
	}{
		{"slot taken", slots.ErrSlotUnavailable, http.StatusConflict},
		{"overlap", slots.ErrBookingConflict, http.StatusConflict},
		{"duplicate claim", slots.ErrAlreadyBooked, http.StatusConflict},
		{"slot missing", slots.ErrSlotNotFound, http.StatusNotFound},
		{"broke student", ledger.ErrInsufficientFunds, http.StatusUnprocessableEntity},
	} {
		t.Run(tc.name, func(t *testing.T) {
			h := newBookingHandler(&mockBookingService{err: tc.err})

			body := fmt.Sprintf(`{
				"student_id": %q,
				"course_id": %q,
				"time_slot_id": %q,
				"amount_cents": 10000
			}`, uuid.New(), uuid.New(), uuid.New())

			rec := httptest.NewRecorder()
			h.CreateBooking(rec, postJSON("/v1/bookings", body))

			if rec.Code != tc.want {
				t.Fatalf("expected %d, got %d: %s", tc.want, rec.Code, rec.Body.String())
			}
		})
	}
}

// =====================================================================
// POST /v1/bookings/{id}/cancel
// =====================================================================

func TestCancelBooking_OK(t *testing.T) {
	b := sampleBooking()
	b.Status = models.BookingStatusCancelled
	svc := &mockBookingService{booking: b}
	h := newBookingHandler(svc)

	req := postJSON(fmt.Sprintf("/v1/bookings/%s/cancel", b.ID),
		fmt.Sprintf(`{"requester_id": %q, "reason": "plans changed"}`, b.StudentID))
	req.SetPathValue("id", b.ID.String())
	rec := httptest.NewRecorder()

	h.CancelBooking(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(svc.cancelled) != 1 || svc.cancelled[0] != b.ID {
		t.Errorf("cancelled %v, want [%s]", svc.cancelled, b.ID)
	}
}

func TestCancelBooking_InsideWindow(t *testing.T) {
	h := newBookingHandler(&mockBookingService{err: booking.ErrCancellationWindow})
	id := uuid.New()

	req := postJSON(fmt.Sprintf("/v1/bookings/%s/cancel", id),
		fmt.Sprintf(`{"requester_id": %q}`, uuid.New()))
	req.SetPathValue("id", id.String())
	rec := httptest.NewRecorder()

	h.CancelBooking(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestCancelBooking_BadID(t *testing.T) {
	h := newBookingHandler(&mockBookingService{booking: sampleBooking()})

	req := postJSON("/v1/bookings/nope/cancel", `{"requester_id":"x"}`)
	req.SetPathValue("id", "nope")
	rec := httptest.NewRecorder()

	h.CancelBooking(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

// =====================================================================
// POST /v1/bookings/{id}/complete and appeal endpoints
// =====================================================================

func TestCompleteBooking_InvalidState(t *testing.T) {
	h := newBookingHandler(&mockBookingService{err: booking.ErrInvalidState})
	id := uuid.New()

	req := postJSON(fmt.Sprintf("/v1/bookings/%s/complete", id), "")
	req.SetPathValue("id", id.String())
	rec := httptest.NewRecorder()

	h.CompleteBooking(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestStartAppeal_AlreadySettled(t *testing.T) {
	h := newBookingHandler(&mockBookingService{err: settlement.ErrAlreadySettled})
	id := uuid.New()

	req := postJSON(fmt.Sprintf("/v1/bookings/%s/appeal", id), `{}`)
	req.SetPathValue("id", id.String())
	rec := httptest.NewRecorder()

	h.StartAppeal(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestResolveAppeal_OK(t *testing.T) {
	b := sampleBooking()
	h := newBookingHandler(&mockBookingService{booking: b})

	req := postJSON(fmt.Sprintf("/v1/bookings/%s/appeal/resolve", b.ID), `{"refund": true}`)
	req.SetPathValue("id", b.ID.String())
	rec := httptest.NewRecorder()

	h.ResolveAppeal(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

// =====================================================================
// GET /v1/bookings
// =====================================================================

func TestListBookings_RequiresUserID(t *testing.T) {
	h := newBookingHandler(&mockBookingService{booking: sampleBooking()})

	req := httptest.NewRequest(http.MethodGet, "/v1/bookings", nil)
	rec := httptest.NewRecorder()

	h.ListBookings(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestListBookings_OK(t *testing.T) {
	b := sampleBooking()
	h := newBookingHandler(&mockBookingService{booking: b})

	url := fmt.Sprintf("/v1/bookings?user_id=%s&role=student&status=confirmed,completed", b.StudentID)
	req := httptest.NewRequest(http.MethodGet, url, nil)
	rec := httptest.NewRecorder()

	h.ListBookings(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var list []*models.Booking
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("%d bookings, want 1", len(list))
	}
}
