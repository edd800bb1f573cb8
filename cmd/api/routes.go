package main

import (
	"log/slog"
	"net/http"

	"github.com/tutorhall/backend/internal/booking"
	"github.com/tutorhall/backend/internal/handlers"
	"github.com/tutorhall/backend/internal/ledger"
	"github.com/tutorhall/backend/internal/slots"
)

// RegisterV1Routes adds the /v1/ scheduling and wallet endpoints to the mux.
func RegisterV1Routes(
	mux *http.ServeMux,
	slotSvc *slots.Service,
	bookingSvc *booking.Service,
	ledgerSvc *ledger.Service,
	logger *slog.Logger,
) {
	sh := &handlers.SlotHandler{Slots: slotSvc, Logger: logger}
	bh := &handlers.BookingHandler{Bookings: bookingSvc, Logger: logger}
	wh := &handlers.WalletHandler{Ledger: ledgerSvc, Logger: logger}

	mux.HandleFunc("POST /v1/slots", sh.GenerateSlots)
	mux.HandleFunc("GET /v1/slots", sh.ListAvailable)
	mux.HandleFunc("GET /v1/slots/{id}", sh.GetSlot)
	mux.HandleFunc("POST /v1/slots/{id}/claim", sh.ClaimSlot)
	mux.HandleFunc("POST /v1/slots/{id}/release", sh.ReleaseSlot)
	mux.HandleFunc("POST /v1/slots/{id}/block", sh.BlockSlot)

	mux.HandleFunc("POST /v1/bookings", bh.CreateBooking)
	mux.HandleFunc("GET /v1/bookings", bh.ListBookings)
	mux.HandleFunc("GET /v1/bookings/{id}", bh.GetBooking)
	mux.HandleFunc("POST /v1/bookings/{id}/complete", bh.CompleteBooking)
	mux.HandleFunc("POST /v1/bookings/{id}/cancel", bh.CancelBooking)
	mux.HandleFunc("POST /v1/bookings/{id}/reschedule", bh.RescheduleBooking)
	mux.HandleFunc("POST /v1/bookings/{id}/appeal", bh.StartAppeal)
	mux.HandleFunc("POST /v1/bookings/{id}/appeal/resolve", bh.ResolveAppeal)

	mux.HandleFunc("GET /v1/wallets/{user_id}", wh.GetWallet)
	mux.HandleFunc("GET /v1/wallets/{user_id}/transactions", wh.ListTransactions)

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
}
