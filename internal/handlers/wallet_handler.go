package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/tutorhall/backend/internal/models"
	"github.com/tutorhall/backend/internal/repository"
)

// LedgerService is the subset of the ledger needed by the handler.
type LedgerService interface {
	GetBalance(ctx context.Context, userID uuid.UUID) (*models.Wallet, error)
	ListTransactions(ctx context.Context, userID uuid.UUID, f repository.TransactionFilter) ([]*models.Transaction, error)
}

// WalletHandler serves /v1/wallets endpoints.
type WalletHandler struct {
	Ledger LedgerService
	Logger *slog.Logger
}

// GetWallet handles GET /v1/wallets/{user_id}.
func (h *WalletHandler) GetWallet(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(r.PathValue("user_id"))
	if err != nil {
		http.Error(w, `{"error":"invalid user_id"}`, http.StatusBadRequest)
		return
	}
	wallet, err := h.Ledger.GetBalance(r.Context(), userID)
	if err != nil {
		h.Logger.Error("get wallet", "user_id", userID, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, wallet)
}

// ListTransactions handles GET /v1/wallets/{user_id}/transactions.
// Query: type, funds_status, status, from, to (RFC 3339).
func (h *WalletHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(r.PathValue("user_id"))
	if err != nil {
		http.Error(w, `{"error":"invalid user_id"}`, http.StatusBadRequest)
		return
	}

	q := r.URL.Query()
	f := repository.TransactionFilter{
		Type:        q.Get("type"),
		FundsStatus: q.Get("funds_status"),
		Status:      q.Get("status"),
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

	list, err := h.Ledger.ListTransactions(r.Context(), userID, f)
	if err != nil {
		h.Logger.Error("list transactions", "user_id", userID, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, list)
}
