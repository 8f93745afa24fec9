package ledger

import (
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/neuroscan/backend/internal/auth"
	"github.com/neuroscan/backend/internal/models"
)

type BalanceResponse struct {
	UserID  string  `json:"user_id"`
	Balance float64 `json:"balance"`
}

type TopUpRequest struct {
	Amount float64 `json:"amount"`
}

type TransactionResponse struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	JobID     *string   `json:"job_id,omitempty"`
	Kind      string    `json:"kind"`
	Amount    float64   `json:"amount"`
	CreatedAt time.Time `json:"created_at"`
}

type Handler struct {
	svc     Service
	authSvc auth.Service
	log     *slog.Logger
}

func NewHandler(svc Service, authSvc auth.Service, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{svc: svc, authSvc: authSvc, log: log}
}

// GetBalance handles GET /balance.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID, err := h.userIDFromRequest(r)
	if err != nil || userID == uuid.Nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	cents, err := h.svc.CurrentBalance(r.Context(), userID)
	if err != nil {
		h.log.Error("read balance failed", "error", err)
		http.Error(w, "read balance failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(BalanceResponse{UserID: userID.String(), Balance: float64(cents) / 100})
}

// TopUp handles POST /balance/topup.
func (h *Handler) TopUp(w http.ResponseWriter, r *http.Request) {
	userID, err := h.userIDFromRequest(r)
	if err != nil || userID == uuid.Nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var req TopUpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	cents := int64(math.Round(req.Amount * 100))
	newBalance, err := h.svc.TopUp(r.Context(), userID, cents)
	if err != nil {
		if errors.Is(err, ErrInvalidAmount) {
			http.Error(w, "amount must be positive", http.StatusBadRequest)
			return
		}
		h.log.Error("topup failed", "error", err)
		http.Error(w, "topup failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(BalanceResponse{UserID: userID.String(), Balance: float64(newBalance) / 100})
}

// ListTransactions handles GET /transactions, newest first.
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	userID, err := h.userIDFromRequest(r)
	if err != nil || userID == uuid.Nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	list, err := h.svc.ListTransactions(r.Context(), userID)
	if err != nil {
		h.log.Error("list transactions failed", "error", err)
		http.Error(w, "list transactions failed", http.StatusInternalServerError)
		return
	}
	resp := make([]TransactionResponse, 0, len(list))
	for _, t := range list {
		resp = append(resp, txToResponse(t))
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (h *Handler) userIDFromRequest(r *http.Request) (uuid.UUID, error) {
	authz := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(authz, prefix) {
		return uuid.Nil, nil
	}
	token := strings.TrimSpace(authz[len(prefix):])
	if token == "" {
		return uuid.Nil, nil
	}
	return h.authSvc.ValidateToken(r.Context(), token)
}

func txToResponse(t *models.Transaction) TransactionResponse {
	out := TransactionResponse{
		ID:        t.ID.String(),
		UserID:    t.UserID.String(),
		Kind:      t.Kind,
		Amount:    float64(t.AmountCents) / 100,
		CreatedAt: t.CreatedAt,
	}
	if t.JobID != nil {
		s := t.JobID.String()
		out.JobID = &s
	}
	return out
}
