// Package dashboard serves the read-only account views the viewer frontend
// renders: the profile with its balance and the job history.
package dashboard

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/neuroscan/backend/internal/auth"
	"github.com/neuroscan/backend/internal/models"
)

// UserStore reads user profiles.
type UserStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// JobLister reads a user's job history.
type JobLister interface {
	ListByUser(ctx context.Context, userID uuid.UUID) ([]*models.Job, error)
}

type MeResponse struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Balance   float64   `json:"balance"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

type JobSummary struct {
	JobID        string    `json:"job_id"`
	Kind         string    `json:"kind"`
	Status       string    `json:"status"`
	CreditsSpent float64   `json:"credits_spent"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type Handler struct {
	authSvc auth.Service
	users   UserStore
	jobs    JobLister
	log     *slog.Logger
}

func NewHandler(authSvc auth.Service, users UserStore, jobs JobLister, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{authSvc: authSvc, users: users, jobs: jobs, log: log}
}

// GetMe handles GET /account/me.
func (h *Handler) GetMe(w http.ResponseWriter, r *http.Request) {
	userID, err := h.userIDFromRequest(r)
	if err != nil || userID == uuid.Nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	user, err := h.users.GetByID(r.Context(), userID)
	if err != nil {
		h.log.Error("get profile failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if user == nil {
		http.Error(w, "account not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, MeResponse{
		ID:        user.ID.String(),
		Email:     user.Email,
		Balance:   float64(user.BalanceCents) / 100,
		IsActive:  user.IsActive,
		CreatedAt: user.CreatedAt,
	})
}

// ListJobs handles GET /jobs, newest first.
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	userID, err := h.userIDFromRequest(r)
	if err != nil || userID == uuid.Nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	jobs, err := h.jobs.ListByUser(r.Context(), userID)
	if err != nil {
		h.log.Error("list jobs failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	out := make([]JobSummary, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, JobSummary{
			JobID:        j.ID.String(),
			Kind:         j.Kind,
			Status:       j.Status,
			CreditsSpent: float64(j.CostCents) / 100,
			CreatedAt:    j.CreatedAt,
			UpdatedAt:    j.UpdatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
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

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
