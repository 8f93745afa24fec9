package jobs

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/neuroscan/backend/internal/auth"
	"github.com/neuroscan/backend/internal/ledger"
	"github.com/neuroscan/backend/internal/metrics"
	"github.com/neuroscan/backend/internal/models"
)

// Uploader persists incoming assets before the job is created.
type Uploader interface {
	SaveImage(userID uuid.UUID, data []byte) (string, error)
	SaveUpload(userID uuid.UUID, filename string, r io.Reader) (string, error)
}

// Request body caps. Oversize uploads are rejected outright, before any
// debit can happen.
const (
	maxImageUploadBytes = 32 << 20
	maxScanUploadBytes  = 256 << 20

	multipartMemoryBytes = 32 << 20
)

// Request/response structs use snake_case JSON, matching the viewer client.

type PredictImageRequest struct {
	Image string `json:"image"`
}

type SubmitResponse struct {
	JobID           string  `json:"job_id"`
	Status          string  `json:"status"`
	CreditsSpent    float64 `json:"credits_spent"`
	OriginalScanURL string  `json:"original_scan_url,omitempty"`
}

type JobStatusResponse struct {
	JobID           string    `json:"job_id"`
	Kind            string    `json:"kind"`
	Status          string    `json:"status"`
	CreditsSpent    float64   `json:"credits_spent"`
	AttemptCount    int       `json:"attempt_count"`
	ImagePrediction string    `json:"image_prediction,omitempty"`
	BrainMaskURL    string    `json:"brain_mask_url,omitempty"`
	AneurysmMaskURL string    `json:"aneurysm_mask_url,omitempty"`
	OriginalScanURL string    `json:"original_scan_url,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

type Handler struct {
	svc      Service
	authSvc  auth.Service
	uploader Uploader
	log      *slog.Logger
}

func NewHandler(svc Service, authSvc auth.Service, uploader Uploader, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{svc: svc, authSvc: authSvc, uploader: uploader, log: log}
}

// SubmitImage handles POST /predict: a base64 2D image producing one mask.
func (h *Handler) SubmitImage(w http.ResponseWriter, r *http.Request) {
	userID, err := h.userIDFromRequest(r)
	if err != nil || userID == uuid.Nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxImageUploadBytes)
	var req PredictImageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if isBodyTooLarge(err) {
			http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	data, err := base64.StdEncoding.DecodeString(req.Image)
	if err != nil || len(data) == 0 {
		http.Error(w, "invalid image data", http.StatusBadRequest)
		return
	}
	inputRef, err := h.uploader.SaveImage(userID, data)
	if err != nil {
		h.log.Error("save image upload failed", "error", err)
		http.Error(w, "upload failed", http.StatusInternalServerError)
		return
	}
	h.submit(w, r, userID, models.JobKindImagePredict, inputRef, "")
}

// SubmitScan handles POST /predict/3d-scan: a multipart NIfTI upload
// producing a brain mask and an aneurysm mask.
func (h *Handler) SubmitScan(w http.ResponseWriter, r *http.Request) {
	userID, err := h.userIDFromRequest(r)
	if err != nil || userID == uuid.Nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxScanUploadBytes)
	if err := r.ParseMultipartForm(multipartMemoryBytes); err != nil {
		if isBodyTooLarge(err) {
			http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "invalid multipart body", http.StatusBadRequest)
		return
	}
	file, header, err := r.FormFile("scan")
	if err != nil {
		http.Error(w, "missing scan file", http.StatusBadRequest)
		return
	}
	defer file.Close()

	filename := header.Filename
	if filename == "" {
		filename = "scan.nii.gz"
	}
	if !strings.HasSuffix(filename, ".nii") && !strings.HasSuffix(filename, ".nii.gz") {
		http.Error(w, "invalid file format, please upload a NIfTI file (.nii or .nii.gz)", http.StatusBadRequest)
		return
	}
	inputRef, err := h.uploader.SaveUpload(userID, filename, file)
	if err != nil {
		h.log.Error("save scan upload failed", "error", err)
		http.Error(w, "upload failed", http.StatusInternalServerError)
		return
	}
	h.submit(w, r, userID, models.JobKindScanPredict, inputRef, "/uploads/"+inputRef)
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request, userID uuid.UUID, kind, inputRef, scanURL string) {
	job, err := h.svc.SubmitPrediction(r.Context(), userID, kind, inputRef)
	if err != nil {
		if errors.Is(err, ledger.ErrInsufficientBalance) {
			metrics.InsufficientBalanceRejections.Inc()
			http.Error(w, "insufficient balance", http.StatusBadRequest)
			return
		}
		h.log.Error("submit prediction failed", "kind", kind, "error", err)
		http.Error(w, "submission failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(SubmitResponse{
		JobID:           job.ID.String(),
		Status:          job.Status,
		CreditsSpent:    credits(job.CostCents),
		OriginalScanURL: scanURL,
	})
}

// GetJob handles GET /jobs/{id}.
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	userID, err := h.userIDFromRequest(r)
	if err != nil || userID == uuid.Nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	jobID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, "invalid job id", http.StatusBadRequest)
		return
	}
	job, err := h.svc.GetJob(r.Context(), jobID)
	if err != nil || job.UserID != userID {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(jobToResponse(job))
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

func jobToResponse(j *models.Job) JobStatusResponse {
	out := JobStatusResponse{
		JobID:        j.ID.String(),
		Kind:         j.Kind,
		Status:       j.Status,
		CreditsSpent: credits(j.CostCents),
		AttemptCount: j.AttemptCount,
		CreatedAt:    j.CreatedAt,
		UpdatedAt:    j.UpdatedAt,
	}
	if j.Status != models.JobStatusCompleted {
		return out
	}
	switch j.Kind {
	case models.JobKindImagePredict:
		if len(j.ResultRefs) > 0 {
			out.ImagePrediction = "/downloads/" + j.ResultRefs[0]
		}
	case models.JobKindScanPredict:
		if len(j.ResultRefs) > 1 {
			out.BrainMaskURL = "/downloads/" + j.ResultRefs[0]
			out.AneurysmMaskURL = "/downloads/" + j.ResultRefs[1]
			out.OriginalScanURL = "/uploads/" + j.InputRef
		}
	}
	return out
}

func credits(cents int64) float64 {
	return float64(cents) / 100
}

func isBodyTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr)
}
