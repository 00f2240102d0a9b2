package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/jobproof/jobproof/internal/middleware"
	"github.com/jobproof/jobproof/internal/seal"
	"github.com/jobproof/jobproof/internal/signature"
)

// SealRequest represents the request body for POST /jobs/{id}/seal. The
// acting user's ID comes from the authenticated context; the body carries
// the display identity recorded on the seal.
type SealRequest struct {
	Name     string `json:"name"`
	Platform string `json:"platform,omitempty"`
}

// SealHandlers holds dependencies for sealing HTTP handlers.
type SealHandlers struct {
	coordinator *seal.Coordinator
}

// NewSealHandlers creates a new SealHandlers instance.
func NewSealHandlers(coordinator *seal.Coordinator) *SealHandlers {
	return &SealHandlers{coordinator: coordinator}
}

// Create handles POST /jobs/{id}/seal - seals the job's evidence bundle.
func (h *SealHandlers) Create(w http.ResponseWriter, r *http.Request, jobID string) {
	var req SealRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON in request body")
		return
	}

	actor := seal.ActingUser{
		UserID:      middleware.GetUserID(r.Context()),
		Name:        req.Name,
		WorkspaceID: middleware.GetWorkspaceID(r.Context()),
		Platform:    req.Platform,
	}
	if actor.UserID == "" {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeAuthFailed)
		WriteError(w, ctx, http.StatusUnauthorized, ErrCodeAuthFailed, "Authentication required")
		return
	}

	sealed, err := h.coordinator.Seal(r.Context(), jobID, actor)
	if err != nil {
		h.writeSealError(w, r, jobID, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(sealed); err != nil {
		slog.ErrorContext(r.Context(), "failed to encode response", "error", err)
	}
}

// Get handles GET /jobs/{id}/seal - returns the stored seal.
func (h *SealHandlers) Get(w http.ResponseWriter, r *http.Request, jobID string) {
	s, err := h.coordinator.GetSeal(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, seal.ErrSealNotFound) {
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeNotFound)
			WriteError(w, ctx, http.StatusNotFound, ErrCodeNotFound, "Job has no seal")
			return
		}
		slog.ErrorContext(r.Context(), "failed to read seal", "error", err, "job_id", jobID)
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to read seal")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(s); err != nil {
		slog.ErrorContext(r.Context(), "failed to encode response", "error", err)
	}
}

// Verify handles GET /jobs/{id}/seal/verify - re-verifies the stored seal.
func (h *SealHandlers) Verify(w http.ResponseWriter, r *http.Request, jobID string) {
	result, err := h.coordinator.VerifySeal(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, seal.ErrSealNotFound) {
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeNotFound)
			WriteError(w, ctx, http.StatusNotFound, ErrCodeNotFound, "Job has no seal")
			return
		}
		slog.ErrorContext(r.Context(), "failed to verify seal", "error", err, "job_id", jobID)
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to verify seal")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(result); err != nil {
		slog.ErrorContext(r.Context(), "failed to encode response", "error", err)
	}
}

// writeSealError maps sealing failures to API error responses.
func (h *SealHandlers) writeSealError(w http.ResponseWriter, r *http.Request, jobID string, err error) {
	var alreadySealed *seal.AlreadySealedError
	switch {
	case errors.Is(err, seal.ErrJobNotFound):
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeNotFound)
		WriteError(w, ctx, http.StatusNotFound, ErrCodeNotFound, "Job not found")
	case errors.As(err, &alreadySealed):
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeAlreadySealed)
		WriteError(w, ctx, http.StatusConflict, ErrCodeAlreadySealed, alreadySealed.Error())
	case errors.Is(err, seal.ErrWorkspaceMismatch):
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeWorkspaceMismatch)
		WriteError(w, ctx, http.StatusForbidden, ErrCodeWorkspaceMismatch,
			"Job belongs to a different workspace")
	case errors.Is(err, signature.ErrNoSigningKey):
		slog.ErrorContext(r.Context(), "seal refused, no signing strategy configured", "job_id", jobID)
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeConfiguration)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeConfiguration,
			"Sealing is not configured on this server")
	default:
		slog.ErrorContext(r.Context(), "failed to seal job", "error", err, "job_id", jobID)
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to seal job")
	}
}
