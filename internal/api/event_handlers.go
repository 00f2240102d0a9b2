// Package api provides HTTP handlers for the evidence audit trail.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jobproof/jobproof/internal/ledger"
	"github.com/jobproof/jobproof/internal/middleware"
)

// AppendEventRequest represents the request body for POST /jobs/{id}/events.
type AppendEventRequest struct {
	EventType string         `json:"event_type"`
	Actor     ActorPayload   `json:"actor"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// ActorPayload carries the acting identity in event requests. UserID may be
// omitted; the authenticated user from the request context is used then.
type ActorPayload struct {
	UserID   string   `json:"user_id,omitempty"`
	Name     string   `json:"name"`
	Platform string   `json:"platform,omitempty"`
	Lat      *float64 `json:"lat,omitempty"`
	Lng      *float64 `json:"lng,omitempty"`
}

// ListEventsResponse represents the response for GET /jobs/{id}/events.
type ListEventsResponse struct {
	Events []*ledger.AuditEvent `json:"events"`
	Count  int                  `json:"count"`
}

// EventHandlers holds dependencies for audit trail HTTP handlers.
type EventHandlers struct {
	ledger   *ledger.Ledger
	verifier *ledger.Verifier
	repo     ledger.Repository
}

// NewEventHandlers creates a new EventHandlers instance.
func NewEventHandlers(l *ledger.Ledger, verifier *ledger.Verifier, repo ledger.Repository) *EventHandlers {
	return &EventHandlers{
		ledger:   l,
		verifier: verifier,
		repo:     repo,
	}
}

// Append handles POST /jobs/{id}/events - records a new audit event.
func (h *EventHandlers) Append(w http.ResponseWriter, r *http.Request, jobID string) {
	var req AppendEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON in request body")
		return
	}

	actor := ledger.Actor{
		UserID:   req.Actor.UserID,
		Name:     req.Actor.Name,
		Platform: req.Actor.Platform,
		Lat:      req.Actor.Lat,
		Lng:      req.Actor.Lng,
	}
	if actor.UserID == "" {
		actor.UserID = middleware.GetUserID(r.Context())
	}

	evt, err := h.ledger.Append(r.Context(), jobID, ledger.EventType(req.EventType), actor, req.Metadata)
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrUnknownEventType):
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeUnknownEventType)
			WriteError(w, ctx, http.StatusBadRequest, ErrCodeUnknownEventType,
				fmt.Sprintf("Unknown event type %q", req.EventType))
		case errors.Is(err, ledger.ErrEmptyActor):
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
			WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "actor.user_id is required")
		case errors.Is(err, ledger.ErrChainConflict):
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeConflict)
			WriteError(w, ctx, http.StatusConflict, ErrCodeConflict,
				"Concurrent appends exhausted retries, please retry")
		default:
			slog.ErrorContext(r.Context(), "failed to append audit event", "error", err, "job_id", jobID)
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
			WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to record event")
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(evt); err != nil {
		slog.ErrorContext(r.Context(), "failed to encode response", "error", err)
	}
}

// List handles GET /jobs/{id}/events - returns the job's chain oldest first.
func (h *EventHandlers) List(w http.ResponseWriter, r *http.Request, jobID string) {
	events, err := h.ledger.List(r.Context(), jobID)
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to list audit events", "error", err, "job_id", jobID)
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to list events")
		return
	}
	if events == nil {
		events = []*ledger.AuditEvent{}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(ListEventsResponse{Events: events, Count: len(events)}); err != nil {
		slog.ErrorContext(r.Context(), "failed to encode response", "error", err)
	}
}

// Verify handles GET /jobs/{id}/audit/verify - re-validates the whole chain.
func (h *EventHandlers) Verify(w http.ResponseWriter, r *http.Request, jobID string) {
	result, err := h.verifier.Verify(r.Context(), jobID)
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to verify audit chain", "error", err, "job_id", jobID)
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to verify chain")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(result); err != nil {
		slog.ErrorContext(r.Context(), "failed to encode response", "error", err)
	}
}

// Export handles GET /jobs/{id}/audit/export - exports the chain for legal
// retention. Query parameters: format (csv|json, default json), from, to
// (RFC 3339 timestamps bounding the range, both optional).
func (h *EventHandlers) Export(w http.ResponseWriter, r *http.Request, jobID string) {
	opts := ledger.ExportOptions{Format: ledger.ExportFormatJSON}

	if format := r.URL.Query().Get("format"); format != "" {
		opts.Format = ledger.ExportFormat(format)
		if opts.Format != ledger.ExportFormatCSV && opts.Format != ledger.ExportFormatJSON {
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeUnsupportedFormat)
			WriteError(w, ctx, http.StatusBadRequest, ErrCodeUnsupportedFormat,
				"Unsupported export format. Allowed formats: csv, json")
			return
		}
	}

	var err error
	if opts.From, err = parseTimeParam(r, "from"); err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "from must be an RFC 3339 timestamp")
		return
	}
	if opts.To, err = parseTimeParam(r, "to"); err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "to must be an RFC 3339 timestamp")
		return
	}

	data, err := ledger.ExportChain(r.Context(), h.repo, jobID, opts)
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to export audit chain", "error", err, "job_id", jobID)
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to export chain")
		return
	}

	switch opts.Format {
	case ledger.ExportFormatCSV:
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "audit-"+jobID+".csv"))
	default:
		w.Header().Set("Content-Type", "application/json")
	}
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		slog.ErrorContext(r.Context(), "failed to write export", "error", err)
	}
}

// parseTimeParam reads an optional RFC 3339 query parameter.
func parseTimeParam(r *http.Request, name string) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, raw)
}
