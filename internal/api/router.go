package api

import (
	"net/http"
	"strings"

	"github.com/jobproof/jobproof/internal/middleware"
)

// JobRoutes dispatches /jobs/{id}/... requests to the audit trail and
// sealing handlers. The standard mux cannot express the nested dynamic
// segments, so the job subtree is routed by hand.
type JobRoutes struct {
	Events *EventHandlers
	Seals  *SealHandlers
}

// NewJobRoutes creates the /jobs/ subtree router.
func NewJobRoutes(events *EventHandlers, seals *SealHandlers) *JobRoutes {
	return &JobRoutes{Events: events, Seals: seals}
}

// ServeHTTP routes:
//
//	POST /jobs/{id}/events       append an audit event
//	GET  /jobs/{id}/events       list the chain oldest first
//	GET  /jobs/{id}/audit/verify re-validate the chain
//	GET  /jobs/{id}/audit/export export the chain (csv or json)
//	POST /jobs/{id}/seal         seal the evidence bundle
//	GET  /jobs/{id}/seal         fetch the stored seal
//	GET  /jobs/{id}/seal/verify  re-verify the stored seal
func (jr *JobRoutes) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/jobs/"), "/")
	if len(parts) < 2 || parts[0] == "" {
		jr.notFound(w, r)
		return
	}
	jobID := parts[0]

	switch {
	case len(parts) == 2 && parts[1] == "events":
		switch r.Method {
		case http.MethodPost:
			jr.Events.Append(w, r, jobID)
		case http.MethodGet:
			jr.Events.List(w, r, jobID)
		default:
			jr.methodNotAllowed(w, r)
		}
	case len(parts) == 3 && parts[1] == "audit" && parts[2] == "verify":
		jr.requireGet(w, r, func() { jr.Events.Verify(w, r, jobID) })
	case len(parts) == 3 && parts[1] == "audit" && parts[2] == "export":
		jr.requireGet(w, r, func() { jr.Events.Export(w, r, jobID) })
	case len(parts) == 2 && parts[1] == "seal":
		switch r.Method {
		case http.MethodPost:
			jr.Seals.Create(w, r, jobID)
		case http.MethodGet:
			jr.Seals.Get(w, r, jobID)
		default:
			jr.methodNotAllowed(w, r)
		}
	case len(parts) == 3 && parts[1] == "seal" && parts[2] == "verify":
		jr.requireGet(w, r, func() { jr.Seals.Verify(w, r, jobID) })
	default:
		jr.notFound(w, r)
	}
}

func (jr *JobRoutes) requireGet(w http.ResponseWriter, r *http.Request, handle func()) {
	if r.Method != http.MethodGet {
		jr.methodNotAllowed(w, r)
		return
	}
	handle()
}

func (jr *JobRoutes) notFound(w http.ResponseWriter, r *http.Request) {
	ctx := middleware.SetErrorCode(r.Context(), ErrCodeNotFound)
	WriteError(w, ctx, http.StatusNotFound, ErrCodeNotFound, "The requested resource was not found")
}

func (jr *JobRoutes) methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
	WriteError(w, ctx, http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
}
