package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jobproof/jobproof/internal/middleware"
	"github.com/jobproof/jobproof/internal/seal"
	"github.com/jobproof/jobproof/internal/signature"
)

func sealTestJob() *seal.Job {
	return &seal.Job{
		ID:          "job-1",
		WorkspaceID: "ws-1",
		Title:       "Roof inspection",
		Status:      "completed",
		Photos: []seal.PhotoRecord{
			{ID: "p1", URL: "https://evidence.example/p1.jpg", Type: "after", CapturedAt: time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)},
		},
	}
}

func newSealRouter(t *testing.T, signerConfigured bool) *JobRoutes {
	t.Helper()
	jobs := seal.NewInMemoryJobStore()
	jobs.Put(sealTestJob())
	seals := seal.NewInMemoryRepository()

	var signer signature.Signer
	if signerConfigured {
		var err error
		signer, err = signature.NewSigner(signature.Config{HMACSecret: "api-test-secret"}, nil)
		if err != nil {
			t.Fatalf("NewSigner() error = %v", err)
		}
	}

	coordinator := seal.NewCoordinator(jobs, seals, signer, nil)
	return NewJobRoutes(nil, NewSealHandlers(coordinator))
}

func sealRequest(method, path string) *http.Request {
	req := httptest.NewRequest(method, path, strings.NewReader(`{"name": "Jordan Reyes", "platform": "ios"}`))
	ctx := middleware.SetUserID(req.Context(), "user-1")
	ctx = middleware.SetWorkspaceID(ctx, "ws-1")
	return req.WithContext(ctx)
}

func TestCreateSeal(t *testing.T) {
	router := newSealRouter(t, true)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, sealRequest(http.MethodPost, "/jobs/job-1/seal"))

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201, body %s", rec.Code, rec.Body.String())
	}

	var s seal.Seal
	if err := json.Unmarshal(rec.Body.Bytes(), &s); err != nil {
		t.Fatalf("response is not a seal: %v", err)
	}
	if s.EvidenceHash == "" || s.Signature == "" {
		t.Error("seal should include evidence hash and signature")
	}
	if s.Algorithm != signature.AlgorithmHMAC {
		t.Errorf("algorithm = %s, want %s", s.Algorithm, signature.AlgorithmHMAC)
	}
	if s.SealedByUserID != "user-1" {
		t.Errorf("sealed_by_user_id = %q, want user-1", s.SealedByUserID)
	}
}

func TestCreateSeal_AlreadySealed(t *testing.T) {
	router := newSealRouter(t, true)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, sealRequest(http.MethodPost, "/jobs/job-1/seal"))
	if rec.Code != http.StatusCreated {
		t.Fatalf("first seal: status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, sealRequest(http.MethodPost, "/jobs/job-1/seal"))
	if rec.Code != http.StatusConflict {
		t.Fatalf("second seal: status = %d, want 409", rec.Code)
	}
	var resp ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("response is not JSON: %v", err)
	}
	if resp.Error.Code != ErrCodeAlreadySealed {
		t.Errorf("code = %q, want %q", resp.Error.Code, ErrCodeAlreadySealed)
	}
}

func TestCreateSeal_JobNotFound(t *testing.T) {
	router := newSealRouter(t, true)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, sealRequest(http.MethodPost, "/jobs/no-such-job/seal"))

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestCreateSeal_WorkspaceMismatch(t *testing.T) {
	router := newSealRouter(t, true)

	req := httptest.NewRequest(http.MethodPost, "/jobs/job-1/seal", strings.NewReader(`{"name": "Intruder"}`))
	ctx := middleware.SetUserID(req.Context(), "user-9")
	ctx = middleware.SetWorkspaceID(ctx, "ws-other")
	req = req.WithContext(ctx)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
	var resp ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("response is not JSON: %v", err)
	}
	if resp.Error.Code != ErrCodeWorkspaceMismatch {
		t.Errorf("code = %q, want %q", resp.Error.Code, ErrCodeWorkspaceMismatch)
	}
}

func TestCreateSeal_NoSignerConfigured(t *testing.T) {
	router := newSealRouter(t, false)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, sealRequest(http.MethodPost, "/jobs/job-1/seal"))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	var resp ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("response is not JSON: %v", err)
	}
	if resp.Error.Code != ErrCodeConfiguration {
		t.Errorf("code = %q, want %q", resp.Error.Code, ErrCodeConfiguration)
	}
}

func TestCreateSeal_Unauthenticated(t *testing.T) {
	router := newSealRouter(t, true)

	req := httptest.NewRequest(http.MethodPost, "/jobs/job-1/seal", strings.NewReader(`{"name": "Nobody"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestGetSeal(t *testing.T) {
	router := newSealRouter(t, true)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, sealRequest(http.MethodPost, "/jobs/job-1/seal"))
	if rec.Code != http.StatusCreated {
		t.Fatalf("seal: status = %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/jobs/job-1/seal", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var s seal.Seal
	if err := json.Unmarshal(rec.Body.Bytes(), &s); err != nil {
		t.Fatalf("response is not a seal: %v", err)
	}
	if s.JobID != "job-1" {
		t.Errorf("job_id = %q, want job-1", s.JobID)
	}
}

func TestGetSeal_NotFound(t *testing.T) {
	router := newSealRouter(t, true)

	req := httptest.NewRequest(http.MethodGet, "/jobs/job-1/seal", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestVerifySealEndpoint(t *testing.T) {
	router := newSealRouter(t, true)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, sealRequest(http.MethodPost, "/jobs/job-1/seal"))
	if rec.Code != http.StatusCreated {
		t.Fatalf("seal: status = %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/jobs/job-1/seal/verify", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var result seal.VerificationResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("response is not JSON: %v", err)
	}
	if !result.HashValid || !result.SignatureValid {
		t.Errorf("result = %+v, want fully valid", result)
	}
}
