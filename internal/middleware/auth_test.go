package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jobproof/jobproof/internal/auth"
	"github.com/jobproof/jobproof/internal/tokens"
)

const testJWTSecret = "middleware-test-secret"

func authHandler(t *testing.T, revocations tokens.Store) (http.Handler, *auth.JWTService, *string) {
	t.Helper()
	svc := auth.NewJWTService(testJWTSecret)
	var seenUserID string
	handler := Auth(svc, revocations, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenUserID = GetUserID(r.Context())
		w.WriteHeader(http.StatusOK)
	}))
	return handler, svc, &seenUserID
}

func TestAuth_ValidAccessToken(t *testing.T) {
	handler, svc, seenUserID := authHandler(t, nil)

	token, err := svc.GenerateAccessToken("user-1", "ws-1")
	if err != nil {
		t.Fatalf("GenerateAccessToken() error = %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/jobs/job-1/seal", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if *seenUserID != "user-1" {
		t.Errorf("user ID in context = %q, want user-1", *seenUserID)
	}
}

func TestAuth_MissingToken(t *testing.T) {
	handler, _, _ := authHandler(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/jobs/job-1/seal", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestAuth_GarbageToken(t *testing.T) {
	handler, _, _ := authHandler(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/jobs/job-1/seal", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestAuth_RefreshTokenRejected(t *testing.T) {
	handler, svc, _ := authHandler(t, nil)

	token, err := svc.GenerateRefreshToken("user-1")
	if err != nil {
		t.Fatalf("GenerateRefreshToken() error = %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/jobs/job-1/seal", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestAuth_JobEditTokenScopedToJob(t *testing.T) {
	handler, svc, _ := authHandler(t, nil)

	token, err := svc.GenerateJobEditToken("user-1", "ws-1", "job-1")
	if err != nil {
		t.Fatalf("GenerateJobEditToken() error = %v", err)
	}

	// Matching job passes.
	req := httptest.NewRequest(http.MethodPost, "/jobs/job-1/events", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("matching job: status = %d, want 200", rec.Code)
	}

	// A different job is out of scope.
	req = httptest.NewRequest(http.MethodPost, "/jobs/job-2/events", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("other job: status = %d, want 401", rec.Code)
	}
}

func TestAuth_RevokedJobEditToken(t *testing.T) {
	revocations := tokens.NewInMemoryStore()
	handler, svc, _ := authHandler(t, revocations)

	token, err := svc.GenerateJobEditToken("user-1", "ws-1", "job-1")
	if err != nil {
		t.Fatalf("GenerateJobEditToken() error = %v", err)
	}

	// Before revocation the token works.
	req := httptest.NewRequest(http.MethodPost, "/jobs/job-1/events", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("pre-revocation: status = %d, want 200", rec.Code)
	}

	// Sealing the job revokes all outstanding edit tokens. Revocation is
	// second-granular and treats the same second as revoked, so no sleep is
	// needed between issuing and revoking.
	if err := revocations.InvalidateJobTokens(context.Background(), "job-1"); err != nil {
		t.Fatalf("InvalidateJobTokens() error = %v", err)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("post-revocation: status = %d, want 401", rec.Code)
	}
}

func TestPathJobID(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/jobs/job-1/events", "job-1"},
		{"/jobs/job-1/seal", "job-1"},
		{"/jobs/job-1", "job-1"},
		{"/uploads/sign", ""},
		{"/health", ""},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := pathJobID(tt.path); got != tt.want {
				t.Errorf("pathJobID(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}
