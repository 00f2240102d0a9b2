package seal

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jobproof/jobproof/internal/ledger"
	"github.com/jobproof/jobproof/internal/signature"
)

func testJob() *Job {
	lat, lng := 40.7128, -74.006
	return &Job{
		ID:          "job-1",
		WorkspaceID: "ws-1",
		Title:       "Boiler replacement",
		ClientName:  "Acme Property Group",
		Status:      "completed",
		Photos: []PhotoRecord{
			{ID: "p1", URL: "https://evidence.example/p1.jpg", Type: "before", CapturedAt: time.Date(2026, 8, 20, 9, 0, 0, 0, time.UTC), Lat: &lat, Lng: &lng},
			{ID: "p2", URL: "https://evidence.example/p2.jpg", Type: "after", CapturedAt: time.Date(2026, 8, 20, 11, 30, 0, 0, time.UTC), Lat: &lat, Lng: &lng},
		},
		Signature: &SignatureRecord{
			ImageURL:   "https://evidence.example/sig.png",
			SignerName: "Dana Whitfield",
			SignerRole: "site manager",
			SignedAt:   time.Date(2026, 8, 20, 11, 45, 0, 0, time.UTC),
		},
	}
}

func testActingUser() ActingUser {
	return ActingUser{
		UserID:      "user-1",
		Name:        "Jordan Reyes",
		WorkspaceID: "ws-1",
		Platform:    "ios",
	}
}

func hmacSigner(t *testing.T) signature.Signer {
	t.Helper()
	signer, err := signature.NewSigner(signature.Config{HMACSecret: "test-secret"}, nil)
	if err != nil {
		t.Fatalf("NewSigner() error = %v", err)
	}
	return signer
}

func newTestCoordinator(t *testing.T, opts ...CoordinatorOption) (*Coordinator, *InMemoryJobStore, *InMemoryRepository) {
	t.Helper()
	jobs := NewInMemoryJobStore()
	jobs.Put(testJob())
	seals := NewInMemoryRepository()
	return NewCoordinator(jobs, seals, hmacSigner(t), nil, opts...), jobs, seals
}

func TestCoordinator_Seal_Success(t *testing.T) {
	coord, jobs, seals := newTestCoordinator(t)
	ctx := context.Background()

	s, err := coord.Seal(ctx, "job-1", testActingUser())
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}

	if s.Algorithm != signature.AlgorithmHMAC {
		t.Errorf("Seal() algorithm = %s, want %s", s.Algorithm, signature.AlgorithmHMAC)
	}
	if s.EvidenceHash == "" || s.Signature == "" {
		t.Error("Seal() should set evidence hash and signature")
	}
	if len(s.EvidenceBundle.Photos) != 2 {
		t.Errorf("bundle photos = %d, want 2", len(s.EvidenceBundle.Photos))
	}
	if s.EvidenceBundle.Provenance.FormatVersion != BundleFormatVersion {
		t.Errorf("bundle format version = %q, want %q", s.EvidenceBundle.Provenance.FormatVersion, BundleFormatVersion)
	}

	// Seal row and job state must agree.
	stored, err := seals.GetByJob(ctx, "job-1")
	if err != nil {
		t.Fatalf("GetByJob() error = %v", err)
	}
	if stored.EvidenceHash != s.EvidenceHash {
		t.Error("stored seal differs from returned seal")
	}
	job, err := jobs.GetJob(ctx, "job-1")
	if err != nil {
		t.Fatalf("GetJob() error = %v", err)
	}
	if !job.Sealed() {
		t.Error("job should be sealed after Seal()")
	}
	if job.Status != JobStatusSealed {
		t.Errorf("job status = %q, want %q", job.Status, JobStatusSealed)
	}
}

func TestCoordinator_Seal_JobNotFound(t *testing.T) {
	coord, _, _ := newTestCoordinator(t)

	_, err := coord.Seal(context.Background(), "no-such-job", testActingUser())
	if !errors.Is(err, ErrJobNotFound) {
		t.Errorf("Seal() error = %v, want ErrJobNotFound", err)
	}
}

func TestCoordinator_Seal_AlreadySealed(t *testing.T) {
	coord, _, seals := newTestCoordinator(t)
	ctx := context.Background()

	first, err := coord.Seal(ctx, "job-1", testActingUser())
	if err != nil {
		t.Fatalf("first Seal() error = %v", err)
	}

	_, err = coord.Seal(ctx, "job-1", testActingUser())
	var alreadySealed *AlreadySealedError
	if !errors.As(err, &alreadySealed) {
		t.Fatalf("second Seal() error = %v, want AlreadySealedError", err)
	}
	if !alreadySealed.SealedAt.Equal(first.SealedAt) {
		t.Errorf("AlreadySealedError.SealedAt = %v, want %v", alreadySealed.SealedAt, first.SealedAt)
	}

	// The original seal must be untouched.
	stored, err := seals.GetByJob(ctx, "job-1")
	if err != nil {
		t.Fatalf("GetByJob() error = %v", err)
	}
	if stored.EvidenceHash != first.EvidenceHash || stored.Signature != first.Signature {
		t.Error("second Seal() attempt altered the existing seal")
	}
}

func TestCoordinator_Seal_WorkspaceMismatch(t *testing.T) {
	coord, jobs, seals := newTestCoordinator(t)
	ctx := context.Background()

	actor := testActingUser()
	actor.WorkspaceID = "ws-other"

	_, err := coord.Seal(ctx, "job-1", actor)
	if !errors.Is(err, ErrWorkspaceMismatch) {
		t.Fatalf("Seal() error = %v, want ErrWorkspaceMismatch", err)
	}

	// No side effects.
	if _, err := seals.GetByJob(ctx, "job-1"); !errors.Is(err, ErrSealNotFound) {
		t.Error("cross-workspace attempt should not create a seal")
	}
	job, _ := jobs.GetJob(ctx, "job-1")
	if job.Sealed() {
		t.Error("cross-workspace attempt should not seal the job")
	}
}

func TestCoordinator_Seal_NoSignerConfigured(t *testing.T) {
	jobs := NewInMemoryJobStore()
	jobs.Put(testJob())
	seals := NewInMemoryRepository()
	coord := NewCoordinator(jobs, seals, nil, nil)
	ctx := context.Background()

	_, err := coord.Seal(ctx, "job-1", testActingUser())
	if !errors.Is(err, signature.ErrNoSigningKey) {
		t.Fatalf("Seal() error = %v, want ErrNoSigningKey", err)
	}

	// Configuration errors must leave no trace.
	if _, err := seals.GetByJob(ctx, "job-1"); !errors.Is(err, ErrSealNotFound) {
		t.Error("no seal row should exist after a configuration error")
	}
	job, _ := jobs.GetJob(ctx, "job-1")
	if job.Sealed() {
		t.Error("job should not be sealed after a configuration error")
	}
}

// failingJobStore wraps InMemoryJobStore and fails MarkSealed.
type failingJobStore struct {
	*InMemoryJobStore
	markSealedErr error
}

func (s *failingJobStore) MarkSealed(ctx context.Context, jobID string, sealedAt time.Time) error {
	if s.markSealedErr != nil {
		return s.markSealedErr
	}
	return s.InMemoryJobStore.MarkSealed(ctx, jobID, sealedAt)
}

func TestCoordinator_Seal_RollbackOnJobUpdateFailure(t *testing.T) {
	jobs := &failingJobStore{
		InMemoryJobStore: NewInMemoryJobStore(),
		markSealedErr:    errors.New("job store unavailable"),
	}
	jobs.Put(testJob())
	seals := NewInMemoryRepository()
	coord := NewCoordinator(jobs, seals, hmacSigner(t), nil)
	ctx := context.Background()

	_, err := coord.Seal(ctx, "job-1", testActingUser())
	var persistence *PersistenceError
	if !errors.As(err, &persistence) {
		t.Fatalf("Seal() error = %v, want PersistenceError", err)
	}

	// The just-inserted seal must have been deleted: no orphan seal.
	if _, err := seals.GetByJob(ctx, "job-1"); !errors.Is(err, ErrSealNotFound) {
		t.Error("seal row should be rolled back after failed job transition")
	}
	job, _ := jobs.GetJob(ctx, "job-1")
	if job.Sealed() {
		t.Error("job should remain unsealed after failed transition")
	}
}

func TestCoordinator_Seal_ConcurrentAttemptsOneWinner(t *testing.T) {
	coord, _, seals := newTestCoordinator(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := coord.Seal(ctx, "job-1", testActingUser())
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var successes, conflicts int
	for err := range results {
		switch {
		case err == nil:
			successes++
		default:
			var alreadySealed *AlreadySealedError
			if errors.As(err, &alreadySealed) {
				conflicts++
			} else {
				t.Errorf("unexpected error: %v", err)
			}
		}
	}
	if successes != 1 || conflicts != 1 {
		t.Errorf("successes = %d, conflicts = %d, want exactly 1 of each", successes, conflicts)
	}

	if _, err := seals.GetByJob(ctx, "job-1"); err != nil {
		t.Errorf("exactly one seal should exist, got error %v", err)
	}
}

func TestCoordinator_Seal_RecordsAuditEvent(t *testing.T) {
	repo := ledger.NewInMemoryRepository()
	auditLedger := ledger.New(repo, nil)

	coord, _, _ := newTestCoordinator(t, WithLedger(auditLedger))
	ctx := context.Background()

	s, err := coord.Seal(ctx, "job-1", testActingUser())
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}

	events, err := auditLedger.List(ctx, "job-1")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("audit events = %d, want 1", len(events))
	}
	if events[0].EventType != ledger.EventJobSealed {
		t.Errorf("event type = %s, want %s", events[0].EventType, ledger.EventJobSealed)
	}
	if events[0].Metadata["evidence_hash"] != s.EvidenceHash {
		t.Error("audit event should carry the evidence hash")
	}
}

// recordingInvalidator captures invalidation calls.
type recordingInvalidator struct {
	mu     sync.Mutex
	jobIDs []string
	err    error
}

func (r *recordingInvalidator) InvalidateJobTokens(_ context.Context, jobID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobIDs = append(r.jobIDs, jobID)
	return r.err
}

func TestCoordinator_Seal_InvalidatesTokens(t *testing.T) {
	inv := &recordingInvalidator{}
	coord, _, _ := newTestCoordinator(t, WithTokenInvalidator(inv))

	if _, err := coord.Seal(context.Background(), "job-1", testActingUser()); err != nil {
		t.Fatalf("Seal() error = %v", err)
	}

	if len(inv.jobIDs) != 1 || inv.jobIDs[0] != "job-1" {
		t.Errorf("invalidated jobs = %v, want [job-1]", inv.jobIDs)
	}
}

func TestCoordinator_Seal_TokenInvalidationFailureDoesNotRollBack(t *testing.T) {
	inv := &recordingInvalidator{err: errors.New("revocation store down")}
	coord, jobs, seals := newTestCoordinator(t, WithTokenInvalidator(inv))
	ctx := context.Background()

	if _, err := coord.Seal(ctx, "job-1", testActingUser()); err != nil {
		t.Fatalf("Seal() error = %v, invalidation failure must not fail the seal", err)
	}

	if _, err := seals.GetByJob(ctx, "job-1"); err != nil {
		t.Errorf("seal should persist despite invalidation failure: %v", err)
	}
	job, _ := jobs.GetJob(ctx, "job-1")
	if !job.Sealed() {
		t.Error("job should stay sealed despite invalidation failure")
	}
}

func TestCoordinator_Seal_AlgorithmTags(t *testing.T) {
	// HMAC-only config produces the HMAC tag; the RSA path is covered in
	// the signature package, here we assert the tag lands on the seal.
	coord, _, _ := newTestCoordinator(t)

	s, err := coord.Seal(context.Background(), "job-1", testActingUser())
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}
	if s.Algorithm != signature.AlgorithmHMAC {
		t.Errorf("algorithm = %s, want %s", s.Algorithm, signature.AlgorithmHMAC)
	}
	if !s.Algorithm.Valid() {
		t.Error("persisted algorithm tag should be valid")
	}
}
