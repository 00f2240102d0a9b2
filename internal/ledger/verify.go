package ledger

import (
	"context"
	"log/slog"
)

// VerifyResult holds the outcome of a chain verification.
//
// A broken chain is a normal, expected verification outcome, not an error:
// the error return of Verify is reserved for failures to read the chain.
type VerifyResult struct {
	Valid      bool `json:"valid"`
	EventCount int  `json:"event_count"`
	// BrokenAt is the index of the first failing event, nil when Valid.
	BrokenAt *int `json:"broken_at,omitempty"`
}

// Verifier recomputes and validates chain linkage on demand. It never takes
// a lock and never mutates state: it reads a snapshot of the chain, so it
// may observe a slightly stale tail during concurrent appends, which is
// acceptable — verification only fails on structural mismatch, never on
// "too few events".
type Verifier struct {
	repo    Repository
	logger  *slog.Logger
	metrics *Metrics
}

// NewVerifier creates a Verifier over repo. metrics may be nil.
func NewVerifier(repo Repository, logger *slog.Logger, metrics *Metrics) *Verifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Verifier{repo: repo, logger: logger, metrics: metrics}
}

// Verify walks a job's chain oldest first, checking for each event that
// (1) its PreviousEventHash equals the running expected hash and (2) its
// stored EventHash matches the hash recomputed from its stored fields.
// The first mismatch stops the walk and is reported by index. An empty
// chain is valid with EventCount 0.
func (v *Verifier) Verify(ctx context.Context, jobID string) (VerifyResult, error) {
	if jobID == "" {
		return VerifyResult{}, ErrEmptyJobID
	}

	events, err := v.repo.List(ctx, jobID)
	if err != nil {
		return VerifyResult{}, err
	}
	if v.metrics != nil {
		v.metrics.IncVerifications()
	}

	expected := GenesisHash
	for i, evt := range events {
		if evt.PreviousEventHash != expected {
			return v.broken(jobID, len(events), i, "predecessor hash mismatch")
		}
		if !VerifyEventHash(evt) {
			return v.broken(jobID, len(events), i, "stored hash does not match recomputed hash")
		}
		expected = evt.EventHash
	}

	return VerifyResult{Valid: true, EventCount: len(events)}, nil
}

func (v *Verifier) broken(jobID string, count, index int, reason string) (VerifyResult, error) {
	if v.metrics != nil {
		v.metrics.IncVerificationFailures()
	}
	v.logger.Warn("audit chain verification failed",
		slog.String("job_id", jobID),
		slog.Int("broken_at", index),
		slog.String("reason", reason))
	return VerifyResult{Valid: false, EventCount: count, BrokenAt: &index}, nil
}
