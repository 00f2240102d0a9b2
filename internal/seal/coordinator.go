package seal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jobproof/jobproof/internal/canonical"
	"github.com/jobproof/jobproof/internal/ledger"
	"github.com/jobproof/jobproof/internal/signature"
	"github.com/jobproof/jobproof/internal/tracing"
)

// Coordinator orchestrates the seal state machine: Unsealed -> Sealing ->
// Sealed, where Sealing exists only inside one Seal call. The seal write and
// the job transition happen as a two-phase write with a compensating delete,
// because the seal store and the job store may be distinct systems that no
// single transaction can span.
type Coordinator struct {
	jobs    JobStore
	seals   Repository
	signer  signature.Signer // nil when no signing strategy is configured
	ledger  *ledger.Ledger   // best-effort audit trail, may be nil
	tokens  TokenInvalidator // fire-and-forget, may be nil
	logger  *slog.Logger
	metrics *Metrics
	now     func() time.Time
}

// CoordinatorOption customizes a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithLedger attaches the audit ledger so successful seals are recorded in
// the job's evidence chain.
func WithLedger(l *ledger.Ledger) CoordinatorOption {
	return func(c *Coordinator) { c.ledger = l }
}

// WithTokenInvalidator attaches the access-token revocation hook.
func WithTokenInvalidator(t TokenInvalidator) CoordinatorOption {
	return func(c *Coordinator) { c.tokens = t }
}

// WithMetrics attaches prometheus metrics.
func WithMetrics(m *Metrics) CoordinatorOption {
	return func(c *Coordinator) { c.metrics = m }
}

// WithClock overrides the timestamp source, for tests.
func WithClock(now func() time.Time) CoordinatorOption {
	return func(c *Coordinator) { c.now = now }
}

// NewCoordinator creates a Coordinator. signer may be nil when no signing
// strategy is configured; Seal then fails with the configuration error
// rather than falling back to any implicit key.
func NewCoordinator(jobs JobStore, seals Repository, signer signature.Signer, logger *slog.Logger, opts ...CoordinatorOption) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Coordinator{
		jobs:   jobs,
		seals:  seals,
		signer: signer,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Seal freezes a job's evidence bundle under a signed digest and
// transitions the job to its terminal sealed state.
//
// Preconditions, each a distinct failure: the job exists; the job is not
// already sealed (AlreadySealedError carries the existing timestamp); the
// acting user's workspace owns the job.
//
// Atomicity: if the job transition fails after the seal row was written,
// the seal row is deleted before the error is returned. The system never
// keeps a seal whose job transition did not also succeed.
func (c *Coordinator) Seal(ctx context.Context, jobID string, actor ActingUser) (sealed *Seal, err error) {
	ctx, endSpan := tracing.StartSpan(ctx, "seal_job")
	defer func() { endSpan(err) }()

	job, err := c.jobs.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Sealed() {
		return nil, &AlreadySealedError{SealedAt: *job.SealedAt}
	}
	if actor.WorkspaceID != job.WorkspaceID {
		c.logger.Warn("cross-workspace seal attempt refused",
			slog.String("job_id", jobID),
			slog.String("job_workspace", job.WorkspaceID),
			slog.String("actor_workspace", actor.WorkspaceID),
			slog.String("actor_user_id", actor.UserID))
		return nil, ErrWorkspaceMismatch
	}

	if c.signer == nil {
		return nil, signature.ErrNoSigningKey
	}

	sealedAt := c.now().UTC()
	bundle := BuildBundle(job, actor, sealedAt)

	evidenceHash, _, err := canonical.SumObject(bundle.CanonicalPayload())
	if err != nil {
		return nil, &SigningError{Err: fmt.Errorf("canonicalize bundle: %w", err)}
	}

	sig, alg, err := c.signer.Sign(evidenceHash)
	if err != nil {
		// Nothing persisted yet; fail clean.
		return nil, &SigningError{Err: err}
	}

	s := &Seal{
		JobID:            jobID,
		WorkspaceID:      job.WorkspaceID,
		EvidenceHash:     evidenceHash,
		Signature:        sig,
		Algorithm:        alg,
		SealedByUserID:   actor.UserID,
		SealedByIdentity: actor.Name,
		SealedAt:         sealedAt,
		EvidenceBundle:   *bundle,
	}

	// Phase one: persist the seal row.
	if err := c.seals.Insert(ctx, s); err != nil {
		if errors.Is(err, ErrSealExists) {
			return nil, c.alreadySealed(ctx, jobID, sealedAt)
		}
		return nil, &PersistenceError{Op: "insert seal", Err: err}
	}

	// Phase two: conditional job transition. On failure, compensate by
	// deleting the seal written in phase one.
	if err := c.jobs.MarkSealed(ctx, jobID, sealedAt); err != nil {
		c.rollbackSeal(ctx, jobID)
		if errors.Is(err, ErrSealConflict) {
			return nil, c.alreadySealed(ctx, jobID, sealedAt)
		}
		return nil, &PersistenceError{Op: "mark job sealed", Err: err}
	}

	if c.metrics != nil {
		c.metrics.IncSealsCreated()
	}
	c.logger.Info("job sealed",
		slog.String("job_id", jobID),
		slog.String("workspace_id", job.WorkspaceID),
		slog.String("algorithm", string(alg)),
		slog.String("evidence_hash", evidenceHash))

	c.afterSeal(ctx, jobID, actor, s)
	return s, nil
}

// GetSeal returns the seal for a job, or ErrSealNotFound.
func (c *Coordinator) GetSeal(ctx context.Context, jobID string) (*Seal, error) {
	return c.seals.GetByJob(ctx, jobID)
}

// BuildBundle assembles the point-in-time evidence snapshot for a job.
func BuildBundle(job *Job, actor ActingUser, sealedAt time.Time) *EvidenceBundle {
	photos := make([]PhotoRecord, len(job.Photos))
	copy(photos, job.Photos)

	bundle := &EvidenceBundle{
		JobID:       job.ID,
		WorkspaceID: job.WorkspaceID,
		Title:       job.Title,
		ClientName:  job.ClientName,
		Photos:      photos,
		Provenance: Provenance{
			SealedAt:      sealedAt,
			SealedBy:      actor.UserID,
			FormatVersion: BundleFormatVersion,
		},
	}
	if job.Signature != nil {
		sig := *job.Signature
		bundle.Signature = &sig
	}
	return bundle
}

// alreadySealed builds an AlreadySealedError with the winning seal's
// timestamp when it can be read, falling back to the loser's attempt time.
func (c *Coordinator) alreadySealed(ctx context.Context, jobID string, fallback time.Time) error {
	if c.metrics != nil {
		c.metrics.IncSealConflicts()
	}
	if existing, err := c.seals.GetByJob(ctx, jobID); err == nil {
		return &AlreadySealedError{SealedAt: existing.SealedAt}
	}
	if job, err := c.jobs.GetJob(ctx, jobID); err == nil && job.SealedAt != nil {
		return &AlreadySealedError{SealedAt: *job.SealedAt}
	}
	return &AlreadySealedError{SealedAt: fallback}
}

// rollbackSeal deletes the seal written in phase one after a failed job
// transition.
func (c *Coordinator) rollbackSeal(ctx context.Context, jobID string) {
	if c.metrics != nil {
		c.metrics.IncSealRollbacks()
	}
	if err := c.seals.Delete(ctx, jobID); err != nil && !errors.Is(err, ErrSealNotFound) {
		// An orphan seal is worse than a missing one; this needs an operator.
		c.logger.Error("seal rollback failed, orphan seal row may remain",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()))
		return
	}
	c.logger.Warn("seal rolled back after failed job transition",
		slog.String("job_id", jobID))
}

// afterSeal runs the best-effort side effects of a successful seal: audit
// trail append and access-token invalidation. Failures here are logged but
// never roll back the seal.
func (c *Coordinator) afterSeal(ctx context.Context, jobID string, actor ActingUser, s *Seal) {
	if c.ledger != nil {
		_, err := c.ledger.Append(ctx, jobID, ledger.EventJobSealed,
			ledger.Actor{UserID: actor.UserID, Name: actor.Name, Platform: actor.Platform},
			map[string]any{
				"evidence_hash": s.EvidenceHash,
				"algorithm":     string(s.Algorithm),
			})
		if err != nil {
			c.logger.Warn("failed to record seal in audit chain",
				slog.String("job_id", jobID),
				slog.String("error", err.Error()))
		}
	}
	if c.tokens != nil {
		if err := c.tokens.InvalidateJobTokens(ctx, jobID); err != nil {
			c.logger.Warn("failed to invalidate pre-seal access tokens",
				slog.String("job_id", jobID),
				slog.String("error", err.Error()))
		}
	}
}
