package seal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/jobproof/jobproof/internal/signature"
)

// uniqueViolation is the Postgres error code for duplicate key inserts.
const uniqueViolation = "23505"

// PostgresRepository implements Repository on PostgreSQL. The one-seal-per-
// job invariant is backed by the seals table's primary key on job_id.
type PostgresRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresRepository creates a PostgresRepository.
func NewPostgresRepository(db *sql.DB, logger *slog.Logger) *PostgresRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresRepository{db: db, logger: logger}
}

// Insert persists a new seal.
func (r *PostgresRepository) Insert(ctx context.Context, s *Seal) error {
	bundle, err := json.Marshal(s.EvidenceBundle)
	if err != nil {
		return fmt.Errorf("marshal evidence bundle: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO seals (
			job_id, workspace_id, evidence_hash, signature, algorithm,
			sealed_by_user_id, sealed_by_identity, sealed_at, evidence_bundle
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		s.JobID, s.WorkspaceID, s.EvidenceHash, s.Signature, string(s.Algorithm),
		s.SealedByUserID, s.SealedByIdentity, s.SealedAt, bundle,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
			return ErrSealExists
		}
		return fmt.Errorf("insert seal: %w", err)
	}
	return nil
}

// Delete removes a seal (rollback compensation only).
func (r *PostgresRepository) Delete(ctx context.Context, jobID string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM seals WHERE job_id = $1`, jobID)
	if err != nil {
		return fmt.Errorf("delete seal: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete seal rows affected: %w", err)
	}
	if affected == 0 {
		return ErrSealNotFound
	}
	return nil
}

// GetByJob retrieves the seal for a job.
func (r *PostgresRepository) GetByJob(ctx context.Context, jobID string) (*Seal, error) {
	var s Seal
	var algorithm string
	var bundle []byte

	err := r.db.QueryRowContext(ctx, `
		SELECT job_id, workspace_id, evidence_hash, signature, algorithm,
		       sealed_by_user_id, sealed_by_identity, sealed_at, evidence_bundle
		FROM seals
		WHERE job_id = $1
	`, jobID).Scan(
		&s.JobID, &s.WorkspaceID, &s.EvidenceHash, &s.Signature, &algorithm,
		&s.SealedByUserID, &s.SealedByIdentity, &s.SealedAt, &bundle,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSealNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query seal: %w", err)
	}

	s.Algorithm = signature.Algorithm(algorithm)
	if err := json.Unmarshal(bundle, &s.EvidenceBundle); err != nil {
		return nil, fmt.Errorf("unmarshal evidence bundle: %w", err)
	}
	return &s, nil
}

// PostgresJobStore implements JobStore over the external jobs schema. The
// single-writer guarantee for sealing rests on MarkSealed's conditional
// update: only one transition out of the unsealed state can ever match.
type PostgresJobStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresJobStore creates a PostgresJobStore.
func NewPostgresJobStore(db *sql.DB, logger *slog.Logger) *PostgresJobStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresJobStore{db: db, logger: logger}
}

// GetJob reads the job's current evidence state, including photos and the
// customer signature.
func (s *PostgresJobStore) GetJob(ctx context.Context, jobID string) (*Job, error) {
	var job Job
	var clientName, sigImageURL, sigSignerName, sigSignerRole sql.NullString
	var sigSignedAt sql.NullTime

	err := s.db.QueryRowContext(ctx, `
		SELECT id, workspace_id, title, client_name, status, sealed_at,
		       signature_image_url, signature_signer_name, signature_signer_role, signature_signed_at
		FROM jobs
		WHERE id = $1
	`, jobID).Scan(
		&job.ID, &job.WorkspaceID, &job.Title, &clientName, &job.Status, &job.SealedAt,
		&sigImageURL, &sigSignerName, &sigSignerRole, &sigSignedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query job: %w", err)
	}
	job.ClientName = clientName.String
	if sigImageURL.Valid {
		job.Signature = &SignatureRecord{
			ImageURL:   sigImageURL.String,
			SignerName: sigSignerName.String,
			SignerRole: sigSignerRole.String,
			SignedAt:   sigSignedAt.Time,
		}
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, url, photo_type, captured_at, lat, lng
		FROM job_photos
		WHERE job_id = $1
		ORDER BY captured_at ASC, id ASC
	`, jobID)
	if err != nil {
		return nil, fmt.Errorf("query job photos: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p PhotoRecord
		if err := rows.Scan(&p.ID, &p.URL, &p.Type, &p.CapturedAt, &p.Lat, &p.Lng); err != nil {
			return nil, fmt.Errorf("scan job photo: %w", err)
		}
		job.Photos = append(job.Photos, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate job photos: %w", err)
	}
	return &job, nil
}

// MarkSealed transitions the job to sealed with a conditional update. The
// WHERE sealed_at IS NULL clause is the compare-and-set: the loser of a
// concurrent seal race matches no rows and gets ErrSealConflict.
func (s *PostgresJobStore) MarkSealed(ctx context.Context, jobID string, sealedAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET sealed_at = $2, status = $3, updated_at = NOW()
		WHERE id = $1 AND sealed_at IS NULL
	`, jobID, sealedAt, JobStatusSealed)
	if err != nil {
		return fmt.Errorf("mark job sealed: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark job sealed rows affected: %w", err)
	}
	if affected == 1 {
		return nil
	}

	// Distinguish "sealed concurrently" from "no such job".
	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM jobs WHERE id = $1)`, jobID).Scan(&exists); err != nil {
		return fmt.Errorf("check job existence: %w", err)
	}
	if !exists {
		return ErrJobNotFound
	}
	return ErrSealConflict
}
