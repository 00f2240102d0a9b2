package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lib/pq"
)

// uniqueViolation is the Postgres error code raised when two appends race
// for the same (job_id, seq) slot.
const uniqueViolation = "23505"

// PostgresRepository implements Repository on PostgreSQL. Chain-head
// serialization per job relies on a monotonic seq column with a
// UNIQUE(job_id, seq) constraint: of two concurrent appends reading the same
// head, exactly one insert succeeds and the other surfaces ErrChainConflict.
// The guarantee is durable state, not process memory, so it survives
// restarts and multiple replicas.
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

// Append persists evt as the successor of the current chain head.
func (r *PostgresRepository) Append(ctx context.Context, evt *AuditEvent) error {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			r.logger.Warn("failed to rollback audit append transaction",
				slog.String("error", err.Error()))
		}
	}()

	var seq int64
	var headHash string
	err = tx.QueryRowContext(ctx, `
		SELECT seq, event_hash FROM audit_events
		WHERE job_id = $1
		ORDER BY seq DESC
		LIMIT 1
	`, evt.JobID).Scan(&seq, &headHash)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		seq = 0
		headHash = GenesisHash
	case err != nil:
		return fmt.Errorf("read chain head: %w", err)
	}

	if evt.PreviousEventHash != headHash {
		return ErrChainConflict
	}

	metadata, err := json.Marshal(evt.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO audit_events (
			id, job_id, seq, event_type, occurred_at,
			actor_user_id, actor_name, actor_platform, actor_lat, actor_lng,
			sync_status, metadata, event_hash, prev_event_hash
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`,
		evt.ID, evt.JobID, seq+1, string(evt.EventType), evt.OccurredAt,
		evt.Actor.UserID, evt.Actor.Name, evt.Actor.Platform, evt.Actor.Lat, evt.Actor.Lng,
		string(evt.SyncStatus), metadata, evt.EventHash, evt.PreviousEventHash,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
			// A concurrent append claimed this seq first.
			return ErrChainConflict
		}
		return fmt.Errorf("insert audit event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit audit event: %w", err)
	}
	return nil
}

// List returns a job's events oldest first.
func (r *PostgresRepository) List(ctx context.Context, jobID string) ([]*AuditEvent, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, job_id, event_type, occurred_at,
		       actor_user_id, actor_name, actor_platform, actor_lat, actor_lng,
		       sync_status, metadata, event_hash, prev_event_hash
		FROM audit_events
		WHERE job_id = $1
		ORDER BY seq ASC
	`, jobID)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	var events []*AuditEvent
	for rows.Next() {
		var evt AuditEvent
		var eventType, syncStatus string
		var platform sql.NullString
		var metadata []byte

		if err := rows.Scan(
			&evt.ID, &evt.JobID, &eventType, &evt.OccurredAt,
			&evt.Actor.UserID, &evt.Actor.Name, &platform, &evt.Actor.Lat, &evt.Actor.Lng,
			&syncStatus, &metadata, &evt.EventHash, &evt.PreviousEventHash,
		); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		evt.EventType = EventType(eventType)
		evt.SyncStatus = SyncStatus(syncStatus)
		evt.Actor.Platform = platform.String
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &evt.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal metadata: %w", err)
			}
		}
		events = append(events, &evt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return events, nil
}

// LastHash returns the chain head hash for a job.
func (r *PostgresRepository) LastHash(ctx context.Context, jobID string) (string, error) {
	var hash string
	err := r.db.QueryRowContext(ctx, `
		SELECT event_hash FROM audit_events
		WHERE job_id = $1
		ORDER BY seq DESC
		LIMIT 1
	`, jobID).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return GenesisHash, nil
	}
	if err != nil {
		return "", fmt.Errorf("read chain head: %w", err)
	}
	return hash, nil
}
