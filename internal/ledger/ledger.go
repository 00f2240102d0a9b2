package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Append validation errors.
var (
	ErrEmptyJobID       = errors.New("job id cannot be empty")
	ErrUnknownEventType = errors.New("unknown event type")
	ErrEmptyActor       = errors.New("actor user id cannot be empty")
)

// maxAppendRetries bounds how many times an append is retried after losing a
// chain-head race before giving up.
const maxAppendRetries = 5

// Ledger is the append-only audit ledger. It owns hash computation and chain
// linkage; durability is delegated to a Repository.
type Ledger struct {
	repo    Repository
	logger  *slog.Logger
	metrics *Metrics
	now     func() time.Time
}

// Option customizes a Ledger.
type Option func(*Ledger)

// WithMetrics attaches prometheus metrics to the ledger.
func WithMetrics(m *Metrics) Option {
	return func(l *Ledger) { l.metrics = m }
}

// WithClock overrides the timestamp source, for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// New creates a Ledger on top of repo.
func New(repo Repository, logger *slog.Logger, opts ...Option) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Ledger{
		repo:   repo,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Append records a new evidence lifecycle event for a job and returns the
// persisted event. Appends for a single job are serialized: when a
// concurrent append wins the chain head, the losing append re-reads the head
// and retries, so two events can never share a predecessor.
//
// The append is atomic: on any error no partial event is persisted and the
// chain head does not advance.
func (l *Ledger) Append(ctx context.Context, jobID string, eventType EventType, actor Actor, metadata map[string]any) (*AuditEvent, error) {
	if jobID == "" {
		return nil, ErrEmptyJobID
	}
	if !eventType.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, eventType)
	}
	if actor.UserID == "" {
		return nil, ErrEmptyActor
	}

	for attempt := 0; attempt <= maxAppendRetries; attempt++ {
		head, err := l.repo.LastHash(ctx, jobID)
		if err != nil {
			return nil, fmt.Errorf("read chain head: %w", err)
		}

		evt := &AuditEvent{
			ID:                uuid.New().String(),
			JobID:             jobID,
			EventType:         eventType,
			OccurredAt:        l.now().UTC(),
			Actor:             actor,
			SyncStatus:        SyncSynced,
			Metadata:          metadata,
			PreviousEventHash: head,
		}
		evt.EventHash, err = ComputeEventHash(evt)
		if err != nil {
			return nil, fmt.Errorf("compute event hash: %w", err)
		}

		err = l.repo.Append(ctx, evt)
		if errors.Is(err, ErrChainConflict) {
			if l.metrics != nil {
				l.metrics.IncAppendConflicts()
			}
			l.logger.Debug("audit append lost chain-head race, retrying",
				slog.String("job_id", jobID),
				slog.Int("attempt", attempt+1))
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("append audit event: %w", err)
		}

		if l.metrics != nil {
			l.metrics.IncEventsAppended()
		}
		return evt, nil
	}

	return nil, fmt.Errorf("append audit event for job %s: %w", jobID, ErrChainConflict)
}

// List returns a job's events oldest first. Read-only and restartable.
func (l *Ledger) List(ctx context.Context, jobID string) ([]*AuditEvent, error) {
	if jobID == "" {
		return nil, ErrEmptyJobID
	}
	return l.repo.List(ctx, jobID)
}
