package ledger

import (
	"context"
	"errors"
	"sync"
)

// Repository errors.
var (
	// ErrChainConflict is returned when an append's PreviousEventHash no
	// longer matches the chain head, i.e. a concurrent append won the race.
	ErrChainConflict = errors.New("audit chain advanced concurrently")
)

// Repository persists per-job event chains. The public contract has no
// update or delete: events are pure additions.
type Repository interface {
	// Append persists evt as the successor of the event whose hash equals
	// evt.PreviousEventHash. If the chain head has moved, it returns
	// ErrChainConflict and persists nothing. The check and the insert are
	// atomic with respect to concurrent appends for the same job.
	Append(ctx context.Context, evt *AuditEvent) error

	// List returns a job's events oldest first. An unknown job yields an
	// empty slice, not an error.
	List(ctx context.Context, jobID string) ([]*AuditEvent, error)

	// LastHash returns the chain head hash for a job, or GenesisHash when
	// the job has no events yet.
	LastHash(ctx context.Context, jobID string) (string, error)
}

// InMemoryRepository is an in-memory implementation of Repository.
// Used for testing and development. Thread-safe; appends for the same job
// are serialized by a single lock, appends to different jobs only contend on
// the map access.
type InMemoryRepository struct {
	mu     sync.RWMutex
	chains map[string][]*AuditEvent
}

// NewInMemoryRepository creates a new in-memory ledger repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		chains: make(map[string][]*AuditEvent),
	}
}

// Append persists evt if its PreviousEventHash matches the chain head.
func (r *InMemoryRepository) Append(_ context.Context, evt *AuditEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	head := GenesisHash
	chain := r.chains[evt.JobID]
	if len(chain) > 0 {
		head = chain[len(chain)-1].EventHash
	}
	if evt.PreviousEventHash != head {
		return ErrChainConflict
	}

	evtCopy := copyEvent(evt)
	r.chains[evt.JobID] = append(chain, evtCopy)
	return nil
}

// List returns a job's events oldest first.
func (r *InMemoryRepository) List(_ context.Context, jobID string) ([]*AuditEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	chain := r.chains[jobID]
	out := make([]*AuditEvent, 0, len(chain))
	for _, evt := range chain {
		out = append(out, copyEvent(evt))
	}
	return out, nil
}

// LastHash returns the chain head hash for a job.
func (r *InMemoryRepository) LastHash(_ context.Context, jobID string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	chain := r.chains[jobID]
	if len(chain) == 0 {
		return GenesisHash, nil
	}
	return chain[len(chain)-1].EventHash, nil
}

// copyEvent returns a deep copy so callers cannot mutate stored state.
func copyEvent(evt *AuditEvent) *AuditEvent {
	evtCopy := *evt
	if evt.Actor.Lat != nil {
		lat := *evt.Actor.Lat
		evtCopy.Actor.Lat = &lat
	}
	if evt.Actor.Lng != nil {
		lng := *evt.Actor.Lng
		evtCopy.Actor.Lng = &lng
	}
	if evt.Metadata != nil {
		md := make(map[string]any, len(evt.Metadata))
		for k, v := range evt.Metadata {
			md[k] = v
		}
		evtCopy.Metadata = md
	}
	return &evtCopy
}
