package seal

import (
	"context"
	"sync"
	"time"
)

// Repository persists seals. Implementations must enforce at most one seal
// per job at the storage layer, not just in the coordinator.
type Repository interface {
	// Insert persists a new seal. Returns ErrSealExists if the job already
	// has one.
	Insert(ctx context.Context, s *Seal) error

	// Delete removes a seal. Only the coordinator's rollback compensation
	// calls this; sealed jobs are never unsealed through the public API.
	Delete(ctx context.Context, jobID string) error

	// GetByJob retrieves the seal for a job, or ErrSealNotFound.
	GetByJob(ctx context.Context, jobID string) (*Seal, error)
}

// JobStore is the sealing subsystem's boundary to the external job store.
type JobStore interface {
	// GetJob reads the job's current evidence state, or ErrJobNotFound.
	GetJob(ctx context.Context, jobID string) (*Job, error)

	// MarkSealed transitions the job to the terminal sealed state. The
	// update is conditional on the job not already being sealed; a lost
	// race returns ErrSealConflict and mutates nothing.
	MarkSealed(ctx context.Context, jobID string, sealedAt time.Time) error
}

// TokenInvalidator revokes access tokens tied to a job's pre-seal editable
// state. Invoked fire-and-forget after a successful seal.
type TokenInvalidator interface {
	InvalidateJobTokens(ctx context.Context, jobID string) error
}

// InMemoryRepository is an in-memory implementation of Repository.
// Used for testing and development. Thread-safe via RWMutex.
type InMemoryRepository struct {
	mu    sync.RWMutex
	seals map[string]*Seal
}

// NewInMemoryRepository creates a new in-memory seal repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{seals: make(map[string]*Seal)}
}

// Insert persists a new seal.
func (r *InMemoryRepository) Insert(_ context.Context, s *Seal) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.seals[s.JobID]; exists {
		return ErrSealExists
	}
	sealCopy := *s
	r.seals[s.JobID] = &sealCopy
	return nil
}

// Delete removes a seal.
func (r *InMemoryRepository) Delete(_ context.Context, jobID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.seals[jobID]; !exists {
		return ErrSealNotFound
	}
	delete(r.seals, jobID)
	return nil
}

// GetByJob retrieves the seal for a job.
func (r *InMemoryRepository) GetByJob(_ context.Context, jobID string) (*Seal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.seals[jobID]
	if !ok {
		return nil, ErrSealNotFound
	}
	sealCopy := *s
	return &sealCopy, nil
}

// InMemoryJobStore is an in-memory implementation of JobStore.
// Used for testing and development. Thread-safe via RWMutex.
type InMemoryJobStore struct {
	mu   sync.RWMutex
	jobs map[string]*Job
}

// NewInMemoryJobStore creates a new in-memory job store.
func NewInMemoryJobStore() *InMemoryJobStore {
	return &InMemoryJobStore{jobs: make(map[string]*Job)}
}

// Put stores or replaces a job.
func (s *InMemoryJobStore) Put(job *Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	jobCopy := copyJob(job)
	s.jobs[job.ID] = jobCopy
}

// GetJob reads the job's current evidence state.
func (s *InMemoryJobStore) GetJob(_ context.Context, jobID string) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, ErrJobNotFound
	}
	return copyJob(job), nil
}

// MarkSealed transitions the job to sealed, check-and-set style.
func (s *InMemoryJobStore) MarkSealed(_ context.Context, jobID string, sealedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return ErrJobNotFound
	}
	if job.SealedAt != nil {
		return ErrSealConflict
	}
	ts := sealedAt
	job.SealedAt = &ts
	job.Status = JobStatusSealed
	return nil
}

// copyJob returns a deep copy so callers cannot mutate stored state.
func copyJob(job *Job) *Job {
	jobCopy := *job
	jobCopy.Photos = make([]PhotoRecord, len(job.Photos))
	copy(jobCopy.Photos, job.Photos)
	if job.Signature != nil {
		sig := *job.Signature
		jobCopy.Signature = &sig
	}
	if job.SealedAt != nil {
		ts := *job.SealedAt
		jobCopy.SealedAt = &ts
	}
	return &jobCopy
}
