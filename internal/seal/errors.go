package seal

import (
	"errors"
	"fmt"
	"time"
)

// Sealing precondition and persistence errors.
var (
	// ErrJobNotFound is returned when the referenced job has no record.
	ErrJobNotFound = errors.New("job not found")

	// ErrWorkspaceMismatch is returned when the acting user's workspace does
	// not own the job. Logged as a potential security event, never silent.
	ErrWorkspaceMismatch = errors.New("acting user's workspace does not own this job")

	// ErrSealExists is returned by repositories when a seal row already
	// exists for the job.
	ErrSealExists = errors.New("seal already exists for job")

	// ErrSealNotFound is returned when no seal exists for the job.
	ErrSealNotFound = errors.New("no seal found for job")

	// ErrSealConflict is returned by JobStore.MarkSealed when the job's
	// sealed flag was set concurrently: the conditional update matched no
	// rows because another seal won the race.
	ErrSealConflict = errors.New("job was sealed concurrently")
)

// AlreadySealedError is returned when sealing a job that already carries a
// seal. It carries the existing seal timestamp so callers can short-circuit
// instead of treating this as a system failure.
type AlreadySealedError struct {
	SealedAt time.Time
}

func (e *AlreadySealedError) Error() string {
	return fmt.Sprintf("job already sealed at %s", e.SealedAt.UTC().Format(time.RFC3339))
}

// SigningError wraps a failed cryptographic signing operation. Nothing has
// been persisted when it occurs.
type SigningError struct {
	Err error
}

func (e *SigningError) Error() string { return fmt.Sprintf("signing failed: %v", e.Err) }
func (e *SigningError) Unwrap() error { return e.Err }

// PersistenceError wraps a failed seal insert or job update. Op names the
// step that failed.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }
func (e *PersistenceError) Unwrap() error { return e.Err }
