// Package ledger implements the append-only, hash-chained audit trail of
// evidence lifecycle events. Every state change touching a job's evidence is
// recorded as an immutable AuditEvent linked to its predecessor, so any
// retroactive edit or deletion breaks the chain and is detectable.
package ledger

import (
	"time"
)

// GenesisHash is the fixed sentinel used as the previous hash of the first
// event in every job's chain.
const GenesisHash = "sha256:genesis"

// EventType categorizes an evidence lifecycle event. The set is closed:
// appends with an unknown type are rejected.
type EventType string

// Job lifecycle events.
const (
	EventJobCreated   EventType = "job_created"
	EventJobStarted   EventType = "job_started"
	EventJobCompleted EventType = "job_completed"
	EventJobSealed    EventType = "job_sealed"
)

// Photo evidence events.
const (
	EventPhotoCaptured EventType = "photo_captured"
	EventPhotoUploaded EventType = "photo_uploaded"
)

// Signature evidence events.
const (
	EventSignatureStarted   EventType = "signature_started"
	EventSignatureFinalized EventType = "signature_finalized"
)

// Location, checklist, and notes events.
const (
	EventLocationVerified      EventType = "location_verified"
	EventChecklistItemComplete EventType = "checklist_item_completed"
	EventNoteAdded             EventType = "note_added"
)

// Sync and security events.
const (
	EventSyncCompleted      EventType = "sync_completed"
	EventSyncFailed         EventType = "sync_failed"
	EventSealAttempted      EventType = "seal_attempted"
	EventVerificationFailed EventType = "verification_failed"
)

// ValidEventTypes is the whitelist of event types accepted by Append.
var ValidEventTypes = map[EventType]bool{
	EventJobCreated:            true,
	EventJobStarted:            true,
	EventJobCompleted:          true,
	EventJobSealed:             true,
	EventPhotoCaptured:         true,
	EventPhotoUploaded:         true,
	EventSignatureStarted:      true,
	EventSignatureFinalized:    true,
	EventLocationVerified:      true,
	EventChecklistItemComplete: true,
	EventNoteAdded:             true,
	EventSyncCompleted:         true,
	EventSyncFailed:            true,
	EventSealAttempted:         true,
	EventVerificationFailed:    true,
}

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool {
	return ValidEventTypes[t]
}

// SyncStatus describes whether an event record itself has reached durable
// server storage. It is bookkeeping about the record, not about the evidence,
// and is therefore excluded from the hashed material.
type SyncStatus string

const (
	SyncPending SyncStatus = "pending"
	SyncSynced  SyncStatus = "synced"
	SyncFailed  SyncStatus = "failed"
)

// Actor identifies who (and from which device) performed an action.
type Actor struct {
	UserID   string   `json:"user_id"`
	Name     string   `json:"name"`
	Platform string   `json:"platform,omitempty"`
	Lat      *float64 `json:"lat,omitempty"`
	Lng      *float64 `json:"lng,omitempty"`
}

// AuditEvent is one immutable record in a job's evidence chain.
//
// EventHash is a pure function of the event's canonical fields plus
// PreviousEventHash; recomputing it from stored fields must reproduce the
// stored value if the record is untampered.
type AuditEvent struct {
	ID                string         `json:"id"`
	JobID             string         `json:"job_id"`
	EventType         EventType      `json:"event_type"`
	OccurredAt        time.Time      `json:"occurred_at"`
	Actor             Actor          `json:"actor"`
	SyncStatus        SyncStatus     `json:"sync_status"`
	Metadata          map[string]any `json:"metadata,omitempty"`
	EventHash         string         `json:"event_hash"`
	PreviousEventHash string         `json:"previous_event_hash"`
}
