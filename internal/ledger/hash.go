package ledger

import (
	"github.com/jobproof/jobproof/internal/canonical"
)

// ComputeEventHash calculates the digest that chains an event to its
// predecessor. The hashed material is the canonical serialization of every
// evidence-bearing field plus PreviousEventHash. EventHash itself and
// SyncStatus (replication bookkeeping, mutable by design) are excluded.
func ComputeEventHash(e *AuditEvent) (string, error) {
	actor := map[string]any{
		"user_id":  e.Actor.UserID,
		"name":     e.Actor.Name,
		"platform": e.Actor.Platform,
	}
	// Coordinates enter the hash as fixed-precision strings so float
	// formatting cannot drift between capturing platforms.
	if e.Actor.Lat != nil {
		actor["lat"] = canonical.FormatCoordinate(*e.Actor.Lat)
	}
	if e.Actor.Lng != nil {
		actor["lng"] = canonical.FormatCoordinate(*e.Actor.Lng)
	}

	material := map[string]any{
		"id":                  e.ID,
		"job_id":              e.JobID,
		"event_type":          string(e.EventType),
		"occurred_at":         canonical.FormatTime(e.OccurredAt),
		"actor":               actor,
		"metadata":            e.Metadata,
		"previous_event_hash": e.PreviousEventHash,
	}

	digest, _, err := canonical.SumObject(material)
	if err != nil {
		return "", err
	}
	return digest, nil
}

// VerifyEventHash reports whether an event's stored hash matches the hash
// recomputed from its stored fields.
func VerifyEventHash(e *AuditEvent) bool {
	expected, err := ComputeEventHash(e)
	if err != nil {
		return false
	}
	return e.EventHash == expected
}
