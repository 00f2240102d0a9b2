// Package seal implements cryptographic sealing of a job's evidence bundle:
// assembling a point-in-time snapshot of the proof of work, digesting it
// deterministically, signing the digest, and transitioning the job to its
// terminal sealed state as one logically atomic operation.
package seal

import (
	"time"

	"github.com/jobproof/jobproof/internal/canonical"
	"github.com/jobproof/jobproof/internal/signature"
)

// BundleFormatVersion is stamped into every bundle's provenance block so
// future re-verification knows which canonicalization rules were in force.
const BundleFormatVersion = "1"

// JobStatusSealed is the terminal job status set by a successful seal.
const JobStatusSealed = "sealed"

// PhotoRecord is one photo in an evidence bundle, in capture order.
type PhotoRecord struct {
	ID         string    `json:"id"`
	URL        string    `json:"url"`
	Type       string    `json:"type"` // "before", "after", "detail"
	CapturedAt time.Time `json:"captured_at"`
	Lat        *float64  `json:"lat,omitempty"`
	Lng        *float64  `json:"lng,omitempty"`
}

// SignatureRecord is the customer sign-off captured on device.
type SignatureRecord struct {
	ImageURL   string    `json:"image_url"`
	SignerName string    `json:"signer_name"`
	SignerRole string    `json:"signer_role,omitempty"`
	SignedAt   time.Time `json:"signed_at"`
}

// Provenance records who sealed the bundle and under which format rules.
type Provenance struct {
	SealedAt      time.Time `json:"sealed_at"`
	SealedBy      string    `json:"sealed_by"`
	FormatVersion string    `json:"format_version"`
}

// EvidenceBundle is the assembled snapshot of everything constituting proof
// of work for one job. Built fresh at seal time; never mutated afterward.
type EvidenceBundle struct {
	JobID       string           `json:"job_id"`
	WorkspaceID string           `json:"workspace_id"`
	Title       string           `json:"title"`
	ClientName  string           `json:"client_name,omitempty"`
	Photos      []PhotoRecord    `json:"photos"`
	Signature   *SignatureRecord `json:"signature,omitempty"`
	Provenance  Provenance       `json:"provenance"`
}

// CanonicalPayload renders the bundle as the generic tree that gets hashed.
// Timestamps and coordinates are pre-formatted to their fixed textual
// representations so the digest cannot drift across platforms. Photo order
// is preserved: capture order is itself evidence.
func (b *EvidenceBundle) CanonicalPayload() map[string]any {
	photos := make([]any, 0, len(b.Photos))
	for _, p := range b.Photos {
		photo := map[string]any{
			"id":          p.ID,
			"url":         p.URL,
			"type":        p.Type,
			"captured_at": canonical.FormatTime(p.CapturedAt),
		}
		if p.Lat != nil {
			photo["lat"] = canonical.FormatCoordinate(*p.Lat)
		}
		if p.Lng != nil {
			photo["lng"] = canonical.FormatCoordinate(*p.Lng)
		}
		photos = append(photos, photo)
	}

	payload := map[string]any{
		"job_id":       b.JobID,
		"workspace_id": b.WorkspaceID,
		"title":        b.Title,
		"client_name":  b.ClientName,
		"photos":       photos,
		"provenance": map[string]any{
			"sealed_at":      canonical.FormatTime(b.Provenance.SealedAt),
			"sealed_by":      b.Provenance.SealedBy,
			"format_version": b.Provenance.FormatVersion,
		},
	}
	if b.Signature != nil {
		payload["signature"] = map[string]any{
			"image_url":   b.Signature.ImageURL,
			"signer_name": b.Signature.SignerName,
			"signer_role": b.Signature.SignerRole,
			"signed_at":   canonical.FormatTime(b.Signature.SignedAt),
		}
	}
	return payload
}

// Seal is the cryptographic attestation over one evidence bundle. At most
// one Seal exists per job, ever; "unsealing" is not an operation.
type Seal struct {
	JobID            string              `json:"job_id"`
	WorkspaceID      string              `json:"workspace_id"`
	EvidenceHash     string              `json:"evidence_hash"`
	Signature        string              `json:"signature"`
	Algorithm        signature.Algorithm `json:"algorithm"`
	SealedByUserID   string              `json:"sealed_by_user_id"`
	SealedByIdentity string              `json:"sealed_by_identity"`
	SealedAt         time.Time           `json:"sealed_at"`
	// EvidenceBundle is stored alongside the attestation so the hash can be
	// recomputed offline for re-verification.
	EvidenceBundle EvidenceBundle `json:"evidence_bundle"`
}

// Job is the sealing subsystem's read view of the external job store.
type Job struct {
	ID          string
	WorkspaceID string
	Title       string
	ClientName  string
	Status      string
	Photos      []PhotoRecord
	Signature   *SignatureRecord
	SealedAt    *time.Time
}

// Sealed reports whether the job has already been sealed.
func (j *Job) Sealed() bool {
	return j.SealedAt != nil
}

// ActingUser is the identity performing the seal.
type ActingUser struct {
	UserID      string
	Name        string
	WorkspaceID string
	Platform    string
}
