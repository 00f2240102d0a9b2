package seal

import (
	"context"
	"log/slog"

	"github.com/jobproof/jobproof/internal/canonical"
)

// VerificationResult reports a stored seal's integrity.
type VerificationResult struct {
	// HashValid is true when the evidence hash recomputed from the stored
	// bundle equals the stored hash. False means the stored bundle or hash
	// was tampered with after sealing.
	HashValid bool `json:"hash_valid"`

	// SignatureValid is true when the stored signature verifies against the
	// stored hash. Only meaningful when SignatureChecked is true.
	SignatureValid bool `json:"signature_valid"`

	// SignatureChecked is false when the configured signer's algorithm does
	// not match the seal's recorded algorithm, so the signature could not be
	// re-checked with the available key material.
	SignatureChecked bool `json:"signature_checked"`

	Algorithm string `json:"algorithm"`
}

// Valid reports whether every performed check passed.
func (r VerificationResult) Valid() bool {
	if !r.HashValid {
		return false
	}
	if r.SignatureChecked && !r.SignatureValid {
		return false
	}
	return true
}

// VerifySeal re-verifies a stored seal: it recomputes the evidence hash from
// the stored bundle through the same canonicalization path used at seal
// time, and re-checks the signature when the configured key material matches
// the seal's recorded algorithm. Read-only.
func (c *Coordinator) VerifySeal(ctx context.Context, jobID string) (VerificationResult, error) {
	s, err := c.seals.GetByJob(ctx, jobID)
	if err != nil {
		return VerificationResult{}, err
	}

	result := VerificationResult{Algorithm: string(s.Algorithm)}

	recomputed, _, err := canonical.SumObject(s.EvidenceBundle.CanonicalPayload())
	if err != nil {
		return result, err
	}
	result.HashValid = recomputed == s.EvidenceHash

	if c.signer != nil && c.signer.Algorithm() == s.Algorithm {
		result.SignatureChecked = true
		result.SignatureValid = c.signer.Verify(s.EvidenceHash, s.Signature) == nil
	}

	if !result.Valid() {
		c.logger.Warn("seal verification failed",
			slog.String("job_id", jobID),
			slog.Bool("hash_valid", result.HashValid),
			slog.Bool("signature_checked", result.SignatureChecked),
			slog.Bool("signature_valid", result.SignatureValid))
	}
	return result, nil
}
