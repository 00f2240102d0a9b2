package canonical

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// DigestPrefix identifies the digest algorithm in stored hash strings.
// Every digest persisted by this service is of the form "sha256:<hex>".
const DigestPrefix = "sha256:"

// Sum computes the SHA-256 digest of b and returns it in the prefixed
// "sha256:<hex>" string form. A nil or empty input is a valid zero-length
// message, never an error.
func Sum(b []byte) string {
	sum := sha256.Sum256(b)
	return DigestPrefix + hex.EncodeToString(sum[:])
}

// SumObject canonically serializes v and digests the result. Returns the
// prefixed digest and the canonical bytes that produced it, so callers can
// persist both.
func SumObject(v any) (string, []byte, error) {
	b, err := Marshal(v)
	if err != nil {
		return "", nil, err
	}
	return Sum(b), b, nil
}

// DigestBytes decodes the raw 32 bytes of a prefixed digest string.
// Returns false if the string is not a well-formed "sha256:<hex>" digest.
func DigestBytes(digest string) ([]byte, bool) {
	hexPart, ok := strings.CutPrefix(digest, DigestPrefix)
	if !ok {
		return nil, false
	}
	raw, err := hex.DecodeString(hexPart)
	if err != nil || len(raw) != sha256.Size {
		return nil, false
	}
	return raw, true
}
