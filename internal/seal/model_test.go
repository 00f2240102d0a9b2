package seal

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"sync"
	"testing"
	"time"

	"github.com/jobproof/jobproof/internal/canonical"
)

var (
	verifyKeyOnce sync.Once
	verifyKeyPEM  string
)

// verifyTestKeyPEM lazily generates one RSA-2048 key shared across tests.
func verifyTestKeyPEM(t *testing.T) string {
	t.Helper()
	verifyKeyOnce.Do(func() {
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			t.Fatalf("generate RSA key: %v", err)
		}
		verifyKeyPEM = string(pem.EncodeToMemory(&pem.Block{
			Type:  "RSA PRIVATE KEY",
			Bytes: x509.MarshalPKCS1PrivateKey(key),
		}))
	})
	return verifyKeyPEM
}

func TestEvidenceBundle_CanonicalPayload_Deterministic(t *testing.T) {
	sealedAt := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	actor := testActingUser()

	first := BuildBundle(testJob(), actor, sealedAt)
	second := BuildBundle(testJob(), actor, sealedAt)

	hashA, bytesA, err := canonical.SumObject(first.CanonicalPayload())
	if err != nil {
		t.Fatalf("SumObject() error = %v", err)
	}
	hashB, bytesB, err := canonical.SumObject(second.CanonicalPayload())
	if err != nil {
		t.Fatalf("SumObject() error = %v", err)
	}

	if hashA != hashB {
		t.Errorf("hashes differ for identical bundles: %s vs %s", hashA, hashB)
	}
	if string(bytesA) != string(bytesB) {
		t.Error("canonical bytes differ for identical bundles")
	}
}

func TestEvidenceBundle_CanonicalPayload_PhotoOrderMatters(t *testing.T) {
	sealedAt := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	actor := testActingUser()

	job := testJob()
	first := BuildBundle(job, actor, sealedAt)

	job.Photos[0], job.Photos[1] = job.Photos[1], job.Photos[0]
	second := BuildBundle(job, actor, sealedAt)

	hashA, _, err := canonical.SumObject(first.CanonicalPayload())
	if err != nil {
		t.Fatalf("SumObject() error = %v", err)
	}
	hashB, _, err := canonical.SumObject(second.CanonicalPayload())
	if err != nil {
		t.Fatalf("SumObject() error = %v", err)
	}
	if hashA == hashB {
		t.Error("reordering photos should change the evidence hash")
	}
}

func TestEvidenceBundle_CanonicalPayload_FixedFormats(t *testing.T) {
	lat := 51.5007325
	job := testJob()
	job.Photos = []PhotoRecord{{
		ID:         "p1",
		URL:        "https://evidence.example/p1.jpg",
		Type:       "before",
		CapturedAt: time.Date(2026, 8, 20, 9, 0, 0, 999_000_000, time.UTC),
		Lat:        &lat,
	}}

	bundle := BuildBundle(job, testActingUser(), time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC))
	payload := bundle.CanonicalPayload()

	photos := payload["photos"].([]any)
	photo := photos[0].(map[string]any)

	if got := photo["captured_at"]; got != "2026-08-20T09:00:00Z" {
		t.Errorf("captured_at = %v, want second-precision UTC", got)
	}
	if got := photo["lat"]; got != "51.5007325" {
		t.Errorf("lat = %v, want 7-decimal fixed format", got)
	}
	if _, present := photo["lng"]; present {
		t.Error("absent coordinate should be omitted, not zero-filled")
	}
}

func TestEvidenceBundle_CanonicalPayload_NoSignature(t *testing.T) {
	job := testJob()
	job.Signature = nil

	bundle := BuildBundle(job, testActingUser(), time.Now().UTC())
	if _, present := bundle.CanonicalPayload()["signature"]; present {
		t.Error("unsigned job should omit the signature block")
	}
}

func TestJob_Sealed(t *testing.T) {
	job := testJob()
	if job.Sealed() {
		t.Error("fresh job should not report sealed")
	}
	ts := time.Now().UTC()
	job.SealedAt = &ts
	if !job.Sealed() {
		t.Error("job with sealed_at should report sealed")
	}
}
