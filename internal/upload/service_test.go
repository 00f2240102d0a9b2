package upload

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func testService(t *testing.T) *Service {
	t.Helper()
	svc, err := NewService(ServiceConfig{
		BucketName:      "evidence",
		AccessKeyID:     "test-access-key",
		SecretAccessKey: "test-secret-key",
		Endpoint:        "https://storage.example.com",
		MaxSizeMB:       15,
	})
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	return svc
}

func TestNewService_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  ServiceConfig
	}{
		{"missing bucket", ServiceConfig{AccessKeyID: "k", SecretAccessKey: "s", Endpoint: "e"}},
		{"missing access key", ServiceConfig{BucketName: "b", SecretAccessKey: "s", Endpoint: "e"}},
		{"missing secret", ServiceConfig{BucketName: "b", AccessKeyID: "k", Endpoint: "e"}},
		{"missing endpoint", ServiceConfig{BucketName: "b", AccessKeyID: "k", SecretAccessKey: "s"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewService(tt.cfg); err == nil {
				t.Error("NewService() should fail on incomplete config")
			}
		})
	}
}

func TestValidateContentType(t *testing.T) {
	tests := []struct {
		contentType string
		wantErr     bool
	}{
		{MIMEImageJPEG, false},
		{MIMEImagePNG, false},
		{"image/gif", true},
		{"application/pdf", true},
		{"", true},
	}
	for _, tt := range tests {
		t.Run(tt.contentType, func(t *testing.T) {
			err := ValidateContentType(tt.contentType)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateContentType(%q) error = %v, wantErr %v", tt.contentType, err, tt.wantErr)
			}
		})
	}
}

func TestValidateFileSize(t *testing.T) {
	svc := testService(t)

	if err := svc.ValidateFileSize(5 * 1024 * 1024); err != nil {
		t.Errorf("5MB should be allowed: %v", err)
	}
	if err := svc.ValidateFileSize(16 * 1024 * 1024); !errors.Is(err, ErrFileTooLarge) {
		t.Errorf("16MB error = %v, want ErrFileTooLarge", err)
	}
	if err := svc.ValidateFileSize(0); err == nil {
		t.Error("zero size should be rejected")
	}
	if err := svc.ValidateFileSize(-1); err == nil {
		t.Error("negative size should be rejected")
	}
}

func TestGenerateObjectKey(t *testing.T) {
	key, err := GenerateObjectKey(MIMEImageJPEG, "job-42", KindPhoto)
	if err != nil {
		t.Fatalf("GenerateObjectKey() error = %v", err)
	}
	if !strings.HasPrefix(key, "jobs/job-42/photo/") {
		t.Errorf("key = %q, want jobs/job-42/photo/ prefix", key)
	}
	if !strings.HasSuffix(key, ".jpg") {
		t.Errorf("key = %q, want .jpg suffix", key)
	}
}

func TestGenerateObjectKey_SignatureKind(t *testing.T) {
	key, err := GenerateObjectKey(MIMEImagePNG, "job-42", KindSignature)
	if err != nil {
		t.Fatalf("GenerateObjectKey() error = %v", err)
	}
	if !strings.HasPrefix(key, "jobs/job-42/signature/") {
		t.Errorf("key = %q, want jobs/job-42/signature/ prefix", key)
	}
	if !strings.HasSuffix(key, ".png") {
		t.Errorf("key = %q, want .png suffix", key)
	}
}

func TestGenerateObjectKey_SanitizesJobID(t *testing.T) {
	key, err := GenerateObjectKey(MIMEImageJPEG, "job/../../etc", KindPhoto)
	if err != nil {
		t.Fatalf("GenerateObjectKey() error = %v", err)
	}
	if strings.Contains(key, "..") {
		t.Errorf("key = %q, path traversal characters should be stripped", key)
	}
	if !strings.HasPrefix(key, "jobs/jobetc/photo/") {
		t.Errorf("key = %q, want sanitized jobs/jobetc/photo/ prefix", key)
	}
}

func TestGenerateObjectKey_Errors(t *testing.T) {
	if _, err := GenerateObjectKey("image/gif", "job-1", KindPhoto); !errors.Is(err, ErrUnsupportedType) {
		t.Errorf("error = %v, want ErrUnsupportedType", err)
	}
	if _, err := GenerateObjectKey(MIMEImageJPEG, "job-1", "video"); !errors.Is(err, ErrInvalidKind) {
		t.Errorf("error = %v, want ErrInvalidKind", err)
	}
	if _, err := GenerateObjectKey(MIMEImageJPEG, "///", KindPhoto); !errors.Is(err, ErrInvalidJobID) {
		t.Errorf("error = %v, want ErrInvalidJobID", err)
	}
}

func TestGenerateObjectKey_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 10; i++ {
		key, err := GenerateObjectKey(MIMEImageJPEG, "job-1", KindPhoto)
		if err != nil {
			t.Fatalf("GenerateObjectKey() error = %v", err)
		}
		if seen[key] {
			t.Fatalf("duplicate key generated: %q", key)
		}
		seen[key] = true
	}
}

func TestGenerateSignedURL(t *testing.T) {
	svc := testService(t)
	fixed := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	svc.timeNow = func() time.Time { return fixed }

	resp, err := svc.GenerateSignedURL(context.Background(), SignedURLRequest{
		ContentType: MIMEImageJPEG,
		SizeBytes:   1024,
		JobID:       "job-42",
		Kind:        KindPhoto,
	})
	if err != nil {
		t.Fatalf("GenerateSignedURL() error = %v", err)
	}
	if resp.URL == "" {
		t.Error("signed URL should not be empty")
	}
	if !strings.HasPrefix(resp.Key, "jobs/job-42/photo/") {
		t.Errorf("key = %q, want jobs/job-42/photo/ prefix", resp.Key)
	}
	if want := fixed.Add(5 * time.Minute); !resp.ExpiresAt.Equal(want) {
		t.Errorf("expires_at = %v, want %v", resp.ExpiresAt, want)
	}
}

func TestGenerateSignedURL_RejectsInvalidRequests(t *testing.T) {
	svc := testService(t)
	ctx := context.Background()

	if _, err := svc.GenerateSignedURL(ctx, SignedURLRequest{ContentType: "image/gif", SizeBytes: 1024, JobID: "job-1", Kind: KindPhoto}); !errors.Is(err, ErrUnsupportedType) {
		t.Errorf("error = %v, want ErrUnsupportedType", err)
	}
	if _, err := svc.GenerateSignedURL(ctx, SignedURLRequest{ContentType: MIMEImageJPEG, SizeBytes: 100 * 1024 * 1024, JobID: "job-1", Kind: KindPhoto}); !errors.Is(err, ErrFileTooLarge) {
		t.Errorf("error = %v, want ErrFileTooLarge", err)
	}
}
