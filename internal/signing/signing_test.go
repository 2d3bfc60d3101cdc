package signing

import (
	"path/filepath"
	"testing"
)

func TestLoadOrCreateGeneratesThenReuses(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), "release-signing-key")

	first, err := LoadOrCreate(keyPath)
	if err != nil {
		t.Fatalf("LoadOrCreate (generate): %v", err)
	}
	data := []byte("manifest bytes")
	sig, err := first.Sign(data)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if !first.Verify(data, sig) {
		t.Fatal("expected freshly generated signer to verify its own signature")
	}

	second, err := LoadOrCreate(keyPath)
	if err != nil {
		t.Fatalf("LoadOrCreate (reuse): %v", err)
	}
	if !second.Verify(data, sig) {
		t.Fatal("expected the reloaded signer to verify a signature made before reload")
	}
}

func TestVerifyRejectsTamperedData(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), "release-signing-key")
	s, err := LoadOrCreate(keyPath)
	if err != nil {
		t.Fatalf("LoadOrCreate: %v", err)
	}
	sig, err := s.Sign([]byte("original"))
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if s.Verify([]byte("tampered"), sig) {
		t.Error("expected verification of tampered data to fail")
	}
}

func TestPublicKeyAuthorizedFormat(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), "release-signing-key")
	s, err := LoadOrCreate(keyPath)
	if err != nil {
		t.Fatalf("LoadOrCreate: %v", err)
	}
	out := s.PublicKeyAuthorized()
	if len(out) == 0 {
		t.Fatal("expected a non-empty authorized_keys line")
	}
	if out[len(out)-1] != '\n' {
		t.Error("expected ssh.MarshalAuthorizedKey output to be newline-terminated")
	}
}
