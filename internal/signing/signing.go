// Package signing provides a detached-signature Signer for manifests
// (spec.md §3: "signing extends with detached signature alongside").
// Key handling and the choice to work with ssh.Signer rather than a
// raw ed25519.PrivateKey follow sshimmer's getOrCreateCA/
// getOrCreateKeyPair idiom: generate once, persist to disk as an
// OpenSSH-format private key, and sign through the ssh.Signer
// interface thereafter rather than re-deriving the raw key.
package signing

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"fmt"
	"os"

	"golang.org/x/crypto/ssh"

	"github.com/joyshmitz/doodlestein-self-releaser/internal/guard"
)

// Signer produces and verifies detached signatures over manifest
// bytes.
type Signer interface {
	Sign(data []byte) ([]byte, error)
	Verify(data, signature []byte) bool
}

// PermissionError reports a signing key file whose on-disk mode is
// wider than the minimum this package will trust (spec.md §7:
// PermissionDenied).
type PermissionError struct {
	Path string
	Mode os.FileMode
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("signing: key at %s has mode %04o, want 0600 or stricter", e.Path, e.Mode.Perm())
}

// Ed25519Signer is the reference Signer implementation, backed by an
// ssh.Signer so the same key material can also be distributed as an
// authorized_keys line for operator-side verification tooling.
type Ed25519Signer struct {
	signer ssh.Signer
}

// LoadOrCreate reads an ed25519 private key from keyPath, generating
// and persisting a new one (0600) if none exists yet.
func LoadOrCreate(keyPath string) (*Ed25519Signer, error) {
	if info, err := os.Stat(keyPath); err == nil {
		if info.Mode().Perm()&^0600 != 0 {
			return nil, &PermissionError{Path: keyPath, Mode: info.Mode()}
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("signing: stat %s: %w", keyPath, err)
	}

	if data, err := os.ReadFile(keyPath); err == nil {
		signer, err := ssh.ParsePrivateKey(data)
		if err != nil {
			return nil, fmt.Errorf("signing: parsing key at %s: %w", keyPath, err)
		}
		if signer.PublicKey().Type() != ssh.KeyAlgoED25519 {
			return nil, fmt.Errorf("signing: key at %s is not ed25519", keyPath)
		}
		return &Ed25519Signer{signer: signer}, nil
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("signing: reading key at %s: %w", keyPath, err)
	}

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("signing: generating key: %w", err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		return nil, fmt.Errorf("signing: wrapping generated key: %w", err)
	}

	pemBlock, err := ssh.MarshalPrivateKey(priv, "release signing key")
	if err != nil {
		return nil, fmt.Errorf("signing: encoding key: %w", err)
	}
	if err := guard.SafeWriteFile(keyPath, pem.EncodeToMemory(pemBlock), 0o600); err != nil {
		return nil, fmt.Errorf("signing: writing key to %s: %w", keyPath, err)
	}
	return &Ed25519Signer{signer: signer}, nil
}

// Sign returns the raw signature blob of an ed25519 detached
// signature over data.
func (s *Ed25519Signer) Sign(data []byte) ([]byte, error) {
	sig, err := s.signer.Sign(rand.Reader, data)
	if err != nil {
		return nil, fmt.Errorf("signing: signing data: %w", err)
	}
	return sig.Blob, nil
}

// Verify reports whether signature is a valid ed25519 signature over
// data under s's public key.
func (s *Ed25519Signer) Verify(data, signature []byte) bool {
	sig := &ssh.Signature{Format: ssh.KeyAlgoED25519, Blob: signature}
	return s.signer.PublicKey().Verify(data, sig) == nil
}

// PublicKeyAuthorized returns s's public key in OpenSSH
// authorized_keys format, for operators who want to distribute a
// verification key independent of the signing key file.
func (s *Ed25519Signer) PublicKeyAuthorized() []byte {
	return ssh.MarshalAuthorizedKey(s.signer.PublicKey())
}
