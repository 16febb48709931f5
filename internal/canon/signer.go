package canon

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"workmem/internal/model"
)

// SecretLen is the required signing secret length in bytes.
const SecretLen = 32

// Signer computes keyed signatures over canonical forms. The zero Signer has
// no key and fails all operations with ErrNoSigningKey.
type Signer struct {
	key []byte
}

// NewSigner wraps a fixed-length secret. An empty key yields a keyless
// signer; governance minting against it fails explicitly rather than
// silently degrading.
func NewSigner(key []byte) *Signer {
	return &Signer{key: key}
}

// LoadSecret reads a hex-encoded signing secret from path. A missing file is
// not an error at load time; it returns a keyless signer so only signing
// operations fail.
func LoadSecret(path string) (*Signer, error) {
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &Signer{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read signing secret: %w", err)
	}
	key, err := hex.DecodeString(strings.TrimSpace(string(b)))
	if err != nil {
		return nil, fmt.Errorf("decode signing secret: %w", err)
	}
	if len(key) != SecretLen {
		return nil, fmt.Errorf("signing secret must be %d bytes, got %d", SecretLen, len(key))
	}
	return &Signer{key: key}, nil
}

// WriteSecret generates a fresh secret and writes it hex-encoded to path.
func WriteSecret(path string) error {
	key := make([]byte, SecretLen)
	if _, err := rand.Read(key); err != nil {
		return fmt.Errorf("generate signing secret: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create secret dir: %w", err)
	}
	return os.WriteFile(path, []byte(hex.EncodeToString(key)+"\n"), 0o600)
}

// HasKey reports whether a secret is loaded.
func (s *Signer) HasKey() bool {
	return len(s.key) == SecretLen
}

// Sign returns the hex HMAC-SHA256 of the canonical form of v.
func (s *Signer) Sign(v any) (string, error) {
	if !s.HasKey() {
		return "", model.ErrNoSigningKey
	}
	c, err := Canonicalize(v)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, s.key)
	mac.Write([]byte(c))
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// Verify reports whether sig is the valid signature of v. Comparison is
// constant time.
func (s *Signer) Verify(v any, sig string) (bool, error) {
	want, err := s.Sign(v)
	if err != nil {
		return false, err
	}
	return hmac.Equal([]byte(want), []byte(sig)), nil
}
