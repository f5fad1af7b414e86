// Package signer holds the long-lived Ed25519 key pair used to sign sealed
// events (component B). The reference algorithm is Ed25519 signing a raw
// 32-byte digest; crypto/ed25519 is the standard library's own
// implementation of exactly that primitive, so no third-party crypto
// library earns a place here (see DESIGN.md).
package signer

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
)

// Algorithm is the fixed signing algorithm identifier recorded in the public
// key export document.
const Algorithm = "ed25519"

var (
	// ErrNotReady is returned by Sign when no private key is loaded.
	ErrNotReady = errors.New("signer: not ready (no private key loaded)")
	// ErrBadSeed is returned when a loaded seed is the wrong size.
	ErrBadSeed = errors.New("signer: private key seed must be 32 bytes")
	// ErrBadDigest is returned when Sign is given anything but a 32-byte
	// SHA-256 digest (Verify simply reports false for one).
	ErrBadDigest = errors.New("signer: digest must be exactly 32 bytes")
)

// Signer owns an Ed25519 key pair. The zero value is not ready; construct
// with Generate, FromSeed, or LoadFromFiles.
type Signer struct {
	priv  ed25519.PrivateKey
	pub   ed25519.PublicKey
	keyID string
}

// Generate creates a fresh key pair using crypto/rand. Intended for
// bootstrapping a development keypair, not for production issuance.
func Generate() (*Signer, error) {
	return generate(rand.Reader)
}

func generate(r io.Reader) (*Signer, error) {
	pub, priv, err := ed25519.GenerateKey(r)
	if err != nil {
		return nil, fmt.Errorf("signer: generate: %w", err)
	}
	return fromKeyPair(pub, priv), nil
}

// FromSeed constructs a Signer from a raw 32-byte Ed25519 seed.
func FromSeed(seed []byte) (*Signer, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, ErrBadSeed
	}
	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)
	return fromKeyPair(pub, priv), nil
}

func fromKeyPair(pub ed25519.PublicKey, priv ed25519.PrivateKey) *Signer {
	sum := sha256.Sum256(pub)
	return &Signer{priv: priv, pub: pub, keyID: hex.EncodeToString(sum[:])}
}

// LoadFromFiles reads a raw 32-byte seed from privPath. The public key is
// always recomputed from the seed (never trusted blindly from disk); if
// pubPath is non-empty, the recomputed key is verified to match the bytes
// stored there, guarding against an operator pairing mismatched key files.
func LoadFromFiles(privPath, pubPath string) (*Signer, error) {
	seed, err := os.ReadFile(privPath)
	if err != nil {
		return nil, fmt.Errorf("signer: read private key: %w", err)
	}
	s, err := FromSeed(seed)
	if err != nil {
		return nil, err
	}
	if pubPath != "" {
		onDisk, err := os.ReadFile(pubPath)
		if err != nil {
			return nil, fmt.Errorf("signer: read public key: %w", err)
		}
		if !pubKeyMatches(onDisk, s.pub) {
			return nil, errors.New("signer: public key file does not match private key")
		}
	}
	return s, nil
}

func pubKeyMatches(onDisk []byte, pub ed25519.PublicKey) bool {
	if len(onDisk) == ed25519.PublicKeySize {
		return constantTimeEqual(onDisk, pub)
	}
	// Allow a hex-encoded public key file as a convenience format.
	decoded, err := hex.DecodeString(string(trimTrailingNewline(onDisk)))
	if err == nil && len(decoded) == ed25519.PublicKeySize {
		return constantTimeEqual(decoded, pub)
	}
	return false
}

func trimTrailingNewline(b []byte) []byte {
	for len(b) > 0 && (b[len(b)-1] == '\n' || b[len(b)-1] == '\r') {
		b = b[:len(b)-1]
	}
	return b
}

func constantTimeEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	var diff byte
	for i := range a {
		diff |= a[i] ^ b[i]
	}
	return diff == 0
}

// Ready reports whether a private key is loaded.
func (s *Signer) Ready() bool {
	return s != nil && len(s.priv) == ed25519.PrivateKeySize
}

// KeyID returns the stable identifier recorded on every sealed event as
// signer_key_id: the hex SHA-256 of the raw public key bytes.
func (s *Signer) KeyID() string {
	if s == nil {
		return ""
	}
	return s.keyID
}

// PublicKey returns the Ed25519 public key.
func (s *Signer) PublicKey() ed25519.PublicKey {
	if s == nil {
		return nil
	}
	return s.pub
}

// Seed returns the raw 32-byte private key seed, in the same format
// LoadFromFiles expects on disk. Callers persisting this must treat it as
// key material: restrictive file permissions, never logged.
func (s *Signer) Seed() []byte {
	if !s.Ready() {
		return nil
	}
	return s.priv.Seed()
}

// Sign produces a 64-byte detached signature over a raw 32-byte digest
// (event_hash's raw bytes, not its hex encoding).
func (s *Signer) Sign(digest []byte) ([]byte, error) {
	if !s.Ready() {
		return nil, ErrNotReady
	}
	if len(digest) != sha256.Size {
		return nil, ErrBadDigest
	}
	return ed25519.Sign(s.priv, digest), nil
}

// SignBase64 signs digest and base64-encodes the result, matching the
// SealedEvent.signature wire format.
func (s *Signer) SignBase64(digest []byte) (string, error) {
	sig, err := s.Sign(digest)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

// Verify checks a detached signature over digest using pub. It never
// panics on malformed input; any shape mismatch is simply not verified.
func Verify(pub ed25519.PublicKey, digest, sig []byte) bool {
	if len(pub) != ed25519.PublicKeySize || len(digest) != sha256.Size || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(pub, digest, sig)
}

// VerifyBase64 is Verify with a base64-encoded signature, matching how
// signatures are stored on a SealedEvent.
func VerifyBase64(pub ed25519.PublicKey, digest []byte, sigB64 string) bool {
	sig, err := base64.StdEncoding.DecodeString(sigB64)
	if err != nil {
		return false
	}
	return Verify(pub, digest, sig)
}

// PublicKeyExport is the persisted public key document described in
// spec section 6: key_id, algorithm, public_key (hex-encoded).
type PublicKeyExport struct {
	KeyID     string `json:"key_id"`
	Algorithm string `json:"algorithm"`
	PublicKey string `json:"public_key"`
}

// Export returns the public key document for this signer.
func (s *Signer) Export() PublicKeyExport {
	return PublicKeyExport{
		KeyID:     s.KeyID(),
		Algorithm: Algorithm,
		PublicKey: hex.EncodeToString(s.pub),
	}
}

// DecodePublicKeyHex parses a hex-encoded Ed25519 public key, as found in a
// PublicKeyExport document, for use by the offline verifier.
func DecodePublicKeyHex(hexStr string) (ed25519.PublicKey, error) {
	b, err := hex.DecodeString(hexStr)
	if err != nil {
		return nil, fmt.Errorf("signer: decode public key: %w", err)
	}
	if len(b) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("signer: public key must be %d bytes, got %d", ed25519.PublicKeySize, len(b))
	}
	return ed25519.PublicKey(b), nil
}
