package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Ap3pp3rs94/vcp-audit/internal/signer"
)

// SavePublicKey writes a signer's public key export document to path.
func SavePublicKey(path string, export signer.PublicKeyExport) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("store: create key export directory: %w", err)
	}
	b, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return fmt.Errorf("store: marshal public key export: %w", err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("store: write public key export: %w", err)
	}
	return nil
}

// LoadPublicKey reads a public key export document, as consumed by the
// offline verifier's key set.
func LoadPublicKey(path string) (signer.PublicKeyExport, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return signer.PublicKeyExport{}, fmt.Errorf("store: read public key export: %w", err)
	}
	var out signer.PublicKeyExport
	if err := json.Unmarshal(b, &out); err != nil {
		return signer.PublicKeyExport{}, fmt.Errorf("store: parse public key export: %w", err)
	}
	return out, nil
}
