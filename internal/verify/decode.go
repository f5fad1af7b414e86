package verify

import (
	"encoding/base64"
	"fmt"
	"time"
)

func decodeProof(proofB64 string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(proofB64)
	if err != nil {
		return nil, fmt.Errorf("malformed proof encoding: %w", err)
	}
	return b, nil
}

func parseAnchoredAt(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("malformed anchored_at %q: %w", s, err)
	}
	return t, nil
}
