// Package vcpevent defines the Event (input) and SealedEvent (persisted)
// data model from spec section 3, and schema validation for inbound events.
package vcpevent

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/Ap3pp3rs94/vcp-audit/internal/canonical"
	"github.com/Ap3pp3rs94/vcp-audit/internal/vcpvalue"
)

// Enumerated field values recognized by the schema.
var (
	EventTypes = map[string]bool{
		"ORDER_NEW":             true,
		"ORDER_FILLED":          true,
		"POSITION_CLOSE":        true,
		"ALGO_PARAMETER_CHANGE": true,
	}
	Tiers = map[string]bool{
		"SILVER":   true,
		"GOLD":     true,
		"PLATINUM": true,
	}
	ClockSyncs = map[string]bool{
		"BEST_EFFORT": true,
		"NTP_SYNCED":  true,
		"PTP_LOCKED":  true,
	}
)

// Event is the inbound record posted to /vcp/event.
type Event struct {
	VCPVersion string         `json:"vcp_version"`
	EventID    string         `json:"event_id"`
	Timestamp  string         `json:"timestamp"`
	EventType  string         `json:"event_type"`
	Tier       string         `json:"tier"`
	PolicyID   string         `json:"policy_id"`
	ClockSync  string         `json:"clock_sync"`
	SystemID   string         `json:"system_id"`
	AccountID  string         `json:"account_id"`
	Payload    vcpvalue.Value `json:"payload"`
}

// SealedEvent is an Event augmented with the pipeline's chain-link, digest,
// signature, and index fields (spec section 3). Once written, a SealedEvent
// is immutable for the life of the log.
type SealedEvent struct {
	Event
	PrevHash    string `json:"prev_hash,omitempty"`
	EventHash   string `json:"event_hash"`
	Signature   string `json:"signature"`
	MerkleIndex uint64 `json:"merkle_index"`
	SignerKeyID string `json:"signer_key_id"`
}

// ValidationError reports a single schema defect, with enough detail for a
// 400 response body.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("vcpevent: field %q: %s", e.Field, e.Reason)
}

// Validate checks the required-string-field and enumerated-value rules from
// spec section 3. It returns the first violation found; schema errors are
// not accumulated because the caller only needs one to reject the request.
func (e Event) Validate() error {
	required := []struct{ name, val string }{
		{"vcp_version", e.VCPVersion},
		{"event_id", e.EventID},
		{"timestamp", e.Timestamp},
		{"event_type", e.EventType},
		{"tier", e.Tier},
		{"policy_id", e.PolicyID},
		{"clock_sync", e.ClockSync},
		{"system_id", e.SystemID},
		{"account_id", e.AccountID},
	}
	for _, f := range required {
		if f.val == "" {
			return &ValidationError{Field: f.name, Reason: "required"}
		}
	}
	if !EventTypes[e.EventType] {
		return &ValidationError{Field: "event_type", Reason: "not a recognized event_type"}
	}
	if !Tiers[e.Tier] {
		return &ValidationError{Field: "tier", Reason: "not a recognized tier"}
	}
	if !ClockSyncs[e.ClockSync] {
		return &ValidationError{Field: "clock_sync", Reason: "not a recognized clock_sync"}
	}
	if !isPlausibleISO8601(e.Timestamp) {
		return &ValidationError{Field: "timestamp", Reason: "must be ISO-8601 UTC (suffix Z)"}
	}
	if e.Payload.Kind != vcpvalue.KindObject && !e.Payload.IsZero() {
		return &ValidationError{Field: "payload", Reason: "must be a JSON object"}
	}
	return nil
}

// RecomputeEventHash re-canonicalizes a SealedEvent's covered subset and
// returns the hex SHA-256 that should equal its stored event_hash. Used by
// both the query endpoints and the offline verifier so the two never drift
// apart on what "recompute" means.
func RecomputeEventHash(se SealedEvent) (string, error) {
	subset := canonical.Subset{
		VCPVersion: se.VCPVersion,
		EventID:    se.EventID,
		Timestamp:  se.Timestamp,
		EventType:  se.EventType,
		Tier:       se.Tier,
		PolicyID:   se.PolicyID,
		ClockSync:  se.ClockSync,
		SystemID:   se.SystemID,
		AccountID:  se.AccountID,
		Payload:    se.Payload,
		PrevHash:   se.PrevHash,
		HasPrev:    se.PrevHash != "" || se.MerkleIndex > 0,
	}
	b, err := subset.Encode()
	if err != nil {
		return "", err
	}
	digest := sha256.Sum256(b)
	return hex.EncodeToString(digest[:]), nil
}

// DecodeEventHash decodes a hex event_hash into its raw 32-byte digest, the
// form signatures are verified against.
func DecodeEventHash(eventHash string) ([]byte, error) {
	return hex.DecodeString(eventHash)
}

// isPlausibleISO8601 performs a cheap shape check rather than a full
// calendar-aware parse: timestamps are preserved verbatim for
// canonicalization (spec section 9's resolved open question), so over-eager
// parsing here would invite exactly the kind of normalize-then-diverge bug
// that design note warns about.
func isPlausibleISO8601(s string) bool {
	if len(s) < len("2006-01-02T15:04:05Z") {
		return false
	}
	if s[4] != '-' || s[7] != '-' || s[10] != 'T' {
		return false
	}
	last := s[len(s)-1]
	return last == 'Z' || last == 'z'
}
