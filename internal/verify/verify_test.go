package verify

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"path/filepath"
	"testing"
	"time"

	"github.com/Ap3pp3rs94/vcp-audit/internal/anchor"
	"github.com/Ap3pp3rs94/vcp-audit/internal/chain"
	"github.com/Ap3pp3rs94/vcp-audit/internal/merkle"
	"github.com/Ap3pp3rs94/vcp-audit/internal/signer"
	"github.com/Ap3pp3rs94/vcp-audit/internal/store"
	"github.com/Ap3pp3rs94/vcp-audit/internal/vcpevent"
	"github.com/Ap3pp3rs94/vcp-audit/internal/vcpvalue"
)

func buildChain(t *testing.T, n int) (*signer.Signer, []vcpevent.SealedEvent, string) {
	t.Helper()
	s, err := signer.Generate()
	if err != nil {
		t.Fatal(err)
	}
	dir := t.TempDir()
	logPath := filepath.Join(dir, "events.log")
	log, err := store.OpenEventLog(logPath)
	if err != nil {
		t.Fatal(err)
	}
	c := chain.New(s, merkle.New(), log)
	for i := 0; i < n; i++ {
		payload, _ := vcpvalue.Decode([]byte(`{"symbol":"BTCUSD","side":"BUY","qty":0.1}`))
		e := vcpevent.Event{
			VCPVersion: "1.0",
			EventID:    "E" + string(rune('0'+i)),
			Timestamp:  "2026-01-01T00:00:00.000Z",
			EventType:  "ORDER_NEW",
			Tier:       "GOLD",
			PolicyID:   "urn:policy:1",
			ClockSync:  "NTP_SYNCED",
			SystemID:   "sys-1",
			AccountID:  "acct-1",
			Payload:    payload,
		}
		if _, err := c.Append(context.Background(), e); err != nil {
			t.Fatal(err)
		}
	}
	if err := log.Close(); err != nil {
		t.Fatal(err)
	}
	events, err := store.Replay(logPath)
	if err != nil {
		t.Fatal(err)
	}
	return s, events, logPath
}

func keySetFor(t *testing.T, s *signer.Signer) KeySet {
	t.Helper()
	exp := s.Export()
	return KeySet{exp.KeyID: exp}
}

func TestVerifyCleanLogPassesAllChecks(t *testing.T) {
	s, events, _ := buildChain(t, 4)
	report := Verify(events, nil, keySetFor(t, s))
	if !report.OK {
		t.Fatalf("expected OK report, got %+v", report.Findings)
	}
}

func TestVerifyDetectsTamperedPayload(t *testing.T) {
	s, events, _ := buildChain(t, 3)
	events[1].Event.Payload, _ = vcpvalue.Decode([]byte(`{"symbol":"BTCUSD","side":"BUY","qty":9.9}`))

	report := Verify(events, nil, keySetFor(t, s))
	if report.OK {
		t.Fatal("expected tampered payload to fail verification")
	}
	found := false
	for _, f := range report.Findings {
		if f.EventID == "E1" && f.Check == CheckEventHash && f.Status == "fail" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected an event_hash failure for E1, got %+v", report.Findings)
	}
}

func TestVerifyDetectsSequenceGap(t *testing.T) {
	s, events, _ := buildChain(t, 5)
	events = append(events[:2], events[3:]...) // drop index 2

	report := Verify(events, nil, keySetFor(t, s))
	if report.OK {
		t.Fatal("expected a gap to fail verification")
	}
	var gapFound, chainFound bool
	for _, f := range report.Findings {
		if f.Check == CheckSequence && f.Status == "fail" {
			gapFound = true
		}
		if f.Check == CheckPrevHashChain && f.Status == "fail" {
			chainFound = true
		}
	}
	if !gapFound {
		t.Fatalf("expected sequence gap finding, got %+v", report.Findings)
	}
	if !chainFound {
		t.Fatalf("expected broken prev_hash chain finding, got %+v", report.Findings)
	}
}

// TestVerifyDetectsPrunedLeadingEvent covers the boundary case where the
// earliest record(s) of a replayed log are pruned: the new first element
// still carries its original, non-empty prev_hash. event_hash must still
// pass (it's recomputed from the record's own stored prev_hash, not from
// its position in the slice); only sequence/prev_hash_chain should fail.
func TestVerifyDetectsPrunedLeadingEvent(t *testing.T) {
	s, events, _ := buildChain(t, 5)
	pruned := events[1:] // drop index 0; new first element has prev_hash set

	report := Verify(pruned, nil, keySetFor(t, s))
	if report.OK {
		t.Fatal("expected pruned leading event to fail verification")
	}

	var hashFail, chainFail bool
	for _, f := range report.Findings {
		if f.EventID == pruned[0].EventID && f.Check == CheckEventHash && f.Status == "fail" {
			hashFail = true
		}
		if f.EventID == pruned[0].EventID && f.Check == CheckPrevHashChain && f.Status == "fail" {
			chainFail = true
		}
	}
	if hashFail {
		t.Fatalf("event_hash must not fail for a pruned leading event, got %+v", report.Findings)
	}
	if !chainFail {
		t.Fatalf("expected prev_hash_chain finding to fail for the new first element, got %+v", report.Findings)
	}
}

func TestVerifyDetectsReorderedEvents(t *testing.T) {
	s, events, _ := buildChain(t, 3)
	events[1], events[2] = events[2], events[1]

	report := Verify(events, nil, keySetFor(t, s))
	if report.OK {
		t.Fatal("expected reordering to fail verification")
	}
}

func TestVerifyMerkleRootAgainstAnchor(t *testing.T) {
	s, events, _ := buildChain(t, 4)
	digests := make([][]byte, len(events))
	for i, se := range events {
		d, err := hex.DecodeString(se.EventHash)
		if err != nil {
			t.Fatal(err)
		}
		digests[i] = d
	}
	acc := merkle.Rebuild(digests)
	anchors := []store.AnchorRecord{{
		AnchoredCount: 4,
		MerkleRoot:    hex.EncodeToString(acc.Root()),
		Provider:      "local",
		Proof:         base64.StdEncoding.EncodeToString([]byte("not-checked-in-this-test")),
		AnchoredAt:    time.Now().UTC().Format(time.RFC3339Nano),
	}}

	report := Verify(events, anchors, keySetFor(t, s))
	foundPass := false
	for _, f := range report.Findings {
		if f.Check == CheckMerkleRoot && f.Status == "pass" {
			foundPass = true
		}
	}
	if !foundPass {
		t.Fatalf("expected merkle_root check to pass, got %+v", report.Findings)
	}
}

func TestVerifyDetectsMerkleRootMismatch(t *testing.T) {
	s, events, _ := buildChain(t, 4)
	anchors := []store.AnchorRecord{{
		AnchoredCount: 4,
		MerkleRoot:    "0000000000000000000000000000000000000000000000000000000000000000",
		Provider:      "local",
		Proof:         base64.StdEncoding.EncodeToString([]byte("x")),
		AnchoredAt:    time.Now().UTC().Format(time.RFC3339Nano),
	}}
	report := Verify(events, anchors, keySetFor(t, s))
	if report.OK {
		t.Fatal("expected merkle root mismatch to fail")
	}
}

func TestVerifyLocalAnchorProofEndToEnd(t *testing.T) {
	s, events, _ := buildChain(t, 2)
	digests := make([][]byte, len(events))
	for i, se := range events {
		d, _ := hex.DecodeString(se.EventHash)
		digests[i] = d
	}
	acc := merkle.Rebuild(digests)
	var rootArr [32]byte
	copy(rootArr[:], acc.Root())

	p := anchor.NewLocalProvider()
	proof, at, err := p.Submit(context.Background(), rootArr)
	if err != nil {
		t.Fatal(err)
	}
	anchors := []store.AnchorRecord{{
		AnchoredCount: 2,
		MerkleRoot:    hex.EncodeToString(acc.Root()),
		Provider:      "local",
		Proof:         base64.StdEncoding.EncodeToString(proof),
		AnchoredAt:    at.Format(time.RFC3339Nano),
	}}

	report := Verify(events, anchors, keySetFor(t, s))
	if !report.OK {
		t.Fatalf("expected full report OK including anchor proof, got %+v", report.Findings)
	}
}
