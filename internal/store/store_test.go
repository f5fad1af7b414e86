package store

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Ap3pp3rs94/vcp-audit/internal/vcpevent"
	"github.com/Ap3pp3rs94/vcp-audit/internal/vcpvalue"
)

func sampleSealed(idx uint64, prev string) vcpevent.SealedEvent {
	return vcpevent.SealedEvent{
		Event: vcpevent.Event{
			VCPVersion: "1.0",
			EventID:    "E" + string(rune('0'+idx)),
			Timestamp:  "2026-01-01T00:00:00.000Z",
			EventType:  "ORDER_NEW",
			Tier:       "GOLD",
			PolicyID:   "urn:policy:1",
			ClockSync:  "NTP_SYNCED",
			SystemID:   "sys-1",
			AccountID:  "acct-1",
			Payload:    vcpvalue.Object(nil),
		},
		PrevHash:    prev,
		EventHash:   "deadbeef",
		Signature:   "c2ln",
		MerkleIndex: idx,
		SignerKeyID: "key-1",
	}
}

func TestEventLogAppendAndReplay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "events.log")
	log, err := OpenEventLog(path)
	if err != nil {
		t.Fatal(err)
	}
	for i := uint64(0); i < 3; i++ {
		prev := ""
		if i > 0 {
			prev = "deadbeef"
		}
		if err := log.Append(sampleSealed(i, prev)); err != nil {
			t.Fatal(err)
		}
	}
	if err := log.Close(); err != nil {
		t.Fatal(err)
	}

	events, err := Replay(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 replayed events, got %d", len(events))
	}
	for i, e := range events {
		if e.MerkleIndex != uint64(i) {
			t.Fatalf("replayed event %d has merkle_index %d", i, e.MerkleIndex)
		}
	}
}

func TestReplayMissingFileReturnsEmpty(t *testing.T) {
	events, err := Replay(filepath.Join(t.TempDir(), "nope.log"))
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 0 {
		t.Fatalf("expected no events, got %d", len(events))
	}
}

func TestReplayDetectsCorruption(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "events.log")
	content := `{"event_id":"E0","merkle_index":0,"event_hash":"ab","signature":"cd","signer_key_id":"k"}` + "\n" +
		`not json at all` + "\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := Replay(path)
	if err == nil {
		t.Fatal("expected corruption error")
	}
	if !strings.Contains(err.Error(), "corrupt event log") {
		t.Fatalf("expected corrupt log error, got %v", err)
	}
}

func TestAnchorStoreSaveAndList(t *testing.T) {
	dir := t.TempDir()
	as, err := OpenAnchorStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	recs := []AnchorRecord{
		{AnchoredCount: 4, MerkleRoot: "root4", Provider: "local", AnchoredAt: "2026-01-01T00:00:00Z", PrevAnchorCount: 0},
		{AnchoredCount: 8, MerkleRoot: "root8", Provider: "local", AnchoredAt: "2026-01-02T00:00:00Z", PrevAnchorCount: 4},
	}
	for _, r := range recs {
		if err := as.Save(r); err != nil {
			t.Fatal(err)
		}
	}
	got, err := as.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].AnchoredCount != 4 || got[1].AnchoredCount != 8 {
		t.Fatalf("unexpected list: %+v", got)
	}
	latest, ok, err := as.Latest()
	if err != nil || !ok {
		t.Fatalf("expected latest anchor, err=%v ok=%v", err, ok)
	}
	if latest.AnchoredCount != 8 {
		t.Fatalf("expected latest anchored_count 8, got %d", latest.AnchoredCount)
	}
}
