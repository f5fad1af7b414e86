package anchor

import (
	"context"
	"crypto/sha256"
	"path/filepath"
	"testing"

	"github.com/Ap3pp3rs94/vcp-audit/internal/store"
)

func TestLocalProviderSubmitAndVerifyAt(t *testing.T) {
	p := NewLocalProvider()
	root := sha256.Sum256([]byte("root-bytes"))

	proof, at, err := p.Submit(context.Background(), root)
	if err != nil {
		t.Fatal(err)
	}
	if len(proof) == 0 {
		t.Fatal("expected non-empty proof")
	}
	if !VerifyLocalAt(root, proof, at) {
		t.Fatal("expected local proof to verify against the timestamp it was submitted with")
	}

	otherRoot := sha256.Sum256([]byte("different-bytes"))
	if VerifyLocalAt(otherRoot, proof, at) {
		t.Fatal("expected verification to fail against a different root")
	}
}

func TestLocalProviderBareVerifyRefusesWithoutTimestamp(t *testing.T) {
	p := NewLocalProvider()
	root := sha256.Sum256([]byte("root-bytes"))
	proof, _, err := p.Submit(context.Background(), root)
	if err != nil {
		t.Fatal(err)
	}
	ok, err := p.Verify(context.Background(), root, proof)
	if ok || err == nil {
		t.Fatal("expected bare Verify to refuse without anchored_at")
	}
}

type fakeChain struct {
	size uint64
	root []byte
}

func (f fakeChain) Snapshot() (uint64, []byte) { return f.size, f.root }

func TestSchedulerForceNowPersistsAnchorRecord(t *testing.T) {
	dir := t.TempDir()
	as, err := store.OpenAnchorStore(filepath.Join(dir, "anchors"))
	if err != nil {
		t.Fatal(err)
	}
	root := sha256.Sum256([]byte("tree-root"))
	chain := fakeChain{size: 4, root: root[:]}
	provider := NewLocalProvider()

	sched := NewScheduler(chain, as, provider, nil)
	if err := sched.ForceNow(context.Background()); err != nil {
		t.Fatal(err)
	}

	latest, ok, err := as.Latest()
	if err != nil || !ok {
		t.Fatalf("expected a persisted anchor, err=%v ok=%v", err, ok)
	}
	if latest.AnchoredCount != 4 {
		t.Fatalf("expected anchored_count 4, got %d", latest.AnchoredCount)
	}
	if latest.Provider != "local" {
		t.Fatalf("expected provider local, got %q", latest.Provider)
	}
}

func TestSchedulerSkipsWhenAlreadyAnchoredAtSize(t *testing.T) {
	dir := t.TempDir()
	as, err := store.OpenAnchorStore(filepath.Join(dir, "anchors"))
	if err != nil {
		t.Fatal(err)
	}
	root := sha256.Sum256([]byte("tree-root"))
	chain := fakeChain{size: 4, root: root[:]}
	sched := NewScheduler(chain, as, NewLocalProvider(), nil)

	if err := sched.ForceNow(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := sched.ForceNow(context.Background()); err != nil {
		t.Fatal(err)
	}

	all, err := as.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 {
		t.Fatalf("expected no duplicate anchor at the same size, got %d records", len(all))
	}
}

func TestSchedulerSkipsWhenTreeEmpty(t *testing.T) {
	dir := t.TempDir()
	as, err := store.OpenAnchorStore(filepath.Join(dir, "anchors"))
	if err != nil {
		t.Fatal(err)
	}
	sched := NewScheduler(fakeChain{size: 0, root: nil}, as, NewLocalProvider(), nil)
	if err := sched.ForceNow(context.Background()); err != nil {
		t.Fatal(err)
	}
	all, err := as.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 0 {
		t.Fatalf("expected no anchor for an empty tree, got %d", len(all))
	}
}
