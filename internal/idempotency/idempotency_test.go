package idempotency

import (
	"testing"
	"time"
)

func TestBuildKeyDeterministic(t *testing.T) {
	k1, err := BuildKey("event", "sys-1", "acct-1", "E0")
	if err != nil {
		t.Fatal(err)
	}
	k2, err := BuildKey("event", "sys-1", "acct-1", "E0")
	if err != nil {
		t.Fatal(err)
	}
	if k1 != k2 {
		t.Fatalf("expected deterministic key, got %q vs %q", k1, k2)
	}
}

func TestBuildKeyDiffersOnPartChange(t *testing.T) {
	k1, _ := BuildKey("event", "sys-1", "acct-1", "E0")
	k2, _ := BuildKey("event", "sys-1", "acct-1", "E1")
	if k1 == k2 {
		t.Fatal("expected different keys for different event ids")
	}
}

func TestBuildKeyRejectsInvalidScope(t *testing.T) {
	if _, err := BuildKey("Bad Scope!"); err == nil {
		t.Fatal("expected error for invalid scope")
	}
}

func TestCacheDetectsDuplicateWithinTTL(t *testing.T) {
	c := NewCache(time.Hour)
	if c.Seen("k1") {
		t.Fatal("first check should not be seen")
	}
	c.Mark("k1")
	if !c.Seen("k1") {
		t.Fatal("second check should be seen")
	}
}

func TestCacheSeenDoesNotMark(t *testing.T) {
	c := NewCache(time.Hour)
	if c.Seen("k1") {
		t.Fatal("expected unseen key to report false")
	}
	if c.Seen("k1") {
		t.Fatal("Seen must not have a side effect")
	}
}

func TestCacheMarkThenSeen(t *testing.T) {
	c := NewCache(time.Hour)
	c.Mark("k1")
	if !c.Seen("k1") {
		t.Fatal("expected key to be seen after Mark")
	}
}

func TestCacheAllowsReuseAfterExpiry(t *testing.T) {
	now := time.Now()
	c := NewCache(time.Minute)
	c.now = func() time.Time { return now }
	if c.Seen("k1") {
		t.Fatal("first check should not be seen")
	}
	c.Mark("k1")
	c.now = func() time.Time { return now.Add(2 * time.Minute) }
	if c.Seen("k1") {
		t.Fatal("expected key to be usable again after ttl expiry")
	}
}
