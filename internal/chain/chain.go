// Package chain implements the single-writer hash-chain critical section
// (component C): it assigns monotonic sequence numbers and prev_hash links,
// computes per-event digests, drives the signer and Merkle accumulator, and
// appends to the persisted log, exactly as spec section 4.C's append()
// pseudocode describes. It is the linearization point of the whole
// pipeline, grounded on the teacher lineage's mutex-guarded, single-writer
// append-only store (services/audit/internal/ledger/append_only.go) but
// restructured around the spec's six-step append sequence and its
// rollback-on-I/O-failure requirement, which the teacher original does not
// have (it never persists to disk).
package chain

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	"github.com/Ap3pp3rs94/vcp-audit/internal/canonical"
	"github.com/Ap3pp3rs94/vcp-audit/internal/merkle"
	"github.com/Ap3pp3rs94/vcp-audit/internal/signer"
	"github.com/Ap3pp3rs94/vcp-audit/internal/store"
	"github.com/Ap3pp3rs94/vcp-audit/internal/vcpevent"
)

// Error kinds named in spec section 7. Callers (the HTTP shell) map these to
// status codes via internal/vcperrors.
var (
	ErrCanceled         = errors.New("chain: canceled before signing; no side effects")
	ErrCanonicalization = errors.New("chain: canonicalization failed")
	ErrSigning          = errors.New("chain: signing failed")
	ErrPersistence      = errors.New("chain: persistence failed")
)

// SealedCallback is invoked after a SealedEvent is durably appended, while
// the chain's lock is still held, so callbacks must not block significantly
// or call back into the Chain (the live status feed just enqueues a
// notification).
type SealedCallback func(vcpevent.SealedEvent)

// Chain owns the tail hash, the sequence counter, the Merkle accumulator,
// and the event log writer. Only one Append executes at a time.
type Chain struct {
	mu        sync.Mutex
	signer    *signer.Signer
	acc       *merkle.Accumulator
	log       *store.EventLog
	tail      string
	nextIndex uint64
	onSealed  SealedCallback
}

// New constructs a Chain from already-opened dependencies. If acc/log were
// rebuilt from an existing event log (see Rebuild), pass the same tail/next
// index implied by that replay via Resume.
func New(s *signer.Signer, acc *merkle.Accumulator, log *store.EventLog) *Chain {
	return &Chain{signer: s, acc: acc, log: log}
}

// Resume sets the chain's tail hash and next index, as required after
// replaying an existing log on startup.
func (c *Chain) Resume(tailHash string, nextIndex uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tail = tailHash
	c.nextIndex = nextIndex
}

// OnSealed registers a callback fired after each successful append.
func (c *Chain) OnSealed(cb SealedCallback) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onSealed = cb
}

// Size returns the number of sealed events appended so far.
func (c *Chain) Size() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nextIndex
}

// Snapshot returns the live Merkle accumulator's size and root, taken under
// the same lock discipline as Append (spec section 5: "Readers...
// acquire the same lock for a consistent snapshot").
func (c *Chain) Snapshot() (size uint64, root []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.acc.Snapshot()
}

// InclusionProof returns the audit path for a given merkle_index under the
// chain's lock.
func (c *Chain) InclusionProof(index uint64) ([]merkle.Step, uint64, []byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	size, root := c.acc.Snapshot()
	proof, err := c.acc.InclusionProof(index)
	if err != nil {
		return nil, 0, nil, err
	}
	return proof, size, root, nil
}

// Append is the single critical-section operation described in spec section
// 4.C. It returns the fully-sealed event on success. On canonicalization or
// signing failure, no state changes at all (ctx cancellation before the
// signing step behaves the same way). On a persistence (log write) failure,
// the in-memory accumulator and sequence counter are rolled back before the
// error is returned, preserving invariants 1-5.
func (c *Chain) Append(ctx context.Context, e vcpevent.Event) (vcpevent.SealedEvent, error) {
	if err := ctx.Err(); err != nil {
		return vcpevent.SealedEvent{}, fmt.Errorf("%w: %v", ErrCanceled, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	prevHash := c.tail
	hasPrev := c.nextIndex > 0

	subset := canonical.Subset{
		VCPVersion: e.VCPVersion,
		EventID:    e.EventID,
		Timestamp:  e.Timestamp,
		EventType:  e.EventType,
		Tier:       e.Tier,
		PolicyID:   e.PolicyID,
		ClockSync:  e.ClockSync,
		SystemID:   e.SystemID,
		AccountID:  e.AccountID,
		Payload:    e.Payload,
		PrevHash:   prevHash,
		HasPrev:    hasPrev,
	}
	canonicalBytes, err := subset.Encode()
	if err != nil {
		return vcpevent.SealedEvent{}, fmt.Errorf("%w: %v", ErrCanonicalization, err)
	}

	digest := sha256.Sum256(canonicalBytes)

	sigB64, err := c.signer.SignBase64(digest[:])
	if err != nil {
		return vcpevent.SealedEvent{}, fmt.Errorf("%w: %v", ErrSigning, err)
	}

	idx := c.nextIndex
	c.acc.Append(digest[:])

	se := vcpevent.SealedEvent{
		Event:       e,
		EventHash:   hex.EncodeToString(digest[:]),
		Signature:   sigB64,
		MerkleIndex: idx,
		SignerKeyID: c.signer.KeyID(),
	}
	if hasPrev {
		se.PrevHash = prevHash
	}

	if err := c.log.Append(se); err != nil {
		if rbErr := c.acc.Rollback(idx); rbErr != nil {
			return vcpevent.SealedEvent{}, fmt.Errorf("%w: %v (rollback also failed: %v)", ErrPersistence, err, rbErr)
		}
		return vcpevent.SealedEvent{}, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	c.tail = se.EventHash
	c.nextIndex++

	if c.onSealed != nil {
		c.onSealed(se)
	}

	return se, nil
}

// Rebuild replays a persisted event log, re-verifying hashes and chain
// links, and returns a Merkle accumulator plus the tail/next-index state a
// Chain should resume from. It refuses (returns an error) if any record
// fails re-verification, per spec section 9: "Replay must re-verify
// per-event hashes and chain links and refuse to accept new writes if any
// fail."
func Rebuild(events []vcpevent.SealedEvent) (acc *merkle.Accumulator, tailHash string, nextIndex uint64, err error) {
	var digests [][]byte
	prevHash := ""
	for i, se := range events {
		if se.MerkleIndex != uint64(i) {
			return nil, "", 0, fmt.Errorf("chain: rebuild: event %d has merkle_index %d, expected %d", i, se.MerkleIndex, i)
		}
		if i > 0 && se.PrevHash != prevHash {
			return nil, "", 0, fmt.Errorf("chain: rebuild: event %d prev_hash %q does not match event %d's event_hash %q", i, se.PrevHash, i-1, prevHash)
		}
		if i == 0 && se.PrevHash != "" {
			return nil, "", 0, fmt.Errorf("chain: rebuild: event 0 must not carry a prev_hash")
		}

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
			HasPrev:    i > 0,
		}
		canonicalBytes, encErr := subset.Encode()
		if encErr != nil {
			return nil, "", 0, fmt.Errorf("chain: rebuild: event %d: %w", i, encErr)
		}
		digest := sha256.Sum256(canonicalBytes)
		wantHash := hex.EncodeToString(digest[:])
		if wantHash != se.EventHash {
			return nil, "", 0, fmt.Errorf("chain: rebuild: event %d event_hash mismatch: stored %q recomputed %q", i, se.EventHash, wantHash)
		}

		digests = append(digests, digest[:])
		prevHash = se.EventHash
	}
	return merkle.Rebuild(digests), prevHash, uint64(len(events)), nil
}
