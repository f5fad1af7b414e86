// Package merkle implements the RFC 6962 Merkle tree accumulator (component
// D): domain-separated leaf/node hashing, incremental append, root
// computation, and inclusion-proof extraction/verification. The
// domain-separated hash primitives come from
// github.com/transparency-dev/merkle/rfc6962, the same hasher
// Certificate-Transparency-style logs use; the accumulation and proof-path
// bookkeeping on top are this package's own code, grounded directly on the
// RFC 6962 algorithm (see spec section 4.D and DESIGN.md).
package merkle

import (
	"bytes"
	"errors"
	"fmt"
	"sync"

	"github.com/transparency-dev/merkle/rfc6962"
)

var hasher = rfc6962.DefaultHasher

var (
	// ErrIndexOutOfRange is returned by InclusionProof for an index outside
	// the current tree.
	ErrIndexOutOfRange = errors.New("merkle: leaf index out of range")
	// ErrEmptyTree is returned by operations that require at least one leaf.
	ErrEmptyTree = errors.New("merkle: tree is empty")
)

// Step is one hop of an inclusion (audit) path: the sibling hash at this
// level, and whether that sibling sits to the right of the hash accumulated
// so far (Right == true) or to the left (Right == false).
type Step struct {
	Hash  []byte
	Right bool
}

// LeafHash applies the RFC 6962 domain-separated leaf hash
// (SHA-256(0x00||d)) to a raw event digest.
func LeafHash(rawDigest []byte) []byte {
	return hasher.HashLeaf(rawDigest)
}

// nodeHash applies the RFC 6962 domain-separated internal-node hash
// (SHA-256(0x01||L||R)).
func nodeHash(l, r []byte) []byte {
	return hasher.HashChildren(l, r)
}

// split returns the largest power of two strictly less than n, per RFC 6962
// section 2.1. Requires n >= 2.
func split(n int) int {
	k := 1
	for (k << 1) < n {
		k <<= 1
	}
	return k
}

// MTH computes the RFC 6962 Merkle Tree Hash over an ordered list of leaf
// hashes (already run through LeafHash). It is a pure function of the
// sequence and is used both by the live Accumulator and, independently, by
// the offline verifier to recompute a root from scratch.
func MTH(leafHashes [][]byte) []byte {
	n := len(leafHashes)
	if n == 0 {
		return hasher.EmptyRoot()
	}
	if n == 1 {
		return leafHashes[0]
	}
	k := split(n)
	left := MTH(leafHashes[:k])
	right := MTH(leafHashes[k:])
	return nodeHash(left, right)
}

// inclusionProof computes the audit path for leaf index i within leafHashes,
// ordered from the leaf upward to the root (RFC 6962 / CT convention).
func inclusionProof(leafHashes [][]byte, i int) []Step {
	n := len(leafHashes)
	if n <= 1 {
		return nil
	}
	k := split(n)
	if i < k {
		sub := inclusionProof(leafHashes[:k], i)
		sibling := MTH(leafHashes[k:])
		return append(sub, Step{Hash: sibling, Right: true})
	}
	sub := inclusionProof(leafHashes[k:], i-k)
	sibling := MTH(leafHashes[:k])
	return append(sub, Step{Hash: sibling, Right: false})
}

// VerifyInclusion is a pure verifier: given a leaf hash, its claimed index
// and the tree size it belongs to, an audit path, and a claimed root, it
// recomputes the root along the path and compares. index and size fix the
// path length RFC 6962 gives that leaf (one step per split on the way down
// from the root); a proof of any other length is rejected. The order in
// which each step is combined is taken from the step's Right flag.
func VerifyInclusion(leafHash []byte, index, size uint64, proof []Step, root []byte) bool {
	if size == 0 {
		return false
	}
	if index >= size {
		return false
	}
	want := 0
	for i, n := index, size; n > 1; want++ {
		k := uint64(split(int(n)))
		if i < k {
			n = k
		} else {
			i, n = i-k, n-k
		}
	}
	if len(proof) != want {
		return false
	}
	cur := leafHash
	for _, s := range proof {
		if s.Right {
			cur = nodeHash(cur, s.Hash)
		} else {
			cur = nodeHash(s.Hash, cur)
		}
	}
	return bytes.Equal(cur, root)
}

// Accumulator maintains the live, append-only Merkle tree over raw event
// digests. Each method takes the accumulator's own lock, so single calls are
// safe for concurrent use; keeping leaf indexes in step with merkle_index
// relies on callers appending under the same critical section that assigns
// merkle_index (see internal/chain), matching spec section 5's ownership
// model.
type Accumulator struct {
	mu     sync.Mutex
	leaves [][]byte // leaf-hashed (post LeafHash), one per appended digest
}

// New returns an empty accumulator.
func New() *Accumulator {
	return &Accumulator{}
}

// Append hashes rawDigest as a leaf, appends it, and returns the new leaf's
// index (size-1 after the append) together with the updated root.
func (a *Accumulator) Append(rawDigest []byte) (index uint64, root []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.leaves = append(a.leaves, LeafHash(rawDigest))
	return uint64(len(a.leaves) - 1), MTH(a.leaves)
}

// Rollback truncates the accumulator back to toSize leaves, undoing any
// appends beyond that point. Used when a log write fails after the
// in-memory leaf was already appended (spec section 4.C's rollback
// requirement).
func (a *Accumulator) Rollback(toSize uint64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if toSize > uint64(len(a.leaves)) {
		return fmt.Errorf("merkle: cannot roll back to size %d from %d", toSize, len(a.leaves))
	}
	a.leaves = a.leaves[:toSize]
	return nil
}

// Size returns the current number of leaves.
func (a *Accumulator) Size() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return uint64(len(a.leaves))
}

// Root returns the current Merkle root.
func (a *Accumulator) Root() []byte {
	a.mu.Lock()
	defer a.mu.Unlock()
	return MTH(a.leaves)
}

// Snapshot atomically returns the current size and root together, so a
// caller (the anchor scheduler) never observes a root that does not
// correspond to the reported size.
func (a *Accumulator) Snapshot() (size uint64, root []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return uint64(len(a.leaves)), MTH(a.leaves)
}

// InclusionProof returns the audit path for leaf i against the accumulator's
// current size.
func (a *Accumulator) InclusionProof(i uint64) ([]Step, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.leaves) == 0 {
		return nil, ErrEmptyTree
	}
	if i >= uint64(len(a.leaves)) {
		return nil, ErrIndexOutOfRange
	}
	return inclusionProof(a.leaves, int(i)), nil
}

// Rebuild replaces the accumulator's state by replaying an ordered list of
// raw event digests from scratch, as done on startup (spec section 9:
// "rebuilding on restart").
func Rebuild(rawDigests [][]byte) *Accumulator {
	a := New()
	a.leaves = make([][]byte, len(rawDigests))
	for i, d := range rawDigests {
		a.leaves[i] = LeafHash(d)
	}
	return a
}
