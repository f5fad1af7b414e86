// Package verify implements the offline verifier (component F): given a
// persisted event log, one or more anchor records, and the signer's public
// key set, it recomputes and validates every layer of the evidence
// pipeline and emits a structured pass/fail report. The verifier is total:
// it never panics or aborts early on a bad record, it reports the failure
// and continues, per spec section 4.F and section 7.
package verify

import (
	"encoding/hex"
	"fmt"

	"github.com/Ap3pp3rs94/vcp-audit/internal/anchor"
	"github.com/Ap3pp3rs94/vcp-audit/internal/merkle"
	"github.com/Ap3pp3rs94/vcp-audit/internal/signer"
	"github.com/Ap3pp3rs94/vcp-audit/internal/store"
	"github.com/Ap3pp3rs94/vcp-audit/internal/vcpevent"
)

// CheckName enumerates the six ordered checks from spec section 4.F.
type CheckName string

const (
	CheckEventHash       CheckName = "event_hash"
	CheckSignature       CheckName = "signature"
	CheckSequence        CheckName = "sequence"
	CheckPrevHashChain   CheckName = "prev_hash_chain"
	CheckMerkleRoot      CheckName = "merkle_root"
	CheckAnchorProof     CheckName = "anchor_proof"
)

// Finding is one structured pass/fail record: which event, which check,
// expected vs observed, matching spec section 7's verification error kind.
type Finding struct {
	EventID  string    `json:"event_id,omitempty"`
	Check    CheckName `json:"check_name"`
	Status   string    `json:"status"` // pass|fail
	Expected string    `json:"expected,omitempty"`
	Observed string    `json:"observed,omitempty"`
	Detail   string    `json:"detail,omitempty"`
}

// Report is the verifier's total output: every finding, ordered the way the
// checks ran, plus a final OK flag.
type Report struct {
	OK       bool      `json:"ok"`
	Findings []Finding `json:"findings"`
}

func (r *Report) fail(f Finding) {
	f.Status = "fail"
	r.Findings = append(r.Findings, f)
	r.OK = false
}

func (r *Report) pass(f Finding) {
	f.Status = "pass"
	r.Findings = append(r.Findings, f)
}

// KeySet resolves a signer_key_id to the public key that should have
// produced it, supporting the key-rotation model from spec section 9: each
// sealed event names the key it was signed with, and multiple keys may
// coexist in the verifier's key set across a rotation boundary.
type KeySet map[string]signer.PublicKeyExport

// LoadKeySet reads a list of public key export documents into a KeySet
// keyed by key_id.
func LoadKeySet(paths []string) (KeySet, error) {
	ks := KeySet{}
	for _, p := range paths {
		exp, err := store.LoadPublicKey(p)
		if err != nil {
			return nil, fmt.Errorf("verify: load key %s: %w", p, err)
		}
		ks[exp.KeyID] = exp
	}
	return ks, nil
}

// Verify runs all six checks over events and anchors using keys to resolve
// signatures, and returns a total report. Check 6 (anchor proof) runs only
// for anchors from the local provider; an anchor from any other provider
// gets a finding with status "skip" rather than being silently omitted,
// since spec section 4.F marks it "optional per tier".
func Verify(events []vcpevent.SealedEvent, anchors []store.AnchorRecord, keys KeySet) Report {
	report := Report{OK: true}

	verifyPerEventChecks(&report, events, keys)
	verifySequenceAndChain(&report, events)
	digests := verifyMerkleRoots(&report, events, anchors)
	verifyAnchorProofs(&report, anchors, digests)

	return report
}

func verifyPerEventChecks(report *Report, events []vcpevent.SealedEvent, keys KeySet) {
	for _, se := range events {
		wantHash, err := vcpevent.RecomputeEventHash(se)
		if err != nil {
			report.fail(Finding{EventID: se.EventID, Check: CheckEventHash, Detail: err.Error()})
			continue
		}
		if wantHash != se.EventHash {
			report.fail(Finding{EventID: se.EventID, Check: CheckEventHash, Expected: wantHash, Observed: se.EventHash})
			continue
		}
		report.pass(Finding{EventID: se.EventID, Check: CheckEventHash})

		digest, err := vcpevent.DecodeEventHash(se.EventHash)
		if err != nil {
			report.fail(Finding{EventID: se.EventID, Check: CheckSignature, Detail: err.Error()})
			continue
		}

		exp, ok := keys[se.SignerKeyID]
		if !ok {
			report.fail(Finding{EventID: se.EventID, Check: CheckSignature, Detail: fmt.Sprintf("unknown signer_key_id %q", se.SignerKeyID)})
			continue
		}
		pub, err := signer.DecodePublicKeyHex(exp.PublicKey)
		if err != nil {
			report.fail(Finding{EventID: se.EventID, Check: CheckSignature, Detail: err.Error()})
			continue
		}
		if !signer.VerifyBase64(pub, digest, se.Signature) {
			report.fail(Finding{EventID: se.EventID, Check: CheckSignature, Detail: "signature does not verify"})
			continue
		}
		report.pass(Finding{EventID: se.EventID, Check: CheckSignature})
	}
}

func verifySequenceAndChain(report *Report, events []vcpevent.SealedEvent) {
	if len(events) == 0 {
		report.pass(Finding{Check: CheckSequence, Detail: "empty log"})
		report.pass(Finding{Check: CheckPrevHashChain, Detail: "empty log"})
		return
	}

	seen := map[uint64]bool{}
	var maxIndex uint64
	sequenceOK := true
	for _, se := range events {
		if seen[se.MerkleIndex] {
			report.fail(Finding{EventID: se.EventID, Check: CheckSequence, Detail: fmt.Sprintf("duplicate merkle_index %d", se.MerkleIndex)})
			sequenceOK = false
		}
		seen[se.MerkleIndex] = true
		if se.MerkleIndex > maxIndex {
			maxIndex = se.MerkleIndex
		}
	}
	for i := uint64(0); i <= maxIndex; i++ {
		if !seen[i] {
			report.fail(Finding{Check: CheckSequence, Detail: fmt.Sprintf("gap at merkle_index %d", i)})
			sequenceOK = false
		}
	}
	if sequenceOK {
		report.pass(Finding{Check: CheckSequence})
	}

	prevHash := ""
	for i, se := range events {
		if i == 0 {
			if se.PrevHash != "" {
				report.fail(Finding{EventID: se.EventID, Check: CheckPrevHashChain, Expected: "", Observed: se.PrevHash})
			} else {
				report.pass(Finding{EventID: se.EventID, Check: CheckPrevHashChain})
			}
			prevHash = se.EventHash
			continue
		}
		if se.PrevHash != prevHash {
			report.fail(Finding{EventID: se.EventID, Check: CheckPrevHashChain, Expected: prevHash, Observed: se.PrevHash})
		} else {
			report.pass(Finding{EventID: se.EventID, Check: CheckPrevHashChain})
		}
		prevHash = se.EventHash
	}
}

// verifyMerkleRoots reconstructs the tree over the ordered leaf digests
// (derived from each event's own event_hash, which was already
// individually verified) and checks every anchor record's merkle_root
// against the root at its anchored_count. It returns the full ordered
// digest list for use by anchor-proof checks.
func verifyMerkleRoots(report *Report, events []vcpevent.SealedEvent, anchors []store.AnchorRecord) [][]byte {
	digests := make([][]byte, 0, len(events))
	for _, se := range events {
		d, err := hex.DecodeString(se.EventHash)
		if err != nil {
			report.fail(Finding{EventID: se.EventID, Check: CheckMerkleRoot, Detail: "malformed event_hash, cannot rebuild tree"})
			return digests
		}
		digests = append(digests, d)
	}

	for _, a := range anchors {
		if a.AnchoredCount > uint64(len(digests)) {
			report.fail(Finding{Check: CheckMerkleRoot, Detail: fmt.Sprintf("anchor commits to %d events but log has only %d", a.AnchoredCount, len(digests))})
			continue
		}
		acc := merkle.Rebuild(digests[:a.AnchoredCount])
		gotRoot := hex.EncodeToString(acc.Root())
		if gotRoot != a.MerkleRoot {
			report.fail(Finding{Check: CheckMerkleRoot, Expected: a.MerkleRoot, Observed: gotRoot, Detail: fmt.Sprintf("at anchored_count %d", a.AnchoredCount)})
			continue
		}
		report.pass(Finding{Check: CheckMerkleRoot, Detail: fmt.Sprintf("anchored_count %d", a.AnchoredCount)})
	}
	return digests
}

// verifyAnchorProofs delegates to the named provider's verification
// routine for each anchor, per spec section 4.F check 6. This check is
// "optional per tier": providers this verifier cannot reach (no network
// configuration was supplied) are reported as skipped, never silently
// dropped.
func verifyAnchorProofs(report *Report, anchors []store.AnchorRecord, digests [][]byte) {
	for _, a := range anchors {
		if a.AnchoredCount > uint64(len(digests)) {
			continue
		}
		acc := merkle.Rebuild(digests[:a.AnchoredCount])
		rootHash := acc.Root()
		var rootArr [32]byte
		copy(rootArr[:], rootHash)

		proofBytes, err := decodeProof(a.Proof)
		if err != nil {
			report.fail(Finding{Check: CheckAnchorProof, Detail: fmt.Sprintf("anchored_count %d: %v", a.AnchoredCount, err)})
			continue
		}

		if a.Provider == "local" {
			at, err := parseAnchoredAt(a.AnchoredAt)
			if err != nil {
				report.fail(Finding{Check: CheckAnchorProof, Detail: fmt.Sprintf("anchored_count %d: %v", a.AnchoredCount, err)})
				continue
			}
			if anchor.VerifyLocalAt(rootArr, proofBytes, at) {
				report.pass(Finding{Check: CheckAnchorProof, Detail: fmt.Sprintf("anchored_count %d (local)", a.AnchoredCount)})
			} else {
				report.fail(Finding{Check: CheckAnchorProof, Detail: fmt.Sprintf("anchored_count %d: local proof does not verify", a.AnchoredCount)})
			}
			continue
		}

		report.Findings = append(report.Findings, Finding{
			Check:  CheckAnchorProof,
			Status: "skip",
			Detail: fmt.Sprintf("anchored_count %d: provider %q requires network access, not run by this verifier invocation", a.AnchoredCount, a.Provider),
		})
	}
}
