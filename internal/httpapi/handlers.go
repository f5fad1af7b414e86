package httpapi

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/Ap3pp3rs94/vcp-audit/internal/chain"
	"github.com/Ap3pp3rs94/vcp-audit/internal/signer"
	"github.com/Ap3pp3rs94/vcp-audit/internal/vcperrors"
	"github.com/Ap3pp3rs94/vcp-audit/internal/vcpevent"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, r *http.Request, code vcperrors.Code, msg string) {
	vcperrors.WriteHTTP(w, vcperrors.HTTPStatusFor(code), vcperrors.NewEnvelope(code, msg, requestIDFrom(r), nil))
}

type eventResponse struct {
	Success     bool   `json:"success"`
	EventID     string `json:"event_id"`
	EventHash   string `json:"event_hash"`
	Signature   string `json:"signature"`
	MerkleIndex uint64 `json:"merkle_index"`
}

// handleEvent implements POST /vcp/event.
func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	var e vcpevent.Event
	if err := json.NewDecoder(r.Body).Decode(&e); err != nil {
		eventsRejectedTotal.WithLabelValues(string(vcperrors.SchemaInvalid)).Inc()
		writeErr(w, r, vcperrors.SchemaInvalid, "malformed JSON body: "+err.Error())
		return
	}
	if err := e.Validate(); err != nil {
		eventsRejectedTotal.WithLabelValues(string(vcperrors.SchemaInvalid)).Inc()
		writeErr(w, r, vcperrors.SchemaInvalid, err.Error())
		return
	}

	if s.duplicateSubmission(e.SystemID, e.AccountID, e.EventID) {
		if existing, ok := s.lookup(e.EventID); ok {
			writeJSON(w, http.StatusOK, eventResponse{
				Success:     true,
				EventID:     existing.EventID,
				EventHash:   existing.EventHash,
				Signature:   existing.Signature,
				MerkleIndex: existing.MerkleIndex,
			})
			return
		}
		eventsRejectedTotal.WithLabelValues(string(vcperrors.SchemaInvalid)).Inc()
		writeErr(w, r, vcperrors.SchemaInvalid, "duplicate event_id submitted within the dedup window")
		return
	}

	se, err := s.Chain.Append(r.Context(), e)
	if err != nil {
		switch {
		case errors.Is(err, chain.ErrCanceled):
			return
		case errors.Is(err, chain.ErrCanonicalization):
			eventsRejectedTotal.WithLabelValues(string(vcperrors.CanonicalizationFailed)).Inc()
			writeErr(w, r, vcperrors.CanonicalizationFailed, err.Error())
		case errors.Is(err, chain.ErrSigning):
			eventsRejectedTotal.WithLabelValues(string(vcperrors.SigningFailed)).Inc()
			writeErr(w, r, vcperrors.SigningFailed, err.Error())
		case errors.Is(err, chain.ErrPersistence):
			eventsRejectedTotal.WithLabelValues(string(vcperrors.PersistenceFailed)).Inc()
			writeErr(w, r, vcperrors.PersistenceFailed, err.Error())
		default:
			eventsRejectedTotal.WithLabelValues(string(vcperrors.Internal)).Inc()
			writeErr(w, r, vcperrors.Internal, err.Error())
		}
		return
	}

	s.markSubmitted(e.SystemID, e.AccountID, e.EventID)

	eventsSealedTotal.Inc()
	if size, _ := s.Chain.Snapshot(); size > 0 {
		merkleTreeSize.Set(float64(size))
	}

	writeJSON(w, http.StatusOK, eventResponse{
		Success:     true,
		EventID:     se.EventID,
		EventHash:   se.EventHash,
		Signature:   se.Signature,
		MerkleIndex: se.MerkleIndex,
	})
}

type verifyChecks struct {
	EventHash bool `json:"event_hash"`
	Signature bool `json:"signature"`
}

type verifyResponse struct {
	Valid  bool         `json:"valid"`
	Checks verifyChecks `json:"checks"`
}

// handleVerifyEvent implements GET /vcp/verify/{event_id}: recomputes the
// event hash and signature for one event, per spec section 6.
func (s *Server) handleVerifyEvent(w http.ResponseWriter, r *http.Request) {
	eventID := mux.Vars(r)["event_id"]
	se, ok := s.lookup(eventID)
	if !ok {
		writeErr(w, r, vcperrors.NotFound, "event not found: "+eventID)
		return
	}

	hashOK, sigOK := recomputeChecks(se, s.Signer)
	writeJSON(w, http.StatusOK, verifyResponse{
		Valid:  hashOK && sigOK,
		Checks: verifyChecks{EventHash: hashOK, Signature: sigOK},
	})
}

func recomputeChecks(se vcpevent.SealedEvent, sgnr *signer.Signer) (hashOK, sigOK bool) {
	wantHash, err := vcpevent.RecomputeEventHash(se)
	if err != nil {
		return false, false
	}
	hashOK = wantHash == se.EventHash
	if !hashOK {
		return false, false
	}
	digest, err := vcpevent.DecodeEventHash(se.EventHash)
	if err != nil {
		return true, false
	}
	sigOK = signer.VerifyBase64(sgnr.PublicKey(), digest, se.Signature)
	return hashOK, sigOK
}

type proofStep struct {
	Hash string `json:"hash"`
	Side string `json:"side"`
}

type proofResponse struct {
	LeafIndex uint64      `json:"leaf_index"`
	TreeSize  uint64      `json:"tree_size"`
	AuditPath []proofStep `json:"audit_path"`
	Root      string      `json:"root"`
}

// handleProof implements GET /vcp/proof/{event_id}.
func (s *Server) handleProof(w http.ResponseWriter, r *http.Request) {
	eventID := mux.Vars(r)["event_id"]
	se, ok := s.lookup(eventID)
	if !ok {
		writeErr(w, r, vcperrors.NotFound, "event not found: "+eventID)
		return
	}

	steps, size, root, err := s.Chain.InclusionProof(se.MerkleIndex)
	if err != nil {
		writeErr(w, r, vcperrors.Internal, err.Error())
		return
	}

	out := make([]proofStep, len(steps))
	for i, st := range steps {
		side := "left"
		if st.Right {
			side = "right"
		}
		out[i] = proofStep{Hash: hexEncode(st.Hash), Side: side}
	}

	writeJSON(w, http.StatusOK, proofResponse{
		LeafIndex: se.MerkleIndex,
		TreeSize:  size,
		AuditPath: out,
		Root:      hexEncode(root),
	})
}

// handleAnchorForce implements POST /vcp/anchor/force (testing only, per
// spec section 6).
func (s *Server) handleAnchorForce(w http.ResponseWriter, r *http.Request) {
	if s.Scheduler == nil {
		writeErr(w, r, vcperrors.Internal, "anchor scheduler not configured")
		return
	}
	if err := s.Scheduler.ForceNow(r.Context()); err != nil {
		anchorAttemptsTotal.WithLabelValues("failure").Inc()
		writeErr(w, r, vcperrors.AnchorProviderFailed, err.Error())
		return
	}
	anchorAttemptsTotal.WithLabelValues("success").Inc()
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

type healthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	Tier          string `json:"tier"`
	PolicyID      string `json:"policy_id,omitempty"`
	SignerReady   bool   `json:"signer_ready"`
	EventsPending int    `json:"events_pending"`
	LastAnchorErr string `json:"last_anchor_error,omitempty"`
}

// handleHealth implements GET /health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	signerReady := s.Signer != nil && s.Signer.Ready()
	if !signerReady {
		status = "degraded"
	}

	var lastErr string
	if s.Scheduler != nil {
		if err := s.Scheduler.LastError(); err != nil {
			lastErr = err.Error()
		}
	}

	writeJSON(w, http.StatusOK, healthResponse{
		Status:        status,
		Version:       s.Version,
		Tier:          s.Tier,
		PolicyID:      s.PolicyID,
		SignerReady:   signerReady,
		EventsPending: 0,
		LastAnchorErr: lastErr,
	})
}

func hexEncode(b []byte) string { return hex.EncodeToString(b) }
