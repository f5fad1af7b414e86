package httpapi

import (
	"sync"
	"time"

	"github.com/Ap3pp3rs94/vcp-audit/internal/anchor"
	"github.com/Ap3pp3rs94/vcp-audit/internal/chain"
	"github.com/Ap3pp3rs94/vcp-audit/internal/idempotency"
	"github.com/Ap3pp3rs94/vcp-audit/internal/signer"
	"github.com/Ap3pp3rs94/vcp-audit/internal/store"
	"github.com/Ap3pp3rs94/vcp-audit/internal/vcpevent"
	"github.com/Ap3pp3rs94/vcp-audit/internal/vcplog"
)

// dedupWindow bounds how long a retried POST /vcp/event for the same
// event_id is answered with the original sealed result instead of being
// appended again, before the ingestion cache forgets it.
const dedupWindow = 10 * time.Minute

// Server holds everything a request handler needs: the hash-chain critical
// section, the anchor scheduler, a by-event-id index for the query
// endpoints, and the live-status feed's subscriber set.
type Server struct {
	Chain     *chain.Chain
	Scheduler *anchor.Scheduler
	Signer    *signer.Signer
	Anchors   *store.AnchorStore
	Log       *vcplog.Logger
	Version   string
	Tier      string

	// PolicyID and WebhookSecret are operational configuration surfaced
	// after construction (set directly by the caller, e.g. cmd/vcpaudit)
	// rather than threaded through NewServer, so existing callers and
	// tests that construct a Server without them keep working unchanged.
	// WebhookSecret empty means the shared-secret HMAC check is disabled.
	PolicyID      string
	WebhookSecret string

	mu    sync.RWMutex
	byID  map[string]vcpevent.SealedEvent
	feed  *feedHub
	dedup *idempotency.Cache
}

// NewServer wires a Server and registers the chain's OnSealed callback so
// newly sealed events become queryable by event_id and are broadcast on
// the live status feed.
func NewServer(c *chain.Chain, sched *anchor.Scheduler, s *signer.Signer, anchors *store.AnchorStore, log *vcplog.Logger, version, tier string) *Server {
	if log == nil {
		log = vcplog.Nop
	}
	srv := &Server{
		Chain:     c,
		Scheduler: sched,
		Signer:    s,
		Anchors:   anchors,
		Log:       log,
		Version:   version,
		Tier:      tier,
		byID:      map[string]vcpevent.SealedEvent{},
		feed:      newFeedHub(),
		dedup:     idempotency.NewCache(dedupWindow),
	}
	c.OnSealed(srv.onSealed)
	return srv
}

// duplicateSubmission reports whether an event with this system_id,
// account_id, and event_id was already successfully appended within the
// dedup window. It only peeks: the key is marked seen by markSubmitted,
// called once Chain.Append actually succeeds, so a retryable Append failure
// leaves no trace that would block a legitimate retry of the same event_id.
func (s *Server) duplicateSubmission(systemID, accountID, eventID string) bool {
	key, err := idempotency.BuildKey("event", systemID, accountID, eventID)
	if err != nil {
		return false
	}
	return s.dedup.Seen(key)
}

// markSubmitted records an event_id as seen for the dedup window. Call only
// after Chain.Append has succeeded for it.
func (s *Server) markSubmitted(systemID, accountID, eventID string) {
	key, err := idempotency.BuildKey("event", systemID, accountID, eventID)
	if err != nil {
		return
	}
	s.dedup.Mark(key)
}

// IndexReplayed seeds the by-event-id index from events recovered via
// chain.Rebuild at startup, before the server starts accepting new events.
func (s *Server) IndexReplayed(events []vcpevent.SealedEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range events {
		s.byID[e.EventID] = e
	}
}

func (s *Server) onSealed(se vcpevent.SealedEvent) {
	s.mu.Lock()
	s.byID[se.EventID] = se
	s.mu.Unlock()
	s.feed.broadcast(se)
}

func (s *Server) lookup(eventID string) (vcpevent.SealedEvent, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	se, ok := s.byID[eventID]
	return se, ok
}

func (s *Server) eventCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}
