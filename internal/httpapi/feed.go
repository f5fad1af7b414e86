package httpapi

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Ap3pp3rs94/vcp-audit/internal/vcpevent"
	"github.com/Ap3pp3rs94/vcp-audit/internal/vcplog"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// feedHub fans out a lightweight status notification to every connected
// GET /vcp/stream client whenever an event is sealed. onSealed runs inside
// the hash-chain critical section, so broadcast never waits on a reader:
// each subscriber has its own bounded buffer, and a message for a full
// buffer is dropped, so one slow reader cannot stall ingestion or the others.
type feedHub struct {
	mu   sync.Mutex
	subs map[chan statusMessage]struct{}
}

func newFeedHub() *feedHub {
	return &feedHub{subs: map[chan statusMessage]struct{}{}}
}

type statusMessage struct {
	EventID     string `json:"event_id"`
	EventHash   string `json:"event_hash"`
	MerkleIndex uint64 `json:"merkle_index"`
	SealedAt    string `json:"sealed_at"`
}

func (h *feedHub) subscribe() chan statusMessage {
	ch := make(chan statusMessage, 16)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *feedHub) unsubscribe(ch chan statusMessage) {
	h.mu.Lock()
	delete(h.subs, ch)
	h.mu.Unlock()
	close(ch)
}

func (h *feedHub) broadcast(se vcpevent.SealedEvent) {
	msg := statusMessage{
		EventID:     se.EventID,
		EventHash:   se.EventHash,
		MerkleIndex: se.MerkleIndex,
		SealedAt:    time.Now().UTC().Format(time.RFC3339Nano),
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- msg:
		default:
			// slow subscriber; drop the message rather than block ingestion.
		}
	}
}

// handleStream upgrades to a websocket and streams a statusMessage JSON
// line per sealed event until the client disconnects.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Log.Warn("stream upgrade failed", vcplog.F("error", err.Error()))
		return
	}
	defer conn.Close()

	ch := s.feed.subscribe()
	defer s.feed.unsubscribe(ch)

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			b, err := json.Marshal(msg)
			if err != nil {
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		}
	}
}
