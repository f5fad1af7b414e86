package anchor

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/Ap3pp3rs94/vcp-audit/internal/store"
	"github.com/Ap3pp3rs94/vcp-audit/internal/vcplog"
)

const (
	backoffBase = 1 * time.Second
	backoffCap  = 10 * time.Minute
	providerTimeout = 60 * time.Second
)

// Snapshotter is the subset of internal/chain.Chain the scheduler needs: a
// consistent (size, root) pair taken under the chain's own lock, matching
// spec section 4.E step 1.
type Snapshotter interface {
	Snapshot() (size uint64, root []byte)
}

// Scheduler runs a periodic anchor tick via a cron spec, per tier interval.
// On each tick it snapshots the tree, submits to the configured provider,
// and persists the result; provider failures never block ingestion and are
// retried with unbounded exponential backoff (spec section 4.E step 4).
type Scheduler struct {
	mu        sync.Mutex
	chain     Snapshotter
	store     *store.AnchorStore
	provider  Provider
	log       *vcplog.Logger
	cron      *cron.Cron
	lastError error
	attemptID string
}

// NewScheduler wires a Scheduler. The cron spec is given later to Start and
// follows robfig/cron's standard five-field syntax (e.g. "0 * * * *" for
// hourly, matching Gold tier).
func NewScheduler(chain Snapshotter, anchorStore *store.AnchorStore, provider Provider, log *vcplog.Logger) *Scheduler {
	if log == nil {
		log = vcplog.Nop
	}
	return &Scheduler{
		chain:    chain,
		store:    anchorStore,
		provider: provider,
		log:      log,
		cron:     cron.New(),
	}
}

// Start schedules periodic ticks at cronSpec and begins running them in the
// background until ctx is canceled.
func (s *Scheduler) Start(ctx context.Context, cronSpec string) error {
	_, err := s.cron.AddFunc(cronSpec, func() {
		s.tick(ctx)
	})
	if err != nil {
		return fmt.Errorf("anchor: invalid cron spec %q: %w", cronSpec, err)
	}
	s.cron.Start()
	go func() {
		<-ctx.Done()
		stopCtx := s.cron.Stop()
		<-stopCtx.Done()
	}()
	return nil
}

// ForceNow runs a single anchor attempt immediately, outside the cron
// schedule, as used by POST /vcp/anchor/force.
func (s *Scheduler) ForceNow(ctx context.Context) error {
	return s.attempt(ctx)
}

// LastError returns the most recent provider failure, surfaced via
// GET /health per spec section 7.
func (s *Scheduler) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastError
}

func (s *Scheduler) tick(ctx context.Context) {
	if err := s.attemptWithRetry(ctx); err != nil {
		s.log.Error("anchor attempt abandoned", vcplog.F("error", err.Error()))
	}
}

// attemptWithRetry runs attempt, retrying with exponential backoff
// (base 1s, cap 10min, unbounded retries) until it succeeds or ctx is
// canceled, matching spec section 4.E step 4.
func (s *Scheduler) attemptWithRetry(ctx context.Context) error {
	backoff := backoffBase
	for {
		err := s.attempt(ctx)
		if err == nil {
			return nil
		}
		s.mu.Lock()
		s.lastError = err
		s.mu.Unlock()
		s.log.Warn("anchor attempt failed, retrying", vcplog.F("error", err.Error()), vcplog.F("backoff_seconds", backoff.Seconds()))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > backoffCap {
			backoff = backoffCap
		}
	}
}

// attempt performs exactly one anchor round: snapshot, submit, persist.
func (s *Scheduler) attempt(ctx context.Context) error {
	size, root := s.chain.Snapshot()
	if size == 0 {
		return nil
	}

	latest, ok, err := s.store.Latest()
	if err != nil {
		return fmt.Errorf("anchor: read latest anchor: %w", err)
	}
	prevCount := uint64(0)
	if ok {
		prevCount = latest.AnchoredCount
		if prevCount >= size {
			// already anchored at or past this size
			return nil
		}
	}

	var rootArr [32]byte
	copy(rootArr[:], root)

	attemptID := uuid.NewString()
	s.mu.Lock()
	s.attemptID = attemptID
	s.mu.Unlock()

	submitCtx, cancel := context.WithTimeout(ctx, providerTimeout)
	defer cancel()

	proof, at, err := s.provider.Submit(submitCtx, rootArr)
	if err != nil {
		return fmt.Errorf("%s: %w", attemptID, err)
	}

	rec := store.AnchorRecord{
		AnchoredCount:   size,
		MerkleRoot:      hex.EncodeToString(root),
		Provider:        s.provider.ID(),
		Proof:           base64.StdEncoding.EncodeToString(proof),
		AnchoredAt:      at.Format(time.RFC3339Nano),
		PrevAnchorCount: prevCount,
	}
	if err := s.store.Save(rec); err != nil {
		return fmt.Errorf("anchor: persist record: %w", err)
	}

	s.mu.Lock()
	s.lastError = nil
	s.mu.Unlock()
	s.log.Info("anchor committed", vcplog.F("anchored_count", size), vcplog.F("provider", s.provider.ID()), vcplog.F("attempt_id", attemptID))
	return nil
}
