package bridge

import (
	"context"
	"sync"
	"time"

	"github.com/yushkov-tech/mmtotgbot/internal/storage"
	logx "github.com/yushkov-tech/mmtotgbot/pkg/logx"
)

// DedupStore recognizes redelivered events. The poller and the
// webhook handler may race on the same physical post, so membership
// insert is a single mutex-guarded check-and-set.
//
// Entries carry a seen-at stamp so a periodic Prune keeps the set
// bounded in long-running deployments.
type DedupStore struct {
	mu   sync.Mutex
	seen map[string]time.Time

	store storage.Store // optional write-through; nil disables
	log   logx.Logger
}

func NewDedupStore(store storage.Store, log logx.Logger) *DedupStore {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &DedupStore{seen: map[string]time.Time{}, store: store, log: log}
}

// RecordIfNew returns true the first time a fingerprint is seen and
// false thereafter. Safe under concurrent producers.
func (s *DedupStore) RecordIfNew(fingerprint string) bool {
	if fingerprint == "" {
		return false
	}
	now := time.Now()

	s.mu.Lock()
	if _, ok := s.seen[fingerprint]; ok {
		s.mu.Unlock()
		return false
	}
	s.seen[fingerprint] = now
	s.mu.Unlock()

	if s.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := s.store.PutDedup(ctx, fingerprint, now); err != nil {
			// Persistence is bookkeeping; a miss widens the restart
			// redelivery window but must not fail ingestion.
			s.log.Warn("dedup write-through failed", logx.Err(err))
		}
		cancel()
	}
	return true
}

// Restore pre-seeds the set from persisted state at startup.
func (s *DedupStore) Restore(entries map[string]time.Time) {
	s.mu.Lock()
	for fp, at := range entries {
		s.seen[fp] = at
	}
	s.mu.Unlock()
}

// Prune evicts fingerprints older than ttl and returns the count.
func (s *DedupStore) Prune(ttl time.Duration) int {
	if ttl <= 0 {
		return 0
	}
	cutoff := time.Now().Add(-ttl)

	s.mu.Lock()
	n := 0
	for fp, at := range s.seen {
		if at.Before(cutoff) {
			delete(s.seen, fp)
			n++
		}
	}
	s.mu.Unlock()

	if n > 0 && s.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.store.PruneDedup(ctx, cutoff); err != nil {
			s.log.Warn("dedup prune write-through failed", logx.Err(err))
		}
		cancel()
	}
	return n
}

func (s *DedupStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}
