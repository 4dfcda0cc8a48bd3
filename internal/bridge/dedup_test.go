package bridge

import (
	"sync"
	"testing"
	"time"

	logx "github.com/yushkov-tech/mmtotgbot/pkg/logx"
)

func TestDedupRecordIfNew(t *testing.T) {
	s := NewDedupStore(nil, logx.Nop())
	if !s.RecordIfNew("fp1") {
		t.Fatal("first sighting must be new")
	}
	if s.RecordIfNew("fp1") {
		t.Fatal("second sighting must be a duplicate")
	}
	if !s.RecordIfNew("fp2") {
		t.Fatal("unrelated fingerprint must be new")
	}
	if s.RecordIfNew("") {
		t.Fatal("empty fingerprint must never be recorded")
	}
	if got := s.Len(); got != 2 {
		t.Fatalf("Len() = %d, want 2", got)
	}
}

func TestDedupConcurrentProducersAdmitExactlyOne(t *testing.T) {
	// Poller and webhook racing on the same physical post.
	s := NewDedupStore(nil, logx.Nop())
	const workers = 32

	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.RecordIfNew("same-post") {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if admitted != 1 {
		t.Fatalf("admitted %d producers, want exactly 1", admitted)
	}
}

func TestDedupPruneEvictsOnlyExpired(t *testing.T) {
	s := NewDedupStore(nil, logx.Nop())
	s.Restore(map[string]time.Time{
		"old":    time.Now().Add(-48 * time.Hour),
		"recent": time.Now().Add(-time.Hour),
	})

	if n := s.Prune(24 * time.Hour); n != 1 {
		t.Fatalf("Prune removed %d, want 1", n)
	}
	if s.RecordIfNew("recent") {
		t.Fatal("recent fingerprint must survive the prune")
	}
	if !s.RecordIfNew("old") {
		t.Fatal("pruned fingerprint must be admissible again")
	}
}

func TestDedupPruneZeroTTLIsNoop(t *testing.T) {
	s := NewDedupStore(nil, logx.Nop())
	s.RecordIfNew("fp")
	if n := s.Prune(0); n != 0 {
		t.Fatalf("Prune(0) removed %d, want 0", n)
	}
	if s.Len() != 1 {
		t.Fatal("zero ttl must not evict anything")
	}
}
