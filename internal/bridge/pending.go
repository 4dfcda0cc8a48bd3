package bridge

import (
	"context"
	"sync"
	"time"

	"github.com/yushkov-tech/mmtotgbot/internal/storage"
	logx "github.com/yushkov-tech/mmtotgbot/pkg/logx"
)

// Pending is an outbound escalation message awaiting either a human
// reply or a timeout. NotificationID is the message id assigned by the
// escalation platform at send time; the engine treats it as opaque.
type Pending struct {
	NotificationID int
	Event          Event
	SentAt         time.Time
	Deadline       time.Time
}

type pendingEntry struct {
	Pending
	timer *time.Timer
}

// PendingTable maps notification ids to their original context and
// owns the per-entry deadline timers.
//
// Both terminal paths go through Take: the reply correlator on
// "answered" and the deadline watcher on "timed out". Whoever wins the
// Take owns the entry; the loser sees absence and no-ops. Stopping a
// timer is advisory only — a timer that fires after its entry was
// taken finds nothing and does nothing.
type PendingTable struct {
	mu      sync.Mutex
	entries map[int]*pendingEntry

	store storage.Store // optional write-through; nil disables
	log   logx.Logger
}

func NewPendingTable(store storage.Store, log logx.Logger) *PendingTable {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &PendingTable{entries: map[int]*pendingEntry{}, store: store, log: log}
}

// Insert records p and arms a single-shot watcher firing at
// p.Deadline. onExpire runs only if the entry is still present at fire
// time, and at most once per notification id.
func (t *PendingTable) Insert(p Pending, onExpire func(Pending)) {
	id := p.NotificationID

	t.mu.Lock()
	if old, ok := t.entries[id]; ok {
		// The escalation platform owns the id space; a collision means
		// it reused a message id, which it must not. Keep the newer
		// context rather than escalating a stale one.
		t.log.Warn("pending entry replaced (duplicate notification id)", logx.Int("notification_id", id))
		old.timer.Stop()
	}
	e := &pendingEntry{Pending: p}
	e.timer = time.AfterFunc(time.Until(p.Deadline), func() {
		if got, ok := t.Take(id); ok && onExpire != nil {
			onExpire(got)
		}
	})
	t.entries[id] = e
	t.mu.Unlock()

	t.persistPut(p)
}

// Take atomically removes and returns the entry for id. The bool
// reports whether the caller won ownership.
func (t *PendingTable) Take(id int) (Pending, bool) {
	t.mu.Lock()
	e, ok := t.entries[id]
	if ok {
		delete(t.entries, id)
		e.timer.Stop()
	}
	t.mu.Unlock()

	if !ok {
		return Pending{}, false
	}
	t.persistDelete(id)
	return e.Pending, true
}

func (t *PendingTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Stop cancels all timers without removing entries or touching
// persisted state (shutdown path; a restart re-arms from storage).
func (t *PendingTable) Stop() {
	t.mu.Lock()
	for _, e := range t.entries {
		e.timer.Stop()
	}
	t.mu.Unlock()
}

// Restore re-inserts persisted entries at startup. Past-due deadlines
// are rescheduled a short grace from now so the watcher still fires
// exactly once instead of escalating in the middle of startup.
func (t *PendingTable) Restore(recs []storage.PendingRecord, onExpire func(Pending)) {
	const pastDueGrace = 10 * time.Second
	now := time.Now()
	for _, rec := range recs {
		deadline := rec.Deadline
		if !deadline.After(now) {
			deadline = now.Add(pastDueGrace)
		}
		p := Pending{
			NotificationID: rec.NotificationID,
			Event: Event{
				ChannelID: rec.ChannelID,
				PostID:    rec.PostID,
				AuthorID:  rec.AuthorID,
				Text:      rec.Text,
				ArrivedAt: rec.ArrivedAt,
			},
			SentAt:   rec.SentAt,
			Deadline: deadline,
		}
		t.Insert(p, onExpire)
	}
}

func (t *PendingTable) persistPut(p Pending) {
	if t.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := t.store.PutPending(ctx, storage.PendingRecord{
		NotificationID: p.NotificationID,
		ChannelID:      p.Event.ChannelID,
		PostID:         p.Event.PostID,
		AuthorID:       p.Event.AuthorID,
		Text:           p.Event.Text,
		ArrivedAt:      p.Event.ArrivedAt,
		SentAt:         p.SentAt,
		Deadline:       p.Deadline,
	})
	if err != nil {
		// The escalation message is already out; losing the bookkeeping
		// row is an anomaly to surface, not a reason to crash.
		t.log.Warn("pending write-through failed", logx.Int("notification_id", p.NotificationID), logx.Err(err))
	}
}

func (t *PendingTable) persistDelete(id int) {
	if t.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := t.store.DeletePending(ctx, id); err != nil {
		t.log.Warn("pending delete write-through failed", logx.Int("notification_id", id), logx.Err(err))
	}
}
