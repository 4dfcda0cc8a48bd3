package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	logx "github.com/yushkov-tech/mmtotgbot/pkg/logx"
)

func openTestStore(t *testing.T) Store {
	t.Helper()
	st, err := Open(Config{
		Driver: "sqlite",
		Path:   filepath.Join(t.TempDir(), "bridge.db"),
	}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestOpenDisabled(t *testing.T) {
	for _, driver := range []string{"", "none"} {
		st, err := Open(Config{Driver: driver}, logx.Nop())
		if err != nil {
			t.Fatalf("Open(%q): %v", driver, err)
		}
		if st != nil {
			t.Fatalf("Open(%q) must return a nil store", driver)
		}
	}
	if _, err := Open(Config{Driver: "postgres"}, logx.Nop()); err == nil {
		t.Fatal("unknown driver must error")
	}
}

func TestDedupRoundTrip(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	old := time.Now().Add(-48 * time.Hour)
	recent := time.Now().Add(-time.Hour)
	if err := st.PutDedup(ctx, "fp-old", old); err != nil {
		t.Fatalf("PutDedup: %v", err)
	}
	if err := st.PutDedup(ctx, "fp-recent", recent); err != nil {
		t.Fatalf("PutDedup: %v", err)
	}
	// Redelivery of a known fingerprint is a no-op, not an error.
	if err := st.PutDedup(ctx, "fp-old", time.Now()); err != nil {
		t.Fatalf("PutDedup duplicate: %v", err)
	}

	seen, err := st.ListDedup(ctx)
	if err != nil {
		t.Fatalf("ListDedup: %v", err)
	}
	if len(seen) != 2 {
		t.Fatalf("listed %d fingerprints, want 2", len(seen))
	}
	// First write wins; the duplicate must not refresh the stamp.
	if got := seen["fp-old"]; got.Sub(old).Abs() > time.Second {
		t.Fatalf("fp-old stamp %v, want about %v", got, old)
	}

	if err := st.PruneDedup(ctx, time.Now().Add(-24*time.Hour)); err != nil {
		t.Fatalf("PruneDedup: %v", err)
	}
	seen, err = st.ListDedup(ctx)
	if err != nil {
		t.Fatalf("ListDedup after prune: %v", err)
	}
	if _, ok := seen["fp-old"]; ok {
		t.Fatal("expired fingerprint must be pruned")
	}
	if _, ok := seen["fp-recent"]; !ok {
		t.Fatal("recent fingerprint must survive")
	}
}

func TestPendingRoundTrip(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	rec := PendingRecord{
		NotificationID: 42,
		ChannelID:      "chan1",
		PostID:         "p1",
		AuthorID:       "u9",
		Text:           "ticket 12-345 is broken",
		ArrivedAt:      time.Now().Add(-time.Minute),
		SentAt:         time.Now(),
		Deadline:       time.Now().Add(time.Hour),
	}
	if err := st.PutPending(ctx, rec); err != nil {
		t.Fatalf("PutPending: %v", err)
	}

	// Upsert replaces the row for a reused notification id.
	rec.Text = "updated context"
	if err := st.PutPending(ctx, rec); err != nil {
		t.Fatalf("PutPending upsert: %v", err)
	}

	got, err := st.ListPending(ctx)
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("listed %d rows, want 1", len(got))
	}
	if got[0].NotificationID != 42 || got[0].Text != "updated context" {
		t.Fatalf("unexpected row %+v", got[0])
	}
	if got[0].Deadline.Sub(rec.Deadline).Abs() > time.Second {
		t.Fatalf("deadline drifted: %v vs %v", got[0].Deadline, rec.Deadline)
	}

	if err := st.DeletePending(ctx, 42); err != nil {
		t.Fatalf("DeletePending: %v", err)
	}
	got, err = st.ListPending(ctx)
	if err != nil {
		t.Fatalf("ListPending after delete: %v", err)
	}
	if len(got) != 0 {
		t.Fatal("deleted row must be gone")
	}
}

func TestListPendingOrderedByDeadline(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	for i, offset := range []time.Duration{3 * time.Hour, time.Hour, 2 * time.Hour} {
		err := st.PutPending(ctx, PendingRecord{
			NotificationID: i + 1,
			ChannelID:      "chan1",
			PostID:         "p",
			Deadline:       now.Add(offset),
		})
		if err != nil {
			t.Fatalf("PutPending: %v", err)
		}
	}

	got, err := st.ListPending(ctx)
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	for i := 1; i < len(got); i++ {
		if got[i].Deadline.Before(got[i-1].Deadline) {
			t.Fatal("rows must come back in deadline order")
		}
	}
}
