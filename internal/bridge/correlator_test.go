package bridge

import (
	"context"
	"strings"
	"testing"
	"time"

	kit "github.com/yushkov-tech/mmtotgbot/internal/transport"
	logx "github.com/yushkov-tech/mmtotgbot/pkg/logx"
)

func insertPending(t *testing.T, tbl *PendingTable, id int, postID string) {
	t.Helper()
	tbl.Insert(Pending{
		NotificationID: id,
		Event:          testEvent(postID),
		SentAt:         time.Now(),
		Deadline:       time.Now().Add(time.Hour),
	}, nil)
}

func TestCorrelatorForwardsAnswer(t *testing.T) {
	src := &fakeSource{}
	esc := &fakeEscalation{}
	tbl := NewPendingTable(nil, logx.Nop())
	t.Cleanup(tbl.Stop)
	insertPending(t, tbl, 42, "p1")

	c := NewCorrelator(tbl, src, esc, nil, logx.Nop())
	c.OnReply(context.Background(), kit.Message{
		ID:           100,
		FromUsername: "dana",
		Text:         "restart the pod, ticket is a dupe of 12-001",
		ReplyToID:    42,
	})

	replies := src.posted()
	if len(replies) != 1 {
		t.Fatalf("forwarded %d answers, want 1", len(replies))
	}
	if replies[0].RootID != "p1" {
		t.Fatalf("answer landed in thread %q, want p1", replies[0].RootID)
	}
	if !strings.Contains(replies[0].Text, "@dana") || !strings.Contains(replies[0].Text, "restart the pod") {
		t.Fatalf("unexpected forwarded text %q", replies[0].Text)
	}
	if tbl.Len() != 0 {
		t.Fatal("answered entry must leave the table")
	}
	if len(esc.replies) != 1 {
		t.Fatal("responder must get a delivery acknowledgment")
	}
}

func TestCorrelatorAnonymousResponderFallsBackToID(t *testing.T) {
	src := &fakeSource{}
	tbl := NewPendingTable(nil, logx.Nop())
	t.Cleanup(tbl.Stop)
	insertPending(t, tbl, 7, "p1")

	c := NewCorrelator(tbl, src, &fakeEscalation{}, nil, logx.Nop())
	c.OnReply(context.Background(), kit.Message{
		ID:        100,
		FromID:    555,
		Text:      "done",
		ReplyToID: 7,
	})

	replies := src.posted()
	if len(replies) != 1 || !strings.Contains(replies[0].Text, "user 555") {
		t.Fatalf("expected numeric fallback, got %+v", replies)
	}
}

func TestCorrelatorDiscardsUntracked(t *testing.T) {
	src := &fakeSource{}
	tbl := NewPendingTable(nil, logx.Nop())
	c := NewCorrelator(tbl, src, &fakeEscalation{}, nil, logx.Nop())

	// Plain chat message, no reply reference.
	c.OnReply(context.Background(), kit.Message{ID: 1, Text: "morning all"})
	// Reply to a message the engine never sent.
	c.OnReply(context.Background(), kit.Message{ID: 2, Text: "what?", ReplyToID: 9999})
	// Empty answer text.
	c.OnReply(context.Background(), kit.Message{ID: 3, Text: "   ", ReplyToID: 9999})

	if len(src.posted()) != 0 {
		t.Fatal("untracked replies must never reach the source")
	}
}

func TestCorrelatorAnswerSuppressesEscalation(t *testing.T) {
	src := &fakeSource{}
	esc := &fakeEscalation{}
	sup := &fakeSupervisorChat{}
	tbl := NewPendingTable(nil, logx.Nop())
	t.Cleanup(tbl.Stop)

	n := NewNotifier(NotifierConfig{Deadline: 40 * time.Millisecond}, esc, sup, nil, nil, tbl, nil, logx.Nop())
	if err := n.Notify(context.Background(), testEvent("p1")); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	c := NewCorrelator(tbl, src, esc, nil, logx.Nop())
	c.OnReply(context.Background(), kit.Message{
		ID:           200,
		FromUsername: "dana",
		Text:         "on it",
		ReplyToID:    1, // first fake message id
	})

	if len(src.posted()) != 1 {
		t.Fatal("answer must be forwarded")
	}
	// Let the original deadline pass; the watcher must find nothing.
	time.Sleep(120 * time.Millisecond)
	if sup.count() != 0 {
		t.Fatal("answered notification must never escalate")
	}
}
