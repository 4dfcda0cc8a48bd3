package mattermost

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/yushkov-tech/mmtotgbot/internal/bridge"
	logx "github.com/yushkov-tech/mmtotgbot/pkg/logx"
)

func TestPollerFiltersAndEnqueues(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(postList{
			Posts: map[string]Post{
				"opener": {ID: "opener", ChannelID: "chan1", UserID: "u9",
					Message: "ticket 12-345 down", CreateAt: 1000},
				"threadreply": {ID: "threadreply", ChannelID: "chan1", RootID: "opener",
					Message: "ticket 12-345 ack", CreateAt: 2000},
				"smalltalk": {ID: "smalltalk", ChannelID: "chan1", UserID: "u2",
					Message: "lunch?", CreateAt: 3000},
			},
		})
	}))
	defer srv.Close()

	q, err := NewQualifier(`\d{2}-\d{3,5}`)
	if err != nil {
		t.Fatalf("NewQualifier: %v", err)
	}
	queue := bridge.NewQueue(8, 0, nil, logx.Nop())
	p := NewPoller(NewClient(srv.URL, "tok", logx.Nop()), "chan1", time.Second, q, queue, logx.Nop())
	p.since = time.UnixMilli(0)

	if err := p.pollOnce(context.Background()); err != nil {
		t.Fatalf("pollOnce: %v", err)
	}

	if queue.Len() != 1 {
		t.Fatalf("queue length %d, want only the qualifying opener", queue.Len())
	}
	ev := <-queue.C()
	if ev.PostID != "opener" {
		t.Fatalf("enqueued %q, want opener", ev.PostID)
	}
	// Watermark advances past everything seen, including skipped posts.
	if got := p.since.UnixMilli(); got != 3000 {
		t.Fatalf("watermark %d, want 3000", got)
	}
}

func TestPollerRunReturnsFetchError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	q, _ := NewQualifier("")
	queue := bridge.NewQueue(8, 0, nil, logx.Nop())
	p := NewPoller(NewClient(srv.URL, "tok", logx.Nop()), "chan1", 10*time.Millisecond, q, queue, logx.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := p.Run(ctx); err == nil {
		t.Fatal("Run must surface fetch errors for restart backoff")
	}
	if calls.Load() == 0 {
		t.Fatal("server was never polled")
	}
}
