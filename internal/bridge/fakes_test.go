package bridge

import (
	"context"
	"errors"
	"sync"
	"time"

	kit "github.com/yushkov-tech/mmtotgbot/internal/transport"
)

// Shared in-memory collaborators for the pipeline tests.

type postedReply struct {
	ChannelID string
	RootID    string
	Text      string
}

type fakeSource struct {
	mu      sync.Mutex
	replies []postedReply
	fail    bool
}

func (f *fakeSource) PostReply(ctx context.Context, channelID, rootID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("source unavailable")
	}
	f.replies = append(f.replies, postedReply{channelID, rootID, text})
	return nil
}

func (f *fakeSource) posted() []postedReply {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]postedReply, len(f.replies))
	copy(out, f.replies)
	return out
}

type sentMessage struct {
	Text string
	Link *kit.LinkButton
}

type fakeEscalation struct {
	mu      sync.Mutex
	sent    []sentMessage
	replies []string
	nextID  int
	failFor int // fail this many Send calls, then succeed
}

func (f *fakeEscalation) Send(ctx context.Context, text string, link *kit.LinkButton) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFor > 0 {
		f.failFor--
		return kit.MessageRef{}, errors.New("telegram unavailable")
	}
	f.nextID++
	f.sent = append(f.sent, sentMessage{Text: text, Link: link})
	return kit.MessageRef{ChatID: 1, MessageID: f.nextID}, nil
}

func (f *fakeEscalation) Reply(ctx context.Context, replyToID int, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies = append(f.replies, text)
	return nil
}

func (f *fakeEscalation) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakeEscalation) lastSent() (sentMessage, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return sentMessage{}, false
	}
	return f.sent[len(f.sent)-1], true
}

type fakeSupervisorChat struct {
	mu    sync.Mutex
	notes []string
}

func (f *fakeSupervisorChat) Notify(ctx context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notes = append(f.notes, text)
	return nil
}

func (f *fakeSupervisorChat) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.notes)
}

type fakeUsers struct {
	names map[string]string
	err   error
}

func (f *fakeUsers) DisplayName(ctx context.Context, userID string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.names[userID], nil
}

type fakeChannels struct {
	names map[string]string
	err   error
}

func (f *fakeChannels) ChannelName(ctx context.Context, channelID string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.names[channelID], nil
}

func testEvent(postID string) Event {
	return Event{
		ChannelID: "chan1",
		PostID:    postID,
		AuthorID:  "u9",
		Text:      "ticket 12-345 is broken",
		ArrivedAt: time.Now(),
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}
