package bridge

import (
	"fmt"
	"hash/fnv"
	"time"
)

// Event is a normalized message observed on the source channel.
// Immutable once created; consumed exactly once by the dispatcher.
type Event struct {
	ChannelID string
	PostID    string
	AuthorID  string
	Text      string
	ArrivedAt time.Time
}

// Fingerprint identifies the event for deduplication. It is derived
// from content and location only, so redeliveries of the same post
// (poller vs webhook, webhook retries) map to the same key. The store
// is in-memory/per-deployment; stability across fingerprint scheme
// changes is not required.
func (e Event) Fingerprint() string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(e.Text))
	_, _ = h.Write([]byte("|"))
	_, _ = h.Write([]byte(e.ChannelID))
	_, _ = h.Write([]byte("|"))
	_, _ = h.Write([]byte(e.PostID))
	return fmt.Sprintf("%x", h.Sum64())
}
