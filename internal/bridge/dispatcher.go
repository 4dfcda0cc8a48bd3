package bridge

import (
	"context"
	"sync"
	"time"

	"github.com/yushkov-tech/mmtotgbot/internal/eventbus"
	logx "github.com/yushkov-tech/mmtotgbot/pkg/logx"
)

const defaultAckText = "Got it — the team is around and will pick this up shortly."

// Dispatcher is the single consumer of the ingestion queue. Each event
// reaches exactly one terminal outcome: deduped, self-filtered,
// auto-acknowledged, or handed to the notifier.
type Dispatcher struct {
	queue    *Queue
	dedup    *DedupStore
	hours    *HoursOracle
	source   SourcePoster
	notifier *Notifier

	mu      sync.Mutex
	selfID  string // bridge's own source-platform identity
	ackText string

	bus eventbus.Bus
	log logx.Logger
}

func NewDispatcher(queue *Queue, dedup *DedupStore, hours *HoursOracle,
	source SourcePoster, notifier *Notifier, bus eventbus.Bus, log logx.Logger) *Dispatcher {

	if log.IsZero() {
		log = logx.Nop()
	}
	return &Dispatcher{
		queue:    queue,
		dedup:    dedup,
		hours:    hours,
		source:   source,
		notifier: notifier,
		ackText:  defaultAckText,
		bus:      bus,
		log:      log,
	}
}

// SetSelfID records the bridge's own author id so its acknowledgments
// and forwarded answers never feed back into the pipeline.
func (d *Dispatcher) SetSelfID(id string) {
	d.mu.Lock()
	d.selfID = id
	d.mu.Unlock()
}

func (d *Dispatcher) SetAckText(text string) {
	d.mu.Lock()
	if text != "" {
		d.ackText = text
	}
	d.mu.Unlock()
}

// Run consumes the queue until ctx is done. It owns no locks for its
// decision logic; only the shared stores it touches are synchronized.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-d.queue.C():
			d.onEvent(ctx, ev)
		}
	}
}

func (d *Dispatcher) onEvent(ctx context.Context, ev Event) {
	if !d.dedup.RecordIfNew(ev.Fingerprint()) {
		d.log.Debug("duplicate event discarded", logx.String("post_id", ev.PostID))
		d.publish(eventbus.EventDeduped, ev)
		return
	}

	d.mu.Lock()
	selfID := d.selfID
	ackText := d.ackText
	d.mu.Unlock()

	if selfID != "" && ev.AuthorID == selfID {
		// Own posts (acks, forwarded answers) would loop forever.
		d.log.Debug("own message discarded", logx.String("post_id", ev.PostID))
		return
	}

	if !d.hours.IsNonWorking(time.Now()) {
		actx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := d.source.PostReply(actx, ev.ChannelID, ev.PostID, ackText)
		cancel()
		if err != nil {
			d.log.Warn("acknowledgment failed", logx.String("post_id", ev.PostID), logx.Err(err))
			return
		}
		d.log.Debug("acknowledged during working hours", logx.String("post_id", ev.PostID))
		d.publish(eventbus.EventAcked, ev)
		return
	}

	if err := d.notifier.Notify(ctx, ev); err != nil {
		// Already logged by the notifier; the event is terminal either way.
		return
	}
}

func (d *Dispatcher) publish(typ string, ev Event) {
	if d.bus == nil {
		return
	}
	d.bus.Publish(eventbus.Event{Type: typ, Data: ev})
}
