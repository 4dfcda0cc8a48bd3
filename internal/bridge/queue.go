package bridge

import (
	"context"
	"errors"
	"time"

	"github.com/yushkov-tech/mmtotgbot/internal/eventbus"
	logx "github.com/yushkov-tech/mmtotgbot/pkg/logx"
)

var ErrQueueFull = errors.New("ingestion queue full")

// Queue is the bounded FIFO between producers (poller, webhook) and
// the single dispatcher consumer. Producers never block each other;
// when the queue is full they wait at most maxWait and then shed the
// event with a logged, bus-visible drop. Unbounded blocking inside a
// webhook handler would run into platform-side request timeouts.
type Queue struct {
	ch      chan Event
	maxWait time.Duration
	bus     eventbus.Bus
	log     logx.Logger
}

func NewQueue(size int, maxWait time.Duration, bus eventbus.Bus, log logx.Logger) *Queue {
	if size <= 0 {
		size = 256
	}
	if maxWait <= 0 {
		maxWait = 2 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Queue{
		ch:      make(chan Event, size),
		maxWait: maxWait,
		bus:     bus,
		log:     log,
	}
}

// Enqueue delivers ev to the dispatcher, waiting at most the
// configured bound when the queue is full.
func (q *Queue) Enqueue(ctx context.Context, ev Event) error {
	select {
	case q.ch <- ev:
		q.publish(eventbus.EventQueued, ev)
		return nil
	default:
	}

	t := time.NewTimer(q.maxWait)
	defer t.Stop()
	select {
	case q.ch <- ev:
		q.publish(eventbus.EventQueued, ev)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		q.log.Warn("ingestion queue full, event dropped",
			logx.String("post_id", ev.PostID),
			logx.Int("queue_cap", cap(q.ch)))
		q.publish(eventbus.EventDropped, ev)
		return ErrQueueFull
	}
}

// C is the consumer side. Single consumer by contract.
func (q *Queue) C() <-chan Event { return q.ch }

func (q *Queue) Len() int { return len(q.ch) }

func (q *Queue) publish(typ string, ev Event) {
	if q.bus == nil {
		return
	}
	q.bus.Publish(eventbus.Event{Type: typ, Data: ev})
}
