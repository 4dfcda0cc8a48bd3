package bridge

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/yushkov-tech/mmtotgbot/internal/eventbus"
	kit "github.com/yushkov-tech/mmtotgbot/internal/transport"
	logx "github.com/yushkov-tech/mmtotgbot/pkg/logx"
)

// Correlator matches inbound escalation-chat replies to pending
// notifications and routes the human's answer back into the
// originating source thread.
type Correlator struct {
	pending *PendingTable
	source  SourcePoster
	sender  EscalationSender

	bus eventbus.Bus
	log logx.Logger
}

func NewCorrelator(pending *PendingTable, source SourcePoster, sender EscalationSender,
	bus eventbus.Bus, log logx.Logger) *Correlator {

	if log.IsZero() {
		log = logx.Nop()
	}
	return &Correlator{pending: pending, source: source, sender: sender, bus: bus, log: log}
}

// OnReply handles a message from the escalation chat. Only replies to
// tracked notifications matter; everything else is discarded quietly.
func (c *Correlator) OnReply(ctx context.Context, msg kit.Message) {
	if msg.ReplyToID == 0 || strings.TrimSpace(msg.Text) == "" {
		return
	}

	p, ok := c.pending.Take(msg.ReplyToID)
	if !ok {
		// Reply to something the engine never tracked, or already
		// resolved/expired. A collaborator quirk, not an error.
		c.log.Debug("reply without pending entry discarded", logx.Int("reply_to", msg.ReplyToID))
		return
	}

	responder := msg.FromUsername
	if responder == "" {
		responder = fmt.Sprintf("user %d", msg.FromID)
	}
	answer := fmt.Sprintf("Answer from @%s:\n%s", responder, msg.Text)

	fctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	err := c.source.PostReply(fctx, p.Event.ChannelID, p.Event.PostID, answer)
	cancel()
	if err != nil {
		// The entry is already taken (never escalates now), but the
		// answer did not reach the thread. Surface it loudly.
		c.log.Error("forwarding answer to source thread failed",
			logx.Int("notification_id", p.NotificationID),
			logx.String("post_id", p.Event.PostID),
			logx.Err(err))
		return
	}

	c.log.Info("answer forwarded",
		logx.Int("notification_id", p.NotificationID),
		logx.String("post_id", p.Event.PostID),
		logx.String("responder", responder))
	if c.bus != nil {
		c.bus.Publish(eventbus.Event{Type: eventbus.EventAnswered, Data: p.Event})
	}

	// Acknowledge the responder in-thread; best-effort.
	actx, cancel := context.WithTimeout(ctx, 10*time.Second)
	if err := c.sender.Reply(actx, msg.ID, "✅ Delivered to the thread."); err != nil {
		c.log.Debug("responder acknowledgment failed", logx.Err(err))
	}
	cancel()
}
