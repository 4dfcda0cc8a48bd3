package bridge

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/yushkov-tech/mmtotgbot/internal/eventbus"
	kit "github.com/yushkov-tech/mmtotgbot/internal/transport"
	logx "github.com/yushkov-tech/mmtotgbot/pkg/logx"
)

// NotifierConfig tunes outbound escalation delivery.
type NotifierConfig struct {
	Deadline      time.Duration // response deadline per notification
	RatePerSec    int
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	LookupTimeout time.Duration // user/channel enrichment bound
}

func (c *NotifierConfig) fillDefaults() {
	if c.Deadline <= 0 {
		c.Deadline = time.Hour
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 3
	}
	if c.RetryMax < 0 {
		c.RetryMax = 0
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 500 * time.Millisecond
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 10 * time.Second
	}
	if c.LookupTimeout <= 0 {
		c.LookupTimeout = 3 * time.Second
	}
}

// Notifier sends escalation messages and records the pending entry.
// Exactly one outbound send per Notify call; the pending entry and its
// deadline watcher exist only after a confirmed delivery.
type Notifier struct {
	mu  sync.Mutex
	cfg NotifierConfig

	sender   EscalationSender
	superv   SupervisorSender
	users    UserResolver
	channels ChannelResolver
	pending  *PendingTable

	// Permalink maps a post id to a deep link. ok=false means the id
	// is not a well-formed token and no link must be constructed.
	Permalink func(postID string) (url string, ok bool)

	limiter *rate.Limiter
	bus     eventbus.Bus
	log     logx.Logger
}

func NewNotifier(cfg NotifierConfig, sender EscalationSender, superv SupervisorSender,
	users UserResolver, channels ChannelResolver, pending *PendingTable,
	bus eventbus.Bus, log logx.Logger) *Notifier {

	cfg.fillDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Notifier{
		cfg:      cfg,
		sender:   sender,
		superv:   superv,
		users:    users,
		channels: channels,
		pending:  pending,
		limiter:  rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
		bus:      bus,
		log:      log,
	}
}

// Apply updates tunables on config hot reload. Already-armed watchers
// keep the deadline they were created with.
func (n *Notifier) Apply(cfg NotifierConfig) {
	cfg.fillDefaults()
	n.mu.Lock()
	n.cfg = cfg
	n.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	n.mu.Unlock()
}

// Notify forwards ev to the escalation chat and, on confirmed
// delivery, records the pending entry and arms its deadline watcher.
func (n *Notifier) Notify(ctx context.Context, ev Event) error {
	n.mu.Lock()
	cfg := n.cfg
	lim := n.limiter
	n.mu.Unlock()

	text, link := n.composeEscalation(ctx, ev, cfg.LookupTimeout)

	ref, err := n.sendWithRetry(ctx, cfg, lim, text, link)
	if err != nil {
		// No pending entry, no watcher: a message that never reached
		// the human channel must not enter escalation accounting.
		n.log.Error("escalation send failed", logx.String("post_id", ev.PostID), logx.Err(err))
		return err
	}

	now := time.Now()
	n.pending.Insert(Pending{
		NotificationID: ref.MessageID,
		Event:          ev,
		SentAt:         now,
		Deadline:       now.Add(cfg.Deadline),
	}, n.escalate)

	n.log.Info("escalation sent",
		logx.Int("notification_id", ref.MessageID),
		logx.String("post_id", ev.PostID),
		logx.Duration("deadline", cfg.Deadline))
	n.publish(eventbus.EventNotified, ev)
	return nil
}

// HandleExpiry is the expiry callback to arm restored pending entries
// with after a restart.
func (n *Notifier) HandleExpiry(p Pending) {
	n.escalate(p)
}

// escalate is the watcher expiry path. The entry was already taken
// from the table, so this runs at most once per notification.
func (n *Notifier) escalate(p Pending) {
	n.mu.Lock()
	cfg := n.cfg
	n.mu.Unlock()

	text := fmt.Sprintf("🚨 No response within %s for a message from %s:\n%s",
		formatDeadline(cfg.Deadline), p.Event.AuthorID, p.Event.Text)
	if url, ok := n.permalink(p.Event.PostID); ok {
		text += "\n" + url
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := n.superv.Notify(ctx, text); err != nil {
		// The entry is already terminal; all we can do is surface it.
		n.log.Error("supervisory notification failed",
			logx.Int("notification_id", p.NotificationID), logx.Err(err))
		return
	}
	n.log.Info("escalated to supervisor",
		logx.Int("notification_id", p.NotificationID),
		logx.String("post_id", p.Event.PostID))
	n.publish(eventbus.EventEscalated, p.Event)
}

func (n *Notifier) composeEscalation(ctx context.Context, ev Event, lookupTimeout time.Duration) (string, *kit.LinkButton) {
	// Identity enrichment is best-effort: a lookup failure degrades to
	// the raw author id and never fails the notification.
	name := ev.AuthorID
	if n.users != nil {
		lctx, cancel := context.WithTimeout(ctx, lookupTimeout)
		if dn, err := n.users.DisplayName(lctx, ev.AuthorID); err == nil && strings.TrimSpace(dn) != "" {
			name = dn
		} else if err != nil {
			n.log.Debug("user lookup failed, using raw id", logx.String("user_id", ev.AuthorID), logx.Err(err))
		}
		cancel()
	}

	channel := ev.ChannelID
	if n.channels != nil {
		lctx, cancel := context.WithTimeout(ctx, lookupTimeout)
		if cn, err := n.channels.ChannelName(lctx, ev.ChannelID); err == nil && strings.TrimSpace(cn) != "" {
			channel = cn
		}
		cancel()
	}

	var b strings.Builder
	fmt.Fprintf(&b, "🔔 %s is waiting for a response in %s:\n%s", name, channel, ev.Text)

	var link *kit.LinkButton
	if url, ok := n.permalink(ev.PostID); ok {
		link = &kit.LinkButton{Text: "Open thread", URL: url}
	} else {
		b.WriteString("\n(link unavailable)")
	}
	b.WriteString("\n\nReply to this message to answer in the thread.")
	return b.String(), link
}

func (n *Notifier) permalink(postID string) (string, bool) {
	if n.Permalink == nil {
		return "", false
	}
	return n.Permalink(postID)
}

func (n *Notifier) sendWithRetry(ctx context.Context, cfg NotifierConfig, lim *rate.Limiter,
	text string, link *kit.LinkButton) (kit.MessageRef, error) {

	maxAttempts := 1 + cfg.RetryMax

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if lim != nil {
			if err := lim.Wait(ctx); err != nil {
				return kit.MessageRef{}, err
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		ref, err := n.sender.Send(callCtx, text, link)
		cancel()
		if err == nil {
			return ref, nil
		}
		lastErr = err
		n.log.Debug("escalation send attempt failed",
			logx.Int("attempt", attempt), logx.Int("max", maxAttempts), logx.Err(err))

		if attempt >= maxAttempts {
			break
		}
		t := time.NewTimer(retryDelay(cfg, attempt))
		select {
		case <-t.C:
		case <-ctx.Done():
			if !t.Stop() {
				<-t.C
			}
			return kit.MessageRef{}, ctx.Err()
		}
	}
	return kit.MessageRef{}, lastErr
}

func (n *Notifier) publish(typ string, ev Event) {
	if n.bus == nil {
		return
	}
	n.bus.Publish(eventbus.Event{Type: typ, Data: ev})
}

func retryDelay(cfg NotifierConfig, attempt int) time.Duration {
	// attempt starts at 1; delay is for the NEXT attempt.
	d := cfg.RetryBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= cfg.RetryMaxDelay {
			d = cfg.RetryMaxDelay
			break
		}
	}
	// Jitter 0.7..1.3
	j := 0.7 + rand.Float64()*0.6
	d = time.Duration(float64(d) * j)
	if d > cfg.RetryMaxDelay {
		d = cfg.RetryMaxDelay
	}
	if d < 0 {
		return 0
	}
	return d
}

func formatDeadline(d time.Duration) string {
	if d%time.Hour == 0 {
		return fmt.Sprintf("%dh", int(d.Hours()))
	}
	return d.Truncate(time.Second).String()
}
