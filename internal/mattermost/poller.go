package mattermost

import (
	"context"
	"time"

	"github.com/yushkov-tech/mmtotgbot/internal/bridge"
	logx "github.com/yushkov-tech/mmtotgbot/pkg/logx"
)

// Poller periodically fetches new channel posts and feeds qualifying
// ones into the ingestion queue. It may observe posts the webhook
// already delivered; the shared dedup store downstream makes that
// harmless.
type Poller struct {
	client    *Client
	channelID string
	interval  time.Duration
	qualify   *Qualifier
	queue     *bridge.Queue
	log       logx.Logger

	since time.Time // watermark; posts at or before it are skipped
}

func NewPoller(client *Client, channelID string, interval time.Duration,
	qualify *Qualifier, queue *bridge.Queue, log logx.Logger) *Poller {

	if interval <= 0 {
		interval = 15 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Poller{
		client:    client,
		channelID: channelID,
		interval:  interval,
		qualify:   qualify,
		queue:     queue,
		log:       log,
		since:     time.Now(),
	}
}

// Run polls until ctx is done. Fetch errors are returned so a
// supervisor restart loop can apply backoff.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := p.pollOnce(ctx); err != nil {
				return err
			}
		}
	}
}

func (p *Poller) pollOnce(ctx context.Context) error {
	fctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	posts, err := p.client.PostsSince(fctx, p.channelID, p.since)
	cancel()
	if err != nil {
		return err
	}

	for _, post := range posts {
		created := time.UnixMilli(post.CreateAt)
		if created.After(p.since) {
			p.since = created
		}
		// Only thread openers enter the pipeline; replies inside
		// threads belong to the humans already talking there.
		if post.RootID != "" {
			continue
		}
		if !p.qualify.Qualifies(post.Message) {
			continue
		}
		ev := bridge.Event{
			ChannelID: post.ChannelID,
			PostID:    post.ID,
			AuthorID:  post.UserID,
			Text:      post.Message,
			ArrivedAt: created,
		}
		if err := p.queue.Enqueue(ctx, ev); err != nil {
			// Shed and keep polling; the queue already logged the drop.
			p.log.Debug("poll enqueue failed", logx.String("post_id", post.ID), logx.Err(err))
		}
	}
	return nil
}
