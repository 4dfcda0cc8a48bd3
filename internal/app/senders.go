package app

import (
	"context"

	kit "github.com/yushkov-tech/mmtotgbot/internal/transport"
)

// escalationSender binds the transport adapter to the escalation chat.
type escalationSender struct {
	ad     kit.Adapter
	chatID int64
}

func (s escalationSender) Send(ctx context.Context, text string, link *kit.LinkButton) (kit.MessageRef, error) {
	return s.ad.SendText(ctx, s.chatID, text, &kit.SendOptions{
		DisablePreview: true,
		LinkButton:     link,
	})
}

func (s escalationSender) Reply(ctx context.Context, replyToID int, text string) error {
	_, err := s.ad.SendText(ctx, s.chatID, text, &kit.SendOptions{ReplyToID: replyToID})
	return err
}

// supervisorSender binds the adapter to the supervisory chat.
// Fire-and-forget: no correlation, no pending accounting.
type supervisorSender struct {
	ad     kit.Adapter
	chatID int64
}

func (s supervisorSender) Notify(ctx context.Context, text string) error {
	_, err := s.ad.SendText(ctx, s.chatID, text, &kit.SendOptions{DisablePreview: true})
	return err
}
