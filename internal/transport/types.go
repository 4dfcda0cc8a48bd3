// Package transport defines the platform-neutral surface the bridge
// needs from the escalation chat: receive text updates (including
// reply context) and send messages with an optional link button.
package transport

import "context"

type Update struct {
	Message *Message
}

type Message struct {
	ID           int
	ChatID       int64
	FromID       int64
	FromUsername string
	Text         string

	// ReplyToID is the id of the message this one replies to (0 if it
	// is not a reply). Reply correlation hangs off this field.
	ReplyToID int
}

type MessageRef struct {
	ChatID    int64
	MessageID int
}

// LinkButton renders as an inline URL button attached to the message.
type LinkButton struct {
	Text string
	URL  string
}

type SendOptions struct {
	DisablePreview bool
	LinkButton     *LinkButton
	ReplyToID      int // reply to a specific message (0 = plain send)
}

type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, chatID int64, text string, opt *SendOptions) (MessageRef, error)
}
