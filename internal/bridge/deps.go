package bridge

import (
	"context"

	kit "github.com/yushkov-tech/mmtotgbot/internal/transport"
)

// Collaborator contracts the engine needs from the two platforms.
// HTTP methods, auth headers and JSON shapes are the collaborators'
// business; only these semantics are binding.

// SourcePoster posts replies into a source-platform thread. Used for
// immediate acknowledgments and for forwarding human answers back.
type SourcePoster interface {
	PostReply(ctx context.Context, channelID, rootID, text string) error
}

// UserResolver resolves a user id to a display name. Best-effort:
// failures and timeouts must degrade to the raw id at the call site,
// never abort the caller.
type UserResolver interface {
	DisplayName(ctx context.Context, userID string) (string, error)
}

// ChannelResolver resolves a channel id to its display name.
// Best-effort, same degradation rule as UserResolver.
type ChannelResolver interface {
	ChannelName(ctx context.Context, channelID string) (string, error)
}

// EscalationSender delivers messages to the escalation chat. Send must
// return a stable platform-assigned message id usable as the
// notification id. Reply acknowledges a responder in-thread.
type EscalationSender interface {
	Send(ctx context.Context, text string, link *kit.LinkButton) (kit.MessageRef, error)
	Reply(ctx context.Context, replyToID int, text string) error
}

// SupervisorSender notifies the supervisory contact. Fire-and-forget;
// no correlation needed.
type SupervisorSender interface {
	Notify(ctx context.Context, text string) error
}
