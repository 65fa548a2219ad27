package transport

import (
	"context"
	"errors"
)

// Gateway errors. Adapters map platform-specific failures onto these so the
// reconciliation loop can log meaningfully without knowing the wire format.
var (
	// ErrGatewayUnavailable marks transient transport failures; the caller
	// may retry on a later tick.
	ErrGatewayUnavailable = errors.New("gateway unavailable")
	// ErrGatewayRejected marks permanent refusals (bad channel, kicked bot).
	ErrGatewayRejected = errors.New("gateway rejected request")
	// ErrAlreadyGone marks a retract target that no longer exists.
	ErrAlreadyGone = errors.New("message already gone")
)

// Gateway posts and retracts announcement messages in a channel.
//
// Post is NOT idempotent: calling it twice creates two messages. Exactly-once
// intent is enforced by the store's message-id predicate, not here.
type Gateway interface {
	Post(ctx context.Context, channelID, content string) (messageID string, err error)
	Retract(ctx context.Context, channelID, messageID string) error
}

type UpdateKind string

const (
	UpdateMessage UpdateKind = "message"
)

type Update struct {
	Kind    UpdateKind
	Message *Message
}

type Message struct {
	ID           int
	ChatID       int64
	FromID       int64
	FromUsername string
	Text         string
}

type ChatTarget struct {
	ChatID int64
}

type MessageRef struct {
	ChatID    int64
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

// Adapter is the incoming side of the chat platform: it feeds user messages to
// the command layer and sends user-facing replies.
type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
}
