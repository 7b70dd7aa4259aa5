// Package chat implements the Chat Topic Facade (C4, spec §4.4): a rolling
// per-stream buffer with a flush timer, chatter suppression, and a
// ChatTransport abstraction wrapping the teacher's nonexistent chat layer
// with the pack's most-retrieved chat-bot stack
// (github.com/go-telegram-bot-api/telegram-bot-api/v5, seen in the
// zkoranges-go-claw, jxucoder-TeleCoder, and KurtSkinny-telegram-userbot
// manifests).
package chat

import "context"

// InlineButton is one button of an inline keyboard; Data is the compact
// callback payload described in spec §4.9/§6 ("<prefix>:<key>:<value>").
type InlineButton struct {
	Label string
	Data  string
}

// Keyboard is a grid of inline buttons, one slice per row.
type Keyboard [][]InlineButton

// UpdateKind distinguishes the two shapes a transport update can carry.
type UpdateKind string

const (
	UpdateMessage  UpdateKind = "message"
	UpdateCallback UpdateKind = "callback"
)

// Update is what long_poll_updates yields per spec §6: a message (chat,
// thread, user, text) or a callback (data, originating message, user).
type Update struct {
	Kind UpdateKind

	ChatID   string
	ThreadID string
	UserID   string
	Text     string

	CallbackData      string
	CallbackMessageID string
	CallbackID        string
}

// Transport is the out-of-scope chat-transport collaborator interface from
// spec §6: create/rename/close/delete threads; send/edit with optional
// inline keyboard; long-poll updates.
type Transport interface {
	CreateThread(ctx context.Context, chatID, title string) (threadID string, err error)
	Send(ctx context.Context, chatID, threadID, text string, kb *Keyboard) (messageID string, err error)
	Edit(ctx context.Context, chatID, messageID, text string, kb *Keyboard) error
	Close(ctx context.Context, threadID string) error
	Reopen(ctx context.Context, threadID string) error
	Rename(ctx context.Context, threadID, title string) error
	Delete(ctx context.Context, threadID string) error
	LongPollUpdates(ctx context.Context, offset int, timeout int) ([]Update, int, error)
}
