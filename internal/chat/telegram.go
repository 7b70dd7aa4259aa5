package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// TelegramTransport implements Transport atop a forum-enabled Telegram
// supergroup: a "thread" is a forum topic's message_thread_id, encoded as
// its decimal string so Transport stays chat-platform-agnostic at the
// interface boundary.
type TelegramTransport struct {
	bot     *tgbotapi.BotAPI
	groupID int64
}

// NewTelegramTransport dials the Bot API with token and binds to groupID,
// the single forum-enabled supergroup this deployment posts topics into.
func NewTelegramTransport(token string, groupID int64) (*TelegramTransport, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("chat: telegram dial: %w", err)
	}
	return &TelegramTransport{bot: bot, groupID: groupID}, nil
}

func (t *TelegramTransport) CreateThread(ctx context.Context, chatID, title string) (string, error) {
	cfg := tgbotapi.CreateForumTopicConfig{
		ChatConfig: tgbotapi.ChatConfig{ChatID: t.groupID},
		Name:       title,
	}
	resp, err := t.bot.Request(cfg)
	if err != nil {
		return "", fmt.Errorf("chat: create thread: %w", err)
	}
	var result struct {
		MessageThreadID int `json:"message_thread_id"`
	}
	if err := unmarshalResult(resp, &result); err != nil {
		return "", err
	}
	return strconv.Itoa(result.MessageThreadID), nil
}

func (t *TelegramTransport) Send(ctx context.Context, chatID, threadID, text string, kb *Keyboard) (string, error) {
	msg := tgbotapi.NewMessage(t.groupID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	if threadID != "" {
		if id, err := strconv.Atoi(threadID); err == nil {
			msg.MessageThreadID = id
		}
	}
	if kb != nil {
		msg.ReplyMarkup = toTGKeyboard(*kb)
	}
	sent, err := t.bot.Send(msg)
	if err != nil {
		return "", fmt.Errorf("chat: send: %w", err)
	}
	return strconv.Itoa(sent.MessageID), nil
}

func (t *TelegramTransport) Edit(ctx context.Context, chatID, messageID, text string, kb *Keyboard) error {
	id, err := strconv.Atoi(messageID)
	if err != nil {
		return fmt.Errorf("chat: edit: invalid message id %q", messageID)
	}
	edit := tgbotapi.NewEditMessageText(t.groupID, id, text)
	edit.ParseMode = tgbotapi.ModeHTML
	if kb != nil {
		markup := toTGKeyboard(*kb)
		edit.ReplyMarkup = &markup
	}
	_, err = t.bot.Send(edit)
	if err != nil {
		return fmt.Errorf("chat: edit: %w", err)
	}
	return nil
}

func (t *TelegramTransport) Close(ctx context.Context, threadID string) error {
	id, err := strconv.Atoi(threadID)
	if err != nil {
		return fmt.Errorf("chat: close: invalid thread id %q", threadID)
	}
	_, err = t.bot.Request(tgbotapi.CloseForumTopicConfig{
		ChatConfig:      tgbotapi.ChatConfig{ChatID: t.groupID},
		MessageThreadID: id,
	})
	if err != nil {
		return fmt.Errorf("chat: close: %w", err)
	}
	return nil
}

func (t *TelegramTransport) Reopen(ctx context.Context, threadID string) error {
	id, err := strconv.Atoi(threadID)
	if err != nil {
		return fmt.Errorf("chat: reopen: invalid thread id %q", threadID)
	}
	_, err = t.bot.Request(tgbotapi.ReopenForumTopicConfig{
		ChatConfig:      tgbotapi.ChatConfig{ChatID: t.groupID},
		MessageThreadID: id,
	})
	if err != nil {
		return fmt.Errorf("chat: reopen: %w", err)
	}
	return nil
}

func (t *TelegramTransport) Rename(ctx context.Context, threadID, title string) error {
	id, err := strconv.Atoi(threadID)
	if err != nil {
		return fmt.Errorf("chat: rename: invalid thread id %q", threadID)
	}
	_, err = t.bot.Request(tgbotapi.EditForumTopicConfig{
		ChatConfig:      tgbotapi.ChatConfig{ChatID: t.groupID},
		MessageThreadID: id,
		Name:            title,
	})
	if err != nil {
		return fmt.Errorf("chat: rename: %w", err)
	}
	return nil
}

func (t *TelegramTransport) Delete(ctx context.Context, threadID string) error {
	id, err := strconv.Atoi(threadID)
	if err != nil {
		return fmt.Errorf("chat: delete: invalid thread id %q", threadID)
	}
	_, err = t.bot.Request(tgbotapi.DeleteForumTopicConfig{
		ChatConfig:      tgbotapi.ChatConfig{ChatID: t.groupID},
		MessageThreadID: id,
	})
	if err != nil {
		return fmt.Errorf("chat: delete: %w", err)
	}
	return nil
}

func (t *TelegramTransport) LongPollUpdates(ctx context.Context, offset int, timeout int) ([]Update, int, error) {
	u := tgbotapi.NewUpdate(offset)
	u.Timeout = timeout
	raw, err := t.bot.GetUpdates(u)
	if err != nil {
		return nil, offset, fmt.Errorf("chat: long poll: %w", err)
	}

	var out []Update
	next := offset
	for _, upd := range raw {
		if upd.UpdateID+1 > next {
			next = upd.UpdateID + 1
		}
		if upd.CallbackQuery != nil {
			cb := upd.CallbackQuery
			out = append(out, Update{
				Kind:              UpdateCallback,
				ChatID:            strconv.FormatInt(cb.Message.Chat.ID, 10),
				UserID:            strconv.FormatInt(cb.From.ID, 10),
				CallbackData:      cb.Data,
				CallbackMessageID: strconv.Itoa(cb.Message.MessageID),
				CallbackID:        cb.ID,
			})
			continue
		}
		if upd.Message != nil {
			out = append(out, Update{
				Kind:     UpdateMessage,
				ChatID:   strconv.FormatInt(upd.Message.Chat.ID, 10),
				ThreadID: strconv.Itoa(upd.Message.MessageThreadID),
				UserID:   strconv.FormatInt(upd.Message.From.ID, 10),
				Text:     upd.Message.Text,
			})
		}
	}
	return out, next, nil
}

func toTGKeyboard(kb Keyboard) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(kb))
	for _, row := range kb {
		buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(b.Label, b.Data))
		}
		rows = append(rows, buttons)
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func unmarshalResult(resp *tgbotapi.APIResponse, out any) error {
	if resp == nil || !resp.Ok {
		return fmt.Errorf("chat: telegram request not ok")
	}
	return json.Unmarshal(resp.Result, out)
}
