package callback

import (
	"context"
	"fmt"
	"strconv"

	"github.com/jaakkos/stringwork-orchestrator/internal/chat"
)

// StartBrowse begins threadID's directory-browsing session (spec §4.9
// "Directory browsing session"). It is the entry point for the
// out-of-core message router to call when a user issues a browse
// command, since the optional prompt is free text and can't ride on a
// 64-byte callback payload. With no prompt, the session starts
// immediately at root; with one, the 6-button engine×mode picker is
// shown first. handleBrowse accepts only start, back and numeric index
// values, so a picker choice arriving as a browse callback is reported
// as an error and does not start a session.
func (r *Router) StartBrowse(ctx context.Context, chatID, threadID, machine, root, prompt string) error {
	sess := r.Browse.Start(threadID, BrowseSession{
		ChatID:  chatID,
		ThreadID: threadID,
		Machine: machine,
		Root:    root,
		Path:    root,
		Prompt:  prompt,
	})

	if prompt != "" {
		return r.sendEngineModePicker(ctx, sess)
	}
	return r.sendListing(ctx, sess, "")
}

// handleBrowse dispatches a browse:<thread>:<value> callback.
func (r *Router) handleBrowse(ctx context.Context, u chat.Update, threadID, value string) error {
	sess, ok := r.Browse.Get(threadID)
	if !ok {
		r.logf("callback: browse session for thread %s expired or missing", threadID)
		return nil
	}
	r.Browse.Touch(threadID)

	switch value {
	case ValueStart:
		return r.sendListing(ctx, sess, u.CallbackMessageID)
	case ValueBack:
		if sess.AtRoot() {
			return nil
		}
		sess.Path = sess.Up()
		return r.sendListing(ctx, sess, u.CallbackMessageID)
	default:
		idx, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("callback: browse value %q: %w", value, err)
		}
		dirs, err := r.Lister.ListDirs(ctx, sess.Machine, sess.Path)
		if err != nil {
			return err
		}
		if idx < 0 || idx >= len(dirs) {
			return fmt.Errorf("callback: browse index %d out of range", idx)
		}
		sess.Path = sess.Into(dirs[idx])
		return r.sendListing(ctx, sess, u.CallbackMessageID)
	}
}

// sendListing lists sess.Path's subdirectories and refreshes the
// message's keyboard with one button per entry plus a back button
// (spec: "a numeric index navigates into a subdirectory and refreshes
// the message with a new keyboard"). If messageID is empty a new message
// is sent instead of edited (the session's first listing).
func (r *Router) sendListing(ctx context.Context, sess *BrowseSession, messageID string) error {
	dirs, err := r.Lister.ListDirs(ctx, sess.Machine, sess.Path)
	if err != nil {
		return err
	}
	var kb chat.Keyboard
	var row []chat.InlineButton
	for i, d := range dirs {
		row = append(row, chat.InlineButton{Label: d, Data: Encode(PrefixBrowse, sess.ThreadID, strconv.Itoa(i))})
		if len(row) == 2 {
			kb = append(kb, row)
			row = nil
		}
	}
	if len(row) > 0 {
		kb = append(kb, row)
	}
	if !sess.AtRoot() {
		kb = append(kb, []chat.InlineButton{{Label: "..", Data: Encode(PrefixBrowse, sess.ThreadID, ValueBack)}})
	}
	text := "📂 " + sess.Path
	if messageID == "" {
		newID, err := r.Transport.Send(ctx, sess.ChatID, sess.ThreadID, text, &kb)
		if err == nil {
			sess.MessageID = newID
		}
		return err
	}
	return r.Transport.Edit(ctx, sess.ChatID, messageID, text, &kb)
}

// sendEngineModePicker presents the 6-button engine×mode picker (3
// engine-shorts × 2 modes) used both by a prompted browse start and by
// the final sf wizard step.
func (r *Router) sendEngineModePicker(ctx context.Context, sess *BrowseSession) error {
	kb := EngineModeKeyboard(PrefixBrowse, sess.ThreadID)
	_, err := r.Transport.Send(ctx, sess.ChatID, sess.ThreadID, "Pick an engine and mode to run: "+sess.Prompt, &kb)
	return err
}

// EngineModeKeyboard builds the 6-button engine×mode picker shared by the
// browse-with-prompt flow and the sf wizard's final step.
func EngineModeKeyboard(prefix Prefix, threadID string) chat.Keyboard {
	var kb chat.Keyboard
	for _, short := range pickerEngines {
		var row []chat.InlineButton
		engine, _ := EngineFromShort(short)
		for _, mode := range pickerModes {
			value, ok := EncodeEngineMode(engine, mode)
			if !ok {
				continue
			}
			row = append(row, chat.InlineButton{Label: engine + " " + mode, Data: Encode(prefix, threadID, value)})
		}
		kb = append(kb, row)
	}
	return kb
}
