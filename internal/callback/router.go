package callback

import (
	"context"
	"fmt"
	"log"
	"strconv"

	"github.com/jaakkos/stringwork-orchestrator/internal/chat"
	"github.com/jaakkos/stringwork-orchestrator/internal/domain"
	"github.com/jaakkos/stringwork-orchestrator/internal/errkind"
	"github.com/jaakkos/stringwork-orchestrator/internal/session"
)

// AskUserMessages resolves the message id of the most recent ask_user
// send into a thread, so its keyboard can be edited away once answered.
// *chat.Facade satisfies this.
type AskUserMessages interface {
	TakeAskUserMessageID(threadID string) (string, bool)
}

// DirLister lists a machine's subdirectories for the browse session and
// the wizard's repo-selection step (spec §4.9 "repo selection lists
// directories from C1").
type DirLister interface {
	ListDirs(ctx context.Context, machine, dirPath string) ([]string, error)
}

// FlowReply is what the Conversation Flow Engine (C10) hands back to the
// router after advancing one wizard step.
type FlowReply struct {
	Text     string
	Keyboard *chat.Keyboard
	Done     bool
}

// FlowEngine is the narrow surface the router dispatches tf/sf callbacks
// into; internal/flow.Engine satisfies it. Kept as an interface here so
// this package has no import-time dependency on internal/flow.
type FlowEngine interface {
	Advance(ctx context.Context, chatID, userID, threadID string, kind domain.FlowKind, value string) (FlowReply, error)
}

// TopicDeleter performs the chat-side half of topic deletion; the
// caller's topic-registry bookkeeping (internal/store) is out of this
// package's scope, matching how Facade leaves row persistence to callers.
type TopicDeleter interface {
	Delete(ctx context.Context, threadID string) error
}

// Router implements the Callback Router (C9, spec §4.9): it decodes one
// callback Update and dispatches it to the right collaborator.
type Router struct {
	Transport chat.Transport
	AskMsgs   AskUserMessages
	Sessions  *session.Registry
	Questions *QuestionStore
	Browse    *BrowseStore
	Flow      FlowEngine
	Lister    DirLister
	Topics    TopicDeleter
	Logger    *log.Logger
}

// pickerModes are the two engine modes the browse picker and the sf
// wizard step both offer (spec §3 EngineMode, §4.9 "6-button
// engine×mode picker" = 3 engines × 2 modes).
var pickerModes = []string{string(domain.ModeStreamJSON), string(domain.ModeTUI)}

// pickerEngines is the fixed engine-short order the 6-button picker
// renders in (alphabetic by engine name: claude, codex, gemini).
var pickerEngines = []string{"i", "c", "g"}

// HandleUpdate dispatches one chat Update. Non-callback updates are
// ignored; the message router (free-text capture for await_description)
// is an out-of-core collaborator per spec §4.9.
func (r *Router) HandleUpdate(ctx context.Context, u chat.Update) error {
	if u.Kind != chat.UpdateCallback {
		return nil
	}
	prefix, key, value, ok := Decode(u.CallbackData)
	if !ok {
		r.logf("callback: malformed payload %q", u.CallbackData)
		return nil
	}
	switch prefix {
	case PrefixAnswer:
		return r.handleAnswer(ctx, u.ChatID, key, value)
	case PrefixBrowse:
		return r.handleBrowse(ctx, u, key, value)
	case PrefixTaskFlow:
		return r.handleFlow(ctx, u, key, value, domain.FlowTask)
	case PrefixSessionFlow:
		return r.handleFlow(ctx, u, key, value, domain.FlowSession)
	case PrefixDelete:
		return r.handleDelete(ctx, key)
	default:
		r.logf("callback: unknown prefix %q", prefix)
		return nil
	}
}

// handleAnswer implements spec §4.7 "User input injection" / §8 S4: look
// up the pending question, remove it, edit the originating message to
// show the chosen label with no keyboard, then write the answer to the
// live session.
func (r *Router) handleAnswer(ctx context.Context, chatID, threadID, idxStr string) error {
	idx, err := strconv.Atoi(idxStr)
	if err != nil {
		return fmt.Errorf("callback: answer index %q: %w", idxStr, err)
	}
	pq, ok := r.Questions.Take(threadID)
	if !ok {
		r.logf("callback: stale answer for thread %s ignored", threadID)
		return nil
	}
	if idx < 0 || idx >= len(pq.Options) {
		return fmt.Errorf("callback: answer index %d out of range for thread %s", idx, threadID)
	}
	label := pq.Options[idx]

	if msgID, ok := r.AskMsgs.TakeAskUserMessageID(threadID); ok {
		if err := r.Transport.Edit(ctx, chatID, msgID, "Answered: "+label, nil); err != nil {
			r.logf("callback: edit ask_user message for thread %s: %v", threadID, err)
		}
	}

	rw, ok := r.Sessions.Get(threadID)
	if !ok {
		return errkind.New(errkind.Fatal, "callback: no active session for thread "+threadID)
	}
	return rw.WriteReply(label)
}

// handleDelete deletes the thread, per the "delete" callback prefix.
func (r *Router) handleDelete(ctx context.Context, threadID string) error {
	if r.Topics == nil {
		return nil
	}
	r.Sessions.Remove(threadID)
	r.Browse.End(threadID)
	r.Questions.Drop(threadID)
	return r.Topics.Delete(ctx, threadID)
}

func (r *Router) logf(format string, args ...interface{}) {
	if r.Logger != nil {
		r.Logger.Printf(format, args...)
	}
}
