package callback

import (
	"context"

	"github.com/jaakkos/stringwork-orchestrator/internal/chat"
	"github.com/jaakkos/stringwork-orchestrator/internal/domain"
)

// handleFlow dispatches a tf/sf callback into the Conversation Flow
// Engine (C10) and renders its reply, editing the originating message in
// place (spec §4.9 wizard state machine).
func (r *Router) handleFlow(ctx context.Context, u chat.Update, threadID, value string, kind domain.FlowKind) error {
	if r.Flow == nil {
		r.logf("callback: %s callback for thread %s with no flow engine wired", kind, threadID)
		return nil
	}
	reply, err := r.Flow.Advance(ctx, u.ChatID, u.UserID, threadID, kind, value)
	if err != nil {
		return err
	}
	if reply.Text == "" {
		return nil
	}
	if u.CallbackMessageID != "" {
		return r.Transport.Edit(ctx, u.ChatID, u.CallbackMessageID, reply.Text, reply.Keyboard)
	}
	_, err = r.Transport.Send(ctx, u.ChatID, threadID, reply.Text, reply.Keyboard)
	return err
}
