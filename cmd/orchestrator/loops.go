package main

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/jaakkos/stringwork-orchestrator/internal/callback"
	"github.com/jaakkos/stringwork-orchestrator/internal/chat"
	"github.com/jaakkos/stringwork-orchestrator/internal/config"
	"github.com/jaakkos/stringwork-orchestrator/internal/domain"
	"github.com/jaakkos/stringwork-orchestrator/internal/flow"
	"github.com/jaakkos/stringwork-orchestrator/internal/session"
)

// runHeartbeatLoop keeps every configured target's machine row fresh so
// Machine Registry reads (wizard machine picker, status surface) don't
// report a live machine as stale (spec §4.5 HB_FRESH). Per-machine active
// task counts aren't tracked outside the executor's single process-wide
// counter, so this reports 0 and relies on the executor's own dispatch
// accounting rather than the registry for scheduling decisions.
func runHeartbeatLoop(ctx context.Context, reg registryHeartbeater, targets []config.TargetConfig, interval time.Duration, logger *log.Logger) {
	if interval <= 0 {
		interval = config.DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, t := range targets {
				if err := reg.Heartbeat(ctx, t.MachineID, 0); err != nil {
					logger.Printf("heartbeat %s: %v", t.MachineID, err)
				}
			}
		}
	}
}

// registryHeartbeater is the narrow slice of *registry.Registry loops.go needs.
type registryHeartbeater interface {
	Heartbeat(ctx context.Context, machineID string, activeTasks int) error
}

const (
	cmdNewTask    = "/task"
	cmdNewSession = "/session"
)

// runChatLoop long-polls the chat transport and dispatches every update:
// callback-kind updates go straight to the Callback Router (C9); plain-text
// messages either start a new wizard, continue an in-flight
// await_description step, or get forwarded to a live interactive session,
// grounded on internal/callback.Router.HandleUpdate's own doc comment
// that the free-text router is a separate collaborator.
func runChatLoop(ctx context.Context, transport chat.Transport, router *callback.Router, flowEngine *flow.Engine, sessions *session.Registry, logger *log.Logger) {
	offset := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		updates, nextOffset, err := transport.LongPollUpdates(ctx, offset, 30)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Printf("long poll updates: %v", err)
			time.Sleep(time.Second)
			continue
		}
		offset = nextOffset
		for _, u := range updates {
			if err := dispatchUpdate(ctx, u, transport, router, flowEngine, sessions); err != nil {
				logger.Printf("dispatch update: %v", err)
			}
		}
	}
}

func dispatchUpdate(ctx context.Context, u chat.Update, transport chat.Transport, router *callback.Router, flowEngine *flow.Engine, sessions *session.Registry) error {
	if u.Kind == chat.UpdateCallback {
		return router.HandleUpdate(ctx, u)
	}
	if u.Kind != chat.UpdateMessage {
		return nil
	}

	text := strings.TrimSpace(u.Text)
	switch {
	case strings.HasPrefix(text, cmdNewTask):
		return startWizard(ctx, transport, flowEngine, u.ChatID, u.UserID, "New task", domain.FlowTask)
	case strings.HasPrefix(text, cmdNewSession):
		return startWizard(ctx, transport, flowEngine, u.ChatID, u.UserID, "New session", domain.FlowSession)
	}

	if s, ok := sessions.Get(u.ThreadID); ok {
		return s.WriteReply(text)
	}

	return flowEngine.SubmitDescription(ctx, u.ChatID, u.UserID, text)
}

func startWizard(ctx context.Context, transport chat.Transport, flowEngine *flow.Engine, chatID, userID, title string, kind domain.FlowKind) error {
	threadID, err := transport.CreateThread(ctx, chatID, title)
	if err != nil {
		return err
	}
	reply, err := flowEngine.Advance(ctx, chatID, userID, threadID, kind, "")
	if err != nil {
		return err
	}
	return sendFlowReply(ctx, transport, chatID, threadID, reply)
}

func sendFlowReply(ctx context.Context, transport chat.Transport, chatID, threadID string, reply callback.FlowReply) error {
	_, err := transport.Send(ctx, chatID, threadID, reply.Text, reply.Keyboard)
	return err
}
