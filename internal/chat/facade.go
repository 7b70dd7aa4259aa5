package chat

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jaakkos/stringwork-orchestrator/internal/domain"
)

// FlushInterval and MaxMessageChars implement spec §4.4's FLUSH_MS (1.5 s)
// and MAX_MSG (≈3500 chars).
const (
	FlushInterval   = 1500 * time.Millisecond
	MaxMessageChars = 3500
)

// recentlyClosedTTL is how long a thread id stays in the chatter-suppressor
// set after its session exits (spec §4.4, §4.7 exit handling).
const recentlyClosedTTL = 30 * time.Second

// streamBuffer is the rolling per-(task_or_session_id) buffer spec §4.4
// describes: {thread_id, text, current_kind, last_flush, timer}.
type streamBuffer struct {
	mu          sync.Mutex
	threadID    string
	text        strings.Builder
	currentKind domain.ChunkKind
	hasKind     bool
	timer       *time.Timer
}

// Suppressor tracks which thread ids must drop chatter sends: active
// sessions, active directory browses, and recently-closed sessions. One
// Suppressor instance can be shared by the Facade and by any other
// chatter-producing collaborator in the process; within the Facade only
// SendChatter consults it, while StreamChunk and the thread operations
// always reach the transport.
type Suppressor struct {
	mu             sync.Mutex
	active         map[string]bool
	recentlyClosed map[string]time.Time
}

// NewSuppressor returns an empty Suppressor.
func NewSuppressor() *Suppressor {
	return &Suppressor{active: map[string]bool{}, recentlyClosed: map[string]time.Time{}}
}

// MarkActive records threadID as hosting a live session or browse.
func (s *Suppressor) MarkActive(threadID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active[threadID] = true
}

// MarkClosed removes threadID from active and starts its recently-closed
// suppression window.
func (s *Suppressor) MarkClosed(threadID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, threadID)
	s.recentlyClosed[threadID] = time.Now()
}

// Suppressed reports whether a chatter send into threadID should be
// dropped right now.
func (s *Suppressor) Suppressed(threadID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active[threadID] {
		return true
	}
	closedAt, ok := s.recentlyClosed[threadID]
	if !ok {
		return false
	}
	if time.Since(closedAt) > recentlyClosedTTL {
		delete(s.recentlyClosed, threadID)
		return false
	}
	return true
}

// Facade implements the Chat Topic Facade (C4): thread lifecycle plus the
// rolling-buffer streaming surface consumed by the Session Supervisor.
type Facade struct {
	transport  Transport
	suppressor *Suppressor

	mu      sync.Mutex
	buffers map[string]*streamBuffer

	askMu      sync.Mutex
	askMsgByID map[string]string
}

// New returns a Facade wrapping transport, sharing suppressor with any
// other component that must honor chatter suppression (e.g. a generic
// LLM-chatter integration living outside this package).
func New(transport Transport, suppressor *Suppressor) *Facade {
	return &Facade{transport: transport, suppressor: suppressor, buffers: map[string]*streamBuffer{}, askMsgByID: map[string]string{}}
}

// TakeAskUserMessageID returns and clears the message id of the most
// recent ask_user send into threadID, so the Callback Router (C9) can
// edit that exact message once the user answers (spec §4.7).
func (f *Facade) TakeAskUserMessageID(threadID string) (string, bool) {
	f.askMu.Lock()
	defer f.askMu.Unlock()
	id, ok := f.askMsgByID[threadID]
	if ok {
		delete(f.askMsgByID, threadID)
	}
	return id, ok
}

// CreateThread, Close, Reopen, Rename, Delete pass through to the
// transport; topic-row persistence is the caller's (executor/flow)
// responsibility via internal/store's Topic Registry per spec §4.4.
func (f *Facade) CreateThread(ctx context.Context, chatID, title string) (string, error) {
	return f.transport.CreateThread(ctx, chatID, title)
}

func (f *Facade) Close(ctx context.Context, threadID string) error {
	return f.transport.Close(ctx, threadID)
}

func (f *Facade) Reopen(ctx context.Context, threadID string) error {
	return f.transport.Reopen(ctx, threadID)
}

func (f *Facade) Rename(ctx context.Context, threadID, title string) error {
	return f.transport.Rename(ctx, threadID, title)
}

func (f *Facade) Delete(ctx context.Context, threadID string) error {
	return f.transport.Delete(ctx, threadID)
}

// SendChatter sends text into threadID on behalf of a non-streaming
// caller (e.g. an embedded assistant chattering in the thread). It is the
// suppressed path: if threadID is active or recently-closed, the send is
// dropped and a synthetic success is returned, per spec §4.4.
func (f *Facade) SendChatter(ctx context.Context, chatID, threadID, text string) (string, error) {
	if f.suppressor.Suppressed(threadID) {
		return "suppressed", nil
	}
	return f.transport.Send(ctx, chatID, threadID, text, nil)
}

func (f *Facade) bufferFor(streamKey, threadID string) *streamBuffer {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.buffers[streamKey]
	if !ok {
		b = &streamBuffer{threadID: threadID}
		f.buffers[streamKey] = b
	}
	return b
}

// StreamChunk appends a parsed chunk to streamKey's rolling buffer,
// formatting it per the transport's rich-text dialect, and flushes per the
// §4.4 policy: immediately on MAX_MSG overflow or a kind change, otherwise
// on a FLUSH_MS timer. ask_user and result chunks bypass the buffer
// entirely: flush pending text first, then send a standalone message.
func (f *Facade) StreamChunk(ctx context.Context, chatID, streamKey, threadID string, chunk domain.Chunk) error {
	b := f.bufferFor(streamKey, threadID)

	if chunk.Kind == domain.ChunkAskUser {
		if err := f.flushBuffer(ctx, chatID, b); err != nil {
			return err
		}
		return f.sendAskUser(ctx, chatID, threadID, chunk)
	}
	if chunk.Kind == domain.ChunkResult {
		if err := f.flushBuffer(ctx, chatID, b); err != nil {
			return err
		}
		_, err := f.transport.Send(ctx, chatID, threadID, formatResult(chunk), nil)
		return err
	}

	rendered := renderChunk(chunk)
	if rendered == "" {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.hasKind && b.currentKind != chunk.Kind {
		if err := f.flushLocked(ctx, chatID, b); err != nil {
			return err
		}
	}
	b.currentKind = chunk.Kind
	b.hasKind = true
	b.text.WriteString(rendered)

	if b.text.Len() >= MaxMessageChars {
		return f.flushLocked(ctx, chatID, b)
	}

	if b.timer == nil {
		b.timer = time.AfterFunc(FlushInterval, func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			_ = f.flushLocked(ctx, chatID, b)
		})
	}
	return nil
}

func (f *Facade) flushBuffer(ctx context.Context, chatID string, b *streamBuffer) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return f.flushLocked(ctx, chatID, b)
}

// flushLocked sends the buffer's accumulated text as a brand-new message
// (never an edit, so chat history is preserved) and resets the buffer.
// Caller must hold b.mu.
func (f *Facade) flushLocked(ctx context.Context, chatID string, b *streamBuffer) error {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	if b.text.Len() == 0 {
		return nil
	}
	text := b.text.String()
	b.text.Reset()
	b.hasKind = false
	_, err := f.transport.Send(ctx, chatID, b.threadID, text, nil)
	return err
}

// DropStream discards streamKey's buffer without flushing, used when a
// session is abandoned without a clean exit.
func (f *Facade) DropStream(streamKey string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if b, ok := f.buffers[streamKey]; ok {
		b.mu.Lock()
		if b.timer != nil {
			b.timer.Stop()
		}
		b.mu.Unlock()
	}
	delete(f.buffers, streamKey)
}

func (f *Facade) sendAskUser(ctx context.Context, chatID, threadID string, chunk domain.Chunk) error {
	var kb Keyboard
	var row []InlineButton
	for i, opt := range chunk.Options {
		row = append(row, InlineButton{Label: opt, Data: fmt.Sprintf("answer:%s:%d", threadID, i)})
		if len(row) == 2 {
			kb = append(kb, row)
			row = nil
		}
	}
	if len(row) > 0 {
		kb = append(kb, row)
	}
	msgID, err := f.transport.Send(ctx, chatID, threadID, chunk.Question, &kb)
	if err == nil && msgID != "" {
		f.askMu.Lock()
		f.askMsgByID[threadID] = msgID
		f.askMu.Unlock()
	}
	return err
}

// renderChunk formats a chunk for the buffer per spec §4.4's "rich-text
// dialect (with escaping)"; HTML-escaping matches TelegramTransport's
// ParseMode: ModeHTML.
func renderChunk(c domain.Chunk) string {
	switch c.Kind {
	case domain.ChunkText:
		return htmlEscape(c.Text)
	case domain.ChunkHookResponse:
		return "<i>" + htmlEscape(c.Text) + "</i>\n"
	case domain.ChunkToolUse:
		return "⏺ " + htmlEscape(c.ToolSummary) + "\n"
	case domain.ChunkPassthrough:
		return htmlEscape(c.Text) + "\n"
	default:
		return ""
	}
}

func formatResult(c domain.Chunk) string {
	return fmt.Sprintf("✅ %s — cost %s, duration %s", c.ResultSubtype, c.FormattedCost, c.FormattedDur)
}

func htmlEscape(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	return r.Replace(s)
}
