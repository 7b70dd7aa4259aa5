package chat

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jaakkos/stringwork-orchestrator/internal/domain"
)

type sentMessage struct {
	chatID   string
	threadID string
	text     string
	kb       *Keyboard
}

type fakeTransport struct {
	mu   sync.Mutex
	sent []sentMessage
}

func (f *fakeTransport) CreateThread(ctx context.Context, chatID, title string) (string, error) {
	return "thread-1", nil
}

func (f *fakeTransport) Send(ctx context.Context, chatID, threadID, text string, kb *Keyboard) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{chatID: chatID, threadID: threadID, text: text, kb: kb})
	return "msg-1", nil
}

func (f *fakeTransport) Edit(ctx context.Context, chatID, messageID, text string, kb *Keyboard) error {
	return nil
}
func (f *fakeTransport) Close(ctx context.Context, threadID string) error  { return nil }
func (f *fakeTransport) Reopen(ctx context.Context, threadID string) error { return nil }
func (f *fakeTransport) Rename(ctx context.Context, threadID, title string) error {
	return nil
}
func (f *fakeTransport) Delete(ctx context.Context, threadID string) error { return nil }
func (f *fakeTransport) LongPollUpdates(ctx context.Context, offset, timeout int) ([]Update, int, error) {
	return nil, offset, nil
}

func (f *fakeTransport) snapshot() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]sentMessage, len(f.sent))
	copy(out, f.sent)
	return out
}

func TestStreamChunkFlushesOnKindChange(t *testing.T) {
	tr := &fakeTransport{}
	f := New(tr, NewSuppressor())
	ctx := context.Background()

	if err := f.StreamChunk(ctx, "chat", "stream1", "thread-1", domain.Chunk{Kind: domain.ChunkText, Text: "hello"}); err != nil {
		t.Fatalf("StreamChunk: %v", err)
	}
	if err := f.StreamChunk(ctx, "chat", "stream1", "thread-1", domain.Chunk{Kind: domain.ChunkToolUse, ToolSummary: "Bash(ls)"}); err != nil {
		t.Fatalf("StreamChunk: %v", err)
	}

	sent := tr.snapshot()
	if len(sent) != 1 {
		t.Fatalf("expected 1 flush on kind change, got %d: %+v", len(sent), sent)
	}
	if !strings.Contains(sent[0].text, "hello") {
		t.Fatalf("expected flushed text to contain buffered text, got %q", sent[0].text)
	}
}

func TestStreamChunkFlushesOnMaxSize(t *testing.T) {
	tr := &fakeTransport{}
	f := New(tr, NewSuppressor())
	ctx := context.Background()

	big := strings.Repeat("x", MaxMessageChars)
	if err := f.StreamChunk(ctx, "chat", "stream1", "thread-1", domain.Chunk{Kind: domain.ChunkText, Text: big}); err != nil {
		t.Fatalf("StreamChunk: %v", err)
	}

	sent := tr.snapshot()
	if len(sent) != 1 {
		t.Fatalf("expected 1 flush on overflow, got %d", len(sent))
	}
}

func TestStreamChunkFlushesOnTimer(t *testing.T) {
	tr := &fakeTransport{}
	f := New(tr, NewSuppressor())
	ctx := context.Background()

	if err := f.StreamChunk(ctx, "chat", "stream1", "thread-1", domain.Chunk{Kind: domain.ChunkText, Text: "partial"}); err != nil {
		t.Fatalf("StreamChunk: %v", err)
	}
	if len(tr.snapshot()) != 0 {
		t.Fatalf("expected no flush before timer fires")
	}

	time.Sleep(FlushInterval + 200*time.Millisecond)

	sent := tr.snapshot()
	if len(sent) != 1 {
		t.Fatalf("expected timer flush, got %d sends", len(sent))
	}
}

func TestStreamChunkAskUserBypassesBufferAndBuildsKeyboard(t *testing.T) {
	tr := &fakeTransport{}
	f := New(tr, NewSuppressor())
	ctx := context.Background()

	if err := f.StreamChunk(ctx, "chat", "stream1", "thread-1", domain.Chunk{Kind: domain.ChunkText, Text: "buffered"}); err != nil {
		t.Fatalf("StreamChunk: %v", err)
	}
	ask := domain.Chunk{Kind: domain.ChunkAskUser, Question: "delete the branch or keep it?", Options: []string{"delete the branch", "keep it"}}
	if err := f.StreamChunk(ctx, "chat", "stream1", "thread-1", ask); err != nil {
		t.Fatalf("StreamChunk ask_user: %v", err)
	}

	sent := tr.snapshot()
	if len(sent) != 2 {
		t.Fatalf("expected buffer flush + ask_user send, got %d", len(sent))
	}
	if !strings.Contains(sent[0].text, "buffered") {
		t.Fatalf("expected first send to be the flushed buffer, got %q", sent[0].text)
	}
	if sent[1].text != ask.Question {
		t.Fatalf("expected ask_user send to carry the question verbatim, got %q", sent[1].text)
	}
	if sent[1].kb == nil || len(*sent[1].kb) == 0 {
		t.Fatalf("expected ask_user send to carry an inline keyboard")
	}
	btn := (*sent[1].kb)[0][0]
	if btn.Label != "delete the branch" || !strings.HasPrefix(btn.Data, "answer:thread-1:") {
		t.Fatalf("unexpected keyboard button: %+v", btn)
	}
}

func TestStreamChunkResultFlushesThenSendsSummary(t *testing.T) {
	tr := &fakeTransport{}
	f := New(tr, NewSuppressor())
	ctx := context.Background()

	if err := f.StreamChunk(ctx, "chat", "stream1", "thread-1", domain.Chunk{Kind: domain.ChunkText, Text: "work"}); err != nil {
		t.Fatalf("StreamChunk: %v", err)
	}
	result := domain.Chunk{Kind: domain.ChunkResult, ResultSubtype: "success", FormattedCost: "$0.0234", FormattedDur: "4.2s"}
	if err := f.StreamChunk(ctx, "chat", "stream1", "thread-1", result); err != nil {
		t.Fatalf("StreamChunk result: %v", err)
	}

	sent := tr.snapshot()
	if len(sent) != 2 {
		t.Fatalf("expected flush + result summary, got %d", len(sent))
	}
	if !strings.Contains(sent[1].text, "$0.0234") || !strings.Contains(sent[1].text, "4.2s") {
		t.Fatalf("expected result summary to carry cost/duration, got %q", sent[1].text)
	}
}

func TestSuppressorDropsActiveAndRecentlyClosed(t *testing.T) {
	s := NewSuppressor()
	s.MarkActive("t1")
	if !s.Suppressed("t1") {
		t.Fatalf("expected active thread to be suppressed")
	}
	s.MarkClosed("t1")
	if !s.Suppressed("t1") {
		t.Fatalf("expected recently-closed thread to still be suppressed")
	}
}

func TestSuppressorAllowsUnknownThread(t *testing.T) {
	s := NewSuppressor()
	if s.Suppressed("unknown") {
		t.Fatalf("expected unknown thread to be unsuppressed")
	}
}

func TestSendChatterDroppedForActiveThread(t *testing.T) {
	tr := &fakeTransport{}
	s := NewSuppressor()
	s.MarkActive("thread-1")
	f := New(tr, s)

	msgID, err := f.SendChatter(context.Background(), "chat", "thread-1", "chatter")
	if err != nil {
		t.Fatalf("SendChatter: %v", err)
	}
	if msgID != "suppressed" {
		t.Fatalf("expected synthetic suppressed id, got %q", msgID)
	}
	if len(tr.snapshot()) != 0 {
		t.Fatalf("expected no underlying send for suppressed thread")
	}
}

func TestSendChatterPassesThroughForInactiveThread(t *testing.T) {
	tr := &fakeTransport{}
	f := New(tr, NewSuppressor())

	if _, err := f.SendChatter(context.Background(), "chat", "thread-2", "chatter"); err != nil {
		t.Fatalf("SendChatter: %v", err)
	}
	if len(tr.snapshot()) != 1 {
		t.Fatalf("expected chatter to pass through for an inactive thread")
	}
}

func TestDropStreamStopsTimerAndDiscardsBuffer(t *testing.T) {
	tr := &fakeTransport{}
	f := New(tr, NewSuppressor())
	ctx := context.Background()

	if err := f.StreamChunk(ctx, "chat", "stream1", "thread-1", domain.Chunk{Kind: domain.ChunkText, Text: "abandoned"}); err != nil {
		t.Fatalf("StreamChunk: %v", err)
	}
	f.DropStream("stream1")

	time.Sleep(FlushInterval + 200*time.Millisecond)
	if len(tr.snapshot()) != 0 {
		t.Fatalf("expected dropped stream to never flush")
	}
}

func TestHTMLEscape(t *testing.T) {
	got := htmlEscape("<script> & tags </script>")
	if strings.Contains(got, "<") || strings.Contains(got, ">") {
		t.Fatalf("expected angle brackets escaped, got %q", got)
	}
}
