package stream

import (
	"testing"

	"github.com/jaakkos/stringwork-orchestrator/internal/domain"
)

func TestDecoderTextChunk(t *testing.T) {
	d := NewDecoder()
	line := `{"type":"assistant","message":{"content":[{"type":"text","text":"hello there"}]},"session_id":"s1"}` + "\n"
	chunks := d.Feed([]byte(line))
	if len(chunks) != 1 || chunks[0].Kind != domain.ChunkText || chunks[0].Text != "hello there" {
		t.Fatalf("unexpected chunks: %+v", chunks)
	}
}

func TestDecoderSplitAcrossFeeds(t *testing.T) {
	d := NewDecoder()
	full := `{"type":"assistant","message":{"content":[{"type":"text","text":"split me"}]}}` + "\n"
	mid := len(full) / 2
	chunks := d.Feed([]byte(full[:mid]))
	if len(chunks) != 0 {
		t.Fatalf("expected no chunks before newline, got %+v", chunks)
	}
	chunks = d.Feed([]byte(full[mid:]))
	if len(chunks) != 1 || chunks[0].Text != "split me" {
		t.Fatalf("unexpected chunks after completing line: %+v", chunks)
	}
}

func TestDecoderDropsUserSystemInit(t *testing.T) {
	d := NewDecoder()
	lines := []string{
		`{"type":"user","message":{}}`,
		`{"type":"system","subtype":"init","session_id":"s1","tools":[]}`,
		`{"type":"rate_limit"}`,
	}
	for _, l := range lines {
		chunks := d.Feed([]byte(l + "\n"))
		if len(chunks) != 0 {
			t.Fatalf("expected drop for %s, got %+v", l, chunks)
		}
	}
}

func TestDecoderPassthrough(t *testing.T) {
	d := NewDecoder()
	chunks := d.Feed([]byte("plain log line, not json\n"))
	if len(chunks) != 1 || chunks[0].Kind != domain.ChunkPassthrough {
		t.Fatalf("expected passthrough chunk, got %+v", chunks)
	}
}

func TestDecoderResultFormatting(t *testing.T) {
	d := NewDecoder()
	line := `{"type":"result","subtype":"success","cost_usd":0.0234,"duration_ms":4200,"is_error":false,"num_turns":3}` + "\n"
	chunks := d.Feed([]byte(line))
	if len(chunks) != 1 || chunks[0].Kind != domain.ChunkResult {
		t.Fatalf("unexpected chunks: %+v", chunks)
	}
	c := chunks[0]
	if c.ResultSubtype != "success" {
		t.Fatalf("expected success subtype, got %q", c.ResultSubtype)
	}
	if c.FormattedCost != "$0.0234" {
		t.Fatalf("unexpected formatted cost: %q", c.FormattedCost)
	}
	if c.FormattedDur != "4.2s" {
		t.Fatalf("unexpected formatted duration: %q", c.FormattedDur)
	}
}

func TestDecoderAskUserWithDeclaredOptions(t *testing.T) {
	d := NewDecoder()
	line := `{"type":"assistant","message":{"content":[{"type":"tool_use","id":"tool_1","name":"AskUserQuestion","input":{"questions":[{"question":"Proceed?","options":[{"label":"Yes"},{"label":"No"},{"label":"Ask me later"}]}]}}]}}` + "\n"
	chunks := d.Feed([]byte(line))
	if len(chunks) != 1 || chunks[0].Kind != domain.ChunkAskUser {
		t.Fatalf("unexpected chunks: %+v", chunks)
	}
	c := chunks[0]
	if c.ToolID != "tool_1" {
		t.Fatalf("expected tool id preserved, got %q", c.ToolID)
	}
	if len(c.Options) != 3 {
		t.Fatalf("expected 3 declared options, got %v", c.Options)
	}
}

func TestDecoderAskUserFallsBackToYesNo(t *testing.T) {
	d := NewDecoder()
	line := `{"type":"assistant","message":{"content":[{"type":"tool_use","id":"tool_2","name":"AskUserQuestion","input":{"questions":[{"question":"Should I continue"}]}}]}}` + "\n"
	chunks := d.Feed([]byte(line))
	if len(chunks) != 1 {
		t.Fatalf("unexpected chunks: %+v", chunks)
	}
	if got := chunks[0].Options; len(got) != 2 || got[0] != "Yes" || got[1] != "No" {
		t.Fatalf("expected Yes/No fallback, got %v", got)
	}
}

func TestDecoderAskUserHeuristicFromOrClause(t *testing.T) {
	d := NewDecoder()
	line := `{"type":"assistant","message":{"content":[{"type":"tool_use","id":"tool_3","name":"AskUserQuestion","input":{"questions":[{"question":"delete the branch or keep it?"}]}}]}}` + "\n"
	chunks := d.Feed([]byte(line))
	if len(chunks) != 1 {
		t.Fatalf("unexpected chunks: %+v", chunks)
	}
	got := chunks[0].Options
	if len(got) != 2 || got[0] != "delete the branch" || got[1] != "keep it" {
		t.Fatalf("unexpected heuristic options: %v", got)
	}
}

func TestDecoderEmitsOtherToolUse(t *testing.T) {
	d := NewDecoder()
	line := `{"type":"assistant","message":{"content":[{"type":"tool_use","id":"tool_4","name":"Read","input":{"file_path":"main.go"}}]}}` + "\n"
	chunks := d.Feed([]byte(line))
	if len(chunks) != 1 || chunks[0].Kind != domain.ChunkToolUse || chunks[0].ToolName != "Read" {
		t.Fatalf("unexpected chunks: %+v", chunks)
	}
}

func TestFlushDecodesTrailingPartialLine(t *testing.T) {
	d := NewDecoder()
	d.Feed([]byte(`{"type":"assistant","message":{"content":[{"type":"text","text":"no newline"}]}}`))
	chunks := d.Flush()
	if len(chunks) != 1 || chunks[0].Text != "no newline" {
		t.Fatalf("unexpected flush result: %+v", chunks)
	}
}

func TestEncodeUserReplyEscaping(t *testing.T) {
	out := string(EncodeUserReply("say \"hi\"\nnext line"))
	if out[len(out)-1] != '\n' {
		t.Fatalf("expected encoded reply to end with newline: %q", out)
	}
	want := `{"type":"user","message":{"role":"user","content":[{"type":"text","text":"say \"hi\"\nnext line"}]}}` + "\n"
	if out != want {
		t.Fatalf("unexpected encoding:\ngot:  %q\nwant: %q", out, want)
	}
}
