// Package stream implements the Stream Parser (C3, spec §4.3): a
// line-buffered decoder that turns an engine's newline-delimited JSON
// stdout into typed domain.Chunk values, plus the dual that encodes a
// user's chat reply back into the wire envelope the engine expects on
// stdin. The decode side is grounded on the pack's Claude stream-manager
// pattern (one JSON object per line, dispatch on "type"), generalized from
// a line-at-a-time bufio.Scanner loop into an explicit line-buffered
// Decoder so chunk boundaries never split a partial write mid-line.
package stream

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/buger/jsonparser"

	"github.com/jaakkos/stringwork-orchestrator/internal/domain"
)

// Decoder accumulates raw engine stdout bytes and yields domain.Chunk
// values one NDJSON line at a time. It is not safe for concurrent use; the
// Session Supervisor owns one Decoder per running process.
type Decoder struct {
	buf []byte
}

// NewDecoder returns an empty line-buffered Decoder.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Feed appends raw bytes read from the engine's stdout and returns every
// complete line's worth of chunks decoded so far. Bytes after the last
// newline are retained for the next call.
func (d *Decoder) Feed(p []byte) []domain.Chunk {
	d.buf = append(d.buf, p...)

	var out []domain.Chunk
	for {
		idx := bytes.IndexByte(d.buf, '\n')
		if idx < 0 {
			break
		}
		line := d.buf[:idx]
		d.buf = d.buf[idx+1:]
		if chunks := decodeLine(line); chunks != nil {
			out = append(out, chunks...)
		}
	}
	return out
}

// Flush decodes any remaining buffered partial line, treating it as
// complete — used when the engine process exits with a final unterminated
// line still pending.
func (d *Decoder) Flush() []domain.Chunk {
	if len(d.buf) == 0 {
		return nil
	}
	line := d.buf
	d.buf = nil
	return decodeLine(line)
}

// decodeLine maps one NDJSON line per spec §4.3. A non-JSON, non-empty line
// not starting with '{' becomes a passthrough chunk. Recognized types not
// carrying user-visible content (user, system, init, rate_limit) are
// dropped and decodeLine returns nil.
func decodeLine(line []byte) []domain.Chunk {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return nil
	}
	if line[0] != '{' {
		return []domain.Chunk{{Kind: domain.ChunkPassthrough, Text: string(line)}}
	}

	typ, err := jsonparser.GetString(line, "type")
	if err != nil {
		return []domain.Chunk{{Kind: domain.ChunkPassthrough, Text: string(line)}}
	}

	switch typ {
	case "hook_response":
		stdout, _ := jsonparser.GetString(line, "stdout")
		return []domain.Chunk{{Kind: domain.ChunkHookResponse, Text: stdout}}

	case "assistant":
		return decodeAssistant(line)

	case "result":
		return []domain.Chunk{decodeResult(line)}

	case "user", "system", "init", "rate_limit":
		return nil

	default:
		return nil
	}
}

// decodeAssistant walks message.content[], emitting one chunk per block:
// a "text" block becomes a text chunk; a "tool_use" block named
// AskUserQuestion becomes one ask_user chunk per question (per spec §4.3's
// option-extraction rule); any other tool_use becomes a tool_use chunk
// carrying the tool's name and a one-line summary of its input.
func decodeAssistant(line []byte) []domain.Chunk {
	var out []domain.Chunk
	content, _, _, err := jsonparser.Get(line, "message", "content")
	if err != nil {
		return nil
	}
	jsonparser.ArrayEach(content, func(block []byte, dataType jsonparser.ValueType, offset int, err error) {
		if err != nil || dataType != jsonparser.Object {
			return
		}
		blockType, _ := jsonparser.GetString(block, "type")
		switch blockType {
		case "text":
			text, _ := jsonparser.GetString(block, "text")
			if text != "" {
				out = append(out, domain.Chunk{Kind: domain.ChunkText, Text: text})
			}
		case "tool_use":
			name, _ := jsonparser.GetString(block, "name")
			if name == "AskUserQuestion" {
				out = append(out, decodeAskUserQuestions(block)...)
				return
			}
			toolID, _ := jsonparser.GetString(block, "id")
			out = append(out, domain.Chunk{
				Kind:        domain.ChunkToolUse,
				ToolID:      toolID,
				ToolName:    name,
				ToolSummary: toolSummary(name, block),
			})
		}
	})
	return out
}

// toolSummary renders a short one-line preview of a tool_use block's input,
// analogous to the teacher's activity-log previews.
func toolSummary(name string, block []byte) string {
	input, _, _, err := jsonparser.Get(block, "input")
	if err != nil {
		return name
	}
	return fmt.Sprintf("%s(%s)", name, truncate(string(input), 120))
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

// decodeAskUserQuestions extracts one or more questions from an
// AskUserQuestion tool_use block's input, per the §4.3 option-selection
// rule: ≥2 declared labels use them as-is; fewer than 2 triggers a
// heuristic extraction from the question text; if that still yields fewer
// than 2, default to {Yes, No}.
func decodeAskUserQuestions(block []byte) []domain.Chunk {
	toolID, _ := jsonparser.GetString(block, "id")
	input, _, _, err := jsonparser.Get(block, "input")
	if err != nil {
		return nil
	}

	var chunks []domain.Chunk
	questions, _, _, qErr := jsonparser.Get(input, "questions")
	if qErr == nil {
		jsonparser.ArrayEach(questions, func(q []byte, dataType jsonparser.ValueType, offset int, err error) {
			if err != nil || dataType != jsonparser.Object {
				return
			}
			chunks = append(chunks, buildAskUserChunk(toolID, q))
		})
	}
	if len(chunks) == 0 {
		// Single flat question shape: {question, options: [...]}.
		chunks = append(chunks, buildAskUserChunk(toolID, input))
	}
	return chunks
}

func buildAskUserChunk(toolID string, q []byte) domain.Chunk {
	question, _ := jsonparser.GetString(q, "question")
	var labels []string
	jsonparser.ArrayEach(q, func(opt []byte, dataType jsonparser.ValueType, offset int, err error) {
		if err != nil {
			return
		}
		if dataType == jsonparser.String {
			labels = append(labels, string(opt))
			return
		}
		if label, lerr := jsonparser.GetString(opt, "label"); lerr == nil {
			labels = append(labels, label)
		}
	}, "options")

	if len(labels) < 2 {
		labels = heuristicOptions(question)
	}
	if len(labels) < 2 {
		labels = []string{"Yes", "No"}
	}

	return domain.Chunk{
		Kind:     domain.ChunkAskUser,
		ToolID:   toolID,
		Question: question,
		Options:  labels,
	}
}

// heuristicOptions extracts a plausible option list from a question's own
// text when the engine didn't declare structured options — e.g.
// "Proceed with deletion or skip it?" yields {"Proceed with deletion",
// "skip it"}. The text is split at its first " or "; parentheses get no
// special treatment.
func heuristicOptions(question string) []string {
	lower := strings.ToLower(question)
	if idx := strings.Index(lower, " or "); idx >= 0 {
		before := strings.TrimSpace(question[:idx])
		after := strings.TrimSpace(question[idx+4:])
		after = strings.TrimSuffix(after, "?")
		// Keep only the clause after the last comma or semicolon of "before",
		// so "First, delete X" offers "delete X" rather than the whole sentence.
		if sp := strings.LastIndexAny(before, ",;"); sp >= 0 {
			before = strings.TrimSpace(before[sp+1:])
		}
		if before != "" && after != "" {
			return []string{before, after}
		}
	}
	return nil
}

// decodeResult maps a terminal "result" line, formatting cost and duration
// for direct chat display per §4.3 ("formatted cost, formatted duration").
func decodeResult(line []byte) domain.Chunk {
	subtype, _ := jsonparser.GetString(line, "subtype")
	cost, _ := jsonparser.GetFloat(line, "cost_usd")
	durationMS, _ := jsonparser.GetInt(line, "duration_ms")

	return domain.Chunk{
		Kind:          domain.ChunkResult,
		ResultSubtype: subtype,
		CostUSD:       cost,
		DurationMS:    durationMS,
		FormattedCost: fmt.Sprintf("$%.4f", cost),
		FormattedDur:  formatDuration(durationMS),
	}
}

func formatDuration(ms int64) string {
	if ms < 1000 {
		return fmt.Sprintf("%dms", ms)
	}
	secs := float64(ms) / 1000.0
	if secs < 60 {
		return fmt.Sprintf("%.1fs", secs)
	}
	mins := int64(secs) / 60
	rem := int64(secs) % 60
	return fmt.Sprintf("%dm%ds", mins, rem)
}

// EncodeUserReply implements C3's dual: it frames a user's chat reply as a
// well-formed stream-json input envelope suitable for writing to the
// engine's stdin for multi-turn resume.
func EncodeUserReply(text string) []byte {
	escaped := jsonEscape(text)
	line := fmt.Sprintf(
		`{"type":"user","message":{"role":"user","content":[{"type":"text","text":"%s"}]}}`,
		escaped,
	)
	return append([]byte(line), '\n')
}

func jsonEscape(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			if r < 0x20 {
				fmt.Fprintf(&b, `\u%04x`, r)
				continue
			}
			b.WriteRune(r)
		}
	}
	return b.String()
}
