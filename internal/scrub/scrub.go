// Package scrub implements the Output Scrubber (spec §4.2): a pure,
// total, idempotent function from a terminal CLI's raw byte stream to
// clean, chat-displayable text. It strips ANSI/OSC/CSI control sequences
// and then filters line-by-line TUI chrome (spinners, box-drawing, status
// bars, banners) that has no meaning once rendered as plain chat text.
package scrub

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	csiRe           = regexp.MustCompile(`\x1b\[[0-?]*[ -/]*[@-~]`)
	oscTerminatedRe = regexp.MustCompile(`\x1b\][^\x07\x1b]*(\x07|\x1b\\)`)
	oscDanglingRe   = regexp.MustCompile(`\x1b\][^\x1b]*$`)
	escTwoCharRe    = regexp.MustCompile(`\x1b[0-9A-Za-z=><~78]`)
	c0OtherRe       = regexp.MustCompile(`[\x00-\x08\x0B-\x0C\x0E-\x1F]`)

	// spinnerLineRe matches a standalone spinner line: optional icon glyphs,
	// a capitalized word (or words), optional "..." filler, ending in the
	// Unicode ellipsis — e.g. "⠋ Thinking…", "✢ Compacting conversation…".
	spinnerLineRe = regexp.MustCompile(`^[\p{So}\p{Sk}\s]{0,4}[A-Z][A-Za-z0-9 '/-]*…\s*(\([^)]*\))?\s*$`)

	// toolIndicatorLineRe matches a tool-call indicator line such as
	// "⏺ Read(file.go)" or "● Bash(npm test)".
	toolIndicatorLineRe = regexp.MustCompile(`^[\p{So}\p{Sk}]\s*[A-Z][A-Za-z0-9_.]*\([^)]*\)\s*$`)

	// statusBarFragmentRe matches a breadcrumb/prompt status line like
	// "~/src/app ❯ claude ❯ edit mode".
	statusBarFragmentRe = regexp.MustCompile(`❯`)

	// timingStatLineRe matches a standalone timing/token-stat footer such as
	// "12.4s · ↑ 1.2k tokens · esc to interrupt".
	timingStatLineRe = regexp.MustCompile(`^\s*[\d.]+s(\s*·\s*[^·]+)*\s*$|^\s*↑?\s*[\d.]+k?\s*tokens?\b.*$`)

	// bannerKeywordRe matches common permission/welcome banner text so the
	// surrounding box-drawn frame (already dropped) doesn't leave an
	// orphaned announcement line behind.
	bannerKeywordRe = regexp.MustCompile(`(?i)^\s*(welcome to|tips for getting started|you are now using|permission(s)? (required|granted|needed))\b`)

	spinnerTailRe = regexp.MustCompile(`[\p{So}\p{Sk}]\s*…\s*$`)

	blankRunRe = regexp.MustCompile(`\n{3,}`)
)

const replacementChar = '�'

// Scrub turns raw terminal bytes into clean text. It is total (never
// panics, including on invalid UTF-8 — bad bytes are dropped) and
// idempotent: Scrub(Scrub(x)) == Scrub(x).
func Scrub(raw []byte) string {
	s := toValidText(raw)
	s = collapseCarriageReturns(s)
	s = stripEscapeSequences(s)
	s = filterChrome(s)
	return s
}

// toValidText decodes raw as UTF-8, dropping invalid byte sequences and the
// replacement character rather than ever emitting U+FFFD.
func toValidText(raw []byte) string {
	var b strings.Builder
	b.Grow(len(raw))
	for len(raw) > 0 {
		r, size := utf8.DecodeRune(raw)
		if r == utf8.RuneError && size <= 1 {
			raw = raw[1:]
			continue
		}
		if r == replacementChar {
			raw = raw[size:]
			continue
		}
		b.WriteRune(r)
		raw = raw[size:]
	}
	return b.String()
}

// collapseCarriageReturns implements "\r overwrites the current line, so
// keep only the last segment per line" by splitting on \n and, within each
// line, keeping only the text after the final \r.
func collapseCarriageReturns(s string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		if idx := strings.LastIndexByte(line, '\r'); idx >= 0 {
			lines[i] = line[idx+1:]
		}
	}
	return strings.Join(lines, "\n")
}

func stripEscapeSequences(s string) string {
	s = csiRe.ReplaceAllString(s, "")
	s = oscTerminatedRe.ReplaceAllString(s, "")
	s = oscDanglingRe.ReplaceAllString(s, "")
	s = escTwoCharRe.ReplaceAllString(s, "")
	s = c0OtherRe.ReplaceAllString(s, "")
	return s
}

func filterChrome(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		trimmed := strings.TrimRight(line, " \t")
		if isBoxDrawingLine(trimmed) {
			continue
		}
		if spinnerLineRe.MatchString(trimmed) {
			continue
		}
		if toolIndicatorLineRe.MatchString(trimmed) {
			continue
		}
		if statusBarFragmentRe.MatchString(trimmed) {
			continue
		}
		if timingStatLineRe.MatchString(trimmed) {
			continue
		}
		if bannerKeywordRe.MatchString(trimmed) {
			continue
		}
		trimmed = spinnerTailRe.ReplaceAllString(trimmed, "")
		out = append(out, trimmed)
	}
	joined := strings.Join(out, "\n")
	joined = blankRunRe.ReplaceAllString(joined, "\n\n\n")
	return joined
}

// isBoxDrawingLine reports whether a line consists entirely (ignoring
// whitespace) of box-drawing or block-element glyphs, e.g. a table border
// or a banner frame rule.
func isBoxDrawingLine(line string) bool {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return false
	}
	seen := false
	for _, r := range trimmed {
		if r == ' ' {
			continue
		}
		if isBoxDrawingRune(r) {
			seen = true
			continue
		}
		return false
	}
	return seen
}

func isBoxDrawingRune(r rune) bool {
	switch {
	case r >= 0x2500 && r <= 0x257F: // Box Drawing
		return true
	case r >= 0x2580 && r <= 0x259F: // Block Elements
		return true
	case r == '│' || r == '─' || r == '┃' || r == '━':
		return true
	default:
		return false
	}
}
