// Package callback implements the Callback Router (C9, spec §4.9): decodes
// inline-keyboard callback payloads, injects answered ask_user replies back
// into the originating session, drives the engine×mode picker, and
// navigates directory-browsing sessions. The tf/sf wizard steps themselves
// are delegated to a FlowEngine (C10, internal/flow) this package only
// depends on through a narrow interface.
//
// Grounded on spec §4.9/§6's literal wire format and the already-built
// internal/chat (Transport/Keyboard/Update) and internal/session
// (Registry/ReplyWriter) packages; no teacher file implements anything
// resembling a callback router, since the teacher has no chat-bot layer.
package callback

import "strings"

// Prefix tags which sub-system owns a callback payload.
type Prefix string

const (
	PrefixTaskFlow    Prefix = "tf"
	PrefixSessionFlow Prefix = "sf"
	PrefixBrowse      Prefix = "browse"
	PrefixAnswer      Prefix = "answer"
	PrefixDelete      Prefix = "delete"
)

// MaxCallbackBytes is the transport's inline-button data budget (spec §6).
const MaxCallbackBytes = 64

// Encode renders one callback payload as "<prefix>:<key>:<value>".
func Encode(prefix Prefix, key, value string) string {
	return string(prefix) + ":" + key + ":" + value
}

// Fits reports whether data satisfies the wire format's 7-bit-ASCII,
// 64-byte budget (spec §6); callers should check this before handing a
// generated payload to the chat transport.
func Fits(data string) bool {
	if len(data) == 0 || len(data) > MaxCallbackBytes {
		return false
	}
	for i := 0; i < len(data); i++ {
		if data[i] > 127 {
			return false
		}
	}
	return true
}

// Decode splits callback data into its three colon-delimited parts. The
// value itself may not contain a colon, matching every value the wire
// format defines (index, "here"/"new"/"existing"/"back", or
// "<engine-short>.<mode>").
func Decode(data string) (prefix Prefix, key, value string, ok bool) {
	parts := strings.SplitN(data, ":", 3)
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return "", "", "", false
	}
	return Prefix(parts[0]), parts[1], parts[2], true
}

// Literal values the wizard and browse flows recognize alongside a plain
// integer index (spec §4.9).
const (
	ValueHere     = "here"
	ValueNew      = "new"
	ValueExisting = "existing"
	ValueBack     = "back"
	ValueStart    = "start"
)

// engineByShort / shortByEngine implement the "<engine-short>.<mode>"
// value grammar's engine half (spec §4.9: "engine-short ∈ {i, c, g} for
// {itachi, itachic, itachig}"), mapped onto the engine family names the
// rest of the module uses (spec GLOSSARY: "claude-family, codex-family,
// gemini-family").
var engineByShort = map[string]string{
	"i": "claude",
	"c": "codex",
	"g": "gemini",
}

var shortByEngine = func() map[string]string {
	m := make(map[string]string, len(engineByShort))
	for short, engine := range engineByShort {
		m[engine] = short
	}
	return m
}()

// EngineFromShort resolves an engine-short code to its engine family name.
func EngineFromShort(short string) (string, bool) {
	e, ok := engineByShort[short]
	return e, ok
}

// ShortForEngine resolves an engine family name to its engine-short code.
func ShortForEngine(engine string) (string, bool) {
	s, ok := shortByEngine[engine]
	return s, ok
}

// EncodeEngineMode renders the final sf step's combined "<short>.<mode>"
// value; ok is false if engine has no known short code.
func EncodeEngineMode(engine, mode string) (string, bool) {
	short, ok := ShortForEngine(engine)
	if !ok {
		return "", false
	}
	return short + "." + mode, true
}

// DecodeEngineMode splits a "<short>.<mode>" value back into engine/mode.
func DecodeEngineMode(value string) (engine, mode string, ok bool) {
	i := strings.IndexByte(value, '.')
	if i < 0 {
		return "", "", false
	}
	engine, ok = EngineFromShort(value[:i])
	if !ok {
		return "", "", false
	}
	return engine, value[i+1:], true
}
