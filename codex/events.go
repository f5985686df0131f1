package codex

// EventKind is the coarse classification of a CLI event.
type EventKind string

const (
	// KindThread covers thread lifecycle events (thread.started, ...).
	KindThread EventKind = "thread"
	// KindTurn covers turn lifecycle events (turn.started, turn.completed, ...).
	KindTurn EventKind = "turn"
	// KindItem covers message/reasoning items, including streaming deltas.
	KindItem EventKind = "item"
	// KindTool covers tool calls, command executions and file changes.
	KindTool EventKind = "tool"
	// KindLog covers log/stdout/stderr/console output events.
	KindLog EventKind = "log"
	// KindError covers error events.
	KindError EventKind = "error"
	// KindRaw is the fallback when no classification rule matches.
	KindRaw EventKind = "raw"
)

// WildcardKind registers a hook for every event kind.
const WildcardKind EventKind = "*"

// Event is one classified unit of output from the CLI. Kind is always set;
// when no classification rule matches it defaults to KindRaw and the payload
// is still retained in Raw, so no line is ever dropped.
type Event struct {
	// Raw is the original decoded payload, retained for forward compatibility.
	Raw map[string]interface{}

	// ToolInput carries the tool arguments for KindTool events.
	ToolInput map[string]interface{}

	// ToolOutput carries the tool result for KindTool events, when present.
	ToolOutput interface{}

	// Kind is the coarse classification.
	Kind EventKind

	// EventType is the type string reported by the CLI ("turn.completed",
	// "item.started", ...). Empty when the payload carried none.
	EventType string

	// ItemType is the item's own type for KindItem/KindTool events
	// ("agent_message", "command_execution", ...).
	ItemType string

	// Role is the message role for KindItem events, when known.
	Role string

	// Text is the best-effort extracted text for item and log events.
	Text string

	// ToolName names the tool for KindTool events.
	ToolName string

	// Status is the reported status, falling back to the event type.
	Status string

	// Error is the extracted error message for KindError events.
	Error string

	// SessionID is the session/thread identifier, when the payload carried one.
	SessionID string

	// Partial marks streaming items (deltas/chunks) that will be followed by
	// a completed item.
	Partial bool

	// Completed marks turn events that end the current response by default.
	Completed bool

	// Resolved marks request events that the callback router already answered.
	// Resolved events are observable by hooks but are not delivered to the
	// caller's response stream; hooks always see the post-resolution event.
	Resolved bool
}

// EventParser converts one decoded JSON object into an Event. A caller can
// supply one via WithEventParser to replace the default classification.
type EventParser func(raw map[string]interface{}) Event

// FinalEventPredicate reports whether an event ends a response stream.
type FinalEventPredicate func(Event) bool
