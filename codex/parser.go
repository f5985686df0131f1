package codex

import (
	"fmt"
	"strings"
)

// Classification is table-driven: explicit type lookups first, then payload
// shape heuristics, then KindRaw. Each rule is total on its inputs so the
// whole chain is total: every decoded line yields exactly one Event.

var finalTypes = map[string]bool{
	"result":             true,
	"final":              true,
	"done":               true,
	"completed":          true,
	"response.completed": true,
	"response.done":      true,
	"response.final":     true,
	"turn.completed":     true,
}

var finalStatuses = map[string]bool{
	"completed": true,
	"done":      true,
	"finished":  true,
	"succeeded": true,
	"success":   true,
	"failed":    true,
	"error":     true,
	"cancelled": true,
}

var errorTypes = map[string]bool{
	"error":          true,
	"response.error": true,
}

var itemMessageTypes = map[string]bool{
	"agent_message":           true,
	"assistant_message":       true,
	"assistant_message_delta": true,
	"assistant_message_chunk": true,
	"assistant_message_final": true,
	"reasoning":               true,
	"thinking":                true,
	"user_message":            true,
}

var itemToolTypes = map[string]bool{
	"command_execution":   true,
	"commandExecution":    true,
	"tool_call":           true,
	"toolCall":            true,
	"tool_result":         true,
	"toolResult":          true,
	"fileChange":          true,
	"mcpToolCall":         true,
	"webSearch":           true,
	"imageView":           true,
	"collabAgentToolCall": true,
}

var logTokens = []string{"log", "stdout", "stderr", "console"}

var sessionIDKeys = []string{
	"session_id", "sessionId", "session",
	"conversation_id", "conversationId",
	"thread_id", "threadId",
}

func stringField(raw map[string]interface{}, key string) string {
	if v, ok := raw[key].(string); ok {
		return v
	}
	return ""
}

func rawEventType(raw map[string]interface{}) string {
	for _, key := range []string{"type", "event", "kind"} {
		if v := stringField(raw, key); v != "" {
			return v
		}
	}
	return ""
}

func extractSessionID(raw map[string]interface{}) string {
	for _, key := range sessionIDKeys {
		if v := stringField(raw, key); v != "" {
			return v
		}
	}
	return ""
}

// extractText pulls display text out of strings, {text: ...} / {content: ...}
// blocks, and lists of either, concatenating list parts.
func extractText(content interface{}) string {
	switch c := content.(type) {
	case string:
		return c
	case map[string]interface{}:
		if text, ok := c["text"].(string); ok {
			return text
		}
		if inner, ok := c["content"]; ok {
			return extractText(inner)
		}
	case []interface{}:
		var b strings.Builder
		for _, item := range c {
			b.WriteString(extractText(item))
		}
		return b.String()
	}
	return ""
}

func isLogType(eventType string) bool {
	if eventType == "" {
		return false
	}
	for _, token := range logTokens {
		if strings.Contains(eventType, token) {
			return true
		}
	}
	return false
}

func firstString(raw map[string]interface{}, keys ...string) string {
	for _, key := range keys {
		if v := stringField(raw, key); v != "" {
			return v
		}
	}
	return ""
}

func firstValue(raw map[string]interface{}, keys ...string) interface{} {
	for _, key := range keys {
		if v, ok := raw[key]; ok && v != nil {
			return v
		}
	}
	return nil
}

func orStatus(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// ParseEvent classifies one decoded JSON object into an Event. It is the
// default EventParser.
func ParseEvent(raw map[string]interface{}) Event {
	eventType := rawEventType(raw)
	status := stringField(raw, "status")
	sessionID := extractSessionID(raw)

	base := Event{
		Raw:       raw,
		EventType: eventType,
		Status:    orStatus(status, eventType),
		SessionID: sessionID,
	}

	// Errors win over everything else.
	if _, hasError := raw["error"]; errorTypes[eventType] || status == "error" || status == "failed" || hasError {
		ev := base
		ev.Kind = KindError
		ev.Error = extractErrorMessage(raw)
		return ev
	}

	// Explicit thread./turn. lifecycle events.
	if strings.HasPrefix(eventType, "thread.") {
		ev := base
		ev.Kind = KindThread
		ev.Status = status
		return ev
	}
	if strings.HasPrefix(eventType, "turn.") {
		ev := base
		ev.Kind = KindTurn
		ev.Status = status
		ev.Completed = strings.HasSuffix(eventType, "completed") || finalStatuses[status]
		return ev
	}

	// Log-like events.
	if isLogType(eventType) {
		ev := base
		ev.Kind = KindLog
		ev.Text = extractText(firstValue(raw, "message", "text", "content", "log"))
		return ev
	}

	// item.* envelopes with an inner item block.
	if eventType == "item.completed" || eventType == "item.started" {
		if item, ok := raw["item"].(map[string]interface{}); ok {
			return classifyItem(base, raw, item, eventType, status)
		}
	}

	// Shape heuristics: tool-looking payloads.
	if ev, ok := classifyToolShape(base, raw, eventType); ok {
		return ev
	}

	// Message-looking payloads.
	role := stringField(raw, "role")
	content := raw["content"]
	if message, ok := raw["message"].(map[string]interface{}); ok {
		if role == "" {
			role = stringField(message, "role")
		}
		if content == nil {
			content = message["content"]
		}
	}
	if role != "" {
		ev := base
		ev.Kind = KindItem
		ev.Role = role
		ev.Text = extractText(content)
		return ev
	}

	// Streaming deltas without an item envelope.
	if _, hasDelta := raw["delta"]; hasDelta || strings.Contains(eventType, "delta") {
		ev := base
		ev.Kind = KindItem
		ev.ItemType = "delta"
		ev.Partial = true
		delta := raw["delta"]
		if delta == nil {
			delta = raw["text"]
		}
		ev.Text = extractText(delta)
		return ev
	}

	// Completion markers without a turn. prefix.
	if finalTypes[eventType] || raw["final"] == true {
		ev := base
		ev.Kind = KindTurn
		ev.Completed = true
		return ev
	}
	if eventType == "" && finalStatuses[status] {
		ev := base
		ev.Kind = KindTurn
		ev.Status = status
		ev.Completed = true
		return ev
	}

	ev := base
	ev.Kind = KindRaw
	ev.Status = status
	return ev
}

func extractErrorMessage(raw map[string]interface{}) string {
	switch v := raw["error"].(type) {
	case string:
		return v
	case map[string]interface{}:
		if msg, ok := v["message"].(string); ok {
			return msg
		}
		return fmt.Sprintf("%v", v)
	}
	return firstString(raw, "error_message", "errorMessage")
}

func classifyItem(base Event, raw, item map[string]interface{}, eventType, status string) Event {
	itemType := firstString(item, "type", "itemType")
	itemStatus := stringField(item, "status")
	role := stringField(item, "role")

	_, hasText := item["text"]
	_, hasContent := item["content"]
	if itemMessageTypes[itemType] || hasText || hasContent {
		if role == "" {
			switch itemType {
			case "user_message":
				role = "user"
			case "":
			default:
				if itemMessageTypes[itemType] {
					role = "assistant"
				}
			}
		}
		ev := base
		ev.Kind = KindItem
		ev.ItemType = itemType
		ev.Role = role
		ev.Text = extractText(firstValue(item, "text", "content"))
		ev.Status = orStatus(itemStatus, status, eventType)
		ev.Partial = eventType == "item.started" || strings.Contains(itemType, "delta") || strings.Contains(itemType, "chunk")
		return ev
	}

	if itemToolTypes[itemType] || strings.Contains(itemType, "tool") {
		toolName := stringField(item, "name")
		if toolName == "" {
			toolName = itemType
		}
		toolInput, _ := item["input"].(map[string]interface{})
		if toolInput == nil {
			toolInput = map[string]interface{}{}
			if cmd, ok := item["command"]; ok && cmd != nil {
				toolInput["command"] = cmd
			}
			if args, ok := item["args"]; ok && args != nil {
				toolInput["args"] = args
			}
			if len(toolInput) == 0 {
				toolInput = nil
			}
		}
		ev := base
		ev.Kind = KindTool
		ev.ItemType = itemType
		ev.ToolName = toolName
		ev.ToolInput = toolInput
		ev.ToolOutput = firstValue(item, "output", "result", "aggregated_output", "stdout")
		ev.Status = orStatus(itemStatus, status, eventType)
		ev.Partial = eventType == "item.started"
		return ev
	}

	ev := base
	ev.Kind = KindItem
	ev.ItemType = itemType
	ev.Status = orStatus(itemStatus, status, eventType)
	ev.Partial = eventType == "item.started"
	return ev
}

func classifyToolShape(base Event, raw map[string]interface{}, eventType string) (Event, bool) {
	var toolName string
	var toolInput interface{}
	var toolOutput interface{}

	if strings.Contains(eventType, "tool") {
		toolName = firstString(raw, "tool_name", "toolName", "name")
	}
	if block, ok := raw["tool"].(map[string]interface{}); ok {
		if toolName == "" {
			toolName = stringField(block, "name")
		}
		toolInput = firstValue(block, "input", "arguments")
		toolOutput = firstValue(block, "output", "result")
	}
	if toolName == "" {
		toolName = firstString(raw, "tool_name", "toolName")
	}
	if toolInput == nil {
		toolInput = firstValue(raw, "tool_input", "toolInput", "input", "arguments", "params")
	}
	if toolOutput == nil {
		toolOutput = firstValue(raw, "tool_output", "toolOutput", "output", "result")
	}

	if toolName == "" && toolInput == nil && toolOutput == nil {
		return Event{}, false
	}

	ev := base
	ev.Kind = KindTool
	ev.ToolName = toolName
	if input, ok := toolInput.(map[string]interface{}); ok {
		ev.ToolInput = input
	}
	ev.ToolOutput = toolOutput
	return ev, true
}

// DefaultFinalEvent is the default FinalEventPredicate: it ends a response on
// error events, explicit completion types, completed turn.* events, and bare
// final statuses.
func DefaultFinalEvent(ev Event) bool {
	if ev.Kind == KindError {
		return true
	}

	raw := ev.Raw
	if raw == nil {
		return ev.Kind == KindTurn && ev.Completed
	}

	eventType := rawEventType(raw)
	status := stringField(raw, "status")

	if finalTypes[eventType] || raw["final"] == true {
		return true
	}
	if strings.HasPrefix(eventType, "turn.") {
		return strings.HasSuffix(eventType, "completed") || finalStatuses[status]
	}
	if strings.HasPrefix(eventType, "item.") || strings.HasPrefix(eventType, "thread.") {
		return false
	}
	if eventType == "" && finalStatuses[status] {
		return true
	}
	return false
}

// turnBoundary reports whether an event is the wire turn's own terminator.
// The final-event predicate can end a response earlier (error events are
// final by default, custom predicates end wherever they like); the app-server
// keeps producing events for the turn until one of these lands, and those
// trailing events must not leak into the next turn's stream.
func turnBoundary(ev Event) bool {
	if ev.Kind == KindTurn && ev.Completed {
		return true
	}
	if suffix, ok := strings.CutPrefix(ev.EventType, "turn."); ok {
		switch suffix {
		case "completed", "failed", "aborted", "cancelled", "interrupted":
			return true
		}
	}
	return false
}

// safeParse runs the configured parser, converting a panic or a kind-less
// result into a single structured parse failure instead of killing the stream.
func safeParse(parser EventParser, raw map[string]interface{}) (ev Event, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &ParseError{Message: fmt.Sprintf("event parser panicked: %v", r)}
		}
	}()

	ev = parser(raw)
	if ev.Kind == "" {
		return Event{}, &ParseError{Message: "event parser returned an event without a kind"}
	}
	if ev.Raw == nil {
		ev.Raw = raw
	}
	return ev, nil
}
