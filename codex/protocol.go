package codex

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
)

// App-server protocol methods.
const (
	// Client-sent requests.
	MethodInitialize    = "initialize"
	MethodThreadStart   = "thread/start"
	MethodThreadResume  = "thread/resume"
	MethodTurnStart     = "turn/start"
	MethodMcpStatusList = "mcpServerStatus/list"
	MethodMcpReload     = "config/mcpServer/reload"

	// Client-sent notifications.
	MethodInitialized = "initialized"

	// Server-sent requests the client answers.
	MethodToolCall           = "item/tool/call"
	MethodToolUserInput      = "item/tool/requestUserInput"
	MethodCommandApproval    = "item/commandExecution/requestApproval"
	MethodFileChangeApproval = "item/fileChange/requestApproval"

	// Legacy approval methods still emitted by older CLI builds.
	MethodLegacyExecApproval  = "execCommandApproval"
	MethodLegacyPatchApproval = "applyPatchApproval"
)

// Protocol error codes (JSON-RPC conventions).
const (
	ErrCodeMethodNotFound = -32601
	ErrCodeInternalError  = -32603
)

// protocolRequest is an outbound request frame. Params are omitted entirely
// when nil, matching the app-server's tolerance for absent params.
type protocolRequest struct {
	Params interface{} `json:"params,omitempty"`
	ID     string      `json:"id"`
	Method string      `json:"method"`
}

// protocolNotification is an outbound notification frame (no id).
type protocolNotification struct {
	Params interface{} `json:"params,omitempty"`
	Method string      `json:"method"`
}

// protocolResult answers a server-initiated request.
type protocolResult struct {
	Result interface{} `json:"result"`
	ID     string      `json:"id"`
}

// protocolErrorBody is the error object in an error response frame.
type protocolErrorBody struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// protocolErrorResponse answers a server-initiated request with an error.
type protocolErrorResponse struct {
	ID    string            `json:"id"`
	Error protocolErrorBody `json:"error"`
}

// requestIDGenerator produces sequential "req_N" request ids.
type requestIDGenerator struct {
	counter atomic.Int64
}

func (g *requestIDGenerator) Next() string {
	return fmt.Sprintf("req_%d", g.counter.Add(1))
}

// protocolResponseError wraps an error object the app-server returned for one
// of our requests.
type protocolResponseError struct {
	Payload map[string]interface{}
	Method  string
}

func (e *protocolResponseError) Error() string {
	msg := "app-server returned an error response"
	if e.Payload != nil {
		if m, ok := e.Payload["message"].(string); ok && m != "" {
			msg = msg + ": " + m
		}
	}
	if e.Method != "" {
		return fmt.Sprintf("%s (method %s)", msg, e.Method)
	}
	return msg
}

// classifyInbound distinguishes the three inbound frame shapes. A frame with
// an id and a result/error is a response to one of our requests; an id plus a
// method is a server request; a bare method is a notification. Anything else
// falls through to the event stream untouched.
type inboundKind int

const (
	inboundResponse inboundKind = iota
	inboundServerRequest
	inboundNotification
	inboundOther
)

func classifyInbound(message map[string]interface{}) inboundKind {
	_, hasID := message["id"]
	_, hasResult := message["result"]
	_, hasError := message["error"]
	_, hasMethod := message["method"]

	switch {
	case hasID && (hasResult || hasError):
		return inboundResponse
	case hasID && hasMethod:
		return inboundServerRequest
	case hasMethod:
		return inboundNotification
	default:
		return inboundOther
	}
}

// normalizeNotification flattens a notification frame into an event map:
// the method becomes a dotted type field and the params are inlined. Frames
// without a string method and map params pass through unchanged.
func normalizeNotification(message map[string]interface{}) map[string]interface{} {
	method, ok := message["method"].(string)
	if !ok {
		return message
	}
	params, ok := message["params"].(map[string]interface{})
	if !ok {
		return message
	}

	normalized := make(map[string]interface{}, len(params)+1)
	normalized["type"] = strings.ReplaceAll(method, "/", ".")
	for k, v := range params {
		normalized[k] = v
	}
	return normalized
}

// frameID extracts a frame's id as a string. Numeric ids are stringified so
// correlation works regardless of how the CLI encodes them.
func frameID(message map[string]interface{}) string {
	switch id := message["id"].(type) {
	case string:
		return id
	case float64:
		return fmt.Sprintf("%.0f", id)
	case json.Number:
		return id.String()
	default:
		return ""
	}
}
