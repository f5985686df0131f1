package codex

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// requestRouter answers server-initiated requests: dynamic tool calls, user
// input requests, and approval requests. Every inbound request is answered;
// an unanswerable request gets an error frame, never silence, so the CLI is
// never left blocked on the SDK.
type requestRouter struct {
	write     func(payload interface{}) error
	emit      func(ev Event)
	tools     map[string]DynamicTool
	approvals map[ApprovalCategory]ApprovalCallback
	userInput UserInputCallback
	policy    ApprovalPolicy
	timeout   time.Duration
}

func newRequestRouter(
	options Options,
	tools map[string]DynamicTool,
	write func(payload interface{}) error,
	emit func(ev Event),
) *requestRouter {
	return &requestRouter{
		write:     write,
		emit:      emit,
		tools:     tools,
		approvals: options.ApprovalCallbacks,
		userInput: options.UserInputCallback,
		policy:    options.ApprovalPolicy,
		timeout:   options.RequestTimeout,
	}
}

// handle answers one server request. It runs on the read loop so the answer
// is written back before the next line is parsed, preserving the CLI's
// request/response ordering.
func (r *requestRouter) handle(message map[string]interface{}) {
	requestID := frameID(message)
	method, _ := message["method"].(string)
	params, _ := message["params"].(map[string]interface{})
	if params == nil {
		params = map[string]interface{}{}
	}

	var result interface{}
	var err error

	switch method {
	case MethodToolCall:
		result, err = r.handleToolCall(params)
	case MethodToolUserInput:
		result, err = r.handleUserInput(params)
	case MethodCommandApproval:
		result, err = r.handleApproval(ApprovalCommand, params, false)
	case MethodFileChangeApproval:
		result, err = r.handleApproval(ApprovalFileChange, params, false)
	case MethodLegacyExecApproval:
		result, err = r.handleApproval(ApprovalCommand, params, true)
	case MethodLegacyPatchApproval:
		result, err = r.handleApproval(ApprovalFileChange, params, true)
	default:
		r.writeError(requestID, ErrCodeMethodNotFound, fmt.Sprintf("Method %s not supported", method))
		return
	}

	if err != nil {
		r.emit(Event{
			Kind:      KindError,
			EventType: "callback.error",
			Error:     err.Error(),
			Raw:       message,
		})
		r.writeError(requestID, ErrCodeInternalError, err.Error())
		return
	}

	if werr := r.write(protocolResult{ID: requestID, Result: result}); werr != nil {
		r.emit(Event{
			Kind:      KindError,
			EventType: "callback.write_failed",
			Error:     werr.Error(),
			Raw:       message,
		})
	}
}

func (r *requestRouter) writeError(requestID string, code int, message string) {
	_ = r.write(protocolErrorResponse{
		ID:    requestID,
		Error: protocolErrorBody{Code: code, Message: message},
	})
}

// handleToolCall invokes a registered dynamic tool. Handler failures and
// unknown tool names resolve as unsuccessful results rather than protocol
// errors so the model can observe and react to them.
func (r *requestRouter) handleToolCall(params map[string]interface{}) (interface{}, error) {
	toolName, ok := params["tool"].(string)
	if !ok || toolName == "" {
		return nil, fmt.Errorf("dynamic tool call missing tool name")
	}

	tool, registered := r.tools[toolName]
	if !registered {
		r.emit(Event{
			Kind:      KindTool,
			EventType: "tool.call",
			ToolName:  toolName,
			Status:    "failed",
			Error:     fmt.Sprintf("unknown tool: %s", toolName),
			Resolved:  true,
			Raw:       params,
		})
		return map[string]interface{}{
			"success": false,
			"output":  fmt.Sprintf("Unknown tool: %s", toolName),
		}, nil
	}

	args, _ := params["arguments"].(map[string]interface{})
	if args == nil {
		args = map[string]interface{}{}
	}

	output, err := r.invokeTool(tool, args)
	if err != nil {
		r.emit(Event{
			Kind:      KindTool,
			EventType: "tool.call",
			ToolName:  toolName,
			ToolInput: args,
			Status:    "failed",
			Error:     err.Error(),
			Resolved:  true,
			Raw:       params,
		})
		return map[string]interface{}{
			"success": false,
			"output":  err.Error(),
		}, nil
	}

	r.emit(Event{
		Kind:       KindTool,
		EventType:  "tool.call",
		ToolName:   toolName,
		ToolInput:  args,
		ToolOutput: output,
		Status:     "completed",
		Resolved:   true,
		Raw:        params,
	})
	return map[string]interface{}{
		"success": true,
		"output":  output,
	}, nil
}

// invokeTool runs a tool handler under the request timeout, with panic
// recovery so a misbehaving handler cannot take down the read loop.
func (r *requestRouter) invokeTool(tool DynamicTool, args map[string]interface{}) (string, error) {
	ctx := context.Background()
	var cancel context.CancelFunc
	if r.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	type outcome struct {
		result interface{}
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- outcome{err: fmt.Errorf("tool %s panicked: %v", tool.Name, rec)}
			}
		}()
		result, err := tool.Handler(ctx, args)
		done <- outcome{result: result, err: err}
	}()

	select {
	case o := <-done:
		if o.err != nil {
			return "", o.err
		}
		return normalizeToolOutput(o.result), nil
	case <-ctx.Done():
		return "", &RequestTimeoutError{Method: MethodToolCall, Timeout: r.timeout}
	}
}

// handleUserInput answers an item/tool/requestUserInput request. A missing
// callback answers with empty answers instead of blocking the CLI.
func (r *requestRouter) handleUserInput(params map[string]interface{}) (interface{}, error) {
	if r.userInput == nil {
		return map[string]interface{}{"answers": map[string]interface{}{}}, nil
	}

	answer, err := r.callWithTimeout(MethodToolUserInput, func() (interface{}, error) {
		return r.userInput(params)
	})
	if err != nil {
		return nil, err
	}

	switch a := answer.(type) {
	case map[string]interface{}:
		return map[string]interface{}{"answers": a}, nil
	case string:
		questionID, _ := params["questionId"].(string)
		if questionID == "" {
			questionID = "question"
		}
		return map[string]interface{}{
			"answers": map[string]interface{}{
				questionID: map[string]interface{}{
					"answers": []interface{}{a},
				},
			},
		}, nil
	default:
		return nil, &CallbackConfigurationError{
			Message: fmt.Sprintf("user input callback must return string or map, got %T", answer),
		}
	}
}

// handleApproval resolves an approval request: the category callback decides,
// a defer (or no callback) falls through to the policy matrix. Legacy methods
// use the approved/denied decision vocabulary; current methods use
// accept/deny.
func (r *requestRouter) handleApproval(category ApprovalCategory, params map[string]interface{}, legacy bool) (interface{}, error) {
	callbackName := string(category) + " approval callback"

	decision, payload, err := r.resolveApproval(category, params, callbackName)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		r.emitApprovalResolved(category, params, "custom")
		return payload, nil
	}

	var wire string
	if legacy {
		wire = "denied"
		if decision == DecisionAllow {
			wire = "approved"
		}
	} else {
		wire = "deny"
		if decision == DecisionAllow {
			wire = "accept"
		}
	}

	r.emitApprovalResolved(category, params, string(decision))
	return map[string]interface{}{"decision": wire}, nil
}

// emitApprovalResolved surfaces the resolution so hooks observe approvals
// after the protocol answer is written, never before.
func (r *requestRouter) emitApprovalResolved(category ApprovalCategory, params map[string]interface{}, decision string) {
	r.emit(Event{
		Kind:      KindTool,
		EventType: "approval." + string(category),
		Status:    decision,
		Resolved:  true,
		Raw:       params,
	})
}

// resolveApproval returns either a canonical allow/deny decision or a raw
// payload the callback wants written back verbatim.
func (r *requestRouter) resolveApproval(category ApprovalCategory, params map[string]interface{}, callbackName string) (Decision, map[string]interface{}, error) {
	callback := r.approvals[category]
	if callback == nil {
		return fallbackDecision(r.policy), nil, nil
	}

	result, err := r.callWithTimeout(callbackName, func() (interface{}, error) {
		return callback(params)
	})
	if err != nil {
		var timeout *RequestTimeoutError
		if errors.As(err, &timeout) {
			// A stalled callback resolves as a deny; the timeout still
			// surfaces to the consumer as an error event.
			r.emit(Event{
				Kind:      KindError,
				EventType: "callback.timeout",
				Error:     err.Error(),
				Raw:       params,
			})
			return DecisionDeny, nil, nil
		}
		return "", nil, err
	}

	approval := result.(ApprovalResult)
	if approval.Payload != nil {
		return "", approval.Payload, nil
	}

	decision, err := normalizeDecision(approval.Decision, callbackName)
	if err != nil {
		return "", nil, err
	}
	if decision == DecisionDefer {
		return fallbackDecision(r.policy), nil, nil
	}
	return decision, nil, nil
}

// callWithTimeout bounds a callback by the request timeout, recovering panics
// into errors.
func (r *requestRouter) callWithTimeout(method string, fn func() (interface{}, error)) (interface{}, error) {
	type outcome struct {
		result interface{}
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- outcome{err: fmt.Errorf("%s panicked: %v", method, rec)}
			}
		}()
		result, err := fn()
		done <- outcome{result: result, err: err}
	}()

	if r.timeout <= 0 {
		o := <-done
		return o.result, o.err
	}

	select {
	case o := <-done:
		return o.result, o.err
	case <-time.After(r.timeout):
		return nil, &RequestTimeoutError{Method: method, Timeout: r.timeout}
	}
}
