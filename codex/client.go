package codex

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Client drives a Codex CLI app-server session: connect, send turns, stream
// typed events. At most one turn is in flight at a time; a second Query
// before the previous response is drained is a sequencing error.
type Client struct {
	options         Options
	state           *clientStateManager
	dispatcher      *hookDispatcher
	parser          EventParser
	finalPredicate  FinalEventPredicate
	newTransport    func(Options) Transport
	toolMap         map[string]DynamicTool
	serializedTools []map[string]interface{}
	idGen           requestIDGenerator

	mu             sync.Mutex
	transport      Transport
	router         *requestRouter
	events         chan Event
	done           chan struct{}
	readDone       chan struct{}
	pending        map[string]chan pendingResult
	fatal          error
	activeResponse *Response
	receiving      bool
	threadID       string
	lastSessionID  string
	sessionModel   string
}

type pendingResult struct {
	result map[string]interface{}
	err    error
}

// NewClient creates a Client. Dynamic tool registrations are validated
// eagerly; duplicate names and malformed schemas fail here, not mid-session.
func NewClient(opts ...Option) (*Client, error) {
	options := defaultOptions()
	for _, opt := range opts {
		opt(&options)
	}

	toolMap, serialized, err := validateTools(options.DynamicTools)
	if err != nil {
		return nil, err
	}

	parser := options.EventParser
	if parser == nil {
		parser = ParseEvent
	}
	predicate := options.FinalEventPredicate
	if predicate == nil {
		predicate = DefaultFinalEvent
	}

	return &Client{
		options:         options,
		state:           newClientStateManager(),
		dispatcher:      newHookDispatcher(options.EventHooks),
		parser:          parser,
		finalPredicate:  predicate,
		toolMap:         toolMap,
		serializedTools: serialized,
		newTransport: func(o Options) Transport {
			return newSubprocessTransport(o)
		},
	}, nil
}

// ConnectOption adjusts a single Connect call.
type ConnectOption func(*connectConfig)

type connectConfig struct {
	resumeSession string
	model         string
}

// WithResume resumes an existing session (thread) instead of starting a new
// one.
func WithResume(sessionID string) ConnectOption {
	return func(c *connectConfig) { c.resumeSession = sessionID }
}

// WithSessionModel sets the session default model for this connection,
// overriding the Options default for subsequent turns.
func WithSessionModel(model string) ConnectOption {
	return func(c *connectConfig) { c.model = model }
}

// Connect spawns the CLI app-server, performs the initialize handshake and
// starts (or resumes) a thread. The transport is released on every failure
// path.
func (c *Client) Connect(ctx context.Context, opts ...ConnectOption) error {
	cfg := connectConfig{resumeSession: c.options.ResumeSession}
	for _, opt := range opts {
		opt(&cfg)
	}

	if err := c.state.SetConnecting(); err != nil {
		return err
	}

	transport := c.newTransport(c.options)
	if err := transport.Connect(ctx); err != nil {
		c.state.SetDisconnected()
		return err
	}

	c.mu.Lock()
	c.transport = transport
	c.events = make(chan Event, c.options.EventBufferSize)
	c.done = make(chan struct{})
	c.readDone = make(chan struct{})
	c.pending = make(map[string]chan pendingResult)
	c.fatal = nil
	c.receiving = false
	c.activeResponse = nil
	c.sessionModel = cfg.model
	c.router = newRequestRouter(c.options, c.toolMap, transport.Write, c.emitEvent)
	c.mu.Unlock()

	go c.readLoop(transport)

	if err := c.handshake(ctx, cfg); err != nil {
		c.teardown(transport)
		c.state.SetDisconnected()
		return err
	}

	return c.state.SetIdle()
}

// handshake runs initialize + initialized, then thread/start or thread/resume.
func (c *Client) handshake(ctx context.Context, cfg connectConfig) error {
	initParams := map[string]interface{}{
		"clientInfo": map[string]interface{}{
			"name":    "codex-agent-sdk",
			"version": sdkVersion,
		},
		"capabilities": map[string]interface{}{
			"experimentalApi": true,
		},
	}
	if _, err := c.sendRequest(ctx, MethodInitialize, initParams); err != nil {
		return err
	}
	if err := c.writeFrame(protocolNotification{Method: MethodInitialized}); err != nil {
		return err
	}

	threadParams := c.threadParams(cfg)
	method := MethodThreadStart
	if cfg.resumeSession != "" {
		threadParams["threadId"] = cfg.resumeSession
		method = MethodThreadResume
	}

	result, err := c.sendRequest(ctx, method, threadParams)
	if err != nil {
		return err
	}

	threadID := ""
	if thread, ok := result["thread"].(map[string]interface{}); ok {
		threadID, _ = thread["id"].(string)
	}
	if threadID == "" {
		return &TransportError{Message: "failed to obtain thread id from app-server"}
	}

	c.mu.Lock()
	c.threadID = threadID
	c.lastSessionID = threadID
	c.mu.Unlock()
	return nil
}

func (c *Client) threadParams(cfg connectConfig) map[string]interface{} {
	params := map[string]interface{}{}
	if c.options.ApprovalPolicy != "" {
		params["approvalPolicy"] = string(c.options.ApprovalPolicy)
	}
	if c.options.WorkDir != "" {
		params["cwd"] = c.options.WorkDir
	}
	if model := c.resolveModel(""); model != "" {
		params["model"] = model
	}
	if c.options.Sandbox != "" {
		params["sandbox"] = string(c.options.Sandbox)
	}
	if len(c.serializedTools) > 0 || c.options.UseAppServer {
		params["dynamicTools"] = c.serializedTools
	}
	if len(c.options.ConfigOverrides) > 0 {
		params["config"] = c.options.ConfigOverrides
	}
	return params
}

// Disconnect releases the transport and returns to disconnected. It is safe
// to call in any state and releases resources unconditionally.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	transport := c.transport
	c.transport = nil
	done := c.done
	c.sessionModel = ""
	c.threadID = ""
	c.receiving = false
	c.activeResponse = nil
	c.mu.Unlock()

	if done != nil {
		select {
		case <-done:
		default:
			close(done)
		}
	}

	if transport != nil {
		c.teardown(transport)
	}

	c.state.SetDisconnected()
	return nil
}

func (c *Client) teardown(transport Transport) {
	_ = transport.Close()

	c.mu.Lock()
	readDone := c.readDone
	c.mu.Unlock()
	if readDone != nil {
		select {
		case <-readDone:
		case <-time.After(2 * time.Second):
		}
	}
}

// TurnOption adjusts a single turn.
type TurnOption func(*turnConfig)

type turnConfig struct {
	model string
}

// WithTurnModel overrides the model for one turn. Per-call model wins over
// the session model, which wins over the Options default.
func WithTurnModel(model string) TurnOption {
	return func(c *turnConfig) { c.model = model }
}

// Query starts one turn. The response must be drained through
// ReceiveResponse before the next Query.
func (c *Client) Query(ctx context.Context, prompt string, opts ...TurnOption) error {
	cfg := turnConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	if err := c.state.SetTurnInFlight(); err != nil {
		return err
	}

	c.mu.Lock()
	threadID := c.threadID
	c.receiving = false
	c.activeResponse = nil
	c.mu.Unlock()

	params := map[string]interface{}{
		"threadId": threadID,
		"input": []interface{}{
			map[string]interface{}{
				"type":          "text",
				"text":          prompt,
				"text_elements": []interface{}{},
			},
		},
	}
	if c.options.ApprovalPolicy != "" {
		params["approvalPolicy"] = string(c.options.ApprovalPolicy)
	}
	if c.options.WorkDir != "" {
		params["cwd"] = c.options.WorkDir
	}
	if model := c.resolveModel(cfg.model); model != "" {
		params["model"] = model
	}
	if schema := loadOutputSchema(c.options.OutputSchema); schema != nil {
		params["outputSchema"] = schema
	}

	if _, err := c.sendRequest(ctx, MethodTurnStart, params); err != nil {
		_ = c.state.SetIdle()
		return err
	}
	return nil
}

// loadOutputSchema resolves the configured output schema. A string naming a
// readable JSON file is loaded; any other string, and any non-string value,
// is forwarded as-is.
func loadOutputSchema(schema interface{}) interface{} {
	path, ok := schema.(string)
	if !ok {
		return schema
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return path
	}
	var decoded interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		return path
	}
	return decoded
}

// Response is the event stream for one turn. Events() closes when the turn
// completes, a hook aborts, or the transport fails; Err() reports which.
type Response struct {
	events   chan Event
	done     chan struct{}
	stopOnce sync.Once
	stop     chan struct{}
	err      error
}

// Events returns the turn's event channel. It is closed when the turn ends.
func (r *Response) Events() <-chan Event {
	return r.events
}

// Err reports how the turn ended: nil for normal completion or interruption,
// *HookAbortError when a hook aborted, or the transport failure. It blocks
// until the stream has ended.
func (r *Response) Err() error {
	<-r.done
	return r.err
}

func (r *Response) finish(err error) {
	r.err = err
	close(r.events)
	close(r.done)
}

func (r *Response) interrupt() {
	r.stopOnce.Do(func() { close(r.stop) })
}

// ReceiveResponse streams the in-flight turn's events until the final-event
// predicate fires. Hooks run here, on the consuming side, so a stalled hook
// cannot block the protocol read loop.
func (c *Client) ReceiveResponse() (*Response, error) {
	if c.state.Current() != ClientStateTurnInFlight {
		if !c.state.IsConnected() {
			return nil, ErrNotConnected
		}
		return nil, ErrNoActiveTurn
	}

	c.mu.Lock()
	if c.receiving {
		c.mu.Unlock()
		return nil, ErrTurnInFlight
	}
	c.receiving = true
	resp := &Response{
		events: make(chan Event, c.options.EventBufferSize),
		done:   make(chan struct{}),
		stop:   make(chan struct{}),
	}
	c.activeResponse = resp
	c.mu.Unlock()

	go c.forward(resp)
	return resp, nil
}

// ReceiveResponseWithPrompt keeps the legacy prompt-in-receive shape: it
// sends the turn and streams the response in one call.
//
// Deprecated: use Query followed by ReceiveResponse.
func (c *Client) ReceiveResponseWithPrompt(ctx context.Context, prompt string, opts ...TurnOption) (*Response, error) {
	if c.options.DeprecationHandler != nil {
		c.options.DeprecationHandler(
			"ReceiveResponseWithPrompt is deprecated; use Query followed by ReceiveResponse")
	}
	if err := c.Query(ctx, prompt, opts...); err != nil {
		return nil, err
	}
	return c.ReceiveResponse()
}

// forward moves events from the session stream into one Response, running
// hooks and watching for the final event.
func (c *Client) forward(resp *Response) {
	c.mu.Lock()
	events := c.events
	done := c.done
	c.mu.Unlock()

	for {
		select {
		case <-done:
			c.clearResponse(resp)
			resp.finish(ErrClientClosed)
			return
		case <-resp.stop:
			c.clearResponse(resp)
			resp.finish(nil)
			go c.drainToIdle(events, done)
			return
		case ev, ok := <-events:
			if !ok {
				c.mu.Lock()
				fatal := c.fatal
				c.mu.Unlock()
				c.state.SetDisconnected()
				c.clearResponse(resp)
				resp.finish(fatal)
				return
			}

			if err := c.dispatcher.dispatch(ev); err != nil {
				c.clearResponse(resp)
				c.settleTurn(ev, events, done)
				resp.finish(err)
				return
			}

			// Router-resolved requests are hook-observable only; they never
			// reach the caller's stream and never end a turn.
			if ev.Resolved {
				continue
			}

			select {
			case resp.events <- ev:
			case <-resp.stop:
				c.clearResponse(resp)
				c.settleTurn(ev, events, done)
				resp.finish(nil)
				return
			case <-done:
				c.clearResponse(resp)
				resp.finish(ErrClientClosed)
				return
			}

			if c.finalPredicate(ev) {
				c.clearResponse(resp)
				c.settleTurn(ev, events, done)
				resp.finish(nil)
				return
			}
		}
	}
}

// settleTurn returns the session to idle after a response ends on ev. When ev
// is not the wire turn's own terminator (early final predicate, hook abort),
// the remainder of the turn is drained in the background first so stale
// events cannot surface in the next turn's stream.
func (c *Client) settleTurn(ev Event, events chan Event, done chan struct{}) {
	if turnBoundary(ev) {
		_ = c.state.SetIdle()
		return
	}
	go c.drainToIdle(events, done)
}

// drainToIdle consumes the remainder of an aborted, interrupted, or
// early-finished turn in the background, without delivering further events,
// until the wire turn's terminator lands.
func (c *Client) drainToIdle(events chan Event, done chan struct{}) {
	for {
		select {
		case <-done:
			return
		case ev, ok := <-events:
			if !ok {
				c.state.SetDisconnected()
				return
			}
			if turnBoundary(ev) {
				_ = c.state.SetIdle()
				return
			}
		}
	}
}

func (c *Client) clearResponse(resp *Response) {
	c.mu.Lock()
	if c.activeResponse == resp {
		c.activeResponse = nil
	}
	c.mu.Unlock()
}

// Run composes a full exchange: connect (when disconnected), query, drain,
// and disconnect again when this call opened the connection. It returns the
// collected events and the turn's termination error.
func (c *Client) Run(ctx context.Context, prompt string, opts ...TurnOption) ([]Event, error) {
	ownsConnection := !c.state.IsConnected()
	if ownsConnection {
		if err := c.Connect(ctx); err != nil {
			return nil, err
		}
		defer func() { _ = c.Disconnect() }()
	}

	if err := c.Query(ctx, prompt, opts...); err != nil {
		return nil, err
	}
	resp, err := c.ReceiveResponse()
	if err != nil {
		return nil, err
	}

	var collected []Event
	for ev := range resp.Events() {
		collected = append(collected, ev)
	}
	return collected, resp.Err()
}

// RunStream is the streaming form of Run: connect (when disconnected), query,
// and return the turn's Response. When this call opened the connection, it is
// released once the stream ends.
func (c *Client) RunStream(ctx context.Context, prompt string, opts ...TurnOption) (*Response, error) {
	ownsConnection := !c.state.IsConnected()
	if ownsConnection {
		if err := c.Connect(ctx); err != nil {
			return nil, err
		}
	}

	resp, err := func() (*Response, error) {
		if err := c.Query(ctx, prompt, opts...); err != nil {
			return nil, err
		}
		return c.ReceiveResponse()
	}()
	if err != nil {
		if ownsConnection {
			_ = c.Disconnect()
		}
		return nil, err
	}

	if ownsConnection {
		go func() {
			<-resp.done
			_ = c.Disconnect()
		}()
	}
	return resp, nil
}

// Interrupt ends the active response stream best-effort. The remaining turn
// events are drained in the background and the session returns to idle.
func (c *Client) Interrupt() error {
	if !c.state.IsConnected() {
		return ErrNotConnected
	}

	c.mu.Lock()
	resp := c.activeResponse
	c.mu.Unlock()

	if resp != nil {
		resp.interrupt()
	}
	return nil
}

// SetModel sets the session default model for subsequent turns. An empty
// model reverts to the Options default.
func (c *Client) SetModel(model string) error {
	if !c.state.IsConnected() {
		return ErrNotConnected
	}
	c.mu.Lock()
	c.sessionModel = model
	c.mu.Unlock()
	return nil
}

// McpStatusList lists MCP server statuses via the app-server.
func (c *Client) McpStatusList(ctx context.Context) (map[string]interface{}, error) {
	if !c.state.IsConnected() {
		return nil, ErrNotConnected
	}
	return c.sendRequest(ctx, MethodMcpStatusList, map[string]interface{}{})
}

// McpReload reloads the MCP server configuration via the app-server.
func (c *Client) McpReload(ctx context.Context) (map[string]interface{}, error) {
	if !c.state.IsConnected() {
		return nil, ErrNotConnected
	}
	return c.sendRequest(ctx, MethodMcpReload, map[string]interface{}{})
}

// LastSessionID returns the most recent session (thread) id observed in the
// event stream, usable to resume a follow-up connection.
func (c *Client) LastSessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSessionID
}

// State returns the client's current lifecycle state.
func (c *Client) State() ClientState {
	return c.state.Current()
}

func (c *Client) resolveModel(callModel string) string {
	if callModel != "" {
		return callModel
	}
	c.mu.Lock()
	sessionModel := c.sessionModel
	c.mu.Unlock()
	if sessionModel != "" {
		return sessionModel
	}
	return c.options.Model
}

// sendRequest writes one request frame and blocks until the matching
// response, the request timeout, or ctx cancellation.
func (c *Client) sendRequest(ctx context.Context, method string, params interface{}) (map[string]interface{}, error) {
	id := c.idGen.Next()
	ch := make(chan pendingResult, 1)

	c.mu.Lock()
	if c.pending == nil || c.transport == nil {
		c.mu.Unlock()
		return nil, ErrNotConnected
	}
	c.pending[id] = ch
	readDone := c.readDone
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if err := c.writeFrame(protocolRequest{ID: id, Method: method, Params: params}); err != nil {
		return nil, err
	}

	var timeoutCh <-chan time.Time
	if c.options.RequestTimeout > 0 {
		timer := time.NewTimer(c.options.RequestTimeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case res := <-ch:
		return res.result, res.err
	case <-timeoutCh:
		return nil, &RequestTimeoutError{Method: method, Timeout: c.options.RequestTimeout}
	case <-readDone:
		c.mu.Lock()
		fatal := c.fatal
		c.mu.Unlock()
		if fatal != nil {
			return nil, fatal
		}
		return nil, &TransportError{Message: "connection closed before response"}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Client) writeFrame(payload interface{}) error {
	c.mu.Lock()
	transport := c.transport
	c.mu.Unlock()
	if transport == nil {
		return ErrNotConnected
	}
	return transport.Write(payload)
}

// readLoop is the sole consumer of the transport and sole producer on the
// session event channel. Server requests are answered synchronously here so
// the resolution frame precedes the parse of the next line.
func (c *Client) readLoop(transport Transport) {
	c.mu.Lock()
	events := c.events
	readDone := c.readDone
	router := c.router
	c.mu.Unlock()

	defer func() {
		c.failPending()
		close(readDone)
		close(events)
	}()

	for {
		line, err := transport.ReadLine()
		if err != nil {
			if err != io.EOF {
				c.setFatal(&TransportError{Message: "failed to read from CLI", Cause: err})
			} else if c.state.Current() == ClientStateTurnInFlight {
				exitCode := 0
				if sub, ok := transport.(*subprocessTransport); ok {
					exitCode = sub.ExitCode()
				}
				c.setFatal(&TransportError{Message: "CLI stream closed mid-turn", ExitCode: exitCode})
			}
			return
		}

		var message map[string]interface{}
		if err := json.Unmarshal(line, &message); err != nil {
			// Malformed line: scoped to one event, never fatal.
			c.emitEvent(Event{
				Kind:      KindError,
				EventType: "parse.error",
				Error: (&ParseError{
					Message: "malformed JSON line",
					Line:    string(line),
					Cause:   err,
				}).Error(),
			})
			continue
		}

		switch classifyInbound(message) {
		case inboundResponse:
			c.resolvePending(message)
		case inboundServerRequest:
			router.handle(message)
		case inboundNotification:
			c.handleEvent(normalizeNotification(message))
		default:
			c.handleEvent(message)
		}
	}
}

// handleEvent classifies one raw event map and forwards it to the session
// stream. Parser failures are scoped to the event.
func (c *Client) handleEvent(raw map[string]interface{}) {
	ev, err := safeParse(c.parser, raw)
	if err != nil {
		c.emitEvent(Event{
			Kind:      KindError,
			EventType: "parse.error",
			Error:     err.Error(),
			Raw:       raw,
		})
		return
	}

	if ev.SessionID != "" {
		c.mu.Lock()
		c.lastSessionID = ev.SessionID
		c.mu.Unlock()
	}

	c.emitEvent(ev)
}

// emitEvent delivers one event to the session stream, blocking for
// backpressure. A closed session aborts the send.
func (c *Client) emitEvent(ev Event) {
	c.mu.Lock()
	events := c.events
	done := c.done
	c.mu.Unlock()
	if events == nil {
		return
	}

	select {
	case events <- ev:
	case <-done:
	}
}

func (c *Client) resolvePending(message map[string]interface{}) {
	id := frameID(message)

	c.mu.Lock()
	ch, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()

	if !ok {
		slog.Debug("ignoring unexpected response id", "id", id)
		return
	}

	if errObj, hasErr := message["error"]; hasErr {
		payload, _ := errObj.(map[string]interface{})
		method, _ := message["method"].(string)
		ch <- pendingResult{err: &protocolResponseError{Payload: payload, Method: method}}
		return
	}

	result, _ := message["result"].(map[string]interface{})
	ch <- pendingResult{result: result}
}

func (c *Client) setFatal(err error) {
	c.mu.Lock()
	if c.fatal == nil {
		c.fatal = err
	}
	c.mu.Unlock()
}

// failPending resolves every outstanding request with the connection failure.
func (c *Client) failPending() {
	c.mu.Lock()
	pending := c.pending
	c.pending = nil
	fatal := c.fatal
	c.mu.Unlock()

	if fatal == nil {
		fatal = &TransportError{Message: "connection closed before response"}
	}
	for _, ch := range pending {
		ch <- pendingResult{err: fatal}
	}
}
