// Package codex provides a Go SDK for driving the Codex CLI app-server.
//
// The SDK spawns one `codex app-server` subprocess per session, speaks its
// newline-delimited JSON protocol, and turns the raw stream into typed
// events. Approval requests, dynamic tool calls, and user-input requests from
// the CLI are answered through registered callbacks before the next line is
// parsed, so the CLI never blocks on the SDK.
//
// # One-shot usage
//
//	client, err := codex.NewClient(codex.WithModel("gpt-5"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	events, err := client.Run(ctx, "Summarize this repository")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, ev := range events {
//	    if ev.Kind == codex.KindItem && !ev.Partial {
//	        fmt.Println(ev.Text)
//	    }
//	}
//
// # Session usage
//
// Connect once, then alternate Query and ReceiveResponse. At most one turn is
// in flight at a time.
//
//	client, _ := codex.NewClient(
//	    codex.WithApprovalPolicy(codex.ApprovalPolicyOnRequest),
//	    codex.WithApprovalCallback(codex.ApprovalCommand, func(params map[string]interface{}) (codex.ApprovalResult, error) {
//	        return codex.Allow(), nil
//	    }),
//	)
//	if err := client.Connect(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Disconnect()
//
//	if err := client.Query(ctx, "Run the test suite"); err != nil {
//	    log.Fatal(err)
//	}
//	resp, err := client.ReceiveResponse()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for ev := range resp.Events() {
//	    fmt.Printf("%s %s\n", ev.Kind, ev.EventType)
//	}
//	if err := resp.Err(); err != nil {
//	    log.Fatal(err)
//	}
//
// # Dynamic tools
//
// Tools registered with the client are advertised on thread start and served
// over the app-server protocol:
//
//	type AddParams struct {
//	    A int `json:"a"`
//	    B int `json:"b"`
//	}
//
//	add := codex.TypedTool("add", "Add two integers", func(ctx context.Context, p AddParams) (string, error) {
//	    return strconv.Itoa(p.A + p.B), nil
//	})
//	client, _ := codex.NewClient(codex.WithDynamicTools(add))
//
// # Hooks
//
// Hooks observe events by kind (or codex.WildcardKind) on the consuming side
// of the pipeline. A hook returning codex.Abort(...) ends the current
// response stream; the abort surfaces as *HookAbortError from Response.Err.
package codex
