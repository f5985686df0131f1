package codex

import (
	"log/slog"
	"time"
)

// SandboxMode is the sandbox policy string forwarded to the CLI.
type SandboxMode string

const (
	SandboxReadOnly       SandboxMode = "read-only"
	SandboxWorkspaceWrite SandboxMode = "workspace-write"
	SandboxFullAccess     SandboxMode = "danger-full-access"
)

// UserInputCallback answers an item/tool/requestUserInput request. It may
// return a string (wrapped as the answer to the request's question) or a
// map (written back verbatim as the answers payload).
type UserInputCallback func(params map[string]interface{}) (interface{}, error)

// Options is the immutable configuration for a Client. Build it with
// functional options; per-call model/session overrides layer on top without
// mutating it.
type Options struct {
	// ApprovalCallbacks answers approval requests by category. Keys fold
	// through the category alias table (command/command_execution,
	// file_change/fileChange).
	ApprovalCallbacks map[ApprovalCategory]ApprovalCallback

	// EventHooks maps event kinds (plus WildcardKind) to observers.
	EventHooks map[EventKind][]Hook

	// Env is merged over the inherited environment with highest precedence.
	Env map[string]string

	// ConfigOverrides are forwarded as -c key=value CLI flags.
	ConfigOverrides map[string]string

	// UserInputCallback answers user-input requests. When nil, requests are
	// answered with empty answers instead of blocking.
	UserInputCallback UserInputCallback

	// EventParser replaces the default classification step entirely.
	EventParser EventParser

	// FinalEventPredicate replaces the default turn-completion detection.
	FinalEventPredicate FinalEventPredicate

	// StderrHandler receives CLI stderr lines.
	StderrHandler func(line string)

	// DeprecationHandler receives deprecation notices for legacy call shapes.
	// Defaults to slog.Warn.
	DeprecationHandler func(message string)

	// DynamicTools are exposed to the CLI over the app-server protocol.
	DynamicTools []DynamicTool

	// EnvAllowlist restricts the inherited environment to the listed keys.
	EnvAllowlist []string

	// EnvDenylist removes the listed keys after allowlist filtering.
	EnvDenylist []string

	// ExtraArgs are appended to the CLI command line (escape hatch).
	ExtraArgs []string

	// CLIPath is the codex binary path ("codex" in PATH when empty).
	CLIPath string

	// ResumeSession resumes the given session (thread) id on Connect instead
	// of starting a new thread. Connect's WithResume takes precedence.
	ResumeSession string

	// OutputSchema constrains the turn's final output to a JSON schema:
	// either an inline schema map or the path to a JSON schema file, loaded
	// when the turn starts.
	OutputSchema interface{}

	// Model is the default model. Session-level (SetModel/Connect) and
	// call-level overrides take precedence, in that order.
	Model string

	// Profile selects a CLI config profile.
	Profile string

	// WorkDir is the working directory forwarded to the CLI.
	WorkDir string

	// Sandbox is the sandbox policy forwarded to the CLI.
	Sandbox SandboxMode

	// ApprovalPolicy is the fallback policy for deferred/unhandled approvals.
	ApprovalPolicy ApprovalPolicy

	// RequestTimeout bounds request/response exchanges with the CLI in both
	// directions. Zero or negative disables the timeout. Default 30s.
	RequestTimeout time.Duration

	// EventBufferSize is the internal event channel buffer (default 200).
	EventBufferSize int

	// UseAppServer advertises dynamic tools on thread start. It is implied
	// whenever DynamicTools is non-empty.
	UseAppServer bool

	// InheritEnv controls whether the parent environment is inherited.
	// Default true.
	InheritEnv bool
}

// Option is a functional option for configuring a Client.
type Option func(*Options)

// WithCLIPath sets a custom CLI binary path.
func WithCLIPath(path string) Option {
	return func(o *Options) { o.CLIPath = path }
}

// WithModel sets the default model.
func WithModel(model string) Option {
	return func(o *Options) { o.Model = model }
}

// WithResumeSession resumes the given session (thread) id on Connect.
func WithResumeSession(sessionID string) Option {
	return func(o *Options) { o.ResumeSession = sessionID }
}

// WithOutputSchema constrains the turn's final output to a JSON schema:
// either an inline schema map or the path to a JSON schema file.
func WithOutputSchema(schema interface{}) Option {
	return func(o *Options) { o.OutputSchema = schema }
}

// WithProfile selects a CLI config profile.
func WithProfile(profile string) Option {
	return func(o *Options) { o.Profile = profile }
}

// WithWorkDir sets the working directory.
func WithWorkDir(dir string) Option {
	return func(o *Options) { o.WorkDir = dir }
}

// WithSandbox sets the sandbox policy.
func WithSandbox(mode SandboxMode) Option {
	return func(o *Options) { o.Sandbox = mode }
}

// WithApprovalPolicy sets the fallback approval policy.
func WithApprovalPolicy(policy ApprovalPolicy) Option {
	return func(o *Options) { o.ApprovalPolicy = policy }
}

// WithAppServer toggles advertising dynamic tools on thread start.
func WithAppServer(enabled bool) Option {
	return func(o *Options) { o.UseAppServer = enabled }
}

// WithDynamicTools registers dynamic tools. Schemas are validated eagerly at
// client construction.
func WithDynamicTools(tools ...DynamicTool) Option {
	return func(o *Options) { o.DynamicTools = append(o.DynamicTools, tools...) }
}

// WithApprovalCallback registers an approval callback for a category.
func WithApprovalCallback(category ApprovalCategory, cb ApprovalCallback) Option {
	return func(o *Options) {
		if o.ApprovalCallbacks == nil {
			o.ApprovalCallbacks = make(map[ApprovalCategory]ApprovalCallback)
		}
		o.ApprovalCallbacks[normalizeApprovalCategory(string(category))] = cb
	}
}

// WithUserInputCallback sets the callback answering user-input requests.
func WithUserInputCallback(cb UserInputCallback) Option {
	return func(o *Options) { o.UserInputCallback = cb }
}

// WithEventHook registers an observer for an event kind (or WildcardKind).
// Observers fire in registration order.
func WithEventHook(kind EventKind, hook Hook) Option {
	return func(o *Options) {
		if o.EventHooks == nil {
			o.EventHooks = make(map[EventKind][]Hook)
		}
		o.EventHooks[kind] = append(o.EventHooks[kind], hook)
	}
}

// WithEventParser replaces the default event classification.
func WithEventParser(parser EventParser) Option {
	return func(o *Options) { o.EventParser = parser }
}

// WithFinalEventPredicate replaces the default turn-completion detection.
func WithFinalEventPredicate(predicate FinalEventPredicate) Option {
	return func(o *Options) { o.FinalEventPredicate = predicate }
}

// WithRequestTimeout bounds request/response exchanges with the CLI.
// Zero or negative disables the timeout.
func WithRequestTimeout(timeout time.Duration) Option {
	return func(o *Options) { o.RequestTimeout = timeout }
}

// WithEventBufferSize sets the internal event channel buffer size.
func WithEventBufferSize(size int) Option {
	return func(o *Options) { o.EventBufferSize = size }
}

// WithInheritEnv controls inheriting the parent environment.
func WithInheritEnv(inherit bool) Option {
	return func(o *Options) { o.InheritEnv = inherit }
}

// WithEnvAllowlist restricts the inherited environment to the listed keys.
func WithEnvAllowlist(keys ...string) Option {
	return func(o *Options) { o.EnvAllowlist = append(o.EnvAllowlist, keys...) }
}

// WithEnvDenylist removes the listed keys from the composed environment.
func WithEnvDenylist(keys ...string) Option {
	return func(o *Options) { o.EnvDenylist = append(o.EnvDenylist, keys...) }
}

// WithEnv sets explicit environment variables (highest precedence).
func WithEnv(env map[string]string) Option {
	return func(o *Options) {
		if o.Env == nil {
			o.Env = make(map[string]string, len(env))
		}
		for k, v := range env {
			o.Env[k] = v
		}
	}
}

// WithConfigOverride forwards a -c key=value CLI flag.
func WithConfigOverride(key, value string) Option {
	return func(o *Options) {
		if o.ConfigOverrides == nil {
			o.ConfigOverrides = make(map[string]string)
		}
		o.ConfigOverrides[key] = value
	}
}

// WithExtraArgs appends raw CLI arguments.
func WithExtraArgs(args ...string) Option {
	return func(o *Options) { o.ExtraArgs = append(o.ExtraArgs, args...) }
}

// WithStderrHandler sets a handler for CLI stderr lines.
func WithStderrHandler(h func(line string)) Option {
	return func(o *Options) { o.StderrHandler = h }
}

// WithDeprecationHandler sets the sink for deprecation notices.
func WithDeprecationHandler(h func(message string)) Option {
	return func(o *Options) { o.DeprecationHandler = h }
}

// defaultOptions returns the default configuration.
func defaultOptions() Options {
	return Options{
		RequestTimeout:  30 * time.Second,
		EventBufferSize: 200,
		InheritEnv:      true,
		DeprecationHandler: func(message string) {
			slog.Warn(message)
		},
	}
}
