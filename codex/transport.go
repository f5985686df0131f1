package codex

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bazelment/codex-agent-sdk/internal/ndjson"
	"github.com/bazelment/codex-agent-sdk/internal/procattr"
)

const sdkVersion = "0.1.0"

// Transport carries newline-delimited JSON frames to and from the CLI. The
// production implementation spawns `codex app-server`; tests substitute
// in-memory pipes.
type Transport interface {
	// Connect starts the underlying process or stream.
	Connect(ctx context.Context) error

	// Write marshals one frame and sends it as a single line.
	Write(payload interface{}) error

	// ReadLine returns the next non-empty line, or io.EOF when the stream ends.
	ReadLine() ([]byte, error)

	// Close releases the transport. Idempotent.
	Close() error
}

// subprocessTransport manages the Codex CLI app-server process.
type subprocessTransport struct {
	stdout   io.ReadCloser
	stderr   io.ReadCloser
	stdin    io.WriteCloser
	cmd      *exec.Cmd
	reader   *ndjson.Reader
	writer   *ndjson.Writer
	options  Options
	writeMu  sync.Mutex
	mu       sync.Mutex
	started  bool
	stopping bool
}

func newSubprocessTransport(options Options) *subprocessTransport {
	return &subprocessTransport{options: options}
}

// findCLI locates the codex binary: explicit path, then PATH, then the usual
// install locations.
func findCLI(cliPath string) (string, error) {
	if cliPath != "" {
		return cliPath, nil
	}

	if found, err := exec.LookPath("codex"); err == nil {
		return found, nil
	}

	home, _ := os.UserHomeDir()
	locations := []string{
		filepath.Join(home, ".local", "bin", "codex"),
		"/usr/local/bin/codex",
		filepath.Join(home, "node_modules", ".bin", "codex"),
	}
	for _, path := range locations {
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path, nil
		}
	}

	return "", &CLINotFoundError{Path: "codex", Cause: exec.ErrNotFound}
}

// BuildCLIArgs builds the app-server command line. Session parameters
// (model, sandbox, approval policy) travel in thread/turn params, not flags;
// only process-level configuration lands on the command line.
func (t *subprocessTransport) BuildCLIArgs() []string {
	args := []string{"app-server"}

	if t.options.Profile != "" {
		args = append(args, "--profile", t.options.Profile)
	}

	// Config overrides in stable order.
	if len(t.options.ConfigOverrides) > 0 {
		keys := make([]string, 0, len(t.options.ConfigOverrides))
		for k := range t.options.ConfigOverrides {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			args = append(args, "-c", k+"="+t.options.ConfigOverrides[k])
		}
	}

	// Extra args (escape hatch)
	args = append(args, t.options.ExtraArgs...)

	return args
}

// buildEnv composes the child environment: inherited (optionally filtered by
// allowlist, then denylist) with explicit Env entries layered on top.
func (t *subprocessTransport) buildEnv() []string {
	inherited := map[string]string{}
	if t.options.InheritEnv || len(t.options.EnvAllowlist) > 0 {
		for _, kv := range os.Environ() {
			if i := strings.IndexByte(kv, '='); i > 0 {
				inherited[kv[:i]] = kv[i+1:]
			}
		}
	}

	if len(t.options.EnvAllowlist) > 0 {
		allowed := make(map[string]struct{}, len(t.options.EnvAllowlist))
		for _, k := range t.options.EnvAllowlist {
			allowed[k] = struct{}{}
		}
		for k := range inherited {
			if _, ok := allowed[k]; !ok {
				delete(inherited, k)
			}
		}
	}

	for _, k := range t.options.EnvDenylist {
		delete(inherited, k)
	}

	for k, v := range t.options.Env {
		inherited[k] = v
	}

	inherited["CODEX_SDK_ENTRYPOINT"] = "sdk-go"
	inherited["CODEX_SDK_VERSION"] = sdkVersion

	env := make([]string, 0, len(inherited))
	for k, v := range inherited {
		env = append(env, k+"="+v)
	}
	sort.Strings(env)
	return env
}

// Connect spawns the CLI app-server process.
func (t *subprocessTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.started {
		return ErrAlreadyConnected
	}

	cliPath, err := findCLI(t.options.CLIPath)
	if err != nil {
		return err
	}

	t.cmd = exec.CommandContext(ctx, cliPath, t.BuildCLIArgs()...)
	t.cmd.Env = t.buildEnv()

	// Process group for orphan prevention
	procattr.Set(t.cmd)

	if t.options.WorkDir != "" {
		t.cmd.Dir = t.options.WorkDir
	}

	t.stdin, err = t.cmd.StdinPipe()
	if err != nil {
		return &TransportError{Message: "failed to create stdin pipe", Cause: err}
	}

	t.stdout, err = t.cmd.StdoutPipe()
	if err != nil {
		return &TransportError{Message: "failed to create stdout pipe", Cause: err}
	}

	if t.options.StderrHandler != nil {
		t.stderr, err = t.cmd.StderrPipe()
		if err != nil {
			return &TransportError{Message: "failed to create stderr pipe", Cause: err}
		}
	}

	t.reader = ndjson.NewReader(t.stdout)
	t.writer = ndjson.NewWriter(t.stdin)

	if err := t.cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return &CLINotFoundError{Path: cliPath, Cause: err}
		}
		return &TransportError{Message: "failed to start CLI process", Cause: err}
	}

	if t.stderr != nil {
		go t.stderrLoop(t.stderr, t.options.StderrHandler)
	}

	t.started = true
	return nil
}

// Write sends one frame as a JSON line. Writes are serialized so interleaved
// goroutines (protocol writer, inbound request router) cannot corrupt frames.
func (t *subprocessTransport) Write(payload interface{}) error {
	t.mu.Lock()
	writer := t.writer
	stopping := t.stopping
	t.mu.Unlock()

	if writer == nil {
		return ErrNotConnected
	}
	if stopping {
		return ErrClientClosed
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if err := writer.Write(payload); err != nil {
		return &TransportError{Message: "failed to write to CLI stdin", Cause: err}
	}
	return nil
}

// ReadLine reads the next JSON line from stdout.
func (t *subprocessTransport) ReadLine() ([]byte, error) {
	t.mu.Lock()
	reader := t.reader
	t.mu.Unlock()

	if reader == nil {
		return nil, ErrNotConnected
	}

	return reader.ReadLine()
}

// stderrLoop forwards stderr lines to the configured handler.
func (t *subprocessTransport) stderrLoop(stderr io.Reader, handler func(string)) {
	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r\n")
		if line == "" {
			continue
		}
		handler(line)
	}
}

// Close gracefully shuts down the CLI process: SIGTERM, short grace period,
// then SIGKILL against the whole process group.
func (t *subprocessTransport) Close() error {
	t.mu.Lock()
	if !t.started || t.stopping {
		t.mu.Unlock()
		return nil
	}
	t.stopping = true
	cmd := t.cmd
	stdin := t.stdin
	t.mu.Unlock()

	if stdin != nil {
		_ = stdin.Close()
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	procattr.StopGroup(cmd.Process, done, 500*time.Millisecond)
	return nil
}

// ExitCode reports the process exit code after it has finished, or 0.
func (t *subprocessTransport) ExitCode() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cmd == nil || t.cmd.ProcessState == nil {
		return 0
	}
	return t.cmd.ProcessState.ExitCode()
}
