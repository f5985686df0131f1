package codex

import (
	"errors"
	"fmt"
	"log/slog"
)

// Hook observes one event. Hooks are strictly observational: they receive the
// event by value and cannot rewrite or suppress it. A hook aborts the current
// response stream by returning Abort(...) (or any *HookAbortError); every
// other error is isolated to that event and logged, never terminating the
// stream.
type Hook func(ev Event) error

// Abort builds the error a hook returns to end the current response stream
// early. The abort surfaces to the caller as a *HookAbortError, distinct from
// normal completion and from transport failures.
func Abort(reason string) error {
	return &HookAbortError{Reason: reason}
}

// hookDispatcher fans events out to observers registered per kind plus the
// wildcard kind, in registration order (wildcard observers first).
type hookDispatcher struct {
	hooks map[EventKind][]Hook
}

func newHookDispatcher(hooks map[EventKind][]Hook) *hookDispatcher {
	return &hookDispatcher{hooks: hooks}
}

// dispatch invokes all observers for ev. It returns a *HookAbortError when an
// observer aborts; observer failures unrelated to abort are logged and
// skipped.
func (d *hookDispatcher) dispatch(ev Event) error {
	if len(d.hooks) == 0 {
		return nil
	}

	if err := d.run(d.hooks[WildcardKind], ev); err != nil {
		return err
	}
	return d.run(d.hooks[ev.Kind], ev)
}

func (d *hookDispatcher) run(hooks []Hook, ev Event) error {
	for _, hook := range hooks {
		if err := d.invoke(hook, ev); err != nil {
			var abort *HookAbortError
			if errors.As(err, &abort) {
				return abort
			}
			slog.Warn("event hook failed", "kind", ev.Kind, "error", err)
		}
	}
	return nil
}

func (d *hookDispatcher) invoke(hook Hook, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("event hook panicked: %v", r)
		}
	}()
	return hook(ev)
}
