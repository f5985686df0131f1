package codex

import (
	"fmt"
	"strings"
)

// ApprovalPolicy is the session-level fallback policy for approval requests
// that no callback answers (or that a callback defers).
type ApprovalPolicy string

const (
	// ApprovalPolicyUntrusted requires approval for everything.
	ApprovalPolicyUntrusted ApprovalPolicy = "untrusted"

	// ApprovalPolicyOnFailure approves unless a command fails.
	ApprovalPolicyOnFailure ApprovalPolicy = "on-failure"

	// ApprovalPolicyOnRequest approves on explicit request.
	ApprovalPolicyOnRequest ApprovalPolicy = "on-request"

	// ApprovalPolicyNever auto-approves everything (use with caution).
	ApprovalPolicyNever ApprovalPolicy = "never"
)

// Decision is the canonical resolution of an approval request.
type Decision string

const (
	DecisionAllow Decision = "allow"
	DecisionDeny  Decision = "deny"
	DecisionDefer Decision = "defer"
)

// ApprovalCategory keys approval callbacks. Recognized aliases fold to the
// same key before lookup.
type ApprovalCategory string

const (
	ApprovalCommand    ApprovalCategory = "command"
	ApprovalFileChange ApprovalCategory = "file_change"
)

var approvalCategoryAliases = map[string]ApprovalCategory{
	"command":           ApprovalCommand,
	"command_execution": ApprovalCommand,
	"commandExecution":  ApprovalCommand,
	"file_change":       ApprovalFileChange,
	"fileChange":        ApprovalFileChange,
}

// ApprovalResult is returned by an ApprovalCallback. Exactly one of the three
// shapes is honored: a Decision string understood by the alias table, a
// structured payload written back to the CLI verbatim, or nothing (defer).
type ApprovalResult struct {
	// Decision is a decision string ("allow", "accept", "deny", "reject",
	// "defer", ...). Normalized through the alias table.
	Decision string

	// Payload, when non-nil, is sent to the CLI as-is and skips normalization.
	Payload map[string]interface{}
}

// Allow is a convenience ApprovalResult.
func Allow() ApprovalResult { return ApprovalResult{Decision: "allow"} }

// Deny is a convenience ApprovalResult.
func Deny() ApprovalResult { return ApprovalResult{Decision: "deny"} }

// Defer is a convenience ApprovalResult that falls back to the policy matrix.
func Defer() ApprovalResult { return ApprovalResult{} }

// ApprovalCallback answers one approval request. The params map is the
// request payload as sent by the CLI.
type ApprovalCallback func(params map[string]interface{}) (ApprovalResult, error)

// decisionAliases maps accepted callback return values to canonical decisions.
// Anything outside this table is a CallbackConfigurationError, never a silent
// deny.
var decisionAliases = map[string]Decision{
	"allow":    DecisionAllow,
	"accept":   DecisionAllow,
	"approve":  DecisionAllow,
	"approved": DecisionAllow,
	"yes":      DecisionAllow,
	"y":        DecisionAllow,
	"deny":     DecisionDeny,
	"denied":   DecisionDeny,
	"reject":   DecisionDeny,
	"rejected": DecisionDeny,
	"block":    DecisionDeny,
	"no":       DecisionDeny,
	"n":        DecisionDeny,
	"defer":    DecisionDefer,
	"default":  DecisionDefer,
	"fallback": DecisionDefer,
	"ask":      DecisionDefer,
}

// normalizeDecision maps a callback return value to a canonical Decision.
func normalizeDecision(raw string, callbackName string) (Decision, error) {
	if raw == "" {
		return DecisionDefer, nil
	}
	decision, ok := decisionAliases[strings.ToLower(strings.TrimSpace(raw))]
	if !ok {
		return "", &CallbackConfigurationError{
			Message: fmt.Sprintf("%s returned %q; expected an allow/deny/defer alias", callbackName, raw),
		}
	}
	return decision, nil
}

// fallbackDecision is the static policy matrix consulted when a callback
// defers or no callback is registered for a category.
func fallbackDecision(policy ApprovalPolicy) Decision {
	if policy == ApprovalPolicyNever {
		return DecisionAllow
	}
	return DecisionDeny
}

// normalizeApprovalCategory folds a request category alias to its canonical
// key. Unknown categories are returned unchanged so callers can still register
// exact-match callbacks for them.
func normalizeApprovalCategory(category string) ApprovalCategory {
	if canonical, ok := approvalCategoryAliases[category]; ok {
		return canonical
	}
	return ApprovalCategory(category)
}
