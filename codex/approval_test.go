package codex

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeDecision_Aliases(t *testing.T) {
	allowAliases := []string{"allow", "accept", "approve", "approved", "yes", "y", "YES", " Allow "}
	for _, alias := range allowAliases {
		decision, err := normalizeDecision(alias, "test callback")
		require.NoError(t, err, "alias %q", alias)
		assert.Equal(t, DecisionAllow, decision, "alias %q", alias)
	}

	denyAliases := []string{"deny", "denied", "reject", "rejected", "block", "no", "n", "Reject"}
	for _, alias := range denyAliases {
		decision, err := normalizeDecision(alias, "test callback")
		require.NoError(t, err, "alias %q", alias)
		assert.Equal(t, DecisionDeny, decision, "alias %q", alias)
	}

	deferAliases := []string{"defer", "default", "fallback", "ask"}
	for _, alias := range deferAliases {
		decision, err := normalizeDecision(alias, "test callback")
		require.NoError(t, err, "alias %q", alias)
		assert.Equal(t, DecisionDefer, decision, "alias %q", alias)
	}
}

func TestNormalizeDecision_EmptyDefers(t *testing.T) {
	decision, err := normalizeDecision("", "test callback")
	require.NoError(t, err)
	assert.Equal(t, DecisionDefer, decision)
}

func TestNormalizeDecision_OutOfTable(t *testing.T) {
	_, err := normalizeDecision("maybe", "command approval callback")
	var cfgErr *CallbackConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, cfgErr.Error(), "command approval callback")
	assert.Contains(t, cfgErr.Error(), "maybe")
}

func TestFallbackDecision(t *testing.T) {
	assert.Equal(t, DecisionAllow, fallbackDecision(ApprovalPolicyNever))
	assert.Equal(t, DecisionDeny, fallbackDecision(ApprovalPolicyUntrusted))
	assert.Equal(t, DecisionDeny, fallbackDecision(ApprovalPolicyOnFailure))
	assert.Equal(t, DecisionDeny, fallbackDecision(ApprovalPolicyOnRequest))
	assert.Equal(t, DecisionDeny, fallbackDecision(ApprovalPolicy("")))
}

func TestNormalizeApprovalCategory(t *testing.T) {
	assert.Equal(t, ApprovalCommand, normalizeApprovalCategory("command"))
	assert.Equal(t, ApprovalCommand, normalizeApprovalCategory("command_execution"))
	assert.Equal(t, ApprovalCommand, normalizeApprovalCategory("commandExecution"))
	assert.Equal(t, ApprovalFileChange, normalizeApprovalCategory("file_change"))
	assert.Equal(t, ApprovalFileChange, normalizeApprovalCategory("fileChange"))
	assert.Equal(t, ApprovalCategory("custom"), normalizeApprovalCategory("custom"))
}
