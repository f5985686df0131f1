package codex

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildCLIArgs(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		tr := newSubprocessTransport(defaultOptions())
		assert.Equal(t, []string{"app-server"}, tr.BuildCLIArgs())
	})

	t.Run("profile and config overrides", func(t *testing.T) {
		options := defaultOptions()
		WithProfile("work")(&options)
		WithConfigOverride("features.web_search", "true")(&options)
		WithConfigOverride("approval_policy", "never")(&options)

		tr := newSubprocessTransport(options)
		assert.Equal(t, []string{
			"app-server",
			"--profile", "work",
			"-c", "approval_policy=never",
			"-c", "features.web_search=true",
		}, tr.BuildCLIArgs())
	})

	t.Run("extra args appended last", func(t *testing.T) {
		options := defaultOptions()
		WithExtraArgs("--verbose", "--log-level", "debug")(&options)

		tr := newSubprocessTransport(options)
		args := tr.BuildCLIArgs()
		assert.Equal(t, []string{"app-server", "--verbose", "--log-level", "debug"}, args)
	})
}

func TestBuildEnv(t *testing.T) {
	t.Setenv("CODEX_TEST_KEEP", "keep")
	t.Setenv("CODEX_TEST_DROP", "drop")

	envMap := func(env []string) map[string]string {
		out := make(map[string]string, len(env))
		for _, kv := range env {
			for i := 0; i < len(kv); i++ {
				if kv[i] == '=' {
					out[kv[:i]] = kv[i+1:]
					break
				}
			}
		}
		return out
	}

	t.Run("inherits by default", func(t *testing.T) {
		tr := newSubprocessTransport(defaultOptions())
		env := envMap(tr.buildEnv())
		assert.Equal(t, "keep", env["CODEX_TEST_KEEP"])
		assert.Equal(t, "sdk-go", env["CODEX_SDK_ENTRYPOINT"])
		assert.Equal(t, sdkVersion, env["CODEX_SDK_VERSION"])
	})

	t.Run("no inherit keeps only explicit env", func(t *testing.T) {
		options := defaultOptions()
		WithInheritEnv(false)(&options)
		WithEnv(map[string]string{"ONLY": "this"})(&options)

		env := envMap(newSubprocessTransport(options).buildEnv())
		assert.NotContains(t, env, "CODEX_TEST_KEEP")
		assert.Equal(t, "this", env["ONLY"])
	})

	t.Run("allowlist filters inherited", func(t *testing.T) {
		options := defaultOptions()
		WithEnvAllowlist("CODEX_TEST_KEEP")(&options)

		env := envMap(newSubprocessTransport(options).buildEnv())
		assert.Equal(t, "keep", env["CODEX_TEST_KEEP"])
		assert.NotContains(t, env, "CODEX_TEST_DROP")
	})

	t.Run("denylist removes after allowlist", func(t *testing.T) {
		options := defaultOptions()
		WithEnvDenylist("CODEX_TEST_DROP")(&options)

		env := envMap(newSubprocessTransport(options).buildEnv())
		assert.Equal(t, "keep", env["CODEX_TEST_KEEP"])
		assert.NotContains(t, env, "CODEX_TEST_DROP")
	})

	t.Run("explicit env wins over inherited", func(t *testing.T) {
		options := defaultOptions()
		WithEnv(map[string]string{"CODEX_TEST_KEEP": "override"})(&options)

		env := envMap(newSubprocessTransport(options).buildEnv())
		assert.Equal(t, "override", env["CODEX_TEST_KEEP"])
	})
}

func TestFindCLI_ExplicitPath(t *testing.T) {
	path, err := findCLI("/opt/codex/bin/codex")
	require.NoError(t, err)
	assert.Equal(t, "/opt/codex/bin/codex", path)
}

func TestSubprocessTransport_NotConnected(t *testing.T) {
	tr := newSubprocessTransport(defaultOptions())

	_, err := tr.ReadLine()
	assert.ErrorIs(t, err, ErrNotConnected)

	err = tr.Write(map[string]interface{}{"x": 1})
	assert.ErrorIs(t, err, ErrNotConnected)

	assert.NoError(t, tr.Close(), "closing an unstarted transport is a no-op")
}
