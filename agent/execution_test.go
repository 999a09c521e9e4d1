package agent

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalEnvReadWrite(t *testing.T) {
	env := NewLocalEnv(t.TempDir())

	require.NoError(t, env.WriteFile("sub/hello.txt", "hello"))
	assert.True(t, env.FileExists("sub/hello.txt"))

	content, err := env.ReadFile("sub/hello.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello", content)
}

func TestLocalEnvSandboxBlocksEscape(t *testing.T) {
	env := NewLocalEnv(t.TempDir())

	_, err := env.ReadFile("../../../etc/passwd")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "escapes the working root")

	err = env.WriteFile("/tmp/outside.txt", "nope")
	assert.Error(t, err)

	assert.False(t, env.FileExists("../.."))
}

func TestLocalEnvSandboxAllowsInternalDotDot(t *testing.T) {
	env := NewLocalEnv(t.TempDir())
	require.NoError(t, env.WriteFile("a/file.txt", "x"))

	// Path wanders but stays inside the root.
	content, err := env.ReadFile("a/../a/file.txt")
	require.NoError(t, err)
	assert.Equal(t, "x", content)
}

func TestLocalEnvWithoutSandbox(t *testing.T) {
	outside := t.TempDir()
	target := filepath.Join(outside, "out.txt")
	require.NoError(t, os.WriteFile(target, []byte("outside"), 0644))

	env := NewLocalEnv(t.TempDir(), WithoutSandbox())
	content, err := env.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "outside", content)
}

func TestLocalEnvListDirectory(t *testing.T) {
	env := NewLocalEnv(t.TempDir())
	require.NoError(t, env.WriteFile("a.go", "package a"))
	require.NoError(t, env.WriteFile("b.txt", "b"))
	require.NoError(t, env.CreateDirectory("sub"))

	entries, err := env.ListDirectory(".", "*.go")
	require.NoError(t, err)

	names := map[string]string{}
	for _, e := range entries {
		names[e.Name] = e.Type
	}
	assert.Equal(t, "file", names["a.go"])
	// Directories pass the filter regardless of pattern.
	assert.Equal(t, "directory", names["sub"])
	assert.NotContains(t, names, "b.txt")
}

func TestLocalEnvExecCommand(t *testing.T) {
	env := NewLocalEnv(t.TempDir())

	result, err := env.ExecCommand(context.Background(), "echo hello && echo oops >&2", 5000)
	require.NoError(t, err)
	assert.Equal(t, 0, result.ExitCode)
	assert.Contains(t, result.Stdout, "hello")
	assert.Contains(t, result.Stderr, "oops")
	assert.False(t, result.TimedOut)
}

func TestLocalEnvExecCommandNonZeroExit(t *testing.T) {
	env := NewLocalEnv(t.TempDir())

	result, err := env.ExecCommand(context.Background(), "exit 3", 5000)
	require.NoError(t, err)
	assert.Equal(t, 3, result.ExitCode)
}

func TestLocalEnvExecCommandTimeout(t *testing.T) {
	env := NewLocalEnv(t.TempDir())

	result, err := env.ExecCommand(context.Background(), "sleep 5", 100)
	require.NoError(t, err)
	assert.True(t, result.TimedOut)
	assert.Equal(t, -1, result.ExitCode)
}

func TestLocalEnvGlob(t *testing.T) {
	env := NewLocalEnv(t.TempDir())
	require.NoError(t, env.WriteFile("x.go", "package x"))
	require.NoError(t, env.WriteFile("y.md", "# y"))

	matches, err := env.Glob("*.go", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"x.go"}, matches)
}

func TestFilterEnvironment(t *testing.T) {
	t.Setenv("MY_SERVICE_API_KEY", "secret")
	t.Setenv("MY_PLAIN_SETTING", "visible")

	var sawSecret, sawPlain bool
	for _, kv := range filterEnvironment() {
		switch {
		case kv == "MY_SERVICE_API_KEY=secret":
			sawSecret = true
		case kv == "MY_PLAIN_SETTING=visible":
			sawPlain = true
		}
	}
	assert.False(t, sawSecret)
	assert.True(t, sawPlain)
}
