package command_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sistem/judge/cmd/judge/internal/command"
)

func TestExecute(t *testing.T) {
	t.Run("ZeroExitCode", func(t *testing.T) {
		ctx := context.Background()
		shell := command.NewShellExecutor()

		result, err := shell.Execute(ctx, command.New("echo", "-n", "a"))
		require.NoError(t, err, "failed to run command")
		assert.Equal(t, []string{"echo", "-n", "a"}, result.Cmd)
		assert.Equal(t, "a", string(result.Stdout))
		assert.Empty(t, result.Stderr)
		assert.Zero(t, result.ExitCode)
		assert.False(t, result.Truncated)
	})

	t.Run("NonzeroExitCode", func(t *testing.T) {
		ctx := context.Background()
		shell := command.NewShellExecutor()

		result, err := shell.Execute(ctx, command.Shell("echo oops >&2; exit 3"))
		require.NoError(t, err, "failed to run command")
		assert.Equal(t, 3, result.ExitCode)
		assert.Equal(t, "oops\n", string(result.Stderr))
		assert.Empty(t, result.Stdout)
	})

	t.Run("MergeStderr", func(t *testing.T) {
		ctx := context.Background()
		shell := command.NewShellExecutor()

		cmd := command.Shell("echo out; echo err >&2")
		cmd.MergeStderr = true

		result, err := shell.Execute(ctx, cmd)
		require.NoError(t, err, "failed to run command")
		assert.Equal(t, "out\nerr\n", string(result.Stdout))
		assert.Empty(t, result.Stderr)
	})

	t.Run("OutputLimit", func(t *testing.T) {
		ctx := context.Background()
		shell := command.NewShellExecutor()

		cmd := command.Shell("printf 0123456789; printf abcdefghij >&2")
		cmd.OutputLimit = 4

		result, err := shell.Execute(ctx, cmd)
		require.NoError(t, err, "failed to run command")
		assert.Equal(t, "0123", string(result.Stdout))
		assert.Equal(t, "abcd", string(result.Stderr))
		assert.True(t, result.Truncated)
		assert.Zero(t, result.ExitCode, "a capped stream must not break the pipe")
	})

	t.Run("UnderOutputLimit", func(t *testing.T) {
		ctx := context.Background()
		shell := command.NewShellExecutor()

		cmd := command.Shell("printf ok")
		cmd.OutputLimit = 1024

		result, err := shell.Execute(ctx, cmd)
		require.NoError(t, err, "failed to run command")
		assert.Equal(t, "ok", string(result.Stdout))
		assert.False(t, result.Truncated)
	})

	t.Run("Stdin", func(t *testing.T) {
		ctx := context.Background()
		shell := command.NewShellExecutor()

		cmd := command.New("cat")
		cmd.Stdin = strings.NewReader("piped")

		result, err := shell.Execute(ctx, cmd)
		require.NoError(t, err, "failed to run command")
		assert.Equal(t, "piped", string(result.Stdout))
	})

	t.Run("Dir", func(t *testing.T) {
		ctx := context.Background()
		shell := command.NewShellExecutor()

		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "marker"), nil, 0o600))

		result, err := shell.Execute(ctx, command.New("ls").InDir(dir))
		require.NoError(t, err, "failed to run command")
		assert.Equal(t, "marker\n", string(result.Stdout))
	})

	t.Run("Env", func(t *testing.T) {
		ctx := context.Background()
		shell := command.NewShellExecutor()

		result, err := shell.Execute(ctx, command.Shell("printf %s \"$JUDGE_VAR\"").WithEnv([]string{"JUDGE_VAR=x"}))
		require.NoError(t, err, "failed to run command")
		assert.Equal(t, "x", string(result.Stdout))
	})

	t.Run("MissingProgram", func(t *testing.T) {
		ctx := context.Background()
		shell := command.NewShellExecutor()

		_, err := shell.Execute(ctx, command.New("/nonexistent/program"))
		require.Error(t, err)
	})

	t.Run("Cancel context graceful shutdown", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond*50)
		defer cancel()

		shell := command.NewShellExecutor()

		result, err := shell.Execute(ctx, command.New("sleep", "10"))
		require.NoError(t, err, "context cancel sets return code -1")
		assert.Equal(t, -1, result.ExitCode, "context cancel sets return code to -1")
	})

	t.Run("TimeoutKillsDescendants", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		defer cancel()

		shell := command.NewShellExecutor()
		marker := filepath.Join(t.TempDir(), "marker")

		started := time.Now()
		result, err := shell.Execute(ctx, command.Shell("(sleep 1; touch '"+marker+"') & sleep 10"))
		require.NoError(t, err)
		assert.Equal(t, -1, result.ExitCode)
		assert.Less(t, time.Since(started), 5*time.Second)

		time.Sleep(1500 * time.Millisecond)
		assert.NoFileExists(t, marker, "background child outlived the timeout")
	})

	t.Run("ExitKillsLeftovers", func(t *testing.T) {
		shell := command.NewShellExecutor()
		marker := filepath.Join(t.TempDir(), "marker")

		cmd := command.Shell("(sleep 1; touch '" + marker + "') >/dev/null 2>&1 & exit 0")
		result, err := shell.Execute(context.Background(), cmd)
		require.NoError(t, err)
		assert.Zero(t, result.ExitCode)

		time.Sleep(1500 * time.Millisecond)
		assert.NoFileExists(t, marker, "background child outlived the command")
	})
}
