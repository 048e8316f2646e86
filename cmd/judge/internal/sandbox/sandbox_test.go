package sandbox_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/sistem/judge/cmd/judge/internal/command"
	mockexecutor "github.com/sistem/judge/cmd/judge/internal/command/mock"
	"github.com/sistem/judge/cmd/judge/internal/sandbox"
	"github.com/sistem/judge/cmd/judge/internal/workspace"
)

// Minimal stand-in for the isolation runner: feeds the input file, captures stdout and
// reports the exit code of the wrapped command as the status
const fakeRunner = `#!/bin/sh
input="$3"
output="$4"
shift 4
"$@" < "$input" > "$output"
`

func writeRunner(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "runsbox")
	require.NoError(t, os.WriteFile(p, []byte(fakeRunner), 0o755))
	return p
}

func scratchEmpty(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "scratch files left behind")
}

func TestExecuteWithRunner(t *testing.T) {
	layout := workspace.Layout{TempDir: t.TempDir()}
	sbox := sandbox.New(command.NewShellExecutor(), writeRunner(t), layout)

	t.Run("EchoesInput", func(t *testing.T) {
		result, err := sbox.Execute(context.Background(), &sandbox.Request{
			Argv:           []string{"cat"},
			TimeLimitMs:    1000,
			MemoryLimitKiB: 65536,
			Stdin:          []byte("1 2\n"),
			Key:            "echo",
		})
		require.NoError(t, err)

		assert.Equal(t, sandbox.Status(0), result.Status)
		assert.Equal(t, "1 2\n", string(result.Stdout))
		scratchEmpty(t, layout.TempDir)
	})

	t.Run("RuntimeErrorBit", func(t *testing.T) {
		result, err := sbox.Execute(context.Background(), &sandbox.Request{
			Argv: []string{"sh", "-c", "exit 2"},
			Key:  "re",
		})
		require.NoError(t, err)

		assert.Equal(t, sandbox.StatusRuntimeError, result.Status)
		assert.Equal(t, "re", string(result.Status.Result()))
		scratchEmpty(t, layout.TempDir)
	})
}

func TestExecuteArguments(t *testing.T) {
	ctrl := gomock.NewController(t)
	executor := mockexecutor.NewMockExecutor(ctrl)

	layout := workspace.Layout{TempDir: t.TempDir(), SandboxDir: t.TempDir()}
	sbox := sandbox.New(executor, "runsbox", layout)

	executor.EXPECT().
		Execute(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, cmd *command.Command) (*command.Result, error) {
			assert.Equal(t, "runsbox", cmd.Program)
			assert.Equal(t, layout.SandboxDir, cmd.Dir)
			require.Len(t, cmd.Args, 6)
			assert.Equal(t, "250", cmd.Args[0])
			assert.Equal(t, "1024", cmd.Args[1])
			assert.Equal(t, filepath.Join(layout.TempDir, "judge_run_input_key"), cmd.Args[2])
			assert.Equal(t, filepath.Join(layout.TempDir, "judge_run_output_key"), cmd.Args[3])
			assert.Equal(t, []string{"/bin/prog", "arg"}, cmd.Args[4:])

			input, err := os.ReadFile(cmd.Args[2])
			require.NoError(t, err)
			assert.Equal(t, "stdin", string(input))

			require.NoError(t, os.WriteFile(cmd.Args[3], []byte("stdout"), 0o600))
			return &command.Result{ExitCode: 1, Stderr: []byte("stderr")}, nil
		})

	result, err := sbox.Execute(context.Background(), &sandbox.Request{
		Argv:           []string{"/bin/prog", "arg"},
		TimeLimitMs:    250,
		MemoryLimitKiB: 1024,
		Stdin:          []byte("stdin"),
		Key:            "key",
	})
	require.NoError(t, err)

	assert.Equal(t, sandbox.StatusTimeLimit, result.Status)
	assert.Equal(t, "stdout", string(result.Stdout))
	assert.Equal(t, "stderr", string(result.Stderr))
	scratchEmpty(t, layout.TempDir)
}

func TestExecuteNoOutputFile(t *testing.T) {
	ctrl := gomock.NewController(t)
	executor := mockexecutor.NewMockExecutor(ctrl)

	layout := workspace.Layout{TempDir: t.TempDir()}
	sbox := sandbox.New(executor, "runsbox", layout)

	executor.EXPECT().
		Execute(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, cmd *command.Command) (*command.Result, error) {
			assert.Empty(t, cmd.Dir, "missing sandbox dir must not be used")
			return &command.Result{ExitCode: -1}, nil
		})

	result, err := sbox.Execute(context.Background(), &sandbox.Request{Argv: []string{"prog"}, Key: "k"})
	require.NoError(t, err)

	assert.Equal(t, sandbox.StatusInternalError, result.Status)
	assert.Empty(t, result.Stdout)
}

func TestExecuteExecutorError(t *testing.T) {
	ctrl := gomock.NewController(t)
	executor := mockexecutor.NewMockExecutor(ctrl)

	layout := workspace.Layout{TempDir: t.TempDir()}
	sbox := sandbox.New(executor, "runsbox", layout)

	executor.EXPECT().Execute(gomock.Any(), gomock.Any()).Return(nil, errors.New("exec: runsbox not found"))

	_, err := sbox.Execute(context.Background(), &sandbox.Request{Argv: []string{"prog"}, Key: "k"})
	require.Error(t, err)
	scratchEmpty(t, layout.TempDir)
}

func TestExecuteEmptyArgv(t *testing.T) {
	ctrl := gomock.NewController(t)
	sbox := sandbox.New(mockexecutor.NewMockExecutor(ctrl), "runsbox", workspace.Layout{TempDir: t.TempDir()})

	_, err := sbox.Execute(context.Background(), &sandbox.Request{Key: "k"})
	require.Error(t, err)
}
