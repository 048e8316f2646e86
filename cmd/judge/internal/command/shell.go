package command

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"os/exec"
	"syscall"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/sistem/judge/internal/logger"
)

var _ Executor = (*ShellExecutor)(nil)

// Runs commands as child processes of the judge
type ShellExecutor struct{}

func NewShellExecutor() *ShellExecutor {
	return &ShellExecutor{}
}

// Keeps the first limit bytes written to it and drops the rest
type cappedBuffer struct {
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	if b.limit <= 0 {
		return b.buf.Write(p)
	}

	room := b.limit - b.buf.Len()
	if room < len(p) {
		b.truncated = true
		if room > 0 {
			b.buf.Write(p[:room])
		}
		return len(p), nil
	}

	return b.buf.Write(p)
}

func (b *cappedBuffer) Bytes() []byte {
	return b.buf.Bytes()
}

// Kills the process group led by cmd, reaching every descendant that has not moved to a group of its own
func killGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}

	err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	if errors.Is(err, syscall.ESRCH) {
		return nil
	}
	return err
}

func logOutput(ctx context.Context, stream string, out []byte) {
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		logger.Logger.DebugContext(ctx, stream, "line", scanner.Text())
	}
}

// A cancelled or expired context kills the process and reports exit code -1 without an error.
// Only failures to start the process are returned as errors.
func (*ShellExecutor) Execute(ctx context.Context, command *Command) (*Result, error) {
	ctx, span := tracer.Start(ctx, "ShellExecutor.Execute", trace.WithAttributes(
		attribute.String("program", command.Program),
		attribute.StringSlice("args", command.Args),
		attribute.String("dir", command.Dir),
	))
	defer span.End()

	stdout := &cappedBuffer{limit: command.OutputLimit}
	stderr := &cappedBuffer{limit: command.OutputLimit}

	//nolint:gosec // G204: commands come from administrator configured templates
	cmd := exec.CommandContext(ctx, command.Program, command.Args...)
	cmd.Stdin = command.Stdin
	cmd.Dir = command.Dir
	cmd.Env = command.Env
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	if command.MergeStderr {
		cmd.Stderr = stdout
	}
	// own process group, so a timeout also stops whatever `sh -c` or the compiler spawned
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error { return killGroup(cmd) }
	// compilers may leave grandchildren holding the pipes open after a kill
	cmd.WaitDelay = time.Second

	err := cmd.Run()
	// background leftovers of a command that exited by itself
	if kerr := killGroup(cmd); kerr != nil {
		logger.Logger.DebugContext(ctx, "failed to kill process group", "error", kerr)
	}
	if err != nil {
		var ee *exec.ExitError
		if !errors.As(err, &ee) && cmd.ProcessState == nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to start command")
			return nil, err
		}
	}

	logOutput(ctx, "stdout", stdout.Bytes())
	logOutput(ctx, "stderr", stderr.Bytes())

	result := &Result{
		Cmd:       append([]string{command.Program}, command.Args...),
		Stdout:    stdout.Bytes(),
		Stderr:    stderr.Bytes(),
		ExitCode:  cmd.ProcessState.ExitCode(),
		Truncated: stdout.truncated || stderr.truncated,
	}

	span.AddEvent("executed", trace.WithAttributes(
		attribute.Int("exitCode", result.ExitCode),
		attribute.Bool("truncated", result.Truncated),
	))
	span.RecordError(nil)
	span.SetStatus(codes.Ok, "executed command")
	return result, nil
}
