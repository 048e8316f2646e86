package command

import (
	"context"
	"io"

	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("github.com/sistem/judge/cmd/judge/internal/command")

type Result struct {
	Cmd    []string
	Stdout []byte
	// Empty when the command was run with MergeStderr
	Stderr   []byte
	ExitCode int
	// Output went past Command.OutputLimit and was cut
	Truncated bool
}

type Command struct {
	Stdin   io.Reader
	Program string
	Args    []string
	// Working directory, inherited when empty
	Dir string
	// Full environment, inherited when nil
	Env []string
	// Capture stderr interleaved into Stdout
	MergeStderr bool
	// Bytes kept per stream, unlimited when 0
	OutputLimit int
}

func New(program string, args ...string) *Command {
	return &Command{
		Program: program,
		Args:    args,
	}
}

// Runs a shell snippet through sh -c
func Shell(script string) *Command {
	return New("sh", "-c", script)
}

func (c *Command) InDir(dir string) *Command {
	c.Dir = dir
	return c
}

func (c *Command) WithEnv(env []string) *Command {
	c.Env = env
	return c
}

//go:generate mockgen -destination ./mock/mock.go -package mock . Executor

type Executor interface {
	Execute(ctx context.Context, cmd *Command) (*Result, error)
}
