package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/sistem/judge/cmd/judge/internal/command"
	"github.com/sistem/judge/cmd/judge/internal/workspace"
)

var tracer = otel.Tracer("github.com/sistem/judge/cmd/judge/internal/sandbox")

type Request struct {
	// Fully substituted run command
	Argv           []string
	TimeLimitMs    int
	MemoryLimitKiB int
	Stdin          []byte
	// Unique per concurrently running request, used to name the scratch files
	Key string
}

type Result struct {
	Status Status
	Stdout []byte
	Stderr []byte
}

//go:generate mockgen -destination ./mock/mock.go -package mock . Runner

type Runner interface {
	Execute(ctx context.Context, req *Request) (*Result, error)
}

var _ Runner = (*Sandbox)(nil)

// Adapter around the external isolation runner:
//
//	<binary> <time-limit-ms> <memory-limit-kib> <stdin-file> <stdout-file> <command...>
type Sandbox struct {
	executor command.Executor
	binary   string
	layout   workspace.Layout
}

func New(executor command.Executor, binary string, layout workspace.Layout) *Sandbox {
	return &Sandbox{
		executor: executor,
		binary:   binary,
		layout:   layout,
	}
}

func (s *Sandbox) Execute(ctx context.Context, req *Request) (*Result, error) {
	ctx, span := tracer.Start(ctx, "Sandbox.Execute", trace.WithAttributes(
		attribute.StringSlice("argv", req.Argv),
		attribute.Int("timeLimitMs", req.TimeLimitMs),
		attribute.Int("memoryLimitKiB", req.MemoryLimitKiB),
		attribute.String("key", req.Key),
	))
	defer span.End()

	if len(req.Argv) == 0 {
		err := errors.New("empty command")
		span.RecordError(err)
		span.SetStatus(codes.Error, "nothing to run")
		return nil, err
	}

	inputPath := filepath.Join(s.layout.TempDir, "judge_run_input_"+req.Key)
	outputPath := filepath.Join(s.layout.TempDir, "judge_run_output_"+req.Key)
	defer workspace.Remove(ctx, inputPath, outputPath)

	if err := os.WriteFile(inputPath, req.Stdin, 0o644); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to write input file")
		return nil, fmt.Errorf("error writing sandbox input: %w", err)
	}

	args := make([]string, 0, len(req.Argv)+4)
	args = append(args,
		strconv.Itoa(req.TimeLimitMs),
		strconv.Itoa(req.MemoryLimitKiB),
		inputPath,
		outputPath,
	)
	args = append(args, req.Argv...)

	cmd := command.New(s.binary, args...).InDir(s.layout.RunDir())

	result, err := s.executor.Execute(ctx, cmd)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to start sandbox")
		return nil, fmt.Errorf("error running sandbox: %w", err)
	}

	status := statusFromExitCode(result.ExitCode)
	span.AddEvent("sandbox_exited", trace.WithAttributes(
		attribute.Int("exitCode", result.ExitCode),
		attribute.String("status", status.String()),
	))

	stdout, err := os.ReadFile(outputPath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to read output file")
			return nil, fmt.Errorf("error reading sandbox output: %w", err)
		}
		stdout = []byte{}
	}

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "ran in sandbox")
	return &Result{
		Status: status,
		Stdout: stdout,
		Stderr: result.Stderr,
	}, nil
}
