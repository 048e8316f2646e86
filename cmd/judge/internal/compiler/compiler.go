package compiler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/sistem/judge/cmd/judge/internal/command"
	"github.com/sistem/judge/cmd/judge/internal/models"
	"github.com/sistem/judge/cmd/judge/internal/sandbox"
	"github.com/sistem/judge/internal/cmdtemplate"
	"github.com/sistem/judge/internal/hash"
	otelenv "github.com/sistem/judge/internal/otel"
)

var tracer = otel.Tracer("github.com/sistem/judge/cmd/judge/internal/compiler")

// Bytes of compiler output kept in the compile log
const compileLogLimit = 64 << 10

// Host side of every compiler: how processes are started and where toolchains are searched
type Toolchain struct {
	executor       command.Executor
	runner         sandbox.Runner
	compileTimeout time.Duration
	pathExtra      []string
}

func NewToolchain(
	executor command.Executor,
	runner sandbox.Runner,
	compileTimeout time.Duration,
	pathExtra []string,
) *Toolchain {
	return &Toolchain{
		executor:       executor,
		runner:         runner,
		compileTimeout: compileTimeout,
		pathExtra:      pathExtra,
	}
}

// A compiler row with its templates parsed
type Compiler struct {
	ID         uuid.UUID
	Name       string
	Lang       string
	Executable string

	build     cmdtemplate.Template
	run       cmdtemplate.Template
	toolchain *Toolchain
}

func (t *Toolchain) Load(row *models.Compiler) (*Compiler, error) {
	build, err := cmdtemplate.Parse(row.BuildTemplate)
	if err != nil {
		return nil, fmt.Errorf("compiler %s build template: %w", row.ID, err)
	}

	run, err := cmdtemplate.ParseRun(row.RunTemplate)
	if err != nil {
		return nil, fmt.Errorf("compiler %s run template: %w", row.ID, err)
	}

	return &Compiler{
		ID:         row.ID,
		Name:       row.Name,
		Lang:       row.Lang,
		Executable: row.Executable,
		build:      build,
		run:        run,
		toolchain:  t,
	}, nil
}

// Compiles src into exe. Never fails with an error: problems starting the compiler and timeouts
// end up in the returned log.
func (c *Compiler) Compile(ctx context.Context, src, exe string) (bool, string) {
	ctx, span := tracer.Start(ctx, "Compiler.Compile", trace.WithAttributes(
		attribute.String("compiler.id", c.ID.String()),
		attribute.String("src", src),
		attribute.String("exe", exe),
	))
	defer span.End()

	if c.build.Empty() {
		span.AddEvent("nothing_to_build")
		span.RecordError(nil)
		span.SetStatus(codes.Ok, "nothing to build")
		return true, ""
	}

	ctx, cancel := context.WithTimeout(ctx, c.toolchain.compileTimeout)
	defer cancel()

	cmd := command.Shell(c.build.Expand(src, exe)).WithEnv(c.toolchain.environ(ctx))
	cmd.MergeStderr = true
	cmd.OutputLimit = compileLogLimit

	result, err := c.toolchain.executor.Execute(ctx, cmd)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to start compiler")
		return false, fmt.Sprintf("failed to start compiler: %s", err)
	}

	log := string(result.Stdout)
	if result.Truncated {
		log += "\n[compiler output truncated]\n"
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		span.AddEvent("compile_timeout")
		span.RecordError(nil)
		span.SetStatus(codes.Ok, "compile timed out")
		return false, log + fmt.Sprintf("\nCompilation time limit exceeded (%s)\n", c.toolchain.compileTimeout)
	}

	success := result.ExitCode == 0
	span.SetAttributes(attribute.Int("exitCode", result.ExitCode), attribute.Bool("success", success))
	span.RecordError(nil)
	span.SetStatus(codes.Ok, "compiled")
	return success, log
}

// Runs a compiled program in the sandbox
func (c *Compiler) Run(
	ctx context.Context,
	exe, src string,
	timeLimitMs, memoryLimitKiB int,
	stdin []byte,
) (*sandbox.Result, error) {
	ctx, span := tracer.Start(ctx, "Compiler.Run", trace.WithAttributes(
		attribute.String("compiler.id", c.ID.String()),
		attribute.String("exe", exe),
	))
	defer span.End()

	argv, err := c.run.Argv(src, exe)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to expand run template")
		return nil, err
	}

	result, err := c.toolchain.runner.Execute(ctx, &sandbox.Request{
		Argv:           argv,
		TimeLimitMs:    timeLimitMs,
		MemoryLimitKiB: memoryLimitKiB,
		Stdin:          stdin,
		Key:            hash.RunKey(exe, c.ID),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to run in sandbox")
		return nil, err
	}

	span.SetAttributes(attribute.String("status", result.Status.String()))
	span.RecordError(nil)
	span.SetStatus(codes.Ok, "ran")
	return result, nil
}

// Run command line followed by args, for programs started outside the sandbox
func (c *Compiler) Command(src, exe string, args ...string) ([]string, error) {
	argv, err := c.run.Argv(src, exe)
	if err != nil {
		return nil, err
	}

	return append(argv, args...), nil
}

// Whether the compiler's executable can be found on this host
func (c *Compiler) IsAvailable() bool {
	_, ok := c.toolchain.LookPath(c.Executable)
	return ok
}

// Compiled languages produce an executable, interpreted ones run their source. A build command that
// never mentions %exe% is only a syntax check and the source still runs.
func (c *Compiler) Builds() bool {
	return c.build.Uses(cmdtemplate.Executable)
}

// Resolves name against PATH and the extra search directories
func (t *Toolchain) LookPath(name string) (string, bool) {
	if name == "" {
		return "", false
	}

	if strings.ContainsRune(name, filepath.Separator) {
		return name, isExecutable(name)
	}

	for _, dir := range t.searchPath() {
		if dir == "" {
			continue
		}

		candidate := filepath.Join(dir, name)
		if isExecutable(candidate) {
			return candidate, true
		}
	}

	return "", false
}

func (t *Toolchain) searchPath() []string {
	return append(filepath.SplitList(os.Getenv("PATH")), t.pathExtra...)
}

// Child process environment: PATH extended with the extra directories plus the trace context
func (t *Toolchain) environ(ctx context.Context) []string {
	env := otelenv.ChildEnviron(ctx)
	if len(t.pathExtra) == 0 {
		return env
	}

	path := strings.Join(t.searchPath(), string(os.PathListSeparator))
	out := make([]string, 0, len(env)+1)
	for _, kv := range env {
		if !strings.HasPrefix(kv, "PATH=") {
			out = append(out, kv)
		}
	}

	return append(out, "PATH="+path)
}

func isExecutable(path string) bool {
	stat, err := os.Stat(path)
	if err != nil {
		return false
	}

	return stat.Mode().IsRegular() && stat.Mode().Perm()&0o111 != 0
}
