// Package checker runs a compiled submission against its problem's tests and lets the
// problem's active checker decide each verdict.
package checker

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/sistem/judge/cmd/judge/internal/command"
	"github.com/sistem/judge/cmd/judge/internal/compiler"
	"github.com/sistem/judge/cmd/judge/internal/models"
	"github.com/sistem/judge/cmd/judge/internal/workspace"
	"github.com/sistem/judge/internal/artifact"
	"github.com/sistem/judge/internal/audit"
	"github.com/sistem/judge/internal/logger"
	"github.com/sistem/judge/internal/notify"
	otelenv "github.com/sistem/judge/internal/otel"
	"github.com/sistem/judge/internal/types"
)

var tracer = otel.Tracer("github.com/sistem/judge/cmd/judge/internal/checker")

// The submission left CHECKING while its tests ran, e.g. an administrator rejected it
var errStatusChanged = errors.New("submission status changed during check")

// Checker diagnostics kept per test
const checkerLogLimit = 16 << 10

type Judge struct {
	db        *gorm.DB
	toolchain *compiler.Toolchain
	// Starts checker programs, which run outside the sandbox
	executor       command.Executor
	checkerTimeout time.Duration
	layout         workspace.Layout
	// nil when archiving is disabled
	archive   artifact.Store
	publisher notify.Publisher
}

func NewJudge(
	db *gorm.DB,
	toolchain *compiler.Toolchain,
	executor command.Executor,
	checkerTimeout time.Duration,
	layout workspace.Layout,
	archive artifact.Store,
	publisher notify.Publisher,
) *Judge {
	if publisher == nil {
		publisher = notify.NoopPublisher{}
	}

	return &Judge{
		db:             db,
		toolchain:      toolchain,
		executor:       executor,
		checkerTimeout: checkerTimeout,
		layout:         layout,
		archive:        archive,
		publisher:      publisher,
	}
}

// A loaded program: how to start it and where its files are
type program struct {
	compiler *compiler.Compiler
	src      string
	exe      string
}

// Judges sub, which must be CHECKING, with chk and leaves it DONE.
//
// Verdicts are data: only store and filesystem failures are returned as errors.
func (j *Judge) Check(ctx context.Context, sub *models.Submission, chk *models.Checker) error {
	ctx, span := tracer.Start(ctx, "Judge.Check", trace.WithAttributes(
		attribute.String("submission.id", sub.ID.String()),
		attribute.String("checker.id", chk.ID.String()),
	))
	defer span.End()

	log := logger.ForSubmission(sub.ID)

	problem, err := models.ByID[models.Problem](ctx, j.db, sub.ProblemID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to get problem")
		return fmt.Errorf("error getting problem %s: %w", sub.ProblemID, err)
	}

	candidate, cleanupCandidate, err := j.prepare(
		ctx,
		sub.CompilerID,
		sub.Source,
		j.layout.SubmissionExecutable(sub.ID),
		artifact.KindSubmission,
		sub.ExecutableDigest,
		func(lang string) string { return j.layout.SubmissionSource(sub.ID, lang) },
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to prepare submission")
		return err
	}
	defer cleanupCandidate()

	judge, cleanupChecker, err := j.prepare(
		ctx,
		chk.CompilerID,
		chk.Source,
		j.layout.CheckerExecutable(chk.ID),
		artifact.KindChecker,
		chk.ExecutableDigest,
		func(lang string) string { return j.layout.CheckerRunSource(chk.ID, sub.ID, lang) },
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to prepare checker")
		return err
	}
	defer cleanupChecker()

	if err := models.DeleteSubmissionLogs(ctx, j.db, sub.ID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to clear previous logs")
		return err
	}

	groups, err := models.TestGroupsFor(ctx, j.db, problem.ID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to list test groups")
		return err
	}

	card := &scorecard{}
	for _, group := range groups {
		passed, err := j.checkGroup(ctx, sub, problem, &group, candidate, judge, card)
		if errors.Is(err, errStatusChanged) {
			log.WarnContext(ctx, "status changed during check, stopping")
			span.AddEvent("status_changed")
			span.RecordError(nil)
			span.SetStatus(codes.Ok, "status changed during check")
			return nil
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to check group")
			return err
		}

		if !passed {
			span.AddEvent("group_failed", trace.WithAttributes(
				attribute.String("group.id", group.ID.String()),
			))
			break
		}

		card.score += group.Score
	}

	result := card.result()
	finished, err := models.TransitionStatus[models.Submission](
		ctx,
		j.db,
		sub.ID,
		[]types.Status{types.StatusChecking},
		map[string]any{
			"status":          types.StatusDone,
			"result":          result,
			"score":           card.score,
			"current_test_id": nil,
		},
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to store verdict")
		return err
	}
	if !finished {
		log.WarnContext(ctx, "status changed during check, discarding verdict")
		span.AddEvent("status_changed")
		span.RecordError(nil)
		span.SetStatus(codes.Ok, "status changed during check")
		return nil
	}

	log.InfoContext(ctx, "judged", "result", result, "score", card.score)
	audit.LogSubmissionJudged(auditContext(sub), sub.ID.String(), types.StatusDone, result, card.score)
	j.publish(ctx, sub, types.StatusDone, result, card.score, nil)

	span.SetAttributes(attribute.String("result", string(result)), attribute.Int("score", card.score))
	span.RecordError(nil)
	span.SetStatus(codes.Ok, "checked submission")
	return nil
}

// Runs the tests of one group. Returns whether every test that ran passed.
func (j *Judge) checkGroup(
	ctx context.Context,
	sub *models.Submission,
	problem *models.Problem,
	group *models.TestGroup,
	candidate, judge *program,
	card *scorecard,
) (bool, error) {
	ctx, span := tracer.Start(ctx, "Judge.checkGroup", trace.WithAttributes(
		attribute.String("group.id", group.ID.String()),
		attribute.Bool("checkAll", group.CheckAll),
	))
	defer span.End()

	pairs, err := models.TestPairsFor(ctx, j.db, group.ID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to list test pairs")
		return false, err
	}

	checking := []types.Status{types.StatusChecking}
	passed := true
	for _, pair := range pairs {
		current, err := models.TransitionStatus[models.Submission](ctx, j.db, sub.ID, checking, map[string]any{
			"current_test_id": pair.ID,
			"score":           card.score,
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to set current test")
			return false, err
		}
		if !current {
			span.RecordError(nil)
			span.SetStatus(codes.Ok, "status changed before test")
			return false, errStatusChanged
		}
		j.publish(ctx, sub, types.StatusChecking, types.ResultUnknown, card.score, &pair.ID)

		entry := j.checkPair(ctx, sub.ID, problem, &pair, candidate, judge)
		stored, err := models.AppendSubmissionLog(ctx, j.db, entry, checking)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to store test log")
			return false, err
		}
		if !stored {
			span.RecordError(nil)
			span.SetStatus(codes.Ok, "status changed during test")
			return false, errStatusChanged
		}

		card.record(entry.Result, group.ScorePerTest)

		if entry.Result != types.ResultOK {
			passed = false
			if !group.CheckAll {
				span.AddEvent("short_circuit", trace.WithAttributes(
					attribute.String("pair.id", pair.ID.String()),
				))
				break
			}
		}
	}

	span.SetAttributes(attribute.Bool("passed", passed))
	span.RecordError(nil)
	span.SetStatus(codes.Ok, "checked group")
	return passed, nil
}

// Runs the candidate on one test and, if the sandbox flagged nothing, asks the checker
func (j *Judge) checkPair(
	ctx context.Context,
	submissionID uuid.UUID,
	problem *models.Problem,
	pair *models.TestPair,
	candidate, judge *program,
) *models.SubmissionLog {
	ctx, span := tracer.Start(ctx, "Judge.checkPair", trace.WithAttributes(
		attribute.String("pair.id", pair.ID.String()),
	))
	defer span.End()

	entry := &models.SubmissionLog{
		SubmissionID: submissionID,
		TestPairID:   pair.ID,
		Stdout:       []byte{},
	}

	run, err := candidate.compiler.Run(
		ctx,
		candidate.exe,
		candidate.src,
		problem.TimeLimitMs,
		problem.MemoryLimitKiB,
		pair.Input,
	)
	if err != nil {
		logger.ForSubmission(submissionID).ErrorContext(ctx, "sandbox failed", "pair", pair.ID.String(), "error", err)
		entry.Result = types.ResultIE
		entry.Log = fmt.Sprintf("failed to run in sandbox: %s", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to run candidate")
		return entry
	}

	entry.Stdout = run.Stdout
	entry.Result = run.Status.Result()
	if entry.Result != types.ResultOK {
		span.SetAttributes(attribute.String("result", string(entry.Result)))
		span.RecordError(nil)
		span.SetStatus(codes.Ok, "runtime verdict")
		return entry
	}

	entry.Result, entry.Log = j.runChecker(ctx, submissionID, pair, run.Stdout, judge)

	span.SetAttributes(attribute.String("result", string(entry.Result)))
	span.RecordError(nil)
	span.SetStatus(codes.Ok, "checked pair")
	return entry
}

// Invokes the checker as `checker <input> <output> <pattern>`
func (j *Judge) runChecker(
	ctx context.Context,
	submissionID uuid.UUID,
	pair *models.TestPair,
	output []byte,
	judge *program,
) (types.Result, string) {
	ctx, span := tracer.Start(ctx, "Judge.runChecker")
	defer span.End()

	files := j.layout.CheckerFiles(submissionID, pair.ID)
	defer workspace.Remove(ctx, files.Input, files.Output, files.Pattern)

	for path, body := range map[string][]byte{
		files.Input:   pair.Input,
		files.Output:  output,
		files.Pattern: pair.Pattern,
	} {
		if err := os.WriteFile(path, body, 0o600); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to write checker file")
			return types.ResultIE, fmt.Sprintf("failed to write checker input: %s", err)
		}
	}

	argv, err := judge.compiler.Command(judge.src, judge.exe, files.Input, files.Output, files.Pattern)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to build checker command")
		return types.ResultIE, err.Error()
	}

	ctx, cancel := context.WithTimeout(ctx, j.checkerTimeout)
	defer cancel()

	cmd := command.New(argv[0], argv[1:]...).WithEnv(otelenv.ChildEnviron(ctx))
	cmd.MergeStderr = true
	cmd.OutputLimit = checkerLogLimit

	result, err := j.executor.Execute(ctx, cmd)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to start checker")
		return types.ResultIE, fmt.Sprintf("failed to start checker: %s", err)
	}

	diagnostic := string(result.Stdout)
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		span.AddEvent("checker_timeout")
		span.RecordError(nil)
		span.SetStatus(codes.Ok, "checker timed out")
		return types.ResultIE, diagnostic + fmt.Sprintf("\nChecker time limit exceeded (%s)\n", j.checkerTimeout)
	}

	verdict := resultFromExitCode(result.ExitCode)
	span.SetAttributes(attribute.Int("exitCode", result.ExitCode), attribute.String("result", string(verdict)))
	span.RecordError(nil)
	span.SetStatus(codes.Ok, "ran checker")
	return verdict, diagnostic
}

// Loads the program's compiler and makes sure whatever it runs from exists on this host.
// Interpreted programs get their source written out, compiled ones are restored from the
// archive when this host did not compile them. The returned func removes what was written.
func (j *Judge) prepare(
	ctx context.Context,
	compilerID uuid.UUID,
	source string,
	exe string,
	kind artifact.Kind,
	digest datatypes.Null[string],
	srcPath func(lang string) string,
) (*program, func(), error) {
	row, err := models.ByID[models.Compiler](ctx, j.db, compilerID)
	if err != nil {
		return nil, nil, fmt.Errorf("error getting compiler %s: %w", compilerID, err)
	}

	c, err := j.toolchain.Load(row)
	if err != nil {
		return nil, nil, err
	}

	p := &program{compiler: c, src: srcPath(c.Lang), exe: exe}

	if !c.Builds() {
		//nolint:gosec // G306: interpreted programs are read by the interpreter inside the sandbox
		if err := os.WriteFile(p.src, []byte(source), 0o644); err != nil {
			return nil, nil, fmt.Errorf("error writing source: %w", err)
		}

		return p, func() { workspace.Remove(ctx, p.src) }, nil
	}

	j.restore(ctx, kind, digest, exe)
	return p, func() {}, nil
}

// Best effort: a missing executable surfaces as a verdict of the first test
func (j *Judge) restore(ctx context.Context, kind artifact.Kind, digest datatypes.Null[string], exe string) {
	if _, err := os.Stat(exe); !errors.Is(err, fs.ErrNotExist) {
		return
	}
	if j.archive == nil || !digest.Valid {
		return
	}

	if err := artifact.RestoreExecutable(ctx, j.archive, kind, digest.V, exe); err != nil {
		logger.Logger.WarnContext(ctx, "failed to restore executable", "path", exe, "error", err)
	}
}

func (j *Judge) publish(
	ctx context.Context,
	sub *models.Submission,
	status types.Status,
	result types.Result,
	score int,
	currentTest *uuid.UUID,
) {
	evt := notify.Event{
		SubmissionID: sub.ID.String(),
		ProblemID:    sub.ProblemID.String(),
		Status:       status,
		Result:       result,
		Score:        score,
	}
	if currentTest != nil {
		evt.CurrentTestID = currentTest.String()
	}

	if err := j.publisher.Publish(ctx, evt); err != nil {
		logger.ForSubmission(sub.ID).WarnContext(ctx, "failed to publish status", "error", err)
	}
}

func auditContext(sub *models.Submission) audit.Context {
	userID := sub.UserID.String()
	return audit.Context{UserID: &userID, ProblemID: sub.ProblemID.String()}
}
