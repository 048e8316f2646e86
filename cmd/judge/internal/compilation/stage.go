// Package compilation turns the source of a submission or checker into an executable and moves
// the entity through CWAIT → COMPILING → {WAIT | DONE | COMPILEFAIL}.
package compilation

import (
	"context"
	"fmt"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/sistem/judge/cmd/judge/internal/compiler"
	"github.com/sistem/judge/cmd/judge/internal/models"
	"github.com/sistem/judge/cmd/judge/internal/workspace"
	"github.com/sistem/judge/internal/artifact"
	"github.com/sistem/judge/internal/audit"
	"github.com/sistem/judge/internal/hash"
	"github.com/sistem/judge/internal/judgeerrors"
	"github.com/sistem/judge/internal/logger"
	"github.com/sistem/judge/internal/notify"
	"github.com/sistem/judge/internal/types"
)

var tracer = otel.Tracer("github.com/sistem/judge/cmd/judge/internal/compilation")

type Stage struct {
	db        *gorm.DB
	toolchain *compiler.Toolchain
	layout    workspace.Layout
	// nil when archiving is disabled
	archive   artifact.Store
	publisher notify.Publisher
}

func NewStage(
	db *gorm.DB,
	toolchain *compiler.Toolchain,
	layout workspace.Layout,
	archive artifact.Store,
	publisher notify.Publisher,
) *Stage {
	if publisher == nil {
		publisher = notify.NoopPublisher{}
	}

	return &Stage{
		db:        db,
		toolchain: toolchain,
		layout:    layout,
		archive:   archive,
		publisher: publisher,
	}
}

// Compiles target and persists the outcome.
//
// Returns [judgeerrors.ErrNotCompilable] without doing anything when the target is not in a
// compilable status, e.g. because another caller is already compiling it. A failed compilation
// is not an error: it returns false and the log is stored on the target.
func (s *Stage) Compile(ctx context.Context, target Target) (bool, error) {
	ctx, span := tracer.Start(ctx, "Stage.Compile", trace.WithAttributes(
		attribute.String("entity", string(target.Entity)),
		attribute.String("id", target.ID.String()),
	))
	defer span.End()

	log := logger.Logger.With("entity", string(target.Entity), "id", target.ID.String())

	row, err := models.ByID[models.Compiler](ctx, s.db, target.CompilerID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to get compiler")
		return false, fmt.Errorf("error getting compiler %s: %w", target.CompilerID, err)
	}

	c, err := s.toolchain.Load(row)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to load compiler")
		return false, err
	}

	claimed, err := s.transition(ctx, target, types.CompilableStatuses, map[string]any{
		"status": types.StatusCompiling,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to set compiling status")
		return false, err
	}
	if !claimed {
		span.AddEvent("not_compilable")
		span.RecordError(nil)
		span.SetStatus(codes.Ok, "target is not compilable")
		return false, judgeerrors.ErrNotCompilable
	}

	s.publish(ctx, target, types.StatusCompiling)

	src, exe := s.paths(target, c.Lang)
	if !target.isChecker() {
		workspace.Remove(ctx, exe)
	}

	ok, compileLog := s.build(ctx, c, target, src, exe)
	log.InfoContext(ctx, "compiled", "success", ok)

	updates := map[string]any{
		"status":      types.StatusCompileFail,
		"compile_log": compileLog,
	}
	if ok {
		updates["status"] = target.compiledStatus()
		updates["executable_digest"] = s.archiveExecutable(ctx, c, target, exe)
	}

	finished, err := s.transition(ctx, target, []types.Status{types.StatusCompiling}, updates)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to store compile result")
		return false, err
	}
	if !finished {
		// overridden while compiling, e.g. rejected
		log.WarnContext(ctx, "status changed during compilation, discarding result")
		span.AddEvent("status_changed")
		span.RecordError(nil)
		span.SetStatus(codes.Ok, "status changed during compilation")
		return false, fmt.Errorf("%w: status changed during compilation", judgeerrors.ErrNotCompilable)
	}

	audit.LogCompileFinished(target.auditContext(), target.Entity, target.ID.String(), ok)
	s.publish(ctx, target, updates["status"].(types.Status))

	if ok && target.isChecker() {
		s.promote(ctx, target)
	}

	span.SetAttributes(attribute.Bool("success", ok))
	span.RecordError(nil)
	span.SetStatus(codes.Ok, "compiled target")
	return ok, nil
}

// Writes the scratch source, runs the compiler and removes the source again
func (s *Stage) build(
	ctx context.Context,
	c *compiler.Compiler,
	target Target,
	src, exe string,
) (bool, string) {
	ctx, span := tracer.Start(ctx, "Stage.build", trace.WithAttributes(
		attribute.String("src", src),
		attribute.String("exe", exe),
	))
	defer span.End()

	defer workspace.Remove(ctx, src)

	//nolint:gosec // G306: the sandboxed program may need to read its own source
	if err := os.WriteFile(src, []byte(target.Source), 0o644); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to write source")
		return false, fmt.Sprintf("failed to write source: %s", err)
	}

	ok, compileLog := c.Compile(ctx, src, exe)

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "ran compiler")
	return ok, compileLog
}

// Uploads the fresh executable when archiving is enabled. Failures only lose the archive copy.
func (s *Stage) archiveExecutable(
	ctx context.Context,
	c *compiler.Compiler,
	target Target,
	exe string,
) *string {
	if s.archive == nil || !c.Builds() {
		return nil
	}

	digest, err := artifact.ArchiveExecutable(ctx, s.archive, target.artifactKind(), exe)
	if err != nil {
		logger.Logger.WarnContext(ctx, "failed to archive executable", "id", target.ID.String(), "error", err)
		return nil
	}

	logger.Logger.DebugContext(ctx, "archived executable", "id", target.ID.String(), "digest", hash.Digest(digest).Short())
	return &digest
}

func (s *Stage) promote(ctx context.Context, target Target) {
	demoted, err := models.PromoteChecker(ctx, s.db, target.ID)
	if err != nil {
		logger.ForChecker(target.ID).WarnContext(ctx, "failed to promote compiled checker", "error", err)
		return
	}

	var demotedID *string
	if demoted != nil {
		id := demoted.String()
		demotedID = &id
	}

	audit.LogCheckerPromoted(target.auditContext(), target.ID.String(), demotedID)
}

func (s *Stage) paths(target Target, lang string) (string, string) {
	if target.isChecker() {
		return s.layout.CheckerSource(target.ID, lang), s.layout.CheckerExecutable(target.ID)
	}

	return s.layout.SubmissionSource(target.ID, lang), s.layout.SubmissionExecutable(target.ID)
}

func (s *Stage) transition(
	ctx context.Context,
	target Target,
	from []types.Status,
	updates map[string]any,
) (bool, error) {
	if target.isChecker() {
		return models.TransitionStatus[models.Checker](ctx, s.db, target.ID, from, updates)
	}

	return models.TransitionStatus[models.Submission](ctx, s.db, target.ID, from, updates)
}

// Only submissions have observers
func (s *Stage) publish(ctx context.Context, target Target, status types.Status) {
	if target.isChecker() {
		return
	}

	err := s.publisher.Publish(ctx, notify.Event{
		SubmissionID: target.ID.String(),
		ProblemID:    target.ProblemID.String(),
		Status:       status,
		Result:       types.ResultUnknown,
	})
	if err != nil {
		logger.ForSubmission(target.ID).WarnContext(ctx, "failed to publish status", "error", err)
	}
}
