// Package pipeline is the entry point for everything that happens to a submission:
// creation, compilation, checking and administrative overrides.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/sistem/judge/cmd/judge/internal/checker"
	"github.com/sistem/judge/cmd/judge/internal/compilation"
	"github.com/sistem/judge/cmd/judge/internal/models"
	"github.com/sistem/judge/internal/audit"
	"github.com/sistem/judge/internal/hash"
	"github.com/sistem/judge/internal/identifier"
	"github.com/sistem/judge/internal/judgeerrors"
	"github.com/sistem/judge/internal/types"
)

var tracer = otel.Tracer("github.com/sistem/judge/cmd/judge/internal/pipeline")

type Pipeline struct {
	db    *gorm.DB
	stage *compilation.Stage
	judge *checker.Judge
}

func New(db *gorm.DB, stage *compilation.Stage, judge *checker.Judge) *Pipeline {
	return &Pipeline{db: db, stage: stage, judge: judge}
}

// Compiles the submission. See [compilation.Stage.Compile].
func (p *Pipeline) Compile(ctx context.Context, id uuid.UUID) (bool, error) {
	ctx, span := tracer.Start(ctx, "Pipeline.Compile", trace.WithAttributes(
		attribute.String("submission.id", id.String()),
	))
	defer span.End()

	sub, err := models.ByID[models.Submission](ctx, p.db, id)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to get submission")
		return false, err
	}

	ok, err := p.stage.Compile(ctx, compilation.SubmissionTarget(sub))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to compile submission")
		return false, err
	}

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "compiled submission")
	return ok, nil
}

// Judges a compiled submission with its problem's active checker.
//
// Returns [judgeerrors.ErrNotCompiled] unless the submission is WAIT (or CHECKING, when a
// crashed check is resumed) and [judgeerrors.ErrNoActiveChecker] when the problem has no
// active checker. Neither touches the submission.
func (p *Pipeline) Check(ctx context.Context, id uuid.UUID) error {
	ctx, span := tracer.Start(ctx, "Pipeline.Check", trace.WithAttributes(
		attribute.String("submission.id", id.String()),
	))
	defer span.End()

	sub, err := models.ByID[models.Submission](ctx, p.db, id)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to get submission")
		return err
	}

	checkable := []types.Status{types.StatusWait, types.StatusChecking}
	if !sub.Status.In(checkable...) {
		err := fmt.Errorf("%w: submission is %s", judgeerrors.ErrNotCompiled, sub.Status)
		span.RecordError(err)
		span.SetStatus(codes.Error, "submission is not compiled")
		return err
	}

	chk, err := models.ActiveChecker(ctx, p.db, sub.ProblemID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to get active checker")
		return err
	}

	started, err := models.TransitionStatus[models.Submission](ctx, p.db, id, checkable, map[string]any{
		"status": types.StatusChecking,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to set checking status")
		return err
	}
	if !started {
		err := fmt.Errorf("%w: status changed", judgeerrors.ErrNotCompiled)
		span.RecordError(err)
		span.SetStatus(codes.Error, "submission status changed")
		return err
	}
	sub.Status = types.StatusChecking

	if err := p.judge.Check(ctx, sub, chk); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to check submission")
		return err
	}

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "checked submission")
	return nil
}

// Compiles the submission and, when that succeeds, checks it
func (p *Pipeline) Judge(ctx context.Context, id uuid.UUID) error {
	ok, err := p.Compile(ctx, id)
	if err != nil || !ok {
		return err
	}

	return p.Check(ctx, id)
}

// Administrative override: the submission ends DONE, REJECTED with no score. Never runs anything.
func (p *Pipeline) Reject(ctx context.Context, id uuid.UUID) error {
	ctx, span := tracer.Start(ctx, "Pipeline.Reject", trace.WithAttributes(
		attribute.String("submission.id", id.String()),
	))
	defer span.End()

	var sub models.Submission
	result := p.db.WithContext(ctx).
		Model(&sub).
		Clauses(clause.Returning{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":          types.StatusDone,
			"result":          types.ResultRejected,
			"score":           0,
			"current_test_id": nil,
		})
	if result.Error != nil {
		span.RecordError(result.Error)
		span.SetStatus(codes.Error, "failed to reject submission")
		return result.Error
	}
	if result.RowsAffected == 0 {
		span.RecordError(gorm.ErrRecordNotFound)
		span.SetStatus(codes.Error, "submission not found")
		return fmt.Errorf("submission %s: %w", id, gorm.ErrRecordNotFound)
	}

	audit.LogSubmissionRejected(auditContext(&sub), id.String())

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "rejected submission")
	return nil
}

// Sends the submission back to the queue to be compiled and checked again
func (p *Pipeline) Recheck(ctx context.Context, id uuid.UUID) error {
	ctx, span := tracer.Start(ctx, "Pipeline.Recheck", trace.WithAttributes(
		attribute.String("submission.id", id.String()),
	))
	defer span.End()

	var sub models.Submission
	result := p.db.WithContext(ctx).
		Model(&sub).
		Clauses(clause.Returning{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":          types.StatusCWait,
			"current_test_id": nil,
		})
	if result.Error != nil {
		span.RecordError(result.Error)
		span.SetStatus(codes.Error, "failed to requeue submission")
		return result.Error
	}
	if result.RowsAffected == 0 {
		span.RecordError(gorm.ErrRecordNotFound)
		span.SetStatus(codes.Error, "submission not found")
		return fmt.Errorf("submission %s: %w", id, gorm.ErrRecordNotFound)
	}

	audit.LogSubmissionRecheck(auditContext(&sub), id.String())

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "requeued submission")
	return nil
}

// Rejects every submission, continuing past failures
func (p *Pipeline) RejectAll(ctx context.Context, ids ...uuid.UUID) error {
	errs := make([]error, 0, len(ids))
	for _, id := range ids {
		errs = append(errs, p.Reject(ctx, id))
	}

	return errors.Join(errs...)
}

// Requeues every submission, continuing past failures
func (p *Pipeline) RecheckAll(ctx context.Context, ids ...uuid.UUID) error {
	errs := make([]error, 0, len(ids))
	for _, id := range ids {
		errs = append(errs, p.Recheck(ctx, id))
	}

	return errors.Join(errs...)
}

type SubmitRequest struct {
	Source    string
	UserID    uuid.UUID
	ProblemID uuid.UUID
	// When nil the compiler is picked from the language of Source
	CompilerID *uuid.UUID
	// Only used to guess the language
	Filename string
}

// Creates a submission waiting for compilation
func (p *Pipeline) Submit(ctx context.Context, req SubmitRequest) (*models.Submission, error) {
	ctx, span := tracer.Start(ctx, "Pipeline.Submit", trace.WithAttributes(
		attribute.String("problem.id", req.ProblemID.String()),
		attribute.String("user.id", req.UserID.String()),
	))
	defer span.End()

	if err := p.requireProblem(ctx, req.ProblemID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "unknown problem")
		return nil, err
	}

	compilerID, err := p.resolveCompiler(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to pick compiler")
		return nil, err
	}

	sub := &models.Submission{
		Source:     req.Source,
		Status:     types.StatusCWait,
		Result:     types.ResultUnknown,
		UserID:     req.UserID,
		ProblemID:  req.ProblemID,
		CompilerID: compilerID,
	}
	if err := p.db.WithContext(ctx).Create(sub).Error; err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to create submission")
		return nil, err
	}

	audit.LogSubmissionCreated(auditContext(sub), sub.ID.String(), compilerID.String(), hash.Source(req.Source).String())

	span.SetAttributes(attribute.String("submission.id", sub.ID.String()))
	span.RecordError(nil)
	span.SetStatus(codes.Ok, "created submission")
	return sub, nil
}

func (p *Pipeline) requireProblem(ctx context.Context, id uuid.UUID) error {
	exists, err := models.Exists[models.Problem](ctx, p.db, "id = ?", id)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("problem %s: %w", id, gorm.ErrRecordNotFound)
	}

	return nil
}

func (p *Pipeline) resolveCompiler(ctx context.Context, req SubmitRequest) (uuid.UUID, error) {
	if req.CompilerID != nil {
		if _, err := models.ByID[models.Compiler](ctx, p.db, *req.CompilerID); err != nil {
			return uuid.Nil, fmt.Errorf("compiler %s: %w", *req.CompilerID, err)
		}

		return *req.CompilerID, nil
	}

	lang := identifier.GetLanguage(req.Filename, []byte(req.Source))
	if lang == identifier.LanguageInvalid {
		return uuid.Nil, judgeerrors.ErrNoCompilerForLanguage
	}

	var c models.Compiler
	err := p.db.WithContext(ctx).
		Where("lang = ?", lang.String()).
		Order("name, id").
		Take(&c).
		Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return uuid.Nil, fmt.Errorf("%w: %s", judgeerrors.ErrNoCompilerForLanguage, lang)
	}
	if err != nil {
		return uuid.Nil, err
	}

	return c.ID, nil
}

// Creates a checker for the problem and compiles it right away. A checker that compiles
// becomes the problem's active one.
func (p *Pipeline) AddChecker(
	ctx context.Context,
	problemID, compilerID uuid.UUID,
	name, source string,
) (*models.Checker, error) {
	ctx, span := tracer.Start(ctx, "Pipeline.AddChecker", trace.WithAttributes(
		attribute.String("problem.id", problemID.String()),
	))
	defer span.End()

	if err := p.requireProblem(ctx, problemID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "unknown problem")
		return nil, err
	}

	chk := &models.Checker{
		Name:       name,
		Source:     source,
		Status:     types.StatusCWait,
		ProblemID:  problemID,
		CompilerID: compilerID,
	}
	if err := p.db.WithContext(ctx).Create(chk).Error; err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to create checker")
		return nil, err
	}

	if _, err := p.stage.Compile(ctx, compilation.CheckerTarget(chk)); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to compile checker")
		return nil, err
	}

	chk, err := models.ByID[models.Checker](ctx, p.db, chk.ID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to reload checker")
		return nil, err
	}

	span.SetAttributes(attribute.String("status", string(chk.Status)))
	span.RecordError(nil)
	span.SetStatus(codes.Ok, "added checker")
	return chk, nil
}

// Makes a compiled checker the active one of its problem
func (p *Pipeline) PromoteChecker(ctx context.Context, id uuid.UUID) error {
	chk, err := models.ByID[models.Checker](ctx, p.db, id)
	if err != nil {
		return err
	}

	demoted, err := models.PromoteChecker(ctx, p.db, id)
	if err != nil {
		return err
	}

	var demotedID *string
	if demoted != nil {
		s := demoted.String()
		demotedID = &s
	}

	audit.LogCheckerPromoted(audit.Context{ProblemID: chk.ProblemID.String()}, id.String(), demotedID)
	return nil
}

func auditContext(sub *models.Submission) audit.Context {
	userID := sub.UserID.String()
	return audit.Context{UserID: &userID, ProblemID: sub.ProblemID.String()}
}
