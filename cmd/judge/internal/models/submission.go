package models

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/sistem/judge/internal/types"
)

type Submission struct {
	SubmittedAt time.Time `gorm:"default:current_timestamp"`
	Source      string
	Status      types.Status `gorm:"type:text;default:'cwait'"`
	Result      types.Result `gorm:"type:text;default:'unknown'"`
	CompileLog  string
	Score       int
	// Test being judged right now, NULL when idle
	CurrentTestID *uuid.UUID
	UserID        uuid.UUID
	ProblemID     uuid.UUID
	CompilerID    uuid.UUID
	// Worker currently owning the submission
	ClaimedBy        datatypes.Null[string]
	ClaimedAt        datatypes.Null[time.Time]
	ExecutableDigest datatypes.Null[string]
	Model
}

func (Submission) TableName() string {
	return "submission"
}

func (s Submission) GetID() uuid.UUID {
	return s.ID
}

// Unclaimed (or abandoned) submissions in one of statuses, oldest first
func PendingSubmissions(
	ctx context.Context,
	db *gorm.DB,
	statuses []types.Status,
	lease time.Duration,
) ([]Submission, error) {
	ctx, span := tracer.Start(ctx, "PendingSubmissions", trace.WithAttributes(
		attribute.StringSlice("statuses", statusStrings(statuses)),
	))
	defer span.End()

	var pending []Submission
	err := db.WithContext(ctx).
		Where("status IN ?", statuses).
		Where("(claimed_by IS NULL OR claimed_at < ?)", time.Now().Add(-lease)).
		Order("submitted_at, id").
		Find(&pending).
		Error
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to list pending submissions")
		return nil, err
	}

	span.SetAttributes(attribute.Int("pending", len(pending)))
	span.RecordError(nil)
	span.SetStatus(codes.Ok, "listed pending submissions")
	return pending, nil
}

// Atomically takes ownership of a pending submission. A claim older than lease is considered
// abandoned and can be taken over. Returns false when another worker owns it or it is no longer pending.
func ClaimSubmission(
	ctx context.Context,
	db *gorm.DB,
	id uuid.UUID,
	worker string,
	statuses []types.Status,
	lease time.Duration,
) (bool, error) {
	ctx, span := tracer.Start(ctx, "ClaimSubmission", trace.WithAttributes(
		attribute.String("submission.id", id.String()),
		attribute.String("worker", worker),
	))
	defer span.End()

	now := time.Now()
	result := db.WithContext(ctx).
		Model(&Submission{}).
		Where("id = ?", id).
		Where("status IN ?", statuses).
		Where("(claimed_by IS NULL OR claimed_at < ?)", now.Add(-lease)).
		Updates(map[string]any{
			"claimed_by": worker,
			"claimed_at": now,
		})
	if result.Error != nil {
		span.RecordError(result.Error)
		span.SetStatus(codes.Error, "failed to claim submission")
		return false, result.Error
	}

	claimed := result.RowsAffected == 1
	span.SetAttributes(attribute.Bool("claimed", claimed))
	span.RecordError(nil)
	span.SetStatus(codes.Ok, "attempted claim")
	return claimed, nil
}

// Gives up ownership taken with [ClaimSubmission]
func ReleaseSubmission(ctx context.Context, db *gorm.DB, id uuid.UUID, worker string) error {
	ctx, span := tracer.Start(ctx, "ReleaseSubmission", trace.WithAttributes(
		attribute.String("submission.id", id.String()),
		attribute.String("worker", worker),
	))
	defer span.End()

	err := db.WithContext(ctx).
		Model(&Submission{}).
		Where("id = ? AND claimed_by = ?", id, worker).
		Updates(map[string]any{
			"claimed_by": nil,
			"claimed_at": nil,
		}).
		Error
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to release submission")
		return err
	}

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "released submission")
	return nil
}

// Conditional status update: only applies when the current status is one of from.
// Returns false when the row was not in an expected status.
func TransitionStatus[T JudgeModel](
	ctx context.Context,
	db *gorm.DB,
	id uuid.UUID,
	from []types.Status,
	updates map[string]any,
) (bool, error) {
	ctx, span := tracer.Start(ctx, "TransitionStatus", trace.WithAttributes(
		attribute.String("id", id.String()),
		attribute.StringSlice("from", statusStrings(from)),
	))
	defer span.End()

	var model T
	result := db.WithContext(ctx).
		Model(&model).
		Where("id = ?", id).
		Where("status IN ?", from).
		Updates(updates)
	if result.Error != nil {
		span.RecordError(result.Error)
		span.SetStatus(codes.Error, "failed to transition status")
		return false, result.Error
	}

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "attempted transition")
	return result.RowsAffected == 1, nil
}

func statusStrings(statuses []types.Status) []string {
	out := make([]string, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, string(s))
	}
	return out
}
