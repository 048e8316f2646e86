package models

import (
	"context"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/sistem/judge/internal/types"
)

type Problem struct {
	Name           string
	TimeLimitMs    int
	MemoryLimitKiB int `gorm:"column:memory_limit_kib"`
	Model
}

const (
	DefaultTimeLimitMs    = 1000
	DefaultMemoryLimitKiB = 65536
)

func NewProblem(name string) *Problem {
	return &Problem{
		Name:           name,
		TimeLimitMs:    DefaultTimeLimitMs,
		MemoryLimitKiB: DefaultMemoryLimitKiB,
	}
}

func (Problem) TableName() string {
	return "problem"
}

func (p Problem) GetID() uuid.UUID {
	return p.ID
}

// Groups in the order they are judged
func TestGroupsFor(ctx context.Context, db *gorm.DB, problemID uuid.UUID) ([]TestGroup, error) {
	ctx, span := tracer.Start(ctx, "TestGroupsFor", trace.WithAttributes(
		attribute.String("problem.id", problemID.String()),
	))
	defer span.End()

	var groups []TestGroup
	err := db.WithContext(ctx).
		Where("problem_id = ?", problemID).
		Order("position, created_at, id").
		Find(&groups).
		Error
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to list test groups")
		return nil, err
	}

	return groups, nil
}

// Pairs of a group in their stable order
func TestPairsFor(ctx context.Context, db *gorm.DB, groupID uuid.UUID) ([]TestPair, error) {
	ctx, span := tracer.Start(ctx, "TestPairsFor", trace.WithAttributes(
		attribute.String("testGroup.id", groupID.String()),
	))
	defer span.End()

	var pairs []TestPair
	err := db.WithContext(ctx).
		Where("test_group_id = ?", groupID).
		Order("position, created_at, id").
		Find(&pairs).
		Error
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to list test pairs")
		return nil, err
	}

	return pairs, nil
}

// Best score reachable on a problem: every test and every group bonus
func MaxScore(ctx context.Context, db *gorm.DB, problemID uuid.UUID) (int, error) {
	ctx, span := tracer.Start(ctx, "MaxScore")
	defer span.End()

	var total int
	err := db.WithContext(ctx).
		Raw(`
SELECT COALESCE(SUM(g.score + g.score_per_test * (
    SELECT COUNT(*) FROM test_pair p WHERE p.test_group_id = g.id
)), 0)
FROM test_group g
WHERE g.problem_id = ?`, problemID).
		Scan(&total).
		Error
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to compute max score")
		return 0, err
	}

	return total, nil
}

// Best score a user got on a problem. Internal errors and unjudged submissions do not count.
func UserScore(ctx context.Context, db *gorm.DB, problemID, userID uuid.UUID) (int, error) {
	ctx, span := tracer.Start(ctx, "UserScore")
	defer span.End()

	var score int
	err := db.WithContext(ctx).
		Model(&Submission{}).
		Select("COALESCE(MAX(score), 0)").
		Where("problem_id = ? AND user_id = ?", problemID, userID).
		Where("status = ?", types.StatusDone).
		Where("result NOT IN ?", []types.Result{types.ResultIE, types.ResultUnknown}).
		Scan(&score).
		Error
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to compute user score")
		return 0, err
	}

	return score, nil
}
