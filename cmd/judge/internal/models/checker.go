package models

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/sistem/judge/internal/judgeerrors"
	"github.com/sistem/judge/internal/types"
)

type Checker struct {
	Name       string
	Source     string
	Status     types.Status `gorm:"type:text;default:'cwait'"`
	CompileLog string
	ProblemID  uuid.UUID
	CompilerID uuid.UUID
	// sha256 of the archived executable, set when an artifact store is configured
	ExecutableDigest datatypes.Null[string]
	Model
}

func (Checker) TableName() string {
	return "checker"
}

func (c Checker) GetID() uuid.UUID {
	return c.ID
}

// The problem's checker in the ACT status
func ActiveChecker(ctx context.Context, db *gorm.DB, problemID uuid.UUID) (*Checker, error) {
	ctx, span := tracer.Start(ctx, "ActiveChecker", trace.WithAttributes(
		attribute.String("problem.id", problemID.String()),
	))
	defer span.End()

	var checker Checker
	err := db.WithContext(ctx).
		Where("problem_id = ? AND status = ?", problemID, types.StatusAct).
		Take(&checker).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			span.RecordError(nil)
			span.SetStatus(codes.Ok, "no active checker")
			return nil, judgeerrors.ErrNoActiveChecker
		}

		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to get active checker")
		return nil, err
	}

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "found active checker")
	return &checker, nil
}

// Makes a DONE checker the active one of its problem, demoting the previous one.
// Returns the id of the demoted checker, if any.
func PromoteChecker(ctx context.Context, db *gorm.DB, checkerID uuid.UUID) (*uuid.UUID, error) {
	ctx, span := tracer.Start(ctx, "PromoteChecker", trace.WithAttributes(
		attribute.String("checker.id", checkerID.String()),
	))
	defer span.End()

	var demoted *uuid.UUID
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var checker Checker
		err := tx.Raw(`SELECT * FROM checker WHERE id = ? FOR UPDATE`, checkerID).Scan(&checker).Error
		if err != nil {
			return err
		}
		if checker.ID == uuid.Nil {
			return gorm.ErrRecordNotFound
		}
		if checker.Status != types.StatusDone {
			return fmt.Errorf("%w: checker is %s", judgeerrors.ErrNotPromotable, checker.Status)
		}

		// promotions of one problem queue up on its row, so each sees the last one's ACT checker
		err = tx.Exec(`SELECT 1 FROM problem WHERE id = ? FOR UPDATE`, checker.ProblemID).Error
		if err != nil {
			return err
		}

		var previous []Checker
		err = tx.Raw(`
UPDATE checker SET status = ?
WHERE problem_id = ? AND status = ?
RETURNING id`, types.StatusDone, checker.ProblemID, types.StatusAct).
			Scan(&previous).
			Error
		if err != nil {
			return err
		}
		if len(previous) > 0 {
			demoted = &previous[0].ID
		}

		return tx.Model(&Checker{}).
			Where("id = ? AND status = ?", checkerID, types.StatusDone).
			Update("status", types.StatusAct).
			Error
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to promote checker")
		return nil, err
	}

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "promoted checker")
	return demoted, nil
}
