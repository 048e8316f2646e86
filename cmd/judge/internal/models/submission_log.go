package models

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/sistem/judge/internal/types"
)

// Outcome of one test of one submission
type SubmissionLog struct {
	CreatedAt    time.Time
	SubmissionID uuid.UUID    `gorm:"primaryKey"`
	TestPairID   uuid.UUID    `gorm:"primaryKey"`
	Result       types.Result `gorm:"type:text"`
	// Checker diagnostic output
	Log    string
	Stdout []byte
}

func (SubmissionLog) TableName() string {
	return "submission_log"
}

func DeleteSubmissionLogs(ctx context.Context, db *gorm.DB, submissionID uuid.UUID) error {
	ctx, span := tracer.Start(ctx, "DeleteSubmissionLogs", trace.WithAttributes(
		attribute.String("submission.id", submissionID.String()),
	))
	defer span.End()

	result := db.WithContext(ctx).
		Where("submission_id = ?", submissionID).
		Delete(&SubmissionLog{})
	if result.Error != nil {
		span.RecordError(result.Error)
		span.SetStatus(codes.Error, "failed to delete submission logs")
		return result.Error
	}

	span.SetAttributes(attribute.Int64("deleted", result.RowsAffected))
	span.RecordError(nil)
	span.SetStatus(codes.Ok, "deleted submission logs")
	return nil
}

// Stores entry only while its submission is still in one of from. The submission row is locked
// for the insert, so a concurrent reject or recheck either lands first and the entry is dropped,
// or waits until the entry is stored.
func AppendSubmissionLog(ctx context.Context, db *gorm.DB, entry *SubmissionLog, from []types.Status) (bool, error) {
	ctx, span := tracer.Start(ctx, "AppendSubmissionLog", trace.WithAttributes(
		attribute.String("submission.id", entry.SubmissionID.String()),
		attribute.String("test_pair.id", entry.TestPairID.String()),
	))
	defer span.End()

	stored := false
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var sub Submission
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Select("id", "status").
			Take(&sub, "id = ?", entry.SubmissionID).
			Error
		if err != nil {
			return err
		}
		if !sub.Status.In(from...) {
			return nil
		}

		if err := tx.Create(entry).Error; err != nil {
			return err
		}
		stored = true
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to store submission log")
		return false, err
	}

	span.SetAttributes(attribute.Bool("stored", stored))
	span.RecordError(nil)
	span.SetStatus(codes.Ok, "attempted to store submission log")
	return stored, nil
}

// Logs in judging order
func SubmissionLogsFor(ctx context.Context, db *gorm.DB, submissionID uuid.UUID) ([]SubmissionLog, error) {
	ctx, span := tracer.Start(ctx, "SubmissionLogsFor")
	defer span.End()

	var logs []SubmissionLog
	err := db.WithContext(ctx).
		Joins("JOIN test_pair ON test_pair.id = submission_log.test_pair_id").
		Joins("JOIN test_group ON test_group.id = test_pair.test_group_id").
		Where("submission_log.submission_id = ?", submissionID).
		Order("test_group.position, test_group.created_at, test_group.id, test_pair.position, test_pair.created_at, test_pair.id").
		Find(&logs).
		Error
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to list submission logs")
		return nil, err
	}

	return logs, nil
}
