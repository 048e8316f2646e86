package models

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const name string = "github.com/sistem/judge/cmd/judge/internal/models"

var tracer = otel.Tracer(name)

// Derived from gorm.Model
type Model struct {
	CreatedAt time.Time
	UpdatedAt time.Time
	ID        uuid.UUID `gorm:"primaryKey;default:uuidv7_sub_ms()"`
}

type JudgeModel interface {
	GetID() uuid.UUID
}

// Loads one row by primary key. A missing row is reported as "<type> <id>: record not found"
// so callers can still match [gorm.ErrRecordNotFound].
func ByID[T JudgeModel](ctx context.Context, db *gorm.DB, id uuid.UUID) (*T, error) {
	var data T
	typeName := reflect.TypeOf(data).Name()

	ctx, span := tracer.Start(ctx, "ByID", trace.WithAttributes(
		attribute.String("id", id.String()),
		attribute.String("type", typeName),
	))
	defer span.End()

	err := db.WithContext(ctx).Take(&data, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		span.RecordError(err)
		span.SetStatus(codes.Error, "no such row")
		return nil, fmt.Errorf("%s %s: %w", strings.ToLower(typeName), id, err)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to get row by id")
		return nil, err
	}

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "got row by id")
	return &data, nil
}

// Reports whether any row of T matches the condition.
func Exists[T JudgeModel](ctx context.Context, db *gorm.DB, query any, args ...any) (bool, error) {
	ctx, span := tracer.Start(ctx, "Exists", trace.WithAttributes(
		attribute.String("query", fmt.Sprint(query)),
		attribute.String("type", reflect.TypeOf((*T)(nil)).Elem().Name()),
	))
	defer span.End()

	var count int64
	err := db.WithContext(ctx).Model(new(T)).Where(query, args...).Limit(1).Count(&count).Error
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to check for row")
		return false, fmt.Errorf("checking for row: %w", err)
	}

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "checked for row")
	return count > 0, nil
}

// Transmutes data into valid [datatypes.Null]
func NewNullFromData[T any](d T) datatypes.Null[T] {
	return datatypes.NewNull(d)
}

// Maps a [datatypes.Null] back into a pointer
func PtrFromNull[T any](d datatypes.Null[T]) *T {
	if !d.Valid {
		return nil
	}

	return &d.V
}
