// Package migrations holds the judge schema as goose Go migrations. Each file registers itself
// from init, so importing the package is enough for [Up] to see every version.
package migrations

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pressly/goose/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"gorm.io/gorm"
)

var tracer = otel.Tracer("github.com/sistem/judge/cmd/judge/internal/migrations")

// Migrations are registered in Go, the directory argument only scopes the lookup.
const dir = "."

// Applies every pending migration.
func Up(ctx context.Context, db *gorm.DB) error {
	return withRawDB(ctx, "Up", db, func(ctx context.Context, raw *sql.DB) error {
		return goose.UpContext(ctx, raw, dir)
	})
}

// Rolls back to version, 0 drops everything
func Down(ctx context.Context, db *gorm.DB, version int64) error {
	return withRawDB(ctx, "Down", db, func(ctx context.Context, raw *sql.DB) error {
		return goose.DownToContext(ctx, raw, dir, version)
	})
}

// Current schema version, 0 on an empty database.
func Version(ctx context.Context, db *gorm.DB) (int64, error) {
	var version int64
	err := withRawDB(ctx, "Version", db, func(ctx context.Context, raw *sql.DB) error {
		var err error
		version, err = goose.GetDBVersionContext(ctx, raw)
		return err
	})
	return version, err
}

func withRawDB(
	ctx context.Context,
	op string,
	db *gorm.DB,
	fn func(context.Context, *sql.DB) error,
) error {
	ctx, span := tracer.Start(ctx, op)
	defer span.End()

	raw, err := db.DB()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "no sql handle behind gorm")
		return fmt.Errorf("migrations %s: %w", op, err)
	}

	if err := fn(ctx, raw); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "migration step failed")
		return fmt.Errorf("migrations %s: %w", op, err)
	}

	span.SetAttributes(attribute.String("migrations.op", op))
	span.RecordError(nil)
	span.SetStatus(codes.Ok, "migration step done")
	return nil
}

func execStatements(ctx context.Context, tx *sql.Tx, statements ...string) error {
	for i, statement := range statements {
		if _, err := tx.ExecContext(ctx, statement); err != nil {
			return fmt.Errorf("statement %d: %w", i, err)
		}
	}

	return nil
}
