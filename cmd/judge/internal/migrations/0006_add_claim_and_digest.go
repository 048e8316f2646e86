package migrations

import (
	"context"
	"database/sql"

	"github.com/pressly/goose/v3"
)

func init() {
	goose.AddMigrationContext(Up0006, Down0006)
}

func Up0006(ctx context.Context, tx *sql.Tx) error {
	return execStatements(ctx, tx,
		`ALTER TABLE submission ADD COLUMN claimed_by TEXT;`,
		`ALTER TABLE submission ADD COLUMN claimed_at TIMESTAMP WITH TIME ZONE;`,
		`ALTER TABLE submission ADD COLUMN executable_digest TEXT;`,
		`ALTER TABLE checker ADD COLUMN executable_digest TEXT;`,
	)
}

func Down0006(ctx context.Context, tx *sql.Tx) error {
	return execStatements(ctx, tx,
		`ALTER TABLE checker DROP COLUMN executable_digest;`,
		`ALTER TABLE submission DROP COLUMN executable_digest;`,
		`ALTER TABLE submission DROP COLUMN claimed_at;`,
		`ALTER TABLE submission DROP COLUMN claimed_by;`,
	)
}
