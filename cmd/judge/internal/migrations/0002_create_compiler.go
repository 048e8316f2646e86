package migrations

import (
	"context"
	"database/sql"

	"github.com/pressly/goose/v3"
)

func init() {
	goose.AddMigrationContext(Up0002, Down0002)
}

func Up0002(ctx context.Context, tx *sql.Tx) error {
	return execStatements(ctx, tx, `
CREATE TABLE compiler (
    id UUID PRIMARY KEY DEFAULT uuidv7_sub_ms(),
    name TEXT NOT NULL,
    lang TEXT NOT NULL,
    build_template TEXT NOT NULL DEFAULT '',
    run_template TEXT NOT NULL,
    autodetect TEXT UNIQUE,
    executable TEXT NOT NULL,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT current_timestamp,
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT current_timestamp
);
`, `
CREATE TRIGGER compiler_updated_at BEFORE UPDATE ON compiler
FOR EACH ROW EXECUTE PROCEDURE touch_updated_at();
`)
}

func Down0002(ctx context.Context, tx *sql.Tx) error {
	return execStatements(ctx, tx, `DROP TABLE compiler;`)
}
