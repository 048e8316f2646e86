package migrations

import (
	"context"
	"database/sql"

	"github.com/pressly/goose/v3"
)

func init() {
	goose.AddMigrationContext(Up0004, Down0004)
}

func Up0004(ctx context.Context, tx *sql.Tx) error {
	return execStatements(ctx, tx, `
CREATE TABLE checker (
    id UUID PRIMARY KEY DEFAULT uuidv7_sub_ms(),
    name TEXT NOT NULL,
    source TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'cwait',
    compile_log TEXT NOT NULL DEFAULT '',
    problem_id UUID NOT NULL REFERENCES problem(id) ON DELETE CASCADE,
    compiler_id UUID NOT NULL REFERENCES compiler(id),
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT current_timestamp,
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT current_timestamp
);
`, `
CREATE UNIQUE INDEX checker_one_active_per_problem ON checker(problem_id) WHERE status = 'act';
`, `
CREATE TRIGGER checker_updated_at BEFORE UPDATE ON checker
FOR EACH ROW EXECUTE PROCEDURE touch_updated_at();
`)
}

func Down0004(ctx context.Context, tx *sql.Tx) error {
	return execStatements(ctx, tx, `DROP TABLE checker;`)
}
