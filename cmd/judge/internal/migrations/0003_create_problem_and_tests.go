package migrations

import (
	"context"
	"database/sql"

	"github.com/pressly/goose/v3"
)

func init() {
	goose.AddMigrationContext(Up0003, Down0003)
}

func Up0003(ctx context.Context, tx *sql.Tx) error {
	return execStatements(ctx, tx, `
CREATE TABLE problem (
    id UUID PRIMARY KEY DEFAULT uuidv7_sub_ms(),
    name TEXT NOT NULL,
    time_limit_ms INTEGER NOT NULL DEFAULT 1000 CHECK (time_limit_ms > 0),
    memory_limit_kib INTEGER NOT NULL DEFAULT 65536 CHECK (memory_limit_kib > 0),
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT current_timestamp,
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT current_timestamp
);
`, `
CREATE TABLE test_group (
    id UUID PRIMARY KEY DEFAULT uuidv7_sub_ms(),
    problem_id UUID NOT NULL REFERENCES problem(id) ON DELETE CASCADE,
    position INTEGER NOT NULL DEFAULT 0,
    score INTEGER NOT NULL DEFAULT 0,
    score_per_test INTEGER NOT NULL DEFAULT 1,
    check_all BOOLEAN NOT NULL DEFAULT false,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT current_timestamp,
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT current_timestamp
);
`, `
CREATE INDEX test_group_problem_idx ON test_group(problem_id, position);
`, `
CREATE TABLE test_pair (
    id UUID PRIMARY KEY DEFAULT uuidv7_sub_ms(),
    test_group_id UUID NOT NULL REFERENCES test_group(id) ON DELETE CASCADE,
    position INTEGER NOT NULL DEFAULT 0,
    input BYTEA,
    pattern BYTEA,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT current_timestamp,
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT current_timestamp
);
`, `
CREATE INDEX test_pair_group_idx ON test_pair(test_group_id, position);
`, `
CREATE TRIGGER problem_updated_at BEFORE UPDATE ON problem
FOR EACH ROW EXECUTE PROCEDURE touch_updated_at();
`, `
CREATE TRIGGER test_group_updated_at BEFORE UPDATE ON test_group
FOR EACH ROW EXECUTE PROCEDURE touch_updated_at();
`, `
CREATE TRIGGER test_pair_updated_at BEFORE UPDATE ON test_pair
FOR EACH ROW EXECUTE PROCEDURE touch_updated_at();
`)
}

func Down0003(ctx context.Context, tx *sql.Tx) error {
	return execStatements(ctx, tx,
		`DROP TABLE test_pair;`,
		`DROP TABLE test_group;`,
		`DROP TABLE problem;`,
	)
}
