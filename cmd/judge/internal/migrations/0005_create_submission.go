package migrations

import (
	"context"
	"database/sql"

	"github.com/pressly/goose/v3"
)

func init() {
	goose.AddMigrationContext(Up0005, Down0005)
}

func Up0005(ctx context.Context, tx *sql.Tx) error {
	return execStatements(ctx, tx, `
CREATE TABLE submission (
    id UUID PRIMARY KEY DEFAULT uuidv7_sub_ms(),
    submitted_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT current_timestamp,
    source TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'cwait',
    result TEXT NOT NULL DEFAULT 'unknown',
    compile_log TEXT NOT NULL DEFAULT '',
    score INTEGER NOT NULL DEFAULT 0,
    current_test_id UUID REFERENCES test_pair(id) ON DELETE SET NULL,
    user_id UUID NOT NULL,
    problem_id UUID NOT NULL REFERENCES problem(id) ON DELETE CASCADE,
    compiler_id UUID NOT NULL REFERENCES compiler(id),
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT current_timestamp,
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT current_timestamp
);
`, `
CREATE INDEX submission_status_idx ON submission(status, submitted_at);
`, `
CREATE INDEX submission_problem_user_idx ON submission(problem_id, user_id);
`, `
CREATE TRIGGER submission_updated_at BEFORE UPDATE ON submission
FOR EACH ROW EXECUTE PROCEDURE touch_updated_at();
`, `
CREATE TABLE submission_log (
    submission_id UUID NOT NULL REFERENCES submission(id) ON DELETE CASCADE,
    test_pair_id UUID NOT NULL REFERENCES test_pair(id) ON DELETE CASCADE,
    result TEXT NOT NULL,
    log TEXT NOT NULL DEFAULT '',
    stdout BYTEA,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT current_timestamp,
    PRIMARY KEY (submission_id, test_pair_id)
);
`)
}

func Down0005(ctx context.Context, tx *sql.Tx) error {
	return execStatements(ctx, tx,
		`DROP TABLE submission_log;`,
		`DROP TABLE submission;`,
	)
}
