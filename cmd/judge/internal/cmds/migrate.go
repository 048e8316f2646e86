package cmds

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/codes"
	"gorm.io/gorm"

	"github.com/sistem/judge/cmd/judge/internal/migrations"
	"github.com/sistem/judge/internal/judgeerrors"
	"github.com/sistem/judge/internal/types"
)

var downTo int64

// Opens the configured database without the rest of the app, schema commands need nothing else.
func schemaDB(ctx context.Context) (*gorm.DB, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	return openDB(ctx, cfg)
}

func printVersion(ctx context.Context, cmd *cobra.Command, db *gorm.DB) error {
	version, err := migrations.Version(ctx, db)
	if err != nil {
		return judgeerrors.ExitErrorWrap(types.ExitErrored, err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "schema at version %d\n", version)
	return nil
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the database schema",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, span := tracer.Start(cmd.Context(), "migrateUpCmd")
		defer span.End()

		db, err := schemaDB(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to open database")
			return err
		}

		if err := migrations.Up(ctx, db); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to migrate up")
			return judgeerrors.ExitErrorWrap(types.ExitErrored, err)
		}

		if err := printVersion(ctx, cmd, db); err != nil {
			return err
		}

		span.RecordError(nil)
		span.SetStatus(codes.Ok, "migrated up")
		return nil
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll the schema back to --to, 0 drops every judge table",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, span := tracer.Start(cmd.Context(), "migrateDownCmd")
		defer span.End()

		db, err := schemaDB(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to open database")
			return err
		}

		if err := migrations.Down(ctx, db, downTo); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to migrate down")
			return judgeerrors.ExitErrorWrap(types.ExitErrored, err)
		}
		if err := printVersion(ctx, cmd, db); err != nil {
			return err
		}

		span.RecordError(nil)
		span.SetStatus(codes.Ok, "migrated down")
		return nil
	},
}

var migrateVersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the applied schema version",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, span := tracer.Start(cmd.Context(), "migrateVersionCmd")
		defer span.End()

		db, err := schemaDB(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to open database")
			return err
		}

		if err := printVersion(ctx, cmd, db); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to read schema version")
			return err
		}

		span.RecordError(nil)
		span.SetStatus(codes.Ok, "read schema version")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd, migrateVersionCmd)

	migrateDownCmd.Flags().Int64Var(&downTo, "to", 0, "Version to roll back to")
}
