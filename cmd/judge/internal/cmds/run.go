package cmds

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/codes"

	"github.com/sistem/judge/cmd/judge/internal/compiler"
	"github.com/sistem/judge/cmd/judge/internal/migrations"
	"github.com/sistem/judge/cmd/judge/internal/scheduler"
	"github.com/sistem/judge/internal/judgeerrors"
	"github.com/sistem/judge/internal/logger"
	"github.com/sistem/judge/internal/types"
)

var (
	detectOnStart bool
	workerID      string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Judge pending submissions until interrupted",
	Long: `
Migrates the database, then polls for pending submissions every judge.tick_interval and judges
them on judge.workers concurrent workers. On SIGINT or SIGTERM no new submissions are picked up
and the ones being judged are given graceful_shutdown_secs to finish.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, span := tracer.Start(cmd.Context(), "runCmd")
		defer span.End()

		a, err := newApp(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to initialize")
			return err
		}
		defer a.Close()

		if err := migrations.Up(ctx, a.db); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to migrate database")
			return judgeerrors.ExitErrorWrap(types.ExitErrored, err)
		}

		if detectOnStart {
			if err := detect(ctx, a); err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, "failed to detect compilers")
				return err
			}
		}

		svc, err := scheduler.New(a.db, a.pipeline, a.toolchain, scheduler.Config{
			Interval: a.config.Judge.TickInterval,
			Lease:    a.config.Judge.ClaimLease,
			Workers:  a.config.Judge.Workers,
			Resume:   a.config.Judge.ResumeChecking,
			WorkerID: workerID,
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to create scheduler")
			return err
		}

		svc.Start(ctx)
		<-ctx.Done()
		logger.Logger.Info("Got shutdown signal!")

		shutdownCtx, cancel := context.WithTimeout(
			context.WithoutCancel(ctx),
			time.Second*time.Duration(a.config.GracefulShutdownSecs),
		)
		defer cancel()

		if err := svc.Stop(shutdownCtx); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "scheduler did not stop in time")
			return judgeerrors.ExitErrorWrap(types.ExitNoProgress, err)
		}

		span.RecordError(nil)
		span.SetStatus(codes.Ok, "scheduler stopped")
		return nil
	},
}

func detect(ctx context.Context, a *app) error {
	entries, err := compiler.LoadTable(a.config.Judge.DetectTable)
	if err != nil {
		return judgeerrors.ExitErrorWrap(types.ExitBadConfig, err)
	}

	found, err := a.toolchain.Detect(ctx, a.db, entries)
	if err != nil {
		return err
	}

	for _, c := range found {
		logger.Logger.InfoContext(ctx, "detected compiler", "name", c.Name, "lang", c.Lang, "id", c.ID.String())
	}
	return nil
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().BoolVar(&detectOnStart, "detect", false, "Detect installed compilers before judging")
	runCmd.Flags().StringVar(&workerID, "worker-id", "", "Owner recorded on claimed submissions. Defaults to host-pid-random")
}
