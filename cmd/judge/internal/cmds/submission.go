package cmds

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"gorm.io/gorm"

	"github.com/sistem/judge/cmd/judge/internal/models"
	"github.com/sistem/judge/cmd/judge/internal/pipeline"
	"github.com/sistem/judge/internal/judgeerrors"
	"github.com/sistem/judge/internal/types"
)

var (
	sourcePath   string
	problemFlag  string
	userFlag     string
	compilerFlag string
	judgeNow     bool
)

func parseIDs(args []string) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(args))
	for _, arg := range args {
		id, err := uuid.Parse(arg)
		if err != nil {
			return nil, judgeerrors.ExitErrorWrap(types.ExitBadConfig, fmt.Errorf("invalid id %q: %w", arg, err))
		}
		ids = append(ids, id)
	}

	return ids, nil
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return judgeerrors.ExitErrorWrap(types.ExitNotFound, err)
	}
	return err
}

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Queue a source file for judging",
	Long: `
Prints the new submission id. Without --compiler the compiler is picked from the language of
the source. With --judge the submission is compiled and checked before returning instead of
waiting for the scheduler.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, span := tracer.Start(cmd.Context(), "submitCmd")
		defer span.End()

		ids, err := parseIDs([]string{problemFlag, userFlag})
		if err != nil {
			return err
		}

		req := pipeline.SubmitRequest{
			ProblemID: ids[0],
			UserID:    ids[1],
			Filename:  filepath.Base(sourcePath),
		}

		if compilerFlag != "" {
			compilerIDs, err := parseIDs([]string{compilerFlag})
			if err != nil {
				return err
			}
			req.CompilerID = &compilerIDs[0]
		}

		source, err := os.ReadFile(sourcePath)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to read source")
			return judgeerrors.ExitErrorWrap(types.ExitNotFound, err)
		}
		req.Source = string(source)

		a, err := newApp(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to initialize")
			return err
		}
		defer a.Close()

		sub, err := a.pipeline.Submit(ctx, req)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to submit")
			return notFound(err)
		}
		span.SetAttributes(attribute.String("submission.id", sub.ID.String()))

		if judgeNow {
			if err := a.pipeline.Judge(ctx, sub.ID); err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, "failed to judge")
				return judgeerrors.ExitErrorWrap(types.ExitErrored, err)
			}
		}

		fmt.Fprintln(cmd.OutOrStdout(), sub.ID.String())

		span.RecordError(nil)
		span.SetStatus(codes.Ok, "submitted")
		return nil
	},
}

var recheckCmd = &cobra.Command{
	Use:   "recheck ID...",
	Short: "Send submissions back to compilation",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, span := tracer.Start(cmd.Context(), "recheckCmd")
		defer span.End()

		ids, err := parseIDs(args)
		if err != nil {
			return err
		}

		a, err := newApp(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to initialize")
			return err
		}
		defer a.Close()

		if err := a.pipeline.RecheckAll(ctx, ids...); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to recheck")
			return notFound(err)
		}

		span.RecordError(nil)
		span.SetStatus(codes.Ok, "rechecked")
		return nil
	},
}

var rejectCmd = &cobra.Command{
	Use:   "reject ID...",
	Short: "Mark submissions as rejected with a score of 0",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, span := tracer.Start(cmd.Context(), "rejectCmd")
		defer span.End()

		ids, err := parseIDs(args)
		if err != nil {
			return err
		}

		a, err := newApp(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to initialize")
			return err
		}
		defer a.Close()

		if err := a.pipeline.RejectAll(ctx, ids...); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to reject")
			return notFound(err)
		}

		span.RecordError(nil)
		span.SetStatus(codes.Ok, "rejected")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status ID",
	Short: "Show where a submission is and how it scored",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, span := tracer.Start(cmd.Context(), "statusCmd")
		defer span.End()

		ids, err := parseIDs(args)
		if err != nil {
			return err
		}

		a, err := newApp(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to initialize")
			return err
		}
		defer a.Close()

		sub, err := models.ByID[models.Submission](ctx, a.db, ids[0])
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to get submission")
			return notFound(err)
		}

		maxScore, err := models.MaxScore(ctx, a.db, sub.ProblemID)
		if err != nil {
			return err
		}
		best, err := models.UserScore(ctx, a.db, sub.ProblemID, sub.UserID)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "status:     %s\n", sub.Status.Display())
		if sub.Status == types.StatusDone {
			fmt.Fprintf(out, "result:     %s\n", sub.Result.Display())
		}
		fmt.Fprintf(out, "score:      %d/%d\n", sub.Score, maxScore)
		fmt.Fprintf(out, "best score: %d/%d\n", best, maxScore)
		if sub.CurrentTestID != nil {
			fmt.Fprintf(out, "on test:    %s\n", sub.CurrentTestID.String())
		}
		if owner := models.PtrFromNull(sub.ClaimedBy); owner != nil {
			fmt.Fprintf(out, "worker:     %s\n", *owner)
		}
		if sub.Status == types.StatusCompileFail && sub.CompileLog != "" {
			fmt.Fprintf(out, "compile log:\n%s\n", sub.CompileLog)
		}

		logs, err := models.SubmissionLogsFor(ctx, a.db, sub.ID)
		if err != nil {
			return err
		}
		for i, l := range logs {
			fmt.Fprintf(out, "test %3d:   %s\n", i+1, l.Result.Display())
		}

		span.RecordError(nil)
		span.SetStatus(codes.Ok, "showed status")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(submitCmd, recheckCmd, rejectCmd, statusCmd)

	submitCmd.Flags().StringVar(&sourcePath, "file", "", "Source file to submit (required)")
	submitCmd.Flags().StringVar(&problemFlag, "problem", "", "Problem id (required)")
	submitCmd.Flags().StringVar(&userFlag, "user", "", "Submitting user id (required)")
	submitCmd.Flags().StringVar(&compilerFlag, "compiler", "", "Compiler id. Guessed from the source when omitted")
	submitCmd.Flags().BoolVar(&judgeNow, "judge", false, "Judge right away instead of leaving it to the scheduler")

	for _, flag := range []string{"file", "problem", "user"} {
		if err := submitCmd.MarkFlagRequired(flag); err != nil {
			panic("Internal error contact a contributor [submit-flag-required]")
		}
	}
}
