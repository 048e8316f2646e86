package cmds

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/sistem/judge/internal/judgeerrors"
	"github.com/sistem/judge/internal/types"
)

var checkerName string

var checkerCmd = &cobra.Command{
	Use:   "checker",
	Short: "Manage problem checkers",
}

var checkerAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a checker to a problem and compile it",
	Long: `
Prints the checker id and its status. A checker that compiles becomes the problem's active
checker. Exits with 4 when compilation failed, printing the compile log.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, span := tracer.Start(cmd.Context(), "checkerAddCmd")
		defer span.End()

		ids, err := parseIDs([]string{problemFlag, compilerFlag})
		if err != nil {
			return err
		}

		source, err := os.ReadFile(sourcePath)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to read source")
			return judgeerrors.ExitErrorWrap(types.ExitNotFound, err)
		}

		a, err := newApp(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to initialize")
			return err
		}
		defer a.Close()

		chk, err := a.pipeline.AddChecker(ctx, ids[0], ids[1], checkerName, string(source))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to add checker")
			return notFound(err)
		}
		span.SetAttributes(attribute.String("checker.id", chk.ID.String()))

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s %s\n", chk.ID.String(), chk.Status.Display())

		if chk.Status == types.StatusCompileFail {
			fmt.Fprintln(out, chk.CompileLog)
			span.SetStatus(codes.Ok, "checker did not compile")
			return judgeerrors.ExitErrorWrap(types.ExitNoProgress, nil)
		}

		span.RecordError(nil)
		span.SetStatus(codes.Ok, "added checker")
		return nil
	},
}

var checkerPromoteCmd = &cobra.Command{
	Use:   "promote ID",
	Short: "Make a compiled checker the active one of its problem",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, span := tracer.Start(cmd.Context(), "checkerPromoteCmd")
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

		if err := a.pipeline.PromoteChecker(ctx, ids[0]); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to promote checker")
			return notFound(err)
		}

		span.RecordError(nil)
		span.SetStatus(codes.Ok, "promoted checker")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(checkerCmd)
	checkerCmd.AddCommand(checkerAddCmd, checkerPromoteCmd)

	checkerAddCmd.Flags().StringVar(&sourcePath, "file", "", "Checker source (required)")
	checkerAddCmd.Flags().StringVar(&problemFlag, "problem", "", "Problem id (required)")
	checkerAddCmd.Flags().StringVar(&compilerFlag, "compiler", "", "Compiler id (required)")
	checkerAddCmd.Flags().StringVar(&checkerName, "name", "checker", "Display name")

	for _, flag := range []string{"file", "problem", "compiler"} {
		if err := checkerAddCmd.MarkFlagRequired(flag); err != nil {
			panic("Internal error contact a contributor [checker-flag-required]")
		}
	}
}
