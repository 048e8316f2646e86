package cmds

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/codes"

	"github.com/sistem/judge/cmd/judge/internal/models"
	"github.com/sistem/judge/internal/identifier"
)

var listLanguages identifier.LanguageSlice

var compilersCmd = &cobra.Command{
	Use:   "compilers",
	Short: "Manage the compilers submissions can use",
}

var compilersDetectCmd = &cobra.Command{
	Use:   "detect",
	Short: "Probe PATH for known compilers and record the ones installed",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, span := tracer.Start(cmd.Context(), "compilersDetectCmd")
		defer span.End()

		a, err := newApp(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to initialize")
			return err
		}
		defer a.Close()

		if err := detect(ctx, a); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to detect compilers")
			return err
		}

		span.RecordError(nil)
		span.SetStatus(codes.Ok, "detected compilers")
		return nil
	},
}

var compilersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List known compilers and whether this host can run them",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, span := tracer.Start(cmd.Context(), "compilersListCmd")
		defer span.End()

		a, err := newApp(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to initialize")
			return err
		}
		defer a.Close()

		query := a.db.WithContext(ctx).Order("lang, name")
		if len(listLanguages) > 0 {
			langs := make([]string, 0, len(listLanguages))
			for _, l := range listLanguages {
				langs = append(langs, l.String())
			}
			query = query.Where("lang IN ?", langs)
		}

		var rows []models.Compiler
		if err := query.Find(&rows).Error; err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to list compilers")
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tLANG\tNAME\tAVAILABLE")
		for i := range rows {
			available := "invalid"
			if c, err := a.toolchain.Load(&rows[i]); err == nil {
				available = fmt.Sprintf("%t", c.IsAvailable())
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", rows[i].ID, rows[i].Lang, rows[i].Name, available)
		}
		if err := w.Flush(); err != nil {
			return err
		}

		span.RecordError(nil)
		span.SetStatus(codes.Ok, "listed compilers")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(compilersCmd)
	compilersCmd.AddCommand(compilersDetectCmd, compilersListCmd)

	compilersListCmd.Flags().Var(&listLanguages, "language", "Only list compilers for this language, may be repeated")
}
