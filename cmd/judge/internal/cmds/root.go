package cmds

import (
	"context"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("github.com/sistem/judge/cmd/judge/internal/cmds")

var configPath string

var rootCmd = &cobra.Command{
	Use:           "judge",
	Short:         "Compiles and judges submissions against problem test suites",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().
		StringVar(&configPath, "config", "", "Path to judge.yaml. Defaults to /etc/judge/judge.yaml or ./judge.yaml")
}
