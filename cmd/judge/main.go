package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/sistem/judge/cmd/judge/internal/cmds"
	"github.com/sistem/judge/internal/judgeerrors"
	"github.com/sistem/judge/internal/logger"
	oteljudge "github.com/sistem/judge/internal/otel"
	"github.com/sistem/judge/internal/types"
)

var tracer = otel.Tracer("github.com/sistem/judge/judge")

func runApp(ctx context.Context) int {
	shutdown, err := oteljudge.SetupOTelSDK(ctx, oteljudge.ExporterFromEnv())
	if err != nil {
		logger.Logger.Warn("failed to setup otel sdk", "error", err)
	}
	defer func() {
		fail := shutdown(context.WithoutCancel(ctx))
		if fail != nil {
			logger.Logger.Warn("no clean shutdown for otel", "error", fail)
		}
	}()

	// a parent process (CI, an orchestrator) may hand us its trace through the environment
	carrier := oteljudge.NewEnvCarrier()
	extractedContext := otel.GetTextMapPropagator().Extract(context.Background(), carrier)
	ctx, span := tracer.Start(
		ctx,
		"Judge",
		trace.WithNewRoot(),
		trace.WithLinks(trace.LinkFromContext(extractedContext)),
	)
	defer span.End()

	err = cmds.Execute(ctx)
	if err != nil {
		var ee judgeerrors.ExitError
		if errors.As(err, &ee) {
			if ee.Err != nil {
				logger.Logger.Error("error executing subcommands", "error", ee.Err)
			}
			return ee.Code
		}

		logger.Logger.Error("error executing subcommands", "error", err)
		return types.ExitErrored
	}

	return types.ExitNormal
}

func main() {
	logger.InitSlog(slog.LevelInfo)

	ctx, cancelSignal := signal.NotifyContext(
		context.Background(),
		syscall.SIGTERM,
		syscall.SIGINT,
	)

	code := runApp(ctx)
	cancelSignal()
	os.Exit(code)
}
