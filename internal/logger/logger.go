package logger

import (
	"log/slog"
	"os"

	"github.com/google/uuid"
	slogotel "github.com/remychantenay/slog-otel"
)

var LogLevel = new(slog.LevelVar)

var jsonHandler = slog.NewJSONHandler(
	os.Stderr,
	&slog.HandlerOptions{AddSource: true, Level: LogLevel},
)
var sloghandler = slogotel.NewOtelHandler(slogotel.WithNoTraceEvents(true))
var Handler = sloghandler(jsonHandler)
var Logger = slog.New(Handler)

func InitSlog(level slog.Level) {
	slog.SetDefault(Logger)
	LogLevel.Set(level)
}

// Logger scoped to one submission
func ForSubmission(id uuid.UUID) *slog.Logger {
	return Logger.With("submission_id", id.String())
}

// Logger scoped to one checker
func ForChecker(id uuid.UUID) *slog.Logger {
	return Logger.With("checker_id", id.String())
}
