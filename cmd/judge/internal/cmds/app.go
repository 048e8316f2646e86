package cmds

import (
	"context"
	"fmt"
	"log/slog"

	sloggorm "github.com/orandin/slog-gorm"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/codes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormtracing "gorm.io/plugin/opentelemetry/tracing"

	"github.com/sistem/judge/cmd/judge/internal/checker"
	"github.com/sistem/judge/cmd/judge/internal/command"
	"github.com/sistem/judge/cmd/judge/internal/compilation"
	"github.com/sistem/judge/cmd/judge/internal/compiler"
	"github.com/sistem/judge/cmd/judge/internal/pipeline"
	"github.com/sistem/judge/cmd/judge/internal/sandbox"
	"github.com/sistem/judge/cmd/judge/internal/workspace"
	"github.com/sistem/judge/internal/artifact"
	"github.com/sistem/judge/internal/config"
	"github.com/sistem/judge/internal/judgeerrors"
	"github.com/sistem/judge/internal/logger"
	"github.com/sistem/judge/internal/notify"
	"github.com/sistem/judge/internal/types"
)

// Everything a subcommand may need, built from the config
type app struct {
	config    *config.Config
	db        *gorm.DB
	layout    workspace.Layout
	toolchain *compiler.Toolchain
	pipeline  *pipeline.Pipeline

	redis *redis.Client
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.GetConfig(configPath)
	if err != nil {
		return nil, judgeerrors.ExitErrorWrap(types.ExitBadConfig, fmt.Errorf("failed to load config: %w", err))
	}

	logger.LogLevel.Set(slog.Level(cfg.Logging.App.Level))
	return cfg, nil
}

func openDB(ctx context.Context, cfg *config.Config) (*gorm.DB, error) {
	ctx, span := tracer.Start(ctx, "openDB")
	defer span.End()

	gormLogger := slog.New(logger.Handler)

	sg := sloggorm.New(
		sloggorm.WithHandler(gormLogger.Handler()),
		sloggorm.SetLogLevel(sloggorm.DefaultLogType, slog.Level(cfg.Logging.Gorm.Level)),
	)
	if cfg.Logging.Gorm.TraceQueries {
		sg = sloggorm.New(
			sloggorm.WithHandler(gormLogger.Handler()),
			sloggorm.WithTraceAll(),
			sloggorm.SetLogLevel(sloggorm.DefaultLogType, slog.Level(cfg.Logging.Gorm.Level)),
		)
	}

	db, err := gorm.Open(
		postgres.Open(cfg.PostgresDSN()),
		&gorm.Config{Logger: sg, TranslateError: true},
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to initialize database")
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to acquire underlying database connection")
		return nil, fmt.Errorf("failed to acquire underlying database connection: %w", err)
	}

	// Configure db connection pool
	sqlDB.SetMaxIdleConns(cfg.Postgres.MaxIdleConnections)
	sqlDB.SetMaxOpenConns(cfg.Postgres.MaxOpenConnections)
	sqlDB.SetConnMaxLifetime(cfg.Postgres.ConnectionTTL)

	if err := sqlDB.PingContext(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to reach database")
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}

	span.AddEvent("initialized database connection")

	if err := db.Use(gormtracing.NewPlugin()); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to add otel plugin to gorm")
		return nil, fmt.Errorf("failed to add otel plugin to gorm: %w", err)
	}

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "opened database")
	return db, nil
}

func newArchive(cfg *config.Config) (artifact.Store, error) {
	if cfg.S3Archive == nil || !cfg.S3Archive.Enabled {
		return nil, nil
	}

	store, err := artifact.NewMinioStore(
		cfg.S3Archive.Endpoint,
		cfg.S3Archive.AccessKeyID,
		cfg.S3Archive.SecretAccessKey,
		cfg.S3Archive.SSLEnabled,
		cfg.S3Archive.BucketName,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create s3 client: %w", err)
	}

	return artifact.NewRetryStore(store), nil
}

func newApp(ctx context.Context) (*app, error) {
	ctx, span := tracer.Start(ctx, "newApp")
	defer span.End()

	cfg, err := loadConfig()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to load config")
		return nil, err
	}

	db, err := openDB(ctx, cfg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to open database")
		return nil, err
	}

	a := &app{config: cfg, db: db}

	a.layout = workspace.Layout{
		StorageDir: cfg.Judge.StorageDir,
		TempDir:    cfg.Judge.TempDir,
		SandboxDir: cfg.Judge.SandboxDir,
	}
	if err := a.layout.Prepare(); err != nil {
		a.Close()
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to prepare workspace")
		return nil, err
	}

	archive, err := newArchive(cfg)
	if err != nil {
		a.Close()
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to set up archive")
		return nil, err
	}

	var publisher notify.Publisher = notify.NoopPublisher{}
	if cfg.Redis != nil && cfg.Redis.Address != "" {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		publisher = notify.NewRedisPublisher(notify.RedisPublisherConfig{
			RedisClient: a.redis,
			Channel:     cfg.Redis.Channel,
		})
		span.AddEvent("status notifications enabled")
	}

	executor := command.NewShellExecutor()
	runner := sandbox.New(executor, cfg.Judge.SandboxBinary, a.layout)
	a.toolchain = compiler.NewToolchain(executor, runner, cfg.Judge.CompileTimeout, cfg.Judge.PathExtra)

	stage := compilation.NewStage(db, a.toolchain, a.layout, archive, publisher)
	judge := checker.NewJudge(db, a.toolchain, executor, cfg.Judge.CheckerTimeout, a.layout, archive, publisher)
	a.pipeline = pipeline.New(db, stage, judge)

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "initialized")
	return a, nil
}

func (a *app) Close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			logger.Logger.Warn("failed to close redis client", "error", err)
		}
	}

	if sqlDB, err := a.db.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			logger.Logger.Warn("failed to close database", "error", err)
		}
	}
}
