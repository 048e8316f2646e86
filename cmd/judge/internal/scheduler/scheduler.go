// Package scheduler periodically picks up pending submissions and drives them through the
// pipeline on a bounded pool of workers.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/sistem/judge/cmd/judge/internal/compiler"
	"github.com/sistem/judge/cmd/judge/internal/models"
	"github.com/sistem/judge/cmd/judge/internal/pipeline"
	"github.com/sistem/judge/cmd/judge/internal/taskrunner"
	"github.com/sistem/judge/internal/judgeerrors"
	"github.com/sistem/judge/internal/logger"
	"github.com/sistem/judge/internal/types"
)

const name = "github.com/sistem/judge/cmd/judge/internal/scheduler"

var tracer = otel.Tracer(name)

type Config struct {
	Interval time.Duration
	Lease    time.Duration
	Workers  int
	// Also pick up COMPILING and CHECKING submissions whose worker went away
	Resume bool
	// Owner recorded on claims, generated when empty
	WorkerID string
}

type Service struct {
	db        *gorm.DB
	pipeline  *pipeline.Pipeline
	toolchain *compiler.Toolchain
	runner    *taskrunner.Client

	interval time.Duration
	lease    time.Duration
	workers  int
	statuses []types.Status
	workerID string

	judged       metric.Int64Counter
	skipped      metric.Int64Counter
	tickDuration metric.Float64Histogram

	cancel context.CancelFunc
	done   chan struct{}
}

func New(
	db *gorm.DB,
	p *pipeline.Pipeline,
	toolchain *compiler.Toolchain,
	config Config,
) (*Service, error) {
	if config.Workers < 1 {
		config.Workers = 1
	}
	if config.WorkerID == "" {
		config.WorkerID = defaultWorkerID()
	}

	statuses := append([]types.Status{}, types.PendingStatuses...)
	if config.Resume {
		statuses = append(statuses, types.ResumableStatuses...)
	}

	meter := otel.Meter(name)
	judged, err := meter.Int64Counter(
		"judge.submissions.judged",
		metric.WithDescription("Submissions that finished judging, by result"),
	)
	if err != nil {
		return nil, fmt.Errorf("error creating judged counter: %w", err)
	}

	skipped, err := meter.Int64Counter(
		"judge.submissions.skipped",
		metric.WithDescription("Pending submissions skipped because their compiler is missing on this host"),
	)
	if err != nil {
		return nil, fmt.Errorf("error creating skipped counter: %w", err)
	}

	tickDuration, err := meter.Float64Histogram(
		"judge.tick.duration",
		metric.WithDescription("Time spent on one scheduler tick"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("error creating tick histogram: %w", err)
	}

	return &Service{
		db:           db,
		pipeline:     p,
		toolchain:    toolchain,
		runner:       taskrunner.Create(config.Workers),
		interval:     config.Interval,
		lease:        config.Lease,
		workers:      config.Workers,
		statuses:     statuses,
		workerID:     config.WorkerID,
		judged:       judged,
		skipped:      skipped,
		tickDuration: tickDuration,
	}, nil
}

func defaultWorkerID() string {
	host, err := os.Hostname()
	if err != nil {
		host = "judge"
	}

	return fmt.Sprintf("%s-%d-%s", host, os.Getpid(), uuid.NewString()[:8])
}

// Runs the loop in the background until [Service.Stop]
func (s *Service) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		s.Run(ctx)
	}()
}

// Stops ticking and waits for the submissions being judged, or for ctx to end
func (s *Service) Stop(ctx context.Context) error {
	if s.cancel == nil {
		return nil
	}
	s.cancel()

	select {
	case <-s.done:
	case <-ctx.Done():
		return taskrunner.ErrShutdownTimeout
	}

	return s.runner.Shutdown(ctx)
}

// Ticks every interval until ctx is done. A tick in progress is always finished.
func (s *Service) Run(ctx context.Context) {
	logger.Logger.InfoContext(ctx, "scheduler started",
		"worker", s.workerID,
		"interval", s.interval.String(),
		"workers", s.workers,
		"statuses", s.statuses,
	)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		func() {
			//nolint:govet // shadow: intentionally shadow ctx and span to avoid using the incorrect one.
			ctx, span := tracer.Start(ctx, "Service.Run.Loop", trace.WithNewRoot())
			defer span.End()

			if _, err := s.Tick(ctx); err != nil {
				logger.Logger.ErrorContext(ctx, "tick failed", "error", err)
				span.RecordError(err)
				span.SetStatus(codes.Error, "failed to tick")
				return
			}

			span.RecordError(nil)
			span.SetStatus(codes.Ok, "ticked")
		}()

		select {
		case <-ctx.Done():
			logger.Logger.InfoContext(ctx, "scheduler stopped", "worker", s.workerID)
			return
		case <-ticker.C:
		}
	}
}

// One pass over the pending submissions. Submissions are claimed and judged in batches the
// size of the worker pool; the call returns once every claimed submission is finished.
// Returns how many submissions were dispatched.
func (s *Service) Tick(ctx context.Context) (int, error) {
	ctx, span := tracer.Start(ctx, "Service.Tick")
	defer span.End()

	start := time.Now()
	defer func() {
		s.tickDuration.Record(ctx, time.Since(start).Seconds())
	}()

	pending, err := models.PendingSubmissions(ctx, s.db, s.statuses, s.lease)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to list pending submissions")
		return 0, err
	}

	dispatched := 0
	for batchStart := 0; batchStart < len(pending); batchStart += s.workers {
		if ctx.Err() != nil {
			span.AddEvent("interrupted")
			span.RecordError(nil)
			span.SetStatus(codes.Ok, "tick interrupted")
			return dispatched, nil
		}

		batch := pending[batchStart:min(batchStart+s.workers, len(pending))]

		claimed := make([]models.Submission, 0, len(batch))
		for _, sub := range batch {
			if s.claim(ctx, &sub) {
				claimed = append(claimed, sub)
			}
		}

		for i, sub := range claimed {
			err := s.runner.Run(ctx, func(ctx context.Context) {
				s.process(ctx, sub)
			})
			if err != nil {
				// stopping: hand the rest back
				for _, rest := range claimed[i:] {
					s.release(context.WithoutCancel(ctx), rest.ID)
				}
				s.runner.Wait()

				span.AddEvent("interrupted")
				span.RecordError(nil)
				span.SetStatus(codes.Ok, "tick interrupted")
				return dispatched, nil
			}
			dispatched++
		}

		s.runner.Wait()
	}

	span.SetAttributes(attribute.Int("pending", len(pending)), attribute.Int("dispatched", dispatched))
	span.RecordError(nil)
	span.SetStatus(codes.Ok, "ticked")
	return dispatched, nil
}

// Takes ownership of sub if its compiler is usable here and nobody else owns it
func (s *Service) claim(ctx context.Context, sub *models.Submission) bool {
	ctx, span := tracer.Start(ctx, "Service.claim", trace.WithAttributes(
		attribute.String("submission.id", sub.ID.String()),
	))
	defer span.End()

	log := logger.ForSubmission(sub.ID)

	row, err := models.ByID[models.Compiler](ctx, s.db, sub.CompilerID)
	if err != nil {
		log.ErrorContext(ctx, "failed to get compiler", "compiler_id", sub.CompilerID.String(), "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to get compiler")
		return false
	}

	c, err := s.toolchain.Load(row)
	if err != nil {
		log.ErrorContext(ctx, "failed to load compiler", "compiler_id", sub.CompilerID.String(), "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to load compiler")
		return false
	}

	if !c.IsAvailable() {
		log.DebugContext(ctx, "compiler unavailable, leaving pending", "executable", c.Executable)
		s.skipped.Add(ctx, 1, metric.WithAttributes(attribute.String("compiler", c.Name)))
		span.RecordError(judgeerrors.ErrCompilerUnavailable)
		span.SetStatus(codes.Ok, "compiler unavailable")
		return false
	}

	claimed, err := models.ClaimSubmission(ctx, s.db, sub.ID, s.workerID, s.statuses, s.lease)
	if err != nil {
		log.ErrorContext(ctx, "failed to claim", "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to claim")
		return false
	}

	span.SetAttributes(attribute.Bool("claimed", claimed))
	span.RecordError(nil)
	span.SetStatus(codes.Ok, "attempted claim")
	return claimed
}

// Judges one claimed submission. Failures are logged and never escape, so one bad submission
// cannot stop the queue.
func (s *Service) process(ctx context.Context, sub models.Submission) {
	ctx, span := tracer.Start(ctx, "Service.process", trace.WithAttributes(
		attribute.String("submission.id", sub.ID.String()),
		attribute.String("status", string(sub.Status)),
	))
	defer span.End()

	log := logger.ForSubmission(sub.ID)

	defer s.release(ctx, sub.ID)
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic while judging: %v", r)
			log.ErrorContext(ctx, "judging panicked", "error", err)
			span.RecordError(err)
			span.SetStatus(codes.Error, "judging panicked")
		}
	}()

	if err := s.judge(ctx, &sub); err != nil {
		log.ErrorContext(ctx, "failed to judge", "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to judge")
		return
	}

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "processed submission")
}

func (s *Service) judge(ctx context.Context, sub *models.Submission) error {
	log := logger.ForSubmission(sub.ID)

	// a compile interrupted by a crash starts over
	if sub.Status == types.StatusCompiling {
		if _, err := models.TransitionStatus[models.Submission](
			ctx, s.db, sub.ID,
			[]types.Status{types.StatusCompiling},
			map[string]any{"status": types.StatusCWait},
		); err != nil {
			return err
		}
		sub.Status = types.StatusCWait
	}

	if err := models.DeleteSubmissionLogs(ctx, s.db, sub.ID); err != nil {
		return err
	}

	// an interrupted check resumes from its compiled executable
	if sub.Status != types.StatusChecking {
		ok, err := s.pipeline.Compile(ctx, sub.ID)
		if errors.Is(err, judgeerrors.ErrNotCompilable) {
			log.InfoContext(ctx, "submission changed before compiling, skipping")
			return nil
		}
		if err != nil {
			return err
		}
		if !ok {
			s.judged.Add(ctx, 1, metric.WithAttributes(attribute.String("result", string(types.StatusCompileFail))))
			return nil
		}
	}

	err := s.pipeline.Check(ctx, sub.ID)
	if errors.Is(err, judgeerrors.ErrNoActiveChecker) {
		log.WarnContext(ctx, "problem has no active checker, leaving compiled", "problem_id", sub.ProblemID.String())
		return nil
	}
	if err != nil {
		return err
	}

	judged, err := models.ByID[models.Submission](ctx, s.db, sub.ID)
	if err != nil {
		return err
	}
	s.judged.Add(ctx, 1, metric.WithAttributes(attribute.String("result", string(judged.Result))))
	if !judged.Result.Meaningful() {
		log.WarnContext(ctx, "judging ended without a meaningful verdict", "result", judged.Result)
	}

	return nil
}

func (s *Service) release(ctx context.Context, id uuid.UUID) {
	if err := models.ReleaseSubmission(ctx, s.db, id, s.workerID); err != nil {
		logger.ForSubmission(id).WarnContext(ctx, "failed to release claim", "error", err)
	}
}
