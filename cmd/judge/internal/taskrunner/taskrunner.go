package taskrunner

import (
	"context"
	"errors"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"
)

const name = "github.com/sistem/judge/cmd/judge/internal/taskrunner"

var tracer = otel.Tracer(name)

var ErrShutdownTimeout = errors.New("error shutting down in time")

// A [sync.WaitGroup] bounded by a semaphore, with [Client.Shutdown] vs timeout racing
type Client struct {
	running sync.WaitGroup
	slots   *semaphore.Weighted
	size    int64
}

func Create(workers int) *Client {
	if workers < 1 {
		workers = 1
	}

	return &Client{
		slots: semaphore.NewWeighted(int64(workers)),
		size:  int64(workers),
	}
}

// Waits for a free worker, then runs a as a goroutine. Returns an error only when ctx ends before
// a worker frees up, in which case a is never called.
//
// a runs with a context that is not cancelled with ctx, so accepted work finishes even during
// shutdown. This is only as safe as the forceful shutdown timeout.
func (c *Client) Run(ctx context.Context, a func(context.Context)) error {
	if err := c.slots.Acquire(ctx, 1); err != nil {
		return err
	}

	c.running.Add(1)
	go func() {
		defer c.running.Done()
		defer c.slots.Release(1)

		//nolint:govet // shadow: intentionally shadow ctx to avoid using the incorrect one.
		ctx, span := tracer.Start(ctx, "Run")
		defer span.End()

		a(context.WithoutCancel(ctx))

		span.RecordError(nil)
		span.SetStatus(codes.Ok, "ran task")
	}()

	return nil
}

// Blocks until every running task is done
func (c *Client) Wait() {
	c.running.Wait()
}

// Will race waiting for all of the tasks finishing and `ctx` becoming "done"
func (c *Client) Shutdown(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "Shutdown", trace.WithAttributes(
		attribute.Int64("workers", c.size),
	))
	defer span.End()

	done := make(chan struct{})
	go func() {
		c.running.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		span.AddEvent("hit_timeout")
		span.RecordError(ErrShutdownTimeout)
		span.SetStatus(codes.Error, "error shutting down in time")
		return ErrShutdownTimeout
	case <-done:
		span.AddEvent("done")
		span.RecordError(nil)
		span.SetStatus(codes.Ok, "finished shutting down")
		return nil
	}
}
