package artifact

import (
	"context"
	"io"
	"time"

	"github.com/sethvargo/go-retry"
	"go.opentelemetry.io/otel/codes"
)

var _ Store = (*RetryStore)(nil)

// Wraps store operations in backoff loops
type RetryStore struct {
	store   Store
	backoff func() retry.Backoff
}

func NewRetryStoreBackoff(store Store, backoff func() retry.Backoff) *RetryStore {
	return &RetryStore{
		store:   store,
		backoff: backoff,
	}
}

// Archiving happens after the verdict is known so latency does not matter much
func NewRetryStore(store Store) *RetryStore {
	return NewRetryStoreBackoff(store, func() retry.Backoff {
		b := retry.NewExponential(500 * time.Millisecond)
		b = retry.WithMaxDuration(30*time.Second, b)
		return b
	})
}

func (r *RetryStore) do(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	ctx, span := tracer.Start(ctx, "RetryStore."+name)
	defer span.End()

	err := retry.Do(ctx, r.backoff(), func(ctx context.Context) error {
		//nolint:govet // shadow: intentionally shadow ctx and span to avoid using the incorrect one.
		ctx, span := tracer.Start(ctx, "RetryStore."+name+".Retry")
		defer span.End()

		if err := fn(ctx); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "attempt failed")
			return err
		}

		span.RecordError(nil)
		span.SetStatus(codes.Ok, "attempt succeeded")
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "retries exhausted")
		return err
	}

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "done")
	return nil
}

func (r *RetryStore) Put(ctx context.Context, reader io.ReadSeeker, length int64, key string) error {
	return r.do(ctx, "Put", func(ctx context.Context) error {
		// not retryable, the reader is unusable
		if _, err := reader.Seek(0, io.SeekStart); err != nil {
			return err
		}

		if err := r.store.Put(ctx, reader, length, key); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
}

func (r *RetryStore) Exists(ctx context.Context, key string) (bool, error) {
	var exists bool
	err := r.do(ctx, "Exists", func(ctx context.Context) error {
		var err error
		exists, err = r.store.Exists(ctx, key)
		if err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return false, err
	}

	return exists, nil
}

func (r *RetryStore) Fetch(ctx context.Context, key string, filePath string) error {
	return r.do(ctx, "Fetch", func(ctx context.Context) error {
		if err := r.store.Fetch(ctx, key, filePath); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
}

func (r *RetryStore) Location(ctx context.Context) (string, error) {
	var location string
	err := r.do(ctx, "Location", func(ctx context.Context) error {
		var err error
		location, err = r.store.Location(ctx)
		if err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	return location, nil
}
