package artifact

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/sistem/judge/internal/hash"
)

var tracer = otel.Tracer("github.com/sistem/judge/internal/artifact")

type Kind string

const (
	KindSubmission Kind = "submission"
	KindChecker    Kind = "checker"
)

//go:generate mockgen -destination ./mock/mock.go -package mock . Store

// Content addressed storage for compiled executables
type Store interface {
	// Create / Overwrite object contents by key
	Put(ctx context.Context, reader io.ReadSeeker, length int64, key string) error
	// Check if an object exists. Only used to skip duplicate uploads
	Exists(ctx context.Context, key string) (bool, error)
	// Download an object into a local file, overwriting it
	Fetch(ctx context.Context, key string, filePath string) error
	// Where objects are being stored, for logging
	Location(ctx context.Context) (string, error)
}

func Key(kind Kind, digest string) string {
	return path.Join("executables", string(kind), digest)
}

// Stores the executable at filePath under the sha256 of its contents and returns the digest.
//
// Nothing is uploaded if an object with the same digest already exists.
func ArchiveExecutable(ctx context.Context, s Store, kind Kind, filePath string) (string, error) {
	ctx, span := tracer.Start(ctx, "ArchiveExecutable", trace.WithAttributes(
		attribute.String("filePath", filePath),
		attribute.String("kind", string(kind)),
	))
	defer span.End()

	f, err := os.Open(filePath)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to open executable")
		return "", err
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to stat executable")
		return "", err
	}

	d, err := hash.Stream(ctx, f)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to hash executable")
		return "", err
	}
	digest := d.String()

	key := Key(kind, digest)
	span.SetAttributes(attribute.String("key", key))

	exists, err := s.Exists(ctx, key)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to check if executable exists")
		return "", err
	}

	if exists {
		span.RecordError(nil)
		span.SetStatus(codes.Ok, "found existing executable")
		return digest, nil
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to seek to start")
		return "", err
	}

	if err := s.Put(ctx, f, stat.Size(), key); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to put executable")
		return "", err
	}

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "archived executable")
	return digest, nil
}

// Downloads an archived executable to filePath and verifies its digest.
//
// Used when a submission compiled on one worker is checked on another.
func RestoreExecutable(ctx context.Context, s Store, kind Kind, digest, filePath string) error {
	ctx, span := tracer.Start(ctx, "RestoreExecutable", trace.WithAttributes(
		attribute.String("filePath", filePath),
		attribute.String("digest", digest),
	))
	defer span.End()

	if err := s.Fetch(ctx, Key(kind, digest), filePath); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch executable")
		return err
	}

	got, err := hash.File(ctx, filePath)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to hash restored executable")
		return err
	}

	if got.String() != digest {
		_ = os.Remove(filePath)
		err := fmt.Errorf("restored executable digest mismatch: want %s got %s", digest, got)
		span.RecordError(err)
		span.SetStatus(codes.Error, "digest mismatch")
		return err
	}

	if err := os.Chmod(filePath, 0o755); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to mark executable")
		return err
	}

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "restored executable")
	return nil
}
