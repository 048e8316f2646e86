// Package hash computes the content digests used to name archived executables and to
// fingerprint submitted sources.
package hash

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/sistem/judge/internal/hash")

// Lowercase hex sha256
type Digest string

func (d Digest) String() string {
	return string(d)
}

// Enough of the digest to tell executables apart in logs
func (d Digest) Short() string {
	if len(d) < 12 {
		return string(d)
	}
	return string(d[:12])
}

func Source(source string) Digest {
	sum := sha256.Sum256([]byte(source))
	return Digest(hex.EncodeToString(sum[:]))
}

// Digests everything left in r
func Stream(ctx context.Context, r io.Reader) (Digest, error) {
	_, span := tracer.Start(ctx, "Stream")
	defer span.End()

	h := sha256.New()
	n, err := io.Copy(h, r)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to read into hasher")
		return "", err
	}

	d := Digest(hex.EncodeToString(h.Sum(nil)))
	span.AddEvent("digested", trace.WithAttributes(
		attribute.String("digest", d.String()),
		attribute.Int64("bytes", n),
	))

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "digested")
	return d, nil
}

func File(ctx context.Context, path string) (Digest, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	return Stream(ctx, f)
}

// Identifier for the scratch files of one sandboxed run.
//
// Two submissions judged at the same time with the same compiler never share it
// because their executable paths differ.
func RunKey(executablePath string, compilerID uuid.UUID) string {
	h := sha256.New()
	h.Write([]byte(executablePath))
	h.Write(compilerID[:])
	return compilerID.String()[:8] + hex.EncodeToString(h.Sum(nil))[:24]
}
