package artifact

import (
	"context"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var _ Store = (*MinioStore)(nil)

// Minio (S3) backed store
type MinioStore struct {
	client *minio.Client
	bucket string
}

func NewMinioStore(
	endpoint, id, secret string,
	ssl bool,
	bucket string,
) (*MinioStore, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(id, secret, ""),
		Secure: ssl,
	})
	if err != nil {
		return nil, err
	}

	return NewMinioStoreFromClient(client, bucket), nil
}

func NewMinioStoreFromClient(client *minio.Client, bucket string) *MinioStore {
	return &MinioStore{
		client: client,
		bucket: bucket,
	}
}

func (s *MinioStore) Put(
	ctx context.Context,
	reader io.ReadSeeker,
	length int64,
	key string,
) error {
	ctx, span := tracer.Start(ctx, "MinioStore.Put", trace.WithAttributes(
		attribute.String("key", key),
		attribute.Int64("length", length),
	))
	defer span.End()

	_, err := s.client.PutObject(ctx, s.bucket, key, reader, length, minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to put object")
		return err
	}

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "put object")
	return nil
}

func (s *MinioStore) Exists(ctx context.Context, key string) (bool, error) {
	ctx, span := tracer.Start(ctx, "MinioStore.Exists", trace.WithAttributes(
		attribute.String("key", key),
	))
	defer span.End()

	_, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			span.RecordError(nil)
			span.SetStatus(codes.Ok, "did not find object")
			return false, nil
		}

		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to stat object")
		return false, err
	}

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "statted object")
	return true, nil
}

func (s *MinioStore) Fetch(ctx context.Context, key string, filePath string) error {
	ctx, span := tracer.Start(ctx, "MinioStore.Fetch", trace.WithAttributes(
		attribute.String("key", key),
		attribute.String("filePath", filePath),
	))
	defer span.End()

	if err := s.client.FGetObject(ctx, s.bucket, key, filePath, minio.GetObjectOptions{}); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to get object")
		return err
	}

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "got object")
	return nil
}

func (s *MinioStore) Location(_ context.Context) (string, error) {
	return s.client.EndpointURL().Host + "/" + s.bucket, nil
}
