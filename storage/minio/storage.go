package minio

import (
	"context"
	"io"
	"log/slog"

	"github.com/minio/minio-go/v7"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/pure-golang/certmailer/storage"
)

var _ storage.Storage = (*Storage)(nil)

var tracer = otel.Tracer("github.com/pure-golang/certmailer/storage/minio")

// Storage implements storage.Storage on top of an S3-compatible bucket.
type Storage struct {
	client *Client
	cfg    Config
	logger *slog.Logger
}

// StorageOptions contains options for Storage creation.
type StorageOptions struct {
	Logger *slog.Logger
}

// NewStorage creates a new S3 Storage instance.
func NewStorage(client *Client, opts *StorageOptions) *Storage {
	if opts == nil {
		opts = &StorageOptions{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Storage{
		client: client,
		cfg:    client.cfg,
		logger: opts.Logger.WithGroup("storage").With("backend", "s3"),
	}
}

// NewDefault creates a Storage with a new client.
func NewDefault(ctx context.Context, cfg Config) (*Storage, error) {
	client, err := NewClient(ctx, cfg, nil)
	if err != nil {
		return nil, err
	}
	return NewStorage(client, nil), nil
}

func (s *Storage) getClient(key string) (*minio.Client, error) {
	if s.client == nil || s.client.client == nil {
		return nil, &storage.StorageError{
			Code:    storage.CodeInternalError,
			Message: "minio client is not initialized",
			Root:    s.cfg.Bucket,
			Key:     key,
		}
	}
	if s.client.IsClosed() {
		return nil, &storage.StorageError{
			Code:    storage.CodeInternalError,
			Message: "minio client is closed",
			Root:    s.cfg.Bucket,
			Key:     key,
		}
	}
	return s.client.client, nil
}

// Get retrieves an asset object.
func (s *Storage) Get(ctx context.Context, key string) (io.ReadCloser, *storage.ObjectInfo, error) {
	objectKey := s.cfg.objectKey(key)
	ctx, span := tracer.Start(ctx, "S3.Get", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	span.SetAttributes(
		attribute.String("bucket", s.cfg.Bucket),
		attribute.String("key", objectKey),
	)

	client, err := s.getClient(key)
	if err != nil {
		recordError(span, err)
		return nil, nil, err
	}

	obj, err := client.GetObject(ctx, s.cfg.Bucket, objectKey, minio.GetObjectOptions{})
	if err != nil {
		recordError(span, err)
		return nil, nil, toStorageError(err, s.cfg.Bucket, key)
	}

	// GetObject is lazy: Stat performs the request and surfaces NoSuchKey.
	stat, err := obj.Stat()
	if err != nil {
		if closeErr := obj.Close(); closeErr != nil {
			s.logger.With("error", closeErr).Error("failed to close object after stat error")
		}
		recordError(span, err)
		return nil, nil, toStorageError(err, s.cfg.Bucket, key)
	}

	span.SetAttributes(
		attribute.Int64("size", stat.Size),
		attribute.String("etag", stat.ETag),
	)
	span.SetStatus(codes.Ok, "")
	s.logger.Debug("asset fetched", "key", objectKey, "size", stat.Size)

	return obj, &storage.ObjectInfo{
		Key:          key,
		Size:         stat.Size,
		LastModified: stat.LastModified,
		ContentType:  stat.ContentType,
	}, nil
}

// Exists checks if an asset object exists.
func (s *Storage) Exists(ctx context.Context, key string) (bool, error) {
	objectKey := s.cfg.objectKey(key)
	ctx, span := tracer.Start(ctx, "S3.Exists", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	span.SetAttributes(
		attribute.String("bucket", s.cfg.Bucket),
		attribute.String("key", objectKey),
	)

	client, err := s.getClient(key)
	if err != nil {
		recordError(span, err)
		return false, err
	}

	if _, err := client.StatObject(ctx, s.cfg.Bucket, objectKey, minio.StatObjectOptions{}); err != nil {
		if isNotFoundError(err) {
			span.SetStatus(codes.Ok, "")
			return false, nil
		}
		recordError(span, err)
		return false, toStorageError(err, s.cfg.Bucket, key)
	}

	span.SetStatus(codes.Ok, "")
	return true, nil
}

// Close closes the storage connection.
func (s *Storage) Close() error {
	if s.client == nil {
		return nil
	}
	return s.client.Close()
}

func recordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
