package local

import (
	"context"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"sync"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/pure-golang/certmailer/storage"
)

var _ storage.Storage = (*Storage)(nil)

var tracer = otel.Tracer("github.com/pure-golang/certmailer/storage/local")

// Config contains local asset directory configuration.
type Config struct {
	Dir string `envconfig:"ASSETS_DIR" default:"."`
}

// Storage serves assets from a directory. Keys cannot escape the directory,
// symlinks included.
type Storage struct {
	mu     sync.RWMutex
	root   *os.Root
	dir    string
	logger *slog.Logger
	closed bool
}

// StorageOptions contains options for Storage creation.
type StorageOptions struct {
	Logger *slog.Logger
}

// New opens the asset directory.
func New(cfg Config, opts *StorageOptions) (*Storage, error) {
	if opts == nil {
		opts = &StorageOptions{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	root, err := os.OpenRoot(cfg.Dir)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open assets dir %s", cfg.Dir)
	}

	return &Storage{
		root:   root,
		dir:    cfg.Dir,
		logger: opts.Logger.WithGroup("storage").With("backend", "local"),
	}, nil
}

// Get opens an asset file.
func (s *Storage) Get(ctx context.Context, key string) (io.ReadCloser, *storage.ObjectInfo, error) {
	_, span := tracer.Start(ctx, "Local.Get", trace.WithAttributes(attribute.String("key", key)))
	defer span.End()

	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.check(key); err != nil {
		recordError(span, err)
		return nil, nil, err
	}

	f, err := s.root.Open(path.Clean(key))
	if err != nil {
		err = s.toStorageError(err, key)
		recordError(span, err)
		return nil, nil, err
	}

	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		err = s.toStorageError(err, key)
		recordError(span, err)
		return nil, nil, err
	}
	if st.IsDir() {
		_ = f.Close()
		err = &storage.StorageError{Code: storage.CodeNotFound, Message: "key is a directory", Root: s.dir, Key: key}
		recordError(span, err)
		return nil, nil, err
	}

	span.SetAttributes(attribute.Int64("size", st.Size()))
	span.SetStatus(codes.Ok, "")
	s.logger.Debug("asset opened", "key", key, "size", st.Size())

	return f, &storage.ObjectInfo{
		Key:          key,
		Size:         st.Size(),
		LastModified: st.ModTime(),
	}, nil
}

// Exists checks if an asset file exists.
func (s *Storage) Exists(ctx context.Context, key string) (bool, error) {
	_, span := tracer.Start(ctx, "Local.Exists", trace.WithAttributes(attribute.String("key", key)))
	defer span.End()

	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.check(key); err != nil {
		recordError(span, err)
		return false, err
	}

	st, err := s.root.Stat(path.Clean(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			span.SetStatus(codes.Ok, "")
			return false, nil
		}
		err = s.toStorageError(err, key)
		recordError(span, err)
		return false, err
	}

	span.SetStatus(codes.Ok, "")
	return !st.IsDir(), nil
}

// Close releases the directory handle.
func (s *Storage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return errors.Wrap(s.root.Close(), "failed to close assets dir")
}

func (s *Storage) check(key string) error {
	if s.closed {
		return &storage.StorageError{Code: storage.CodeInternalError, Message: "storage is closed", Root: s.dir, Key: key}
	}
	if key == "" || !fs.ValidPath(path.Clean(key)) {
		return &storage.StorageError{Code: storage.CodeInvalidKey, Message: "invalid asset key", Root: s.dir, Key: key}
	}
	return nil
}

func (s *Storage) toStorageError(err error, key string) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return &storage.StorageError{Code: storage.CodeNotFound, Message: "object not found", Err: err, Root: s.dir, Key: key}
	case errors.Is(err, fs.ErrPermission):
		return &storage.StorageError{Code: storage.CodeAccessDenied, Message: "access denied", Err: err, Root: s.dir, Key: key}
	default:
		return &storage.StorageError{Code: storage.CodeInternalError, Message: "failed to open asset", Err: err, Root: s.dir, Key: key}
	}
}

func recordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
