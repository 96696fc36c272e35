package storage

import (
	"context"
	"io"
	"time"

	"github.com/pkg/errors"
)

// MaxObjectSize caps how much ReadAll loads into memory for a single asset.
const MaxObjectSize = 64 << 20

// ObjectInfo represents metadata about a stored asset.
type ObjectInfo struct {
	Key          string    // Object key/path relative to the storage root
	Size         int64     // Object size in bytes
	LastModified time.Time // Last modification time
	ContentType  string    // Content type, may be empty for local files
}

// Storage is read-only access to certificate assets (template images and fonts).
// Keys are slash separated and relative to the storage root (bucket or directory).
type Storage interface {
	// Get opens an object for reading. The caller closes the reader.
	Get(ctx context.Context, key string) (io.ReadCloser, *ObjectInfo, error)

	// Exists checks if an object exists.
	Exists(ctx context.Context, key string) (bool, error)

	io.Closer
}

// ReadAll loads a whole object into memory.
func ReadAll(ctx context.Context, s Storage, key string) ([]byte, error) {
	rc, info, err := s.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	if info != nil && info.Size > MaxObjectSize {
		return nil, &StorageError{
			Code:    CodeTooLarge,
			Message: "object exceeds size limit",
			Key:     key,
		}
	}

	data, err := io.ReadAll(io.LimitReader(rc, MaxObjectSize+1))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read object %s", key)
	}
	if len(data) > MaxObjectSize {
		return nil, &StorageError{
			Code:    CodeTooLarge,
			Message: "object exceeds size limit",
			Key:     key,
		}
	}

	return data, nil
}
