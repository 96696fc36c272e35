package storage

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStorage struct {
	objects map[string][]byte
	size    int64
}

func (m *memStorage) Get(_ context.Context, key string) (io.ReadCloser, *ObjectInfo, error) {
	data, ok := m.objects[key]
	if !ok {
		return nil, nil, &StorageError{Code: CodeNotFound, Message: "object not found", Key: key}
	}
	size := int64(len(data))
	if m.size != 0 {
		size = m.size
	}
	return io.NopCloser(bytes.NewReader(data)), &ObjectInfo{Key: key, Size: size}, nil
}

func (m *memStorage) Exists(_ context.Context, key string) (bool, error) {
	_, ok := m.objects[key]
	return ok, nil
}

func (m *memStorage) Close() error { return nil }

func TestReadAll(t *testing.T) {
	t.Parallel()

	s := &memStorage{objects: map[string][]byte{"templates/a.png": []byte("png-bytes")}}

	data, err := ReadAll(context.Background(), s, "templates/a.png")
	require.NoError(t, err)
	assert.Equal(t, []byte("png-bytes"), data)
}

func TestReadAll_NotFound(t *testing.T) {
	t.Parallel()

	s := &memStorage{objects: map[string][]byte{}}

	_, err := ReadAll(context.Background(), s, "missing.png")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}

func TestReadAll_TooLarge(t *testing.T) {
	t.Parallel()

	s := &memStorage{objects: map[string][]byte{"huge.png": []byte("x")}, size: MaxObjectSize + 1}

	_, err := ReadAll(context.Background(), s, "huge.png")
	require.Error(t, err)

	var serr *StorageError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, CodeTooLarge, serr.Code)
}
