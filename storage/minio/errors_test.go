package minio

import (
	"errors"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pure-golang/certmailer/storage"
)

func TestToStorageError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want storage.ErrorCode
	}{
		{name: "no such key response", err: minio.ErrorResponse{Code: "NoSuchKey", StatusCode: 404}, want: storage.CodeNotFound},
		{name: "bare 404 response", err: minio.ErrorResponse{StatusCode: 404}, want: storage.CodeNotFound},
		{name: "no such bucket response", err: minio.ErrorResponse{Code: "NoSuchBucket", StatusCode: 404}, want: storage.CodeBucketNotFound},
		{name: "access denied response", err: minio.ErrorResponse{Code: "AccessDenied", StatusCode: 403}, want: storage.CodeAccessDenied},
		{name: "forbidden status", err: minio.ErrorResponse{StatusCode: 403}, want: storage.CodeAccessDenied},
		{name: "bucket message", err: errors.New("bucket assets does not exist"), want: storage.CodeBucketNotFound},
		{name: "object message", err: errors.New("object not found"), want: storage.CodeNotFound},
		{name: "anything else", err: errors.New("connection reset by peer"), want: storage.CodeInternalError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := toStorageError(tt.err, "assets", "fonts/a.ttf")

			var serr *storage.StorageError
			require.ErrorAs(t, err, &serr)
			assert.Equal(t, tt.want, serr.Code)
			assert.Equal(t, "assets", serr.Root)
			assert.Equal(t, "fonts/a.ttf", serr.Key)
			assert.Equal(t, tt.err, serr.Err)
		})
	}
}

func TestToStorageError_Nil(t *testing.T) {
	assert.NoError(t, toStorageError(nil, "b", "k"))
}

func TestIsNotFoundError(t *testing.T) {
	assert.False(t, isNotFoundError(nil))
	assert.True(t, isNotFoundError(minio.ErrorResponse{Code: "NoSuchKey"}))
	assert.False(t, isNotFoundError(minio.ErrorResponse{Code: "NoSuchBucket"}))
	assert.False(t, isNotFoundError(errors.New("timeout")))
}

func TestConfig_GetEndpoint(t *testing.T) {
	cfg := Config{}
	assert.Equal(t, DefaultEndpoint, cfg.GetEndpoint())

	cfg.Endpoint = "localhost:9000"
	assert.Equal(t, "localhost:9000", cfg.GetEndpoint())
}

func TestConfig_ObjectKey(t *testing.T) {
	tests := []struct {
		prefix string
		want   string
	}{
		{"", "fonts/a.ttf"},
		{"certificates", "certificates/fonts/a.ttf"},
		{"certificates/", "certificates/fonts/a.ttf"},
	}
	for _, tt := range tests {
		cfg := Config{Prefix: tt.prefix}
		assert.Equal(t, tt.want, cfg.objectKey("fonts/a.ttf"), tt.prefix)
	}
}

func TestStorage_ClosedClient(t *testing.T) {
	s := NewStorage(&Client{cfg: Config{Bucket: "assets"}, closed: true}, nil)

	_, _, err := s.Get(t.Context(), "templates/a.png")
	require.Error(t, err)

	ok, err := s.Exists(t.Context(), "templates/a.png")
	require.Error(t, err)
	assert.False(t, ok)
}
