package minio

import (
	"net/http"
	"strings"

	"github.com/minio/minio-go/v7"

	"github.com/pure-golang/certmailer/storage"
)

// toStorageError converts minio errors to storage errors.
func toStorageError(err error, bucket, key string) error {
	if err == nil {
		return nil
	}

	code, message := classify(err)
	return &storage.StorageError{
		Code:    code,
		Message: message,
		Err:     err,
		Root:    bucket,
		Key:     key,
	}
}

func classify(err error) (storage.ErrorCode, string) {
	resp := minio.ToErrorResponse(err)
	switch {
	case resp.Code == "NoSuchBucket":
		return storage.CodeBucketNotFound, "bucket not found"
	case resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound:
		return storage.CodeNotFound, "object not found"
	case resp.Code == "AccessDenied" || resp.StatusCode == http.StatusForbidden:
		return storage.CodeAccessDenied, "access denied"
	}

	// Errors produced before a response arrives carry no S3 code.
	msg := err.Error()
	switch {
	case strings.Contains(msg, "bucket") && strings.Contains(msg, "does not exist"):
		return storage.CodeBucketNotFound, "bucket not found"
	case strings.Contains(msg, "does not exist") || strings.Contains(msg, "not found"):
		return storage.CodeNotFound, "object not found"
	}

	return storage.CodeInternalError, "internal storage error"
}

// isNotFoundError checks if error is a "not found" type error.
func isNotFoundError(err error) bool {
	if err == nil {
		return false
	}
	code, _ := classify(err)
	return code == storage.CodeNotFound
}
