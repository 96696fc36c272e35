package storage

import (
	"errors"
	"fmt"
)

// Sentinels matched by the Is* helpers when an error is not a StorageError.
var (
	ErrNotFound       = errors.New("object not found")
	ErrAccessDenied   = errors.New("access denied")
	ErrBucketNotFound = errors.New("bucket not found")
)

// ErrorCode classifies a failed asset lookup.
type ErrorCode string

const (
	CodeNotFound       ErrorCode = "NotFound"
	CodeAccessDenied   ErrorCode = "AccessDenied"
	CodeBucketNotFound ErrorCode = "BucketNotFound"
	CodeInvalidKey     ErrorCode = "InvalidKey"
	CodeTooLarge       ErrorCode = "TooLarge"
	CodeInternalError  ErrorCode = "InternalError"
)

// StorageError is returned by every backend.
// Root is the bucket for S3 and the asset directory for local storage.
type StorageError struct {
	Code    ErrorCode
	Message string
	Err     error
	Root    string
	Key     string
}

func (e *StorageError) Error() string {
	msg := fmt.Sprintf("storage.%s: %s (root=%s, key=%s)", e.Code, e.Message, e.Root, e.Key)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// CodeOf returns the code of the first StorageError in the chain of err, or "" if there is none.
func CodeOf(err error) ErrorCode {
	var storageErr *StorageError
	if errors.As(err, &storageErr) {
		return storageErr.Code
	}
	return ""
}

// IsNotFound reports whether the asset does not exist.
func IsNotFound(err error) bool {
	return is(err, CodeNotFound, ErrNotFound)
}

// IsAccessDenied reports whether the backend refused access to the asset.
func IsAccessDenied(err error) bool {
	return is(err, CodeAccessDenied, ErrAccessDenied)
}

// IsBucketNotFound reports whether the configured bucket is missing.
func IsBucketNotFound(err error) bool {
	return is(err, CodeBucketNotFound, ErrBucketNotFound)
}

func is(err error, code ErrorCode, sentinel error) bool {
	if c := CodeOf(err); c != "" {
		return c == code
	}
	return errors.Is(err, sentinel)
}
