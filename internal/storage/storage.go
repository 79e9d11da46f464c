package storage

import (
	"context"
	"fmt"
	"io"
	"strings"
)

// ObjectInfo represents metadata for a remote file/object.
type ObjectInfo struct {
	Key  string
	Size int64
}

// ObjectStorage captures the minimal S3-compatible operations used for model artifacts.
type ObjectStorage interface {
	ListObjects(ctx context.Context, bucket, prefix string) ([]ObjectInfo, error)
	GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error)
	UploadObject(ctx context.Context, bucket, key string, data []byte, contentType string) error
}

// ParseURI splits an "s3://bucket/key" URI. ok is false for anything else.
func ParseURI(uri string) (bucket, key string, ok bool, err error) {
	rest, found := strings.CutPrefix(strings.TrimSpace(uri), "s3://")
	if !found {
		return "", "", false, nil
	}
	bucket, key, found = strings.Cut(rest, "/")
	if !found || bucket == "" || key == "" {
		return "", "", true, fmt.Errorf("invalid object uri %q: want s3://bucket/key", uri)
	}
	return bucket, key, true, nil
}
