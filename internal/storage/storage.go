// Package storage moves transformed variant files and export shards
// between the local filesystem and object storage.
package storage

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	genoerrors "github.com/genostore/genostore/internal/errors"
)

// ErrObjectNotFound is returned when an object does not exist.
var ErrObjectNotFound = genoerrors.New(genoerrors.ErrCategoryStorage, genoerrors.CodeObjectNotFound, "object not found")

// ObjectStorage abstracts the object store holding transformed files and
// export shards. Object paths are slash separated and relative to the root
// the storage was opened with.
type ObjectStorage interface {
	// Upload copies the local file to objectPath, replacing any existing object.
	Upload(ctx context.Context, localPath, objectPath string) error

	// Download copies objectPath to localPath. Missing objects yield
	// ErrObjectNotFound.
	Download(ctx context.Context, objectPath, localPath string) error

	// Delete removes an object. Deleting a missing object is not an error.
	Delete(ctx context.Context, objectPath string) error

	// Exists reports whether objectPath exists.
	Exists(ctx context.Context, objectPath string) (bool, error)

	// ListObjects returns the object paths under prefix.
	ListObjects(ctx context.Context, prefix string) ([]string, error)
}

// Open resolves a storage location. "s3://bucket/prefix" opens an S3
// bucket rooted at prefix; "file:///dir" and plain paths open a local
// directory.
func Open(ctx context.Context, location string, cfg S3Config) (ObjectStorage, error) {
	if location == "" {
		return nil, genoerrors.NewValidationError(genoerrors.CodeInvalidConfig, "storage: empty location")
	}
	if !strings.Contains(location, "://") {
		return NewLocalStorage(location)
	}
	u, err := url.Parse(location)
	if err != nil {
		return nil, genoerrors.NewValidationError(genoerrors.CodeInvalidConfig,
			fmt.Sprintf("storage: bad location %q: %v", location, err))
	}
	switch u.Scheme {
	case "file":
		return NewLocalStorage(u.Path)
	case "s3":
		if u.Host == "" {
			return nil, genoerrors.NewValidationError(genoerrors.CodeInvalidConfig,
				fmt.Sprintf("storage: missing bucket in %q", location))
		}
		cfg.Prefix = strings.Trim(u.Path, "/")
		return NewS3Storage(ctx, u.Host, cfg)
	}
	return nil, genoerrors.NewValidationError(genoerrors.CodeInvalidConfig,
		fmt.Sprintf("storage: unsupported scheme %q", u.Scheme))
}

func uploadError(objectPath string, cause error) error {
	return genoerrors.NewStorageError(genoerrors.CodeUploadFailed, "storage: upload of "+objectPath+" failed", cause)
}

func downloadError(objectPath string, cause error) error {
	return genoerrors.NewStorageError(genoerrors.CodeDownloadFailed, "storage: download of "+objectPath+" failed", cause)
}
