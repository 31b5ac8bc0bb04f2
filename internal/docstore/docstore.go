// Package docstore stores the JSON documents that accompany the metadata
// index: analysis parameter documents and per-record metadata. The index
// holds only URIs; the documents themselves live behind this interface.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
)

// Driver identifies a concrete document storage backend.
type Driver string

const (
	// DriverFilesystem stores documents under a local directory (default, dev).
	DriverFilesystem Driver = "fs"
	// DriverS3 stores documents in an S3 / MinIO compatible bucket.
	DriverS3 Driver = "s3"
	// DriverMemory keeps documents in process memory (tests).
	DriverMemory Driver = "memory"
)

const contentTypeJSON = "application/json"

// Info describes a stored document.
type Info struct {
	Key          string `json:"key"`
	Size         int64  `json:"size_bytes"`
	ETag         string `json:"etag,omitempty"`
	URI          string `json:"uri,omitempty"`
	LastModified string `json:"last_modified,omitempty"`
}

var (
	// ErrNotFound is returned when no document exists under a key.
	ErrNotFound = errors.New("docstore: document not found")
	// ErrAlreadyExists is returned by Put when the key is taken. Documents are
	// immutable once written; replace means delete then put.
	ErrAlreadyExists = errors.New("docstore: document already exists")
)

// Store persists JSON documents under opaque keys. Put is create-only.
type Store interface {
	Put(ctx context.Context, key string, doc any) (Info, error)
	Get(ctx context.Context, key string, out any) (Info, error)
	Head(ctx context.Context, key string) (Info, error)
	Delete(ctx context.Context, key string) (bool, error)
	List(ctx context.Context, prefix string) ([]Info, error)
	Driver() Driver
}

// AnalysisDocKey returns the canonical key for an analysis parameter document.
func AnalysisDocKey(analysisID int64) string {
	return "analysis/" + strconv.FormatInt(analysisID, 10) + ".json"
}

// DataMetadataKey returns the canonical key for a data record metadata
// document.
func DataMetadataKey(dataID int64) string {
	return "data/" + strconv.FormatInt(dataID, 10) + ".json"
}

// Open selects a Store implementation using environment variables.
//
//	TRACECORE_DOCSTORE_DRIVER: fs|s3|memory (default fs)
//	TRACECORE_DOCSTORE_FS_ROOT: directory root when driver=fs (default ./docdata)
//	(S3 specific variables documented in s3.go)
func Open(ctx context.Context) (Store, error) {
	driver := os.Getenv("TRACECORE_DOCSTORE_DRIVER")
	if driver == "" {
		driver = string(DriverFilesystem)
	}
	switch Driver(driver) {
	case DriverFilesystem:
		return NewFilesystem(os.Getenv("TRACECORE_DOCSTORE_FS_ROOT"))
	case DriverS3:
		return OpenS3FromEnv(ctx)
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown docstore driver %s", driver)
	}
}
