// Package blob stores media payloads (generated or uploaded images and
// videos) under opaque keys. Records about them live in the main store;
// this is just the bytes.
package blob

import (
	"context"
	"os"

	"github.com/sirupsen/logrus"
)

type Storage interface {
	// Put writes the blob and returns a client-resolvable URL for it.
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// GetStorage selects a backend from BLOB_STORAGE_TYPE.
func GetStorage() Storage {
	storageType := os.Getenv("BLOB_STORAGE_TYPE")
	field := logrus.Fields{"blobStorageType": storageType}

	var storage Storage
	switch storageType {
	case "filesystem":
		basePath := os.Getenv("LOCAL_BLOB_PATH")
		if basePath == "" {
			basePath = "./media"
		}
		field["basePath"] = basePath
		storage = NewFilesystemStorage(basePath)
	case "s3":
		bucketName := os.Getenv("S3_BUCKET_NAME")
		if bucketName == "" {
			logrus.Fatal("S3_BUCKET_NAME environment variable must be set for s3 blob storage")
		}
		field["bucketName"] = bucketName
		storage = NewS3Storage(bucketName)
	default:
		storage = NewMemoryStorage()
		field["blobStorageType"] = "in-memory"
	}
	logrus.WithFields(field).Info("Use blob storage")
	return storage
}
