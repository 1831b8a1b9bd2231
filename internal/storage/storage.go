package storage

import (
	"context"
	"errors"

	"golang.org/x/xerrors"
)

var (
	// ErrNotExist is returned when nothing is stored under a key.
	ErrNotExist = errors.New("object does not exist")
	// ErrExist is returned by Create when the key is already taken.
	ErrExist = errors.New("object already exists")
)

type Storage interface {
	// Put stores data with the given key and returns the storage URL
	Put(ctx context.Context, key string, data []byte) (string, error)
	// Get retrieves data from the given storage URL
	Get(ctx context.Context, url string) ([]byte, error)
	// Create stores data only if the key is free. When another writer got there first it
	// returns the existing URL together with ErrExist. Readers never observe a partial object.
	Create(ctx context.Context, key string, data []byte) (string, error)
	// Lookup returns the URL of key, or ErrNotExist.
	Lookup(ctx context.Context, key string) (string, error)
}

type Config struct {
	// Backend is one of "file", "s3" or "memory".
	Backend   string
	Directory string
	Bucket    string
}

func New(ctx context.Context, c Config) (Storage, error) {
	switch c.Backend {
	case "", "file":
		return NewFileStorage(ctx, FileConfig{
			Directory: c.Directory,
		})
	case "s3":
		return NewS3Storage(ctx, S3Config{
			Bucket: c.Bucket,
		})
	case "memory":
		return NewMemoryStorage(), nil
	default:
		return nil, xerrors.Errorf("unknown storage backend: %s", c.Backend)
	}
}
