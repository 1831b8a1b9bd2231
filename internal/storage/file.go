package storage

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"golang.org/x/xerrors"
)

type fileStorage struct {
	config FileConfig
}

type FileConfig struct {
	Directory string
}

// NewFileStorage creates a new file storage backend
func NewFileStorage(ctx context.Context, f FileConfig) (Storage, error) {
	if f.Directory == "" {
		f.Directory = "."
	}

	return &fileStorage{
		config: f,
	}, nil
}

func (a *fileStorage) path(key string) string {
	return filepath.Join(a.config.Directory, filepath.FromSlash(key))
}

func (a *fileStorage) Put(ctx context.Context, key string, data []byte) (string, error) {
	filePath := a.path(key)

	tmp, err := a.writeTemp(filePath, data)
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp)

	if err := os.Rename(tmp, filePath); err != nil {
		return "", xerrors.Errorf("failed to move file into place: %w", err)
	}

	return filePath, nil
}

func (a *fileStorage) Create(ctx context.Context, key string, data []byte) (string, error) {
	filePath := a.path(key)

	tmp, err := a.writeTemp(filePath, data)
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp)

	// link(2) fails when the target exists, so exactly one writer wins.
	if err := os.Link(tmp, filePath); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return filePath, ErrExist
		}
		return "", xerrors.Errorf("failed to link file into place: %w", err)
	}

	return filePath, nil
}

func (a *fileStorage) Lookup(ctx context.Context, key string) (string, error) {
	filePath := a.path(key)

	if _, err := os.Stat(filePath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", ErrNotExist
		}
		return "", xerrors.Errorf("failed to stat file: %w", err)
	}

	return filePath, nil
}

func (a *fileStorage) Get(ctx context.Context, url string) ([]byte, error) {
	data, err := os.ReadFile(url)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, xerrors.Errorf("failed to read file %s: %w", url, ErrNotExist)
		}
		return nil, xerrors.Errorf("failed to read file: %w", err)
	}

	return data, nil
}

// writeTemp writes data next to filePath so the final rename or link stays on one filesystem.
func (a *fileStorage) writeTemp(filePath string, data []byte) (string, error) {
	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", xerrors.Errorf("failed to create output directory: %w", err)
	}

	file, err := os.CreateTemp(dir, "."+filepath.Base(filePath)+".*.tmp")
	if err != nil {
		return "", xerrors.Errorf("failed to create temporary file: %w", err)
	}

	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(file.Name())
		return "", xerrors.Errorf("failed to write file: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(file.Name())
		return "", xerrors.Errorf("failed to sync file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(file.Name())
		return "", xerrors.Errorf("failed to close file: %w", err)
	}
	if err := os.Chmod(file.Name(), 0644); err != nil {
		os.Remove(file.Name())
		return "", xerrors.Errorf("failed to chmod file: %w", err)
	}

	return file.Name(), nil
}
