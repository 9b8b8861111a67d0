/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package storage

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"
)

// FSStore implements ObjectStore on a local directory.
type FSStore struct {
	rootDir string
	logger  zerolog.Logger
}

// NewFSStore creates a filesystem-backed object store rooted at rootDir.
func NewFSStore(rootDir string, logger zerolog.Logger) (*FSStore, error) {
	if err := os.MkdirAll(rootDir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}

	return &FSStore{
		rootDir: rootDir,
		logger:  logger.With().Str("component", "storage").Logger(),
	}, nil
}

// Put writes an object to disk.
func (f *FSStore) Put(_ context.Context, key string, data []byte) error {
	fullPath, err := f.resolve(key)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return fmt.Errorf("create directories: %w", err)
	}

	if err := os.WriteFile(fullPath, data, 0o644); err != nil {
		return fmt.Errorf("write object %s: %w", key, err)
	}

	f.logger.Debug().Str("key", key).Int("bytes", len(data)).Msg("object stored")
	return nil
}

// Get reads an object from disk.
func (f *FSStore) Get(_ context.Context, key string) ([]byte, error) {
	fullPath, err := f.resolve(key)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(fullPath)
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read object %s: %w", key, err)
	}
	return data, nil
}

// List returns all keys under the prefix, sorted ascending.
func (f *FSStore) List(_ context.Context, prefix string) ([]string, error) {
	var keys []string

	err := filepath.WalkDir(f.rootDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(f.rootDir, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list objects %s: %w", prefix, err)
	}

	sort.Strings(keys)
	return keys, nil
}

// Delete removes an object. Deleting a missing key is not an error.
func (f *FSStore) Delete(_ context.Context, key string) error {
	fullPath, err := f.resolve(key)
	if err != nil {
		return err
	}

	if err := os.Remove(fullPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete object %s: %w", key, err)
	}
	return nil
}

// resolve maps a key to an absolute path and rejects escapes from the root.
func (f *FSStore) resolve(key string) (string, error) {
	cleaned := filepath.Clean(filepath.FromSlash(key))
	if cleaned == "." || strings.HasPrefix(cleaned, "..") || filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("invalid object key: %s", key)
	}
	return filepath.Join(f.rootDir, cleaned), nil
}
