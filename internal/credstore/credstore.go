// Package credstore keeps transport credentials in a directory on disk.
package credstore

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Dir is a directory-backed credential store. Each key is one file.
type Dir struct {
	path string
}

// New returns a credential store rooted at path. The directory is created lazily.
func New(path string) *Dir {
	return &Dir{path: path}
}

// Path returns the credential directory.
func (d *Dir) Path() string { return d.path }

// Load reads the credential blob stored under key.
// Returns os.ErrNotExist (wrapped) when nothing is stored.
func (d *Dir) Load(key string) ([]byte, error) {
	name, err := d.file(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("load credentials %s: %w", key, err)
	}
	return data, nil
}

// Save writes data under key with owner-only permissions.
func (d *Dir) Save(key string, data []byte) error {
	name, err := d.file(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(d.path, 0o700); err != nil {
		return fmt.Errorf("create credential dir: %w", err)
	}
	tmp := name + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write credentials %s: %w", key, err)
	}
	if err := os.Rename(tmp, name); err != nil {
		return fmt.Errorf("commit credentials %s: %w", key, err)
	}
	return nil
}

// Clear deletes the whole credential directory. Missing directories are fine.
func (d *Dir) Clear() error {
	if err := os.RemoveAll(d.path); err != nil {
		return fmt.Errorf("clear credentials: %w", err)
	}
	slog.Info("credentials cleared", "path", d.path)
	return nil
}

func (d *Dir) file(key string) (string, error) {
	if key == "" || strings.ContainsAny(key, `/\`) || key == "." || key == ".." {
		return "", errors.New("invalid credential key: " + key)
	}
	return filepath.Join(d.path, key), nil
}
