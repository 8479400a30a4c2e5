package local

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"

	"github.com/cloudrotate/rotate-backups/cmd/internal/storage"

	"github.com/spf13/afero"
)

// Storage implements the storage contract for a local directory, useful
// for rotating backups written to a mounted volume and for tests.
type Storage struct {
	fs     afero.Fs
	log    *slog.Logger
	config *Config
}

// Config provides configuration for the local storage backend.
type Config struct {
	// Path is the directory containing the backups.
	Path string
	FS   afero.Fs
}

func (c *Config) validate() error {
	if c.Path == "" {
		return errors.New("local backup path must not be empty")
	}

	return nil
}

// New returns a local directory storage backend.
func New(log *slog.Logger, config *Config) (*Storage, error) {
	if config == nil {
		return nil, errors.New("local storage requires a config")
	}

	if config.FS == nil {
		config.FS = afero.NewOsFs()
	}

	err := config.validate()
	if err != nil {
		return nil, err
	}

	return &Storage{
		config: config,
		log:    log,
		fs:     config.FS,
	}, nil
}

// Name returns the directory path.
func (s *Storage) Name() string {
	return s.config.Path
}

// Kind describes the backing objects.
func (s *Storage) Kind() string {
	return "file"
}

// ListNames enumerates the file names in the backup directory.
// Subdirectories are not descended into, a backup is a single file.
func (s *Storage) ListNames(_ context.Context) ([]string, error) {
	d, err := s.fs.Open(s.config.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, s.config.Path)
		}
		return nil, err
	}
	defer func() {
		_ = d.Close()
	}()

	names, err := d.Readdirnames(-1)
	if err != nil {
		return nil, err
	}

	var files []string
	for _, name := range names {
		info, err := s.fs.Stat(filepath.Join(s.config.Path, name))
		if err != nil {
			return nil, err
		}
		if info.IsDir() {
			continue
		}
		files = append(files, name)
	}

	return files, nil
}

// DeleteNames removes the given files. Failures are collected so that one
// undeletable file does not keep the rest of the batch from being
// removed.
func (s *Storage) DeleteNames(_ context.Context, names []string) error {
	var failed []string
	for _, name := range names {
		err := s.fs.Remove(filepath.Join(s.config.Path, name))
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			s.log.Warn("file deletion failed", "name", name, "error", err)
			failed = append(failed, name)
		}
	}

	if len(failed) > 0 {
		return &storage.PartialDeletionError{Failed: failed}
	}

	return nil
}
