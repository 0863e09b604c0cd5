// Package filestore deletes attachment bytes from the upload directory.
package filestore

import (
	"errors"
	"fmt"
	"io/fs"
	"path"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"alertbox/models"
	"alertbox/pkg/metrics"
)

// Store removes files that live directly under Root.
type Store struct {
	fs   afero.Fs
	root string
	log  *log.Logger
}

// New returns a Store rooted at dir.
func New(fsys afero.Fs, dir string, logger *log.Logger) *Store {
	return &Store{fs: fsys, root: dir, log: logger}
}

// Root is the upload directory this store resolves paths against.
func (s *Store) Root() string { return s.root }

// Resolve maps a stored path onto the upload directory using only its base
// name, so traversal segments in the stored value are ignored.
func (s *Store) Resolve(logicalPath string) (string, error) {
	name := baseName(logicalPath)
	if name == "" || name == "." || name == ".." || name == "/" {
		return "", &fs.PathError{Op: "resolve", Path: logicalPath, Err: fs.ErrNotExist}
	}
	return filepath.Join(s.root, name), nil
}

// RemoveFile deletes the file a stored path refers to. A missing file yields an
// error satisfying IsNotFound.
func (s *Store) RemoveFile(logicalPath string) error {
	target, err := s.Resolve(logicalPath)
	if err != nil {
		return err
	}
	info, err := s.fs.Stat(target)
	if err != nil {
		return fmt.Errorf("remove %s: %w", logicalPath, err)
	}
	if info.IsDir() {
		return &fs.PathError{Op: "remove", Path: target, Err: fs.ErrInvalid}
	}
	if err := s.fs.Remove(target); err != nil {
		return fmt.Errorf("remove %s: %w", logicalPath, err)
	}
	metrics.FilesRemovedTotal.Inc()
	return nil
}

// RemoveFiles removes every record's file concurrently. All removals are
// attempted; the first failure is returned.
func (s *Store) RemoveFiles(files []models.File) error {
	var g errgroup.Group
	for _, f := range files {
		g.Go(func() error {
			if err := s.RemoveFile(f.Path); err != nil {
				s.log.Error("failed to delete file from filesystem", "path", f.Path, "err", err)
				return err
			}
			return nil
		})
	}
	return g.Wait()
}

// Purge is RemoveFiles for rows that are already gone from the database: files
// missing on disk count as removed.
func (s *Store) Purge(files []models.File) error {
	var g errgroup.Group
	for _, f := range files {
		g.Go(func() error {
			err := s.RemoveFile(f.Path)
			switch {
			case IsNotFound(err):
				s.log.Warn("file already missing from filesystem", "path", f.Path)
				return nil
			case err != nil:
				s.log.Error("failed to delete file from filesystem", "path", f.Path, "err", err)
				return err
			}
			return nil
		})
	}
	return g.Wait()
}

// IsNotFound reports whether err means the file was already gone.
func IsNotFound(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}

func baseName(p string) string {
	p = strings.ReplaceAll(p, `\`, "/")
	return path.Base(path.Clean(p))
}
