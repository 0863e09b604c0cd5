// Package sweep removes orphan files: bytes in the upload directory that no
// file row points at. Files younger than the grace period are left alone so
// uploads staged for an open transaction are never touched.
package sweep

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/afero"
	"gorm.io/gorm"

	"alertbox/models"
	"alertbox/pkg/metrics"
)

const (
	DefaultGrace    = 10 * time.Minute
	DefaultInterval = time.Hour

	pollInterval = time.Second
)

// Options controls a Sweeper.
type Options struct {
	Grace    time.Duration
	Interval time.Duration
	DryRun   bool
}

// Report summarizes one sweep.
type Report struct {
	Scanned int
	Orphans []string
	Removed int
}

// Sweeper finds and removes orphan files under one directory.
type Sweeper struct {
	fs   afero.Fs
	db   *gorm.DB
	dir  string
	opts Options
	log  *log.Logger
	now  func() time.Time
	// poll is how often Watch re-checks files that were created recently.
	poll time.Duration
	// onWatch runs once the watcher is registered and the first sweep is done.
	onWatch func()
}

// New returns a Sweeper for dir. Zero durations fall back to the defaults.
func New(fsys afero.Fs, db *gorm.DB, dir string, opts Options, logger *log.Logger) *Sweeper {
	if opts.Grace <= 0 {
		opts.Grace = DefaultGrace
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	return &Sweeper{fs: fsys, db: db, dir: dir, opts: opts, log: logger, now: time.Now, poll: pollInterval}
}

// Sweep scans the directory once.
func (s *Sweeper) Sweep(ctx context.Context) (Report, error) {
	var rep Report
	entries, err := afero.ReadDir(s.fs, s.dir)
	if err != nil {
		return rep, fmt.Errorf("read upload dir %s: %w", s.dir, err)
	}
	known, err := s.knownNames(ctx)
	if err != nil {
		return rep, err
	}
	for _, e := range entries {
		if !e.Mode().IsRegular() {
			continue
		}
		rep.Scanned++
		if !s.orphan(e, known) {
			continue
		}
		rep.Orphans = append(rep.Orphans, e.Name())
		if s.remove(e.Name()) {
			rep.Removed++
		}
	}
	s.log.Info("sweep finished", "dir", s.dir, "scanned", rep.Scanned, "orphans", len(rep.Orphans), "removed", rep.Removed, "dry_run", s.opts.DryRun)
	return rep, nil
}

// Check re-examines a single file by name and removes it if it is an orphan.
// It reports whether the file was an orphan.
func (s *Sweeper) Check(ctx context.Context, name string) (bool, error) {
	info, err := s.fs.Stat(filepath.Join(s.dir, name))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !info.Mode().IsRegular() {
		return false, nil
	}
	known, err := s.knownNames(ctx)
	if err != nil {
		return false, err
	}
	if !s.orphan(info, known) {
		return false, nil
	}
	s.remove(name)
	return true, nil
}

// Watch sweeps once, then follows new files with fsnotify, checking each once
// it is older than the grace period, and sweeps again every Interval. It
// returns when ctx is cancelled.
func (s *Sweeper) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	if err := w.Add(s.dir); err != nil {
		return err
	}
	if _, err := s.Sweep(ctx); err != nil {
		s.log.Error("sweep failed", "err", err)
	}
	s.log.Info("watching upload dir", "dir", s.dir, "grace", s.opts.Grace)
	if s.onWatch != nil {
		s.onWatch()
	}

	pending := map[string]time.Time{}
	poll := time.NewTicker(s.poll)
	defer poll.Stop()
	full := time.NewTicker(s.opts.Interval)
	defer full.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Create) {
				pending[filepath.Base(ev.Name)] = s.now()
			}
		case <-poll.C:
			now := s.now()
			for name, seen := range pending {
				if now.Sub(seen) <= s.opts.Grace {
					continue
				}
				delete(pending, name)
				if _, err := s.Check(ctx, name); err != nil {
					s.log.Error("orphan check failed", "file", name, "err", err)
				}
			}
		case <-full.C:
			if _, err := s.Sweep(ctx); err != nil {
				s.log.Error("sweep failed", "err", err)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.log.Warn("watch error", "err", err)
		}
	}
}

// knownNames returns the base names of every stored file path.
func (s *Sweeper) knownNames(ctx context.Context) (map[string]struct{}, error) {
	var paths []string
	if err := s.db.WithContext(ctx).Model(&models.File{}).Pluck("path", &paths).Error; err != nil {
		return nil, fmt.Errorf("list file paths: %w", err)
	}
	known := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		known[path.Base(strings.ReplaceAll(p, `\`, "/"))] = struct{}{}
	}
	return known, nil
}

func (s *Sweeper) orphan(info os.FileInfo, known map[string]struct{}) bool {
	if _, ok := known[info.Name()]; ok {
		return false
	}
	return s.now().Sub(info.ModTime()) > s.opts.Grace
}

// remove deletes an orphan unless this is a dry run. It reports whether the
// file was removed.
func (s *Sweeper) remove(name string) bool {
	if s.opts.DryRun {
		s.log.Info("would remove orphan file", "file", name)
		return false
	}
	if err := s.fs.Remove(filepath.Join(s.dir, name)); err != nil {
		s.log.Error("failed to remove orphan file", "file", name, "err", err)
		return false
	}
	metrics.OrphansRemovedTotal.Inc()
	s.log.Info("removed orphan file", "file", name)
	return true
}
