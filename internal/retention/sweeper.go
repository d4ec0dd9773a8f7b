// Package retention removes proof and audio artifacts once they outlive the
// configured TTL.
package retention

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Sweeper periodically deletes old files from a set of artifact directories.
type Sweeper struct {
	dirs   []string
	ttl    time.Duration
	poll   time.Duration
	now    func() time.Time
	logger *slog.Logger
}

// NewSweeper creates a Sweeper for dirs. If pollInterval is <= 0 it
// defaults to ttl/4, bounded to [1m, 1h].
func NewSweeper(dirs []string, ttl, pollInterval time.Duration) *Sweeper {
	if pollInterval <= 0 {
		pollInterval = min(max(ttl/4, time.Minute), time.Hour)
	}
	return &Sweeper{
		dirs:   dirs,
		ttl:    ttl,
		poll:   pollInterval,
		now:    time.Now,
		logger: slog.Default(),
	}
}

// Run sweeps until ctx is cancelled. A zero TTL returns immediately.
func (s *Sweeper) Run(ctx context.Context) {
	if s.ttl <= 0 {
		return
	}
	for {
		if ctx.Err() != nil {
			return
		}

		n, err := s.RunOnce(ctx)
		if err != nil {
			s.logger.Error("artifact sweep failed", "error", err)
		}
		if n > 0 {
			s.logger.Info("expired artifacts removed", "count", n)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(s.poll):
		}
	}
}

// RunOnce removes every regular file older than the TTL and returns how
// many were deleted. Temp files from in-flight atomic writes and lock files
// are left alone.
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.ttl)
	removed := 0
	var errs []error

	for _, dir := range s.dirs {
		entries, err := os.ReadDir(dir)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("reading %s: %w", dir, err))
			continue
		}

		for _, e := range entries {
			if ctx.Err() != nil {
				return removed, ctx.Err()
			}
			if !e.Type().IsRegular() || skip(e.Name()) {
				continue
			}
			info, err := e.Info()
			if err != nil {
				continue
			}
			if info.ModTime().After(cutoff) {
				continue
			}

			path := filepath.Join(dir, e.Name())
			if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
				errs = append(errs, fmt.Errorf("removing %s: %w", path, err))
				continue
			}
			s.logger.Debug("artifact expired", "path", path, "age", s.now().Sub(info.ModTime()).Round(time.Second))
			removed++
		}
	}
	return removed, errors.Join(errs...)
}

func skip(name string) bool {
	return strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".lock")
}
