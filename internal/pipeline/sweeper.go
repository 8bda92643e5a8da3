package pipeline

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	workDirPattern = "req-*"
	workDirPrefix  = "req-"
)

// Sweeper removes per-run scratch directories orphaned by a crash or a
// killed process. A directory is stale once nothing inside it has been
// modified for the retention period.
type Sweeper struct {
	dir       string
	retention time.Duration
	interval  time.Duration
	now       func() time.Time
	log       zerolog.Logger
	stop      chan struct{}
	stopOnce  sync.Once
	done      chan struct{}
}

// NewSweeper creates a sweeper for dir. A zero retention disables sweeping.
func NewSweeper(dir string, retention time.Duration, log zerolog.Logger) *Sweeper {
	interval := time.Hour
	if retention > 0 && retention < interval {
		interval = retention
	}
	return &Sweeper{
		dir:       dir,
		retention: retention,
		interval:  interval,
		now:       time.Now,
		log:       log.With().Str("component", "scratch-sweeper").Logger(),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

func (s *Sweeper) Start() {
	go s.loop()
}

// Stop halts the sweep loop and waits for an in-flight sweep to finish.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done
}

func (s *Sweeper) loop() {
	defer close(s.done)
	if s.retention <= 0 {
		return
	}

	// Clear anything left over from before the restart
	s.Sweep()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.Sweep()
		case <-s.stop:
			return
		}
	}
}

// Sweep removes stale run directories and returns how many were removed.
func (s *Sweeper) Sweep() int {
	if s.retention <= 0 {
		return 0
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		s.log.Warn().Err(err).Str("dir", s.dir).Msg("scratch sweep: read dir failed")
		return 0
	}

	cutoff := s.now().Add(-s.retention)
	removed := 0
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), workDirPrefix) {
			continue
		}
		path := filepath.Join(s.dir, e.Name())
		if latestModTime(path).After(cutoff) {
			continue
		}
		if err := os.RemoveAll(path); err != nil {
			s.log.Warn().Err(err).Str("path", path).Msg("scratch sweep: remove failed")
			continue
		}
		removed++
	}

	if removed > 0 {
		s.log.Info().Int("removed", removed).Msg("scratch sweep complete")
	}
	return removed
}

func latestModTime(root string) time.Time {
	var latest time.Time
	filepath.WalkDir(root, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.ModTime().After(latest) {
			latest = info.ModTime()
		}
		return nil
	})
	return latest
}
