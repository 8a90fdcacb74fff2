package tempstore

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"omr-grader/internal/logger"
)

const (
	workDir    = "work"
	holdingDir = "holding"
)

// Store owns the on-disk work and holding areas. Request inputs are staged
// under work/<requestID>/ and moved to holding/ once the request succeeds.
// Anything in holding/ older than the retention window is swept.
type Store struct {
	root      string
	retention time.Duration
}

func New(root string, retention time.Duration) (*Store, error) {
	for _, dir := range []string{workDir, holdingDir} {
		if err := os.MkdirAll(filepath.Join(root, dir), 0o755); err != nil {
			return nil, fmt.Errorf("creating %s area: %w", dir, err)
		}
	}
	return &Store{root: root, retention: retention}, nil
}

func (s *Store) Retention() time.Duration { return s.retention }

func (s *Store) WorkDir() string { return filepath.Join(s.root, workDir) }

func (s *Store) HoldingDir() string { return filepath.Join(s.root, holdingDir) }

// Staged is a request input written to the work area.
type Staged struct {
	store     *Store
	requestID string
	name      string
	path      string
	mu        sync.Mutex
	done      bool
}

func (st *Staged) Path() string { return st.path }

// Stage writes data to work/<requestID>/<name> via a temp file and rename.
func (s *Store) Stage(requestID, name string, data []byte) (*Staged, error) {
	requestID = sanitize(requestID)
	name = sanitize(name)
	if requestID == "" || name == "" {
		return nil, fmt.Errorf("staging: empty request id or name")
	}

	dir := filepath.Join(s.WorkDir(), requestID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating request dir: %w", err)
	}

	dst := filepath.Join(dir, name)
	tmp, err := os.CreateTemp(dir, name+".*.tmp")
	if err != nil {
		return nil, fmt.Errorf("create temp: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return nil, fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return nil, fmt.Errorf("close temp: %w", err)
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		_ = os.Remove(tmpPath)
		return nil, fmt.Errorf("rename: %w", err)
	}

	logger.DebugLog("[tempstore]: staged %s", dst)
	return &Staged{store: s, requestID: requestID, name: name, path: dst}, nil
}

// Keep moves the staged file into the holding area and restarts its
// retention clock. Calling Keep or Discard again is a no-op.
func (st *Staged) Keep() error {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.done {
		return nil
	}
	st.done = true

	dst := filepath.Join(st.store.HoldingDir(), st.requestID+"-"+st.name)
	if err := os.Rename(st.path, dst); err != nil {
		return fmt.Errorf("moving %s to holding: %w", st.name, err)
	}
	now := time.Now()
	if err := os.Chtimes(dst, now, now); err != nil {
		logger.Warnf("[tempstore]: touching %s: %v", dst, err)
	}
	st.removeRequestDir()
	st.path = dst
	return nil
}

// Discard deletes the staged file.
func (st *Staged) Discard() error {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.done {
		return nil
	}
	st.done = true

	err := os.Remove(st.path)
	st.removeRequestDir()
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("discarding %s: %w", st.name, err)
	}
	return nil
}

// removeRequestDir drops work/<requestID> once its last file is gone.
func (st *Staged) removeRequestDir() {
	_ = os.Remove(filepath.Join(st.store.WorkDir(), st.requestID))
}

// Sweep removes holding entries whose age at now strictly exceeds the
// retention window, plus work directories orphaned for as long. Entries
// removed concurrently by someone else are not an error.
func (s *Store) Sweep(now time.Time) (int, error) {
	removed := 0
	var errs []error

	n, err := s.sweepDir(s.HoldingDir(), now, os.Remove)
	removed += n
	if err != nil {
		errs = append(errs, err)
	}

	n, err = s.sweepDir(s.WorkDir(), now, os.RemoveAll)
	removed += n
	if err != nil {
		errs = append(errs, err)
	}

	return removed, errors.Join(errs...)
}

func (s *Store) sweepDir(dir string, now time.Time, remove func(string) error) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("reading %s: %w", dir, err)
	}

	removed := 0
	var errs []error
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				errs = append(errs, err)
			}
			continue
		}
		if now.Sub(info.ModTime()) <= s.retention {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		if err := remove(path); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				errs = append(errs, fmt.Errorf("removing %s: %w", path, err))
			}
			continue
		}
		removed++
		logger.DebugLog("[tempstore]: swept %s", path)
	}
	return removed, errors.Join(errs...)
}

// Sweeper runs Sweep on a fixed interval until stopped.
type Sweeper struct {
	stop chan struct{}
	done chan struct{}
	once sync.Once
}

func (s *Store) StartSweeper(interval time.Duration) *Sweeper {
	sw := &Sweeper{stop: make(chan struct{}), done: make(chan struct{})}
	if interval <= 0 {
		close(sw.done)
		return sw
	}

	go func() {
		defer close(sw.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case now := <-ticker.C:
				n, err := s.Sweep(now)
				entry := logger.WithFields(logrus.Fields{"removed": n, "retention": s.retention})
				if err != nil {
					entry.WithError(err).Warn("holding area sweep finished with errors")
					continue
				}
				if n > 0 {
					entry.Info("holding area swept")
				}
			case <-sw.stop:
				return
			}
		}
	}()
	return sw
}

// Stop returns once the sweep goroutine has exited.
func (sw *Sweeper) Stop() {
	sw.once.Do(func() { close(sw.stop) })
	<-sw.done
}

func sanitize(name string) string {
	name = filepath.Base(strings.TrimSpace(name))
	if name == "." || name == string(filepath.Separator) || name == ".." {
		return ""
	}
	return name
}
