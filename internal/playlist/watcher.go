// Package playlist provides the URL sources the scheduler shuffles from:
// a media directory, or a list file with one path or URL per line. Both
// are monitored with fsnotify so the wall picks up new content without a
// restart.
package playlist

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"player-grid/internal/media"

	"github.com/fsnotify/fsnotify"
)

// OnChangeFunc is a callback invoked when the playlist changes.
// It receives the updated list of paths and URLs.
type OnChangeFunc func(urls []string)

// Watcher monitors a directory or list file and maintains the current
// set of playable entries.
type Watcher struct {
	mu       sync.RWMutex
	path     string
	isDir    bool
	urls     []string
	watcher  *fsnotify.Watcher
	onChange OnChangeFunc
	stopCh   chan struct{}
	stopOnce sync.Once
	logger   *slog.Logger
}

// NewWatcher creates a Watcher for the given directory or list file.
// The onChange callback fires whenever the entry list changes.
func NewWatcher(path string, onChange OnChangeFunc, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve playlist path: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("stat playlist: %w", err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		path:     abs,
		isDir:    info.IsDir(),
		watcher:  fw,
		onChange: onChange,
		stopCh:   make(chan struct{}),
		logger:   logger.With("component", "playlist"),
	}

	// Perform initial scan before starting the watch loop.
	w.scan()

	return w, nil
}

// scan re-reads the source and replaces the entry list.
func (w *Watcher) scan() {
	var (
		urls []string
		err  error
	)
	if w.isDir {
		urls, err = ScanDir(w.path)
	} else {
		urls, err = LoadList(w.path)
	}
	if err != nil {
		w.logger.Warn("scan failed", "path", w.path, "error", err)
		return
	}

	w.mu.Lock()
	w.urls = urls
	w.mu.Unlock()

	w.logger.Info("playlist scanned", "path", w.path, "entries", len(urls))
}

// URLs returns a copy of the current entry list.
func (w *Watcher) URLs() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	dst := make([]string, len(w.urls))
	copy(dst, w.urls)
	return dst
}

// Start begins watching for changes. It blocks until Stop is called or
// the underlying watcher is closed.
func (w *Watcher) Start() error {
	// Editors replace files by rename, so a list file is watched through
	// its parent directory.
	target := w.path
	if !w.isDir {
		target = filepath.Dir(w.path)
	}
	if err := w.watcher.Add(target); err != nil {
		return err
	}

	w.logger.Info("monitoring", "path", w.path)

	for {
		select {
		case <-w.stopCh:
			w.logger.Info("watcher stopped")
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if w.isRelevant(event) {
				w.logger.Debug("playlist event", "op", event.Op.String(), "name", event.Name)
				w.scan()
				if w.onChange != nil {
					w.onChange(w.URLs())
				}
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watcher error", "error", err)
		}
	}
}

// Stop halts the watcher loop and releases the fsnotify resources.
// Calling it more than once is safe.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		w.watcher.Close()
	})
}

// isRelevant filters events that would change the playlist contents.
func (w *Watcher) isRelevant(e fsnotify.Event) bool {
	if w.isDir {
		return e.Op&(fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0
	}
	if filepath.Clean(e.Name) != w.path {
		return false
	}
	return e.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0
}

// ScanDir lists the playable files directly inside dir, sorted.
func ScanDir(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if media.IsSupported(entry.Name()) {
			files = append(files, filepath.Join(dir, entry.Name()))
		}
	}

	sort.Strings(files)
	return files, nil
}
