// monitor.go
package file

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// FileMonitor reports events for files of one directory.
type FileMonitor struct {
	watchDir  string
	watcher   *fsnotify.Watcher
	ops       fsnotify.Op
	lastFile  string
	lastEvent time.Time
	mu        sync.Mutex
}

// NewFileMonitor watches dir for the given operations (e.g.
// fsnotify.Remove|fsnotify.Rename).
func NewFileMonitor(dir string, ops fsnotify.Op) (*FileMonitor, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, err
	}

	return &FileMonitor{
		watchDir: dir,
		watcher:  watcher,
		ops:      ops,
	}, nil
}

// Watch calls handler for every matching event until ctx is done or the
// watcher is closed. Handlers run on the watch goroutine.
func (m *FileMonitor) Watch(ctx context.Context, handler func(name string, op fsnotify.Op)) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-m.watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&m.ops == 0 {
				continue
			}

			m.mu.Lock()
			m.lastFile = filepath.Clean(event.Name)
			m.lastEvent = time.Now()
			m.mu.Unlock()

			handler(event.Name, event.Op)
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("watch %s: %w", m.watchDir, err)
		}
	}
}

// Last returns the file of the most recent matching event.
func (m *FileMonitor) Last() (string, time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastFile, m.lastEvent
}

// Close stops the watcher; a running Watch returns.
func (m *FileMonitor) Close() error {
	return m.watcher.Close()
}
