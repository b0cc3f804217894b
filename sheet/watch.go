package sheet

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Change reports that a watched sheet file was modified.
type Change struct {
	Path string
	Op   fsnotify.Op
	At   time.Time
}

// Watcher watches one sheet file. Events arriving within the debounce
// window are merged into a single Change.
//
// The file's directory is watched rather than the file itself, so editors
// that replace the file on save are still observed.
type Watcher struct {
	watcher  *fsnotify.Watcher
	path     string
	debounce time.Duration
	changes  chan Change
}

// NewWatcher starts watching path.
func NewWatcher(path string, debounce time.Duration) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", path, err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watching %s: %w", filepath.Dir(abs), err)
	}

	return &Watcher{
		watcher:  fw,
		path:     abs,
		debounce: debounce,
		changes:  make(chan Change, 1),
	}, nil
}

// Changes delivers debounced changes. It is closed when Run returns.
func (w *Watcher) Changes() <-chan Change {
	return w.changes
}

// Run forwards changes until ctx is done or the watcher fails. It closes
// the underlying watcher on return.
func (w *Watcher) Run(ctx context.Context) error {
	defer close(w.changes)
	defer w.watcher.Close()

	var (
		timer   *time.Timer
		timerC  <-chan time.Time
		pending *Change
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path || event.Op == fsnotify.Chmod {
				continue
			}
			if pending == nil {
				pending = &Change{Path: w.path}
			}
			pending.Op |= event.Op
			pending.At = time.Now()

			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			timerC = timer.C

		case <-timerC:
			timerC = nil
			select {
			case w.changes <- *pending:
				pending = nil
			case <-ctx.Done():
				return nil
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("watching %s: %w", w.path, err)
		}
	}
}
