// Package watcher monitors a single local file for changes and emits
// debounced change events.
package watcher

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Event represents a settled write to the watched file.
type Event struct {
	Path      string
	Timestamp time.Time
}

// Watcher watches one file. Editors typically save in bursts (write,
// rename, chmod), so raw filesystem events restart a debounce timer and
// only its expiry emits an Event.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	path      string
	debounce  time.Duration

	events chan Event
	errors chan error

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

// New creates a watcher for path with the given debounce window.
func New(path string, debounce time.Duration) (*Watcher, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve path: %w", err)
	}
	if _, err := os.Stat(absPath); err != nil {
		return nil, fmt.Errorf("stat watched file: %w", err)
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &Watcher{
		fsWatcher: fsWatcher,
		path:      absPath,
		debounce:  debounce,
		events:    make(chan Event, 16),
		errors:    make(chan error, 4),
		done:      make(chan struct{}),
	}, nil
}

// Events returns the channel of debounced change events.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Errors returns the channel of watch errors.
func (w *Watcher) Errors() <-chan error {
	return w.errors
}

// Path returns the absolute path being watched.
func (w *Watcher) Path() string {
	return w.path
}

// Start begins watching. The parent directory is watched rather than the
// file itself so that atomic-save editors (write temp, rename over) do not
// silently drop the watch.
func (w *Watcher) Start() error {
	if err := w.fsWatcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watch directory: %w", err)
	}

	w.wg.Add(1)
	go w.loop()
	return nil
}

// Stop shuts the watcher down. Pending debounced events are dropped.
func (w *Watcher) Stop() error {
	w.once.Do(func() { close(w.done) })
	err := w.fsWatcher.Close()
	w.wg.Wait()
	close(w.events)
	close(w.errors)
	return err
}

func (w *Watcher) loop() {
	defer w.wg.Done()

	// The timer starts stopped; each relevant fs event restarts it, so the
	// window re-opens on every keystroke-level save until writes settle.
	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if !w.concerns(event) {
				continue
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(w.debounce)

		case <-timer.C:
			// A vanished file is mid-replace by an atomic save; the rename
			// landing will restart the window.
			if _, err := os.Stat(w.path); err != nil {
				continue
			}
			select {
			case w.events <- Event{Path: w.path, Timestamp: time.Now()}:
			default:
			}

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			select {
			case w.errors <- err:
			default:
			}
		}
	}
}

func (w *Watcher) concerns(event fsnotify.Event) bool {
	if filepath.Clean(event.Name) != w.path {
		return false
	}
	return event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0
}
