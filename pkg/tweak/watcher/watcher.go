// Package watcher provides filesystem watching over knob target files so a
// GUI can refresh status live instead of polling. Only file-backed kinds
// are watchable; sysfs and systemd state have no inotify story and stay on
// the caller's poll cadence.
package watcher

import (
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"github.com/tweakctl/tweakctl/pkg/tweak/logging"
	"github.com/tweakctl/tweakctl/pkg/tweak/types"
)

var logger = logging.Get("watcher")

// Watcher maps filesystem events on knob target files to the knob ids whose
// status may have changed.
type Watcher struct {
	fsw     *fsnotify.Watcher
	mu      sync.RWMutex
	byPath  map[string][]string // target path -> knob ids
	watched map[string]bool     // directories added to fsnotify
	subs    map[string]chan string
	closed  bool
	done    chan struct{}
}

// New creates a Watcher over the given knobs. Target files are watched via
// their parent directories so creations and deletions are seen too.
func New(knobs []*types.Knob) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		fsw:     fsw,
		byPath:  map[string][]string{},
		watched: map[string]bool{},
		subs:    map[string]chan string{},
		done:    make(chan struct{}),
	}
	for _, k := range knobs {
		for _, path := range watchablePaths(k) {
			w.byPath[path] = append(w.byPath[path], k.ID)
			w.addDir(filepath.Dir(path))
		}
	}

	go w.run()
	return w, nil
}

// Subscribe returns a subscription id and a channel of knob ids whose
// status may have changed. The channel is buffered; a slow consumer drops
// notifications rather than blocking the watch loop.
func (w *Watcher) Subscribe() (string, <-chan string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	id := uuid.NewString()
	ch := make(chan string, 64)
	w.subs[id] = ch
	return id, ch
}

// Unsubscribe removes a subscription and closes its channel.
func (w *Watcher) Unsubscribe(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if ch, ok := w.subs[id]; ok {
		delete(w.subs, id)
		close(ch)
	}
}

// Close stops the watch loop and closes all subscriber channels.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()

	err := w.fsw.Close()
	<-w.done

	w.mu.Lock()
	defer w.mu.Unlock()
	for id, ch := range w.subs {
		delete(w.subs, id)
		close(ch)
	}
	return err
}

func (w *Watcher) addDir(dir string) {
	if w.watched[dir] {
		return
	}
	if err := w.fsw.Add(dir); err != nil {
		// Missing directories are common: the knob's target file may
		// not exist yet. Events for it arrive once a parent is
		// watchable.
		logger.Debug("could not watch directory", "dir", dir, "error", err)
		return
	}
	w.watched[dir] = true
}

func (w *Watcher) run() {
	defer close(w.done)
	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.dispatch(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			logger.Warn("watch error", "error", err)
		}
	}
}

func (w *Watcher) dispatch(event fsnotify.Event) {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}

	w.mu.RLock()
	defer w.mu.RUnlock()

	knobs, ok := w.byPath[filepath.Clean(event.Name)]
	if !ok {
		return
	}
	for _, id := range knobs {
		for _, ch := range w.subs {
			select {
			case ch <- id:
			default:
				// Drop rather than block the watch loop.
			}
		}
	}
}

// watchablePaths returns the file paths whose changes affect the knob's
// status.
func watchablePaths(k *types.Knob) []string {
	if k.Impl == nil {
		return nil
	}
	switch k.Impl.Kind {
	case types.KindLimitsAppend, types.KindSysctlAppend:
		return []string{filepath.Clean(k.Impl.Lines.Path)}
	case types.KindUdevRule, types.KindAppConfig:
		return []string{filepath.Clean(k.Impl.File.Path)}
	default:
		return nil
	}
}
