package classifier

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounceDelay coalesces editor write bursts into one invalidation.
const DefaultDebounceDelay = 100 * time.Millisecond

// Invalidator is the subset of the classifier the watcher drives. Split out
// so watcher tests can count invalidations without a real classifier.
type Invalidator interface {
	Invalidate(path string)
}

// Watcher invalidates cached analyses when unit sources change on disk.
// Create and remove events invalidate immediately; writes are debounced.
type Watcher struct {
	watcher *fsnotify.Watcher
	target  Invalidator
	match   func(path string) bool
	done    chan struct{}

	mu       sync.Mutex
	delay    time.Duration
	pending  map[string]*time.Timer
	closed   bool
	invalids int
}

// NewWatcher watches rootDir recursively and invalidates entries in target
// for files accepted by match. A nil match accepts every file.
func NewWatcher(rootDir string, target Invalidator, match func(path string) bool) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if match == nil {
		match = func(string) bool { return true }
	}

	w := &Watcher{
		watcher: fsw,
		target:  target,
		match:   match,
		done:    make(chan struct{}),
		delay:   DefaultDebounceDelay,
		pending: make(map[string]*time.Timer),
	}

	if err := w.addRecursive(filepath.Clean(rootDir)); err != nil {
		fsw.Close()
		return nil, err
	}

	go w.run()
	return w, nil
}

func (w *Watcher) addRecursive(dir string) error {
	return filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if info.IsDir() {
			if err := w.watcher.Add(path); err != nil {
				if os.IsPermission(err) {
					return nil
				}
				return err
			}
		}
		return nil
	})
}

func (w *Watcher) run() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handle(event)
		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			// Watcher errors are not actionable here; the next full scan
			// re-analyzes anything missed.
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	path := event.Name

	// New directories need watches of their own.
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			w.addRecursive(path)
			return
		}
	}

	if !w.match(path) {
		return
	}

	switch {
	case event.Has(fsnotify.Write):
		w.debounce(path)
	case event.Has(fsnotify.Create), event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		w.invalidate(path)
	}
}

func (w *Watcher) debounce(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return
	}
	if timer, exists := w.pending[path]; exists {
		timer.Stop()
	}
	w.pending[path] = time.AfterFunc(w.delay, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
		w.invalidate(path)
	})
}

func (w *Watcher) invalidate(path string) {
	w.target.Invalidate(path)
	w.mu.Lock()
	w.invalids++
	w.mu.Unlock()
}

// Invalidations returns how many invalidations the watcher has delivered.
func (w *Watcher) Invalidations() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.invalids
}

// SetDebounceDelay adjusts write coalescing. Call before events start.
func (w *Watcher) SetDebounceDelay(delay time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.delay = delay
}

// Close stops watching and cancels pending debounce timers.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	for _, timer := range w.pending {
		timer.Stop()
	}
	w.pending = nil
	w.mu.Unlock()

	close(w.done)
	return w.watcher.Close()
}
