package reload

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long a Watcher waits for a burst of events to
// settle before notifying.
const DefaultDebounce = 100 * time.Millisecond

// ErrWatcherClosed is returned when using a closed watcher.
var ErrWatcherClosed = errors.New("reload: watcher closed")

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithDebounce sets the settle interval.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithExtensions restricts notifications to files with one of the given
// extensions (".yaml", ".wgsl"). By default every file counts.
func WithExtensions(exts ...string) WatcherOption {
	return func(w *Watcher) {
		for _, e := range exts {
			if !strings.HasPrefix(e, ".") {
				e = "." + e
			}
			w.exts = append(w.exts, strings.ToLower(e))
		}
	}
}

// WithChangeHandler calls fn with the sorted changed paths of every burst,
// before the registry is notified.
func WithChangeHandler(fn func(paths []string)) WatcherOption {
	return func(w *Watcher) { w.onChange = fn }
}

// Watcher watches files and directories and notifies a Registry when they
// change.
type Watcher struct {
	fs  *fsnotify.Watcher
	reg *Registry

	debounce time.Duration
	exts     []string
	onChange func(paths []string)

	closeOnce sync.Once
	done      chan struct{}
}

// NewWatcher creates a watcher notifying reg.
func NewWatcher(reg *Registry, opts ...WatcherOption) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("reload: create watcher: %w", err)
	}
	w := &Watcher{
		fs:       fsw,
		reg:      reg,
		debounce: DefaultDebounce,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Add watches path. Directories are watched non-recursively.
func (w *Watcher) Add(path string) error {
	if err := w.fs.Add(path); err != nil {
		if errors.Is(err, fsnotify.ErrClosed) {
			return ErrWatcherClosed
		}
		return fmt.Errorf("reload: watch %s: %w", path, err)
	}
	slogger().Info("reload: watching", "path", path)
	return nil
}

// Run delivers notifications until ctx is done or the watcher is closed.
func (w *Watcher) Run(ctx context.Context) error {
	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	pending := make(map[string]struct{})
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-w.done:
			return nil

		case ev, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			if !w.relevant(ev) {
				continue
			}
			pending[ev.Name] = struct{}{}
			timer.Reset(w.debounce)

		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			slogger().Warn("reload: watcher error", "err", err)

		case <-timer.C:
			w.flush(pending)
			clear(pending)
		}
	}
}

func (w *Watcher) relevant(ev fsnotify.Event) bool {
	if !ev.Op.Has(fsnotify.Write) && !ev.Op.Has(fsnotify.Create) &&
		!ev.Op.Has(fsnotify.Rename) && !ev.Op.Has(fsnotify.Remove) {
		return false
	}
	if len(w.exts) == 0 {
		return true
	}
	return slices.Contains(w.exts, strings.ToLower(filepath.Ext(ev.Name)))
}

func (w *Watcher) flush(pending map[string]struct{}) {
	if len(pending) == 0 {
		return
	}
	paths := make([]string, 0, len(pending))
	for p := range pending {
		paths = append(paths, p)
	}
	slices.Sort(paths)

	if w.onChange != nil {
		w.onChange(paths)
	}
	n := 0
	if w.reg != nil {
		n = w.reg.NotifyAll()
	}
	slogger().Info("reload: change detected", "files", len(paths), "listeners", n)
}

// Close stops the watcher. It is safe to call more than once.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		err = w.fs.Close()
	})
	return err
}
