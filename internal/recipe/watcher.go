package recipe

import (
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watcher watches the on-disk recipe file for changes after it has been
// loaded and reports them through Changes. It never reloads anything —
// persistence of service state across daemon restarts is an explicit
// Non-goal (spec.md §1), and the recipe is documented as immutable once
// parsed (spec.md §3) — this exists purely so an operator editing the
// recipe mid-run gets a visible "you'll need to restart" signal instead of
// silently wondering why their edit had no effect. Grounded in the
// teacher's StartConfigWatcher (cmd/watcher.go), narrowed to single-file,
// no-sync, warn-only behavior.
type Watcher struct {
	path    string
	watcher *fsnotify.Watcher
	Changes chan string
	errs    chan error
}

// NewWatcher starts watching the directory containing path (fsnotify
// watches directories, not bare files, so renames-over-existing-files are
// still observed) and filters events down to the recipe file itself.
func NewWatcher(path string) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve recipe path: %w", err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create recipe watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("failed to watch recipe directory: %w", err)
	}

	w := &Watcher{
		path:    abs,
		watcher: fw,
		Changes: make(chan string, 1),
		errs:    make(chan error, 1),
	}
	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Rename|fsnotify.Create) == 0 {
				continue
			}
			select {
			case w.Changes <- ev.Name:
			default:
				// A pending notification is already queued; the daemon only
				// needs to know "it changed," not how many times.
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			select {
			case w.errs <- err:
			default:
			}
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
