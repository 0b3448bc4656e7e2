package cluster

import (
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// watchDebounce collects bursts of file events into one reload.
const watchDebounce = 300 * time.Millisecond

// watcher calls onChange once per burst of changes under its roots.
type watcher struct {
	fs       *fsnotify.Watcher
	onChange func()
	logger   *slog.Logger
	debounce time.Duration
	done     chan struct{}
	stopOnce sync.Once
}

func newWatcher(roots []string, logger *slog.Logger, onChange func()) (*watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &watcher{
		fs:       fw,
		onChange: onChange,
		logger:   logger,
		debounce: watchDebounce,
		done:     make(chan struct{}),
	}
	for _, root := range roots {
		if _, err := os.Stat(root); err != nil {
			continue
		}
		if err := w.addRecursive(root); err != nil {
			fw.Close()
			return nil, err
		}
	}
	go w.loop()
	return w, nil
}

func (w *watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		return w.fs.Add(path)
	})
}

func (w *watcher) loop() {
	var (
		timer   *time.Timer
		fire    <-chan time.Time
		pending bool
	)
	for {
		select {
		case <-w.done:
			if timer != nil {
				timer.Stop()
			}
			return

		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if ev.Has(fsnotify.Chmod) && !ev.Has(fsnotify.Write) {
				continue
			}
			if ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					_ = w.addRecursive(ev.Name)
				}
			}
			pending = true
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			if pending {
				pending = false
				w.onChange()
			}

		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			if w.logger != nil {
				w.logger.Warn("package watch error", "error", err)
			}
		}
	}
}

// Close stops watching.
func (w *watcher) Close() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.done)
		err = w.fs.Close()
	})
	return err
}
