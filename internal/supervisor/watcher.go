package supervisor

import (
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watcher reports on-disk changes to the configuration file so the run
// loop can reload without waiting for a SIGHUP. It watches the parent
// directory because editors typically replace the file by rename.
type Watcher struct {
	C <-chan struct{}

	fw   *fsnotify.Watcher
	ch   chan struct{}
	name string
}

// NewWatcher watches the given config file path.
func NewWatcher(path string, logger *slog.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, err
	}

	ch := make(chan struct{}, 1)
	w := &Watcher{C: ch, fw: fw, ch: ch, name: filepath.Base(path)}

	go func() {
		for {
			select {
			case ev, ok := <-fw.Events:
				if !ok {
					return
				}
				if filepath.Base(ev.Name) != w.name {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				select {
				case ch <- struct{}{}:
				default: // reload already pending
				}
			case err, ok := <-fw.Errors:
				if !ok {
					return
				}
				logger.Warn("config watcher error", "error", err)
			}
		}
	}()

	return w, nil
}

// Close stops watching.
func (w *Watcher) Close() error {
	return w.fw.Close()
}
