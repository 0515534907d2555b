package stage

import (
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/Faultbox/worldview/internal/config"
)

// Reload builds a stage from the configured scene on cur's device and
// releases cur. If the scene fails to load or populate, cur is returned
// untouched along with the error.
func Reload(cur *Stage, cfg *config.Config, opts ...Option) (*Stage, error) {
	desc, err := LoadScene(cfg)
	if err != nil {
		return cur, fmt.Errorf("stage: reload: %w", err)
	}
	next, err := New(cur.dev, cfg, desc, opts...)
	if err != nil {
		return cur, fmt.Errorf("stage: reload: %w", err)
	}
	cur.Release()
	return next, nil
}

// Watcher signals when one file is written or replaced.
type Watcher struct {
	w       *fsnotify.Watcher
	changed chan struct{}
	log     *zap.Logger
}

// WatchFile watches path. The parent directory is watched since editors
// often replace files instead of writing them in place.
func WatchFile(path string, log *zap.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, err
	}
	w := &Watcher{w: fw, changed: make(chan struct{}, 1), log: log}
	go w.run(filepath.Clean(path))
	return w, nil
}

func (w *Watcher) run(name string) {
	for {
		select {
		case event, ok := <-w.w.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != name || event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			// Coalesce bursts; one pending signal is enough.
			select {
			case w.changed <- struct{}{}:
			default:
			}
		case err, ok := <-w.w.Errors:
			if !ok {
				return
			}
			w.log.Warn("file watcher", zap.Error(err))
		}
	}
}

// Changed receives once per burst of changes.
func (w *Watcher) Changed() <-chan struct{} {
	return w.changed
}

// Close stops watching.
func (w *Watcher) Close() error {
	return w.w.Close()
}
