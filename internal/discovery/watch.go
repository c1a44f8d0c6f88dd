package discovery

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watcher backs --watch: it notifies the caller whenever a manifest
// file under root is created, written, or removed, so the CLI can
// re-plan and re-run the entry task.
type Watcher struct {
	fsw    *fsnotify.Watcher
	Events chan struct{}
	Errors chan error
}

// NewWatcher starts watching every directory under root that currently
// holds a manifest file, plus root itself (so a manifest later added at
// the root is also picked up).
func NewWatcher(root string) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	locs, err := Locate(root)
	if err != nil {
		fsw.Close()
		return nil, err
	}

	watched := map[string]bool{root: false}
	for _, loc := range locs {
		watched[loc.Path()] = false
	}
	for dir := range watched {
		if err := fsw.Add(dir); err != nil {
			fsw.Close()
			return nil, err
		}
	}

	w := &Watcher{
		fsw:    fsw,
		Events: make(chan struct{}, 1),
		Errors: make(chan error, 1),
	}
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !isManifestPath(ev.Name) {
				continue
			}
			select {
			case w.Events <- struct{}{}:
			default:
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			select {
			case w.Errors <- err:
			default:
			}
		}
	}
}

func isManifestPath(path string) bool {
	base := filepath.Base(path)
	for _, name := range manifestFiles {
		if base == name {
			return true
		}
	}
	return false
}

// Close stops the underlying fsnotify watcher.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}

// Wait blocks until the next manifest-change notification, an fsnotify
// error, or ctx's cancellation, whichever comes first.
func (w *Watcher) Wait(ctx context.Context) error {
	select {
	case <-w.Events:
		return nil
	case err := <-w.Errors:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
