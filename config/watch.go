package config

import (
	"context"
	"log"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
)

// Reloader is something that can reread its file.
type Reloader interface {
	Reload(path string) error
}

// Watch reloads r whenever the file at path is written or replaced, until
// ctx is done. The directory is watched so editors that save by renaming a
// new file into place are noticed. The returned channel gets the result of
// every reload; it is closed when watching ends and may be ignored.
func Watch(ctx context.Context, path string, r Reloader) (<-chan error, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "watch")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		w.Close()
		return nil, errors.Wrapf(err, "watch %s", path)
	}
	results := make(chan error, 1)
	go func() {
		defer close(results)
		defer w.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != abs || !ev.Has(fsnotify.Write|fsnotify.Create) {
					continue
				}
				err := r.Reload(abs)
				if err != nil {
					log.Printf("config: reload %s: %s", path, err)
				}
				select {
				case results <- err:
				default:
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Printf("config: watch %s: %s", path, err)
			}
		}
	}()
	return results, nil
}
