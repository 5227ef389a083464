package geoip

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/TomasB/geolocate/internal/data"
)

type watcher struct {
	fsw  *fsnotify.Watcher
	done chan struct{}
	once sync.Once
}

func (w *watcher) close() {
	w.once.Do(func() {
		w.fsw.Close()
		<-w.done
	})
}

// watch starts watching the directories of the configured database files,
// loaded or not, so a file that appears after startup is picked up too.
// Directories rather than files are watched so that atomic replacement
// (write to a temp file, rename over the original) is seen.
func (g *GeoIP) watch() (*watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	dirs := make(map[string]struct{})
	for _, file := range []string{g.countryFile, g.cityFile} {
		if file != "" {
			dirs[filepath.Dir(file)] = struct{}{}
		}
	}
	for dir := range dirs {
		if err := fsw.Add(dir); err != nil {
			fsw.Close()
			return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
		}
	}

	w := &watcher{fsw: fsw, done: make(chan struct{})}
	go g.watchLoop(w)
	return w, nil
}

func (g *GeoIP) watchLoop(w *watcher) {
	defer close(w.done)
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			if err := g.reload(filepath.Clean(ev.Name)); err != nil {
				g.logger.Warn("database reload failed, keeping previous version", "path", ev.Name, "error", err)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			g.logger.Warn("file watcher error", "error", err)
		}
	}
}

// reload opens path if it is one of the configured database files and swaps
// it in, replacing the previous reader if there was one. Unrelated paths are
// ignored.
func (g *GeoIP) reload(path string) error {
	var want data.Edition
	switch path {
	case g.countryFile:
		want = data.EditionCountry
	case g.cityFile:
		want = data.EditionCity
	default:
		return nil
	}

	if err := data.Verify(path); err != nil {
		return err
	}
	r, err := g.openSlot(path, want)
	if err != nil {
		return err
	}

	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return r.Close()
	}
	var old *data.MmdbReader
	if want == data.EditionCountry {
		old, g.country = g.country, r
	} else {
		old, g.city = g.city, r
	}
	g.mu.Unlock()

	g.logger.Info("database reloaded", "path", path, "database_type", r.Metadata().DatabaseType)
	if old != nil {
		return old.Close()
	}
	return nil
}
