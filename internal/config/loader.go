package config

import (
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/gyaneshwarpardhi/blockgate/internal/metrics"
)

// Loader reads a job catalog file and watches it for changes.
type Loader struct {
	path     string
	mu       sync.RWMutex
	current  *Catalog
	onChange []func(*Catalog)
	watcher  *fsnotify.Watcher
	logger   *slog.Logger
}

// NewLoader creates a Loader and performs the initial load. The catalog is
// validated; an invalid catalog is an error.
func NewLoader(path string) (*Loader, error) {
	l := &Loader{path: path, logger: slog.Default()}
	cat, err := l.load()
	if err != nil {
		return nil, err
	}
	l.current = cat
	return l, nil
}

// Catalog returns the current (latest valid) catalog.
func (l *Loader) Catalog() *Catalog {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.current
}

// OnChange registers a callback invoked whenever the catalog reloads.
func (l *Loader) OnChange(fn func(*Catalog)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onChange = append(l.onChange, fn)
}

// Watch starts a background goroutine that hot-reloads the catalog on file
// changes. An invalid edit is logged and the previous catalog stays in
// effect. Call the returned stop function to clean up.
func (l *Loader) Watch() (stop func(), err error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("catalog watcher: %w", err)
	}
	if err := w.Add(l.path); err != nil {
		w.Close()
		return nil, fmt.Errorf("catalog watcher add %s: %w", l.path, err)
	}
	l.watcher = w

	done := make(chan struct{})
	go func() {
		defer w.Close()
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) {
					if _, err := l.Reload(); err != nil {
						l.logger.Warn("catalog reload skipped", "path", l.path, "err", err)
					}
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				l.logger.Warn("catalog watcher error", "err", err)
			case <-done:
				return
			}
		}
	}()

	return func() { close(done) }, nil
}

// Reload forces an immediate re-read of the catalog file.
func (l *Loader) Reload() (*Catalog, error) {
	cat, err := l.load()
	if err != nil {
		metrics.CatalogReloads.WithLabelValues("error").Inc()
		return nil, err
	}
	metrics.CatalogReloads.WithLabelValues("ok").Inc()
	l.mu.Lock()
	l.current = cat
	callbacks := make([]func(*Catalog), len(l.onChange))
	copy(callbacks, l.onChange)
	l.mu.Unlock()
	for _, fn := range callbacks {
		fn(cat)
	}
	return cat, nil
}

func (l *Loader) load() (*Catalog, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", l.path, err)
	}
	cat, err := Decode(l.path, data)
	if err != nil {
		return nil, fmt.Errorf("parse catalog %s: %w", l.path, err)
	}
	ApplyDefaults(cat)
	if err := Validate(cat); err != nil {
		return nil, fmt.Errorf("catalog %s: %w", l.path, err)
	}
	return cat, nil
}

// ApplyDefaults fills unset gate settings.
func ApplyDefaults(cat *Catalog) {
	if cat.Gate.AdmitIntervalMs == 0 {
		cat.Gate.AdmitIntervalMs = 1000
	}
	if cat.Gate.PreviewWorkers == 0 {
		cat.Gate.PreviewWorkers = 8
	}
	if cat.Gate.QueueDepth == 0 {
		cat.Gate.QueueDepth = 1000
	}
	if cat.Gate.PreviewTimeoutMs == 0 {
		cat.Gate.PreviewTimeoutMs = 5000
	}
}
