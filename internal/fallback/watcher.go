package fallback

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"

	"github.com/BTreeMap/ReEngage/internal/models"
	"github.com/fsnotify/fsnotify"
)

// Reloadable is a Provider whose catalog can be swapped while flows are reading it.
type Reloadable struct {
	current atomic.Pointer[Catalog]
}

// NewReloadable wraps c. A nil catalog means the embedded default.
func NewReloadable(c *Catalog) *Reloadable {
	if c == nil {
		c = Default()
	}
	r := &Reloadable{}
	r.current.Store(c)
	return r
}

// Swap installs c and returns the catalog it replaced.
func (r *Reloadable) Swap(c *Catalog) *Catalog {
	return r.current.Swap(c)
}

// Catalog returns the catalog currently being served.
func (r *Reloadable) Catalog() *Catalog {
	return r.current.Load()
}

func (r *Reloadable) Agents() []models.Agent { return r.Catalog().Agents() }

func (r *Reloadable) ProductCategories() []models.ProductCategory {
	return r.Catalog().ProductCategories()
}

func (r *Reloadable) Products(category string) []models.Product {
	return r.Catalog().Products(category)
}

func (r *Reloadable) Summary(productID string) models.ProductSummary {
	return r.Catalog().Summary(productID)
}

func (r *Reloadable) Quiz(productID string) []models.QuizQuestion {
	return r.Catalog().Quiz(productID)
}

func (r *Reloadable) Tips() []string { return r.Catalog().Tips() }

// Watcher reloads a catalog file into a Reloadable whenever the file changes.
// A file that fails to parse leaves the previous catalog in place.
type Watcher struct {
	path   string
	target *Reloadable
	fsw    *fsnotify.Watcher

	// reloaded receives one value per reload attempt; used by tests.
	reloaded chan error
}

// NewWatcher watches the directory holding path so that editors which replace
// the file by rename are still observed.
func NewWatcher(path string, target *Reloadable) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve catalog path: %w", err)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}
	return &Watcher{path: abs, target: target, fsw: fsw}, nil
}

// Run processes file events until ctx is cancelled, then closes the underlying watcher.
func (w *Watcher) Run(ctx context.Context) {
	defer w.fsw.Close()
	slog.Info("Watcher.Run: watching fallback catalog", "path", w.path)
	for {
		select {
		case <-ctx.Done():
			slog.Debug("Watcher.Run: stopped", "path", w.path)
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			err := w.reload()
			if w.reloaded != nil {
				select {
				case w.reloaded <- err:
				case <-ctx.Done():
				}
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			slog.Error("Watcher.Run: file watcher error", "path", w.path, "error", err)
		}
	}
}

func (w *Watcher) reload() error {
	c, err := Load(w.path)
	if err != nil {
		slog.Warn("Watcher.reload: keeping previous catalog", "path", w.path, "error", err)
		return err
	}
	w.target.Swap(c)
	slog.Info("Watcher.reload: fallback catalog reloaded", "path", w.path,
		"agents", len(c.AgentList), "products", len(c.ProductList))
	return nil
}
