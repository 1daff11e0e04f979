package rag

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DocsWatcher re-indexes a docset when files under its docs root change.
// Events are debounced so an editor save burst triggers one indexing run.
type DocsWatcher struct {
	watcher  *fsnotify.Watcher
	indexer  *Indexer
	docsRoot string
	docset   string
	debounce time.Duration
	logger   *slog.Logger

	mu       sync.Mutex
	watching bool
	cancel   context.CancelFunc
}

// NewDocsWatcher creates a watcher over docsRoot for the given docset.
func NewDocsWatcher(indexer *Indexer, docsRoot, docset string) (*DocsWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &DocsWatcher{
		watcher:  watcher,
		indexer:  indexer,
		docsRoot: docsRoot,
		docset:   docset,
		debounce: 2 * time.Second,
		logger:   slog.Default(),
	}, nil
}

// Start begins watching. Subdirectories are watched recursively; new
// directories are picked up as they appear.
func (w *DocsWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watching {
		return nil
	}

	if err := w.addRecursive(w.docsRoot); err != nil {
		return err
	}

	ctx, w.cancel = context.WithCancel(ctx)
	w.watching = true
	go w.loop(ctx)

	w.logger.Info("watching docs for changes", "path", w.docsRoot, "docset", w.docset)
	return nil
}

// Stop shuts the watcher down.
func (w *DocsWatcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.watching {
		return nil
	}
	w.cancel()
	w.watching = false
	return w.watcher.Close()
}

func (w *DocsWatcher) addRecursive(root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			if err := w.watcher.Add(path); err != nil {
				w.logger.Warn("failed to watch directory", "path", path, "error", err)
			}
		}
		return nil
	})
}

func relevantDoc(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".txt":
		return true
	}
	return false
}

func (w *DocsWatcher) loop(ctx context.Context) {
	var timer *time.Timer
	dirty := false

	reindex := func() {
		if !dirty {
			return
		}
		dirty = false
		result, err := w.indexer.Index(ctx, IndexOptions{
			DocsRoot:      w.docsRoot,
			Docset:        w.docset,
			ReplaceDocset: true,
		})
		if err != nil {
			w.logger.Error("docs re-index failed", "docset", w.docset, "error", err)
			return
		}
		w.logger.Info("docs re-indexed",
			"docset", w.docset, "files", result.IndexedFiles, "chunks", result.IndexedChunks)
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&fsnotify.Chmod == fsnotify.Chmod {
				continue
			}
			if event.Op&fsnotify.Create == fsnotify.Create {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := w.watcher.Add(event.Name); err != nil {
						w.logger.Warn("failed to watch new directory", "path", event.Name, "error", err)
					}
					continue
				}
			}
			if !relevantDoc(event.Name) {
				continue
			}
			dirty = true
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, reindex)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("docs watcher error", "path", w.docsRoot, "error", err)
		}
	}
}
