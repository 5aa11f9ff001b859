// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package source

import (
	"context"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ManuGH/xg2g/internal/log"
	"github.com/ManuGH/xg2g/internal/playout/config"
	"github.com/ManuGH/xg2g/internal/playout/media"
)

// FolderSource enumerates files under storage.paths, shuffling or sorting,
// and loops at the end (spec §4.6.1). A watcher goroutine keeps the list in
// sync with the filesystem.
type FolderSource struct {
	cfg *config.PlayoutConfig

	mu      sync.Mutex
	list    []string
	cursor  int
	watcher *fsnotify.Watcher
}

// NewFolderSource scans cfg.Storage.Paths once and starts a filesystem
// watcher per path so create/rename/remove events keep the list current
// without a full re-scan (spec: "A watcher task observes the directory;
// on create/rename/remove it appends/replaces/removes entries... preserving
// indices").
func NewFolderSource(ctx context.Context, cfg *config.PlayoutConfig) (*FolderSource, error) {
	fs := &FolderSource{cfg: cfg}
	fs.scan()

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	for _, p := range cfg.Storage.Paths {
		_ = w.Add(p)
	}
	fs.watcher = w
	go fs.watch(ctx)

	return fs, nil
}

func (fs *FolderSource) scan() {
	var files []string
	for _, root := range fs.cfg.Storage.Paths {
		entries, err := os.ReadDir(root)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			if matchesExtension(e.Name(), fs.cfg.Storage.Extensions) {
				files = append(files, filepath.Join(root, e.Name()))
			}
		}
	}
	if fs.cfg.Storage.Shuffle {
		rand.Shuffle(len(files), func(i, j int) { files[i], files[j] = files[j], files[i] })
	} else {
		sort.Strings(files)
	}

	fs.mu.Lock()
	fs.list = files
	if fs.cursor >= len(fs.list) {
		fs.cursor = 0
	}
	fs.mu.Unlock()
}

func (fs *FolderSource) watch(ctx context.Context) {
	logger := log.WithComponent("playout.source.folder")
	for {
		select {
		case <-ctx.Done():
			_ = fs.watcher.Close()
			return
		case ev, ok := <-fs.watcher.Events:
			if !ok {
				return
			}
			logger.Debug().Str("path", ev.Name).Str("op", ev.Op.String()).Msg("folder source change detected")
			fs.applyEvent(ev)
		case err, ok := <-fs.watcher.Errors:
			if !ok {
				return
			}
			logger.Warn().Err(err).Msg("folder watcher error")
		}
	}
}

func (fs *FolderSource) applyEvent(ev fsnotify.Event) {
	if !matchesExtension(filepath.Base(ev.Name), fs.cfg.Storage.Extensions) {
		return
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	switch {
	case ev.Op&(fsnotify.Create|fsnotify.Rename) != 0:
		if _, err := os.Stat(ev.Name); err == nil {
			fs.list = appendUnique(fs.list, ev.Name)
		}
	case ev.Op&fsnotify.Remove != 0:
		fs.list = removeEntry(fs.list, ev.Name)
		if fs.cursor >= len(fs.list) {
			fs.cursor = 0
		}
	}
}

func appendUnique(list []string, entry string) []string {
	for _, e := range list {
		if e == entry {
			return list
		}
	}
	return append(list, entry)
}

func removeEntry(list []string, entry string) []string {
	out := list[:0]
	for _, e := range list {
		if e != entry {
			out = append(out, e)
		}
	}
	return out
}

// Next emits list[cursor] with begin=now, advances the cursor, and re-scans
// (re-shuffling or re-sorting) on wraparound.
func (fs *FolderSource) Next(ctx context.Context) (*media.Media, error) {
	fs.mu.Lock()
	if len(fs.list) == 0 {
		fs.mu.Unlock()
		fs.scan()
		fs.mu.Lock()
	}
	if len(fs.list) == 0 {
		fs.mu.Unlock()
		return nil, nil
	}

	path := fs.list[fs.cursor]
	idx := fs.cursor
	fs.cursor++
	wrapped := fs.cursor >= len(fs.list)
	if wrapped {
		fs.cursor = 0
	}
	fs.mu.Unlock()

	if wrapped {
		fs.scan()
	}

	m := media.New(idx, path)
	m.Begin = float64(time.Now().Unix() % 86400)
	return m, nil
}

var _ Iterator = (*FolderSource)(nil)
