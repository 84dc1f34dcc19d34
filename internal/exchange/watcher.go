package exchange

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ResultFile is an artifact the automation tool wrote back into the
// exchange directory.
type ResultFile struct {
	Name       string
	Path       string
	ModifiedAt time.Time
}

// Watcher polls the exchange directory for a result file. Polling is used
// instead of filesystem notifications because the directory usually lives on
// a network share where change notification is unreliable.
type Watcher struct {
	log        *slog.Logger
	dir        string
	interval   time.Duration
	extensions map[string]struct{}
}

// NewWatcher creates a watcher over dir. extensions is the allowed set of
// result file extensions (lower-case, dot-prefixed).
func NewWatcher(logger *slog.Logger, dir string, interval time.Duration, extensions []string) *Watcher {
	exts := make(map[string]struct{}, len(extensions))
	for _, e := range extensions {
		exts[strings.ToLower(e)] = struct{}{}
	}
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Watcher{
		log:        logger,
		dir:        dir,
		interval:   interval,
		extensions: exts,
	}
}

// WaitForResult blocks until a qualifying file appears or timeout elapses.
// A qualifying file has a name different from triggerFilename
// (case-insensitive), an allowed extension, and a modification time strictly
// after startedAt; the last guard rejects stale leftovers from a previous
// run. On timeout or context cancellation it returns found=false.
func (w *Watcher) WaitForResult(ctx context.Context, triggerFilename string, startedAt time.Time, timeout time.Duration) (ResultFile, bool) {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		if rf, ok := w.scan(triggerFilename, startedAt); ok {
			return rf, true
		}
		if time.Now().After(deadline) {
			return ResultFile{}, false
		}
		select {
		case <-ctx.Done():
			w.log.Debug("result wait cancelled", "trigger", triggerFilename)
			return ResultFile{}, false
		case <-ticker.C:
		}
	}
}

func (w *Watcher) scan(triggerFilename string, startedAt time.Time) (ResultFile, bool) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		// The share may flap; treat a failed listing like an empty one.
		w.log.Debug("list exchange dir", "err", err)
		return ResultFile{}, false
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.EqualFold(name, triggerFilename) {
			continue
		}
		if _, ok := w.extensions[strings.ToLower(filepath.Ext(name))]; !ok {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if !info.ModTime().After(startedAt) {
			continue
		}
		return ResultFile{
			Name:       name,
			Path:       filepath.Join(w.dir, name),
			ModifiedAt: info.ModTime(),
		}, true
	}
	return ResultFile{}, false
}
