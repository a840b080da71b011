package intake

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watcher feeds the queue from a watch folder. Filesystem notifications
// give low latency; a periodic rescan catches anything notifications
// missed (network shares, editors that replace files) and prunes history
// for files deleted from the folder.
type Watcher struct {
	folder   string
	ext      string
	interval time.Duration
	queue    *Queue
	log      zerolog.Logger
}

// NewWatcher watches folder for files with the given extension (".xml"
// when empty) and rescans every interval.
func NewWatcher(folder, ext string, interval time.Duration, queue *Queue, log zerolog.Logger) *Watcher {
	if ext == "" {
		ext = ".xml"
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Watcher{
		folder:   filepath.Clean(folder),
		ext:      strings.ToLower(ext),
		interval: interval,
		queue:    queue,
		log:      log,
	}
}

// Run blocks, feeding the queue until ctx is canceled.
func (w *Watcher) Run(ctx context.Context) error {
	notifier, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create filesystem watcher: %w", err)
	}
	defer notifier.Close()

	if err := notifier.Add(w.folder); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.folder, err)
	}
	w.log.Info().Str("folder", w.folder).Str("ext", w.ext).Msg("watching for exports")

	// Pick up files already sitting in the folder.
	w.scan()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-notifier.Events:
			if !ok {
				return nil
			}
			w.handleEvent(event)
		case err, ok := <-notifier.Errors:
			if !ok {
				return nil
			}
			w.log.Warn().Err(err).Msg("watcher error")
		case <-ticker.C:
			w.scan()
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if !w.matches(event.Name) {
		return
	}
	switch {
	case event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0:
		w.offer(event.Name)
	case event.Op&fsnotify.Remove != 0:
		w.queue.Remove(event.Name)
	}
}

func (w *Watcher) offer(path string) {
	info, err := os.Stat(path)
	if err != nil {
		// Rename events fire for the old name too; the file is gone.
		return
	}
	if info.IsDir() {
		return
	}
	w.queue.Offer(path, info.ModTime())
}

// scan walks the watch folder once, offering every matching file and
// pruning history entries for files that no longer exist.
func (w *Watcher) scan() {
	entries, err := os.ReadDir(w.folder)
	if err != nil {
		w.log.Warn().Err(err).Str("folder", w.folder).Msg("rescan failed")
		return
	}

	keep := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(w.folder, entry.Name())
		if !w.matches(path) {
			continue
		}
		keep[path] = struct{}{}
		w.offer(path)
	}

	if pruned := w.queue.PruneHistory(keep); pruned > 0 {
		w.log.Debug().Int("pruned", pruned).Msg("history pruned for deleted files")
	}
}

func (w *Watcher) matches(path string) bool {
	return strings.ToLower(filepath.Ext(path)) == w.ext
}
