package intake

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noahflow/agent/internal/models"
)

// Queue holds detected export files awaiting submission. A canonical path
// appears at most once; repeated filesystem events within the debounce
// window collapse into the existing entry. Processed files are remembered
// by path and modification time so a watcher restart does not resubmit
// them.
type Queue struct {
	mu       sync.Mutex
	entries  map[string]*models.QueueEntry // keyed by canonical path
	order    []string                      // FIFO of paths still queued
	history  map[string]time.Time          // path -> mtime of last completed run
	debounce time.Duration
	log      zerolog.Logger
}

// NewQueue creates an empty queue with the given debounce window.
func NewQueue(debounce time.Duration, log zerolog.Logger) *Queue {
	if debounce <= 0 {
		debounce = time.Second
	}
	return &Queue{
		entries:  make(map[string]*models.QueueEntry),
		history:  make(map[string]time.Time),
		debounce: debounce,
		log:      log,
	}
}

// Offer registers a detected file. It returns the entry and whether a new
// queue entry was created. Events for a path already queued only refresh
// its observed mtime; files whose mtime matches the completed-run history
// are ignored entirely.
func (q *Queue) Offer(path string, mtime time.Time) (models.QueueEntry, bool) {
	path = filepath.Clean(path)

	q.mu.Lock()
	defer q.mu.Unlock()

	if entry, ok := q.entries[path]; ok && entry.State != models.QueueStateDone {
		if mtime.After(entry.LastSeenMtime) {
			entry.LastSeenMtime = mtime
		}
		return *entry, false
	}

	if done, ok := q.history[path]; ok && !mtime.After(done) {
		q.log.Debug().Str("path", path).Msg("already processed, ignoring")
		return models.QueueEntry{}, false
	}

	// A burst of events right after completion is the tail of the same
	// write, not a new file.
	if entry, ok := q.entries[path]; ok && entry.State == models.QueueStateDone {
		if time.Since(entry.DetectedAt) < q.debounce && !mtime.After(entry.LastSeenMtime) {
			return *entry, false
		}
	}

	entry := &models.QueueEntry{
		ID:            uuid.NewString(),
		Path:          path,
		LastSeenMtime: mtime,
		State:         models.QueueStatePending,
		DetectedAt:    time.Now(),
	}
	q.entries[path] = entry
	q.order = append(q.order, path)
	q.log.Info().Str("path", path).Str("id", entry.ID).Msg("file queued")
	return *entry, true
}

// Remove drops the entry for a path that vanished before processing.
// In-flight entries stay: the run already owns the file.
func (q *Queue) Remove(path string) bool {
	path = filepath.Clean(path)

	q.mu.Lock()
	defer q.mu.Unlock()

	entry, ok := q.entries[path]
	if !ok || entry.State == models.QueueStateInFlight || entry.State == models.QueueStateDone {
		return false
	}
	delete(q.entries, path)
	for i, p := range q.order {
		if p == path {
			q.order = append(q.order[:i], q.order[i+1:]...)
			break
		}
	}
	q.log.Info().Str("path", path).Msg("vanished file dequeued")
	return true
}

// NextPending returns the oldest pending entry and advances it to
// selected, or false when nothing is waiting.
func (q *Queue) NextPending() (models.QueueEntry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, path := range q.order {
		entry := q.entries[path]
		if entry != nil && entry.State == models.QueueStatePending {
			entry.State = models.QueueStateSelected
			return *entry, true
		}
	}
	return models.QueueEntry{}, false
}

// Advance moves an entry to the given state. Transitions only ever move
// forward; anything else is an error.
func (q *Queue) Advance(id string, state models.QueueState) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	entry := q.byID(id)
	if entry == nil {
		return fmt.Errorf("no queue entry with id %s", id)
	}
	if stateRank(state) <= stateRank(entry.State) {
		return fmt.Errorf("cannot move entry %s from %s to %s", id, entry.State, state)
	}
	entry.State = state
	return nil
}

// MarkDone finishes an entry, records its mtime in the completed-run
// history and removes it from the FIFO.
func (q *Queue) MarkDone(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	entry := q.byID(id)
	if entry == nil {
		return fmt.Errorf("no queue entry with id %s", id)
	}
	entry.State = models.QueueStateDone
	q.history[entry.Path] = entry.LastSeenMtime
	for i, p := range q.order {
		if p == entry.Path {
			q.order = append(q.order[:i], q.order[i+1:]...)
			break
		}
	}
	return nil
}

// Requeue returns a selected entry to pending, for runs abandoned before
// they started.
func (q *Queue) Requeue(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if entry := q.byID(id); entry != nil && entry.State == models.QueueStateSelected {
		entry.State = models.QueueStatePending
	}
}

// Snapshot returns a copy of every live entry in detection order.
func (q *Queue) Snapshot() []models.QueueEntry {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]models.QueueEntry, 0, len(q.entries))
	for _, path := range q.order {
		if entry := q.entries[path]; entry != nil {
			out = append(out, *entry)
		}
	}
	for _, entry := range q.entries {
		if entry.State == models.QueueStateDone {
			out = append(out, *entry)
		}
	}
	return out
}

// ClearHistory forgets completed runs whose path or base name matches
// target, so the same file can be submitted again. It returns how many
// records were dropped.
func (q *Queue) ClearHistory(target string) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	cleared := 0
	for path := range q.history {
		if path == target || filepath.Base(path) == target {
			delete(q.history, path)
			if entry, ok := q.entries[path]; ok && entry.State == models.QueueStateDone {
				delete(q.entries, path)
			}
			cleared++
		}
	}
	return cleared
}

// PruneHistory drops history records for paths the keep set no longer
// contains, typically files deleted from the watch folder.
func (q *Queue) PruneHistory(keep map[string]struct{}) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	pruned := 0
	for path := range q.history {
		if _, ok := keep[path]; !ok {
			delete(q.history, path)
			pruned++
		}
	}
	return pruned
}

// HistorySnapshot copies the completed-run history for persistence.
func (q *Queue) HistorySnapshot() map[string]time.Time {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make(map[string]time.Time, len(q.history))
	for k, v := range q.history {
		out[k] = v
	}
	return out
}

// RestoreHistory seeds the completed-run history, usually from a snapshot
// written by a previous process.
func (q *Queue) RestoreHistory(history map[string]time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for k, v := range history {
		q.history[filepath.Clean(k)] = v
	}
}

func (q *Queue) byID(id string) *models.QueueEntry {
	for _, entry := range q.entries {
		if entry.ID == id {
			return entry
		}
	}
	return nil
}

func stateRank(s models.QueueState) int {
	switch s {
	case models.QueueStatePending:
		return 0
	case models.QueueStateSelected:
		return 1
	case models.QueueStateInFlight:
		return 2
	case models.QueueStateDone:
		return 3
	default:
		return -1
	}
}
