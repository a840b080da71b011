package intake

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// historySnapshot is the on-disk form of the completed-run history.
type historySnapshot struct {
	SavedAt time.Time            `msgpack:"saved_at"`
	Files   map[string]time.Time `msgpack:"files"`
}

// SaveHistory persists the queue's completed-run history to path. The
// write goes through a temp file so a crash never leaves a truncated
// snapshot behind.
func SaveHistory(path string, q *Queue) error {
	snap := historySnapshot{
		SavedAt: time.Now(),
		Files:   q.HistorySnapshot(),
	}
	data, err := msgpack.Marshal(&snap)
	if err != nil {
		return fmt.Errorf("failed to encode history: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create history directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write history: %w", err)
	}
	return os.Rename(tmp, path)
}

// LoadHistory seeds the queue's completed-run history from a snapshot
// written by a previous process. A missing file is not an error; a
// corrupt one is discarded with an error so intake can start fresh.
func LoadHistory(path string, q *Queue) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read history: %w", err)
	}

	var snap historySnapshot
	if err := msgpack.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("failed to decode history: %w", err)
	}
	q.RestoreHistory(snap.Files)
	return nil
}
