package crm

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	processedDir = "processed"
	failedDir    = "failed"
)

// MoveToFailed parks a file the engine never got to run on, such as one
// that failed to parse, in the failed/ folder.
func MoveToFailed(src string) (string, error) {
	return moveToFolder(src, failedDir)
}

// relocate moves the source file into a processed/ or failed/ sibling of
// the watch folder and returns the destination path.
func (e *Engine) relocate(src string, success bool) (string, error) {
	folder := failedDir
	if success {
		folder = processedDir
	}
	dest, err := moveToFolder(src, folder)
	if err != nil {
		return "", err
	}
	e.log.Info().Str("from", src).Str("to", dest).Msg("file relocated")
	return dest, nil
}

func moveToFolder(src, folder string) (string, error) {
	dir := filepath.Join(filepath.Dir(src), folder)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create %s directory: %w", folder, err)
	}

	dest := filepath.Join(dir, filepath.Base(src))
	if _, err := os.Stat(dest); err == nil {
		// Same file name processed before; keep every copy apart, even
		// when several arrive within the same second.
		ext := filepath.Ext(dest)
		stem := strings.TrimSuffix(dest, ext)
		stamp := time.Now().Format("20060102-150405")
		dest = fmt.Sprintf("%s_%s%s", stem, stamp, ext)
		for n := 2; ; n++ {
			if _, err := os.Stat(dest); os.IsNotExist(err) {
				break
			}
			dest = fmt.Sprintf("%s_%s_%d%s", stem, stamp, n, ext)
		}
	}

	if err := os.Rename(src, dest); err != nil {
		// Rename fails across filesystems; fall back to copy+remove.
		if cerr := copyFile(src, dest); cerr != nil {
			return "", fmt.Errorf("failed to move %s: %w", src, err)
		}
		if rerr := os.Remove(src); rerr != nil {
			return "", fmt.Errorf("failed to remove source after copy: %w", rerr)
		}
	}
	return dest, nil
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
