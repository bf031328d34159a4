package engine

import (
	"fmt"
	"os"
	"path/filepath"
)

// assembleFile concatenates decoded segment buffers strictly in
// segment-number order and flushes the result to dir. Buffers arrive indexed
// by segment position, so completion order never matters here. Gaps left by
// failed segments are skipped; the file may be short and downstream repair
// is expected to deal with that.
func assembleFile(dir, filename string, buffers [][]byte) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create job dir: %w", err)
	}

	path := filepath.Join(dir, filename)

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", filename, err)
	}

	for _, buf := range buffers {
		if buf == nil {
			continue
		}
		if _, err := f.Write(buf); err != nil {
			f.Close()
			return "", fmt.Errorf("failed to write %s: %w", filename, err)
		}
	}

	if err := f.Sync(); err != nil {
		f.Close()
		return "", err
	}
	return path, f.Close()
}
