package processor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sergeschumacher/hermes/internal/domain"
	"github.com/sergeschumacher/hermes/internal/infra/logger"
)

// Mover is the post-download step: it relocates assembled files from the
// job's temp directory into the output directory. PAR2 repair and archive
// extraction are external tooling concerns; everything they need (including
// the .par2 volumes) ends up in the output directory for them to pick up.
type Mover struct {
	outDir string
	log    *logger.Logger
}

func NewMover(outDir string, log *logger.Logger) *Mover {
	return &Mover{outDir: outDir, log: log}
}

func (m *Mover) Process(ctx context.Context, c domain.Completion) error {
	dest := filepath.Join(m.outDir, c.JobID)
	if err := os.MkdirAll(dest, 0755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}

	for _, path := range c.Files {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		target := filepath.Join(dest, filepath.Base(path))
		if err := moveFile(path, target); err != nil {
			return fmt.Errorf("failed to move %s: %w", filepath.Base(path), err)
		}
	}

	// Temp dir only holds leftovers now (partial files from failed jobs stay
	// behind for resume; a completed job has nothing worth keeping).
	if err := os.RemoveAll(c.Dir); err != nil {
		m.log.Warn("Could not clean up temp dir %s: %v", c.Dir, err)
	}

	if c.FailedSegments > 0 {
		m.log.Warn("Job %s: moved %d files to %s with %d missing segments, repair recommended",
			c.JobID, len(c.Files), dest, c.FailedSegments)
	} else {
		m.log.Info("Job %s: moved %d files to %s", c.JobID, len(c.Files), dest)
	}
	return nil
}

// moveFile renames when possible and falls back to copy+delete when source
// and destination sit on different filesystems.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp := filepath.Join(filepath.Dir(dst), "."+filepath.Base(dst)+".tmp")
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}

	if _, err := out.ReadFrom(in); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}

	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Remove(src)
}
