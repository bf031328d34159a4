package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/sergeschumacher/hermes/internal/domain"
	"github.com/sergeschumacher/hermes/internal/engine"
	"github.com/sergeschumacher/hermes/internal/infra/config"
	"github.com/sergeschumacher/hermes/internal/infra/logger"
	"github.com/sergeschumacher/hermes/internal/nntp"
	"github.com/sergeschumacher/hermes/internal/processor"
	"github.com/sergeschumacher/hermes/internal/store"
)

func newFetchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fetch <file.nzb>",
		Short: "Download a single NZB and exit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFetch(cmd.Context(), args[0])
		},
	}
}

func runFetch(ctx context.Context, nzbPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	// Keep the terminal for the progress bar; logs go to file only.
	log, err := logger.New(cfg.Log.Path, logger.ParseLevel(cfg.Log.Level), false)
	if err != nil {
		return err
	}

	db, err := store.New(cfg.Store.SQLitePath, cfg.Store.BlobDir)
	if err != nil {
		return err
	}
	defer db.Close()

	registry := nntp.NewRegistry(providersFromConfig(cfg), log, nntp.PoolOptions{
		AcquireTimeout: cfg.Pool.AcquireTimeout,
		CommandTimeout: cfg.Pool.CommandTimeout,
	})

	fmt.Println("Validating providers...")
	if err := registry.Init(ctx); err != nil {
		return err
	}
	defer registry.Close()

	orch := engine.New(ctx, registry, db, log, engine.Options{
		TempDir:            cfg.Download.TempDir,
		SegmentConcurrency: cfg.Download.SegmentConcurrency,
		RetryPasses:        cfg.Download.RetryPasses,
		FailureThreshold:   cfg.Download.FailureThreshold,
	})
	orch.SetPostProcessor(processor.NewMover(cfg.Download.OutDir, log))

	data, err := os.ReadFile(nzbPath)
	if err != nil {
		return err
	}

	progressCh := orch.SubscribeProgress()
	completionCh := orch.SubscribeCompletion()

	receipt, err := orch.Submit(data, filepath.Base(nzbPath))
	if err != nil {
		return err
	}

	fmt.Printf("Queued %s: %d files, %d segments, %d MB\n",
		receipt.JobID, receipt.FileCount, receipt.SegmentCount, receipt.TotalBytes/1024/1024)

	job, _ := orch.Get(receipt.JobID)
	started := time.Now()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case p := <-progressCh:
			if p.JobID == receipt.JobID {
				renderProgress(p)
			}

		case c := <-completionCh:
			if c.JobID == receipt.JobID {
				renderProgress(orch.Snapshot(job))
				fmt.Printf("\nDone in %s, %d files in output\n",
					time.Since(started).Truncate(time.Second), len(c.Files))
				return nil
			}

		case <-ticker.C:
			switch job.Status() {
			case domain.StatusFailed:
				fmt.Println()
				return fmt.Errorf("download failed: %s", job.ErrorText())
			case domain.StatusCancelled:
				fmt.Println()
				return fmt.Errorf("download cancelled")
			case domain.StatusCompleted:
				// Completion event may have been dropped under backpressure.
				fmt.Printf("\nDone in %s\n", time.Since(started).Truncate(time.Second))
				return nil
			}

		case <-ctx.Done():
			fmt.Println()
			return ctx.Err()
		}
	}
}

// renderProgress redraws the single-line CLI bar:
// [====>      ]  42.0% | Speed:  85.31 Mbps | 210/500 MB
func renderProgress(p domain.Progress) {
	const barWidth = 20

	completedWidth := int(p.Percent / 100 * barWidth)
	if completedWidth > barWidth {
		completedWidth = barWidth
	}
	bar := strings.Repeat("=", completedWidth)
	if completedWidth < barWidth {
		bar += ">" + strings.Repeat(" ", barWidth-completedWidth-1)
	}

	speedMbps := p.SpeedBytesPerSec * 8 / (1024 * 1024)

	fmt.Printf("\r[%s] %5.1f%% | Speed: %6.2f Mbps | %d/%d MB      ",
		bar, p.Percent, speedMbps, p.DownloadedBytes/1024/1024, p.TotalBytes/1024/1024)
}
