package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var configPath string

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	rootCmd := newRootCmd()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		cancel()
		os.Exit(1)
	}

	cancel()
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "hermes",
		Short:        "Usenet binary downloader",
		Long:         "hermes downloads binaries from Usenet: parse an NZB, fetch its segments across one or more NNTP providers and reassemble the files.",
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path (default: config.yaml)")

	cmd.AddCommand(
		newServeCmd(),
		newFetchCmd(),
	)

	return cmd
}
