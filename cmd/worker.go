package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/linanwx/supportbot/config"
	"github.com/linanwx/supportbot/logger"
	"github.com/linanwx/supportbot/worker"
)

var workerThreadID string

// workerCmd is the child side of the process spawner. stdout carries the
// protocol, so all logging goes to stderr.
var workerCmd = &cobra.Command{
	Use:    "worker",
	Short:  "Run one agent worker over stdin/stdout (internal)",
	Hidden: true,
	RunE:   runWorker,
}

func init() {
	workerCmd.Flags().StringVar(&workerThreadID, "thread", "", "Thread ID")
	_ = workerCmd.MarkFlagRequired("thread")
	rootCmd.AddCommand(workerCmd)
}

func runWorker(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("worker %s: load config: %w", workerThreadID, err)
	}
	lc := cfg.BuildLoggerConfig()
	lc.Stdout, lc.Stderr = false, true
	workspace, _ := cfg.WorkspacePath()
	if err := logger.Init(lc, workspace); err != nil {
		fmt.Fprintln(os.Stderr, "logger init error:", err)
	}

	wc, err := buildWorkerConfig(cfg, workerThreadID)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("worker process ready", "threadID", workerThreadID, "pid", os.Getpid())
	if err := worker.New(wc, os.Stdin, os.Stdout).Run(ctx); err != nil {
		return fmt.Errorf("worker %s: %w", workerThreadID, err)
	}
	return nil
}
