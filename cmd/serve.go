package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/linanwx/supportbot/config"
	"github.com/linanwx/supportbot/logger"
	"github.com/linanwx/supportbot/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the agent HTTP API",
	Long: `Start supportbot as a long-running service exposing agent control,
the persisted action log and a websocket signal stream.

Endpoints:
  POST /threads/{id}/agent/start        start the agent (optional {"events": [...]})
  POST /threads/{id}/agent/stop         cooperative stop ({"reason": "..."})
  POST /threads/{id}/agent/force-stop   kill the worker
  POST /threads/{id}/agent/generate     run to completion and return actions + draft
  GET  /threads/{id}/actions            persisted agent actions
  GET  /threads/{id}/signals            websocket stream of agent signals

Examples:
  supportbot serve
  supportbot serve --addr 0.0.0.0:9000
  supportbot serve --in-process         # run workers as goroutines`,
	RunE: runServe,
}

var (
	serveAddr      string
	serveInProcess bool
)

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default from config)")
	serveCmd.Flags().BoolVar(&serveInProcess, "in-process", false, "Run workers in-process instead of as child processes")
	rootCmd.AddCommand(serveCmd)
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w\nRun 'supportbot onboard' to initialize", err)
	}

	st, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	pool := buildPool(cfg, st, serveInProcess)
	defer pool.Close()
	if err := pool.StartJanitor(); err != nil {
		return err
	}

	addr := strings.TrimSpace(serveAddr)
	if addr == "" {
		addr = cfg.Server.Addr
	}
	storePath, _ := cfg.StorePath()
	srv := server.NewServer(&server.Handler{Pool: pool, Store: st, StorePath: storePath}, addr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	logger.Info("supportbot service started", "addr", addr, "provider", cfg.Agent.Provider, "model", cfg.Agent.ModelType)
	fmt.Printf("supportbot is listening on %s. Press Ctrl+C to stop.\n", addr)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown error", "err", err)
	}
	return nil
}
