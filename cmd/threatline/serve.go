package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/threatline/threatline/internal/config"
	"github.com/threatline/threatline/internal/orchestrator"
	"github.com/threatline/threatline/internal/scheduler"
	"github.com/threatline/threatline/internal/server"
)

// newServeCmd exposes the pipeline over the local HTTP API with a
// background retention sweeper.
func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the local analysis HTTP API",
		RunE:  runServe,
	}
	cmd.Flags().StringP("config", "c", "config.toml", "path to config file")
	cmd.Flags().Int("port", 0, "listen port (overrides config, 0 = config value)")
	cmd.Flags().BoolP("verbose", "v", false, "verbose output")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	port, _ := cmd.Flags().GetInt("port")
	verbose, _ := cmd.Flags().GetBool("verbose")

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if port == 0 {
		port = cfg.Server.Port
	}

	p, err := buildPipeline(cfg, verbose)
	if err != nil {
		return err
	}
	defer p.close()

	defaults := orchestrator.Options{
		EnableMITRE:    cfg.Analysis.MITRE,
		EnableTimeline: cfg.Analysis.Timeline,
	}
	srv := server.New(p.orch, p.store, defaults, p.log)
	addr, err := srv.Start(port)
	if err != nil {
		return err
	}
	p.log.Info("server listening", zap.String("addr", addr))
	fmt.Fprintf(os.Stderr, "threatline API listening on http://%s\n", addr)

	sweeper := scheduler.NewSweeper(p.store, cfg.Storage.RetentionDays, p.log)
	if err := sweeper.Start(); err != nil {
		return fmt.Errorf("retention sweeper: %w", err)
	}
	defer sweeper.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigCh:
	case <-cmd.Context().Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	srv.Stop(shutdownCtx)
	p.log.Info("server stopped")
	return nil
}
