package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/outerlook/helmsman/internal/config"
	"github.com/outerlook/helmsman/internal/executor"
	"github.com/outerlook/helmsman/internal/orchestrator"
	"github.com/outerlook/helmsman/internal/state"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the orchestration engine",
	Long: `Opens the database, loads the configuration, and runs the engine
until interrupted. The config file is watched and hot-reloaded.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := CheckClaudeCLI(); err != nil {
			return err
		}
		return runServe()
	},
}

func runServe() error {
	db, err := state.Open(filepath.Join(dataDir, "helmsman.db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	cfg, err := config.Load(resolvedConfigPath())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	catalog, err := executor.LoadCatalog(filepath.Join(dataDir, "executors.yaml"))
	if err != nil {
		return fmt.Errorf("load executor catalog: %w", err)
	}

	logger, err := orchestrator.NewDebugLogger(filepath.Join(dataDir, "logs", "orchestrator.log"))
	if err != nil {
		logger = orchestrator.NopLogger()
	}

	orch, err := orchestrator.New(orchestrator.Options{
		DB:      db,
		Config:  cfg,
		Adapter: executor.NewClaudeAdapter(catalog),
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	orch.Start(ctx)
	go func() {
		if err := cfg.Watch(ctx); err != nil && ctx.Err() == nil {
			log.Printf("[serve] config watcher stopped: %v", err)
		}
	}()

	// Resume any work that was queued before the restart.
	orch.ProcessQueue()

	log.Printf("[serve] engine running (data dir %s)", dataDir)
	<-ctx.Done()

	log.Printf("[serve] shutting down")
	orch.Shutdown()
	return nil
}
