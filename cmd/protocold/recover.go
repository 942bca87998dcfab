package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/protocold/internal/config"
	"github.com/fyrsmithlabs/protocold/internal/executor"
	"github.com/fyrsmithlabs/protocold/internal/logging"
	"github.com/fyrsmithlabs/protocold/internal/orchestrator"
	"github.com/fyrsmithlabs/protocold/internal/store"
)

var recoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Run a one-shot recovery sweep over stuck protocols",
	Long: `Inspect every running protocol and finish, block, or re-dispatch it
as its step statuses dictate. Useful after an unclean daemon shutdown.

Re-dispatched steps go to the configured execution backend, so the
Temporal frontend must be reachable unless the local backend is
configured.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRecover(cmd.Context())
	},
}

func runRecover(ctx context.Context) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	st, err := store.OpenSQLite(ctx, cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	backend, err := executor.NewTemporal(cfg.Executor.TemporalHostPort,
		cfg.Executor.TemporalNamespace, cfg.Executor.TaskQueue, logger)
	if err != nil {
		return fmt.Errorf("connect temporal: %w", err)
	}
	defer backend.Close()

	disp := orchestrator.New(orchestrator.Options{
		Store:              st,
		Backend:            backend,
		Logger:             logger,
		MaxAutoFixAttempts: cfg.QA.MaxAutoFixAttempts,
	})

	n, err := disp.RecoverStuckProtocols(ctx, cfg.Recovery.Limit)
	if err != nil {
		return err
	}
	logger.Info(ctx, "recovery sweep finished", zap.Int("recovered", n))
	fmt.Printf("recovered %d protocol(s)\n", n)
	return nil
}
