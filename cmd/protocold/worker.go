package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/protocold/internal/config"
	"github.com/fyrsmithlabs/protocold/internal/executor"
	"github.com/fyrsmithlabs/protocold/internal/logging"
)

var workerServerURL string

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run a Temporal worker that executes protocol steps",
	Long: `Run a worker that polls the step task queue, executes each step's
agent command inside its worktree, and reports the outcome back to the
protocold daemon over HTTP.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWorker()
	},
}

func init() {
	workerCmd.Flags().StringVar(&workerServerURL, "server",
		"http://localhost:8321", "protocold daemon URL for result reporting")
}

func runWorker() error {
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

	c, err := client.Dial(client.Options{
		HostPort:  cfg.Executor.TemporalHostPort,
		Namespace: cfg.Executor.TemporalNamespace,
	})
	if err != nil {
		return fmt.Errorf("dial temporal at %s: %w", cfg.Executor.TemporalHostPort, err)
	}
	defer c.Close()

	activities := &executor.Activities{
		AgentCommand: cfg.Executor.AgentCommand,
		Reporter:     executor.NewHTTPReporter(workerServerURL),
	}
	w := executor.NewWorker(c, cfg.Executor.TaskQueue, activities)

	logger.Underlying().Info("worker started",
		zap.String("task_queue", cfg.Executor.TaskQueue),
		zap.String("server", workerServerURL))

	// Blocks until SIGINT or SIGTERM.
	return w.Run(worker.InterruptCh())
}
