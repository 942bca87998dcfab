package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/protocold/internal/config"
	"github.com/fyrsmithlabs/protocold/internal/events"
	"github.com/fyrsmithlabs/protocold/internal/executor"
	"github.com/fyrsmithlabs/protocold/internal/logging"
	"github.com/fyrsmithlabs/protocold/internal/orchestrator"
	"github.com/fyrsmithlabs/protocold/internal/policy"
	"github.com/fyrsmithlabs/protocold/internal/qa"
	"github.com/fyrsmithlabs/protocold/internal/server"
	"github.com/fyrsmithlabs/protocold/internal/store"
	"github.com/fyrsmithlabs/protocold/internal/workspace"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the protocold daemon",
	Long: `Start the HTTP control surface, the step dispatcher, and the
periodic recovery sweep. Blocks until SIGINT or SIGTERM.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func runServe() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

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

	logger.Info(ctx, "starting protocold",
		zap.Int("port", cfg.Server.Port),
		zap.String("backend", cfg.Executor.Backend),
		zap.String("store", cfg.Store.Path))

	st, err := store.OpenSQLite(ctx, cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	var pub events.Publisher = events.Noop{}
	if cfg.Events.URL != "" {
		natsPub, err := events.NewNATS(cfg.Events.URL, cfg.Events.Subject, logger)
		if err != nil {
			// Events are observability, not correctness; run without them.
			logger.Warn(ctx, "event publishing disabled", zap.Error(err))
		} else {
			pub = natsPub
			defer natsPub.Close()
		}
	}

	gates := qa.NewRegistry()
	gates.Register(qa.ProjectConfigGate{})
	gates.Register(qa.RequiredFilesGate{})
	secretGate, err := qa.NewSecretScanGate()
	if err != nil {
		logger.Warn(ctx, "secret scanning disabled", zap.Error(err))
	} else {
		gates.Register(secretGate)
	}

	retryer := workspace.NewRetryer(cfg.Git.LockMaxRetries, cfg.Git.LockRetryDelay,
		cfg.Git.StaleLockAge, logger)
	manager := workspace.NewManager(retryer, logger)
	var prOpener *workspace.PROpener
	if cfg.Git.GithubToken != "" {
		prOpener = workspace.NewPROpener(ctx, cfg.Git.GithubToken, logger)
	}
	publisher := workspace.NewRunPublisher(manager, prOpener, logger)

	// The local backend reports results straight into the dispatcher, so
	// the closure captures a variable assigned just below.
	var disp *orchestrator.Dispatcher
	var backend executor.Backend
	switch cfg.Executor.Backend {
	case "local":
		acts := &executor.Activities{AgentCommand: cfg.Executor.AgentCommand}
		backend = executor.NewLocal(func(ctx context.Context, input executor.StepInput) {
			output, err := acts.ExecuteStep(ctx, input)
			if err != nil {
				output = &executor.StepOutput{StepRunID: input.StepRunID, Summary: err.Error()}
			}
			if err := disp.OnStepResult(ctx, *output, input.InlineDepth); err != nil {
				logger.Error(ctx, "failed to apply step result", zap.Error(err))
			}
		})
	default:
		backend, err = executor.NewTemporal(cfg.Executor.TemporalHostPort,
			cfg.Executor.TemporalNamespace, cfg.Executor.TaskQueue, logger)
		if err != nil {
			return fmt.Errorf("connect temporal: %w", err)
		}
	}
	defer backend.Close()

	disp = orchestrator.New(orchestrator.Options{
		Store:                 st,
		Backend:               backend,
		Gates:                 gates,
		Resolver:              policy.NewResolver(st, logger),
		Events:                pub,
		Logger:                logger,
		Publisher:             publisher,
		MaxAutoFixAttempts:    cfg.QA.MaxAutoFixAttempts,
		MaxInlineTriggerDepth: cfg.QA.MaxInlineTriggerDepth,
		DispatchRate:          cfg.Executor.DispatchRate,
	})

	srv, err := server.NewServer(st, disp, logger, &server.Config{Port: cfg.Server.Port})
	if err != nil {
		return fmt.Errorf("create http server: %w", err)
	}
	srv.Echo().GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	go disp.RunRecoverySweep(ctx, cfg.Recovery.Interval, cfg.Recovery.Limit)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case <-ctx.Done():
		logger.Info(context.Background(), "shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
