// Remedyd is a daemon that orchestrates AI-assisted remediation workflows.
//
// Given a reported finding it runs an ordered pipeline of steps (scan, fix,
// test, document), delegating each step's reasoning to an external CLI
// analysis tool invoked as a subprocess. Session state is persisted after
// every transition and reloaded at startup.
//
// Usage:
//
//	# Start the daemon with defaults
//	remedyd
//
//	# Configure via environment
//	SERVER_PORT=9190 EXECUTOR_BINARY=claude remedyd
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/remedyd/internal/config"
	"github.com/fyrsmithlabs/remedyd/internal/events"
	"github.com/fyrsmithlabs/remedyd/internal/executor"
	"github.com/fyrsmithlabs/remedyd/internal/logging"
	"github.com/fyrsmithlabs/remedyd/internal/server"
	"github.com/fyrsmithlabs/remedyd/internal/session"
	"github.com/fyrsmithlabs/remedyd/internal/workflow"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	if args := flag.Args(); len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  remedyd           Start the remedyd daemon\n")
			fmt.Fprintf(os.Stderr, "  remedyd version   Show version information\n")
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down gracefully...", sig)
		cancel()
	}()

	if err := run(ctx, *configPath); err != nil {
		log.Fatalf("Server error: %v", err)
	}
	log.Println("Server shutdown complete")
}

func printVersion() {
	fmt.Printf("remedyd by Fyrsmith Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run wires dependencies and blocks until ctx is cancelled.
func run(ctx context.Context, configPath string) error {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := logging.NewLogger(&logging.Config{
		Level:   cfg.Logging.Level,
		Format:  cfg.Logging.Format,
		Service: "remedyd",
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()
	zl := logger.Underlying()

	logger.Info(ctx, "starting remedyd",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.String("store", cfg.Store.Path),
		zap.String("tool", cfg.Executor.Binary),
	)

	store, err := session.NewStore(cfg.Store.Path, zl.Named("store"))
	if err != nil {
		return fmt.Errorf("failed to open session store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn(ctx, "failed to close session store", zap.Error(err))
		}
	}()

	runner := executor.NewRunner(executor.Config{
		Binary:           cfg.Executor.Binary,
		ScratchDir:       cfg.Executor.ScratchDir,
		OffloadThreshold: cfg.Executor.OffloadThreshold,
		DefaultTimeout:   cfg.Executor.DefaultTimeout.Duration(),
		DefaultMaxTurns:  cfg.Executor.DefaultMaxTurns,
	}, zl.Named("executor"))

	bus := events.NewBus()
	eventLog := zl.Named("events")
	bus.Subscribe(func(ev events.Event) {
		eventLog.Info("workflow state change",
			zap.String("type", string(ev.Type)),
			zap.String("session_id", ev.Session.ID),
			zap.String("status", string(ev.Session.Status)),
			zap.Int("step_index", ev.StepIndex),
		)
	})

	manager, err := workflow.NewManager(workflow.Config{
		WorkDir:       cfg.Workflow.WorkDir,
		MaxConcurrent: cfg.Workflow.MaxConcurrent,
	}, store, runner, bus, zl.Named("workflow"))
	if err != nil {
		return fmt.Errorf("failed to create workflow manager: %w", err)
	}

	if err := manager.Restore(ctx); err != nil {
		return fmt.Errorf("failed to restore sessions: %w", err)
	}

	srv, err := server.NewServer(cfg.Server, manager, zl.Named("http"))
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	if err := srv.Start(ctx); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
