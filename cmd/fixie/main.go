// Fixie is a conversational IT support assistant.
//
// It exposes an HTTP chat API backed by an OpenAI model and a Freshdesk
// ticketing gateway. Conversations escalate to support tickets only
// through an explicit human approval step. Configuration is loaded from
// a single YAML file discovered automatically (see
// [config.DefaultSearchPaths]).
//
// Usage:
//
//	fixie serve              Start the API server
//	fixie version            Print version and build information
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/fixie-ai/fixie-agent/internal/agent"
	"github.com/fixie-ai/fixie-agent/internal/api"
	"github.com/fixie-ai/fixie-agent/internal/buildinfo"
	"github.com/fixie-ai/fixie-agent/internal/config"
	"github.com/fixie-ai/fixie-agent/internal/llm"
	"github.com/fixie-ai/fixie-agent/internal/memory"
	"github.com/fixie-ai/fixie-agent/internal/orchestrator"
	"github.com/fixie-ai/fixie-agent/internal/router"
	"github.com/fixie-ai/fixie-agent/internal/ticketing"
	"github.com/fixie-ai/fixie-agent/internal/tools"
)

// main constructs the OS-level environment and delegates to [run], which
// keeps os.Exit and os.Args out of the application logic so the full
// lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, stdout, stderr io.Writer, args []string) error {
	var configPath string
	var command string

	// Parse arguments by hand; the surface is small enough that manual
	// parsing is clearer than the flag package's global state.
	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			return fmt.Errorf("unknown argument %q (try -help)", args[i])
		}
	}

	switch command {
	case "version":
		fmt.Fprintln(stdout, buildinfo.String())
		return nil
	case "", "serve":
		return serve(ctx, stdout, configPath)
	default:
		return fmt.Errorf("unknown command %q (try -help)", command)
	}
}

func printUsage(w io.Writer) error {
	fmt.Fprintln(w, `Fixie - conversational IT support assistant

Usage:
  fixie [flags] <command>

Commands:
  serve     Start the API server (default)
  version   Print version and build information

Flags:
  -config <path>   Config file (default: search ./config.yaml,
                   ~/.config/fixie/config.yaml, /etc/fixie/config.yaml)`)
	return nil
}

func serve(ctx context.Context, stdout io.Writer, configPath string) error {
	cfgPath, err := config.FindConfig(configPath)
	if err != nil {
		return err
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	level, err := config.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger := newLogger(stdout, level)
	slog.SetDefault(logger)

	logger.Info("starting", "build", buildinfo.String(), "config", cfgPath)

	// --- Conversation store ---
	var store memory.Store
	switch cfg.Storage.Backend {
	case "", "memory":
		store = memory.NewMemoryStore(cfg.Storage.MaxMessages)
		logger.Info("using in-memory conversation store")
	case "sqlite":
		store, err = memory.NewSQLiteStore(cfg.Storage.Path, cfg.Storage.MaxMessages)
		if err != nil {
			return fmt.Errorf("open conversation store: %w", err)
		}
		logger.Info("using sqlite conversation store", "path", cfg.Storage.Path)
	default:
		return fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
	defer store.Close()

	// --- Gateways ---
	llmClient := llm.NewOpenAIClient(cfg.OpenAI.BaseURL, cfg.OpenAI.APIKey,
		cfg.OpenAI.Temperature, cfg.OpenAI.MaxTokens, logger)

	pingCtx, pingCancel := context.WithTimeout(ctx, 10*time.Second)
	if err := llmClient.Ping(pingCtx); err != nil {
		logger.Warn("model provider unreachable at startup", "error", err)
	}
	pingCancel()

	ticketClient := ticketing.NewFreshdeskClient(cfg.Freshdesk.Domain, cfg.Freshdesk.APIKey,
		time.Duration(cfg.Freshdesk.TimeoutSec)*time.Second, logger)

	// --- Orchestration ---
	registry := tools.NewRegistry(ticketClient,
		time.Duration(cfg.Loop.ToolTimeoutSec)*time.Second, logger)
	rtr := router.NewRouter(logger, 0)
	runner := agent.NewRunner(logger, llmClient, registry, cfg.OpenAI.Model, cfg.Loop.MaxRounds)
	orch := orchestrator.New(logger, store, rtr, runner, registry)

	listen := net.JoinHostPort(cfg.Listen.Address, strconv.Itoa(cfg.Listen.Port))
	server := api.NewServer(listen, orch, rtr, logger)

	// --- Signal handling and graceful shutdown ---
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go func() {
		<-ctx.Done()
		logger.Info("shutdown signal received")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	if err := server.Start(); err != nil {
		if ctx.Err() == nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	logger.Info("Fixie stopped")
	return nil
}

// newLogger creates a structured text logger writing to w at the given
// level. All log output goes through slog.
func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}))
}
