// Package main provides the CLI entry point for hivemindd, the process that
// embeds the hivemind orchestration core (internal/manager) behind a
// configuration file and a minimal stdin chat surface. Transport proper
// (WebSocket fan-out, HTTP, a messaging bridge) is explicitly an external
// collaborator the core never imports (spec.md section 6.4); this binary's
// "chat" command is a reference adapter, not the transport itself.
package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hivemindctl/hivemind/internal/agent"
	"github.com/hivemindctl/hivemind/internal/config"
	"github.com/hivemindctl/hivemind/internal/manager"
	"github.com/hivemindctl/hivemind/internal/persistence"
)

// Build information, populated by -ldflags at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "hivemindd",
		Short:        "hivemind multi-agent orchestration daemon",
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	root.AddCommand(buildServeCmd(), buildChatCmd())
	return root
}

func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the orchestration core and block until shutdown",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, debug)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "hivemindd.yaml", "Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

func buildChatCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start the orchestration core and read user messages from stdin",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd.Context(), configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "hivemindd.yaml", "Path to YAML configuration file")
	return cmd
}

func runServe(ctx context.Context, configPath string, debug bool) error {
	if debug {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
	}

	m, err := bootstrap(ctx, configPath)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	slog.Info("hivemindd started", "version", version)
	<-ctx.Done()
	slog.Info("shutdown signal received, draining in-flight cycles")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := m.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	slog.Info("hivemindd stopped")
	return nil
}

func runChat(ctx context.Context, configPath string) error {
	m, err := bootstrap(ctx, configPath)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	fmt.Fprintln(os.Stdout, "hivemindd chat — type a message and press enter, Ctrl-C to quit")
	scanner := bufio.NewScanner(os.Stdin)
	lines := make(chan string)
	go func() {
		defer close(lines)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
			err := m.Shutdown(shutdownCtx)
			shutdownCancel()
			return err
		case line, ok := <-lines:
			if !ok {
				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
				err := m.Shutdown(shutdownCtx)
				shutdownCancel()
				return err
			}
			if line == "" {
				continue
			}
			future, err := m.HandleUserMessage(ctx, line)
			if err != nil {
				fmt.Fprintf(os.Stderr, "error: %v\n", err)
				continue
			}
			text, err := future.Await(ctx)
			if err != nil {
				fmt.Fprintf(os.Stderr, "error: %v\n", err)
				continue
			}
			fmt.Fprintln(os.Stdout, text)
		}
	}
}

// bootstrap loads configuration, constructs the persistence store and LLM
// providers, and returns a started Manager. The store is closed by
// Manager.Shutdown; callers do not need to close it separately.
func bootstrap(ctx context.Context, configPath string) (*manager.Manager, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	var store persistence.Store
	switch cfg.Persistence.Mode {
	case "sql":
		store, err = persistence.Open(ctx, cfg.Persistence.SQL)
		if err != nil {
			return nil, fmt.Errorf("opening persistence store: %w", err)
		}
	default:
		store = persistence.NewMemoryStore()
	}

	llmProviders, err := config.BuildProviders(ctx, cfg.Providers)
	if err != nil {
		return nil, fmt.Errorf("building providers: %w", err)
	}

	m, err := manager.New(cfg.ToManagerConfig(store), nil)
	if err != nil {
		return nil, fmt.Errorf("constructing manager: %w", err)
	}
	for name, provider := range llmProviders {
		m.RegisterProvider(name, provider)
	}

	m.Start(ctx)
	slog.Info("manager started",
		"worker_pool_size", cfg.Manager.WorkerPoolSize,
		"default_provider", cfg.Manager.DefaultProvider,
		"persistence_mode", cfg.Persistence.Mode,
		"providers", providerNames(llmProviders),
	)

	return m, nil
}

func providerNames(ps map[string]agent.LLMProvider) []string {
	names := make([]string, 0, len(ps))
	for name := range ps {
		names = append(names, name)
	}
	return names
}
