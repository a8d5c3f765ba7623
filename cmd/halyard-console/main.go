// Package main is the entry point for the Halyard interactive console.
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/halyard-dev/halyard/internal/console"
	"github.com/halyard-dev/halyard/internal/logging"
	"github.com/halyard-dev/halyard/internal/project"
	"github.com/halyard-dev/halyard/internal/scripting"
	"github.com/halyard-dev/halyard/internal/source"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	workspace string
	sources   string
	logLevel  string
	noBanner  bool
	debug     bool
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:     "halyard-console",
		Short:   "Interactive console for the Halyard package manager",
		Version: fmt.Sprintf("%s (%s)", version, commit),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(opts)
		},
		SilenceUsage: true,
	}

	cmd.Flags().StringVarP(&opts.workspace, "workspace", "w", "", "workspace root to open")
	cmd.Flags().StringVar(&opts.sources, "sources", defaultSourcesPath(), "package sources config file")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	cmd.Flags().BoolVar(&opts.noBanner, "no-banner", false, "suppress the startup banner")
	cmd.Flags().BoolVar(&opts.debug, "debug", false, "enable debug logging")

	return cmd
}

func defaultSourcesPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "sources.json"
	}
	return filepath.Join(home, ".halyard", "sources.json")
}

func run(opts *options) error {
	logger, err := logging.New(opts.logLevel, opts.debug)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	store := project.NewManifestStore()

	provider := source.NewFileProvider(opts.sources)
	registry, err := source.NewRegistry(provider, source.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("load sources: %w", err)
	}

	watcher, err := source.NewWatcher(opts.sources, func() {
		if err := registry.Reload(); err != nil {
			logger.Warn("sources reload failed", zap.Error(err))
		}
	}, source.WithWatcherLogger(logger))
	if err != nil {
		logger.Warn("sources watcher unavailable", zap.Error(err))
	} else {
		defer watcher.Close()
	}

	host, err := console.New(console.Config{
		Store:   store,
		Events:  store,
		Sources: registry,
		Factory: func(out io.Writer) (*scripting.Session, error) {
			return scripting.NewSession(
				scripting.WithOutput(out),
				scripting.WithSessionLogger(logger),
			)
		},
		Output: os.Stdout,
		Logger: logger,
		Banner: fmt.Sprintf("Halyard console %s. Type 'exit' to leave.", version),
	})
	if err != nil {
		return err
	}
	defer host.Close()

	ctx := context.Background()
	if err := host.Initialize(ctx, !opts.noBanner); err != nil {
		return err
	}

	if opts.workspace != "" {
		if err := store.OpenWorkspace(opts.workspace); err != nil {
			return fmt.Errorf("open workspace: %w", err)
		}
	}

	// Interrupt aborts the running command rather than killing the
	// console.
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT)
	defer signal.Stop(signals)
	go func() {
		for range signals {
			host.Abort()
			fmt.Println()
		}
	}()

	return repl(ctx, host)
}

func repl(ctx context.Context, host *console.Host) error {
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print(host.Prompt())
		if !scanner.Scan() {
			fmt.Println()
			return scanner.Err()
		}
		line := scanner.Text()

		switch line {
		case "exit", "quit":
			return nil
		case "":
			if host.Prompt() == "PM> " {
				continue
			}
		}

		if _, err := host.Execute(ctx, line); err != nil {
			fmt.Fprintln(os.Stderr, err)
		}
	}
}
