package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/charmbracelet/fang"
	"github.com/gophersatwork/recon"
	"github.com/gophersatwork/recon/lsp"
	protocol "github.com/sourcegraph/go-lsp"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	cfgFile string
	root    string
	verbose bool
)

func main() {
	rootCmd.Flags().StringVar(&cfgFile, "config", "", "config file (default is .recon.yml)")
	rootCmd.Flags().StringVar(&root, "root", ".", "workspace root used until the client sends one")
	rootCmd.Flags().BoolVar(&verbose, "verbose", false, "enable debug logging")

	if err := fang.Execute(context.Background(), rootCmd); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "recon-lsp",
	Short: "recon language server",
	Long:  `recon-lsp speaks the Language Server Protocol on stdin and stdout.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		fs := afero.NewOsFs()

		cfg, cfgErr := recon.LoadConfig(fs, root, cfgFile)
		if cfgErr != nil {
			cfg = recon.DefaultConfig()
		}

		// stdout carries JSON-RPC
		logOut, closeLog := logWriter(cfg.Server.LogFile)
		defer closeLog()
		logger := slog.New(slog.NewTextHandler(logOut, &slog.HandlerOptions{
			Level: logLevel(cfg.Server.LogLevel),
		}))
		if cfgErr != nil {
			logger.Error("Failed to load configuration, using defaults", "error", cfgErr)
		}

		analyzer, rules, err := recon.BuildAnalyzer(cfg, root, logger)
		if err != nil {
			logger.Error("Failed to build analyzers", "error", err)
			return err
		}

		server, err := lsp.NewServer(logger,
			lsp.WithAnalyzer(analyzer),
			lsp.WithFs(fs),
			lsp.WithExtensionID(cfg.Server.ExtensionID),
			lsp.WithMoveCursorMethod(cfg.Server.MoveCursorMethod),
			lsp.WithConfigPath(cfg.Path),
			lsp.WithWorkspaceFoldersHandler(func(folders []lsp.WorkspaceFolder) {
				if len(folders) > 0 {
					rules.SetRoot(recon.URIToPath(folders[0].URI))
				}
			}),
		)
		if err != nil {
			logger.Error("Failed to create server", "error", err)
			return err
		}

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			defer cancel()
			return server.Serve(ctx, stdrwc{})
		})

		if cfg.Path != "" {
			watcher, err := recon.NewConfigWatcher(recon.WatchConfig{
				ConfigPath: cfg.Path,
				Root:       root,
				Logger:     logger,
				FS:         fs,
				OnReload: func(next recon.Config) {
					if err := rules.SetRules(next.Rules); err != nil {
						server.ShowMessage(ctx, protocol.MTError, fmt.Sprintf("recon: config not applied: %v", err))
						return
					}
					logger.Info("Configuration reloaded", "rules", rules.Rules())
					server.RetriggerAll()
				},
				OnError: func(err error) {
					server.ShowMessage(ctx, protocol.MTError, fmt.Sprintf("recon: config reload failed: %v", err))
				},
			})
			if err != nil {
				return err
			}
			g.Go(func() error {
				return watcher.Run(ctx)
			})
		}

		return g.Wait()
	},
}

func logLevel(level string) slog.Level {
	if verbose {
		return slog.LevelDebug
	}
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func logWriter(path string) (io.Writer, func()) {
	if path == "" {
		return os.Stderr, func() {}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "recon-lsp: cannot open log file %s: %v\n", path, err)
		return os.Stderr, func() {}
	}
	return f, func() { f.Close() }
}

// stdrwc implements io.ReadWriteCloser for stdin/stdout
type stdrwc struct{}

func (stdrwc) Read(p []byte) (int, error) {
	return os.Stdin.Read(p)
}

func (stdrwc) Write(p []byte) (int, error) {
	n, err := os.Stdout.Write(p)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error writing to stdout: %v\n", err)
	}
	return n, err
}

func (stdrwc) Close() error {
	if err := os.Stdin.Close(); err != nil {
		return err
	}
	return os.Stdout.Close()
}
