package main

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"github.com/charmbracelet/fang"
	"github.com/gophersatwork/recon"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

var (
	cfgFile     string
	verbose     bool
	output      string
	colorMode   string
	groupByCode bool
	workers     int
	useCache    bool
	contextN    int
)

func main() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .recon.yml)")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "enable verbose logging")

	checkCmd.Flags().StringVarP(&output, "output", "o", string(recon.FormatText), "output format (text, json)")
	checkCmd.Flags().StringVar(&colorMode, "color", string(recon.ColorAuto), "colorize output (auto, always, never)")
	checkCmd.Flags().BoolVar(&groupByCode, "group-by-code", false, "group findings by problem code")
	checkCmd.Flags().IntVar(&workers, "workers", 0, "number of files checked in parallel (default is the CPU count)")
	checkCmd.Flags().BoolVar(&useCache, "cache", false, "reuse results of unchanged files")
	checkCmd.Flags().IntVar(&contextN, "context", 0, "source lines shown around each finding")
	rootCmd.AddCommand(checkCmd)

	if err := fang.Execute(context.Background(), rootCmd); err != nil {
		logFile, logErr := setupLogFile()
		var logger *slog.Logger

		// Fall back to stderr if we can't create the log file
		if logErr != nil {
			logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
				Level: slog.LevelError,
			}))
			logger.Error("Failed to set up log file, falling back to stderr", "error", logErr)
		} else {
			defer logFile.Close()
			logger = slog.New(slog.NewTextHandler(logFile, &slog.HandlerOptions{
				Level: slog.LevelError,
			}))
		}

		if info, found := recon.GetErrorInfo(err); found {
			logger.Error("Command failed", "error_type", info.Type)
			if info.Details != "" {
				logger.Error("Additional details", "details", info.Details)
			}
			if info.File != "" {
				logger.Error("File information", "file", info.File)
			}
		} else if errors.Is(err, recon.ErrProblemsFound) {
			logger.Error("Problems found", "message", "At least one file has error level problems")
		} else {
			logger.Error("Command failed", "error", err)
		}

		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "recon",
	Short: "Rule based document checks",
	Long:  `recon checks documents against configured rules, in batch or as a language server (recon-lsp).`,
}

var checkCmd = &cobra.Command{
	Use:   "check [path]",
	Short: "Check every file under path",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "."
		if len(args) == 1 {
			path = args[0]
		}

		logLevel := slog.LevelInfo
		if verbose {
			logLevel = slog.LevelDebug
		}

		logFile, err := setupLogFile()
		if err != nil {
			logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
				Level: logLevel,
			}))
			logger.Error("Failed to set up log file, falling back to stderr", "error", err)
			return err
		}
		defer logFile.Close()

		logger := slog.New(slog.NewTextHandler(logFile, &slog.HandlerOptions{
			Level: logLevel,
		}))

		fs := afero.NewOsFs()

		cfg, err := recon.LoadConfig(fs, path, cfgFile)
		if err != nil {
			logger.Error("Failed to load configuration", "error", err)
			return err
		}

		analyzer, _, err := recon.BuildAnalyzer(cfg, path, logger)
		if err != nil {
			logger.Error("Failed to build analyzers", "error", err)
			return err
		}

		var opts []recon.Option
		if verbose {
			opts = append(opts, recon.WithProgressReporter(recon.NewLogProgressReporter(logger)))
		}
		if workers > 0 {
			opts = append(opts, recon.WithWorkerCount(workers))
		}
		if useCache || cfg.Incremental {
			cache, err := recon.NewProblemCache(cfg.CacheFile, fs, cfg.Path)
			if err != nil {
				logger.Error("Failed to open cache, checking without it", "error", err)
			} else {
				opts = append(opts, recon.WithCache(cache))
			}
		}

		checker, err := recon.NewChecker(cfg, analyzer, logger, fs, opts...)
		if err != nil {
			logger.Error("Failed to initialize the checker", "error", err)
			return err
		}

		report, err := checker.Check(cmd.Context(), path)
		if err != nil {
			logger.Error("Check failed", "path", path, "error", err)
			return err
		}

		stats := checker.Stats()
		logger.Info("Check finished",
			"files", stats.FilesProcessed(),
			"cache_hits", stats.CacheHits(),
			"duration", stats.Duration())

		formatter, err := recon.NewFormatter(recon.OutputFormat(output))
		if err != nil {
			return err
		}
		if text, ok := formatter.(*recon.TextFormatter); ok {
			text.ColorMode = recon.ColorMode(colorMode)
			text.GroupByCode = groupByCode
			text.Writer = cmd.OutOrStdout()
			text.ContextLines = contextN
			text.Source = fs
		}

		out, err := formatter.Format(report)
		if err != nil {
			return err
		}
		if _, err := cmd.OutOrStdout().Write(out); err != nil {
			return err
		}

		if report.HasErrors() {
			return recon.ErrProblemsFound
		}
		return nil
	},
}

// setupLogFile creates the .recon directory if it doesn't exist and returns a file handle for the log file
func setupLogFile() (*os.File, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}

	reconDir := recon.JoinPaths(home, ".recon")
	if err := os.MkdirAll(reconDir, 0o755); err != nil {
		return nil, err
	}

	logFile := recon.JoinPaths(reconDir, "recon.log")
	return os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
}
