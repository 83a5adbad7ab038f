package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"

	"github.com/rihoka/tachiserve/internal/config"
)

var (
	cfg     *config.Config
	cfgFile string

	libraryPath string
	addr        string
	logLevel    string
	logFormat   string
	verify      bool
	noProgress  bool
)

var rootCmd = &cobra.Command{
	Use:   "tachiserve",
	Short: "Serve a local manga library to remote reader clients",
	Long: `tachiserve indexes a directory tree of manga (one info.toml manifest per
series, chapters stored as image directories or .cbz archives) and serves
pages over HTTP. Archive-backed pages are decompressed on demand, one entry
at a time, without unpacking anything to disk.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		if cmd.Flags().Changed("library") {
			cfg.Library = libraryPath
		}
		if cmd.Flags().Changed("addr") {
			cfg.Addr = addr
		}
		if cmd.Flags().Changed("log-level") {
			cfg.LogLevel = logLevel
		}
		if cmd.Flags().Changed("log-format") {
			cfg.LogFormat = logFormat
		}
		if cmd.Flags().Changed("verify-checksums") {
			cfg.VerifyChecksums = verify
		}

		var level slog.Level
		switch cfg.LogLevel {
		case "debug":
			level = slog.LevelDebug
		case "info":
			level = slog.LevelInfo
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		default:
			level = slog.LevelInfo
		}

		var handler slog.Handler
		if cfg.LogFormat == "json" {
			handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
				Level: level,
			})
		} else {
			handler = tint.NewHandler(os.Stderr, &tint.Options{
				Level: level,
			})
		}

		logger := slog.New(handler)
		slog.SetDefault(logger)

		slog.Debug("Configuration",
			"library", cfg.Library,
			"addr", cfg.Addr,
			"verify_checksums", cfg.VerifyChecksums,
			"log_level", cfg.LogLevel,
			"log_format", cfg.LogFormat)

		return nil
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is tachiserve.yaml in pwd)")
	rootCmd.PersistentFlags().StringVarP(&libraryPath, "library", "l", "", "path to the library root")
	rootCmd.PersistentFlags().StringVarP(&addr, "addr", "a", "", "address to listen on")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format (text, json)")
	rootCmd.PersistentFlags().BoolVar(&verify, "verify-checksums", false, "verify archive entry checksums while streaming")
	rootCmd.PersistentFlags().BoolVar(&noProgress, "no-progress", false, "disable progress bar")
}
