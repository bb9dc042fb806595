package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/statmeta/go-stat-catalog/internal/catalog"
	"github.com/statmeta/go-stat-catalog/internal/config"
	"github.com/statmeta/go-stat-catalog/internal/logger"
	"github.com/statmeta/go-stat-catalog/internal/storage"
)

var cfgFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "stat-catalog [files or directories...]",
		Short: "Build a variable catalog from statistical data files",
		Long: `Scans SPSS (.sav/.zsav/.por), SAS (.sas7bdat/.xpt and friends) and
Stata (.dta) files, extracts each file's variable dictionary without reading
any case data, and writes one catalog row per variable: source file, name,
label, requested custom attributes and an optional value-label summary.`,
		Args:             cobra.MinimumNArgs(1),
		PersistentPreRun: setupLogging,
		RunE:             runCatalog,
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (YAML)")

	// Logging flags
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable verbose debugging output")
	rootCmd.PersistentFlags().Bool("no-color", false, "disable colored output")
	rootCmd.PersistentFlags().String("log-file", "", "log to file instead of stdout")

	// Selection flags
	rootCmd.Flags().StringSliceP("formats", "f", []string{"spss"},
		"format families to catalog (spss, spsspor, sas, stata)")
	rootCmd.Flags().String("filename-pattern", "", "regex filter on file names (anchored, case-insensitive)")
	rootCmd.Flags().String("varname-pattern", "", "regex filter on variable names (anchored, case-insensitive)")

	// Content flags
	rootCmd.Flags().StringSliceP("attributes", "a", []string{}, "custom variable attributes to include")
	rootCmd.Flags().Int("attr-length", 256, "maximum length of attribute values")
	rootCmd.Flags().BoolP("value-labels", "l", false, "include value-label count and text columns")
	rootCmd.Flags().Int("label-length", 256, "maximum length of the joined value-label text")

	// Output flags
	rootCmd.Flags().StringP("output", "o", "catalog.json", "output file")
	rootCmd.Flags().String("format", "json", "output format (json, csv, sqlite)")
	rootCmd.Flags().Bool("hash", false, "record a SHA3-256 hash per cataloged file")

	// Concurrency flags
	rootCmd.Flags().IntP("workers", "w", 4, "number of parser workers")
	rootCmd.Flags().Int("timeout", 0, "overall time limit in seconds (0 = none)")

	if err := rootCmd.Execute(); err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
}

// setupLogging configures the logger based on command line flags.
func setupLogging(cmd *cobra.Command, args []string) {
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		logger.SetLevel(logger.LevelDebug)
	}
	if noColor, _ := cmd.Flags().GetBool("no-color"); noColor {
		logger.DisableColors()
	}
	if logFile, _ := cmd.Flags().GetString("log-file"); logFile != "" {
		file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o666)
		if err != nil {
			logger.Errorf("Failed to open log file: %v", err)
		} else {
			logger.DisableColors()
			logger.Initialize(file, file)
		}
	}
}

func runCatalog(cmd *cobra.Command, args []string) error {
	cfg, err := parseConfig(cmd, args)
	if err != nil {
		return err
	}
	// Configuration errors, including reserved attribute names, are fatal
	// before any file is opened.
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if cfg.TimeoutSeconds > 0 {
		ctx, cancel = context.WithTimeout(ctx, time.Duration(cfg.TimeoutSeconds)*time.Second)
		defer cancel()
	}

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig, ok := <-signalChan
		if ok {
			logger.Warningf("Received signal %v, finishing in-flight files...", sig)
			cancel()
		}
	}()
	defer signal.Stop(signalChan)

	store, err := storage.New(cfg.OutputFormat, cfg.OutputFile)
	if err != nil {
		return err
	}

	runner := catalog.New(&cfg)
	start := time.Now()
	logger.Infof("Cataloging %v for formats %v", cfg.Inputs, cfg.Formats)

	cat, err := runner.Run(ctx, cfg.Inputs)
	if err != nil {
		return err
	}
	stats := runner.Stats()
	if err := store.Write(cat, stats); err != nil {
		return err
	}

	logger.Infof("Catalog completed in %v", time.Since(start))
	logger.Infof("Files discovered: %d", stats.FilesDiscovered)
	logger.Infof("Files cataloged:  %d", stats.FilesCataloged)
	logger.Infof("Files skipped:    %d", stats.FilesSkipped)
	logger.Infof("Variables listed: %d", stats.VariablesListed)
	return nil
}

// parseConfig loads the optional config file and overlays command line
// flags on top of it.
func parseConfig(cmd *cobra.Command, args []string) (config.Config, error) {
	cfg := config.Defaults()
	if cfgFile != "" {
		loaded, err := config.LoadFile(cfgFile)
		if err != nil {
			return cfg, err
		}
		cfg = loaded
	}
	cfg.Inputs = args

	if cmd.Flags().Changed("formats") || len(cfg.Formats) == 0 {
		cfg.Formats, _ = cmd.Flags().GetStringSlice("formats")
	}
	if cmd.Flags().Changed("attributes") {
		cfg.AttributeNames, _ = cmd.Flags().GetStringSlice("attributes")
	}
	if cmd.Flags().Changed("attr-length") || cfg.AttrLength == 0 {
		cfg.AttrLength, _ = cmd.Flags().GetInt("attr-length")
	}
	if cmd.Flags().Changed("label-length") || cfg.LabelLength == 0 {
		cfg.LabelLength, _ = cmd.Flags().GetInt("label-length")
	}
	if cmd.Flags().Changed("value-labels") {
		cfg.ValueLabels, _ = cmd.Flags().GetBool("value-labels")
	}
	if cmd.Flags().Changed("filename-pattern") {
		cfg.FilenamePattern, _ = cmd.Flags().GetString("filename-pattern")
	}
	if cmd.Flags().Changed("varname-pattern") {
		cfg.VarnamePattern, _ = cmd.Flags().GetString("varname-pattern")
	}
	if cmd.Flags().Changed("output") || cfg.OutputFile == "" {
		cfg.OutputFile, _ = cmd.Flags().GetString("output")
	}
	if cmd.Flags().Changed("format") || cfg.OutputFormat == "" {
		cfg.OutputFormat, _ = cmd.Flags().GetString("format")
	}
	if cmd.Flags().Changed("hash") {
		cfg.HashFiles, _ = cmd.Flags().GetBool("hash")
	}
	if cmd.Flags().Changed("workers") || cfg.Workers == 0 {
		cfg.Workers, _ = cmd.Flags().GetInt("workers")
	}
	if cmd.Flags().Changed("timeout") {
		cfg.TimeoutSeconds, _ = cmd.Flags().GetInt("timeout")
	}
	return cfg, nil
}
