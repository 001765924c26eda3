package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/toricodesthings/flossstock/internal/blob"
	"github.com/toricodesthings/flossstock/internal/catalog"
	"github.com/toricodesthings/flossstock/internal/config"
	"github.com/toricodesthings/flossstock/internal/extractor"
	"github.com/toricodesthings/flossstock/internal/ocr"
	"github.com/toricodesthings/flossstock/internal/scan"
	"github.com/toricodesthings/flossstock/internal/server"
	"github.com/toricodesthings/flossstock/internal/store"
)

var (
	configPath string
	verbose    bool
	scanText   bool

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "flossstock",
	Short: "Floss inventory service with PDF pattern scanning",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zc := zap.NewProductionConfig()
		if verbose {
			zc = zap.NewDevelopmentConfig()
			zc.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zc.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

var seedCmd = &cobra.Command{
	Use:   "seed <catalog.json|catalog.csv>",
	Short: "Import a color catalog into the database",
	Args:  cobra.ExactArgs(1),
	RunE:  runSeed,
}

var scanCmd = &cobra.Command{
	Use:   "scan <pattern.pdf>",
	Short: "Print the candidate DMC codes of a PDF",
	Args:  cobra.ExactArgs(1),
	RunE:  runScan,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file (env vars override it)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(seedCmd)
	scanCmd.Flags().BoolVar(&scanText, "text", false, "Print the page text with page headings instead of the codes")

	rootCmd.AddCommand(scanCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func newScanner(cfg config.Config) *scan.Scanner {
	client := ocr.NewClient(cfg.MistralAPIKey, cfg.OCRModel)
	if cfg.OCRTimeout > 0 {
		client.HTTP = &http.Client{Timeout: cfg.OCRTimeout}
	}
	return scan.New(
		extractor.Poppler{InfoTimeout: cfg.PDFInfoTimeout, TextTimeout: cfg.PDFToTextTimeout},
		client,
		scan.Options{
			MinWords:        cfg.MinWordsThreshold,
			PageSeparator:   cfg.PageSeparator,
			MaxPageWorkers:  cfg.MaxPageWorkers,
			OCRTriggerRatio: cfg.OCRTriggerRatio,
		},
		logger,
	)
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer st.Close()

	blobs, err := blob.NewFS(cfg.StorageDir)
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	srv := server.New(cfg, logger, st, blobs, newScanner(cfg))
	return srv.Run(ctx)
}

func runSeed(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	format, err := catalog.FormatFromPath(args[0])
	if err != nil {
		return err
	}
	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	cat, err := catalog.Parse(f, format)
	if err != nil {
		return fmt.Errorf("parse catalog: %w", err)
	}

	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx, stop := signalContext()
	defer stop()
	if err := st.ImportCatalog(ctx, cat); err != nil {
		return err
	}

	logger.Info("catalog imported",
		zap.String("file", args[0]),
		zap.Int("brands", len(cat.Brands)),
		zap.Int("lines", len(cat.Lines)),
		zap.Int("colors", len(cat.Colors)),
		zap.Int("skipped", cat.Skipped))
	return nil
}

func runScan(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()
	if cfg.ScanTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.ScanTimeout)
		defer cancel()
	}

	scanner := newScanner(cfg)
	if scanText {
		text, err := scanner.LayoutText(ctx, args[0])
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), text)
		return err
	}

	res, err := scanner.ScanFile(ctx, args[0])
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}
