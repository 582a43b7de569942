package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"CopenhagenIncome/src/config"
	"CopenhagenIncome/src/datasource/file"
	"CopenhagenIncome/src/processor"
	"CopenhagenIncome/src/server"
	"CopenhagenIncome/src/storage"
	"CopenhagenIncome/src/utils"

	"github.com/fsnotify/fsnotify"
	"github.com/robfig/cron"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	configDir      string
	configFile     string
	dataConfigFile string
	verbose        bool
	exportOut      string
)

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "incomemap",
		Short: "Interactive map of the average income in the districts of Copenhagen",
		Long: `incomemap serves a web page with a year slider and a choropleth map of
the average income per district of Copenhagen. The inputs are a GeoJSON file
with the district boundaries and a semicolon separated income table.`,
		SilenceUsage: true,
		RunE:         runServe,
	}

	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", "config", "Directory holding the config files")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "config.json", "Server config file (.json or .yaml)")
	rootCmd.PersistentFlags().StringVar(&dataConfigFile, "data-config", "dataconfig.yaml", "Data config file (.json or .yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the map (default)",
		RunE:  runServe,
	}

	inspectCmd := &cobra.Command{
		Use:   "inspect",
		Short: "Load the data and print districts, years and colour scale",
		RunE:  runInspect,
	}

	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Write the prepared long table to an xlsx workbook",
		RunE:  runExport,
	}
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "avg-income-districts-cph.xlsx", "Output workbook")

	rootCmd.AddCommand(serveCmd, inspectCmd, exportCmd)
	return rootCmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, *config.DataConfig, error) {
	cfg, dcfg, err := config.LoadConfig(configDir, configFile, dataConfigFile)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, dcfg, nil
}

func newLogger(cfg *config.Config, console bool) (*storage.Logger, error) {
	logger, err := storage.NewLogger(cfg.LogName, cfg.LogLevel, console)
	if err != nil {
		return nil, err
	}
	if verbose {
		logger.SetLevel(zapcore.DebugLevel)
	}
	return logger, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, dcfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg, true)
	if err != nil {
		return err
	}
	defer logger.Close()

	t1 := time.Now()
	ds, err := processor.Load(cfg, dcfg)
	if err != nil {
		logger.Error("load data", zap.String("geo", cfg.GeoPath()), zap.String("income", cfg.IncomePath()), zap.Error(err))
		return err
	}
	logger.Info("data loaded",
		zap.Int("districts", len(ds.Districts())),
		zap.Ints("years", ds.Years()),
		zap.Int("rows", ds.Len()),
		zap.Duration("took", time.Since(t1)),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c, err := startLogRotation(cfg, logger)
	if err != nil {
		return err
	}
	defer c.Stop()

	if monitor, err := file.NewFileMonitor(filepath.Dir(logger.Filename()), fsnotify.Remove|fsnotify.Rename); err != nil {
		logger.Warn("log file watch disabled", zap.Error(err))
	} else {
		defer monitor.Close()
		go watchLogFile(ctx, monitor, logger)
	}

	go reopenOnHangup(ctx, logger)

	srv := server.New(cfg, dcfg, ds, logger)
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Std())
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// startLogRotation checks the log size on the configured schedule.
func startLogRotation(cfg *config.Config, logger *storage.Logger) (*cron.Cron, error) {
	c := cron.New()
	err := c.AddFunc(cfg.LogRotateSpec, func() {
		rotated, err := logger.CheckRotate(cfg.LogMaxSize)
		if err != nil {
			logger.Error("log rotation failed", zap.Error(err))
			return
		}
		if rotated {
			logger.Info("log file rotated", zap.String("file", logger.Filename()))
		}
	})
	if err != nil {
		return nil, fmt.Errorf("schedule log rotation %q: %w", cfg.LogRotateSpec, err)
	}
	c.Start()
	logger.Debug("log rotation scheduled", zap.String("spec", cfg.LogRotateSpec), zap.String("max_size", cfg.LogMaxSize))
	return c, nil
}

// watchLogFile reopens the log when an external tool moves or deletes it.
func watchLogFile(ctx context.Context, monitor *file.FileMonitor, logger *storage.Logger) {
	err := monitor.Watch(ctx, func(name string, op fsnotify.Op) {
		if filepath.Clean(name) != filepath.Clean(logger.Filename()) {
			return
		}
		if err := logger.Reopen(logger.Filename()); err != nil {
			fmt.Fprintf(os.Stderr, "reopen log %s: %v\n", logger.Filename(), err)
			return
		}
		logger.Info("log file reopened", zap.String("op", op.String()))
	})
	if err != nil {
		logger.Warn("log file watch stopped", zap.Error(err))
	}
}

func reopenOnHangup(ctx context.Context, logger *storage.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if err := logger.Reopen(logger.Filename()); err != nil {
				fmt.Fprintf(os.Stderr, "reopen log %s: %v\n", logger.Filename(), err)
				continue
			}
			logger.Info("log file reopened on SIGHUP")
		}
	}
}

func runInspect(cmd *cobra.Command, args []string) error {
	cfg, dcfg, err := loadConfig()
	if err != nil {
		return err
	}
	ds, err := processor.Load(cfg, dcfg)
	if err != nil {
		return err
	}
	printSummary(cmd.OutOrStdout(), ds)
	return nil
}

// printSummary writes what the map will show: districts with their ids,
// the slider years and the colour bar.
func printSummary(w io.Writer, ds *processor.Dataset) {
	fmt.Fprintf(w, "Districts (%d):\n", len(ds.Geo().Districts))
	for _, d := range ds.Geo().Districts {
		fmt.Fprintf(w, "  %-4s %s\n", d.ID, d.Name)
	}

	years := ds.Years()
	labels := make([]string, len(years))
	for i, y := range years {
		labels[i] = fmt.Sprint(y)
	}
	fmt.Fprintf(w, "Years: %s\n", strings.Join(labels, ", "))

	scale := ds.Scale()
	fmt.Fprintf(w, "Colour scale: %s - %s\n", processor.FormatIncome(scale.Min), processor.FormatIncome(scale.Max))
	fmt.Fprintf(w, "Ticks: %s\n", strings.Join(scale.TickText, ", "))
}

func runExport(cmd *cobra.Command, args []string) error {
	cfg, dcfg, err := loadConfig()
	if err != nil {
		return err
	}
	ds, err := processor.Load(cfg, dcfg)
	if err != nil {
		return err
	}
	if err := utils.SaveToExcel(ds.Frame(), "income", exportOut); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %d rows to %s\n", ds.Len(), exportOut)
	return nil
}
