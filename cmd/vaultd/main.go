package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/CptDat9/loomix-vault-factory/internal/api"
	"github.com/CptDat9/loomix-vault-factory/internal/config"
	"github.com/CptDat9/loomix-vault-factory/internal/events"
	"github.com/CptDat9/loomix-vault-factory/internal/factory"
	"github.com/CptDat9/loomix-vault-factory/internal/logging"
	"github.com/CptDat9/loomix-vault-factory/internal/metrics"
	"github.com/CptDat9/loomix-vault-factory/internal/notifier"
	"github.com/CptDat9/loomix-vault-factory/internal/recorder"
	"github.com/CptDat9/loomix-vault-factory/internal/scheduler"
	"github.com/CptDat9/loomix-vault-factory/internal/store"
)

var (
	cfgPath    string
	runOnStart bool
	inspectID  string
	reportRows int
)

var rootCmd = &cobra.Command{
	Use:           "vaultd",
	Short:         "Multi-strategy vault engine",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the keeper scheduler",
	RunE:  runServe,
}

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Print persisted vault state and recent reports",
	Long: `Reads the snapshot store and report history directly. The LevelDB store
is locked while serve is running; stop it first or use the HTTP API.`,
	RunE: runInspect,
}

func init() {
	defaultCfg := "configs/config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		defaultCfg = v
	}
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", defaultCfg, "config file (.yaml or .toml)")
	serveCmd.Flags().BoolVar(&runOnStart, "run-on-start", os.Getenv("RUN_ON_START") == "true", "run a report pass immediately")
	inspectCmd.Flags().StringVar(&inspectID, "vault", "", "only show this vault")
	inspectCmd.Flags().IntVar(&reportRows, "reports", 10, "recent reports to show per vault")
	rootCmd.AddCommand(serveCmd, inspectCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("config validation: %w", err)
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func openRecorder(cfg *config.Config, logger *zap.Logger) recorder.Recorder {
	if cfg.Database.SQLitePath == "" {
		return recorder.NewNoopRecorder()
	}
	sr, err := recorder.NewSQLiteRecorder(cfg.Database.SQLitePath, logger)
	if err != nil {
		logger.Warn("init sqlite recorder failed, using noop", zap.Error(err))
		return recorder.NewNoopRecorder()
	}
	return sr
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	logger.Info("vaultd starting", zap.String("config", cfgPath))

	dir, err := buildDirectory(cfg)
	if err != nil {
		return fmt.Errorf("build strategy directory: %w", err)
	}

	st, err := store.Open(cfg.Store.Driver, cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	rec := openRecorder(cfg, logger)
	defer rec.Close()

	m := metrics.New()
	emitters := events.Multi{recorder.NewSink(rec, logger.Named("recorder")), m}

	var wn *notifier.WebhookNotifier
	if cfg.Notifier.WebhookURL != "" {
		wn, err = notifier.NewWebhookNotifier(notifier.Options{
			URL:           cfg.Notifier.WebhookURL,
			Token:         cfg.Notifier.Token,
			ProxyURL:      cfg.Proxy,
			MaxRetries:    cfg.Notifier.MaxRetries,
			RatePerSecond: cfg.Notifier.RatePerSecond,
			Logger:        logger.Named("notifier"),
		})
		if err != nil {
			return fmt.Errorf("init notifier: %w", err)
		}
		emitters = append(emitters, wn)
	}

	f := factory.New(dir,
		factory.WithStore(st),
		factory.WithEmitter(emitters),
		factory.WithLogger(logger),
		factory.WithValuationTimeout(cfg.ValuationTimeout.Duration))

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	restored, err := f.Restore(ctx)
	if err != nil {
		return err
	}
	if restored == 0 && len(cfg.Vaults) > 0 {
		if err := bootstrapVaults(ctx, f, cfg.Vaults, logger); err != nil {
			return fmt.Errorf("bootstrap vaults: %w", err)
		}
	}

	sched := scheduler.NewScheduler(ctx, f, st, m, cfg.Keeper, logger)
	if err := sched.RegisterAll(cfg.Schedule.ReportCron, cfg.Schedule.SnapshotCron); err != nil {
		return err
	}
	sched.SnapshotNow()
	sched.Start()
	defer sched.Stop()

	if wn != nil {
		wn.Start(ctx)
		defer wn.Close()
	}
	if runOnStart {
		logger.Info("run-on-start enabled, running report pass now")
		go sched.RunReportsNow()
	}

	srv := api.New(api.Config{Factory: f, Recorder: rec, Metrics: m, Logger: logger.Named("api")})
	httpServer := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      srv.Handler(),
		ReadTimeout:  cfg.HTTP.ReadTimeout.Duration,
		WriteTimeout: cfg.HTTP.WriteTimeout.Duration,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http listening", zap.String("addr", cfg.HTTP.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	logger.Info("shutdown signal received, stopping", zap.Int("vaults", f.Len()))
	return err
}

func runInspect(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	st, err := store.Open(cfg.Store.Driver, cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()
	rec := openRecorder(cfg, logger)
	defer rec.Close()

	snaps, err := st.LoadAll()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	shown := 0
	for _, snap := range snaps {
		if inspectID != "" && snap.ID != inspectID {
			continue
		}
		shown++
		fmt.Fprintln(out, notifier.FormatVaultStatus(snap))
		if reportRows <= 0 {
			continue
		}
		reports, err := rec.Reports(snap.ID, reportRows)
		if err != nil {
			logger.Warn("load reports failed", zap.String("vault", snap.ID), zap.Error(err))
			continue
		}
		fmt.Fprintln(out, notifier.FormatReportHistory(reports))
	}
	if shown == 0 {
		fmt.Fprintln(out, "No vaults found.")
	}
	return nil
}
