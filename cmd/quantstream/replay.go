package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/rewired-gh/quantstream/internal/config"
	"github.com/rewired-gh/quantstream/internal/engine"
	"github.com/rewired-gh/quantstream/internal/indicator"
	"github.com/rewired-gh/quantstream/internal/logger"
	"github.com/rewired-gh/quantstream/internal/models"
	"github.com/rewired-gh/quantstream/internal/storage"
	"github.com/rewired-gh/quantstream/internal/swing"
	"github.com/rewired-gh/quantstream/internal/telegram"
)

func replayCmd() *cobra.Command {
	var configPath, input string
	cmd := &cobra.Command{
		Use:     "replay",
		Short:   "Replay a CSV of bars through the signal pipeline",
		Example: `quantstream replay --config configs/config.yaml --input data/btc.csv`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			if input != "" {
				cfg.Series.Input = input
			}
			if cfg.Series.Input == "" {
				return errors.New("no input: set series.input or pass --input")
			}
			return runReplay(cmd.Context(), cfg, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "Path to configuration file")
	cmd.Flags().StringVar(&input, "input", "", "CSV of time,open,high,low,close[,volume]; overrides series.input")
	return cmd
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	if path != "" {
		logger.Info("Configuration loaded from %s", path)
	}
	return cfg, nil
}

func engineConfig(cfg *config.Config) (engine.Config, error) {
	ec := engine.Config{
		Series: cfg.Series.Name,
		Outlier: engine.OutlierConfig{
			Enabled:            cfg.Outlier.Enabled,
			Window:             cfg.Outlier.Window,
			Threshold:          cfg.Outlier.Threshold,
			CorrectedReference: cfg.Outlier.CorrectedReference,
		},
		CheckpointInterval: cfg.Engine.CheckpointInterval,
		TopK:               cfg.Engine.TopK,
		CooldownBars:       cfg.Engine.CooldownBars,
	}
	for _, ic := range cfg.Indicators {
		kind, err := indicator.ParseKind(ic.Kind)
		if err != nil {
			return engine.Config{}, err
		}
		ec.Indicators = append(ec.Indicators, engine.IndicatorSpec{Name: ic.Name, Kind: kind, Params: ic.Params()})
	}
	if cfg.ZigZag.Enabled {
		ec.ZigZag = &swing.Config{
			Depth:     cfg.ZigZag.Depth,
			Deviation: cfg.ZigZag.Deviation,
			Backstep:  cfg.ZigZag.Backstep,
			Capacity:  cfg.ZigZag.Capacity,
		}
	}
	return ec, nil
}

func runReplay(parent context.Context, cfg *config.Config, out io.Writer) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	store, err := storage.New(cfg.Storage.MaxSignals, cfg.Storage.DBPath)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Failed to close storage: %v", err)
		}
	}()

	ec, err := engineConfig(cfg)
	if err != nil {
		return err
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	eng, err := engine.New(ec, store, engine.WithRegisterer(reg))
	if err != nil {
		return fmt.Errorf("failed to build engine: %w", err)
	}

	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle(cfg.Metrics.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			logger.Info("Serving metrics on %s%s", cfg.Metrics.Addr, cfg.Metrics.Path)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Metrics server failed: %v", err)
			}
		}()
		defer func() {
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	var telegramClient *telegram.Client
	if cfg.Telegram.Enabled {
		telegramClient, err = telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.MaxRetries, cfg.Telegram.RetryDelayBase)
		if err != nil {
			return fmt.Errorf("failed to initialize Telegram client: %w", err)
		}
		telegramClient.SetStatus(eng.Status)
		telegramClient.ListenForCommands(ctx)
		logger.Info("Telegram client initialized successfully")
	} else {
		logger.Debug("Telegram notifications disabled")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case <-sigChan:
			logger.Info("Shutdown signal received, cleaning up...")
			cancel()
		case <-ctx.Done():
		}
	}()

	f, err := os.Open(cfg.Series.Input)
	if err != nil {
		return fmt.Errorf("failed to open input: %w", err)
	}
	defer f.Close()
	reader := newBarReader(f, cfg.Series.TimeLayout)

	consecutiveFailures := 0
	handleResult := func(err error) {
		if err != nil {
			consecutiveFailures++
			logger.Warn("Bar rejected: %v", err)
			if consecutiveFailures == 1 && telegramClient != nil {
				if sendErr := telegramClient.SendError(err); sendErr != nil {
					logger.Warn("Failed to send error notification to Telegram: %v", sendErr)
				}
			}
			return
		}
		if consecutiveFailures > 0 && telegramClient != nil {
			if sendErr := telegramClient.SendRecovery(consecutiveFailures); sendErr != nil {
				logger.Warn("Failed to send recovery notification to Telegram: %v", sendErr)
			}
		}
		consecutiveFailures = 0
	}

	logger.Info("Replaying %s from %s (%d indicators, outlier filter %v, zigzag %v)",
		cfg.Series.Name, cfg.Series.Input, len(ec.Indicators), cfg.Outlier.Enabled, cfg.ZigZag.Enabled)
	start := time.Now()
	rejected := 0
	var readErr error

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		default:
		}

		bar, err := reader.Next()
		if err == io.EOF {
			break loop
		}
		if err != nil && !errors.Is(err, errBadRow) {
			readErr = fmt.Errorf("failed to read input: %w", err)
			break loop
		}
		if err == nil {
			var signals []models.Signal
			signals, err = eng.Process(bar)
			if err == nil && len(signals) > 0 {
				report(out, signals)
				notify(eng, telegramClient, signals)
			}
		}
		if err != nil {
			rejected++
		}
		handleResult(err)

		if cfg.Series.Pace > 0 {
			select {
			case <-ctx.Done():
				break loop
			case <-time.After(cfg.Series.Pace):
			}
		}
	}

	if err := eng.Shutdown(); err != nil {
		return fmt.Errorf("failed to checkpoint: %w", err)
	}
	if err := store.Rotate(); err != nil {
		logger.Warn("Failed to rotate signals: %v", err)
	}

	st := eng.State()
	logger.With(map[string]interface{}{
		"series":   st.Series,
		"bars":     st.Bars,
		"rejected": rejected,
		"outliers": st.Outliers,
		"signals":  st.Signals,
		"elapsed":  time.Since(start).String(),
	}).Info("Replay finished")
	fmt.Fprintln(out, eng.Status())
	return readErr
}

func report(out io.Writer, signals []models.Signal) {
	for _, sig := range signals {
		stamp := "-"
		if !sig.Time.IsZero() {
			stamp = sig.Time.Format(time.RFC3339)
		}
		fmt.Fprintf(out, "%s\t%s\t%s\t%s\t%.6f\n", stamp, sig.Source, sig.Kind, sig.Direction, sig.Value)
	}
}

func notify(eng *engine.Engine, client *telegram.Client, signals []models.Signal) {
	groups := eng.PostProcess(signals)
	if len(groups) == 0 {
		logger.Debug("All %d signals are cooling down", len(signals))
		return
	}
	if client == nil {
		return
	}
	if err := client.Send(groups); err != nil {
		logger.Error("Failed to send Telegram notification: %v", err)
		return
	}
	logger.Info("Sent Telegram notification with %d signal groups", len(groups))
	eng.RecordNotified(groups)
}
