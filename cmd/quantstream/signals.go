package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rewired-gh/quantstream/internal/logger"
	"github.com/rewired-gh/quantstream/internal/storage"
)

func signalsCmd() *cobra.Command {
	var (
		configPath string
		series     string
		limit      int
	)
	cmd := &cobra.Command{
		Use:   "signals",
		Short: "List journaled signals, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			if series == "" {
				series = cfg.Series.Name
			}

			store, err := storage.New(cfg.Storage.MaxSignals, cfg.Storage.DBPath)
			if err != nil {
				return fmt.Errorf("failed to initialize storage: %w", err)
			}
			defer func() {
				if err := store.Close(); err != nil {
					logger.Error("Failed to close storage: %v", err)
				}
			}()

			signals, err := store.GetSignals(series, limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, sig := range signals {
				sent := ""
				if sig.Notified {
					sent = "\tnotified"
				}
				fmt.Fprintf(out, "%s\t%s\t%s\t%s\t%.6f%s\n", stampOf(sig.Time), sig.Source, sig.Kind, sig.Direction, sig.Value, sent)
			}
			if st, err := store.LoadState(series); err == nil && st != nil {
				fmt.Fprintf(out, "%s: %d bars, %d outliers, %d signals\n", st.Series, st.Bars, st.Outliers, st.Signals)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "Path to configuration file")
	cmd.Flags().StringVar(&series, "series", "", "Series to list; defaults to series.name")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum signals to list")
	return cmd
}
