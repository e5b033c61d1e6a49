package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "quantstream",
		Short: "Streaming technical indicators and signal detection",
		Long: `Replay OHLCV bars through crossing indicators, a streaming outlier filter
and a zigzag swing detector, journal the signals and optionally notify Telegram.
`,
		SilenceUsage: true,
	}
	cmd.AddCommand(replayCmd())
	cmd.AddCommand(outliersCmd())
	cmd.AddCommand(signalsCmd())
	cmd.AddCommand(versionCmd())
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "quantstream %s\n", version)
		},
	}
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
