package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/rewired-gh/quantstream/internal/models"
	"github.com/rewired-gh/quantstream/internal/outlier"
)

func outliersCmd() *cobra.Command {
	var (
		input     string
		layout    string
		window    int
		threshold float64
		fast      bool
		corrected bool
	)
	cmd := &cobra.Command{
		Use:   "outliers",
		Short: "Report the outliers of a value series",
		Long: `Read time,value (or value) rows and report the points replaced by the
robust outlier corrector. --fast uses the streaming filter instead.
`,
		Example: `quantstream outliers --input data/values.csv --window 30 --threshold 6`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(input)
			if err != nil {
				return fmt.Errorf("failed to open input: %w", err)
			}
			defer f.Close()

			samples, skipped, err := readSamples(f, layout)
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", input, err)
			}
			out := cmd.OutOrStdout()
			if skipped > 0 {
				fmt.Fprintf(out, "skipped %d unparseable rows\n", skipped)
			}
			if fast {
				var opts []outlier.FastOption
				if corrected {
					opts = append(opts, outlier.WithCorrectedReference())
				}
				return reportFast(out, samples, window, threshold, opts...)
			}
			reportBatch(out, samples, window, threshold)
			return nil
		},
	}
	cmd.Flags().StringVar(&input, "input", "", "CSV of time,value or value rows")
	cmd.Flags().StringVar(&layout, "time-layout", time.RFC3339, "Layout of the time column")
	cmd.Flags().IntVar(&window, "window", outlier.DefaultWindow, "Window size")
	cmd.Flags().Float64Var(&threshold, "threshold", outlier.DefaultThreshold, "Outlier threshold in MADs")
	cmd.Flags().BoolVar(&fast, "fast", false, "Use the streaming filter")
	cmd.Flags().BoolVar(&corrected, "corrected-reference", false, "With --fast, replace from earlier corrected values")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

func reportBatch(out io.Writer, samples []models.Sample, window int, threshold float64) {
	res := outlier.CorrectSeries(samples, outlier.Options{Window: window, Threshold: threshold})
	for _, i := range res.Outliers {
		fmt.Fprintf(out, "%d\t%s\t%.6f\n", i, stampOf(res.Series[i].Time), res.Series[i].Value)
	}
	fmt.Fprintf(out, "%d of %d values replaced\n", len(res.Outliers), len(res.Series))
}

func reportFast(out io.Writer, samples []models.Sample, window int, threshold float64, opts ...outlier.FastOption) error {
	f, err := outlier.NewFast(window, threshold, opts...)
	if err != nil {
		return err
	}
	for i, s := range samples {
		corrected, flagged, err := f.Update(s.Value)
		if err != nil {
			continue
		}
		if flagged {
			fmt.Fprintf(out, "%d\t%s\t%.6f\t%.6f\n", i, stampOf(s.Time), s.Value, corrected)
		}
	}
	seen, flagged := f.Stats()
	fmt.Fprintf(out, "%d of %d values replaced\n", flagged, seen)
	return nil
}

func stampOf(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format(time.RFC3339)
}
