package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/bobmcallan/eodscan/internal/app"
	"github.com/bobmcallan/eodscan/internal/models"
)

func newRunCmd() *cobra.Command {
	var market, catalogPath string
	var top int

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run every scan once over a market and publish the results",
		Long: `Run fetches the market universe, builds the indicator snapshot, evaluates
every catalog scan and publishes the run to the configured sinks.

Examples:
  eodscan run
  eodscan run --market "Hong Kong"
  eodscan run --catalog scans/custom.yaml --top 10`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := app.NewApp(ctx, configPath, catalogPath)
			if err != nil {
				return err
			}
			defer a.Close()

			run, err := a.RunMarket(ctx, market)
			if run == nil {
				return err
			}
			printRun(cmd.OutOrStdout(), run, top)
			if err != nil {
				return fmt.Errorf("run %s finished but publishing failed: %w", run.ID, err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&market, "market", "", "Market to scan (default scan.market from config)")
	cmd.Flags().StringVar(&catalogPath, "catalog", "", "Scan catalog file (.toml or .yaml)")
	cmd.Flags().IntVar(&top, "top", 5, "Tickers to show per scan")
	return cmd
}

// printRun writes a per-scan summary table.
func printRun(w io.Writer, run *models.ScanRun, top int) {
	fmt.Fprintf(w, "Run %s  %s  as of %s\n", run.ID, run.Market, run.AsOf.Format("2006-01-02"))
	fmt.Fprintf(w, "Universe %d, processed %d, skipped %d, failed %d\n\n",
		run.Universe, run.Processed, len(run.Skipped), len(run.Failed))

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "GROUP\tSCAN\tMATCHED\tTOP")
	for _, res := range run.Results {
		tickers := make([]string, 0, top)
		for i := 0; i < len(res.Rows) && i < top; i++ {
			tickers = append(tickers, res.Rows[i].Ticker)
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", res.Group, res.Scan, res.TotalMatched, strings.Join(tickers, " "))
	}
	tw.Flush()

	for _, e := range run.ConfigErrors {
		fmt.Fprintf(w, "excluded: %s\n", e)
	}
}
