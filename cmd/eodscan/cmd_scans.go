package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/bobmcallan/eodscan/internal/app"
	"github.com/bobmcallan/eodscan/internal/common"
	"github.com/bobmcallan/eodscan/internal/services/scan"
)

func newScansCmd() *cobra.Command {
	var market, catalogPath string

	cmd := &cobra.Command{
		Use:   "scans",
		Short: "List the scan catalog and report definitions that fail to compile",
		Long: `Scans compiles the catalog with the market's scale factors applied and
prints each scan's filter and ranking. It exits non-zero when any scan
definition is malformed, which makes it usable as a catalog lint.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := common.LoadConfig(app.ResolveConfigPath(configPath))
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if catalogPath == "" {
				catalogPath = cfg.Scan.CatalogPath
			}
			cat, err := scan.LoadCatalog(catalogPath)
			if err != nil {
				return err
			}
			if market == "" {
				market = cfg.Scan.Market
			}
			m, ok := cfg.Market(market)
			if !ok {
				return fmt.Errorf("unknown market %q", market)
			}

			reg := scan.NewRegistry(cat, scan.WithMarket(m))
			printCatalog(cmd.OutOrStdout(), reg)

			if errs := reg.Errors(); len(errs) > 0 {
				for _, e := range errs {
					fmt.Fprintf(cmd.ErrOrStderr(), "invalid: %s\n", e)
				}
				return fmt.Errorf("%d scan definitions are invalid", len(errs))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&market, "market", "", "Market whose scale factors apply (default scan.market)")
	cmd.Flags().StringVar(&catalogPath, "catalog", "", "Scan catalog file (.toml or .yaml)")
	return cmd
}

func printCatalog(w io.Writer, reg *scan.Registry) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, g := range reg.Groups() {
		fmt.Fprintf(tw, "%s\n", g.Name)
		for _, d := range g.Scans {
			fmt.Fprintf(tw, "  %s\t%s %s\tcap %d\t%s\n", d.Name, d.SortKey, d.SortDirection, d.ResultCap, d.Where)
		}
	}
	tw.Flush()
}
