package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/bobmcallan/eodscan/internal/app"
	"github.com/bobmcallan/eodscan/internal/common"
	"github.com/bobmcallan/eodscan/internal/server"
)

func newServeCmd() *cobra.Command {
	var catalogPath string
	var runNow bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run scans on the configured schedule and serve results over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			a, err := app.NewApp(ctx, configPath, catalogPath)
			if err != nil {
				return err
			}
			defer a.Close()

			common.PrintBanner(a.Config, a.Logger)

			runScheduled := func(ctx context.Context) error {
				_, err := a.RunMarket(ctx, "")
				return err
			}
			sched, err := app.NewScheduler(a.Config.Schedule, runScheduled, a.Logger.WithComponent("scheduler"))
			if err != nil {
				return err
			}
			sched.Start(ctx)

			if runNow {
				go func() {
					if err := runScheduled(ctx); err != nil {
						a.Logger.Error().Err(err).Msg("Startup scan failed")
					}
				}()
			}

			srv := server.NewServer(a)
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					a.Logger.Fatal().Err(err).Msg("HTTP server failed")
				}
			}()

			// Wait for interrupt signal
			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
			<-sigChan

			common.PrintShutdownBanner(a.Logger)
			cancel()
			sched.Stop()

			shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
			defer done()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				a.Logger.Error().Err(err).Msg("HTTP server shutdown failed")
			}

			a.Logger.Info().Msg("Server stopped")
			return nil
		},
	}

	cmd.Flags().StringVar(&catalogPath, "catalog", "", "Scan catalog file (.toml or .yaml)")
	cmd.Flags().BoolVar(&runNow, "run-now", false, "Run the default market once at startup")
	return cmd
}
