package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/ethpandaops/resultoor/pkg/api"
	"github.com/ethpandaops/resultoor/pkg/config"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the read-only outcome query API",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, config.ValidateOpts{})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Stop(); err != nil {
			log.WithError(err).Warn("Failed to stop store")
		}
	}()

	srv := api.NewServer(log, &cfg.API, st)
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("starting api server: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-gctx.Done()

		log.Info("Shutting down API server")

		return srv.Stop()
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("stopping api server: %w", err)
	}

	return nil
}
