package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jonwraymond/modelrelay/config"
	"github.com/jonwraymond/modelrelay/observe"
	"github.com/jonwraymond/modelrelay/server"
)

func newServeCmd(configPath *string) *cobra.Command {
	var (
		listen          string
		shutdownTimeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP relay",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.Listen = listen
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			app, err := config.Build(ctx, cfg, config.WithLogOutput(cmd.ErrOrStderr()))
			if err != nil {
				return fmt.Errorf("build relay: %w", err)
			}

			srv, err := server.FromApp(app)
			if err != nil {
				_ = app.Close(context.Background())
				return err
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(srv.ListenAndServe)
			g.Go(func() error { return app.RunCachePurge(gctx, cfg.Cache.PurgeInterval) })
			g.Go(func() error {
				<-gctx.Done()
				app.Logger.Info(context.Background(), "shutting down",
					observe.Field{Key: "timeout", Value: shutdownTimeout.String()})

				sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				return errors.Join(srv.Shutdown(sctx), app.Close(sctx))
			})
			return g.Wait()
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "listen address (overrides config)")
	cmd.Flags().DurationVar(&shutdownTimeout, "shutdown-timeout", 15*time.Second, "graceful shutdown timeout")
	return cmd
}
