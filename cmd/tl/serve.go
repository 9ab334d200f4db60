package main

import (
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/zulandar/trellis/internal/notify"
	"github.com/zulandar/trellis/internal/server"
)

func newServeCmd() *cobra.Command {
	var (
		configPath string
		port       int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the Trellis API server",
		Long:  "Serves the JSON API and, when enabled, the scheduled due-date digest. Shuts down gracefully on SIGINT or SIGTERM.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, gormDB, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			svc, err := buildService(cfg, gormDB)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if cfg.Digest.Enabled {
				digest := &notify.Digest{
					DB:           gormDB,
					Sink:         svc.Sink,
					Organization: cfg.Organization,
					Schedule:     cfg.Digest.Schedule,
				}
				go func() {
					if err := digest.Run(ctx); err != nil {
						logrus.WithError(err).Warn("due digest stopped")
					}
				}()
			}

			return server.Start(ctx, server.StartOpts{
				DB:       gormDB,
				Service:  svc,
				Registry: svc.Registry,
				Port:     port,
				Out:      cmd.OutOrStdout(),
			})
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "trellis.yaml", "path to Trellis config file")
	cmd.Flags().IntVar(&port, "port", 8080, "port to listen on")
	return cmd
}
