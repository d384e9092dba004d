package commands

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/inferloop/p3gm/internal/server"
)

type ServeOptions struct {
	Host string
	Port int
}

func NewServeCmd(globals *GlobalOptions) *cobra.Command {
	opts := &ServeOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the accountant and stored models over HTTP",
		Example: `  p3gm serve --port 8080
  curl -XPOST localhost:8080/api/v1/models/adult-v1/samples -d '{"count":10}'`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := globals.Load()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("host") {
				cfg.Server.Host = opts.Host
			}
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = opts.Port
			}

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			pm, err := newMetrics(cfg, logger)
			if err != nil {
				return err
			}
			store, err := openStore(ctx, cfg, pm, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			srv, err := server.NewServer(&cfg.Server, store, pm, logger)
			if err != nil {
				return err
			}

			logger.WithFields(logrus.Fields{
				"version": Version,
				"address": cfg.Server.Address(),
				"storage": cfg.Storage.Type,
			}).Info("Starting p3gm server")
			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&opts.Host, "host", "", "Listen host")
	cmd.Flags().IntVarP(&opts.Port, "port", "p", 0, "Listen port")
	return cmd
}
