package main

import (
	"net/http"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"flowci/internal/engine"
	"flowci/internal/server"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API for workflow submission and run status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger()
			if err != nil {
				return err
			}
			defer logger.Sync()

			settings, err := loadSettings()
			if err != nil {
				return err
			}
			runner, err := engine.NewRunner(settings, logger)
			if err != nil {
				return err
			}

			srv := server.New(runner, logger)
			logger.Info("flowci serving",
				zap.String("addr", settings.ListenAddr),
				zap.String("data", settings.DataDir))
			return http.ListenAndServe(settings.ListenAddr, srv.Router())
		},
	}
}
