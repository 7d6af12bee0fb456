package cmd

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newServeCmd(rt *cliState) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Runs the job API, the worker pool and scheduled crawls",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := rt.app.Serve(ctx); err != nil {
				return err
			}
			rt.logger.Info("shutdown complete", zap.Int("port", rt.cfg.Server.Port))
			return nil
		},
	}
}
