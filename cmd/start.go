package cmd

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/homegrid/admind/internal/app"
	"github.com/homegrid/admind/internal/config"
	"github.com/homegrid/admind/pkg/logger"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the administration backend",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		logger.Info("Starting admind", "namespace", cfg.Admin.Namespace, "store", cfg.Store.Mode)
		return app.Run(ctx, cfg)
	},
}

func init() {
	rootCmd.AddCommand(startCmd)
}
