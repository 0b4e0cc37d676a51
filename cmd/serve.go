package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"sigmalens/bootstrap"
)

// newServeCmd creates the 'serve' subcommand
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Long:  "Load the rule catalog, connect to the conversion and search services and serve the viewer API until interrupted.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if configFile != "" {
				viper.SetConfigFile(configFile)
			}
			ctx := context.Background()

			app, err := bootstrap.NewApp(ctx)
			if err != nil {
				return fmt.Errorf("failed to initialize application: %w", err)
			}

			if err := app.Start(ctx); err != nil {
				app.Shutdown()
				return fmt.Errorf("failed to start application: %w", err)
			}

			app.WaitForShutdown()
			app.Shutdown()
			return nil
		},
	}
}
