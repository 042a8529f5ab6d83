// Package ping provides the R model server health check command.
package ping

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/battycoda/battycoda/internal/app"
	"github.com/battycoda/battycoda/internal/conf"
	"github.com/battycoda/battycoda/internal/privacy"
)

// Command returns the ping command.
func Command(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check that the R model server answers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.Run(settings, func(ctx context.Context, a *app.App) error {
				if err := a.RequireRServer(); err != nil {
					return err
				}
				start := time.Now()
				if err := a.RServer.Ping(ctx); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "R server %s is up (%s)\n",
					privacy.RedactURL(a.RServer.BaseURL()), time.Since(start).Round(time.Millisecond))
				return nil
			})
		},
	}
}
