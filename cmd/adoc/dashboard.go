package main

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	clierrors "github.com/musher-dev/adoc/internal/errors"
	"github.com/musher-dev/adoc/internal/observability"
	"github.com/musher-dev/adoc/internal/output"
	"github.com/musher-dev/adoc/internal/tui"
)

func newDashboardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dashboard",
		Short: "Open the interactive build dashboard",
		Long: `Show pull requests, active pipelines, and recently completed and failed
builds in a full-screen terminal view. The view updates whenever the daemon
writes the cache; press r to ask the daemon for an immediate refresh.`,
		Example: `  adoc dashboard`,
		Args:    noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			out := output.FromContext(ctx)
			logger := observability.FromContext(ctx)

			if !out.Terminal().IsTTY {
				return clierrors.New(clierrors.ExitUsage, "The dashboard needs an interactive terminal").
					WithHint("Use 'adoc status' for plain output")
			}

			client, _, err := newDaemonClient(ctx)
			if err != nil {
				return err
			}

			st, area, err := openCache()
			if err != nil {
				return err
			}

			// Picks up writes from the daemon process.
			go func() {
				if err := st.Watch(ctx); err != nil {
					logger.Warn("Cache watch stopped", slog.String("error", err.Error()))
				}
			}()

			return tui.Run(ctx, tui.Options{
				Cache: area,
				Refresh: func(ctx context.Context) error {
					_, err := client.Refresh(ctx)
					return err
				},
			})
		},
	}
}
