package main

import (
	"strconv"
	"time"

	"github.com/spf13/cobra"

	clierrors "github.com/musher-dev/adoc/internal/errors"
	"github.com/musher-dev/adoc/internal/model"
	"github.com/musher-dev/adoc/internal/output"
	"github.com/musher-dev/adoc/internal/poller"
	"github.com/musher-dev/adoc/internal/store"
)

// WatchList is the structured form of `adoc watch list`.
type WatchList struct {
	Builds []model.WatchedBuild `json:"builds" yaml:"builds" toml:"builds"`
}

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Track individual builds for 24 hours",
		Long: `Track builds that the project-scoped poll would miss, such as builds
queued by someone else. A watched build is polled for 24 hours and you are
notified when it completes.`,
	}

	cmd.AddCommand(newWatchAddCmd())
	cmd.AddCommand(newWatchRemoveCmd())
	cmd.AddCommand(newWatchCheckCmd())
	cmd.AddCommand(newWatchListCmd())

	return cmd
}

func parseBuildArg(raw string) (poller.BuildRef, error) {
	ref, err := poller.ParseBuildURL(raw)
	if err != nil {
		return poller.BuildRef{}, clierrors.InvalidBuildURL(raw)
	}

	return ref, nil
}

func newWatchAddCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add <build-url>",
		Short: "Watch a build by its results page URL",
		Long: `Add the build to the watch list through the running daemon and run a
cycle so it shows up right away. Adding a build already on the list renews
its 24 hour window.`,
		Example: `  adoc watch add 'https://dev.azure.com/contoso/web/_build/results?buildId=1234'`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := output.FromContext(ctx)

			ref, err := parseBuildArg(args[0])
			if err != nil {
				return err
			}

			client, addr, err := newDaemonClient(ctx)
			if err != nil {
				return err
			}

			if _, err := client.Track(ctx, ref); err != nil {
				return daemonError(addr, err)
			}

			out.Success("Watching build %d in %s/%s for 24h", ref.BuildID, ref.Organization, ref.Project)

			return nil
		},
	}
}

func newWatchRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "remove <build-id>",
		Short:   "Stop watching a build",
		Long:    `Remove the build from the watch list through the running daemon.`,
		Example: `  adoc watch remove 1234`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := output.FromContext(ctx)

			id, err := strconv.Atoi(args[0])
			if err != nil || id <= 0 {
				return clierrors.InvalidBuildID(args[0])
			}

			client, addr, err := newDaemonClient(ctx)
			if err != nil {
				return err
			}

			if _, err := client.Untrack(ctx, id); err != nil {
				return daemonError(addr, err)
			}

			out.Success("Stopped watching build %d", id)

			return nil
		},
	}
}

func newWatchCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <build-url>",
		Short: "Show whether a build is already tracked",
		Long: `Report whether the build is already active or watched, and whether it
belongs to the configured organization and so can be watched.`,
		Example: `  adoc watch check 'https://dev.azure.com/contoso/web/_build/results?buildId=1234'`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := output.FromContext(ctx)

			ref, err := parseBuildArg(args[0])
			if err != nil {
				return err
			}

			client, addr, err := newDaemonClient(ctx)
			if err != nil {
				return err
			}

			status, err := client.CheckTracked(ctx, ref)
			if err != nil {
				return daemonError(addr, err)
			}

			if out.Structured() {
				return out.PrintStructured(status)
			}

			switch {
			case !status.IsConfiguredOrg:
				out.Warning("Build %d is in %s, not the configured organization", ref.BuildID, ref.Organization)
			case status.AlreadyTracked:
				out.Success("Build %d is already tracked", ref.BuildID)
			default:
				out.Info("Build %d is not tracked", ref.BuildID)
				out.Muted("Run 'adoc watch add <build-url>' to watch it")
			}

			return nil
		},
	}
}

func newWatchListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List watched builds",
		Long:  `Show the builds on the watch list with the time each one expires.`,
		Example: `  adoc watch list
  adoc watch list --format json`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := output.FromContext(cmd.Context())

			_, area, err := openCache()
			if err != nil {
				return err
			}

			watched, _, err := store.Load(area, store.KeyWatchedBuilds)
			if err != nil {
				return clierrors.CacheFailed("read watch list", err)
			}

			if watched == nil {
				watched = []model.WatchedBuild{}
			}

			if out.Structured() {
				return out.PrintStructured(WatchList{Builds: watched})
			}

			renderWatchList(out, watched, time.Now())

			return nil
		},
	}
}

func renderWatchList(out *output.Writer, watched []model.WatchedBuild, now time.Time) {
	if len(watched) == 0 {
		out.Muted("No watched builds")
		return
	}

	rows := make([][]string, 0, len(watched))
	for i := range watched {
		w := &watched[i]

		expires := "expired"
		if !w.Expired(now) {
			expires = "in " + w.ExpiresAt.Sub(now).Round(time.Minute).String()
		}

		rows = append(rows, []string{strconv.Itoa(w.BuildID), w.Organization, w.Project, expires})
	}

	out.Table([]string{"ID", "ORGANIZATION", "PROJECT", "EXPIRES"}, rows)
}
