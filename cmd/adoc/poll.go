package main

import (
	"github.com/spf13/cobra"

	clierrors "github.com/musher-dev/adoc/internal/errors"
	"github.com/musher-dev/adoc/internal/model"
	"github.com/musher-dev/adoc/internal/notify"
	"github.com/musher-dev/adoc/internal/output"
	"github.com/musher-dev/adoc/internal/poller"
)

func newPollCmd() *cobra.Command {
	var notifications bool

	cmd := &cobra.Command{
		Use:   "poll",
		Short: "Run a single poll cycle in this process",
		Long: `Run one poll cycle without the daemon and write the results to the local
cache. Useful from cron, in CI, or to check the configuration end to end.
Completion notifications are only sent with --notify.`,
		Example: `  adoc poll
  adoc poll --format json`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := output.FromContext(ctx)

			settings, err := loadSettings(ctx)
			if err != nil {
				return err
			}

			if err := requireConfigured(&settings); err != nil {
				return err
			}

			_, area, err := openCache()
			if err != nil {
				return err
			}

			opts := poller.Options{
				Settings:  settingsLoader(configPath(ctx)),
				Cache:     area,
				Bookmarks: chromeBookmarks(area),
			}

			if notifications {
				opts.Notifier = notify.Default()
			}

			spin := out.Spinner("Polling " + settings.Organization)
			spin.Start()

			res, err := poller.New(opts).RunCycle(ctx)

			spin.Stop()

			if err != nil {
				return clierrors.Wrap(clierrors.ExitGeneral, "Poll cycle interrupted", err)
			}

			return printCycleResult(out, &res)
		},
	}

	cmd.Flags().BoolVar(&notifications, "notify", false, "Send desktop notifications for completed builds")

	return cmd
}

func newRefreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Ask the running daemon to poll now",
		Long: `Trigger an immediate cycle in the running daemon and wait for it. If a
cycle is already in progress, the refresh runs right after it.`,
		Example: `  adoc refresh`,
		Args:    noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := output.FromContext(ctx)

			client, addr, err := newDaemonClient(ctx)
			if err != nil {
				return err
			}

			spin := out.Spinner("Refreshing")
			spin.Start()

			res, err := client.Refresh(ctx)

			spin.Stop()

			if err != nil {
				return daemonError(addr, err)
			}

			return printCycleResult(out, res)
		},
	}
}

// printCycleResult reports a cycle outcome, failing with the exit code that
// matches its error class.
func printCycleResult(out *output.Writer, res *poller.Result) error {
	if out.Structured() {
		if err := out.PrintStructured(res); err != nil {
			return err
		}
	}

	if res.Skipped {
		return clierrors.NotConfigured("organization or personal access token")
	}

	if res.Error != nil {
		code := clierrors.ExitNetwork
		if res.Error.Type.NeedsReauth() {
			code = clierrors.ExitAuth
		}

		return clierrors.New(code, res.Error.Message).WithHint(hintFor(res.Error.Type))
	}

	if out.Structured() {
		return nil
	}

	out.Success("Poll cycle finished")
	out.Print("  %d active, %d recent, %d pull request(s) across %d project(s)\n",
		res.Active, res.Recent, res.PullRequests, res.Projects)

	if res.Notified > 0 {
		out.Print("  %d completion notification(s) sent\n", res.Notified)
	}

	if res.NextPoll > 0 {
		out.Muted("Next poll in %s", res.NextPoll)
	}

	return nil
}

func hintFor(t model.ErrorType) string {
	if t.NeedsReauth() {
		return "Create a new PAT with Build (read) and Code (read) scopes and run 'adoc auth login'"
	}

	return "Check your network connection and 'adoc config get api.base_url'"
}
