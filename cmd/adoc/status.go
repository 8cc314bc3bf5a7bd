package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/musher-dev/adoc/internal/control"
	clierrors "github.com/musher-dev/adoc/internal/errors"
	"github.com/musher-dev/adoc/internal/model"
	"github.com/musher-dev/adoc/internal/output"
	"github.com/musher-dev/adoc/internal/store"
	"github.com/musher-dev/adoc/internal/tui"
)

// StatusInfo is the structured form of `adoc status`.
type StatusInfo struct {
	Organization string               `json:"organization" yaml:"organization" toml:"organization"`
	Daemon       string               `json:"daemon" yaml:"daemon" toml:"daemon"`
	LastUpdated  *time.Time           `json:"lastUpdated,omitempty" yaml:"lastUpdated,omitempty" toml:"lastUpdated,omitempty"`
	Badge        string               `json:"badge" yaml:"badge" toml:"badge"`
	Error        *model.ErrorState    `json:"error,omitempty" yaml:"error,omitempty" toml:"error,omitempty"`
	User         *model.Identity      `json:"user,omitempty" yaml:"user,omitempty" toml:"user,omitempty"`
	Active       []model.Build        `json:"active" yaml:"active" toml:"active"`
	Watched      []model.WatchedBuild `json:"watched" yaml:"watched" toml:"watched"`
	PullRequests int                  `json:"pullRequests" yaml:"pullRequests" toml:"pullRequests"`
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon state and active builds",
		Long: `Summarize the local cache: whether the daemon is running, when the last
cycle finished, the last error, and the builds currently running.`,
		Example: `  adoc status
  adoc status --format yaml`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := output.FromContext(ctx)

			_, area, err := openCache()
			if err != nil {
				return err
			}

			info, err := collectStatus(ctx, area)
			if err != nil {
				return err
			}

			if out.Structured() {
				return out.PrintStructured(info)
			}

			renderStatus(out, info, time.Now())

			return nil
		},
	}
}

func collectStatus(ctx context.Context, area store.Reader) (*StatusInfo, error) {
	data, err := tui.Load(area)
	if err != nil {
		return nil, clierrors.CacheFailed("read cache", err)
	}

	info := &StatusInfo{
		Organization: data.Settings.Organization,
		Daemon:       "not running",
		Error:        data.Error,
		Active:       data.Active,
		Watched:      []model.WatchedBuild{},
		PullRequests: len(data.PRs),
	}

	if info.Active == nil {
		info.Active = []model.Build{}
	}

	if !data.LastUpdated.IsZero() {
		info.LastUpdated = &data.LastUpdated
	}

	if info.Badge, _, err = store.Load(area, store.KeyBadgeText); err != nil {
		return nil, clierrors.CacheFailed("read cache", err)
	}

	if info.User, _, err = store.Load(area, store.KeyUserIdentity); err != nil {
		return nil, clierrors.CacheFailed("read cache", err)
	}

	if watched, _, err := store.Load(area, store.KeyWatchedBuilds); err != nil {
		return nil, clierrors.CacheFailed("read cache", err)
	} else if watched != nil {
		info.Watched = watched
	}

	addr := data.Settings.ControlAddr
	if addr == "" {
		return info, nil
	}

	statusCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if st, err := control.NewClient(addr).Status(statusCtx); err == nil {
		info.Daemon = fmt.Sprintf("%s (v%s)", st.State, st.Version)
	}

	return info, nil
}

func renderStatus(out *output.Writer, info *StatusInfo, now time.Time) {
	org := info.Organization
	if org == "" {
		org = "(not configured)"
	}

	out.Print("Organization:  %s\n", org)

	if info.User != nil {
		out.Print("Signed in as:  %s\n", info.User.DisplayName)
	}

	out.Print("Daemon:        %s\n", info.Daemon)

	if info.LastUpdated != nil {
		out.Print("Last updated:  %s\n", tui.RelativeTime(now, *info.LastUpdated))
	} else {
		out.Print("Last updated:  never\n")
	}

	out.Print("Pull requests: %d\n", info.PullRequests)
	out.Print("Watched:       %d\n", len(info.Watched))

	if info.Error != nil {
		out.Println()
		out.Warning("Last cycle failed (%s): %s", info.Error.Type, info.Error.Message)
	}

	out.Println()

	if len(info.Active) == 0 {
		out.Muted("No active builds")
		return
	}

	rows := make([][]string, 0, len(info.Active))
	for _, b := range info.Active {
		progress := ""
		if b.TotalTasks > 0 {
			progress = fmt.Sprintf("%d/%d", b.CompletedTasks, b.TotalTasks)
		}

		rows = append(rows, []string{
			strconv.Itoa(b.ID),
			b.ProjectName,
			b.Label(),
			string(b.Status),
			progress,
			tui.RelativeTime(now, b.QueueTime),
		})
	}

	out.Table([]string{"ID", "PROJECT", "BUILD", "STATUS", "TASKS", "QUEUED"}, rows)
}
