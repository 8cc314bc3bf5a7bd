package poller

import (
	"cmp"
	"context"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/musher-dev/adoc/internal/ado"
	"github.com/musher-dev/adoc/internal/config"
	"github.com/musher-dev/adoc/internal/model"
	"github.com/musher-dev/adoc/internal/normalize"
	"github.com/musher-dev/adoc/internal/notify"
	"github.com/musher-dev/adoc/internal/observability"
	"github.com/musher-dev/adoc/internal/store"
)

// fetchActive collects the user's queued and running builds with timeline
// progress. A failing project is skipped; a failing timeline leaves the
// build with zero progress.
func (e *Engine) fetchActive(ctx context.Context, api API, endpoints ado.Endpoints, projects []string, userID string) []model.Build {
	logger := observability.FromContext(ctx)
	active := make([]model.Build, 0)

	for _, project := range projects {
		raw, err := api.ActiveBuilds(ctx, project, userID)
		if err != nil {
			logger.Warn("Active builds fetch failed", slog.String("project", project), slog.String("error", err.Error()))
			continue
		}

		for i := range raw {
			if !normalize.IsOwned(&raw[i], userID) {
				continue
			}

			b, err := normalize.Build(&raw[i], project, endpoints)
			if err != nil {
				logger.Warn("Build skipped", slog.String("project", project), slog.String("error", err.Error()))
				continue
			}

			active = append(active, e.withProgress(ctx, api, project, b))
		}
	}

	return active
}

func (e *Engine) withProgress(ctx context.Context, api API, project string, b model.Build) model.Build {
	logger := observability.FromContext(ctx)

	timeline, err := api.Timeline(ctx, project, b.ID)
	if err != nil {
		logger.Debug("Timeline unavailable", slog.Int("build_id", b.ID), slog.String("error", err.Error()))
		return b
	}

	withJobs, err := normalize.WithTimeline(b, timeline)
	if err != nil {
		logger.Warn("Timeline ignored", slog.Int("build_id", b.ID), slog.String("error", err.Error()))
		return b
	}

	return withJobs
}

// fetchRecent collects the user's builds completed since minFinish. No
// timelines are fetched for them.
func (e *Engine) fetchRecent(ctx context.Context, api API, endpoints ado.Endpoints, projects []string, userID string, minFinish time.Time) []model.Build {
	logger := observability.FromContext(ctx)
	recent := make([]model.Build, 0)

	for _, project := range projects {
		raw, err := api.RecentBuilds(ctx, project, minFinish, userID)
		if err != nil {
			logger.Warn("Recent builds fetch failed", slog.String("project", project), slog.String("error", err.Error()))
			continue
		}

		for i := range raw {
			if !normalize.IsOwned(&raw[i], userID) {
				continue
			}

			b, err := normalize.Build(&raw[i], project, endpoints)
			if err != nil {
				logger.Warn("Build skipped", slog.String("project", project), slog.String("error", err.Error()))
				continue
			}

			recent = append(recent, b)
		}
	}

	return recent
}

// mergeWatched prunes expired watch entries and routes watched builds into
// the active or recent list.
func (e *Engine) mergeWatched(
	ctx context.Context,
	api API,
	endpoints ado.Endpoints,
	settings *config.Settings,
	active, recent []model.Build,
	now time.Time,
) ([]model.Build, []model.Build, error) {
	logger := observability.FromContext(ctx)

	watched, _, err := store.Load(e.cache, store.KeyWatchedBuilds)
	if err != nil {
		logger.Warn("Watch list unreadable", slog.String("error", err.Error()))
		return active, recent, nil
	}

	live := slices.DeleteFunc(slices.Clone(watched), func(w model.WatchedBuild) bool {
		return w.Expired(now)
	})

	if len(live) != len(watched) {
		if err := store.Save(e.cache, store.KeyWatchedBuilds, live); err != nil {
			return active, recent, err
		}

		logger.Info("Expired watches removed", slog.Int("removed", len(watched)-len(live)))
	}

	watchedIDs := make(map[int]bool, len(live))
	for _, w := range live {
		watchedIDs[w.BuildID] = true
	}

	activeIDs := make(map[int]bool, len(active))

	for i := range active {
		activeIDs[active[i].ID] = true

		if watchedIDs[active[i].ID] {
			active[i].Watched = true
		}
	}

	for _, w := range live {
		if activeIDs[w.BuildID] {
			continue
		}

		if !strings.EqualFold(w.Organization, settings.Organization) {
			logger.Debug("Watch for another organization skipped", slog.Int("build_id", w.BuildID))
			continue
		}

		raw, err := api.Build(ctx, w.Project, w.BuildID)
		if err != nil {
			logger.Warn("Watched build fetch failed", slog.Int("build_id", w.BuildID), slog.String("error", err.Error()))
			continue
		}

		b, err := normalize.Build(raw, w.Project, endpoints)
		if err != nil {
			logger.Warn("Watched build skipped", slog.Int("build_id", w.BuildID), slog.String("error", err.Error()))
			continue
		}

		b.Watched = true

		if b.Status == model.StatusCompleted {
			if i := slices.IndexFunc(recent, func(r model.Build) bool { return r.ID == b.ID }); i >= 0 {
				recent[i].Watched = true
			} else {
				recent = append(recent, b)
			}

			continue
		}

		active = append(active, e.withProgress(ctx, api, w.Project, b))
		activeIDs[b.ID] = true
	}

	return active, recent, nil
}

// dropCompleted removes from active any build that the later recent fetch
// already saw completed, carrying its watched flag over.
func dropCompleted(active, recent []model.Build) []model.Build {
	completed := make(map[int]int, len(recent))
	for i := range recent {
		completed[recent[i].ID] = i
	}

	return slices.DeleteFunc(active, func(b model.Build) bool {
		i, ok := completed[b.ID]
		if ok && b.Watched {
			recent[i].Watched = true
		}

		return ok
	})
}

// sortByQueueTime orders builds oldest-queued first, ties by id.
func sortByQueueTime(builds []model.Build) {
	slices.SortStableFunc(builds, func(a, b model.Build) int {
		if c := a.QueueTime.Compare(b.QueueTime); c != 0 {
			return c
		}

		return cmp.Compare(a.ID, b.ID)
	})
}

// notifyCompleted emits one notification per build that was active last
// cycle and is not active now.
func (e *Engine) notifyCompleted(ctx context.Context, previous, active, recent []model.Build) int {
	logger := observability.FromContext(ctx)

	stillActive := make(map[int]bool, len(active))
	for i := range active {
		stillActive[active[i].ID] = true
	}

	sent := 0

	for i := range previous {
		prev := previous[i]
		if stillActive[prev.ID] {
			continue
		}

		outcome := prev
		if j := slices.IndexFunc(recent, func(r model.Build) bool { return r.ID == prev.ID }); j >= 0 {
			outcome = recent[j]
		}

		if err := e.notifier.Notify(ctx, completionNotification(&outcome)); err != nil {
			logger.Warn("Notification failed", slog.Int("build_id", prev.ID), slog.String("error", err.Error()))
			continue
		}

		sent++
	}

	return sent
}

func completionNotification(b *model.Build) notify.Notification {
	title := "⚪ Build completed"

	switch b.Result {
	case model.ResultSucceeded:
		title = "✅ Build succeeded"
	case model.ResultFailed:
		title = "❌ Build failed"
	case model.ResultNone, model.ResultCanceled, model.ResultPartiallySucceeded:
	}

	return notify.Notification{
		ID:      model.NotificationID(b.ID),
		Title:   title,
		Message: b.Label(),
		URL:     b.URL,
	}
}

// fetchPullRequests collects the user's active pull requests.
func (e *Engine) fetchPullRequests(ctx context.Context, api API, endpoints ado.Endpoints, projects []string, userID string) []model.PullRequest {
	logger := observability.FromContext(ctx)
	prs := make([]model.PullRequest, 0)

	for _, project := range projects {
		raw, err := api.ActivePullRequests(ctx, project, userID)
		if err != nil {
			logger.Warn("Pull requests fetch failed", slog.String("project", project), slog.String("error", err.Error()))
			continue
		}

		for i := range raw {
			prs = append(prs, normalize.PullRequest(&raw[i], project, endpoints))
		}
	}

	return prs
}
