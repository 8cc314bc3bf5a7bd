// Package tui is the terminal dashboard over the daemon's cache.
package tui

import (
	"cmp"
	"fmt"
	"slices"
	"time"

	"github.com/musher-dev/adoc/internal/config"
	"github.com/musher-dev/adoc/internal/model"
	"github.com/musher-dev/adoc/internal/store"
)

// Section ids as used in the section order setting.
const (
	SectionPullRequests    = "pullRequests"
	SectionActivePipelines = "activePipelines"
	SectionCompleted       = "completed"
	SectionFailed          = "failed"
)

// Data is everything the dashboard shows, read from the cache.
type Data struct {
	Settings    config.Settings
	Active      []model.Build
	Recent      []model.Build
	PRs         []model.PullRequest
	LastUpdated time.Time
	Error       *model.ErrorState
}

// Load reads the dashboard keys from the cache. The settings come from the
// config mirror the daemon writes; defaults apply when it is missing.
func Load(r store.Reader) (Data, error) {
	var (
		data Data
		err  error
		ok   bool
	)

	data.Settings, ok, err = store.Load(r, store.KeyConfig)
	if err != nil {
		return data, err
	}

	if !ok {
		data.Settings = config.Defaults()
	}

	if data.Active, _, err = store.Load(r, store.KeyCachedBuilds); err != nil {
		return data, err
	}

	if data.Recent, _, err = store.Load(r, store.KeyCachedRecentBuilds); err != nil {
		return data, err
	}

	if data.PRs, _, err = store.Load(r, store.KeyCachedPRs); err != nil {
		return data, err
	}

	if data.LastUpdated, _, err = store.Load(r, store.KeyLastUpdated); err != nil {
		return data, err
	}

	if data.Error, _, err = store.Load(r, store.KeyErrorState); err != nil {
		return data, err
	}

	return data, nil
}

// Section is one titled group of dashboard rows.
type Section struct {
	ID     string
	Title  string
	Builds []model.Build
	PRs    []model.PullRequest
}

// Count is the number of rows in the section.
func (s *Section) Count() int {
	return len(s.Builds) + len(s.PRs)
}

// Sections groups data in the configured order. Recent builds split into
// completed (succeeded, partially succeeded) and failed (failed, plus
// canceled when shown), each newest first and capped by its limit.
func Sections(data *Data) []Section {
	s := &data.Settings
	recentTitle := fmt.Sprintf("(%dh)", s.RecentBuildHours)

	byID := map[string]Section{
		SectionActivePipelines: {ID: SectionActivePipelines, Title: "Active Pipelines", Builds: data.Active},
		SectionCompleted: {
			ID:     SectionCompleted,
			Title:  "Completed " + recentTitle,
			Builds: limit(newestFirst(completed(data.Recent)), s.MaxCompletedBuilds),
		},
		SectionFailed: {
			ID:     SectionFailed,
			Title:  "Failed " + recentTitle,
			Builds: limit(newestFirst(failed(data.Recent, s.ShowCanceledBuilds)), s.MaxFailedBuilds),
		},
	}

	if s.ShowPullRequests {
		byID[SectionPullRequests] = Section{ID: SectionPullRequests, Title: "Pull Requests", PRs: oldestFirst(data.PRs)}
	}

	order := slices.Clone(s.SectionOrder)
	for _, id := range config.DefaultSectionOrder {
		if !slices.Contains(order, id) {
			order = append(order, id)
		}
	}

	sections := make([]Section, 0, len(byID))

	for _, id := range order {
		if sec, ok := byID[id]; ok {
			sections = append(sections, sec)
			delete(byID, id)
		}
	}

	return sections
}

func completed(recent []model.Build) []model.Build {
	var out []model.Build

	for _, b := range recent {
		if b.Result == model.ResultSucceeded || b.Result == model.ResultPartiallySucceeded {
			out = append(out, b)
		}
	}

	return out
}

func failed(recent []model.Build, showCanceled bool) []model.Build {
	var out []model.Build

	for _, b := range recent {
		if b.Result == model.ResultFailed || (showCanceled && b.Result == model.ResultCanceled) {
			out = append(out, b)
		}
	}

	return out
}

func newestFirst(builds []model.Build) []model.Build {
	slices.SortStableFunc(builds, func(a, b model.Build) int {
		return b.QueueTime.Compare(a.QueueTime)
	})

	return builds
}

func limit(builds []model.Build, n int) []model.Build {
	if n >= 0 && len(builds) > n {
		return builds[:n]
	}

	return builds
}

// oldestFirst sorts pull requests by creation date so the longest waiting
// review comes first.
func oldestFirst(prs []model.PullRequest) []model.PullRequest {
	out := slices.Clone(prs)
	slices.SortStableFunc(out, func(a, b model.PullRequest) int {
		if c := a.CreatedDate.Compare(b.CreatedDate); c != 0 {
			return c
		}

		return cmp.Compare(a.ID, b.ID)
	})

	return out
}

// RelativeTime renders how long ago t was: "42s ago", "5m ago", "3h ago",
// "2d ago".
func RelativeTime(now, t time.Time) string {
	secs := int(now.Sub(t) / time.Second)

	switch {
	case secs < 60:
		return fmt.Sprintf("%ds ago", max(secs, 0))
	case secs < 3600:
		return fmt.Sprintf("%dm ago", secs/60)
	case secs < 86400:
		return fmt.Sprintf("%dh ago", secs/3600)
	default:
		return fmt.Sprintf("%dd ago", secs/86400)
	}
}
