package tui

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/musher-dev/adoc/internal/config"
	"github.com/musher-dev/adoc/internal/model"
	"github.com/musher-dev/adoc/internal/store"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func recentBuild(id int, result model.BuildResult, age time.Duration) model.Build {
	return model.Build{
		ID: id, BuildNumber: "1", DefinitionName: "ci", ProjectName: "web",
		Status: model.StatusCompleted, Result: result, QueueTime: now.Add(-age), Jobs: []model.Job{},
	}
}

func settings() config.Settings {
	s := config.Defaults()
	s.Organization = "contoso"

	return s
}

func ids(builds []model.Build) []int {
	out := make([]int, 0, len(builds))
	for _, b := range builds {
		out = append(out, b.ID)
	}

	return out
}

func sectionIDs(sections []Section) []string {
	out := make([]string, 0, len(sections))
	for _, s := range sections {
		out = append(out, s.ID)
	}

	return out
}

func TestSections_DefaultOrder(t *testing.T) {
	data := &Data{Settings: settings()}

	got := sectionIDs(Sections(data))
	want := []string{SectionPullRequests, SectionActivePipelines, SectionCompleted, SectionFailed}

	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("Sections() = %v, want %v", got, want)
	}
}

func TestSections_ConfiguredOrderAndPRToggle(t *testing.T) {
	s := settings()
	s.SectionOrder = []string{"failed", "activePipelines", "failed", "bogus"}
	s.ShowPullRequests = false

	got := sectionIDs(Sections(&Data{Settings: s}))
	want := []string{SectionFailed, SectionActivePipelines, SectionCompleted}

	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("Sections() = %v, want %v", got, want)
	}
}

func TestSections_SplitsRecentBuilds(t *testing.T) {
	recent := []model.Build{
		recentBuild(1, model.ResultSucceeded, 3*time.Hour),
		recentBuild(2, model.ResultFailed, 2*time.Hour),
		recentBuild(3, model.ResultCanceled, time.Hour),
		recentBuild(4, model.ResultPartiallySucceeded, time.Minute),
		recentBuild(5, model.ResultSucceeded, 2*time.Minute),
	}

	tests := []struct {
		name          string
		showCanceled  bool
		maxCompleted  int
		maxFailed     int
		wantCompleted []int
		wantFailed    []int
	}{
		{name: "defaults", maxCompleted: 10, maxFailed: 10, wantCompleted: []int{4, 5, 1}, wantFailed: []int{2}},
		{name: "show canceled", showCanceled: true, maxCompleted: 10, maxFailed: 10, wantCompleted: []int{4, 5, 1}, wantFailed: []int{3, 2}},
		{name: "limits", showCanceled: true, maxCompleted: 2, maxFailed: 1, wantCompleted: []int{4, 5}, wantFailed: []int{3}},
		{name: "zero limit", maxCompleted: 0, maxFailed: 10, wantCompleted: []int{}, wantFailed: []int{2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := settings()
			s.ShowCanceledBuilds = tt.showCanceled
			s.MaxCompletedBuilds = tt.maxCompleted
			s.MaxFailedBuilds = tt.maxFailed

			byID := map[string]Section{}
			for _, sec := range Sections(&Data{Settings: s, Recent: append([]model.Build(nil), recent...)}) {
				byID[sec.ID] = sec
			}

			if got := ids(byID[SectionCompleted].Builds); !equalInts(got, tt.wantCompleted) {
				t.Errorf("completed = %v, want %v", got, tt.wantCompleted)
			}

			if got := ids(byID[SectionFailed].Builds); !equalInts(got, tt.wantFailed) {
				t.Errorf("failed = %v, want %v", got, tt.wantFailed)
			}
		})
	}
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}

	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}

	return true
}

func TestSections_PullRequestsOldestFirst(t *testing.T) {
	data := &Data{Settings: settings(), PRs: []model.PullRequest{
		{ID: 3, CreatedDate: now.Add(-time.Hour)},
		{ID: 1, CreatedDate: now.Add(-48 * time.Hour)},
		{ID: 2, CreatedDate: now.Add(-time.Hour)},
	}}

	prs := Sections(data)[0].PRs

	got := []int{prs[0].ID, prs[1].ID, prs[2].ID}
	if !equalInts(got, []int{1, 2, 3}) {
		t.Fatalf("pull requests = %v, want oldest first", got)
	}

	if data.PRs[0].ID != 3 {
		t.Fatal("cached slice reordered")
	}
}

func TestRelativeTime(t *testing.T) {
	tests := []struct {
		ago  time.Duration
		want string
	}{
		{ago: 0, want: "0s ago"},
		{ago: -time.Minute, want: "0s ago"},
		{ago: 59 * time.Second, want: "59s ago"},
		{ago: 5 * time.Minute, want: "5m ago"},
		{ago: 3 * time.Hour, want: "3h ago"},
		{ago: 50 * time.Hour, want: "2d ago"},
	}

	for _, tt := range tests {
		if got := RelativeTime(now, now.Add(-tt.ago)); got != tt.want {
			t.Errorf("RelativeTime(-%v) = %q, want %q", tt.ago, got, tt.want)
		}
	}
}

func openArea(t *testing.T) *store.Area {
	t.Helper()

	s, err := store.Open(filepath.Join(t.TempDir(), "cache"))
	if err != nil {
		t.Fatal(err)
	}

	return s.Area(store.LocalArea)
}

func TestLoad(t *testing.T) {
	area := openArea(t)

	data, err := Load(area)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if data.Settings.MaxFailedBuilds != config.DefaultMaxFailed || data.Settings.Organization != "" {
		t.Fatalf("settings = %+v, want defaults", data.Settings)
	}

	_ = store.Save(area, store.KeyConfig, settings())
	_ = store.Save(area, store.KeyCachedBuilds, []model.Build{{ID: 9, Jobs: []model.Job{}}})
	_ = store.Save(area, store.KeyLastUpdated, now)
	_ = store.Save(area, store.KeyErrorState, &model.ErrorState{Type: model.ErrorNetwork})

	data, err = Load(area)
	if err != nil {
		t.Fatal(err)
	}

	if data.Settings.Organization != "contoso" || len(data.Active) != 1 || !data.LastUpdated.Equal(now) || data.Error == nil {
		t.Fatalf("data = %+v", data)
	}
}

func update(t *testing.T, m Model, msg tea.Msg) Model {
	t.Helper()

	next, _ := m.Update(msg)

	return next.(Model)
}

func loaded(t *testing.T, data Data) Model {
	t.Helper()

	m := New(Options{Now: func() time.Time { return now }})
	m = update(t, m, tea.WindowSizeMsg{Width: 100, Height: 40})

	return update(t, m, loadedMsg{data: data})
}

func TestDashboard_Views(t *testing.T) {
	active := model.Build{
		ID: 1, BuildNumber: "42", DefinitionName: "deploy", ProjectName: "web",
		Status: model.StatusInProgress, QueueTime: now.Add(-5 * time.Minute),
		TotalTasks: 10, CompletedTasks: 4,
		Jobs: []model.Job{{Name: "build-job", State: model.JobInProgress, TotalTasks: 4, CompletedTasks: 2}},
	}

	unconfigured := config.Defaults()

	tests := []struct {
		name    string
		data    Data
		want    []string
		notWant []string
	}{
		{
			name: "not configured",
			data: Data{Settings: unconfigured},
			want: []string{"Not configured"},
		},
		{
			name: "pat expired",
			data: Data{Settings: settings(), Error: &model.ErrorState{Type: model.ErrorPATExpired, Message: "Your PAT is invalid or has expired."}},
			want: []string{"PAT expired", "Your PAT is invalid or has expired."},
		},
		{
			name: "auth failed",
			data: Data{Settings: settings(), Error: &model.ErrorState{Type: model.ErrorAuthFailed}},
			want: []string{"Authentication failed"},
		},
		{
			name:    "active build",
			data:    Data{Settings: settings(), Active: []model.Build{active}, LastUpdated: now.Add(-2 * time.Minute)},
			want:    []string{"Active Pipelines (1)", "deploy #42", "Running", "4/10 tasks 40%", "5m ago", "No active PRs", "Completed (48h) (0)"},
			notWant: []string{"build-job"},
		},
		{
			name: "network error keeps data",
			data: Data{Settings: settings(), Active: []model.Build{active}, Error: &model.ErrorState{Type: model.ErrorNetwork}},
			want: []string{"deploy #42"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := loaded(t, tt.data)
			out := m.content()

			for _, w := range tt.want {
				if !strings.Contains(out, w) {
					t.Errorf("content missing %q:\n%s", w, out)
				}
			}

			for _, w := range tt.notWant {
				if strings.Contains(out, w) {
					t.Errorf("content has %q:\n%s", w, out)
				}
			}
		})
	}
}

func TestDashboard_StatusLine(t *testing.T) {
	m := loaded(t, Data{Settings: settings()})
	if !strings.Contains(m.statusLine(), "Never updated") {
		t.Fatalf("status = %q", m.statusLine())
	}

	m = loaded(t, Data{Settings: settings(), LastUpdated: now.Add(-30 * time.Second), Error: &model.ErrorState{Type: model.ErrorNetwork}})

	status := m.statusLine()
	if !strings.Contains(status, "Updated 30s ago") || !strings.Contains(status, "Refresh failed") {
		t.Fatalf("status = %q", status)
	}
}

func TestDashboard_Keys(t *testing.T) {
	data := Data{Settings: settings(), Active: []model.Build{{
		ID: 1, BuildNumber: "1", DefinitionName: "ci", Status: model.StatusInProgress,
		Jobs: []model.Job{{Name: "unit-tests", State: model.JobInProgress}},
	}}}

	refreshed := 0
	m := New(Options{
		Now:     func() time.Time { return now },
		Refresh: func(context.Context) error { refreshed++; return errors.New("connection refused") },
	})
	m = update(t, m, loadedMsg{data: data})

	m = update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("j")})
	if !strings.Contains(m.content(), "unit-tests") {
		t.Fatal("j did not show jobs")
	}

	// Section 2 is Active Pipelines in the default order.
	m = update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("2")})
	if strings.Contains(m.content(), "unit-tests") || !strings.Contains(m.content(), "▶ Active Pipelines") {
		t.Fatalf("2 did not fold the section:\n%s", m.content())
	}

	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("r")})
	m = next.(Model)

	if !m.refreshing || cmd == nil {
		t.Fatal("r did not start a refresh")
	}

	m = update(t, m, cmd())
	if m.refreshing || refreshed != 1 || !strings.Contains(m.statusLine(), "Daemon unreachable") {
		t.Fatalf("refreshing = %v, calls = %d, status = %q", m.refreshing, refreshed, m.statusLine())
	}

	if _, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")}); cmd == nil {
		t.Fatal("q did not quit")
	}
}

func TestDashboard_ReloadsOnCacheChange(t *testing.T) {
	area := openArea(t)
	_ = store.Save(area, store.KeyConfig, settings())

	m := New(Options{Cache: area, Now: func() time.Time { return now }})

	_, cmd := m.Update(CacheChangedMsg{})
	if cmd == nil {
		t.Fatal("cache change did not reload")
	}

	msg, ok := cmd().(loadedMsg)
	if !ok || msg.err != nil || msg.data.Settings.Organization != "contoso" {
		t.Fatalf("reload = %+v", msg)
	}
}
