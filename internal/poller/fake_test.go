package poller

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/musher-dev/adoc/internal/ado"
	"github.com/musher-dev/adoc/internal/config"
	"github.com/musher-dev/adoc/internal/notify"
	"github.com/musher-dev/adoc/internal/store"
)

var errOffline = fmt.Errorf("dial tcp: %w", ado.ErrNetwork)

// fakeAPI serves canned responses and counts calls.
type fakeAPI struct {
	mu sync.Mutex

	connErr   error
	userID    string
	projects  []ado.Project
	active    map[string][]ado.Build
	recent    map[string][]ado.Build
	builds    map[int]*ado.Build
	timelines map[int]*ado.Timeline
	prs       map[string][]ado.PullRequest
	failing   map[string]bool

	calls map[string]int
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		userID:    "user-1",
		active:    map[string][]ado.Build{},
		recent:    map[string][]ado.Build{},
		builds:    map[int]*ado.Build{},
		timelines: map[int]*ado.Timeline{},
		prs:       map[string][]ado.PullRequest{},
		failing:   map[string]bool{},
		calls:     map[string]int{},
	}
}

func (f *fakeAPI) count(op string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls[op]++
}

func (f *fakeAPI) callCount(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.calls[op]
}

func (f *fakeAPI) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	total := 0
	for _, n := range f.calls {
		total += n
	}

	return total
}

func (f *fakeAPI) ConnectionData(context.Context) (*ado.ConnectionData, error) {
	f.count("connection")

	if f.connErr != nil {
		return nil, f.connErr
	}

	return &ado.ConnectionData{AuthenticatedUser: ado.ConnectionUser{
		ID:                  f.userID,
		ProviderDisplayName: "Ada Lovelace",
		Properties:          ado.UserProperties{Account: &ado.PropertyValue{Value: "ada@contoso.com"}},
	}}, nil
}

func (f *fakeAPI) Projects(context.Context) ([]ado.Project, error) {
	f.count("projects")

	if f.failing["projects"] {
		return nil, errOffline
	}

	return f.projects, nil
}

func (f *fakeAPI) ActiveBuilds(_ context.Context, project, _ string) ([]ado.Build, error) {
	f.count("active")

	if f.failing["active:"+project] {
		return nil, errOffline
	}

	return f.active[project], nil
}

func (f *fakeAPI) RecentBuilds(_ context.Context, project string, _ time.Time, _ string) ([]ado.Build, error) {
	f.count("recent")
	return f.recent[project], nil
}

func (f *fakeAPI) Build(_ context.Context, _ string, id int) (*ado.Build, error) {
	f.count("build")

	if b, ok := f.builds[id]; ok {
		return b, nil
	}

	return nil, &ado.APIError{StatusCode: 404, Operation: "get build", Message: "not found"}
}

func (f *fakeAPI) Timeline(_ context.Context, _ string, id int) (*ado.Timeline, error) {
	f.count("timeline")

	if tl, ok := f.timelines[id]; ok {
		return tl, nil
	}

	return nil, errors.New("timeline not ready")
}

func (f *fakeAPI) ActivePullRequests(_ context.Context, project, _ string) ([]ado.PullRequest, error) {
	f.count("prs")
	return f.prs[project], nil
}

func (f *fakeAPI) Endpoints() ado.Endpoints {
	return ado.Endpoints{BaseURL: ado.DefaultBaseURL, Org: "contoso", APIVersion: ado.DefaultAPIVersion}
}

// recordingNotifier keeps every delivered notification.
type recordingNotifier struct {
	mu   sync.Mutex
	sent []notify.Notification
}

func (r *recordingNotifier) Notify(_ context.Context, n notify.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sent = append(r.sent, n)

	return nil
}

// recordingScheduler keeps every Schedule call.
type recordingScheduler struct {
	mu    sync.Mutex
	names []string
	after []time.Duration
}

func (r *recordingScheduler) Schedule(name string, after time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.names = append(r.names, name)
	r.after = append(r.after, after)
}

func (r *recordingScheduler) last() (string, time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.names) == 0 {
		return "", 0
	}

	return r.names[len(r.names)-1], r.after[len(r.after)-1]
}

type harness struct {
	api       *fakeAPI
	cache     *store.Area
	settings  config.Settings
	notifier  *recordingNotifier
	scheduler *recordingScheduler
	now       time.Time
	engine    *Engine
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	s, err := store.Open(filepath.Join(t.TempDir(), "cache"))
	if err != nil {
		t.Fatal(err)
	}

	h := &harness{
		api:       newFakeAPI(),
		cache:     s.Area(store.LocalArea),
		notifier:  &recordingNotifier{},
		scheduler: &recordingScheduler{},
		now:       time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}

	h.settings = config.Defaults()
	h.settings.Organization = "contoso"
	h.settings.PAT = "pat"
	h.settings.Projects = []string{"web"}

	h.engine = New(Options{
		Settings:  func() (config.Settings, error) { return h.settings, nil },
		Cache:     h.cache,
		NewClient: func(*config.Settings) API { return h.api },
		Notifier:  h.notifier,
		Scheduler: h.scheduler,
		Now:       func() time.Time { return h.now },
	})

	return h
}

func (h *harness) run(t *testing.T) Result {
	t.Helper()

	res, err := h.engine.RunCycle(t.Context())
	if err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}

	return res
}

func rawBuild(id int, status, result string, queued time.Time) ado.Build {
	return ado.Build{
		ID:           id,
		BuildNumber:  fmt.Sprintf("2026.%d", id),
		Status:       status,
		Result:       result,
		QueueTime:    queued,
		Definition:   ado.DefinitionRef{Name: "ci"},
		RequestedFor: ado.IdentityRef{ID: "user-1"},
		RequestedBy:  ado.IdentityRef{ID: "svc"},
	}
}

// timeline builds 3 jobs with 10 tasks, 4 of them completed.
func timeline() *ado.Timeline {
	records := []ado.TimelineRecord{
		{ID: "j1", Type: "Job", Name: "a", State: "completed", Result: "succeeded"},
		{ID: "j2", Type: "Job", Name: "b", State: "inProgress"},
		{ID: "j3", Type: "Job", Name: "c", State: "pending"},
	}

	states := []string{"completed", "completed", "completed", "completed", "inProgress", "pending", "pending", "pending", "pending", "pending"}
	parents := []string{"j1", "j1", "j1", "j2", "j2", "j2", "j3", "j3", "j3", "j3"}

	for i, state := range states {
		records = append(records, ado.TimelineRecord{
			ID: fmt.Sprintf("t%d", i), ParentID: parents[i], Type: "Task", State: state,
		})
	}

	return &ado.Timeline{Records: records}
}
