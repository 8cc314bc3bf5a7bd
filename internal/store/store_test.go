package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/musher-dev/adoc/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(filepath.Join(t.TempDir(), "cache"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	return s
}

func TestBuildRoundTrip(t *testing.T) {
	s := openTestStore(t)
	area := s.Area(LocalArea)

	queued := time.Date(2026, 1, 2, 3, 4, 5, 600, time.FixedZone("PST", -8*3600))
	builds := []model.Build{
		{
			ID:             42,
			BuildNumber:    "20260102.7",
			DefinitionName: "ci — main",
			ProjectName:    "My Project",
			Status:         model.StatusCompleted,
			Result:         model.ResultPartiallySucceeded,
			StartTime:      queued.Add(time.Minute),
			QueueTime:      queued,
			URL:            "https://dev.azure.com/contoso/My%20Project/_build/results?buildId=42",
			Jobs: []model.Job{
				{Name: "Linux", State: model.JobCompleted, Result: model.JobResultSucceededWithIssues, TotalTasks: 5, CompletedTasks: 5},
			},
			TotalTasks:     5,
			CompletedTasks: 5,
			Watched:        true,
		},
	}

	if err := Save(area, KeyCachedRecentBuilds, builds); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	// A second store over the same directory reads from disk.
	other, err := Open(s.Dir())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	got, ok, err := Load(other.Area(LocalArea), KeyCachedRecentBuilds)
	if err != nil || !ok {
		t.Fatalf("Load() = %v, %v", ok, err)
	}

	if len(got) != 1 {
		t.Fatalf("builds = %+v", got)
	}

	if !got[0].QueueTime.Equal(queued) || !got[0].StartTime.Equal(builds[0].StartTime) {
		t.Fatalf("times = %v/%v", got[0].QueueTime, got[0].StartTime)
	}

	// Compare everything but the time locations.
	got[0].QueueTime, got[0].StartTime = builds[0].QueueTime, builds[0].StartTime
	if !reflect.DeepEqual(got, builds) {
		t.Fatalf("round trip mismatch\n got %+v\nwant %+v", got, builds)
	}
}

func TestLoad_MissingKey(t *testing.T) {
	area := openTestStore(t).Area(LocalArea)

	state, ok, err := Load(area, KeyErrorState)
	if err != nil || ok || state != nil {
		t.Fatalf("Load() = %v, %v, %v", state, ok, err)
	}
}

func TestSave_NullClearsPointer(t *testing.T) {
	area := openTestStore(t).Area(LocalArea)

	if err := Save(area, KeyErrorState, &model.ErrorState{Type: model.ErrorNetwork}); err != nil {
		t.Fatal(err)
	}

	if err := Save[*model.ErrorState](area, KeyErrorState, nil); err != nil {
		t.Fatal(err)
	}

	state, ok, err := Load(area, KeyErrorState)
	if err != nil || !ok || state != nil {
		t.Fatalf("Load() = %v, %v, %v; want nil, true, nil", state, ok, err)
	}
}

func TestGetMany(t *testing.T) {
	area := openTestStore(t).Area(LocalArea)

	_ = Save(area, KeyBadgeText, "2")
	_ = Save(area, KeyManagedBookmarkIDs, []string{"10", "11"})

	got, err := area.GetMany(string(KeyBadgeText), string(KeyManagedBookmarkIDs), "missing")
	if err != nil {
		t.Fatalf("GetMany() error = %v", err)
	}

	if len(got) != 2 || string(got[string(KeyBadgeText)]) != `"2"` {
		t.Fatalf("GetMany() = %v", got)
	}
}

func TestOnChange_ScopedToAreaAndKey(t *testing.T) {
	s := openTestStore(t)
	local := s.Area(LocalArea)
	sync := s.Area("sync")

	var got []string

	cancel := local.OnChange(string(KeyBadgeText), func(v json.RawMessage) {
		got = append(got, string(v))
	})

	_ = Save(local, KeyBadgeText, "1")
	_ = Save(sync, KeyBadgeText, "from another area")
	_ = Save(local, KeyLastUpdated, time.Now())
	_ = Save(local, KeyBadgeText, "")

	cancel()

	_ = Save(local, KeyBadgeText, "after cancel")

	want := []string{`"1"`, `""`}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("notifications = %v, want %v", got, want)
	}
}

func TestReload_NotifiesExternalWrites(t *testing.T) {
	s := openTestStore(t)
	reader := s.Area(LocalArea)

	if _, _, err := reader.Get(string(KeyBadgeText)); err != nil {
		t.Fatal(err)
	}

	var keys []string

	reader.OnAnyChange(func(key string, _ json.RawMessage) { keys = append(keys, key) })

	writerStore, err := Open(s.Dir())
	if err != nil {
		t.Fatal(err)
	}

	writer := writerStore.Area(LocalArea)
	_ = Save(writer, KeyBadgeText, "3")
	_ = Save(writer, KeyWatchedBuilds, []model.WatchedBuild{})

	if err := reader.Reload(); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}

	if !reflect.DeepEqual(keys, []string{string(KeyBadgeText), string(KeyWatchedBuilds)}) {
		t.Fatalf("changed keys = %v", keys)
	}

	keys = nil

	if err := reader.Reload(); err != nil || len(keys) != 0 {
		t.Fatalf("second Reload() changed %v, %v", keys, err)
	}
}

func TestSet_PreservesKeysWrittenByOthers(t *testing.T) {
	s := openTestStore(t)
	a := s.Area(LocalArea)

	other, _ := Open(s.Dir())
	b := other.Area(LocalArea)

	_ = Save(a, KeyBadgeText, "1")
	_ = Save(b, KeyManagedBookmarkIDs, []string{"9"})
	_ = Save(a, KeyBadgeText, "2")

	ids, ok, err := Load(b, KeyManagedBookmarkIDs)
	if err != nil || !ok || len(ids) != 1 {
		t.Fatalf("Load() = %v, %v, %v", ids, ok, err)
	}
}

func TestCorruptAreaFile(t *testing.T) {
	s := openTestStore(t)

	if err := os.WriteFile(filepath.Join(s.Dir(), LocalArea+".json"), []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, _, err := s.Area(LocalArea).Get(string(KeyBadgeText)); err == nil {
		t.Fatal("Get() error = nil, want decode error")
	}
}

func TestWatch_ReloadsOnExternalWrite(t *testing.T) {
	s := openTestStore(t)
	area := s.Area(LocalArea)

	if _, _, err := area.Get(string(KeyBadgeText)); err != nil {
		t.Fatal(err)
	}

	changed := make(chan string, 4)
	area.OnChange(string(KeyBadgeText), func(v json.RawMessage) { changed <- string(v) })

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)

	go func() { done <- s.Watch(ctx) }()

	other, _ := Open(s.Dir())

	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()

	// The watcher may not be registered yet; keep writing until it sees one.
	for found := false; !found; {
		select {
		case v := <-changed:
			found = v == `"5"`
		case <-tick.C:
			_ = Save(other.Area(LocalArea), KeyBadgeText, "5")
		case <-deadline:
			t.Fatal("watcher did not report the external write")
		}
	}

	cancel()

	if err := <-done; err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
}
