package normalize

import (
	"math/rand/v2"
	"testing"
	"time"

	"github.com/musher-dev/adoc/internal/ado"
	"github.com/musher-dev/adoc/internal/model"
)

var testEndpoints = ado.Endpoints{BaseURL: "https://dev.azure.com", Org: "contoso", APIVersion: "7.1"}

func TestIsOwned(t *testing.T) {
	tests := []struct {
		name         string
		requestedFor string
		requestedBy  string
		want         bool
	}{
		{name: "requested for user", requestedFor: "u1", requestedBy: "svc", want: true},
		{name: "requested by user", requestedFor: "svc", requestedBy: "u1", want: true},
		{name: "both user", requestedFor: "u1", requestedBy: "u1", want: true},
		{name: "neither", requestedFor: "svc", requestedBy: "other", want: false},
		{name: "empty identities", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &ado.Build{
				RequestedFor: ado.IdentityRef{ID: tt.requestedFor},
				RequestedBy:  ado.IdentityRef{ID: tt.requestedBy},
			}

			if got := IsOwned(b, "u1"); got != tt.want {
				t.Fatalf("IsOwned() = %v, want %v", got, tt.want)
			}
		})
	}
}

func sampleTimeline() []ado.TimelineRecord {
	return []ado.TimelineRecord{
		{ID: "s1", Type: "Stage", Name: "Build", State: "inProgress"},
		{ID: "p1", ParentID: "s1", Type: "Phase", State: "inProgress"},
		{ID: "j1", ParentID: "p1", Type: "Job", Name: "Linux", State: "inProgress"},
		{ID: "j2", ParentID: "p1", Type: "Job", Name: "Windows", State: "completed", Result: "succeeded"},
		{ID: "j3", ParentID: "p1", Type: "Job", Name: "macOS", State: "pending"},
		{ID: "t1", ParentID: "j1", Type: "Task", State: "completed", Result: "succeeded"},
		{ID: "t2", ParentID: "j1", Type: "Task", State: "inProgress"},
		{ID: "t3", ParentID: "j1", Type: "Task", State: "pending"},
		{ID: "t4", ParentID: "j2", Type: "Task", State: "completed", Result: "succeeded"},
		{ID: "t5", ParentID: "j2", Type: "Task", State: "completed", Result: "succeeded"},
		{ID: "t6", ParentID: "j2", Type: "Task", State: "completed", Result: "skipped"},
		{ID: "t7", ParentID: "j3", Type: "Task", State: "pending"},
		{ID: "t8", ParentID: "j3", Type: "Task", State: "pending"},
		{ID: "t9", ParentID: "j3", Type: "Task", State: "pending"},
		{ID: "t10", ParentID: "j3", Type: "Task", State: "pending"},
		{ID: "orphan", ParentID: "p1", Type: "Task", State: "completed"},
		{ID: "cp", ParentID: "s1", Type: "Checkpoint", State: "completed"},
	}
}

func TestJobProgress(t *testing.T) {
	jobs, total, completed, err := JobProgress(sampleTimeline())
	if err != nil {
		t.Fatalf("JobProgress() error = %v", err)
	}

	if total != 10 || completed != 4 {
		t.Fatalf("total/completed = %d/%d, want 10/4", total, completed)
	}

	want := []model.Job{
		{Name: "Linux", State: model.JobInProgress, TotalTasks: 3, CompletedTasks: 1},
		{Name: "Windows", State: model.JobCompleted, Result: model.JobResultSucceeded, TotalTasks: 3, CompletedTasks: 3},
		{Name: "macOS", State: model.JobPending, TotalTasks: 4, CompletedTasks: 0},
	}

	if len(jobs) != len(want) {
		t.Fatalf("jobs = %+v", jobs)
	}

	for i := range want {
		if jobs[i] != want[i] {
			t.Errorf("jobs[%d] = %+v, want %+v", i, jobs[i], want[i])
		}
	}
}

func TestJobProgress_OrderIndependent(t *testing.T) {
	records := sampleTimeline()
	rng := rand.New(rand.NewPCG(1, 2))

	for i := 0; i < 25; i++ {
		shuffled := append([]ado.TimelineRecord(nil), records...)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })

		_, total, completed, err := JobProgress(shuffled)
		if err != nil {
			t.Fatalf("JobProgress() error = %v", err)
		}

		if total != 10 || completed != 4 {
			t.Fatalf("shuffle %d: total/completed = %d/%d, want 10/4", i, total, completed)
		}
	}
}

func TestJobProgress_Empty(t *testing.T) {
	jobs, total, completed, err := JobProgress(nil)
	if err != nil || len(jobs) != 0 || total != 0 || completed != 0 {
		t.Fatalf("JobProgress(nil) = %v, %d, %d, %v", jobs, total, completed, err)
	}
}

func TestJobProgress_RejectsUnknownValues(t *testing.T) {
	tests := []struct {
		name   string
		record ado.TimelineRecord
	}{
		{name: "record type", record: ado.TimelineRecord{ID: "x", Type: "Gate", State: "pending"}},
		{name: "task state", record: ado.TimelineRecord{ID: "x", Type: "Task", State: "waiting"}},
		{name: "job result", record: ado.TimelineRecord{ID: "x", Type: "Job", State: "completed", Result: "exploded"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, _, err := JobProgress([]ado.TimelineRecord{tt.record}); err == nil {
				t.Fatal("JobProgress() error = nil, want error")
			}
		})
	}
}

func TestReviewTally(t *testing.T) {
	reviewers := []ado.Reviewer{
		{Vote: 10}, {Vote: 5}, {Vote: 0}, {Vote: -5}, {Vote: -10}, {Vote: -10},
	}

	approvals, waiting, rejections := ReviewTally(reviewers)
	if approvals != 2 || waiting != 1 || rejections != 2 {
		t.Fatalf("ReviewTally() = %d, %d, %d, want 2, 1, 2", approvals, waiting, rejections)
	}

	if a, w, r := ReviewTally(nil); a != 0 || w != 0 || r != 0 {
		t.Fatalf("ReviewTally(nil) = %d, %d, %d", a, w, r)
	}
}

func TestBuild(t *testing.T) {
	queued := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	started := queued.Add(2 * time.Minute)

	t.Run("start defaults to queue time and url is derived", func(t *testing.T) {
		raw := &ado.Build{
			ID: 42, BuildNumber: "20260101.3", Status: "notStarted", Result: "none",
			QueueTime: queued, Definition: ado.DefinitionRef{Name: "ci"},
		}

		got, err := Build(raw, "web", testEndpoints)
		if err != nil {
			t.Fatalf("Build() error = %v", err)
		}

		if !got.StartTime.Equal(queued) {
			t.Errorf("StartTime = %v, want %v", got.StartTime, queued)
		}

		if got.URL != "https://dev.azure.com/contoso/web/_build/results?buildId=42" {
			t.Errorf("URL = %q", got.URL)
		}

		if got.Result != model.ResultNone || got.Label() != "ci #20260101.3" || got.Jobs == nil {
			t.Errorf("build = %+v", got)
		}
	})

	t.Run("completed keeps result and api link", func(t *testing.T) {
		raw := &ado.Build{
			ID: 7, BuildNumber: "7", Status: "completed", Result: "partiallySucceeded",
			QueueTime: queued, StartTime: &started,
			Links: &ado.Links{Web: &ado.Link{Href: "https://example.test/b/7"}},
		}

		got, err := Build(raw, "web", testEndpoints)
		if err != nil {
			t.Fatalf("Build() error = %v", err)
		}

		if got.Result != model.ResultPartiallySucceeded || !got.StartTime.Equal(started) || got.URL != "https://example.test/b/7" {
			t.Errorf("build = %+v", got)
		}
	})

	t.Run("unknown status fails", func(t *testing.T) {
		if _, err := Build(&ado.Build{ID: 1, Status: "postponed"}, "web", testEndpoints); err == nil {
			t.Fatal("Build() error = nil, want error")
		}
	})
}

func TestWithTimeline(t *testing.T) {
	b := model.Build{ID: 1, Jobs: []model.Job{}}

	got, err := WithTimeline(b, nil)
	if err != nil || got.TotalTasks != 0 {
		t.Fatalf("WithTimeline(nil) = %+v, %v", got, err)
	}

	got, err = WithTimeline(b, &ado.Timeline{Records: sampleTimeline()})
	if err != nil {
		t.Fatalf("WithTimeline() error = %v", err)
	}

	if got.TotalTasks != 10 || got.CompletedTasks != 4 || len(got.Jobs) != 3 {
		t.Fatalf("WithTimeline() = %+v", got)
	}
}

func TestPullRequest(t *testing.T) {
	created := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)

	raw := &ado.PullRequest{
		PullRequestID: 17,
		Title:         "Add retry",
		Status:        "active",
		MergeStatus:   "succeeded",
		IsDraft:       true,
		CreationDate:  created,
		Repository:    ado.Repository{Name: "front end"},
		Reviewers:     []ado.Reviewer{{Vote: 10}, {Vote: -5}},
	}

	got := PullRequest(raw, "web", testEndpoints)

	if got.URL != "https://dev.azure.com/contoso/web/_git/front%20end/pullrequest/17" {
		t.Errorf("URL = %q", got.URL)
	}

	if !got.LastUpdated.Equal(created) || got.Approvals != 1 || got.WaitingOnAuthor != 1 || !got.IsDraft {
		t.Errorf("pull request = %+v", got)
	}

	closed := created.Add(time.Hour)
	raw.ClosedDate = &closed

	if got := PullRequest(raw, "web", testEndpoints); !got.LastUpdated.Equal(closed) {
		t.Errorf("LastUpdated = %v, want %v", got.LastUpdated, closed)
	}
}
