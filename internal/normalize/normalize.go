// Package normalize converts raw Azure DevOps payloads into the cache
// entities of package model. Every function is pure.
//
// Enum-like fields are parsed exhaustively: a status, result or timeline
// record type adoc does not know is an error, not a silent "other".
package normalize

import (
	"fmt"

	"github.com/musher-dev/adoc/internal/ado"
	"github.com/musher-dev/adoc/internal/model"
)

// Review vote thresholds.
const (
	voteApproved        = 5
	voteWaitingOnAuthor = -5
	voteRejected        = -10
)

// IsOwned reports whether the build was requested for or by userID.
func IsOwned(b *ado.Build, userID string) bool {
	return b.RequestedFor.ID == userID || b.RequestedBy.ID == userID
}

// JobProgress rolls Task records up into their parent Job records. Stage,
// Phase and Checkpoint records are accepted and ignored; tasks whose parent
// is not a job are not counted. Jobs keep their timeline order.
func JobProgress(records []ado.TimelineRecord) (jobs []model.Job, total, completed int, err error) {
	type taskCount struct{ total, completed int }

	counts := make(map[string]*taskCount)
	jobRecords := make([]ado.TimelineRecord, 0)

	for _, rec := range records {
		kind, parseErr := model.ParseRecordType(rec.Type)
		if parseErr != nil {
			return nil, 0, 0, fmt.Errorf("timeline record %s: %w", rec.ID, parseErr)
		}

		switch kind {
		case model.RecordJob:
			jobRecords = append(jobRecords, rec)
		case model.RecordTask:
			state, stateErr := model.ParseJobState(rec.State)
			if stateErr != nil {
				return nil, 0, 0, fmt.Errorf("timeline task %s: %w", rec.ID, stateErr)
			}

			c := counts[rec.ParentID]
			if c == nil {
				c = &taskCount{}
				counts[rec.ParentID] = c
			}

			c.total++

			if state == model.JobCompleted {
				c.completed++
			}
		case model.RecordStage, model.RecordPhase, model.RecordCheckpoint:
		}
	}

	jobs = make([]model.Job, 0, len(jobRecords))

	for _, rec := range jobRecords {
		state, stateErr := model.ParseJobState(rec.State)
		if stateErr != nil {
			return nil, 0, 0, fmt.Errorf("timeline job %s: %w", rec.ID, stateErr)
		}

		result, resultErr := model.ParseJobResult(rec.Result)
		if resultErr != nil {
			return nil, 0, 0, fmt.Errorf("timeline job %s: %w", rec.ID, resultErr)
		}

		job := model.Job{Name: rec.Name, State: state, Result: result}
		if c := counts[rec.ID]; c != nil {
			job.TotalTasks, job.CompletedTasks = c.total, c.completed
		}

		total += job.TotalTasks
		completed += job.CompletedTasks
		jobs = append(jobs, job)
	}

	return jobs, total, completed, nil
}

// ReviewTally counts approving (vote >= 5), waiting-on-author (-5) and
// rejecting (-10) reviewers.
func ReviewTally(reviewers []ado.Reviewer) (approvals, waiting, rejections int) {
	for _, r := range reviewers {
		switch {
		case r.Vote >= voteApproved:
			approvals++
		case r.Vote == voteWaitingOnAuthor:
			waiting++
		case r.Vote == voteRejected:
			rejections++
		}
	}

	return approvals, waiting, rejections
}

// Build projects a raw build into the cache shape for project. Start time
// falls back to queue time; the URL falls back to the results page. Jobs and
// task counts are left empty for the caller to fill from the timeline.
func Build(raw *ado.Build, project string, endpoints ado.Endpoints) (model.Build, error) {
	status, err := model.ParseBuildStatus(raw.Status)
	if err != nil {
		return model.Build{}, fmt.Errorf("build %d: %w", raw.ID, err)
	}

	result, err := model.ParseBuildResult(raw.Result)
	if err != nil {
		return model.Build{}, fmt.Errorf("build %d: %w", raw.ID, err)
	}

	if status != model.StatusCompleted {
		result = model.ResultNone
	}

	start := raw.QueueTime
	if raw.StartTime != nil && !raw.StartTime.IsZero() {
		start = *raw.StartTime
	}

	url := raw.Links.WebHref()
	if url == "" {
		url = endpoints.BuildWebURL(project, raw.ID)
	}

	return model.Build{
		ID:             raw.ID,
		BuildNumber:    raw.BuildNumber,
		DefinitionName: raw.Definition.Name,
		ProjectName:    project,
		Status:         status,
		Result:         result,
		StartTime:      start,
		QueueTime:      raw.QueueTime,
		URL:            url,
		Jobs:           []model.Job{},
	}, nil
}

// WithTimeline fills a build's job list and task totals from its timeline.
func WithTimeline(b model.Build, timeline *ado.Timeline) (model.Build, error) {
	if timeline == nil {
		return b, nil
	}

	jobs, total, completed, err := JobProgress(timeline.Records)
	if err != nil {
		return b, fmt.Errorf("build %d: %w", b.ID, err)
	}

	b.Jobs, b.TotalTasks, b.CompletedTasks = jobs, total, completed

	return b, nil
}

// PullRequest projects a raw pull request for project.
func PullRequest(raw *ado.PullRequest, project string, endpoints ado.Endpoints) model.PullRequest {
	url := raw.Links.WebHref()
	if url == "" {
		url = endpoints.PullRequestWebURL(project, raw.Repository.Name, raw.PullRequestID)
	}

	lastUpdated := raw.CreationDate
	if raw.ClosedDate != nil && !raw.ClosedDate.IsZero() {
		lastUpdated = *raw.ClosedDate
	}

	approvals, waiting, rejections := ReviewTally(raw.Reviewers)

	return model.PullRequest{
		ID:              raw.PullRequestID,
		Title:           raw.Title,
		ProjectName:     project,
		RepositoryName:  raw.Repository.Name,
		URL:             url,
		CreatedDate:     raw.CreationDate,
		LastUpdated:     lastUpdated,
		IsDraft:         raw.IsDraft,
		Status:          raw.Status,
		MergeStatus:     raw.MergeStatus,
		Approvals:       approvals,
		WaitingOnAuthor: waiting,
		Rejections:      rejections,
	}
}
