// Package model defines the cache-ready entities adoc persists between poll
// cycles. The presentation layer reads these shapes straight out of the
// store, so their JSON names are part of the durable contract.
package model

import (
	"fmt"
	"strconv"
	"time"
)

// BuildStatus is the lifecycle state of a build.
type BuildStatus string

// Build statuses accepted at ingestion.
const (
	StatusNotStarted BuildStatus = "notStarted"
	StatusInProgress BuildStatus = "inProgress"
	StatusCancelling BuildStatus = "cancelling"
	StatusCompleted  BuildStatus = "completed"
)

// ParseBuildStatus maps a raw API status onto BuildStatus.
func ParseBuildStatus(raw string) (BuildStatus, error) {
	switch s := BuildStatus(raw); s {
	case StatusNotStarted, StatusInProgress, StatusCancelling, StatusCompleted:
		return s, nil
	default:
		return "", fmt.Errorf("unknown build status %q", raw)
	}
}

// Active reports whether the build has not reached a terminal state.
func (s BuildStatus) Active() bool {
	return s != StatusCompleted
}

// BuildResult is the outcome of a completed build.
type BuildResult string

// Build results. ResultNone means the API did not report one.
const (
	ResultNone               BuildResult = ""
	ResultSucceeded          BuildResult = "succeeded"
	ResultFailed             BuildResult = "failed"
	ResultCanceled           BuildResult = "canceled"
	ResultPartiallySucceeded BuildResult = "partiallySucceeded"
)

// ParseBuildResult maps a raw API result onto BuildResult. The API uses
// "none" for builds that have not finished.
func ParseBuildResult(raw string) (BuildResult, error) {
	switch r := BuildResult(raw); r {
	case ResultNone, ResultSucceeded, ResultFailed, ResultCanceled, ResultPartiallySucceeded:
		return r, nil
	case "none":
		return ResultNone, nil
	default:
		return "", fmt.Errorf("unknown build result %q", raw)
	}
}

// RecordType tags a timeline record.
type RecordType string

// Timeline record types.
const (
	RecordStage      RecordType = "Stage"
	RecordPhase      RecordType = "Phase"
	RecordJob        RecordType = "Job"
	RecordTask       RecordType = "Task"
	RecordCheckpoint RecordType = "Checkpoint"
)

// ParseRecordType maps a raw timeline record type.
func ParseRecordType(raw string) (RecordType, error) {
	switch r := RecordType(raw); r {
	case RecordStage, RecordPhase, RecordJob, RecordTask, RecordCheckpoint:
		return r, nil
	default:
		return "", fmt.Errorf("unknown timeline record type %q", raw)
	}
}

// JobState is the execution state of a timeline job.
type JobState string

// Timeline states.
const (
	JobPending    JobState = "pending"
	JobInProgress JobState = "inProgress"
	JobCompleted  JobState = "completed"
)

// ParseJobState maps a raw timeline state.
func ParseJobState(raw string) (JobState, error) {
	switch s := JobState(raw); s {
	case JobPending, JobInProgress, JobCompleted:
		return s, nil
	default:
		return "", fmt.Errorf("unknown timeline state %q", raw)
	}
}

// JobResult is the outcome of a timeline job.
type JobResult string

// Timeline results.
const (
	JobResultNone                JobResult = ""
	JobResultSucceeded           JobResult = "succeeded"
	JobResultSucceededWithIssues JobResult = "succeededWithIssues"
	JobResultFailed              JobResult = "failed"
	JobResultCanceled            JobResult = "canceled"
	JobResultSkipped             JobResult = "skipped"
	JobResultAbandoned           JobResult = "abandoned"
)

// ParseJobResult maps a raw timeline result.
func ParseJobResult(raw string) (JobResult, error) {
	switch r := JobResult(raw); r {
	case JobResultNone, JobResultSucceeded, JobResultSucceededWithIssues, JobResultFailed,
		JobResultCanceled, JobResultSkipped, JobResultAbandoned:
		return r, nil
	default:
		return "", fmt.Errorf("unknown timeline result %q", raw)
	}
}

// Identity is the authenticated Azure DevOps user.
type Identity struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	UniqueName  string `json:"uniqueName"`
}

// Job is per-job progress inside a build.
type Job struct {
	Name           string    `json:"name"`
	State          JobState  `json:"state"`
	Result         JobResult `json:"result,omitempty"`
	TotalTasks     int       `json:"totalTasks"`
	CompletedTasks int       `json:"completedTasks"`
}

// Build is a cached snapshot of one pipeline run.
type Build struct {
	ID             int         `json:"id"`
	BuildNumber    string      `json:"buildNumber"`
	DefinitionName string      `json:"definitionName"`
	ProjectName    string      `json:"projectName"`
	Status         BuildStatus `json:"status"`
	Result         BuildResult `json:"result,omitempty"`
	StartTime      time.Time   `json:"startTime"`
	QueueTime      time.Time   `json:"queueTime"`
	URL            string      `json:"url"`
	Jobs           []Job       `json:"jobs"`
	TotalTasks     int         `json:"totalTasks"`
	CompletedTasks int         `json:"completedTasks"`
	Watched        bool        `json:"watched,omitempty"`
}

// Label is the short human name used in notifications and listings.
func (b *Build) Label() string {
	return b.DefinitionName + " #" + b.BuildNumber
}

// PullRequest is a cached snapshot of an active pull request.
type PullRequest struct {
	ID              int       `json:"id"`
	Title           string    `json:"title"`
	ProjectName     string    `json:"projectName"`
	RepositoryName  string    `json:"repositoryName"`
	URL             string    `json:"url"`
	CreatedDate     time.Time `json:"createdDate"`
	LastUpdated     time.Time `json:"lastUpdated"`
	IsDraft         bool      `json:"isDraft"`
	Status          string    `json:"status"`
	MergeStatus     string    `json:"mergeStatus,omitempty"`
	Approvals       int       `json:"approvals"`
	WaitingOnAuthor int       `json:"waitingOnAuthor"`
	Rejections      int       `json:"rejections"`
}

// WatchTTL is how long an explicitly tracked build stays on the watch list.
const WatchTTL = 24 * time.Hour

// WatchedBuild is a build tracked outside the normal project-scoped poll.
type WatchedBuild struct {
	BuildID      int       `json:"buildId"`
	Project      string    `json:"project"`
	Organization string    `json:"organization"`
	TrackedAt    time.Time `json:"trackedAt"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// NewWatchedBuild starts tracking a build at now.
func NewWatchedBuild(org, project string, id int, now time.Time) WatchedBuild {
	return WatchedBuild{
		BuildID:      id,
		Project:      project,
		Organization: org,
		TrackedAt:    now,
		ExpiresAt:    now.Add(WatchTTL),
	}
}

// Expired reports whether the entry is past its expiry. An entry expiring
// exactly at now is expired.
func (w *WatchedBuild) Expired(now time.Time) bool {
	return !now.Before(w.ExpiresAt)
}

// ErrorType classifies the last cycle failure.
type ErrorType string

// Error types surfaced to the presentation layer.
const (
	ErrorAuthFailed ErrorType = "auth_failed"
	ErrorPATExpired ErrorType = "pat_expired"
	ErrorNetwork    ErrorType = "network_error"
	ErrorUnknown    ErrorType = "unknown"
)

// NeedsReauth reports whether the user has to replace the PAT.
func (t ErrorType) NeedsReauth() bool {
	return t == ErrorAuthFailed || t == ErrorPATExpired
}

// ErrorState is the persisted outcome of the last failed cycle.
type ErrorState struct {
	Type      ErrorType `json:"type"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// NotificationID is the key a completion notification is emitted under.
func NotificationID(buildID int) string {
	return "build-" + strconv.Itoa(buildID)
}
