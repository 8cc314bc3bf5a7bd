package ado

import (
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultBaseURL is the Azure DevOps Services host.
	DefaultBaseURL = "https://dev.azure.com"
	// DefaultAPIVersion is the REST API version sent with every versioned call.
	DefaultAPIVersion = "7.1"

	projectPageSize = 200
)

// Endpoints builds REST and web URLs for one organization.
type Endpoints struct {
	BaseURL    string
	Org        string
	APIVersion string
}

func (e Endpoints) root() string {
	return strings.TrimRight(e.BaseURL, "/") + "/" + url.PathEscape(e.Org)
}

func (e Endpoints) projectRoot(project string) string {
	return e.root() + "/" + url.PathEscape(project)
}

// query joins key/value pairs in order, escaping values only.
func query(pairs ...string) string {
	var b strings.Builder

	for i := 0; i+1 < len(pairs); i += 2 {
		if pairs[i+1] == "" {
			continue
		}

		if b.Len() > 0 {
			b.WriteByte('&')
		}

		b.WriteString(pairs[i])
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(pairs[i+1]))
	}

	return b.String()
}

// ConnectionData is the identity endpoint. It is not versioned.
func (e Endpoints) ConnectionData() string {
	return e.root() + "/_apis/connectionData"
}

// Projects lists the organization's projects.
func (e Endpoints) Projects() string {
	return e.root() + "/_apis/projects?" + query(
		"api-version", e.APIVersion,
		"$top", strconv.Itoa(projectPageSize),
	)
}

// ActiveBuilds lists queued and running builds, optionally for one requester.
func (e Endpoints) ActiveBuilds(project, requestedFor string) string {
	return e.projectRoot(project) + "/_apis/build/builds?" + query(
		"statusFilter", "inProgress,notStarted",
		"api-version", e.APIVersion,
		"requestedFor", requestedFor,
	)
}

// RecentBuilds lists builds that finished after minFinishTime.
func (e Endpoints) RecentBuilds(project string, minFinishTime time.Time, requestedFor string) string {
	return e.projectRoot(project) + "/_apis/build/builds?" + query(
		"statusFilter", "completed",
		"minFinishTime", minFinishTime.UTC().Format(time.RFC3339Nano),
		"api-version", e.APIVersion,
		"requestedFor", requestedFor,
	)
}

// Build fetches one build by id.
func (e Endpoints) Build(project string, id int) string {
	return e.projectRoot(project) + "/_apis/build/builds/" + strconv.Itoa(id) + "?" + query("api-version", e.APIVersion)
}

// Timeline fetches the timeline records of a build.
func (e Endpoints) Timeline(project string, id int) string {
	return e.projectRoot(project) + "/_apis/build/builds/" + strconv.Itoa(id) + "/timeline?" + query("api-version", e.APIVersion)
}

// ActivePullRequests searches active pull requests created by creatorID.
func (e Endpoints) ActivePullRequests(project, creatorID string) string {
	return e.projectRoot(project) + "/_apis/git/pullrequests?" + query(
		"searchCriteria.creatorId", creatorID,
		"searchCriteria.status", "active",
		"api-version", e.APIVersion,
	)
}

// BuildWebURL is the browser URL of a build results page.
func (e Endpoints) BuildWebURL(project string, id int) string {
	return e.projectRoot(project) + "/_build/results?buildId=" + strconv.Itoa(id)
}

// PullRequestWebURL is the browser URL of a pull request.
func (e Endpoints) PullRequestWebURL(project, repository string, id int) string {
	return e.projectRoot(project) + "/_git/" + url.PathEscape(repository) + "/pullrequest/" + strconv.Itoa(id)
}
