package ado

import "time"

// Raw Azure DevOps REST payloads. Only the fields adoc reads are decoded;
// enum-like fields stay strings here and are parsed by the normalizer.

// ConnectionData is the response of the connection data endpoint.
type ConnectionData struct {
	AuthenticatedUser ConnectionUser `json:"authenticatedUser"`
	AuthorizedUser    ConnectionUser `json:"authorizedUser"`
}

// ConnectionUser is the identity block inside ConnectionData.
type ConnectionUser struct {
	ID                  string         `json:"id"`
	Descriptor          string         `json:"descriptor"`
	ProviderDisplayName string         `json:"providerDisplayName"`
	CustomDisplayName   string         `json:"customDisplayName,omitempty"`
	IsActive            bool           `json:"isActive"`
	Properties          UserProperties `json:"properties"`
}

// UserProperties holds the property bag of a connection user.
type UserProperties struct {
	Account *PropertyValue `json:"Account,omitempty"`
}

// PropertyValue is the {"$value": ...} wrapper ADO uses in property bags.
type PropertyValue struct {
	Value string `json:"$value"`
}

// AccountName returns the account (usually the sign-in email) or "".
func (u *ConnectionUser) AccountName() string {
	if u.Properties.Account == nil {
		return ""
	}

	return u.Properties.Account.Value
}

// Project is a team project.
type Project struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	State string `json:"state"`
	URL   string `json:"url"`
}

// IdentityRef references a user on builds and pull requests.
type IdentityRef struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	UniqueName  string `json:"uniqueName"`
}

// Link is a single entry of a _links block.
type Link struct {
	Href string `json:"href"`
}

// Links is the _links block; only the web link is used.
type Links struct {
	Web *Link `json:"web,omitempty"`
}

// WebHref returns the web link or "".
func (l *Links) WebHref() string {
	if l == nil || l.Web == nil {
		return ""
	}

	return l.Web.Href
}

// DefinitionRef names the pipeline a build ran.
type DefinitionRef struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// ProjectRef names the project an entity belongs to.
type ProjectRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Build is a pipeline run.
type Build struct {
	ID           int           `json:"id"`
	BuildNumber  string        `json:"buildNumber"`
	Status       string        `json:"status"`
	Result       string        `json:"result,omitempty"`
	QueueTime    time.Time     `json:"queueTime"`
	StartTime    *time.Time    `json:"startTime,omitempty"`
	FinishTime   *time.Time    `json:"finishTime,omitempty"`
	Definition   DefinitionRef `json:"definition"`
	Project      ProjectRef    `json:"project"`
	RequestedFor IdentityRef   `json:"requestedFor"`
	RequestedBy  IdentityRef   `json:"requestedBy"`
	SourceBranch string        `json:"sourceBranch"`
	Links        *Links        `json:"_links,omitempty"`
}

// TimelineRecord is one flat entry of a build timeline.
type TimelineRecord struct {
	ID       string `json:"id"`
	ParentID string `json:"parentId,omitempty"`
	Type     string `json:"type"`
	Name     string `json:"name"`
	State    string `json:"state"`
	Result   string `json:"result,omitempty"`
	Order    int    `json:"order"`
}

// Timeline is the record list of a build.
type Timeline struct {
	Records []TimelineRecord `json:"records"`
}

// Reviewer is a pull request reviewer and their vote: 10 approved,
// 5 approved with suggestions, 0 no vote, -5 waiting for author, -10 rejected.
type Reviewer struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Vote        int    `json:"vote"`
	IsRequired  bool   `json:"isRequired,omitempty"`
}

// Repository is the git repository of a pull request.
type Repository struct {
	ID      string     `json:"id"`
	Name    string     `json:"name"`
	Project ProjectRef `json:"project"`
}

// PullRequest is a git pull request.
type PullRequest struct {
	PullRequestID int         `json:"pullRequestId"`
	Title         string      `json:"title"`
	Status        string      `json:"status"`
	IsDraft       bool        `json:"isDraft"`
	MergeStatus   string      `json:"mergeStatus,omitempty"`
	Reviewers     []Reviewer  `json:"reviewers,omitempty"`
	CreatedBy     IdentityRef `json:"createdBy"`
	CreationDate  time.Time   `json:"creationDate"`
	ClosedDate    *time.Time  `json:"closedDate,omitempty"`
	Repository    Repository  `json:"repository"`
	URL           string      `json:"url"`
	Links         *Links      `json:"_links,omitempty"`
}

// list is the {count, value} envelope of collection responses.
type list[T any] struct {
	Count int `json:"count"`
	Value []T `json:"value"`
}
