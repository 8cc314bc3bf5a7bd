package poller

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// BuildRef identifies a build from its results page.
type BuildRef struct {
	Organization string `json:"org"`
	Project      string `json:"project"`
	BuildID      int    `json:"buildId"`
}

// ParseBuildURL extracts the build from a results page URL of the form
// https://dev.azure.com/{org}/{project}/_build/results?buildId={id}.
func ParseBuildURL(raw string) (BuildRef, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return BuildRef{}, fmt.Errorf("parse build url: %w", err)
	}

	if u.Scheme != "https" || !strings.EqualFold(u.Host, "dev.azure.com") {
		return BuildRef{}, fmt.Errorf("not an Azure DevOps URL: %s", raw)
	}

	segments := strings.Split(strings.Trim(u.EscapedPath(), "/"), "/")
	if len(segments) != 4 || segments[2] != "_build" || segments[3] != "results" {
		return BuildRef{}, fmt.Errorf("not a build results URL: %s", raw)
	}

	project, err := url.PathUnescape(segments[1])
	if err != nil {
		return BuildRef{}, fmt.Errorf("decode project: %w", err)
	}

	id, err := strconv.Atoi(u.Query().Get("buildId"))
	if err != nil || id <= 0 {
		return BuildRef{}, fmt.Errorf("missing or invalid buildId in %s", raw)
	}

	return BuildRef{Organization: segments[0], Project: project, BuildID: id}, nil
}
