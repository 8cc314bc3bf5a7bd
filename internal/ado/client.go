// Package ado is a minimal Azure DevOps REST client for builds, timelines,
// projects and pull requests.
//
// Every call authenticates with a personal access token (PAT) using Basic
// auth with an empty user name. Failures come back as:
//   - *APIError for non-2xx responses, and for 2xx responses that are not
//     JSON (ADO serves an HTML sign-in page for a bad PAT), reported as 401
//   - errors wrapping ErrNetwork for transport failures
//
// The client never retries; the poller decides what happens next.
package ado

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/musher-dev/adoc/internal/buildinfo"
)

const (
	// DefaultTimeout bounds a single HTTP request.
	DefaultTimeout = 30 * time.Second

	continuationHeader = "X-Ms-Continuationtoken"
	maxPages           = 10
	maxErrorBody       = 4 << 10
)

// NonJSONMessage is the APIError message for a 2xx non-JSON response.
const NonJSONMessage = "Authentication failed: received non-JSON response (likely invalid PAT)"

// ErrNetwork marks transport failures (DNS, TLS, timeouts, refused
// connections) as distinct from API-level errors.
var ErrNetwork = errors.New("network failure")

// APIError is an HTTP-level failure from Azure DevOps.
type APIError struct {
	StatusCode int
	Operation  string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Operation, e.Message)
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}

	return 0
}

// Client talks to one Azure DevOps organization.
type Client struct {
	endpoints  Endpoints
	authHeader string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at another host, such as an Azure DevOps
// Server collection URL or a test server.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		if baseURL != "" {
			c.endpoints.BaseURL = strings.TrimRight(baseURL, "/")
		}
	}
}

// WithAPIVersion overrides the api-version query parameter.
func WithAPIVersion(version string) Option {
	return func(c *Client) {
		if version != "" {
			c.endpoints.APIVersion = version
		}
	}
}

// WithHTTPClient replaces the HTTP client. Its transport is used as-is.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// New creates a client for org authenticated with pat.
func New(org, pat string, opts ...Option) *Client {
	c := &Client{
		endpoints: Endpoints{
			BaseURL:    DefaultBaseURL,
			Org:        org,
			APIVersion: DefaultAPIVersion,
		},
		authHeader: EncodePAT(pat),
		httpClient: &http.Client{
			Timeout:   DefaultTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// EncodePAT builds the Authorization header value for pat.
func EncodePAT(pat string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(":"+pat))
}

// Endpoints returns the URL builder the client uses.
func (c *Client) Endpoints() Endpoints {
	return c.endpoints
}

// ConnectionData validates the PAT and returns the authenticated user.
func (c *Client) ConnectionData(ctx context.Context) (*ConnectionData, error) {
	var out ConnectionData
	if _, err := c.getJSON(ctx, "connection data", c.endpoints.ConnectionData(), &out); err != nil {
		return nil, err
	}

	return &out, nil
}

// Projects lists every project in the organization.
func (c *Client) Projects(ctx context.Context) ([]Project, error) {
	return getList[Project](ctx, c, "list projects", c.endpoints.Projects())
}

// ActiveBuilds lists queued and running builds in project. An empty
// requestedFor disables the server-side requester filter.
func (c *Client) ActiveBuilds(ctx context.Context, project, requestedFor string) ([]Build, error) {
	return getList[Build](ctx, c, "list active builds", c.endpoints.ActiveBuilds(project, requestedFor))
}

// RecentBuilds lists builds in project that finished after minFinishTime.
func (c *Client) RecentBuilds(ctx context.Context, project string, minFinishTime time.Time, requestedFor string) ([]Build, error) {
	return getList[Build](ctx, c, "list recent builds", c.endpoints.RecentBuilds(project, minFinishTime, requestedFor))
}

// Build fetches a single build.
func (c *Client) Build(ctx context.Context, project string, id int) (*Build, error) {
	var out Build
	if _, err := c.getJSON(ctx, "get build", c.endpoints.Build(project, id), &out); err != nil {
		return nil, err
	}

	return &out, nil
}

// Timeline fetches the timeline of a build.
func (c *Client) Timeline(ctx context.Context, project string, id int) (*Timeline, error) {
	var out Timeline
	if _, err := c.getJSON(ctx, "get build timeline", c.endpoints.Timeline(project, id), &out); err != nil {
		return nil, err
	}

	return &out, nil
}

// ActivePullRequests lists active pull requests created by creatorID.
func (c *Client) ActivePullRequests(ctx context.Context, project, creatorID string) ([]PullRequest, error) {
	return getList[PullRequest](ctx, c, "list pull requests", c.endpoints.ActivePullRequests(project, creatorID))
}

// getList follows continuation tokens until the collection is exhausted.
func getList[T any](ctx context.Context, c *Client, operation, rawURL string) ([]T, error) {
	var all []T

	next := rawURL

	for page := 0; page < maxPages; page++ {
		var body list[T]

		header, err := c.getJSON(ctx, operation, next, &body)
		if err != nil {
			return nil, err
		}

		all = append(all, body.Value...)

		token := header.Get(continuationHeader)
		if token == "" {
			return all, nil
		}

		next = rawURL + "&continuationToken=" + url.QueryEscape(token)
	}

	return all, nil
}

func (c *Client) getJSON(ctx context.Context, operation, rawURL string, out any) (http.Header, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("%s: create request: %w", operation, err)
	}

	req.Header.Set("Authorization", c.authHeader)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", buildinfo.UserAgent())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", operation, ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, unexpectedStatus(operation, resp)
	}

	if !strings.Contains(resp.Header.Get("Content-Type"), "application/json") {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))

		return nil, &APIError{StatusCode: http.StatusUnauthorized, Operation: operation, Message: NonJSONMessage}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return nil, fmt.Errorf("%s: decode response: %w", operation, err)
	}

	return resp.Header, nil
}

// unexpectedStatus reads a bounded slice of the body into the error. ADO
// error bodies are JSON with a "message" field; anything else is kept raw.
func unexpectedStatus(operation string, resp *http.Response) error {
	msg := fmt.Sprintf("ADO API error: %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))

	body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if readErr == nil && len(body) > 0 {
		var payload struct {
			Message string `json:"message"`
		}

		if json.Unmarshal(body, &payload) == nil && payload.Message != "" {
			msg += ": " + payload.Message
		}
	}

	return &APIError{StatusCode: resp.StatusCode, Operation: operation, Message: msg}
}
