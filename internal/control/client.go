package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	neturl "net/url"
	"strconv"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/musher-dev/adoc/internal/buildinfo"
	"github.com/musher-dev/adoc/internal/poller"
)

// DefaultTimeout bounds a request, including the cycle it triggers.
const DefaultTimeout = 2 * time.Minute

// ErrUnreachable marks failures to connect to the daemon.
var ErrUnreachable = errors.New("daemon unreachable")

// Client talks to a running daemon.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a Client for the daemon listening on addr (host:port).
func NewClient(addr string) *Client {
	return &Client{
		baseURL:    "http://" + addr,
		httpClient: &http.Client{Timeout: DefaultTimeout},
	}
}

// WithBaseURL overrides the daemon URL.
func (c *Client) WithBaseURL(url string) *Client {
	c.baseURL = url
	return c
}

// Status returns the daemon state.
func (c *Client) Status(ctx context.Context) (*StatusResponse, error) {
	var out StatusResponse
	if err := c.do(ctx, "status", http.MethodGet, "/v1/status", &out); err != nil {
		return nil, err
	}

	return &out, nil
}

// Refresh runs a cycle on the daemon.
func (c *Client) Refresh(ctx context.Context) (*poller.Result, error) {
	return c.cycle(ctx, "refresh", http.MethodPost, "/v1/refresh")
}

// ConfigChanged tells the daemon to reload settings and run a cycle.
func (c *Client) ConfigChanged(ctx context.Context) (*poller.Result, error) {
	return c.cycle(ctx, "config changed", http.MethodPost, "/v1/config")
}

// CheckTracked asks whether a build is tracked.
func (c *Client) CheckTracked(ctx context.Context, ref poller.BuildRef) (*poller.TrackStatus, error) {
	var out poller.TrackStatus
	if err := c.do(ctx, "check tracked", http.MethodGet, buildPath("/v1/builds", ref)+"/tracked", &out); err != nil {
		return nil, err
	}

	return &out, nil
}

// Track adds a build to the watch list.
func (c *Client) Track(ctx context.Context, ref poller.BuildRef) (*poller.Result, error) {
	return c.cycle(ctx, "track build", http.MethodPut, buildPath("/v1/watched", ref))
}

// Untrack removes a build from the watch list.
func (c *Client) Untrack(ctx context.Context, id int) (*poller.Result, error) {
	return c.cycle(ctx, "untrack build", http.MethodDelete, "/v1/watched/"+strconv.Itoa(id))
}

// Cache returns every cache key the daemon holds.
func (c *Client) Cache(ctx context.Context) (map[string]json.RawMessage, error) {
	out := map[string]json.RawMessage{}
	if err := c.do(ctx, "read cache", http.MethodGet, "/v1/cache", &out); err != nil {
		return nil, err
	}

	return out, nil
}

// Events calls fn for each cache change until ctx is done or the daemon
// closes the stream.
func (c *Client) Events(ctx context.Context, fn func(Event)) error {
	u, err := neturl.Parse(c.baseURL + "/v1/events")
	if err != nil {
		return fmt.Errorf("parse events url: %w", err)
	}

	u.Scheme = "ws"

	conn, _, err := websocket.Dial(ctx, u.String(), &websocket.DialOptions{
		HTTPHeader: http.Header{"User-Agent": []string{buildinfo.UserAgent()}},
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnreachable, err)
	}

	defer conn.CloseNow()

	for {
		var ev Event
		if err := wsjson.Read(ctx, conn, &ev); err != nil {
			if ctx.Err() != nil || websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return nil
			}

			return fmt.Errorf("read event: %w", err)
		}

		fn(ev)
	}
}

func (c *Client) cycle(ctx context.Context, operation, method, path string) (*poller.Result, error) {
	var out CycleResponse
	if err := c.do(ctx, operation, method, path, &out); err != nil {
		return nil, err
	}

	return &out.Result, nil
}

func (c *Client) do(ctx context.Context, operation, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", buildinfo.UserAgent())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w: %w", operation, ErrUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return unexpectedStatus(operation, resp.StatusCode, resp.Body)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", operation, err)
	}

	return nil
}

// StatusError is a non-200 answer from the daemon.
type StatusError struct {
	Operation  string
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s failed with status %d: %s", e.Operation, e.StatusCode, e.Message)
}

func unexpectedStatus(operation string, statusCode int, body io.Reader) error {
	var payload errorResponse

	raw, readErr := io.ReadAll(body)
	if readErr != nil {
		return &StatusError{Operation: operation, StatusCode: statusCode, Message: "failed to read body: " + readErr.Error()}
	}

	msg := string(raw)
	if json.Unmarshal(raw, &payload) == nil && payload.Error != "" {
		msg = payload.Error
	}

	return &StatusError{Operation: operation, StatusCode: statusCode, Message: msg}
}

func buildPath(prefix string, ref poller.BuildRef) string {
	return prefix + "/" + neturl.PathEscape(ref.Organization) + "/" + neturl.PathEscape(ref.Project) + "/" + strconv.Itoa(ref.BuildID)
}
