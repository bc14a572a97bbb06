package wire

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sl224/casparianflow-sub011/internal/queue"
)

// ErrNotRegistered means the coordinator does not know this worker (it was
// swept as stale, or never handshook). The worker should register again.
var ErrNotRegistered = errors.New("worker not registered with coordinator")

// Client is the worker-side HTTP client for the coordinator endpoint.
type Client struct {
	baseURL    string
	host       string
	httpClient *http.Client
}

// NewClient builds a client identified by the worker's hostname.
func NewClient(baseURL, host string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		host:       host,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// Register performs the startup handshake.
func (c *Client) Register(ctx context.Context, req RegisterRequest) error {
	return c.post(ctx, "/v1/workers/register", req, nil)
}

// Heartbeat reports liveness and current status. Returns ErrNotRegistered if
// the coordinator no longer has a row for this worker.
func (c *Client) Heartbeat(ctx context.Context, status queue.WorkerStatus) error {
	err := c.post(ctx, "/v1/workers/"+url.PathEscape(c.host)+"/heartbeat", HeartbeatRequest{Status: status}, nil)
	if err != nil {
		var se *statusError
		if errors.As(err, &se) && se.code == http.StatusNotFound {
			return fmt.Errorf("%w: %s", ErrNotRegistered, c.host)
		}
	}
	return err
}

// ResolveActive fetches the executable manifest for a plugin.
func (c *Client) ResolveActive(ctx context.Context, plugin string) (*ManifestView, error) {
	var m ManifestView
	if err := c.get(ctx, "/v1/plugins/"+url.PathEscape(plugin)+"/active", &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// PluginSinks fetches the routing rules declared for a plugin.
func (c *Client) PluginSinks(ctx context.Context, plugin string) ([]SinkView, error) {
	var views []SinkView
	if err := c.get(ctx, "/v1/plugins/"+url.PathEscape(plugin)+"/sinks", &views); err != nil {
		return nil, err
	}
	return views, nil
}

// Claim requests the next job. Returns (nil, nil) when the coordinator has
// nothing for this worker.
func (c *Client) Claim(ctx context.Context, pid int) (*JobAssignment, error) {
	body, err := json.Marshal(ClaimRequest{PID: pid})
	if err != nil {
		return nil, fmt.Errorf("encode claim request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/workers/"+url.PathEscape(c.host)+"/claim", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build claim request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("claim request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNoContent:
		return nil, nil
	case http.StatusOK:
		var assignment JobAssignment
		if err := json.NewDecoder(resp.Body).Decode(&assignment); err != nil {
			return nil, fmt.Errorf("decode job assignment: %w", err)
		}
		return &assignment, nil
	default:
		return nil, decodeError(resp)
	}
}

// Report sends the completion report for a job.
func (c *Client) Report(ctx context.Context, jobID string, status queue.Status, result, errMsg *string) error {
	req := ReportRequest{
		WorkerHost: c.host,
		Status:     string(status),
		Result:     result,
		Error:      errMsg,
	}
	return c.post(ctx, "/v1/jobs/"+url.PathEscape(jobID)+"/report", req, nil)
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// statusError preserves the HTTP status alongside the coordinator's message.
type statusError struct {
	code int
	msg  string
}

func (e *statusError) Error() string {
	if e.msg != "" {
		return fmt.Sprintf("coordinator returned %d: %s", e.code, e.msg)
	}
	return fmt.Sprintf("coordinator returned %d", e.code)
}

func decodeError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var e ErrorResponse
	if err := json.Unmarshal(data, &e); err == nil && e.Error != "" {
		return &statusError{code: resp.StatusCode, msg: e.Error}
	}
	return &statusError{code: resp.StatusCode}
}
