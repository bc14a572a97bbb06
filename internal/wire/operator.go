package wire

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
)

// OperatorClient is the CLI-side HTTP client for the coordinator's operator
// surface. All state mutation goes through here; the CLI never writes the
// database directly.
type OperatorClient struct {
	*Client
}

// NewOperatorClient builds an operator client for a coordinator URL.
func NewOperatorClient(baseURL string) *OperatorClient {
	return &OperatorClient{Client: NewClient(baseURL, "")}
}

// IsNotFound reports whether an operator call failed with 404.
func IsNotFound(err error) bool {
	return hasStatus(err, http.StatusNotFound)
}

// IsConflict reports whether an operator call failed with 409.
func IsConflict(err error) bool {
	return hasStatus(err, http.StatusConflict)
}

func hasStatus(err error, code int) bool {
	se, ok := err.(*statusError)
	return ok && se.code == code
}

// ObserveFile records a file sighting in the catalog.
func (c *OperatorClient) ObserveFile(ctx context.Context, req ObserveFileRequest) (*ObserveFileResponse, error) {
	var resp ObserveFileResponse
	if err := c.post(ctx, "/v1/files", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// EnqueueJob submits a processing attempt.
func (c *OperatorClient) EnqueueJob(ctx context.Context, req EnqueueJobRequest) (string, error) {
	var resp EnqueueJobResponse
	if err := c.post(ctx, "/v1/jobs", req, &resp); err != nil {
		return "", err
	}
	return resp.JobID, nil
}

// Publish registers a new plugin version.
func (c *OperatorClient) Publish(ctx context.Context, req PublishRequest) (*ManifestView, error) {
	var m ManifestView
	if err := c.post(ctx, "/v1/plugins", req, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate runs the contract check on a pending manifest.
func (c *OperatorClient) Validate(ctx context.Context, plugin string, version int) (*ValidateResponse, error) {
	var resp ValidateResponse
	path := "/v1/plugins/" + url.PathEscape(plugin) + "/versions/" + strconv.Itoa(version) + "/validate"
	if err := c.post(ctx, path, struct{}{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// PutSink declares or replaces a routing rule.
func (c *OperatorClient) PutSink(ctx context.Context, plugin string, req SinkPutRequest) error {
	return c.post(ctx, "/v1/plugins/"+url.PathEscape(plugin)+"/sinks", req, nil)
}

// RetryJob resets one failed job to queued.
func (c *OperatorClient) RetryJob(ctx context.Context, jobID string) error {
	return c.post(ctx, "/v1/jobs/"+url.PathEscape(jobID)+"/retry", struct{}{}, nil)
}

// RetryAll resets every failed job and returns how many were reset.
func (c *OperatorClient) RetryAll(ctx context.Context) (int, error) {
	var resp RetryAllResponse
	if err := c.post(ctx, "/v1/jobs/retry-all", struct{}{}, &resp); err != nil {
		return 0, err
	}
	return resp.Retried, nil
}

// CancelJob cancels a queued or running job.
func (c *OperatorClient) CancelJob(ctx context.Context, jobID string) error {
	return c.post(ctx, "/v1/jobs/"+url.PathEscape(jobID)+"/cancel", struct{}{}, nil)
}

// DrainWorker stops a worker from claiming new jobs.
func (c *OperatorClient) DrainWorker(ctx context.Context, host string) error {
	return c.post(ctx, "/v1/workers/"+url.PathEscape(host)+"/drain", struct{}{}, nil)
}

// RemoveWorker deregisters a worker. With force, a held job is requeued.
func (c *OperatorClient) RemoveWorker(ctx context.Context, host string, force bool) error {
	path := "/v1/workers/" + url.PathEscape(host)
	if force {
		path += "?force=true"
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	return nil
}

// Healthz fetches coordinator health.
func (c *OperatorClient) Healthz(ctx context.Context) (*HealthzResponse, error) {
	var h HealthzResponse
	if err := c.get(ctx, "/healthz", &h); err != nil {
		return nil, err
	}
	return &h, nil
}
