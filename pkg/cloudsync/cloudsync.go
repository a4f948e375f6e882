// Package cloudsync is the HTTP client for the cloud-sync notifier: a thin
// collaborator the Submission & Task Poller calls to tell a studio's cloud
// dashboard when a job fails or resolves. Its interface only is specified —
// the HTTP endpoint itself is an opaque external service.
package cloudsync

import (
	"context"
	"fmt"

	"github.com/go-resty/resty/v2"
)

// Notifier is implemented by the real HTTP client and by test fakes.
type Notifier interface {
	NotifyFailed(ctx context.Context, jobID, reason string) error
	NotifyResolved(ctx context.Context, jobID string) error
}

// Client posts job lifecycle notifications to a studio's cloud endpoint.
type Client struct {
	http    *resty.Client
	baseURL string
}

// New builds a Client targeting baseURL (e.g. "https://sync.example.studio").
func New(baseURL string) *Client {
	return &Client{http: resty.New(), baseURL: baseURL}
}

type notifyFailedBody struct {
	JobID  string `json:"job_id"`
	Reason string `json:"reason"`
}

type notifyResolvedBody struct {
	JobID string `json:"job_id"`
}

// NotifyFailed reports that jobID's submission was rolled back.
func (c *Client) NotifyFailed(ctx context.Context, jobID, reason string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(notifyFailedBody{JobID: jobID, Reason: reason}).
		Post(c.baseURL + "/jobs/failed")
	if err != nil {
		return fmt.Errorf("cloudsync: notify failed: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("cloudsync: notify failed: status %s", resp.Status())
	}
	return nil
}

// NotifyResolved reports that jobID reached state RESOLVED.
func (c *Client) NotifyResolved(ctx context.Context, jobID string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(notifyResolvedBody{JobID: jobID}).
		Post(c.baseURL + "/jobs/resolved")
	if err != nil {
		return fmt.Errorf("cloudsync: notify resolved: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("cloudsync: notify resolved: status %s", resp.Status())
	}
	return nil
}

// Noop is a Notifier that does nothing, for local/demo runs with no cloud
// endpoint configured.
type Noop struct{}

func (Noop) NotifyFailed(ctx context.Context, jobID, reason string) error { return nil }
func (Noop) NotifyResolved(ctx context.Context, jobID string) error      { return nil }
