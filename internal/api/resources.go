package api

import (
	"context"
	"fmt"
	"net/url"

	"github.com/alexjbarnes/tokengate/internal/models"
)

// Me returns the signed-in user's profile.
func (c *Client) Me(ctx context.Context) (*models.Profile, error) {
	var p models.Profile
	if err := c.GetJSON(ctx, "/api/me", &p); err != nil {
		return nil, fmt.Errorf("fetching profile: %w", err)
	}

	return &p, nil
}

// CreateJob starts a job that finishes after steps status polls.
func (c *Client) CreateJob(ctx context.Context, name string, steps int) (*models.Job, error) {
	var j models.Job
	if err := c.PostJSON(ctx, "/api/jobs", models.CreateJobRequest{Name: name, Steps: steps}, &j); err != nil {
		return nil, fmt.Errorf("creating job: %w", err)
	}

	return &j, nil
}

// Job returns the current state of a job.
func (c *Client) Job(ctx context.Context, id string) (*models.Job, error) {
	var j models.Job
	if err := c.GetJSON(ctx, "/api/jobs/"+url.PathEscape(id), &j); err != nil {
		return nil, fmt.Errorf("fetching job %s: %w", id, err)
	}

	return &j, nil
}
