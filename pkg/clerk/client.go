// Jobclerk is a job dispatch and lease tracking service.
// Copyright (C) 2025  Matthew Burns
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package clerk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned by client helpers when the server answers
	// NotFound.
	ErrNotFound = errors.New("not found")

	// ErrInternal is returned by client helpers when the server answers
	// InternalError.
	ErrInternal = errors.New("internal server error")
)

// BadRequestError carries the server's BadRequest message.
type BadRequestError struct {
	Message string
}

func (e *BadRequestError) Error() string {
	return "bad request: " + e.Message
}

// Client talks to a clerk server's /api endpoint.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient returns a client for the server at baseURL (scheme and host,
// without the /api path).
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// Do sends one request and returns the decoded response. Error responses
// (BadRequest, NotFound, InternalError) are returned as a Response, not as
// an error; err is non-nil only for transport or decoding failures.
func (c *Client) Do(ctx context.Context, req Request) (Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Response{}, fmt.Errorf("encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api", bytes.NewReader(body))
	if err != nil {
		return Response{}, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("send request: %w", err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, 8<<20))
	if err != nil {
		return Response{}, fmt.Errorf("read response: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return Response{}, fmt.Errorf("unexpected status %d: %s", httpResp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var resp Response
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return Response{}, fmt.Errorf("decode response: %w", err)
	}
	return resp, nil
}

// respError maps the error response kinds to Go errors for typed helpers.
func respError(resp Response) error {
	switch resp.Kind {
	case ResponseBadRequest:
		return &BadRequestError{Message: resp.BadRequest}
	case ResponseNotFound:
		return ErrNotFound
	case ResponseInternalError:
		return ErrInternal
	}
	return nil
}

// AddProject creates a project and returns its id.
func (c *Client) AddProject(ctx context.Context, req AddProjectRequest) (int64, error) {
	resp, err := c.Do(ctx, Request{AddProject: &req})
	if err != nil {
		return 0, err
	}
	if err := respError(resp); err != nil {
		return 0, err
	}
	if resp.Kind != ResponseAddProject || resp.AddProject == nil {
		return 0, fmt.Errorf("unexpected response kind: %q", resp.Kind)
	}
	return resp.AddProject.ProjectID, nil
}

// AddJob creates a job and returns its id.
func (c *Client) AddJob(ctx context.Context, req AddJobRequest) (int64, error) {
	resp, err := c.Do(ctx, Request{AddJob: &req})
	if err != nil {
		return 0, err
	}
	if err := respError(resp); err != nil {
		return 0, err
	}
	if resp.Kind != ResponseAddJob || resp.AddJob == nil {
		return 0, fmt.Errorf("unexpected response kind: %q", resp.Kind)
	}
	return resp.AddJob.JobID, nil
}

// GetJob fetches a single job.
func (c *Client) GetJob(ctx context.Context, req GetJobRequest) (*Job, error) {
	resp, err := c.Do(ctx, Request{GetJob: &req})
	if err != nil {
		return nil, err
	}
	if err := respError(resp); err != nil {
		return nil, err
	}
	if resp.Kind != ResponseGetJob || resp.GetJob == nil {
		return nil, fmt.Errorf("unexpected response kind: %q", resp.Kind)
	}
	return resp.GetJob, nil
}

// GetJobs fetches every job in a project. Ordering is unspecified.
func (c *Client) GetJobs(ctx context.Context, req GetJobsRequest) ([]Job, error) {
	resp, err := c.Do(ctx, Request{GetJobs: &req})
	if err != nil {
		return nil, err
	}
	if err := respError(resp); err != nil {
		return nil, err
	}
	if resp.Kind != ResponseGetJobs {
		return nil, fmt.Errorf("unexpected response kind: %q", resp.Kind)
	}
	return resp.GetJobs, nil
}

// TakeJob requests a lease on the next available job. A nil result with a
// nil error means no job was available.
func (c *Client) TakeJob(ctx context.Context, req TakeJobRequest) (*TakeJobResponse, error) {
	resp, err := c.Do(ctx, Request{TakeJob: &req})
	if err != nil {
		return nil, err
	}
	if err := respError(resp); err != nil {
		return nil, err
	}
	if resp.Kind != ResponseTakeJob {
		return nil, fmt.Errorf("unexpected response kind: %q", resp.Kind)
	}
	return resp.TakeJob, nil
}

// UpdateJob sends a heartbeat, surrender, or terminal transition for a
// leased job.
func (c *Client) UpdateJob(ctx context.Context, req UpdateJobRequest) error {
	resp, err := c.Do(ctx, Request{UpdateJob: &req})
	if err != nil {
		return err
	}
	if err := respError(resp); err != nil {
		return err
	}
	if resp.Kind != ResponseEmpty {
		return fmt.Errorf("unexpected response kind: %q", resp.Kind)
	}
	return nil
}

// HandleStuckJobs triggers one reaper pass on the server.
func (c *Client) HandleStuckJobs(ctx context.Context) error {
	resp, err := c.Do(ctx, Request{HandleStuckJobs: true})
	if err != nil {
		return err
	}
	if err := respError(resp); err != nil {
		return err
	}
	if resp.Kind != ResponseEmpty {
		return fmt.Errorf("unexpected response kind: %q", resp.Kind)
	}
	return nil
}
