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

// Package dispatch implements the clerk's engine: each request maps to
// exactly one transactional SQL interaction and comes back as a typed
// response. The engine holds no state between calls; all durable state
// lives in the database.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"jobclerk/internal/metrics"
	"jobclerk/internal/store"
	"jobclerk/pkg/clerk"
)

// Store defines the persistence operations required by the engine.
type Store interface {
	AddProject(ctx context.Context, name string, heartbeatExpirationMillis int64, data json.RawMessage) (int64, error)
	AddJob(ctx context.Context, projectName string, data json.RawMessage) (int64, error)
	GetJob(ctx context.Context, projectName string, jobID int64) (*clerk.Job, error)
	GetJobs(ctx context.Context, projectName string) ([]clerk.Job, error)
	TakeJob(ctx context.Context, projectName, runner, token string) (int64, bool, error)
	UpdateJob(ctx context.Context, projectName string, jobID int64, token string, state *clerk.JobState, data json.RawMessage) error
	HandleStuckJobs(ctx context.Context) (int64, error)
}

// Engine maps requests to store operations and translates failures into
// the three error response kinds.
type Engine struct {
	store Store
	log   *slog.Logger
}

// New constructs an Engine. A nil logger uses the default.
func New(st Store, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{store: st, log: log}
}

// Handle executes one request. Failures never escape as errors: every
// outcome is a Response, with BadRequest messages passed to the caller
// verbatim and everything else collapsed to NotFound or InternalError.
func (e *Engine) Handle(ctx context.Context, req *clerk.Request) clerk.Response {
	op := req.Op()
	start := time.Now()

	resp := e.handle(ctx, req)

	metrics.ObserveRequest(op, outcomeLabel(resp), time.Since(start))
	e.log.Debug("handled request", "op", op, "outcome", outcomeLabel(resp))
	return resp
}

func (e *Engine) handle(ctx context.Context, req *clerk.Request) clerk.Response {
	switch {
	case req.AddProject != nil:
		return e.addProject(ctx, req.AddProject)
	case req.AddJob != nil:
		return e.addJob(ctx, req.AddJob)
	case req.GetJob != nil:
		return e.getJob(ctx, req.GetJob)
	case req.GetJobs != nil:
		return e.getJobs(ctx, req.GetJobs)
	case req.TakeJob != nil:
		return e.takeJob(ctx, req.TakeJob)
	case req.UpdateJob != nil:
		return e.updateJob(ctx, req.UpdateJob)
	case req.HandleStuckJobs:
		return e.handleStuckJobs(ctx)
	}
	return clerk.BadRequestResponse("empty request")
}

func (e *Engine) addProject(ctx context.Context, req *clerk.AddProjectRequest) clerk.Response {
	if req.HeartbeatExpirationMillis <= 0 {
		return clerk.BadRequestResponse("invalid heartbeat_expiration_millis: %d", req.HeartbeatExpirationMillis)
	}

	id, err := e.store.AddProject(ctx, req.Name, req.HeartbeatExpirationMillis, req.Data)
	if err != nil {
		return e.failure("add_project", err)
	}
	return clerk.Response{Kind: clerk.ResponseAddProject, AddProject: &clerk.AddProjectResponse{ProjectID: id}}
}

func (e *Engine) addJob(ctx context.Context, req *clerk.AddJobRequest) clerk.Response {
	id, err := e.store.AddJob(ctx, req.ProjectName, req.Data)
	if err != nil {
		return e.failure("add_job", err)
	}
	return clerk.Response{Kind: clerk.ResponseAddJob, AddJob: &clerk.AddJobResponse{JobID: id}}
}

func (e *Engine) getJob(ctx context.Context, req *clerk.GetJobRequest) clerk.Response {
	job, err := e.store.GetJob(ctx, req.ProjectName, req.JobID)
	if err != nil {
		return e.failure("get_job", err)
	}
	return clerk.Response{Kind: clerk.ResponseGetJob, GetJob: job}
}

func (e *Engine) getJobs(ctx context.Context, req *clerk.GetJobsRequest) clerk.Response {
	jobs, err := e.store.GetJobs(ctx, req.ProjectName)
	if err != nil {
		return e.failure("get_jobs", err)
	}
	return clerk.Response{Kind: clerk.ResponseGetJobs, GetJobs: jobs}
}

func (e *Engine) takeJob(ctx context.Context, req *clerk.TakeJobRequest) clerk.Response {
	token, err := newJobToken()
	if err != nil {
		return e.failure("take_job", err)
	}

	id, ok, err := e.store.TakeJob(ctx, req.ProjectName, req.Runner, token)
	if err != nil {
		return e.failure("take_job", err)
	}
	if !ok {
		// No available job; an empty lease, not an error.
		return clerk.Response{Kind: clerk.ResponseTakeJob}
	}

	e.log.Info("leased job", "project", req.ProjectName, "job_id", id, "runner", req.Runner)
	return clerk.Response{Kind: clerk.ResponseTakeJob, TakeJob: &clerk.TakeJobResponse{JobID: id, JobToken: token}}
}

func (e *Engine) updateJob(ctx context.Context, req *clerk.UpdateJobRequest) clerk.Response {
	if req.State != nil && !req.State.Terminal() && *req.State != clerk.JobStateAvailable {
		return clerk.BadRequestResponse("invalid state: %s", *req.State)
	}

	if err := e.store.UpdateJob(ctx, req.ProjectName, req.JobID, req.Token, req.State, req.Data); err != nil {
		return e.failure("update_job", err)
	}
	if req.State != nil {
		e.log.Info("job state updated", "project", req.ProjectName, "job_id", req.JobID, "state", *req.State)
	}
	return clerk.EmptyResponse()
}

func (e *Engine) handleStuckJobs(ctx context.Context) clerk.Response {
	n, err := e.store.HandleStuckJobs(ctx)
	if err != nil {
		return e.failure("handle_stuck_jobs", err)
	}
	metrics.AddJobsReaped(n)
	if n > 0 {
		e.log.Info("reclaimed stuck jobs", "count", n)
	}
	return clerk.EmptyResponse()
}

// failure is the single translation point from store errors to response
// kinds. Anything that is not a NotFound is logged server-side and
// reported as an opaque InternalError.
func (e *Engine) failure(op string, err error) clerk.Response {
	if errors.Is(err, store.ErrNotFound) {
		return clerk.NotFoundResponse()
	}
	e.log.Error("request failed", "op", op, "error", err)
	return clerk.InternalErrorResponse()
}

func outcomeLabel(resp clerk.Response) string {
	switch resp.Kind {
	case clerk.ResponseBadRequest:
		return metrics.OutcomeBadRequest
	case clerk.ResponseNotFound:
		return metrics.OutcomeNotFound
	case clerk.ResponseInternalError:
		return metrics.OutcomeInternalError
	}
	return metrics.OutcomeOK
}
