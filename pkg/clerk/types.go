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

// Package clerk defines the wire contract shared by the server, the CLI
// client, and external runners: the request/response tagged unions, the job
// model, and an HTTP client for the /api endpoint.
package clerk

import (
	"encoding/json"
	"fmt"
	"time"
)

// JobState is the lifecycle state of a job, serialized as a snake_case
// string on the wire and in the database.
type JobState string

const (
	JobStateAvailable JobState = "available"
	JobStateRunning   JobState = "running"
	JobStateCanceling JobState = "canceling"
	JobStateCanceled  JobState = "canceled"
	JobStateSucceeded JobState = "succeeded"
	JobStateFailed    JobState = "failed"
)

// Valid reports whether s is one of the six known states. The canceling
// state is accepted for forward-compatibility even though the clerk never
// produces it.
func (s JobState) Valid() bool {
	switch s {
	case JobStateAvailable, JobStateRunning, JobStateCanceling,
		JobStateCanceled, JobStateSucceeded, JobStateFailed:
		return true
	}
	return false
}

// Terminal reports whether s is absorbing: no further mutation is permitted
// once a job reaches it.
func (s JobState) Terminal() bool {
	switch s {
	case JobStateCanceled, JobStateSucceeded, JobStateFailed:
		return true
	}
	return false
}

func (s JobState) String() string {
	return string(s)
}

// UnmarshalJSON validates the state string so that unknown states are
// rejected at the wire boundary.
func (s *JobState) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	state := JobState(raw)
	if !state.Valid() {
		return fmt.Errorf("unknown job state: %q", raw)
	}
	*s = state
	return nil
}

// Project is a namespace of jobs sharing one heartbeat expiration policy.
type Project struct {
	ID                        int64           `json:"id"`
	Name                      string          `json:"name"`
	HeartbeatExpirationMillis int64           `json:"heartbeat_expiration_millis"`
	Data                      json.RawMessage `json:"data"`
}

// Job is the job model exposed by GetJob and GetJobs. The lease columns
// (runner, heartbeat, token) are deliberately absent: the token is a secret
// and the rest is lease bookkeeping that callers have no business reading.
type Job struct {
	ID          int64           `json:"id"`
	ProjectName string          `json:"project_name"`
	ProjectID   int64           `json:"project_id"`
	State       JobState        `json:"state"`
	Created     time.Time       `json:"created"`
	Started     *time.Time      `json:"started"`
	Finished    *time.Time      `json:"finished"`
	Priority    int64           `json:"priority"`
	Data        json.RawMessage `json:"data"`
}

// AddProjectRequest creates a project.
type AddProjectRequest struct {
	Name                      string          `json:"name"`
	HeartbeatExpirationMillis int64           `json:"heartbeat_expiration_millis"`
	Data                      json.RawMessage `json:"data"`
}

// AddProjectResponse carries the id of the created project.
type AddProjectResponse struct {
	ProjectID int64 `json:"project_id"`
}

// AddJobRequest creates a job in the available state.
type AddJobRequest struct {
	ProjectName string          `json:"project_name"`
	Data        json.RawMessage `json:"data"`
}

// AddJobResponse carries the id of the created job.
type AddJobResponse struct {
	JobID int64 `json:"job_id"`
}

// GetJobRequest fetches a single job by project and id.
type GetJobRequest struct {
	ProjectName string `json:"project_name"`
	JobID       int64  `json:"job_id"`
}

// GetJobsRequest fetches every job in a project.
type GetJobsRequest struct {
	ProjectName string `json:"project_name"`
}

// TakeJobRequest asks for a lease on the next available job. Runner is an
// opaque identifier for the caller.
type TakeJobRequest struct {
	ProjectName string `json:"project_name"`
	Runner      string `json:"runner"`
}

// TakeJobResponse is the lease handed to a runner. The token is the sole
// credential for subsequent updates and must be treated as a secret.
type TakeJobResponse struct {
	JobID    int64  `json:"job_id"`
	JobToken string `json:"job_token"`
}

// UpdateJobRequest mutates a running job. A nil State is a heartbeat; a nil
// Data leaves the payload unchanged.
type UpdateJobRequest struct {
	ProjectName string          `json:"project_name"`
	JobID       int64           `json:"job_id"`
	Token       string          `json:"token"`
	State       *JobState       `json:"state"`
	Data        json.RawMessage `json:"data"`
}
