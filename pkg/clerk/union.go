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
	"encoding/json"
	"fmt"
)

// Request is the externally tagged union of API requests. The wire shape is
// an object with exactly one key naming the variant, e.g.
// {"TakeJob": {"project_name": "p", "runner": "r"}}, except for the nullary
// HandleStuckJobs variant which is the bare string "HandleStuckJobs".
//
// Exactly one variant must be set; Marshal and Unmarshal enforce this.
type Request struct {
	AddProject      *AddProjectRequest
	AddJob          *AddJobRequest
	GetJob          *GetJobRequest
	GetJobs         *GetJobsRequest
	TakeJob         *TakeJobRequest
	UpdateJob       *UpdateJobRequest
	HandleStuckJobs bool
}

// Op names the variant carried by the request, for logging and metrics.
func (r *Request) Op() string {
	switch {
	case r.AddProject != nil:
		return "add_project"
	case r.AddJob != nil:
		return "add_job"
	case r.GetJob != nil:
		return "get_job"
	case r.GetJobs != nil:
		return "get_jobs"
	case r.TakeJob != nil:
		return "take_job"
	case r.UpdateJob != nil:
		return "update_job"
	case r.HandleStuckJobs:
		return "handle_stuck_jobs"
	}
	return "unknown"
}

func (r Request) variantCount() int {
	n := 0
	for _, set := range []bool{
		r.AddProject != nil,
		r.AddJob != nil,
		r.GetJob != nil,
		r.GetJobs != nil,
		r.TakeJob != nil,
		r.UpdateJob != nil,
		r.HandleStuckJobs,
	} {
		if set {
			n++
		}
	}
	return n
}

// MarshalJSON renders the single set variant in its tagged wire shape.
func (r Request) MarshalJSON() ([]byte, error) {
	if n := r.variantCount(); n != 1 {
		return nil, fmt.Errorf("request must have exactly one variant set, got %d", n)
	}
	switch {
	case r.AddProject != nil:
		return json.Marshal(map[string]*AddProjectRequest{"AddProject": r.AddProject})
	case r.AddJob != nil:
		return json.Marshal(map[string]*AddJobRequest{"AddJob": r.AddJob})
	case r.GetJob != nil:
		return json.Marshal(map[string]*GetJobRequest{"GetJob": r.GetJob})
	case r.GetJobs != nil:
		return json.Marshal(map[string]*GetJobsRequest{"GetJobs": r.GetJobs})
	case r.TakeJob != nil:
		return json.Marshal(map[string]*TakeJobRequest{"TakeJob": r.TakeJob})
	case r.UpdateJob != nil:
		return json.Marshal(map[string]*UpdateJobRequest{"UpdateJob": r.UpdateJob})
	default:
		return json.Marshal("HandleStuckJobs")
	}
}

// UnmarshalJSON decodes either the bare "HandleStuckJobs" string or a
// single-key object naming one of the payload variants.
func (r *Request) UnmarshalJSON(data []byte) error {
	*r = Request{}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s != "HandleStuckJobs" {
			return fmt.Errorf("unknown request kind: %q", s)
		}
		r.HandleStuckJobs = true
		return nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	if len(fields) != 1 {
		return fmt.Errorf("request must have exactly one variant, got %d", len(fields))
	}
	for kind, payload := range fields {
		switch kind {
		case "AddProject":
			r.AddProject = &AddProjectRequest{}
			return json.Unmarshal(payload, r.AddProject)
		case "AddJob":
			r.AddJob = &AddJobRequest{}
			return json.Unmarshal(payload, r.AddJob)
		case "GetJob":
			r.GetJob = &GetJobRequest{}
			return json.Unmarshal(payload, r.GetJob)
		case "GetJobs":
			r.GetJobs = &GetJobsRequest{}
			return json.Unmarshal(payload, r.GetJobs)
		case "TakeJob":
			r.TakeJob = &TakeJobRequest{}
			return json.Unmarshal(payload, r.TakeJob)
		case "UpdateJob":
			r.UpdateJob = &UpdateJobRequest{}
			return json.Unmarshal(payload, r.UpdateJob)
		default:
			return fmt.Errorf("unknown request kind: %q", kind)
		}
	}
	return nil
}

// ResponseKind discriminates the variants of Response.
type ResponseKind string

const (
	ResponseAddProject    ResponseKind = "AddProject"
	ResponseAddJob        ResponseKind = "AddJob"
	ResponseGetJob        ResponseKind = "GetJob"
	ResponseGetJobs       ResponseKind = "GetJobs"
	ResponseTakeJob       ResponseKind = "TakeJob"
	ResponseEmpty         ResponseKind = "Empty"
	ResponseBadRequest    ResponseKind = "BadRequest"
	ResponseNotFound      ResponseKind = "NotFound"
	ResponseInternalError ResponseKind = "InternalError"
)

// Response is the tagged union of API responses. Success variants carry a
// payload under the kind key; Empty, NotFound, and InternalError are bare
// strings; BadRequest carries its message.
//
// A TakeJob response with a nil payload means no job was available; it is
// serialized as {"TakeJob": null} and is not an error.
type Response struct {
	Kind ResponseKind

	AddProject *AddProjectResponse
	AddJob     *AddJobResponse
	GetJob     *Job
	GetJobs    []Job
	TakeJob    *TakeJobResponse
	BadRequest string
}

// EmptyResponse acknowledges an operation with no payload.
func EmptyResponse() Response {
	return Response{Kind: ResponseEmpty}
}

// NotFoundResponse reports that the referenced entity does not exist or
// that the caller does not hold the lease. The two are indistinguishable
// on purpose.
func NotFoundResponse() Response {
	return Response{Kind: ResponseNotFound}
}

// InternalErrorResponse reports a server-side failure without detail.
func InternalErrorResponse() Response {
	return Response{Kind: ResponseInternalError}
}

// BadRequestResponse reports a precondition violation with a message that
// is returned to the caller verbatim.
func BadRequestResponse(format string, args ...any) Response {
	return Response{Kind: ResponseBadRequest, BadRequest: fmt.Sprintf(format, args...)}
}

// IsError reports whether the response is one of the three failure kinds.
func (r Response) IsError() bool {
	switch r.Kind {
	case ResponseBadRequest, ResponseNotFound, ResponseInternalError:
		return true
	}
	return false
}

// MarshalJSON renders the response in its tagged wire shape.
func (r Response) MarshalJSON() ([]byte, error) {
	switch r.Kind {
	case ResponseAddProject:
		return json.Marshal(map[string]*AddProjectResponse{"AddProject": r.AddProject})
	case ResponseAddJob:
		return json.Marshal(map[string]*AddJobResponse{"AddJob": r.AddJob})
	case ResponseGetJob:
		return json.Marshal(map[string]*Job{"GetJob": r.GetJob})
	case ResponseGetJobs:
		jobs := r.GetJobs
		if jobs == nil {
			jobs = []Job{}
		}
		return json.Marshal(map[string][]Job{"GetJobs": jobs})
	case ResponseTakeJob:
		return json.Marshal(map[string]*TakeJobResponse{"TakeJob": r.TakeJob})
	case ResponseEmpty, ResponseNotFound, ResponseInternalError:
		return json.Marshal(string(r.Kind))
	case ResponseBadRequest:
		return json.Marshal(map[string]string{"BadRequest": r.BadRequest})
	default:
		return nil, fmt.Errorf("unknown response kind: %q", r.Kind)
	}
}

// UnmarshalJSON decodes either a bare kind string or a single-key tagged
// object.
func (r *Response) UnmarshalJSON(data []byte) error {
	*r = Response{}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		switch ResponseKind(s) {
		case ResponseEmpty, ResponseNotFound, ResponseInternalError:
			r.Kind = ResponseKind(s)
			return nil
		}
		return fmt.Errorf("unknown response kind: %q", s)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	if len(fields) != 1 {
		return fmt.Errorf("response must have exactly one variant, got %d", len(fields))
	}
	for kind, payload := range fields {
		r.Kind = ResponseKind(kind)
		switch r.Kind {
		case ResponseAddProject:
			r.AddProject = &AddProjectResponse{}
			return json.Unmarshal(payload, r.AddProject)
		case ResponseAddJob:
			r.AddJob = &AddJobResponse{}
			return json.Unmarshal(payload, r.AddJob)
		case ResponseGetJob:
			r.GetJob = &Job{}
			return json.Unmarshal(payload, r.GetJob)
		case ResponseGetJobs:
			r.GetJobs = []Job{}
			return json.Unmarshal(payload, &r.GetJobs)
		case ResponseTakeJob:
			if bytes.Equal(bytes.TrimSpace(payload), []byte("null")) {
				return nil
			}
			r.TakeJob = &TakeJobResponse{}
			return json.Unmarshal(payload, r.TakeJob)
		case ResponseBadRequest:
			return json.Unmarshal(payload, &r.BadRequest)
		default:
			return fmt.Errorf("unknown response kind: %q", kind)
		}
	}
	return nil
}
