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

// Command jobclerk is a small command-line client for a jobclerk server.
// It sends one API request per invocation and prints the tagged response
// as JSON. Exit status: 0 on success, 1 on an error response or transport
// failure, 2 on usage errors.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"jobclerk/pkg/clerk"
	"jobclerk/pkg/crypto"
)

const serverEnvVar = "JOBCLERK_SERVER"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) < 1 {
		usage()
		return 2
	}

	cmd, rest := args[0], args[1:]

	if cmd == "hash-password" {
		return hashPassword(rest)
	}

	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	server := fs.String("server", defaultServer(), "Base URL of the jobclerk server")

	req, err := buildRequest(cmd, fs, rest)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		usage()
		return 2
	}
	if req == nil {
		// Flag parsing already printed the problem.
		return 2
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	resp, err := clerk.NewClient(*server).Do(ctx, *req)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}

	out, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	fmt.Println(string(out))

	if resp.IsError() {
		return 1
	}
	return 0
}

// buildRequest parses cmd's flags from rest and assembles the API request.
// A nil request with a nil error means flag parsing failed and was already
// reported.
func buildRequest(cmd string, fs *flag.FlagSet, rest []string) (*clerk.Request, error) {
	switch cmd {
	case "add-project":
		name := fs.String("name", "", "Project name")
		expiration := fs.Int64("heartbeat-expiration", 60000, "Heartbeat expiration in milliseconds")
		data := fs.String("data", "null", "Project data as JSON")
		if err := fs.Parse(rest); err != nil {
			return nil, nil
		}
		if *name == "" {
			return nil, fmt.Errorf("add-project requires -name")
		}
		payload, err := parseJSON(*data)
		if err != nil {
			return nil, err
		}
		return &clerk.Request{AddProject: &clerk.AddProjectRequest{
			Name:                      *name,
			HeartbeatExpirationMillis: *expiration,
			Data:                      payload,
		}}, nil

	case "add-job":
		project := fs.String("project", "", "Project name")
		data := fs.String("data", "null", "Job data as JSON")
		if err := fs.Parse(rest); err != nil {
			return nil, nil
		}
		if *project == "" {
			return nil, fmt.Errorf("add-job requires -project")
		}
		payload, err := parseJSON(*data)
		if err != nil {
			return nil, err
		}
		return &clerk.Request{AddJob: &clerk.AddJobRequest{ProjectName: *project, Data: payload}}, nil

	case "get-job":
		project := fs.String("project", "", "Project name")
		jobID := fs.Int64("job", 0, "Job ID")
		if err := fs.Parse(rest); err != nil {
			return nil, nil
		}
		if *project == "" || *jobID == 0 {
			return nil, fmt.Errorf("get-job requires -project and -job")
		}
		return &clerk.Request{GetJob: &clerk.GetJobRequest{ProjectName: *project, JobID: *jobID}}, nil

	case "get-jobs":
		project := fs.String("project", "", "Project name")
		if err := fs.Parse(rest); err != nil {
			return nil, nil
		}
		if *project == "" {
			return nil, fmt.Errorf("get-jobs requires -project")
		}
		return &clerk.Request{GetJobs: &clerk.GetJobsRequest{ProjectName: *project}}, nil

	case "take-job":
		project := fs.String("project", "", "Project name")
		runner := fs.String("runner", "", "Runner identity (defaults to host-derived)")
		if err := fs.Parse(rest); err != nil {
			return nil, nil
		}
		if *project == "" {
			return nil, fmt.Errorf("take-job requires -project")
		}
		if *runner == "" {
			*runner = defaultRunner()
		}
		return &clerk.Request{TakeJob: &clerk.TakeJobRequest{ProjectName: *project, Runner: *runner}}, nil

	case "update-job":
		project := fs.String("project", "", "Project name")
		jobID := fs.Int64("job", 0, "Job ID")
		token := fs.String("token", "", "Lease token from take-job")
		state := fs.String("state", "", "New state (available, succeeded, failed, canceled); empty means heartbeat")
		data := fs.String("data", "", "Replacement job data as JSON; empty leaves data unchanged")
		if err := fs.Parse(rest); err != nil {
			return nil, nil
		}
		if *project == "" || *jobID == 0 || *token == "" {
			return nil, fmt.Errorf("update-job requires -project, -job, and -token")
		}
		req := &clerk.UpdateJobRequest{ProjectName: *project, JobID: *jobID, Token: *token}
		if *state != "" {
			js := clerk.JobState(*state)
			if !js.Valid() {
				return nil, fmt.Errorf("invalid state: %s", *state)
			}
			req.State = &js
		}
		if *data != "" {
			payload, err := parseJSON(*data)
			if err != nil {
				return nil, err
			}
			req.Data = payload
		}
		return &clerk.Request{UpdateJob: req}, nil

	case "handle-stuck-jobs":
		if err := fs.Parse(rest); err != nil {
			return nil, nil
		}
		return &clerk.Request{HandleStuckJobs: true}, nil
	}

	return nil, fmt.Errorf("unknown command: %s", cmd)
}

// hashPassword prints a bcrypt hash suitable for JOBCLERK_ADMIN_PASSWORD_HASH.
func hashPassword(args []string) int {
	fs := flag.NewFlagSet("hash-password", flag.ContinueOnError)
	password := fs.String("password", "", "Password to hash")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *password == "" {
		fmt.Fprintln(os.Stderr, "error: hash-password requires -password")
		return 2
	}

	hash, err := crypto.HashPassword(*password)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	fmt.Println(hash)
	return 0
}

func parseJSON(s string) (json.RawMessage, error) {
	if !json.Valid([]byte(s)) {
		return nil, fmt.Errorf("invalid JSON: %s", s)
	}
	return json.RawMessage(s), nil
}

func defaultServer() string {
	if val := os.Getenv(serverEnvVar); val != "" {
		return val
	}
	return "http://localhost:8080"
}

// defaultRunner builds a runner identity from the hostname plus a random
// suffix so concurrent runners on one machine stay distinguishable.
func defaultRunner() string {
	host, err := os.Hostname()
	if err != nil {
		host = "runner"
	}
	return fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: jobclerk <command> [flags]

Commands:
  add-project       -name NAME [-heartbeat-expiration MILLIS] [-data JSON]
  add-job           -project NAME [-data JSON]
  get-job           -project NAME -job ID
  get-jobs          -project NAME
  take-job          -project NAME [-runner NAME]
  update-job        -project NAME -job ID -token TOKEN [-state STATE] [-data JSON]
  handle-stuck-jobs
  hash-password     -password PASSWORD

All commands accept -server URL (default http://localhost:8080, or
JOBCLERK_SERVER).`)
}
