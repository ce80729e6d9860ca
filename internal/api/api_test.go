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

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"jobclerk/internal/dispatch"
	"jobclerk/internal/store"
	"jobclerk/pkg/clerk"
)

func newTestHandler(t *testing.T) http.Handler {
	t.Helper()

	st, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return New(dispatch.New(st, nil))
}

func postAPI(t *testing.T, handler http.Handler, body string) (*httptest.ResponseRecorder, clerk.Response) {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/api", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	var resp clerk.Response
	if rec.Code == http.StatusOK {
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("Failed to decode response %q: %v", rec.Body.String(), err)
		}
	}
	return rec, resp
}

func TestMethodNotAllowed(t *testing.T) {
	handler := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected 405, got %d", rec.Code)
	}
	if allow := rec.Header().Get("Allow"); allow != http.MethodPost {
		t.Errorf("Expected Allow: POST, got %q", allow)
	}
}

func TestMalformedJSONIsBadRequest(t *testing.T) {
	handler := newTestHandler(t)

	rec, resp := postAPI(t, handler, `{"AddJob": not json`)
	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200 with error body, got %d", rec.Code)
	}
	if resp.Kind != clerk.ResponseBadRequest {
		t.Errorf("Expected BadRequest, got %s", resp.Kind)
	}
}

func TestUnknownVariantIsBadRequest(t *testing.T) {
	handler := newTestHandler(t)

	rec, resp := postAPI(t, handler, `{"RemoveProject":{}}`)
	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200 with error body, got %d", rec.Code)
	}
	if resp.Kind != clerk.ResponseBadRequest {
		t.Errorf("Expected BadRequest, got %s", resp.Kind)
	}
}

func TestRequestFlow(t *testing.T) {
	handler := newTestHandler(t)

	rec, resp := postAPI(t, handler, `{"AddProject":{"name":"builds","heartbeat_expiration_millis":60000,"data":null}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if resp.Kind != clerk.ResponseAddProject {
		t.Fatalf("Expected AddProject response, got %s: %s", resp.Kind, rec.Body.String())
	}

	_, resp = postAPI(t, handler, `{"AddJob":{"project_name":"builds","data":{"rev":"abc"}}}`)
	if resp.Kind != clerk.ResponseAddJob {
		t.Fatalf("Expected AddJob response, got %s", resp.Kind)
	}
	jobID := resp.AddJob.JobID

	_, resp = postAPI(t, handler, `{"TakeJob":{"project_name":"builds","runner":"runner-1"}}`)
	if resp.Kind != clerk.ResponseTakeJob || resp.TakeJob == nil {
		t.Fatalf("Expected a lease, got %s", resp.Kind)
	}
	if resp.TakeJob.JobID != jobID {
		t.Errorf("Expected to lease job %d, got %d", jobID, resp.TakeJob.JobID)
	}

	// Semantic failures are HTTP 200 with an error body.
	rec, resp = postAPI(t, handler, `{"GetJob":{"project_name":"builds","job_id":999}}`)
	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200 for NotFound, got %d", rec.Code)
	}
	if resp.Kind != clerk.ResponseNotFound {
		t.Errorf("Expected NotFound, got %s", resp.Kind)
	}
}

func TestBareStringHandleStuckJobs(t *testing.T) {
	handler := newTestHandler(t)

	rec, resp := postAPI(t, handler, `"HandleStuckJobs"`)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if resp.Kind != clerk.ResponseEmpty {
		t.Errorf("Expected Empty response, got %s", resp.Kind)
	}
}

func TestResponseContentType(t *testing.T) {
	handler := newTestHandler(t)

	rec, _ := postAPI(t, handler, `"HandleStuckJobs"`)
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Expected application/json, got %q", ct)
	}
}
