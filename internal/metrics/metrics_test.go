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

package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func scrape(t *testing.T) string {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200 from metrics handler, got %d", rec.Code)
	}
	return rec.Body.String()
}

func TestObserveRequest(t *testing.T) {
	Reset()

	ObserveRequest("take_job", OutcomeOK, 5*time.Millisecond)
	ObserveRequest("take_job", OutcomeOK, 2*time.Millisecond)
	ObserveRequest("update_job", OutcomeNotFound, time.Millisecond)

	body := scrape(t)
	if !strings.Contains(body, `jobclerk_dispatch_requests_total{op="take_job",outcome="ok"} 2`) {
		t.Errorf("Missing take_job counter in:\n%s", body)
	}
	if !strings.Contains(body, `jobclerk_dispatch_requests_total{op="update_job",outcome="not_found"} 1`) {
		t.Errorf("Missing update_job counter in:\n%s", body)
	}
	if !strings.Contains(body, "jobclerk_dispatch_request_duration_seconds") {
		t.Error("Missing duration histogram")
	}
}

func TestAddJobsReaped(t *testing.T) {
	Reset()

	AddJobsReaped(3)
	AddJobsReaped(0)
	AddJobsReaped(-1)

	body := scrape(t)
	if !strings.Contains(body, "jobclerk_reaper_jobs_reaped_total 3") {
		t.Errorf("Expected reaped counter of 3 in:\n%s", body)
	}
}

func TestReset(t *testing.T) {
	ObserveRequest("take_job", OutcomeOK, time.Millisecond)
	Reset()

	body := scrape(t)
	if strings.Contains(body, `op="take_job"`) {
		t.Error("Expected counters cleared after Reset")
	}
}
