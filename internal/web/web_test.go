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

package web

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"

	"jobclerk/internal/store"
	"jobclerk/pkg/crypto"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()

	st, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func get(t *testing.T, handler http.Handler, path string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, path, nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHomeListsProjects(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	if _, err := st.AddProject(ctx, "builds", 60000, nil); err != nil {
		t.Fatalf("Failed to add project: %v", err)
	}
	if _, err := st.AddProject(ctx, "deploys", 30000, nil); err != nil {
		t.Fatalf("Failed to add project: %v", err)
	}

	handler := New(st, "")
	rec := get(t, handler, "/")

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	for _, name := range []string{"builds", "deploys"} {
		if !strings.Contains(body, name) {
			t.Errorf("Expected project %q on the page", name)
		}
	}
}

func TestProjectPageShowsJobs(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	if _, err := st.AddProject(ctx, "builds", 60000, nil); err != nil {
		t.Fatalf("Failed to add project: %v", err)
	}
	if _, err := st.AddJob(ctx, "builds", nil); err != nil {
		t.Fatalf("Failed to add job: %v", err)
	}
	if _, err := st.AddJob(ctx, "builds", nil); err != nil {
		t.Fatalf("Failed to add job: %v", err)
	}
	if _, _, err := st.TakeJob(ctx, "builds", "runner-7", "token-0000000000"); err != nil {
		t.Fatalf("Failed to take job: %v", err)
	}

	handler := New(st, "")
	rec := get(t, handler, "/projects/builds")

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "runner-7") {
		t.Error("Expected the runner name on the page")
	}
	// The lease token never reaches the page.
	if strings.Contains(body, "token-0000000000") {
		t.Error("Lease token leaked into the page")
	}
}

func TestProjectPageNotFound(t *testing.T) {
	handler := New(newTestStore(t), "")

	rec := get(t, handler, "/projects/missing")
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", rec.Code)
	}
}

func TestUnknownPathIsNotFound(t *testing.T) {
	handler := New(newTestStore(t), "")

	rec := get(t, handler, "/nonsense")
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", rec.Code)
	}
}

func TestLoginFlow(t *testing.T) {
	st := newTestStore(t)
	hash, err := crypto.HashPassword("letmein")
	if err != nil {
		t.Fatalf("Failed to hash password: %v", err)
	}
	handler := New(st, hash)

	// Without a session the home page redirects to the login form.
	rec := get(t, handler, "/")
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("Expected redirect, got %d", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != "/login" {
		t.Errorf("Expected redirect to /login, got %q", loc)
	}

	// Wrong password re-renders the form without a cookie.
	rec = postForm(t, handler, "/login", url.Values{"password": {"wrong"}})
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if len(rec.Result().Cookies()) != 0 {
		t.Error("Expected no session cookie for wrong password")
	}

	// Correct password sets a session cookie and redirects home.
	rec = postForm(t, handler, "/login", url.Values{"password": {"letmein"}})
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("Expected redirect after login, got %d", rec.Code)
	}
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != sessionCookieName {
		t.Fatalf("Expected a session cookie, got %v", cookies)
	}

	// The session unlocks the pages.
	rec = get(t, handler, "/", cookies[0])
	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200 with session, got %d", rec.Code)
	}

	// Logout revokes it.
	req := httptest.NewRequest(http.MethodGet, "/logout", nil)
	req.AddCookie(cookies[0])
	logoutRec := httptest.NewRecorder()
	handler.ServeHTTP(logoutRec, req)

	rec = get(t, handler, "/", cookies[0])
	if rec.Code != http.StatusSeeOther {
		t.Errorf("Expected redirect after logout, got %d", rec.Code)
	}
}

func TestLoginDisabledWithoutHash(t *testing.T) {
	handler := New(newTestStore(t), "")

	rec := get(t, handler, "/login")
	if rec.Code != http.StatusSeeOther {
		t.Errorf("Expected redirect away from login, got %d", rec.Code)
	}
}

func postForm(t *testing.T, handler http.Handler, path string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}
