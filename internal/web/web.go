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

// Package web serves the HTML pages: a project listing and a per-project
// job overview. When an admin password hash is configured the pages sit
// behind a session login; the API never does, since runners authenticate
// per job by lease token.
package web

import (
	"embed"
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"jobclerk/internal/store"
	"jobclerk/pkg/clerk"
	"jobclerk/pkg/crypto"
)

//go:embed templates/*.html
var templateFS embed.FS

// jobsPerSection caps each job table on the project page.
const jobsPerSection = 10

// Handler serves the web interface.
type Handler struct {
	store     *store.Store
	adminHash string
	sessions  *sessionStore
	templates *template.Template
}

// New creates the web handler. An empty adminPasswordHash disables the
// login entirely.
func New(st *store.Store, adminPasswordHash string) http.Handler {
	h := &Handler{
		store:     st,
		adminHash: adminPasswordHash,
		sessions:  newSessionStore(),
		templates: template.Must(template.ParseFS(templateFS, "templates/*.html")),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/login", h.handleLogin)
	mux.HandleFunc("/logout", h.handleLogout)
	mux.Handle("/projects/", h.requireAuth(http.HandlerFunc(h.handleProject)))
	mux.Handle("/", h.requireAuth(http.HandlerFunc(h.handleHome)))
	return mux
}

func (h *Handler) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.adminHash == "" || h.authenticated(r) {
			next.ServeHTTP(w, r)
			return
		}
		http.Redirect(w, r, "/login", http.StatusSeeOther)
	})
}

func (h *Handler) authenticated(r *http.Request) bool {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil {
		return false
	}
	return h.sessions.valid(cookie.Value)
}

type loginPage struct {
	Error string
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if h.adminHash == "" {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}

	switch r.Method {
	case http.MethodGet:
		h.render(w, "login.html", loginPage{})
	case http.MethodPost:
		if err := r.ParseForm(); err != nil {
			h.render(w, "login.html", loginPage{Error: "malformed form"})
			return
		}
		password := r.PostFormValue("password")
		if !crypto.VerifyPassword(h.adminHash, password) {
			slog.Warn("web login rejected", "remote", r.RemoteAddr)
			h.render(w, "login.html", loginPage{Error: "wrong password"})
			return
		}

		token := h.sessions.create()
		http.SetCookie(w, &http.Cookie{
			Name:     sessionCookieName,
			Value:    token,
			Path:     "/",
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
		slog.Info("web login accepted", "remote", r.RemoteAddr, "session", crypto.RedactToken(token))
		http.Redirect(w, r, "/", http.StatusSeeOther)
	default:
		w.Header().Set("Allow", "GET, POST")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(sessionCookieName); err == nil {
		h.sessions.revoke(cookie.Value)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

type projectsPage struct {
	Projects []clerk.Project
	LoginOn  bool
}

func (h *Handler) handleHome(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	projects, err := h.store.ListProjects(r.Context())
	if err != nil {
		h.renderError(w, err)
		return
	}
	h.render(w, "projects.html", projectsPage{Projects: projects, LoginOn: h.adminHash != ""})
}

// jobRow is one row of a project page table, with pre-rendered fields.
type jobRow struct {
	ID       int64
	State    string
	Runner   string
	Duration string
	Data     string
}

type projectPage struct {
	Name        string
	PendingJobs []jobRow
	RunningJobs []jobRow
	RecentJobs  []jobRow
}

func (h *Handler) handleProject(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/projects/")
	if name == "" || strings.Contains(name, "/") {
		http.NotFound(w, r)
		return
	}

	ctx := r.Context()
	if _, err := h.store.GetProject(ctx, name); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.NotFound(w, r)
			return
		}
		h.renderError(w, err)
		return
	}

	pending, err := h.store.ListJobSummaries(ctx, name, []clerk.JobState{clerk.JobStateAvailable}, jobsPerSection)
	if err != nil {
		h.renderError(w, err)
		return
	}
	running, err := h.store.ListJobSummaries(ctx, name, []clerk.JobState{clerk.JobStateRunning}, jobsPerSection)
	if err != nil {
		h.renderError(w, err)
		return
	}
	recent, err := h.store.ListJobSummaries(ctx, name, []clerk.JobState{
		clerk.JobStateCanceling, clerk.JobStateCanceled, clerk.JobStateSucceeded, clerk.JobStateFailed,
	}, jobsPerSection)
	if err != nil {
		h.renderError(w, err)
		return
	}

	now := time.Now().UTC()
	page := projectPage{Name: name}
	for _, sum := range pending {
		page.PendingJobs = append(page.PendingJobs, jobRow{ID: sum.ID, Data: string(sum.Data)})
	}
	for _, sum := range running {
		page.RunningJobs = append(page.RunningJobs, jobRow{
			ID:       sum.ID,
			Runner:   sum.Runner,
			Duration: runDuration(sum.Started, &now),
			Data:     string(sum.Data),
		})
	}
	for _, sum := range recent {
		page.RecentJobs = append(page.RecentJobs, jobRow{
			ID:       sum.ID,
			State:    string(sum.State),
			Runner:   sum.Runner,
			Duration: runDuration(sum.Started, sum.Finished),
			Data:     string(sum.Data),
		})
	}

	h.render(w, "project.html", page)
}

// runDuration renders how long a job has run, rounded to whole seconds.
func runDuration(start, end *time.Time) string {
	if start == nil || end == nil {
		return ""
	}
	d := end.Sub(*start)
	if d < 0 {
		d = 0
	}
	return d.Round(time.Second).String()
}

func (h *Handler) render(w http.ResponseWriter, name string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := h.templates.ExecuteTemplate(w, name, data); err != nil {
		slog.Error("failed to render template", "template", name, "error", err)
	}
}

func (h *Handler) renderError(w http.ResponseWriter, err error) {
	slog.Error("web request failed", "error", err)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusInternalServerError)
	if terr := h.templates.ExecuteTemplate(w, "error.html", nil); terr != nil {
		slog.Error("failed to render error template", "error", terr)
	}
}
