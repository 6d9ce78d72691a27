package web

import (
	"net/http"
	"sort"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/csvjson/internal/core"
	"github.com/JonMunkholm/csvjson/internal/web/templates"
)

// maxHistoryLimit caps the limit query parameter of history listings.
const maxHistoryLimit = 1000

// dashboardRecent is the number of history entries on the dashboard.
const dashboardRecent = 20

// parseIntParam parses an integer query parameter with a default value.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	val := r.URL.Query().Get(name)
	if val == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(val)
	if err != nil || i < 1 {
		return defaultVal
	}
	return i
}

// activeJobs returns running jobs, oldest first.
func (s *Server) activeJobs() []core.Job {
	jobs := s.service.ActiveJobs()
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].StartedAt.Before(jobs[j].StartedAt) })
	return jobs
}

// handleDashboard renders the main dashboard page.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	// History is best effort here; the page still renders without it.
	recent, err := s.service.History().List(ctx, dashboardRecent)
	if err != nil {
		recent = nil
	}

	data := templates.DashboardData{
		Limiter: s.service.LimiterStatus(),
		Active:  s.activeJobs(),
		Recent:  recent,
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := templates.Dashboard(data).Render(ctx, w); err != nil {
		s.respondError(w, r, err, http.StatusInternalServerError)
	}
}

// handleHealth reports liveness and the number of running conversions.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"status":      "ok",
		"active_jobs": s.service.LimiterStatus().Active,
	})
}

// handleLimiterStatus returns the current state of the conversion limiter.
// Used for monitoring and to check if the system can accept more work.
func (s *Server) handleLimiterStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.service.LimiterStatus())
}

// handleActiveJobs lists jobs that have not finished.
func (s *Server) handleActiveJobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.activeJobs())
}

// handleJob returns a job, running or from history.
func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.service.Job(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	writeJSON(w, job)
}

// handleHistory lists recorded jobs, newest first.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := min(parseIntParam(r, "limit", core.DefaultHistoryLimit), maxHistoryLimit)

	jobs, err := s.service.History().List(r.Context(), limit)
	if err != nil {
		s.respondError(w, r, err, http.StatusInternalServerError)
		return
	}
	if jobs == nil {
		jobs = []core.Job{}
	}
	writeJSON(w, jobs)
}

// handleHistoryEntry returns one recorded job.
func (s *Server) handleHistoryEntry(w http.ResponseWriter, r *http.Request) {
	job, err := s.service.History().Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	writeJSON(w, job)
}
