// Package server exposes the operator surface: a small status UI, article
// previews, and a JSON API for inspection and manual triggers.
package server

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"io/fs"
	"log"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/yuin/goldmark"

	"github.com/ckoehler/trendpress/internal/database"
	"github.com/ckoehler/trendpress/internal/jobs"
	"github.com/ckoehler/trendpress/internal/quota"
	"github.com/ckoehler/trendpress/internal/scheduler"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static/*
var staticFS embed.FS

var md = goldmark.New()

var datePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// Server is the HTTP server for the operator surface.
type Server struct {
	db       *database.DB
	sched    *scheduler.Scheduler
	executor *jobs.Executor
	arbiter  *quota.Arbiter
	pages    map[string]*template.Template
	mux      *http.ServeMux
}

// New creates a new Server. sched may be nil when the process runs the
// server without the cadence loop; the manual trigger endpoints then
// report that no scheduler is attached.
func New(db *database.DB, sched *scheduler.Scheduler, executor *jobs.Executor, arbiter *quota.Arbiter) (*Server, error) {
	funcMap := template.FuncMap{
		"markdown":   renderMarkdown,
		"formatDate": database.FormatDateDisplay,
		"deref": func(s *string) string {
			if s == nil {
				return ""
			}
			return *s
		},
	}

	// Parse base template first
	base, err := template.New("base.html").Funcs(funcMap).ParseFS(templateFS, "templates/base.html")
	if err != nil {
		return nil, fmt.Errorf("parsing base template: %w", err)
	}

	// For each page template, clone the base and parse the page into the
	// clone so each page gets its own {{define "content"}} and title.
	pageNames := []string{"index.html", "article.html"}
	pages := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		clone, err := base.Clone()
		if err != nil {
			return nil, fmt.Errorf("cloning base for %s: %w", name, err)
		}
		_, err = clone.ParseFS(templateFS, "templates/"+name)
		if err != nil {
			return nil, fmt.Errorf("parsing template %s: %w", name, err)
		}
		pages[name] = clone
	}

	s := &Server{db: db, sched: sched, executor: executor, arbiter: arbiter, pages: pages, mux: http.NewServeMux()}
	s.routes()
	return s, nil
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	// Static files
	staticSub, _ := fs.Sub(staticFS, "static")
	s.mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.FS(staticSub))))

	// Pages
	s.mux.HandleFunc("/", s.handleIndex)
	s.mux.HandleFunc("/article/", s.handleArticle)

	// JSON API
	s.mux.HandleFunc("/api/status", s.handleStatus)
	s.mux.HandleFunc("/api/quota", s.handleQuota)
	s.mux.HandleFunc("/api/plan/", s.handlePlan)
	s.mux.HandleFunc("/api/update", s.handleUpdate)
	s.mux.HandleFunc("/api/generate/", s.handleGenerate)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	date := database.Today()
	plan, err := s.db.GetPlan(date)
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	var usage quota.State
	if s.arbiter != nil {
		usage, _ = s.arbiter.Usage()
	}

	s.render(w, "index.html", map[string]any{
		"Date":  date,
		"Plan":  plan,
		"Quota": usage,
	})
}

func (s *Server) handleArticle(w http.ResponseWriter, r *http.Request) {
	idStr := strings.TrimPrefix(r.URL.Path, "/article/")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	article, err := s.db.GetArticle(id)
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if article == nil {
		http.NotFound(w, r)
		return
	}

	s.render(w, "article.html", map[string]any{
		"Article": article,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	date := database.Today()
	planJobs, err := s.db.JobsForDate(date)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	counts := map[string]int{}
	for _, j := range planJobs {
		counts[j.Status]++
	}

	resp := map[string]any{
		"date": date,
		"plan": map[string]any{
			"total":      len(planJobs),
			"pending":    counts[database.JobPending],
			"generating": counts[database.JobGenerating],
			"completed":  counts[database.JobCompleted],
			"failed":     counts[database.JobFailed],
		},
	}
	if s.sched != nil {
		resp["scheduler"] = map[string]any{
			"running":             s.sched.Running(),
			"last_cycle":          formatLastCycle(s.sched.LastCycle()),
			"next_update_seconds": int(s.sched.TimeUntilNextUpdate().Seconds()),
		}
	}
	if stats, err := s.db.GetStats(); err == nil {
		resp["store"] = stats
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleQuota(w http.ResponseWriter, r *http.Request) {
	if s.arbiter == nil {
		s.writeError(w, http.StatusServiceUnavailable, fmt.Errorf("no quota arbiter attached"))
		return
	}
	usage, err := s.arbiter.Usage()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"daily_count":     usage.DailyCount,
		"daily_limit":     usage.DailyLimit,
		"daily_remaining": usage.DailyRemaining(),
		"monthly_count":   usage.MonthlyCount,
		"monthly_limit":   usage.MonthlyLimit,
		"exhausted":       usage.Exhausted(),
	})
}

func (s *Server) handlePlan(w http.ResponseWriter, r *http.Request) {
	date := strings.TrimPrefix(r.URL.Path, "/api/plan/")
	if date == "" || date == "today" {
		date = database.Today()
	}
	if !datePattern.MatchString(date) {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid plan date %q (want YYYY-MM-DD)", date))
		return
	}

	plan, err := s.db.GetPlan(date)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if plan == nil {
		s.writeError(w, http.StatusNotFound, fmt.Errorf("no plan for %s", date))
		return
	}
	s.writeJSON(w, http.StatusOK, planJSON(plan))
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("POST required"))
		return
	}
	if s.sched == nil {
		s.writeError(w, http.StatusServiceUnavailable, fmt.Errorf("no scheduler attached"))
		return
	}

	result := s.sched.ForceUpdate(r.Context())
	steps := make([]map[string]any, 0, len(result.Steps))
	for _, step := range result.Steps {
		entry := map[string]any{"name": step.Name, "summary": step.Summary}
		if step.Err != nil {
			entry["error"] = step.Err.Error()
		}
		steps = append(steps, entry)
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"date":  result.Date,
		"steps": steps,
	})
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("POST required"))
		return
	}

	posStr := strings.TrimPrefix(r.URL.Path, "/api/generate/")
	position, err := strconv.Atoi(posStr)
	if err != nil || position < 1 {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid position %q", posStr))
		return
	}

	date := database.Today()
	if err := s.executor.ForceGenerate(r.Context(), date, position); err != nil {
		s.writeError(w, http.StatusConflict, err)
		return
	}

	job, err := s.db.GetJob(date, position)
	if err != nil || job == nil {
		s.writeError(w, http.StatusInternalServerError, fmt.Errorf("job vanished after generation"))
		return
	}
	s.writeJSON(w, http.StatusOK, jobJSON(*job))
}

func planJSON(p *database.DailyPlan) map[string]any {
	jobList := make([]map[string]any, 0, len(p.Jobs))
	for _, j := range p.Jobs {
		jobList = append(jobList, jobJSON(j))
	}
	return map[string]any{
		"date":       p.Date,
		"updated_at": p.UpdatedAt,
		"jobs":       jobList,
	}
}

func jobJSON(j database.Job) map[string]any {
	entry := map[string]any{
		"position":     j.Position,
		"trend_id":     j.TrendID,
		"status":       j.Status,
		"scheduled_at": j.ScheduledAt,
	}
	if j.StartedAt != nil {
		entry["started_at"] = *j.StartedAt
	}
	if j.CompletedAt != nil {
		entry["completed_at"] = *j.CompletedAt
	}
	if j.ArticleID != nil {
		entry["article_id"] = *j.ArticleID
	}
	if j.Error != nil {
		entry["error"] = *j.Error
	}
	return entry
}

func formatLastCycle(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return database.FormatTime(t)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error encoding JSON response: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) render(w http.ResponseWriter, name string, data any) {
	tmpl, ok := s.pages[name]
	if !ok {
		log.Printf("Template %s not found", name)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := tmpl.ExecuteTemplate(w, "base.html", data); err != nil {
		log.Printf("Error rendering template %s: %v", name, err)
	}
}

func renderMarkdown(text string) template.HTML {
	var buf bytes.Buffer
	if err := md.Convert([]byte(text), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(text))
	}
	return template.HTML(buf.String()) //nolint: gosec
}

// Serve starts the HTTP server on the given port.
func Serve(db *database.DB, sched *scheduler.Scheduler, executor *jobs.Executor, arbiter *quota.Arbiter, port int) error {
	srv, err := New(db, sched, executor, arbiter)
	if err != nil {
		return err
	}

	addr := fmt.Sprintf("127.0.0.1:%d", port)
	log.Printf("Server listening on http://%s", addr)
	return http.ListenAndServe(addr, srv.Handler())
}
