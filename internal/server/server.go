// Package server is a read-only local web UI over the pipeline store:
// a report index with status badges and a detail page rendering the
// narrative, score matrix, and gathered evidence.
package server

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/yuin/goldmark"

	"github.com/iqsf/safetyindex/internal/store"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static/*
var staticFS embed.FS

var md = goldmark.New()

// Server is the HTTP server for reviewing reports.
type Server struct {
	store store.Store
	pages map[string]*template.Template
	mux   *http.ServeMux
}

// New creates a new Server.
func New(st store.Store) (*Server, error) {
	funcMap := template.FuncMap{
		"markdown":    renderMarkdown,
		"statusClass": statusClass,
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

	// For each page template, clone the base and parse the page into the clone.
	// This gives each page its own {{define "content"}} and {{define "title"}}.
	pageNames := []string{"index.html", "report.html"}
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

	s := &Server{store: st, pages: pages, mux: http.NewServeMux()}
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

	// Routes
	s.mux.HandleFunc("/", s.handleIndex)
	s.mux.HandleFunc("/report/", s.handleReport)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	reports, err := s.store.ListReports(r.Context())
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	stats, err := s.store.GetStats(r.Context())
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	s.render(w, "index.html", map[string]any{
		"Reports": reports,
		"Stats":   stats,
	})
}

// questionView pairs a question with its evidence, if any.
type questionView struct {
	Question store.Question
	Evidence *store.EvidenceItem
}

// questionCounts summarizes a report's question statuses.
type questionCounts struct {
	Total          int
	Pending        int
	Complete       int
	ResearchFailed int
	SaveFailed     int
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	idText := strings.TrimPrefix(r.URL.Path, "/report/")
	id, err := strconv.ParseInt(idText, 10, 64)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	report, err := s.store.GetReport(r.Context(), id)
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if report == nil {
		http.NotFound(w, r)
		return
	}

	questions, err := s.store.GetQuestions(r.Context(), id)
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	evidence, err := s.store.GetEvidence(r.Context(), id)
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	score, _ := s.store.GetScore(r.Context(), id)
	narrative, _ := s.store.GetNarrative(r.Context(), id)

	byQuestion := make(map[int64]*store.EvidenceItem, len(evidence))
	for i := range evidence {
		byQuestion[evidence[i].QuestionID] = &evidence[i]
	}

	counts := questionCounts{Total: len(questions)}
	views := make([]questionView, 0, len(questions))
	for _, q := range questions {
		switch q.Status {
		case store.QuestionPending:
			counts.Pending++
		case store.QuestionComplete:
			counts.Complete++
		case store.QuestionResearchFailed:
			counts.ResearchFailed++
		case store.QuestionSaveFailed:
			counts.SaveFailed++
		}
		views = append(views, questionView{Question: q, Evidence: byQuestion[q.ID]})
	}

	s.render(w, "report.html", map[string]any{
		"Report":    report,
		"Questions": views,
		"Counts":    counts,
		"Score":     score,
		"Narrative": narrative,
	})
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

// statusClass turns a status into a CSS class suffix, e.g.
// PLAN_FAILED -> plan-failed.
func statusClass(status store.ReportStatus) string {
	return strings.ToLower(strings.ReplaceAll(string(status), "_", "-"))
}

// Serve starts the HTTP server on the given port.
func Serve(st store.Store, port int) error {
	srv, err := New(st)
	if err != nil {
		return err
	}

	addr := fmt.Sprintf("127.0.0.1:%d", port)
	log.Printf("Server listening on http://%s", addr)
	return http.ListenAndServe(addr, srv.Handler())
}
