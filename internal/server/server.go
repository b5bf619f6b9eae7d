// Package server exposes the engine over HTTP: workflow submission, run
// status, job logs, and journal verification.
package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"flowci/internal/config"
	"flowci/internal/engine"
)

// runEntry tracks one submitted run, updated live as jobs change state.
type runEntry struct {
	ID       string                   `json:"id"`
	Workflow string                   `json:"workflow"`
	Status   engine.Status            `json:"status"`
	Started  time.Time                `json:"started"`
	Jobs     map[string]engine.Status `json:"jobs"`
	Result   *engine.RunResult        `json:"result,omitempty"`
}

// Server holds the run registry over a shared runner.
type Server struct {
	runner *engine.Runner
	log    *zap.Logger

	mu   sync.Mutex
	runs map[string]*runEntry
}

func New(runner *engine.Runner, logger *zap.Logger) *Server {
	return &Server{
		runner: runner,
		log:    logger,
		runs:   make(map[string]*runEntry),
	}
}

// Router builds the HTTP routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(s.requestLogger)

	r.Post("/workflows", s.handleSubmit)
	r.Get("/runs", s.handleListRuns)
	r.Get("/runs/{id}", s.handleGetRun)
	r.Get("/runs/{id}/jobs/{job}/log", s.handleJobLog)
	r.Get("/journal/verify", s.handleVerifyJournal)
	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		next.ServeHTTP(w, r)
		s.log.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("duration", time.Since(started)))
	})
}

// handleSubmit accepts a workflow file body, validates it, and starts the run
// in the background. The optional ?workflow= query names the workflow to run;
// a file with a single workflow does not need it.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "cannot read body")
		return
	}

	file, err := config.Parse(data)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := file.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	workflow := r.URL.Query().Get("workflow")
	if workflow == "" {
		if len(file.Workflows) != 1 {
			writeError(w, http.StatusBadRequest, "file has multiple workflows, pass ?workflow=")
			return
		}
		for name := range file.Workflows {
			workflow = name
		}
	}
	if _, err := engine.BuildGraph(file, workflow); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	runID := engine.NewRunID()
	entry := &runEntry{
		ID:       runID,
		Workflow: workflow,
		Status:   engine.StatusRunning,
		Started:  time.Now(),
		Jobs:     make(map[string]engine.Status),
	}
	for _, wj := range file.Workflows[workflow].Jobs {
		entry.Jobs[wj.Name] = engine.StatusPending
	}

	s.mu.Lock()
	s.runs[runID] = entry
	s.mu.Unlock()

	go s.execute(runID, file, workflow)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"id":       runID,
		"workflow": workflow,
		"status":   string(engine.StatusRunning),
	})
}

func (s *Server) execute(runID string, file *config.File, workflow string) {
	notify := func(job string, st engine.Status) {
		s.mu.Lock()
		if entry, ok := s.runs[runID]; ok {
			entry.Jobs[job] = st
		}
		s.mu.Unlock()
	}

	result, err := s.runner.Execute(context.Background(), runID, file, workflow, notify)

	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.runs[runID]
	if !ok {
		return
	}
	if err != nil {
		entry.Status = engine.StatusFailed
		s.log.Error("run aborted", zap.String("run", runID), zap.Error(err))
		return
	}
	entry.Status = result.Status
	entry.Result = result
	for job, res := range result.Jobs {
		entry.Jobs[job] = res.Status
	}
}

// snapshot copies an entry so handlers can marshal it without holding the
// lock while the run keeps mutating the original.
func (e *runEntry) snapshot() runEntry {
	out := *e
	out.Jobs = make(map[string]engine.Status, len(e.Jobs))
	for job, st := range e.Jobs {
		out.Jobs[job] = st
	}
	return out
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	entries := make([]runEntry, 0, len(s.runs))
	for _, e := range s.runs {
		entries = append(entries, e.snapshot())
	}
	s.mu.Unlock()

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Started.Before(entries[j].Started)
	})
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	s.mu.Lock()
	entry, ok := s.runs[id]
	var snap runEntry
	if ok {
		snap = entry.snapshot()
	}
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleJobLog(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job := chi.URLParam(r, "job")

	s.mu.Lock()
	_, ok := s.runs[id]
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}

	f, err := os.Open(s.runner.Store().JobLogPath(id, job))
	if err != nil {
		writeError(w, http.StatusNotFound, "no log for job")
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.Copy(w, f)
}

func (s *Server) handleVerifyJournal(w http.ResponseWriter, r *http.Request) {
	if err := s.runner.Journal().Verify(); err != nil {
		writeJSON(w, http.StatusConflict, map[string]string{
			"status": "corrupt",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
