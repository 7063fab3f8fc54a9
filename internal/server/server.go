// Package server implements HERMES's Serving Surface: a
// stateless HTTP JSON API in front of the search pipeline and the index
// build orchestrator. State lives in exactly two places per request: the
// pipeline's atomic reference and the orchestrator's job state.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	hermeserrors "github.com/MayankTamakuwala/HERMES/internal/errors"
	"github.com/MayankTamakuwala/HERMES/internal/hermes"
	"github.com/MayankTamakuwala/HERMES/internal/index"
	"github.com/MayankTamakuwala/HERMES/internal/pipeline"
)

// Server wires the Reloadable pipeline and the Orchestrator behind chi's
// router. It holds no other mutable state.
type Server struct {
	Pipeline     *pipeline.Reloadable
	Orchestrator *index.Orchestrator
	router       chi.Router
}

// New builds the router for the given pipeline and orchestrator.
func New(p *pipeline.Reloadable, orch *index.Orchestrator) *Server {
	s := &Server{Pipeline: p, Orchestrator: orch}
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	r.Get("/health", s.handleHealth)
	r.Get("/index/check", s.handleIndexCheck)
	r.Get("/index/status", s.handleIndexStatus)
	r.Post("/index", s.handleIndexStart)
	r.Post("/reload-index", s.handleReloadIndex)
	r.Get("/stats", s.handleStats)
	r.Post("/search", s.handleSearch)

	s.router = r
	return s
}

// ServeHTTP satisfies http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

// noIndexLoaded is the exact body required for endpoints that need
// a loaded pipeline when none is present.
func noIndexLoaded(w http.ResponseWriter) {
	writeError(w, http.StatusBadRequest, "No index loaded. Please index a repository first.")
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleIndexCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"has_index": s.Pipeline.Loaded()})
}

func (s *Server) handleIndexStatus(w http.ResponseWriter, r *http.Request) {
	state, repoPath, summary, message := s.Orchestrator.Status()
	body := map[string]any{"state": state}
	if repoPath != "" {
		body["repo_path"] = repoPath
	}
	if state == index.StateDone && summary != nil {
		body["summary"] = summary
	}
	if state == index.StateError && message != "" {
		body["message"] = message
	}
	writeJSON(w, http.StatusOK, body)
}

type indexStartRequest struct {
	RepoPath string `json:"repo_path"`
}

func (s *Server) handleIndexStart(w http.ResponseWriter, r *http.Request) {
	var req indexStartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RepoPath == "" {
		writeError(w, http.StatusBadRequest, "repo_path is required")
		return
	}

	if err := s.Orchestrator.StartIndex(context.Background(), req.RepoPath); err != nil {
		if hermeserrors.IsAlreadyRunning(err) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"message": "indexing started"})
}

func (s *Server) handleReloadIndex(w http.ResponseWriter, r *http.Request) {
	state, _, _, _ := s.Orchestrator.Status()
	if state != index.StateDone {
		noIndexLoaded(w)
		return
	}
	if !s.Pipeline.Loaded() {
		noIndexLoaded(w)
		return
	}
	p, err := s.Pipeline.Get()
	if err != nil {
		noIndexLoaded(w)
		return
	}
	n, err := p.Metadata.Count(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"n_chunks": n})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	p, err := s.Pipeline.Get()
	if err != nil {
		noIndexLoaded(w)
		return
	}

	n, err := p.Metadata.Count(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	body := map[string]any{
		"index_size":         p.Dense.Len(),
		"n_chunks":           n,
		"retrieval_mode":     p.Config.RetrievalMode,
		"biencoder_model":    p.BiencoderModel,
		"crossencoder_model": p.CrossencoderModel,
	}
	if qc, ok := p.QueryCache.(interface {
		Hits() int64
		Misses() int64
		HitRate() float64
	}); ok {
		body["cache_hits"] = qc.Hits()
		body["cache_misses"] = qc.Misses()
		body["cache_hit_rate"] = qc.HitRate()
	}
	writeJSON(w, http.StatusOK, body)
}

type searchRequest struct {
	Query            string `json:"query"`
	TopKRetrieve     int    `json:"top_k_retrieve"`
	TopKRerank       int    `json:"top_k_rerank"`
	RetrievalMode    string `json:"retrieval_mode"`
	FilterLanguage   string `json:"filter_language"`
	FilterPathPrefix string `json:"filter_path_prefix"`
	// ReturnSnippets defaults to true when omitted; a pointer distinguishes
	// "not sent" from an explicit false.
	ReturnSnippets *bool `json:"return_snippets"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if !s.Pipeline.Loaded() {
		noIndexLoaded(w)
		return
	}

	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 60*time.Second)
	defer cancel()

	returnSnippets := true
	if req.ReturnSnippets != nil {
		returnSnippets = *req.ReturnSnippets
	}

	resp, err := s.Pipeline.Search(ctx, pipeline.Request{
		Query:            req.Query,
		TopKRetrieve:     req.TopKRetrieve,
		TopKRerank:       req.TopKRerank,
		RetrievalMode:    hermes.RetrievalMode(req.RetrievalMode),
		FilterLanguage:   req.FilterLanguage,
		FilterPathPrefix: req.FilterPathPrefix,
		ReturnSnippets:   returnSnippets,
	})
	if err != nil {
		status := http.StatusInternalServerError
		if hermeserrors.IsValidation(err) {
			status = http.StatusBadRequest
		} else if hermeserrors.IsNoIndexLoaded(err) {
			noIndexLoaded(w)
			return
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
