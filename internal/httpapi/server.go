// Package httpapi serves the admin and browser surface: health probes,
// metrics, dataset statistics, session inspection and the web chat socket.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ent0n29/voxcollect/internal/corpus"
	"github.com/ent0n29/voxcollect/internal/ledger"
	"github.com/ent0n29/voxcollect/internal/observability"
	"github.com/ent0n29/voxcollect/internal/session"
)

// StatsFunc returns the current ledger aggregate.
type StatsFunc func(ctx context.Context) (ledger.Stats, error)

// SessionReader looks up persisted sessions; *session.Machine satisfies it.
type SessionReader interface {
	Get(ctx context.Context, userID string) (session.Session, error)
}

// CorpusStats reports pool sizes; *corpus.Pool satisfies it.
type CorpusStats interface {
	Stats(lang corpus.Language) (total, recorded int)
}

type Options struct {
	Stats    StatsFunc
	Sessions SessionReader
	Corpus   CorpusStats
	Metrics  *observability.Metrics
	Gatherer prometheus.Gatherer

	// Chat is mounted at /v1/chat/ws when non-nil.
	Chat http.Handler

	// Ready reports whether dependencies are reachable; nil means always ready.
	Ready func(ctx context.Context) error
}

type Server struct {
	opts   Options
	static http.Handler
}

func New(opts Options) *Server {
	return &Server{opts: opts, static: newStaticHandler()}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/ui/", http.StatusTemporaryRedirect)
	})
	r.Get("/ui", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/ui/", http.StatusTemporaryRedirect)
	})
	r.Handle("/ui/*", http.StripPrefix("/ui/", s.static))

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		if s.opts.Gatherer != nil {
			observability.MetricsHandlerFor(s.opts.Gatherer).ServeHTTP(w, r)
			return
		}
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Get("/v1/stats", s.handleStats)
	r.Get("/v1/stats/users/{id}", s.handleUserStats)
	r.Get("/v1/sessions/{user_id}", s.handleGetSession)
	r.Get("/v1/perf/stages", s.handlePerfStages)
	if s.opts.Chat != nil {
		r.Handle("/v1/chat/ws", s.opts.Chat)
	}

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"webchat_enabled": s.opts.Chat != nil,
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.opts.Ready != nil {
		if err := s.opts.Ready(r.Context()); err != nil {
			respondError(w, http.StatusServiceUnavailable, "not_ready", err.Error())
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

type corpusEntry struct {
	Language  corpus.Language `json:"language"`
	Name      string          `json:"name"`
	Sentences int             `json:"sentences"`
	Recorded  int             `json:"recorded"`
}

type statsResponse struct {
	ledger.Stats
	Corpus []corpusEntry `json:"corpus,omitempty"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, ok := s.loadStats(w, r)
	if !ok {
		return
	}
	resp := statsResponse{Stats: stats}
	if s.opts.Corpus != nil {
		for _, lang := range corpus.Supported {
			total, recorded := s.opts.Corpus.Stats(lang)
			resp.Corpus = append(resp.Corpus, corpusEntry{
				Language:  lang,
				Name:      lang.DisplayName(),
				Sentences: total,
				Recorded:  recorded,
			})
		}
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleUserStats(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		respondError(w, http.StatusBadRequest, "invalid_user_id", "missing user id")
		return
	}
	stats, ok := s.loadStats(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"user_id": id,
		"totals":  stats.User(id),
	})
}

func (s *Server) loadStats(w http.ResponseWriter, r *http.Request) (ledger.Stats, bool) {
	if s.opts.Stats == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "ledger not configured")
		return ledger.Stats{}, false
	}
	stats, err := s.opts.Stats(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "ledger_error", err.Error())
		return ledger.Stats{}, false
	}
	if stats.Users == nil {
		stats.Users = map[string]ledger.Totals{}
	}
	return stats, true
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	if s.opts.Sessions == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "sessions not configured")
		return
	}
	id := strings.TrimSpace(chi.URLParam(r, "user_id"))
	key := session.ScopedKey(strings.TrimSpace(r.URL.Query().Get("channel")), id)
	sess, err := s.opts.Sessions.Get(r.Context(), key)
	if errors.Is(err, session.ErrNotFound) {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "session_store_error", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
