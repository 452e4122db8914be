// Package api exposes the dedup cache over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/crawl-dedup/pkg/dedup"
	"github.com/Sternrassler/crawl-dedup/pkg/logging"
	"github.com/Sternrassler/crawl-dedup/pkg/metrics"
	"github.com/Sternrassler/crawl-dedup/pkg/waiter"
)

// Server wires HTTP handlers to the domain cache and the optional global set.
type Server struct {
	router chi.Router
	cache  *dedup.Cache
	global *dedup.GlobalSet
	filter *dedup.Filter
	logger zerolog.Logger
}

// NewServer constructs a Server with middleware and routes. global may be nil.
func NewServer(cache *dedup.Cache, global *dedup.GlobalSet) *Server {
	s := &Server{
		cache:  cache,
		global: global,
		filter: dedup.NewFilter(cache, global),
		logger: logging.NewLogger(logging.ComponentServer),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.health)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/seen", s.wasSeen)
		r.Post("/seen", s.markSeen)
		r.Post("/filter", s.applyFilter)
		r.Get("/stats", s.stats)
		r.Route("/domains/{domain}", func(r chi.Router) {
			r.Get("/", s.domainState)
			r.Post("/preload", s.preload)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type seenResponse struct {
	URL  string `json:"url"`
	Seen bool   `json:"seen"`
}

func (s *Server) wasSeen(w http.ResponseWriter, r *http.Request) {
	rawURL := r.URL.Query().Get("url")
	if rawURL == "" {
		writeError(w, http.StatusBadRequest, "url query parameter is required")
		return
	}
	seen, err := s.cache.WasSeen(r.Context(), rawURL)
	if err != nil {
		s.writeCacheError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, seenResponse{URL: rawURL, Seen: seen})
}

type markRequest struct {
	URL    string `json:"url"`
	Global bool   `json:"global"`
}

type markResponse struct {
	URL   string `json:"url"`
	Added bool   `json:"added"`
}

func (s *Server) markSeen(w http.ResponseWriter, r *http.Request) {
	var req markRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
		writeError(w, http.StatusBadRequest, "body must be {\"url\": \"...\"}")
		return
	}

	added, err := s.cache.MarkSeen(r.Context(), req.URL)
	if err != nil {
		s.writeCacheError(w, r, err)
		return
	}
	if req.Global {
		if s.global == nil {
			writeError(w, http.StatusConflict, "global state is disabled")
			return
		}
		if _, err := s.global.Add(r.Context(), req.URL); err != nil {
			s.writeCacheError(w, r, err)
			return
		}
	}

	status := http.StatusOK
	if added {
		status = http.StatusCreated
	}
	writeJSON(w, status, markResponse{URL: req.URL, Added: added})
}

type filterRequest struct {
	Links            []string `json:"links"`
	OnlyInside       bool     `json:"only_inside"`
	LoadedDomain     string   `json:"loaded_domain"`
	OnlyNewGlobal    bool     `json:"only_new_global"`
	OnlyNewPerDomain bool     `json:"only_new_per_domain"`
}

func (s *Server) applyFilter(w http.ResponseWriter, r *http.Request) {
	var req filterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.OnlyNewGlobal && s.global == nil {
		writeError(w, http.StatusConflict, "global state is disabled")
		return
	}

	links, err := s.filter.Apply(r.Context(), req.Links, dedup.FilterOptions{
		OnlyInside:       req.OnlyInside,
		LoadedDomain:     req.LoadedDomain,
		OnlyNewGlobal:    req.OnlyNewGlobal,
		OnlyNewPerDomain: req.OnlyNewPerDomain,
	})
	if err != nil {
		s.writeCacheError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"links": links})
}

type statsResponse struct {
	dedup.Stats
	GlobalURLs int `json:"global_urls"`
}

func (s *Server) stats(w http.ResponseWriter, _ *http.Request) {
	resp := statsResponse{Stats: s.cache.Stats()}
	if s.global != nil {
		resp.GlobalURLs = s.global.Len()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) domainState(w http.ResponseWriter, r *http.Request) {
	domain := dedup.NormalizeDomain(chi.URLParam(r, "domain"))
	writeJSON(w, http.StatusOK, map[string]string{
		"domain": domain,
		"state":  s.cache.State(domain).String(),
	})
}

func (s *Server) preload(w http.ResponseWriter, r *http.Request) {
	domain := chi.URLParam(r, "domain")
	start := time.Now()
	if err := s.cache.Preload(r.Context(), domain); err != nil {
		s.writeCacheError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"domain":      dedup.NormalizeDomain(domain),
		"state":       s.cache.State(domain).String(),
		"duration_ms": time.Since(start).Milliseconds(),
	})
}

// writeCacheError maps cache failures to HTTP status codes.
func (s *Server) writeCacheError(w http.ResponseWriter, r *http.Request, err error) {
	var loadErr *dedup.LoadError
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, dedup.ErrMalformedIdentifier):
		status = http.StatusBadRequest
	case errors.Is(err, waiter.ErrTimeout):
		status = http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusRequestTimeout
	case errors.As(err, &loadErr):
		status = http.StatusServiceUnavailable
	}

	if status >= http.StatusInternalServerError {
		s.logger.Error().
			Err(err).
			Str("path", r.URL.Path).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("Request failed")
	}
	writeError(w, status, err.Error())
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("Request completed")
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger := logging.NewLogger(logging.ComponentServer)
		logger.Error().Err(err).Msg("Write JSON failed")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
