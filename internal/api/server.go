// Package api exposes the HTTP interface for the ranking service.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/JakeFAU/impact-crawler/internal/config"
	"github.com/JakeFAU/impact-crawler/internal/impact"
	"github.com/JakeFAU/impact-crawler/internal/metrics"
	"github.com/JakeFAU/impact-crawler/internal/supervisor"
	"github.com/JakeFAU/impact-crawler/internal/worker"
)

const (
	defaultRequestTimeout = 60 * time.Second
	readinessTimeout      = 2 * time.Second
)

// SiteService is the per-platform surface the handlers use.
type SiteService interface {
	Score(ctx context.Context, key string) (impact.ScoredEntity, error)
	RetrieveEntity(ctx context.Context, key string) (impact.ScoredEntity, bool)
	GetEntityStats(ctx context.Context, key string) float64
	GetTopEntities(ctx context.Context, page, perPage int) ([]impact.ScoredEntity, int64, error)
	SearchEntities(ctx context.Context, query string, limit int) ([]impact.ScoredEntity, error)
	GetMetadata(ctx context.Context) (impact.Metadata, error)
	WorkerState() worker.State
	QueueLen() int
}

// Directory resolves platforms to their SiteService.
type Directory interface {
	Lookup(platform impact.Platform) (SiteService, error)
	Platforms() []impact.PlatformInfo
}

// Pinger reports whether a downstream dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// FromSupervisor adapts a Supervisor to Directory.
func FromSupervisor(sup *supervisor.Supervisor) Directory {
	return supervisorDirectory{sup: sup}
}

type supervisorDirectory struct {
	sup *supervisor.Supervisor
}

func (d supervisorDirectory) Lookup(platform impact.Platform) (SiteService, error) {
	site, err := d.sup.Site(platform)
	if err != nil {
		return nil, fmt.Errorf("lookup site: %w", err)
	}
	return site, nil
}

func (d supervisorDirectory) Platforms() []impact.PlatformInfo {
	return d.sup.Platforms()
}

// Server wires HTTP handlers to the per-platform sites.
type Server struct {
	router  chi.Router
	handler http.Handler
	sites   Directory
	ready   Pinger
	cfg     config.Config
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes. ready may be nil
// when no downstream needs checking.
func NewServer(sites Directory, ready Pinger, cfg config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		sites:  sites,
		ready:  ready,
		cfg:    cfg,
		logger: logger,
	}
	timeout := cfg.Server.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(timeoutMiddleware(timeout))
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Get("/platforms", s.listPlatforms)
		r.Route("/{platform}", func(r chi.Router) {
			r.Get("/metadata", s.getMetadata)
			r.Get("/ranking", s.getRanking)
			r.Get("/search", s.search)
			r.Route("/entities/{id}", func(r chi.Router) {
				r.Get("/", s.getEntity)
				r.Get("/percentile", s.getPercentile)
				r.Post("/score", s.scoreEntity)
			})
		})
	})

	s.router = r
	s.handler = otelhttp.NewHandler(r, "impact-api",
		otelhttp.WithFilter(func(req *http.Request) bool {
			return strings.HasPrefix(req.URL.Path, "/v1/")
		}),
	)
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
		defer cancel()
		if err := s.ready.Ping(ctx); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "store unavailable")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type platformDTO struct {
	impact.PlatformInfo
	Worker     string `json:"worker"`
	QueueDepth int    `json:"queue_depth"`
}

func (s *Server) listPlatforms(w http.ResponseWriter, _ *http.Request) {
	infos := s.sites.Platforms()
	out := make([]platformDTO, 0, len(infos))
	for _, info := range infos {
		dto := platformDTO{PlatformInfo: info}
		if site, err := s.sites.Lookup(info.Name); err == nil {
			dto.Worker = site.WorkerState().String()
			dto.QueueDepth = site.QueueLen()
		}
		out = append(out, dto)
	}
	writeJSON(w, http.StatusOK, map[string]any{"platforms": out})
}

func (s *Server) getMetadata(w http.ResponseWriter, r *http.Request) {
	site, ok := s.site(w, r)
	if !ok {
		return
	}
	meta, err := site.GetMetadata(r.Context())
	if err != nil {
		if errors.Is(err, impact.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no entities scored yet")
			return
		}
		s.logger.Error("load metadata failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load metadata")
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

type rankingResponse struct {
	Entries []impact.ScoredEntity `json:"entries"`
	Total   int64                 `json:"total"`
	Page    int                   `json:"page"`
	PerPage int                   `json:"per_page"`
}

func (s *Server) getRanking(w http.ResponseWriter, r *http.Request) {
	site, ok := s.site(w, r)
	if !ok {
		return
	}
	page, err := intParam(r, "page", 1)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	perPage, err := intParam(r, "per_page", supervisor.DefaultPerPage)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if page < 1 {
		page = 1
	}
	perPage = clamp(perPage, 1, supervisor.MaxPerPage)

	entries, total, err := site.GetTopEntities(r.Context(), page, perPage)
	if err != nil {
		s.logger.Error("load ranking failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load ranking")
		return
	}
	writeJSON(w, http.StatusOK, rankingResponse{
		Entries: nonNil(entries),
		Total:   total,
		Page:    page,
		PerPage: perPage,
	})
}

func (s *Server) search(w http.ResponseWriter, r *http.Request) {
	site, ok := s.site(w, r)
	if !ok {
		return
	}
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		writeError(w, http.StatusBadRequest, "q is required")
		return
	}
	limit, err := intParam(r, "limit", supervisor.DefaultSearchLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	entries, err := site.SearchEntities(r.Context(), query, clamp(limit, 1, supervisor.MaxSearchLimit))
	if err != nil {
		s.logger.Error("search failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "search failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": nonNil(entries)})
}

type entityResponse struct {
	Entity     impact.ScoredEntity `json:"entity"`
	Percentile float64             `json:"percentile"`
}

func (s *Server) getEntity(w http.ResponseWriter, r *http.Request) {
	site, ok := s.site(w, r)
	if !ok {
		return
	}
	key := chi.URLParam(r, "id")
	entity, found := site.RetrieveEntity(r.Context(), key)
	if !found {
		scored, err := site.Score(r.Context(), key)
		if err != nil {
			if errors.Is(err, impact.ErrNotFound) || errors.Is(err, impact.ErrFetch) {
				writeError(w, http.StatusNotFound, "entity could not be scored")
				return
			}
			s.logger.Error("score on read failed", zap.String("identifier", key), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to score entity")
			return
		}
		entity = scored
	}
	writeJSON(w, http.StatusOK, entityResponse{
		Entity:     entity,
		Percentile: site.GetEntityStats(r.Context(), key),
	})
}

func (s *Server) getPercentile(w http.ResponseWriter, r *http.Request) {
	site, ok := s.site(w, r)
	if !ok {
		return
	}
	key := chi.URLParam(r, "id")
	if _, found := site.RetrieveEntity(r.Context(), key); !found {
		writeError(w, http.StatusNotFound, "entity not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"identifier": key,
		"percentile": site.GetEntityStats(r.Context(), key),
	})
}

func (s *Server) scoreEntity(w http.ResponseWriter, r *http.Request) {
	site, ok := s.site(w, r)
	if !ok {
		return
	}
	key := chi.URLParam(r, "id")
	entity, err := site.Score(r.Context(), key)
	if err != nil {
		switch {
		case errors.Is(err, impact.ErrNotFound):
			writeError(w, http.StatusNotFound, "entity not found upstream")
		case errors.Is(err, impact.ErrFetch):
			writeError(w, http.StatusBadGateway, "upstream fetch failed")
		default:
			s.logger.Error("score failed", zap.String("identifier", key), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to score entity")
		}
		return
	}
	writeJSON(w, http.StatusOK, entityResponse{
		Entity:     entity,
		Percentile: site.GetEntityStats(r.Context(), key),
	})
}

func (s *Server) site(w http.ResponseWriter, r *http.Request) (SiteService, bool) {
	platform := impact.Platform(chi.URLParam(r, "platform"))
	site, err := s.sites.Lookup(platform)
	if err != nil {
		if errors.Is(err, impact.ErrUnknownPlatform) {
			writeError(w, http.StatusNotFound, "unknown platform")
			return nil, false
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return nil, false
	}
	return site, true
}

func intParam(r *http.Request, name string, def int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s", name)
	}
	return v, nil
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}

func nonNil(in []impact.ScoredEntity) []impact.ScoredEntity {
	if in == nil {
		return []impact.ScoredEntity{}
	}
	return in
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestID returns the request ID stored by the middleware, if any.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("request_id", RequestID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered",
						zap.String("request_id", RequestID(r.Context())),
						zap.Any("error", rec),
						zap.Stack("stack"),
					)
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
