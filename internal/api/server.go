package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/JakeFAU/fxnews-crawler/internal/crawler"
	"github.com/JakeFAU/fxnews-crawler/internal/metrics"
	"github.com/JakeFAU/fxnews-crawler/internal/pipeline"
	"github.com/JakeFAU/fxnews-crawler/internal/respcache"
)

var internalErrorBody = []byte(`{"status":"error","message":"internal error"}` + "\n")

// Pipeline runs a crawl.
type Pipeline interface {
	Run(ctx context.Context, req pipeline.Request) (pipeline.Result, error)
}

// Catalog describes the configured feed groups.
type Catalog interface {
	DefaultSelection() []string
	Groups(requested []string) []crawler.Group
}

// ReadyCheck reports whether one dependency can serve traffic.
type ReadyCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Options configures a Server.
type Options struct {
	Pipeline           Pipeline
	Catalog            Catalog
	Cache              *respcache.Layer
	Clock              crawler.Clock
	Logger             *zap.Logger
	AllowedOrigins     []string
	RequestTimeout     time.Duration
	DefaultWindowHours int
	DefaultLimit       int
	ReadyChecks        []ReadyCheck
}

// Server wires HTTP handlers to the crawl pipeline and the response cache.
type Server struct {
	router chi.Router
	opts   Options
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.DefaultWindowHours <= 0 {
		opts.DefaultWindowHours = 12
	}
	if opts.DefaultLimit <= 0 {
		opts.DefaultLimit = 50
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 90 * time.Second
	}
	s := &Server{opts: opts, logger: opts.Logger.Named("api")}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))
	r.Use(recoverMiddleware(s.logger))
	if len(opts.AllowedOrigins) > 0 {
		r.Use(cors.Handler(corsOptions(opts.AllowedOrigins)))
	}
	r.Use(metrics.Middleware)

	r.Get("/health", s.health)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(timeoutMiddleware(opts.RequestTimeout))
		r.Get("/crawl", s.crawl)
		r.Get("/sources", s.sources)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func corsOptions(origins []string) cors.Options {
	return cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "If-None-Match", "If-Modified-Since"},
		ExposedHeaders: []string{"ETag", "Last-Modified"},
		MaxAge:         300,
	}
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "service": "crawl-service"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	failing := map[string]string{}
	for _, rc := range s.opts.ReadyChecks {
		if err := rc.Check(ctx); err != nil {
			s.logger.Warn("readiness check failed", zap.String("check", rc.Name), zap.Error(err))
			failing[rc.Name] = "unavailable"
		}
	}
	if len(failing) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "not_ready", "checks": failing})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	body, err := encodeJSON(payload)
	if err != nil {
		zap.L().Error("encode JSON failed", zap.Error(err))
		writeInternalError(w)
		return
	}
	writeBody(w, status, body)
}

// encodeJSON renders payload completely so nothing is sent when encoding fails.
func encodeJSON(payload any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(payload); err != nil {
		return nil, fmt.Errorf("encode json: %w", err)
	}
	return buf.Bytes(), nil
}

func writeBody(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		zap.L().Debug("write response failed", zap.Error(err))
	}
}

// writeInternalError drops any validators already set for the failed response.
func writeInternalError(w http.ResponseWriter) {
	h := w.Header()
	for _, k := range []string{"ETag", "Last-Modified", "Cache-Control", "Vary"} {
		h.Del(k)
	}
	writeBody(w, http.StatusInternalServerError, internalErrorBody)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"status": "error", "message": msg})
}
