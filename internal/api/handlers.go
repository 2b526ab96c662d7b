package api

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/fxnews-crawler/internal/crawler"
	"github.com/JakeFAU/fxnews-crawler/internal/hash/sha256"
	"github.com/JakeFAU/fxnews-crawler/internal/pipeline"
	"github.com/JakeFAU/fxnews-crawler/internal/respcache"
)

const (
	crawlMaxAge       = "public, max-age=120"
	notModifiedMaxAge = "public, max-age=300"
	sourcesMaxAge     = "public, max-age=300"
	crawlVary         = "Accept, If-None-Match, If-Modified-Since"
)

// crawlPayload is the /crawl response body. Base and Quote are null when absent.
type crawlPayload struct {
	Status      string                    `json:"status"`
	Count       int                       `json:"count"`
	News        []crawler.EnrichedArticle `json:"news"`
	WindowHours int                       `json:"window_hours"`
	Groups      string                    `json:"groups"`
	Base        *string                   `json:"base"`
	Quote       *string                   `json:"quote"`
}

type sourcesPayload struct {
	Status      string          `json:"status"`
	Groups      []crawler.Group `json:"groups"`
	GeneratedAt string          `json:"generated_at"`
}

func (s *Server) crawl(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	windowHours, ok := intParam(q, "window_hours", s.opts.DefaultWindowHours)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid window_hours")
		return
	}
	limit, ok := intParam(q, "limit", s.opts.DefaultLimit)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	base, hasBase := optionalParam(q, "base")
	quote, hasQuote := optionalParam(q, "quote")
	groupsParam := q.Get("groups")
	groupsLabel := groupsParam
	if groupsLabel == "" {
		groupsLabel = strings.Join(s.opts.Catalog.DefaultSelection(), ",")
	}

	shape := respcache.Shape{
		WindowHours: windowHours,
		Limit:       limit,
		Groups:      groupsLabel,
		Base:        base,
		Quote:       quote,
	}
	key := shape.Key()
	cond := respcache.ConditionalFromRequest(r)
	if v, hit := s.opts.Cache.ShortCircuit(r.Context(), key, cond); hit {
		s.logger.Debug("crawl short-circuited", zap.String("key", key))
		writeNotModified(w, v)
		return
	}

	res, err := s.opts.Pipeline.Run(r.Context(), pipeline.Request{
		WindowHours: windowHours,
		Limit:       limit,
		Groups:      crawler.SplitList(groupsParam),
		Base:        base,
		Quote:       quote,
	})
	if err != nil {
		s.logger.Error("crawl failed",
			zap.String("request_id", RequestID(r.Context())),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	v, err := s.opts.Cache.Compute(shape, res.Articles)
	if err != nil {
		s.logger.Error("compute validators failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if s.opts.Cache.Outcome(cond, v) == respcache.ValidatorMatch {
		s.opts.Cache.Record(r.Context(), key, v)
		writeNotModified(w, v)
		return
	}

	news := res.Articles
	if news == nil {
		news = []crawler.EnrichedArticle{}
	}
	payload := crawlPayload{
		Status:      "success",
		Count:       len(news),
		News:        news,
		WindowHours: windowHours,
		Groups:      groupsLabel,
	}
	if hasBase {
		payload.Base = &base
	}
	if hasQuote {
		payload.Quote = &quote
	}
	body, err := encodeJSON(payload)
	if err != nil {
		s.logger.Error("encode crawl response failed",
			zap.String("request_id", RequestID(r.Context())),
			zap.Error(err),
		)
		writeInternalError(w)
		return
	}
	// Validators are recorded only for a body that can actually be sent.
	s.opts.Cache.Record(r.Context(), key, v)

	h := w.Header()
	h.Set("ETag", v.ETag)
	h.Set("Last-Modified", v.HTTPDate())
	h.Set("Cache-Control", crawlMaxAge)
	h.Set("Vary", crawlVary)
	writeBody(w, http.StatusOK, body)
}

func (s *Server) sources(w http.ResponseWriter, r *http.Request) {
	groups := s.opts.Catalog.Groups(crawler.SplitList(r.URL.Query().Get("groups")))
	now := time.Now().UTC()
	if s.opts.Clock != nil {
		now = s.opts.Clock.Now().UTC()
	}
	now = now.Truncate(time.Second)

	etag, err := sha256.DigestJSON(map[string]any{"groups": groups})
	if err != nil {
		s.logger.Error("compute sources etag failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	v := respcache.Validators{ETag: etag, LastModified: now}
	if respcache.Matches(respcache.ConditionalFromRequest(r), v) {
		writeNotModified(w, v)
		return
	}

	h := w.Header()
	h.Set("ETag", v.ETag)
	h.Set("Last-Modified", v.HTTPDate())
	h.Set("Cache-Control", sourcesMaxAge)
	writeJSON(w, http.StatusOK, sourcesPayload{
		Status:      "success",
		Groups:      groups,
		GeneratedAt: v.LastModifiedISO(),
	})
}

func writeNotModified(w http.ResponseWriter, v respcache.Validators) {
	h := w.Header()
	h.Set("ETag", v.ETag)
	h.Set("Last-Modified", v.HTTPDate())
	h.Set("Cache-Control", notModifiedMaxAge)
	w.WriteHeader(http.StatusNotModified)
}

// intParam parses a non-negative integer parameter, returning def when it is absent.
func intParam(q url.Values, name string, def int) (int, bool) {
	raw := strings.TrimSpace(q.Get(name))
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

func optionalParam(q url.Values, name string) (string, bool) {
	if !q.Has(name) {
		return "", false
	}
	v := strings.TrimSpace(q.Get(name))
	return v, v != ""
}
