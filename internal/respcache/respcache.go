// Package respcache computes response validators for crawl results and remembers them per
// request shape, so that a conditional request repeated within the TTL can be answered with
// 304 before any feed is fetched.
package respcache

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/fxnews-crawler/internal/crawler"
	"github.com/JakeFAU/fxnews-crawler/internal/hash/sha256"
	"github.com/JakeFAU/fxnews-crawler/internal/metrics"
)

// DefaultTTL is how long validators stay eligible for short-circuiting.
const DefaultTTL = 180 * time.Second

// State is the outcome of a cached request.
type State string

// Response cache states.
const (
	ShortCircuitHit State = "short_circuit_hit"
	Miss            State = "miss"
	ValidatorMatch  State = "validator_match"
	Fresh           State = "fresh"
)

// Meta is what the store keeps per request shape.
type Meta struct {
	ETag         string    `json:"etag"`
	LastModified string    `json:"last_modified"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// MetaStore persists Meta entries. Get must not return expired entries.
type MetaStore interface {
	Get(ctx context.Context, key string) (Meta, bool, error)
	Put(ctx context.Context, key string, meta Meta) error
}

// Conditional carries the request's validator headers.
type Conditional struct {
	IfNoneMatch     string
	IfModifiedSince string
}

// ConditionalFromRequest reads If-None-Match and If-Modified-Since.
func ConditionalFromRequest(r *http.Request) Conditional {
	return Conditional{
		IfNoneMatch:     strings.TrimSpace(r.Header.Get("If-None-Match")),
		IfModifiedSince: strings.TrimSpace(r.Header.Get("If-Modified-Since")),
	}
}

// Empty reports whether no validator header was sent.
func (c Conditional) Empty() bool {
	return c.IfNoneMatch == "" && c.IfModifiedSince == ""
}

// Validators identify one response body.
type Validators struct {
	ETag         string
	LastModified time.Time
}

// LastModifiedISO is the RFC 3339 UTC form used inside the ETag and the store.
func (v Validators) LastModifiedISO() string {
	return v.LastModified.UTC().Format(time.RFC3339)
}

// HTTPDate is the Last-Modified header form.
func (v Validators) HTTPDate() string {
	return v.LastModified.UTC().Format(http.TimeFormat)
}

// Shape is the set of request parameters that select a crawl result.
type Shape struct {
	WindowHours int
	Limit       int
	// Groups is the comma-joined group selection, or the default selection when none was given.
	Groups string
	Base   string
	Quote  string
}

// Key is the store key for the shape.
func (s Shape) Key() string {
	var b strings.Builder
	b.WriteString("wh=")
	b.WriteString(strconv.Itoa(s.WindowHours))
	b.WriteString("|lim=")
	b.WriteString(strconv.Itoa(s.Limit))
	b.WriteString("|grp=")
	b.WriteString(s.Groups)
	b.WriteString("|base=")
	b.WriteString(strings.ToUpper(s.Base))
	b.WriteString("|quote=")
	b.WriteString(strings.ToUpper(s.Quote))
	return b.String()
}

// Layer answers conditional requests from stored validators.
type Layer struct {
	store  MetaStore
	ttl    time.Duration
	now    func() time.Time
	logger *zap.Logger
}

// New builds a Layer. Non-positive ttl uses DefaultTTL; nil now uses time.Now.
func New(store MetaStore, ttl time.Duration, now func() time.Time, logger *zap.Logger) *Layer {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Layer{store: store, ttl: ttl, now: now, logger: logger}
}

// ShortCircuit reports whether stored, unexpired validators for key satisfy cond. Store errors
// are logged and treated as a miss.
func (l *Layer) ShortCircuit(ctx context.Context, key string, cond Conditional) (Validators, bool) {
	if cond.Empty() {
		metrics.ObserveResponseCache(string(Miss))
		return Validators{}, false
	}
	meta, ok, err := l.store.Get(ctx, key)
	if err != nil {
		l.logger.Warn("response meta lookup failed", zap.String("key", key), zap.Error(err))
	}
	if err != nil || !ok || !meta.ExpiresAt.After(l.now()) {
		metrics.ObserveResponseCache(string(Miss))
		return Validators{}, false
	}
	lm, err := time.Parse(time.RFC3339, meta.LastModified)
	if err != nil {
		l.logger.Warn("response meta has bad last_modified", zap.String("key", key), zap.Error(err))
		metrics.ObserveResponseCache(string(Miss))
		return Validators{}, false
	}
	v := Validators{ETag: meta.ETag, LastModified: lm}
	if !Matches(cond, v) {
		metrics.ObserveResponseCache(string(Miss))
		return Validators{}, false
	}
	metrics.ObserveResponseCache(string(ShortCircuitHit))
	return v, true
}

// Compute derives validators for a crawl result. Last-Modified is the newest article's
// PublishedAt, or now when there are none.
func (l *Layer) Compute(shape Shape, articles []crawler.EnrichedArticle) (Validators, error) {
	lm := l.now().UTC()
	if len(articles) > 0 {
		lm = articles[0].PublishedAt
		for _, a := range articles[1:] {
			if a.PublishedAt.After(lm) {
				lm = a.PublishedAt
			}
		}
	}
	lm = lm.UTC().Truncate(time.Second)

	urls := make([]string, len(articles))
	for i, a := range articles {
		urls[i] = a.URL
	}
	v := Validators{LastModified: lm}
	etag, err := sha256.DigestJSON(map[string]any{
		"urls":          urls,
		"count":         len(articles),
		"last_modified": v.LastModifiedISO(),
		"groups":        shape.Groups,
		"base":          strings.ToUpper(shape.Base),
		"quote":         strings.ToUpper(shape.Quote),
		"window_hours":  shape.WindowHours,
		"limit":         shape.Limit,
	})
	if err != nil {
		return Validators{}, fmt.Errorf("compute etag: %w", err)
	}
	v.ETag = etag
	return v, nil
}

// Outcome classifies a computed response against cond and records the state.
func (l *Layer) Outcome(cond Conditional, v Validators) State {
	state := Fresh
	if Matches(cond, v) {
		state = ValidatorMatch
	}
	metrics.ObserveResponseCache(string(state))
	return state
}

// Record stores v under key with a fresh TTL. Failures are logged only.
func (l *Layer) Record(ctx context.Context, key string, v Validators) {
	meta := Meta{
		ETag:         v.ETag,
		LastModified: v.LastModifiedISO(),
		ExpiresAt:    l.now().Add(l.ttl),
	}
	if err := l.store.Put(ctx, key, meta); err != nil {
		l.logger.Warn("response meta store failed", zap.String("key", key), zap.Error(err))
	}
}

// Matches reports whether cond is satisfied by v: an exact If-None-Match, or an
// If-Modified-Since at or after v's Last-Modified.
func Matches(cond Conditional, v Validators) bool {
	if cond.IfNoneMatch != "" && cond.IfNoneMatch == v.ETag {
		return true
	}
	if cond.IfModifiedSince == "" {
		return false
	}
	ims, err := http.ParseTime(cond.IfModifiedSince)
	if err != nil {
		return false
	}
	return !v.LastModified.Truncate(time.Second).After(ims)
}
