// Package persist hands a finished crawl to durable sinks: the article table, a JSON snapshot
// archive and a completion notification. Every sink is optional; with none configured the
// hook is a no-op that reports the batch size.
package persist

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/fxnews-crawler/internal/crawler"
	"github.com/JakeFAU/fxnews-crawler/internal/metrics"
)

// Batch is the outcome of one pipeline run.
type Batch struct {
	CrawlID   string
	CrawledAt time.Time
	Request   crawler.CrawlRequest
	Base      string
	Quote     string
	Articles  []crawler.EnrichedArticle
}

// Sink stores a batch and reports how many articles it handled.
type Sink interface {
	Persist(ctx context.Context, batch Batch) (int, error)
}

// Noop accepts every batch without storing it.
type Noop struct{}

// Persist returns the batch size.
func (Noop) Persist(_ context.Context, batch Batch) (int, error) {
	return len(batch.Articles), nil
}

// Named pairs a sink with the label used in logs and metrics.
type Named struct {
	Name string
	Sink Sink
}

// Multi fans a batch out to several sinks in order.
type Multi struct {
	sinks  []Named
	logger *zap.Logger
}

// NewMulti builds a Multi. Nil sinks are dropped.
func NewMulti(logger *zap.Logger, sinks ...Named) *Multi {
	if logger == nil {
		logger = zap.NewNop()
	}
	kept := make([]Named, 0, len(sinks))
	for _, s := range sinks {
		if s.Sink != nil {
			kept = append(kept, s)
		}
	}
	return &Multi{sinks: kept, logger: logger}
}

// Len reports the number of configured sinks.
func (m *Multi) Len() int {
	return len(m.sinks)
}

// Persist runs every sink even when one fails. The count is the batch size when at least one
// sink succeeded (or none are configured), and zero otherwise. Failures are joined.
func (m *Multi) Persist(ctx context.Context, batch Batch) (int, error) {
	if len(m.sinks) == 0 {
		return len(batch.Articles), nil
	}
	var (
		errs      []error
		succeeded bool
	)
	for _, s := range m.sinks {
		n, err := s.Sink.Persist(ctx, batch)
		if err != nil {
			metrics.ObservePersist(s.Name, "error")
			m.logger.Warn("persist sink failed",
				zap.String("sink", s.Name),
				zap.String("crawl_id", batch.CrawlID),
				zap.Error(err),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name, err))
			continue
		}
		succeeded = true
		metrics.ObservePersist(s.Name, "ok")
		m.logger.Debug("persist sink done",
			zap.String("sink", s.Name),
			zap.String("crawl_id", batch.CrawlID),
			zap.Int("count", n),
		)
	}
	if !succeeded {
		return 0, errors.Join(errs...)
	}
	return len(batch.Articles), errors.Join(errs...)
}
