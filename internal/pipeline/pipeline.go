// Package pipeline runs one crawl end to end: fetch and assemble articles, enrich them,
// narrow to a currency pair, hand them to the persistence sinks and nudge the forecaster.
package pipeline

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/fxnews-crawler/internal/backend"
	"github.com/JakeFAU/fxnews-crawler/internal/crawler"
	"github.com/JakeFAU/fxnews-crawler/internal/enrich"
	"github.com/JakeFAU/fxnews-crawler/internal/persist"
)

// Defaults applied when a request leaves a field at zero.
const (
	DefaultHorizonDays    = 7
	DefaultPredictTimeout = 10 * time.Second
)

// Crawler assembles raw articles.
type Crawler interface {
	Crawl(ctx context.Context, req crawler.CrawlRequest) ([]crawler.Article, error)
}

// Enricher turns articles into enriched articles. It never fails.
type Enricher interface {
	Enrich(ctx context.Context, articles []crawler.Article) []crawler.EnrichedArticle
}

// Predictor asks the forecaster to refresh a pair.
type Predictor interface {
	Predict(ctx context.Context, req backend.PredictRequest) error
}

// Request selects the crawl and the optional pair.
type Request struct {
	WindowHours int
	Limit       int
	Groups      []string
	Base        string
	Quote       string
}

// Result is the finished, enriched article list.
type Result struct {
	CrawlID  string
	Articles []crawler.EnrichedArticle
}

// Config tunes the predict trigger.
type Config struct {
	PredictTimeout time.Duration
	HorizonDays    int
}

// Service wires the pipeline stages together. It is safe for concurrent use.
type Service struct {
	cfg       Config
	crawler   Crawler
	enricher  Enricher
	sink      persist.Sink
	predictor Predictor
	clock     crawler.Clock
	ids       crawler.IDGenerator
	logger    *zap.Logger

	wg sync.WaitGroup
}

// New builds a Service. A nil sink persists nothing; a nil predictor disables the trigger.
func New(
	cfg Config,
	c Crawler,
	e Enricher,
	sink persist.Sink,
	predictor Predictor,
	clock crawler.Clock,
	ids crawler.IDGenerator,
	logger *zap.Logger,
) *Service {
	if cfg.PredictTimeout <= 0 {
		cfg.PredictTimeout = DefaultPredictTimeout
	}
	if cfg.HorizonDays <= 0 {
		cfg.HorizonDays = DefaultHorizonDays
	}
	if sink == nil {
		sink = persist.Noop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		cfg:       cfg,
		crawler:   c,
		enricher:  e,
		sink:      sink,
		predictor: predictor,
		clock:     clock,
		ids:       ids,
		logger:    logger,
	}
}

// Run executes the pipeline. Only a crawl cut short by ctx is returned as an error; persist and
// predict failures are logged.
func (s *Service) Run(ctx context.Context, req Request) (Result, error) {
	crawlID := s.newID()
	logger := s.logger.With(zap.String("crawl_id", crawlID))

	articles, err := s.crawler.Crawl(ctx, crawler.CrawlRequest{
		WindowHours: req.WindowHours,
		Limit:       req.Limit,
		Groups:      req.Groups,
		CrawlID:     crawlID,
	})
	if err != nil {
		return Result{}, err
	}
	logger.Info("crawled raw articles", zap.Int("count", len(articles)))

	enriched := s.enricher.Enrich(ctx, articles)
	pair := req.Base != "" && req.Quote != ""
	if pair {
		enriched = enrich.FilterByPair(enriched, req.Base, req.Quote)
		logger.Info("after pair filter",
			zap.String("base", req.Base),
			zap.String("quote", req.Quote),
			zap.Int("count", len(enriched)),
		)
	}

	saved, err := s.sink.Persist(ctx, persist.Batch{
		CrawlID:   crawlID,
		CrawledAt: s.clock.Now(),
		Request:   crawler.CrawlRequest{WindowHours: req.WindowHours, Limit: req.Limit, Groups: req.Groups},
		Base:      req.Base,
		Quote:     req.Quote,
		Articles:  enriched,
	})
	if err != nil {
		logger.Warn("persist failed", zap.Error(err))
	}
	logger.Info("processed articles", zap.Int("processed", len(enriched)), zap.Int("persisted", saved))

	if pair && s.predictor != nil {
		s.triggerPredict(logger, backend.PredictRequest{
			BaseCurrency:   req.Base,
			TargetCurrency: req.Quote,
			HorizonDays:    s.cfg.HorizonDays,
		}, enrich.SentimentAdjust(enriched))
	}

	return Result{CrawlID: crawlID, Articles: enriched}, nil
}

// triggerPredict fires the forecaster call in the background. It is not tied to the request
// context, so a finished HTTP response does not cancel it.
func (s *Service) triggerPredict(logger *zap.Logger, req backend.PredictRequest, adjust float64) {
	req.SentimentAdjust = &adjust
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.PredictTimeout)
		defer cancel()
		if err := s.predictor.Predict(ctx, req); err != nil {
			logger.Info("predict call failed (non-blocking)", zap.Error(err))
			return
		}
		logger.Debug("predict triggered", zap.Float64("sentiment_adjust", adjust))
	}()
}

// Wait blocks until every in-flight predict call has returned.
func (s *Service) Wait() {
	s.wg.Wait()
}

func (s *Service) newID() string {
	if s.ids == nil {
		return "unknown"
	}
	id, err := s.ids.NewID()
	if err != nil {
		s.logger.Warn("crawl id generation failed", zap.Error(err))
		return "unknown"
	}
	return id
}
