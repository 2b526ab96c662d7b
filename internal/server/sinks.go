package server

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/fxnews-crawler/internal/api"
	"github.com/JakeFAU/fxnews-crawler/internal/persist"
	memorypublisher "github.com/JakeFAU/fxnews-crawler/internal/publisher/memory"
	pubsubpublisher "github.com/JakeFAU/fxnews-crawler/internal/publisher/pubsub"
	"github.com/JakeFAU/fxnews-crawler/internal/storage"
	"github.com/JakeFAU/fxnews-crawler/internal/storage/postgres"
)

// setupSinks connects every configured persistence sink. With none configured the pipeline's
// persist hook only counts articles.
func (a *App) setupSinks(ctx context.Context) (persist.Sink, error) {
	var sinks []persist.Named

	if dsn := a.cfg.Database.DSN; dsn != "" {
		store, err := postgres.NewArticleStore(ctx, postgres.ArticleStoreConfig{
			DSN:             dsn,
			Table:           a.cfg.Database.Table,
			MaxConns:        a.cfg.Database.MaxConns,
			MaxConnLifetime: a.cfg.Database.MaxConnLifetime,
		})
		if err != nil {
			return nil, fmt.Errorf("postgres init failed: %w", err)
		}
		a.addCloser("postgres", func() error { store.Close(); return nil })
		if a.cfg.Database.EnsureSchema {
			if err := store.EnsureSchema(ctx); err != nil {
				return nil, fmt.Errorf("postgres schema: %w", err)
			}
		}
		a.readyChecks = append(a.readyChecks, api.ReadyCheck{Name: "postgres", Check: store.Ping})
		sinks = append(sinks, persist.Named{Name: "postgres", Sink: persist.NewArticleSink(store)})
		a.logger.Info("article persistence enabled", zap.String("table", a.cfg.Database.Table))
	}

	blobs, closeBlobs, err := storage.Open(ctx, storage.Config{
		Backend:  a.cfg.Storage.Backend,
		Bucket:   a.cfg.Storage.Bucket,
		Prefix:   a.cfg.Storage.Prefix,
		LocalDir: a.cfg.Storage.Local.BaseDir,
	})
	if err != nil {
		return nil, fmt.Errorf("storage init failed: %w", err)
	}
	a.addCloser("storage", closeBlobs)
	if blobs != nil {
		sinks = append(sinks, persist.Named{Name: "archive", Sink: persist.NewArchiveSink(blobs)})
		a.logger.Info("snapshot archive enabled", zap.String("backend", a.cfg.Storage.Backend))
	}

	notify, err := a.openNotifier(ctx)
	if err != nil {
		return nil, err
	}
	if notify != nil {
		sinks = append(sinks, persist.Named{Name: "notify", Sink: persist.NewNotifySink(notify)})
	}

	if len(sinks) == 0 {
		return persist.Noop{}, nil
	}
	return persist.NewMulti(a.logger.Named("persist"), sinks...), nil
}

// openNotifier returns the publisher for crawl-completed events, or nil when notifications are
// off.
func (a *App) openNotifier(ctx context.Context) (persist.Publisher, error) {
	backend := a.cfg.PubSub.Backend
	if backend == "" && a.cfg.PubSub.ProjectID != "" {
		backend = "pubsub"
	}
	switch backend {
	case "", "none":
		return nil, nil
	case "memory":
		pub := memorypublisher.New()
		a.notifications = pub
		a.logger.Info("crawl notifications recorded in memory", zap.Int("capacity", memorypublisher.DefaultCapacity))
		return pub, nil
	case "pubsub":
		pub, err := pubsubpublisher.Open(ctx, a.cfg.PubSub.ProjectID, a.cfg.PubSub.TopicName)
		if err != nil {
			return nil, fmt.Errorf("pubsub init failed: %w", err)
		}
		a.addCloser("pubsub", pub.Close)
		a.logger.Info("crawl notifications enabled", zap.String("topic", a.cfg.PubSub.TopicName))
		return pub, nil
	default:
		return nil, fmt.Errorf("notify backend %q is not supported", backend)
	}
}
