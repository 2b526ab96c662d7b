// Package postgres persists enriched articles in Postgres.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/fxnews-crawler/internal/crawler"
	"github.com/JakeFAU/fxnews-crawler/internal/textnorm"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// DefaultTable holds one row per article link.
const DefaultTable = "news_articles"

// ArticleStoreConfig controls the Postgres connection pool used for article rows.
type ArticleStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type txPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Ping(ctx context.Context) error
	Close()
}

// ArticleStore upserts articles keyed by the SHA-256 of their link.
type ArticleStore struct {
	pool  txPool
	table string
	now   func() time.Time
}

// NewArticleStore connects a pool using cfg.
func NewArticleStore(ctx context.Context, cfg ArticleStoreConfig) (*ArticleStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &ArticleStore{pool: pool, table: table, now: time.Now}, nil
}

// NewArticleStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewArticleStoreWithPool(pool txPool, table string, now func() time.Time) (*ArticleStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	if now == nil {
		now = time.Now
	}
	return &ArticleStore{pool: pool, table: name, now: now}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = DefaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (s *ArticleStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping checks connectivity.
func (s *ArticleStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// EnsureSchema creates the article table when missing.
func (s *ArticleStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	url_hash TEXT PRIMARY KEY,
	url TEXT NOT NULL,
	title TEXT NOT NULL,
	content TEXT NOT NULL,
	summary TEXT NOT NULL,
	category TEXT NOT NULL,
	pairs JSONB NOT NULL,
	sentiment_score DOUBLE PRECISION NOT NULL,
	published_at TIMESTAMPTZ NOT NULL,
	source_group TEXT NOT NULL,
	source_feed TEXT NOT NULL,
	source_domain TEXT NOT NULL,
	crawled_at TIMESTAMPTZ NOT NULL
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create %s: %w", s.table, err)
	}
	return nil
}

// SaveArticles upserts articles in one transaction and returns how many rows were written.
func (s *ArticleStore) SaveArticles(ctx context.Context, articles []crawler.EnrichedArticle) (int, error) {
	if len(articles) == 0 {
		return 0, nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	query := fmt.Sprintf(`
INSERT INTO %s (
	url_hash,
	url,
	title,
	content,
	summary,
	category,
	pairs,
	sentiment_score,
	published_at,
	source_group,
	source_feed,
	source_domain,
	crawled_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13
)
ON CONFLICT (url_hash) DO UPDATE SET
	summary = EXCLUDED.summary,
	category = EXCLUDED.category,
	pairs = EXCLUDED.pairs,
	sentiment_score = EXCLUDED.sentiment_score,
	crawled_at = EXCLUDED.crawled_at`, s.table)

	crawledAt := s.now().UTC()
	written := 0
	for _, a := range articles {
		pairs, err := json.Marshal(a.Pairs)
		if err != nil {
			return 0, fmt.Errorf("marshal pairs: %w", err)
		}
		tag, err := tx.Exec(ctx, query,
			textnorm.HashURL(a.URL),
			a.URL,
			a.Title,
			a.Content,
			a.Summary,
			a.Category,
			pairs,
			a.SentimentScore,
			a.PublishedAt,
			a.SourceGroup,
			a.SourceFeed,
			a.SourceDomain,
			crawledAt,
		)
		if err != nil {
			return 0, fmt.Errorf("upsert article: %w", err)
		}
		written += int(tag.RowsAffected())
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return written, nil
}
