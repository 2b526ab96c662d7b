// Package redis stores response cache metadata in Redis so that several service replicas
// share short-circuit state.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/JakeFAU/fxnews-crawler/internal/respcache"
)

// DefaultKeyPrefix namespaces meta keys.
const DefaultKeyPrefix = "fxnews:crawl:meta:"

// Connect parses url (redis:// form or bare host:port) and pings the server.
func Connect(ctx context.Context, url string) (*goredis.Client, error) {
	opt, err := goredis.ParseURL(url)
	if err != nil {
		opt = &goredis.Options{Addr: url}
	}
	client := goredis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// MetaStore implements respcache.MetaStore with one string key per request shape, expiring
// through Redis TTLs.
type MetaStore struct {
	client goredis.Cmdable
	prefix string
	now    func() time.Time
}

// NewMetaStore wraps client. An empty prefix uses DefaultKeyPrefix.
func NewMetaStore(client goredis.Cmdable, prefix string, now func() time.Time) *MetaStore {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	if now == nil {
		now = time.Now
	}
	return &MetaStore{client: client, prefix: prefix, now: now}
}

// Get loads the entry for key.
func (s *MetaStore) Get(ctx context.Context, key string) (respcache.Meta, bool, error) {
	raw, err := s.client.Get(ctx, s.prefix+key).Result()
	if errors.Is(err, goredis.Nil) {
		return respcache.Meta{}, false, nil
	}
	if err != nil {
		return respcache.Meta{}, false, fmt.Errorf("get meta: %w", err)
	}
	var meta respcache.Meta
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		return respcache.Meta{}, false, fmt.Errorf("decode meta: %w", err)
	}
	if !meta.ExpiresAt.After(s.now()) {
		return respcache.Meta{}, false, nil
	}
	return meta, true, nil
}

// Put writes meta with a TTL matching its ExpiresAt. Already expired entries are skipped.
func (s *MetaStore) Put(ctx context.Context, key string, meta respcache.Meta) error {
	ttl := meta.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return nil
	}
	blob, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode meta: %w", err)
	}
	if err := s.client.Set(ctx, s.prefix+key, string(blob), ttl).Err(); err != nil {
		return fmt.Errorf("set meta: %w", err)
	}
	return nil
}
