// Package storage selects the blob store that receives archived crawl snapshots.
package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/JakeFAU/fxnews-crawler/internal/storage/gcs"
	"github.com/JakeFAU/fxnews-crawler/internal/storage/local"
	"github.com/JakeFAU/fxnews-crawler/internal/storage/memory"
)

// Supported backends.
const (
	BackendNone   = "none"
	BackendMemory = "memory"
	BackendLocal  = "local"
	BackendGCS    = "gcs"
)

// BlobStore writes an object and returns a URI that locates it.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Config selects and configures a backend.
type Config struct {
	Backend  string
	Bucket   string
	Prefix   string
	LocalDir string
}

// Open builds the configured store. A nil store with a nil error means archiving is disabled.
// The returned close function is never nil.
func Open(ctx context.Context, cfg Config) (BlobStore, func() error, error) {
	noop := func() error { return nil }
	var (
		store   BlobStore
		closeFn = noop
	)
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", BackendNone:
		return nil, noop, nil
	case BackendMemory:
		store = memory.NewBlobStore()
	case BackendLocal:
		s, err := local.New(local.Config{BaseDir: cfg.LocalDir})
		if err != nil {
			return nil, noop, fmt.Errorf("open local store: %w", err)
		}
		store = s
	case BackendGCS:
		s, err := gcs.Open(ctx, gcs.Config{Bucket: cfg.Bucket})
		if err != nil {
			return nil, noop, fmt.Errorf("open gcs store: %w", err)
		}
		store, closeFn = s, s.Close
	default:
		return nil, noop, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
	return WithPrefix(store, cfg.Prefix), closeFn, nil
}

// WithPrefix returns a store that writes every object under prefix.
func WithPrefix(store BlobStore, prefix string) BlobStore {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" || store == nil {
		return store
	}
	return prefixed{store: store, prefix: prefix}
}

type prefixed struct {
	store  BlobStore
	prefix string
}

func (p prefixed) PutObject(ctx context.Context, name string, contentType string, r io.Reader) (string, error) {
	return p.store.PutObject(ctx, path.Join(p.prefix, name), contentType, r)
}
