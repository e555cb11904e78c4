package dedup

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"FeedCurator/internal/ports"
)

// Index is a fast existence hint for seen fingerprints. The LRU can forget
// old entries; the store's UNIQUE constraint remains the authority, so a
// stale miss never creates a second item.
type Index struct {
	cache *lru.Cache[string, struct{}]
	store ports.ItemStore
}

// New builds an index over the item store with a bounded cache.
func New(size int, store ports.ItemStore) (*Index, error) {
	cache, err := lru.New[string, struct{}](size)
	if err != nil {
		return nil, fmt.Errorf("new lru: %w", err)
	}
	return &Index{cache: cache, store: store}, nil
}

// Seen reports whether the fingerprint was already ingested, consulting the
// cache first and falling back to the store.
func (i *Index) Seen(ctx context.Context, fingerprint string) (bool, error) {
	if i.cache.Contains(fingerprint) {
		return true, nil
	}

	exists, err := i.store.Exists(ctx, fingerprint)
	if err != nil {
		return false, fmt.Errorf("check store: %w", err)
	}
	if exists {
		i.cache.Add(fingerprint, struct{}{})
	}

	return exists, nil
}

// Mark records a freshly ingested fingerprint in the cache.
func (i *Index) Mark(fingerprint string) {
	i.cache.Add(fingerprint, struct{}{})
}
