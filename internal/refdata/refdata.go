// Package refdata resolves shared reference entities (substances,
// organizations) by natural key. This is the one place independent document
// pipelines touch shared state, so the resolver serializes its check-then-
// insert and leans on the store's uniqueness constraint as the backstop for
// races it cannot see.
package refdata

import (
	"context"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/agentic-research/strata/internal/store"
)

// Kinds of reference entities known today.
const (
	KindSubstance    = "substance"
	KindOrganization = "organization"
)

// Resolver reuses previously created reference entities by natural key.
// Safe for use by concurrent pipelines. Entities created inside the store's
// pending transaction are only as durable as that transaction: they stay in
// a dirty set until Committed promotes them into the shared cache, and
// Discarded forgets them when the transaction rolls back.
type Resolver struct {
	store store.Store
	cache *lru.Cache[string, int64]
	dirty map[string]int64
	log   *zap.Logger
	mu    sync.Mutex
}

// NewResolver builds a resolver with an LRU of cacheSize resolved keys.
func NewResolver(st store.Store, cacheSize int, logger *zap.Logger) (*Resolver, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cache, err := lru.New[string, int64](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("ref cache: %w", err)
	}
	return &Resolver{store: st, cache: cache, dirty: make(map[string]int64), log: logger}, nil
}

// Resolve returns the id of the reference entity with the given kind and
// natural key, creating it if it does not exist yet. The second return
// reports whether a new entity was created by this call.
func (r *Resolver) Resolve(ctx context.Context, kind, key, label string) (int64, bool, error) {
	if key == "" {
		return 0, false, fmt.Errorf("reference %s: empty natural key", kind)
	}
	cacheKey := kind + "|" + key

	if id, ok := r.cache.Get(cacheKey); ok {
		return id, false, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Re-check under the lock; another pipeline may have resolved it.
	if id, ok := r.cache.Get(cacheKey); ok {
		return id, false, nil
	}
	if id, ok := r.dirty[cacheKey]; ok {
		return id, false, nil
	}

	id, found, err := r.store.GetRef(ctx, kind, key)
	if err != nil {
		return 0, false, err
	}
	if found {
		// Rows created in the pending transaction all sit in the dirty
		// set, so a lookup hit is committed data and safe to cache.
		r.cache.Add(cacheKey, id)
		return id, false, nil
	}

	id, err = r.store.UpsertRef(ctx, kind, key, label)
	if err != nil {
		return 0, false, err
	}
	r.dirty[cacheKey] = id
	r.log.Debug("created reference entity",
		zap.String("kind", kind), zap.String("key", key), zap.Int64("id", id))
	return id, true, nil
}

// Committed promotes entities created in the just-committed transaction
// into the shared cache.
func (r *Resolver) Committed() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, id := range r.dirty {
		r.cache.Add(k, id)
	}
	r.dirty = make(map[string]int64)
}

// Discarded forgets entities whose transaction rolled back; a later
// Resolve recreates them.
func (r *Resolver) Discarded() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dirty = make(map[string]int64)
}
